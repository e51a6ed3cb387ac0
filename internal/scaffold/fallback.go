package scaffold

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/jorge-barreto/speckit/internal/stages"
)

// Paths the default template writes, relative to the project root. They
// match the config defaults so the generated config can stay minimal.
const (
	specDir      = "docs"
	evidenceDir  = "docs/SPEC-OPS-004-integrated-coder-hooks/evidence"
	guardrailDir = "scripts/spec_ops_004/commands"
)

const configTemplate = `name: my-project
spec-pattern: 'SPEC-[A-Z]+-\d+'

# Paths below are the defaults; uncomment to change them.
# spec-dir: docs
# evidence-dir: docs/SPEC-OPS-004-integrated-coder-hooks/evidence
# guardrail-dir: scripts/spec_ops_004/commands

capture-mode: prompts_only
phase1-gate-mode: warn
auto-commit: false

agents:
  - name: claude
    model: opus

# stage-agents:
#   implement: [claude]

stage0:
  timeout: 300
  # notebook-url: http://localhost:8080/synthesize
`

const pipelineTemplate = `# Stage selection defaults for every spec in this project.
# A spec can override these in <spec-dir>/<spec>/pipeline.toml.
# See: speckit docs pipeline

[pipeline.defaults]
enabled_stages = ["plan", "tasks", "implement", "validate", "audit", "unlock"]

[pipeline.defaults.quality_gates]
enabled = true
auto_resolve = true

# [pipeline.defaults.skip_reasons]
# audit = "Covered by the release checklist"
`

const constitutionTemplate = `# Constitution

## Principles

- Specs describe behavior; plans describe how.
- Every change ships with tests that exercise it.

## Guardrails

- No stage advances without passing guardrail telemetry.
- Secrets never enter the repository or the evidence tree.
`

const policyTemplate = `# Policy captured at the start of every run.
id = "default"
version = 1

[review]
min_agents = 1
require_audit = true
`

const gitignoreTemplate = `runs/
logs/
*.db
`

// guardrailCheck describes the stub check a default guardrail performs.
type guardrailCheck struct {
	Requires string // document that must exist under the spec dir
	Pass     string // status written when it does
	Fields   string // stage fields; $status expands to the outcome

	Stage, SpecDir, EvidenceDir string
}

var guardrailChecks = map[stages.Stage]guardrailCheck{
	stages.Plan: {
		Requires: "spec.md",
		Pass:     "passed",
		Fields:   `"baseline": {"status": "$status"},` + "\n" + `  "hooks": {"session.start": "ok"}`,
	},
	stages.Tasks: {
		Requires: "plan.md",
		Pass:     "ok",
		Fields:   `"tool": {"status": "$status"}`,
	},
	stages.Implement: {
		Requires: "tasks.md",
		Pass:     "locked",
		Fields:   `"lock_status": "$status",` + "\n" + `  "hook_status": "ok"`,
	},
	stages.Validate: {
		Requires: "implement.md",
		Pass:     "passed",
		Fields:   `"scenarios": [{"name": "implementation recorded", "status": "$status"}]`,
	},
	stages.Audit: {
		Requires: "validate.md",
		Pass:     "passed",
		Fields:   `"scenarios": [{"name": "validation recorded", "status": "$status"}]`,
	},
	stages.Unlock: {
		Requires: "audit.md",
		Pass:     "unlocked",
		Fields:   `"unlock_status": "$status"`,
	},
}

var guardrailTemplate = template.Must(template.New("guardrail").Parse(`#!/usr/bin/env bash
# Guardrail for the {{.Stage}} stage. Replace the check below with
# project-specific ones; see: speckit docs telemetry
set -euo pipefail

spec="$1"
root="${SPECKIT_PROJECT_ROOT:-$(pwd)}"
spec_dir="{{.SpecDir}}/$spec"
out="$root/{{.EvidenceDir}}/commands/$spec"
mkdir -p "$out"

status="{{.Pass}}"
if [ ! -f "$root/$spec_dir/{{.Requires}}" ]; then
  echo "missing $spec_dir/{{.Requires}}" >&2
  status="failed"
fi

file="$out/{{.Stage}}_$(date -u +%Y%m%dT%H%M%SZ).json"
cat > "$file" <<JSON
{
  "command": "spec-ops-{{.Stage}}",
  "specId": "$spec",
  "sessionId": "${SPECKIT_RUN_ID:-manual}",
  "timestamp": "$(date -u +%Y-%m-%dT%H:%M:%SZ)",
  "artifacts": ["$spec_dir/{{.Requires}}"],
  {{.Fields}}
}
JSON
echo "telemetry: $file"
`))

// GuardrailScript renders the default guardrail script for a stage.
func GuardrailScript(s stages.Stage) (string, error) {
	check, ok := guardrailChecks[s]
	if !ok {
		return "", fmt.Errorf("no guardrail template for stage %q", s)
	}
	check.Stage, check.SpecDir, check.EvidenceDir = string(s), specDir, evidenceDir
	var b strings.Builder
	if err := guardrailTemplate.Execute(&b, check); err != nil {
		return "", err
	}
	return b.String(), nil
}

type file struct {
	path    string
	content string
	mode    os.FileMode
}

// defaultFiles returns every file of the default template.
func defaultFiles() ([]file, error) {
	files := []file{
		{".speckit/config.yaml", configTemplate, 0644},
		{".speckit/pipeline.toml", pipelineTemplate, 0644},
		{".speckit/.gitignore", gitignoreTemplate, 0644},
		{"memory/constitution.md", constitutionTemplate, 0644},
		{"memory/policy.toml", policyTemplate, 0644},
	}
	for _, s := range stages.All() {
		script, err := GuardrailScript(s)
		if err != nil {
			return nil, err
		}
		files = append(files, file{path.Join(guardrailDir, s.GuardrailCommand()+".sh"), script, 0755})
	}
	return files, nil
}

// writeDefaults writes the default template. Existing constitution,
// policy and guardrail files are kept.
func writeDefaults(targetDir string) ([]string, error) {
	files, err := defaultFiles()
	if err != nil {
		return nil, err
	}
	var written []string
	for _, f := range files {
		full := filepath.Join(targetDir, filepath.FromSlash(f.path))
		if !strings.HasPrefix(f.path, ".speckit/") {
			if _, err := os.Stat(full); err == nil {
				continue
			}
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return written, fmt.Errorf("creating directory for %s: %w", f.path, err)
		}
		if err := os.WriteFile(full, []byte(f.content), f.mode); err != nil {
			return written, fmt.Errorf("writing %s: %w", f.path, err)
		}
		written = append(written, f.path)
	}
	return written, nil
}
