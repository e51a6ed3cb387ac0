package scaffold

import "github.com/jorge-barreto/speckit/internal/docs"

// buildInitPrompt constructs the full prompt for AI-powered init.
// The projectContext string is the rendered output of contextgather.Render().
func buildInitPrompt(projectContext string) string {
	return initPromptPrefix + docs.SchemaReference() + initPromptMiddle + projectContext + initPromptSuffix
}

const initPromptPrefix = `You are tailoring a speckit project. speckit drives a spec through six
stages (plan, tasks, implement, validate, audit, unlock). Before each stage
a guardrail script checks the project and writes telemetry JSON; agents
then work from a stage prompt.

Your job: analyze the project context below and generate stage prompts and
guardrail scripts that fit this project.

## speckit Reference

`

const initPromptMiddle = `

## Example Output

` + "```" + `markdown file=.speckit/prompts/validate.md
You are validating the implementation of spec ${SPEC_ID}.

Run ` + "`go test ./... -count=1`" + ` from ${WORK_DIR} and check each acceptance
criterion in ${SPEC_PATH}. Respond with a fenced json block:
{"stage": "validate", "content": "summary", "risks": [{"risk": "...", "mitigation": "..."}]}
` + "```" + `

` + "```" + `bash file=scripts/spec_ops_004/commands/spec-ops-validate.sh
#!/usr/bin/env bash
set -euo pipefail
spec="$1"
root="${SPECKIT_PROJECT_ROOT:-$(pwd)}"
out="$root/docs/SPEC-OPS-004-integrated-coder-hooks/evidence/commands/$spec"
mkdir -p "$out"
status=passed
(cd "$root" && go test ./... -count=1) || status=failed
cat > "$out/validate_$(date -u +%Y%m%dT%H%M%SZ).json" <<JSON
{"command": "spec-ops-validate", "specId": "$spec",
 "sessionId": "${SPECKIT_RUN_ID:-manual}",
 "timestamp": "$(date -u +%Y-%m-%dT%H:%M:%SZ)",
 "scenarios": [{"name": "go test", "status": "$status"}]}
JSON
` + "```" + `

## Project Context

`

const initPromptSuffix = `

## Instructions

1. For each stage where the project warrants it, write a prompt override at
   ` + "`.speckit/prompts/<stage>.md`" + `. Prompts may use ${SPEC_ID}, ${SPEC_PATH},
   ${SPEC_DIR}, ${WORK_DIR}, ${PROJECT_ROOT} and ${TASK_BRIEF}. Each prompt
   must ask for a single fenced json block whose "stage" field names the stage.

2. Write guardrail scripts at
   ` + "`scripts/spec_ops_004/commands/spec-ops-<stage>.sh`" + ` that run the project's
   real checks (test command, linter, build) and write telemetry following
   the Guardrail Telemetry reference exactly. Detect the commands from the
   project files (e.g. ` + "`go test ./...`" + ` for Go, ` + "`npm test`" + ` for Node,
   ` + "`pytest`" + ` for Python, ` + "`make test`" + ` if a Makefile exists).

Stages you do not write files for keep their defaults.

## Output Format

Produce ONLY fenced code blocks with ` + "`file=`" + ` annotations. No explanation or
text outside the code blocks. Paths are relative to the project root and MUST
start with ` + "`.speckit/prompts/`" + ` or ` + "`scripts/spec_ops_004/commands/`" + `.
`

const retryFeedback = `

IMPORTANT: Your previous attempt failed with this error: %v

Try again. Output ONLY fenced code blocks with file= annotations, at least one
of them. Prompt files are named <stage>.md and guardrail scripts
spec-ops-<stage>.sh, where <stage> is one of plan, tasks, implement,
validate, audit or unlock.`
