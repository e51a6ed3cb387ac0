package guardrail

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jorge-barreto/speckit/internal/stages"
)

// Outcome is the verdict of one guardrail evaluation. It is never mutated
// after Evaluate returns it.
type Outcome struct {
	Success      bool
	Summary      string
	EvidencePath string
	Failures     []string
}

// Evaluator turns the latest guardrail telemetry for a stage into an Outcome.
type Evaluator struct {
	Source      ArtifactSource
	ProjectRoot string
}

// Evaluate reads, parses and checks the newest telemetry for the stage.
// It returns an error only when the telemetry cannot be located or read;
// every content problem becomes a failure on the Outcome.
func (e *Evaluator) Evaluate(specID string, stage stages.Stage) (*Outcome, error) {
	art, err := e.Source.LatestArtifact(specID, stage.TelemetryPrefix())
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(art.Data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", art.Path, err)
	}

	success, summary, failures := evaluateStatuses(stage, doc)
	if schema := validateSchema(stage, doc); len(schema) > 0 {
		failures = append(failures, schema...)
		success = false
	}
	if stage.ProducesFiles() {
		missing, found := e.checkEvidence(doc)
		if found > 0 {
			summary = fmt.Sprintf("%s | %d artifacts", summary, found)
		}
		if len(missing) > 0 {
			failures = append(failures, missing...)
			success = false
		}
	}

	return &Outcome{
		Success:      success,
		Summary:      summary,
		EvidencePath: art.Path,
		Failures:     failures,
	}, nil
}

func evaluateStatuses(stage stages.Stage, doc map[string]any) (bool, string, []string) {
	var failures []string
	var summary string

	switch stage {
	case stages.Plan:
		baseline := stringAt(doc, "baseline", "status")
		hook := stringAt(doc, "hooks", "session.start")
		if baseline != "passed" && baseline != "skipped" {
			failures = append(failures, "Baseline audit status: "+baseline)
		}
		if hook != "ok" {
			failures = append(failures, "session.start hook: "+hook)
		}
		summary = fmt.Sprintf("Baseline %s, session.start %s", baseline, hook)

	case stages.Tasks:
		status := stringAt(doc, "tool", "status")
		if status != "ok" {
			failures = append(failures, "tasks hook status: "+status)
		}
		summary = "Tasks automation status: " + status

	case stages.Implement:
		lock := stringAt(doc, "lock_status")
		hook := stringAt(doc, "hook_status")
		if lock != "locked" {
			failures = append(failures, "SPEC lock status: "+lock)
		}
		if hook != "ok" {
			failures = append(failures, "file_after_write hook: "+hook)
		}
		summary = fmt.Sprintf("Lock status %s, file hook %s", lock, hook)

	case stages.Validate, stages.Audit:
		scenarios, _ := doc["scenarios"].([]any)
		passed := 0
		for _, raw := range scenarios {
			sc, _ := raw.(map[string]any)
			name := stringAt(sc, "name")
			status := stringAt(sc, "status")
			switch status {
			case "passed":
				passed++
			case "skipped":
			default:
				failures = append(failures, fmt.Sprintf("%s: %s", name, status))
			}
		}
		if len(scenarios) == 0 {
			summary = "No validation scenarios reported"
		} else {
			summary = fmt.Sprintf("%d of %d scenarios passed", passed, len(scenarios))
		}
		if hal, ok := lookup(doc, "hal", "summary").(map[string]any); ok {
			if status, ok := hal["status"].(string); ok {
				summary = fmt.Sprintf("%s; HAL %s", summary, status)
				if status == "failed" {
					if checks := nonEmptyStrings(hal["failed_checks"]); len(checks) > 0 {
						failures = append(failures, "HAL failed checks: "+strings.Join(checks, ", "))
					}
				}
			}
		}

	case stages.Unlock:
		status := stringAt(doc, "unlock_status")
		if status != "unlocked" {
			failures = append(failures, "Unlock status: "+status)
		}
		summary = "Unlock status: " + status
	}

	for _, p := range []struct{ key, label string }{
		{"prefilter", "Policy prefilter"},
		{"final", "Policy final"},
	} {
		if lookup(doc, "policy", p.key) == nil {
			continue
		}
		status := stringAt(doc, "policy", p.key, "status")
		if status != "passed" && status != "skipped" {
			failures = append(failures, fmt.Sprintf("%s status: %s", p.label, status))
		}
	}

	return len(failures) == 0, summary, failures
}

func validateSchema(stage stages.Stage, doc map[string]any) []string {
	var failures []string

	switch cmd, ok := doc["command"].(string); {
	case !ok:
		failures = append(failures, "Missing required string field command")
	case cmd != stage.GuardrailCommand():
		failures = append(failures, fmt.Sprintf("Unexpected command '%s' (expected %s)", cmd, stage.GuardrailCommand()))
	}
	for _, field := range []string{"specId", "sessionId", "timestamp"} {
		if s, ok := doc[field].(string); !ok || strings.TrimSpace(s) == "" {
			failures = append(failures, "Missing required string field "+field)
		}
	}

	raw, present := doc["artifacts"]
	arr, isArray := raw.([]any)
	switch {
	case stage == stages.Validate || stage == stages.Audit:
		if present && !isArray {
			failures = append(failures, "Field artifacts must be an array when present")
		}
	case !present:
		failures = append(failures, "Missing required array field artifacts")
	case !isArray:
		failures = append(failures, "Field artifacts must be an array")
	case len(arr) == 0:
		failures = append(failures, "Telemetry artifacts array is empty")
	}

	switch stage {
	case stages.Plan:
		if _, ok := doc["baseline"].(map[string]any); !ok {
			failures = append(failures, "Missing required object field baseline")
		}
		if _, ok := doc["hooks"].(map[string]any); !ok {
			failures = append(failures, "Missing required object field hooks")
		}
	case stages.Tasks:
		if _, ok := doc["tool"].(map[string]any); !ok {
			failures = append(failures, "Missing required object field tool")
		}
	case stages.Implement:
		for _, f := range []string{"lock_status", "hook_status"} {
			if _, ok := doc[f].(string); !ok {
				failures = append(failures, "Missing required string field "+f)
			}
		}
	case stages.Validate, stages.Audit:
		if _, ok := doc["scenarios"].([]any); !ok {
			failures = append(failures, "Missing required array field scenarios")
		}
	case stages.Unlock:
		if _, ok := doc["unlock_status"].(string); !ok {
			failures = append(failures, "Missing required string field unlock_status")
		}
	}
	return failures
}

// checkEvidence stats each declared artifact and returns failures plus the
// number found on disk.
func (e *Evaluator) checkEvidence(doc map[string]any) ([]string, int) {
	raw, ok := doc["artifacts"]
	if !ok {
		return []string{"No evidence artifacts recorded"}, 0
	}
	arr, ok := raw.([]any)
	if !ok {
		return []string{"Telemetry artifacts field is not an array"}, 0
	}
	if len(arr) == 0 {
		return []string{"Telemetry artifacts array is empty"}, 0
	}

	results := make([]string, len(arr))
	exists := make([]bool, len(arr))
	var g errgroup.Group
	g.SetLimit(8)
	for i, item := range arr {
		var p string
		switch v := item.(type) {
		case string:
			p = v
		case map[string]any:
			p, _ = v["path"].(string)
		}
		if p == "" {
			results[i] = fmt.Sprintf("Artifact #%d missing path", i+1)
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(e.ProjectRoot, p)
		}
		g.Go(func() error {
			if _, err := os.Stat(p); err == nil {
				exists[i] = true
			} else {
				results[i] = fmt.Sprintf("Artifact #%d not found at %s", i+1, p)
			}
			return nil
		})
	}
	_ = g.Wait()

	var failures []string
	found := 0
	for i := range arr {
		if exists[i] {
			found++
		} else if results[i] != "" {
			failures = append(failures, results[i])
		}
	}
	if found == 0 {
		failures = append(failures, "No evidence artifacts found on disk")
	}
	return failures, found
}

func lookup(v any, path ...string) any {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}

// stringAt returns the string at path, or "unknown" when absent.
func stringAt(v any, path ...string) string {
	if s, ok := lookup(v, path...).(string); ok {
		return s
	}
	return "unknown"
}

func nonEmptyStrings(v any) []string {
	arr, _ := v.([]any)
	var out []string
	for _, item := range arr {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
