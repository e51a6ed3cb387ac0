package guardrail

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jorge-barreto/speckit/internal/stages"
	"github.com/jorge-barreto/speckit/internal/state"
)

type fixture struct {
	root string
	ev   state.Evidence
	eval *Evaluator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	ev := state.Evidence{Root: filepath.Join(root, "evidence")}
	return &fixture{
		root: root,
		ev:   ev,
		eval: &Evaluator{Source: DirSource{Evidence: ev}, ProjectRoot: root},
	}
}

func (f *fixture) writeTelemetry(t *testing.T, spec, name, body string, mod time.Time) string {
	t.Helper()
	dir := f.ev.CommandsDir(spec)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	if !mod.IsZero() {
		if err := os.Chtimes(p, mod, mod); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func (f *fixture) touch(t *testing.T, rel string) {
	t.Helper()
	p := filepath.Join(f.root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestEvaluate_NoTelemetry(t *testing.T) {
	f := newFixture(t)
	_, err := f.eval.Evaluate("SPEC-1", stages.Plan)
	if !errors.Is(err, ErrNoTelemetry) {
		t.Fatalf("expected ErrNoTelemetry, got %v", err)
	}

	// A file for another stage does not count.
	f.writeTelemetry(t, "SPEC-1", "tasks_1.json", `{}`, time.Time{})
	_, err = f.eval.Evaluate("SPEC-1", stages.Plan)
	if !errors.Is(err, ErrNoTelemetry) {
		t.Fatalf("expected ErrNoTelemetry, got %v", err)
	}
}

func TestEvaluate_PlanPass(t *testing.T) {
	f := newFixture(t)
	f.touch(t, "docs/SPEC-1/plan.md")
	path := f.writeTelemetry(t, "SPEC-1", "plan_2026.json", `{
		"command": "spec-ops-plan",
		"specId": "SPEC-1",
		"sessionId": "s1",
		"timestamp": "2026-01-01T00:00:00Z",
		"baseline": {"status": "passed"},
		"hooks": {"session.start": "ok"},
		"artifacts": ["docs/SPEC-1/plan.md"]
	}`, time.Time{})

	out, err := f.eval.Evaluate("SPEC-1", stages.Plan)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("expected success, failures = %v", out.Failures)
	}
	if out.Summary != "Baseline passed, session.start ok | 1 artifacts" {
		t.Fatalf("Summary = %q", out.Summary)
	}
	if out.EvidencePath != path {
		t.Fatalf("EvidencePath = %q", out.EvidencePath)
	}
}

func TestEvaluate_PicksNewestByModTime(t *testing.T) {
	f := newFixture(t)
	f.touch(t, "a.txt")
	old := time.Now().Add(-time.Hour)
	f.writeTelemetry(t, "SPEC-1", "tasks_b.json", `{"command":"spec-ops-tasks","specId":"S","sessionId":"s","timestamp":"t","tool":{"status":"failed"},"artifacts":["a.txt"]}`, old)
	newest := f.writeTelemetry(t, "SPEC-1", "tasks_a.json", `{"command":"spec-ops-tasks","specId":"S","sessionId":"s","timestamp":"t","tool":{"status":"ok"},"artifacts":["a.txt"]}`, time.Now())

	out, err := f.eval.Evaluate("SPEC-1", stages.Tasks)
	if err != nil {
		t.Fatal(err)
	}
	if out.EvidencePath != newest || !out.Success {
		t.Fatalf("got %+v", out)
	}
}

func TestEvaluate_ImplementFailures(t *testing.T) {
	f := newFixture(t)
	f.writeTelemetry(t, "SPEC-1", "implement_1.json", `{
		"command": "spec-ops-implement",
		"specId": "SPEC-1",
		"sessionId": "s1",
		"timestamp": "t",
		"lock_status": "unlocked",
		"hook_status": "failed",
		"artifacts": [{"path": "missing.txt"}, {}]
	}`, time.Time{})

	out, err := f.eval.Evaluate("SPEC-1", stages.Implement)
	if err != nil {
		t.Fatal(err)
	}
	if out.Success {
		t.Fatal("expected failure")
	}
	joined := strings.Join(out.Failures, "\n")
	for _, want := range []string{
		"SPEC lock status: unlocked",
		"file_after_write hook: failed",
		"Artifact #1 not found at",
		"Artifact #2 missing path",
		"No evidence artifacts found on disk",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("failures missing %q:\n%s", want, joined)
		}
	}
}

func TestEvaluate_ValidateScenariosAndHAL(t *testing.T) {
	f := newFixture(t)
	f.writeTelemetry(t, "SPEC-1", "validate_1.json", `{
		"command": "spec-ops-validate",
		"specId": "SPEC-1",
		"sessionId": "s1",
		"timestamp": "t",
		"scenarios": [
			{"name": "login", "status": "passed"},
			{"name": "export", "status": "failed"},
			{"name": "perf", "status": "skipped"}
		],
		"hal": {"summary": {"status": "failed", "failed_checks": ["health", ""]}}
	}`, time.Time{})

	out, err := f.eval.Evaluate("SPEC-1", stages.Validate)
	if err != nil {
		t.Fatal(err)
	}
	if out.Success {
		t.Fatal("expected failure")
	}
	if out.Summary != "1 of 3 scenarios passed; HAL failed" {
		t.Fatalf("Summary = %q", out.Summary)
	}
	want := []string{"export: failed", "HAL failed checks: health"}
	if len(out.Failures) != len(want) {
		t.Fatalf("Failures = %v", out.Failures)
	}
	for i := range want {
		if out.Failures[i] != want[i] {
			t.Errorf("Failures[%d] = %q, want %q", i, out.Failures[i], want[i])
		}
	}
}

func TestEvaluate_ValidateNoScenarios(t *testing.T) {
	f := newFixture(t)
	f.writeTelemetry(t, "SPEC-1", "validate_1.json", `{
		"command": "spec-ops-validate", "specId": "S", "sessionId": "s", "timestamp": "t",
		"scenarios": []
	}`, time.Time{})
	out, err := f.eval.Evaluate("SPEC-1", stages.Validate)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Summary != "No validation scenarios reported" {
		t.Fatalf("got %+v", out)
	}
}

func TestEvaluate_SchemaViolations(t *testing.T) {
	f := newFixture(t)
	f.writeTelemetry(t, "SPEC-1", "unlock_1.json", `{
		"command": "spec-ops-plan",
		"sessionId": "",
		"unlock_status": "unlocked",
		"artifacts": []
	}`, time.Time{})

	out, err := f.eval.Evaluate("SPEC-1", stages.Unlock)
	if err != nil {
		t.Fatal(err)
	}
	if out.Success {
		t.Fatal("expected failure")
	}
	joined := strings.Join(out.Failures, "\n")
	for _, want := range []string{
		"Unexpected command 'spec-ops-plan' (expected spec-ops-unlock)",
		"Missing required string field specId",
		"Missing required string field sessionId",
		"Missing required string field timestamp",
		"Telemetry artifacts array is empty",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("failures missing %q:\n%s", want, joined)
		}
	}
}

func TestEvaluate_PolicyStatus(t *testing.T) {
	f := newFixture(t)
	f.touch(t, "out.txt")
	f.writeTelemetry(t, "SPEC-1", "audit_1.json", `{
		"command": "spec-ops-audit", "specId": "S", "sessionId": "s", "timestamp": "t",
		"scenarios": [{"name": "a", "status": "passed"}],
		"policy": {"prefilter": {"status": "passed"}, "final": {"status": "failed"}},
		"artifacts": ["out.txt"]
	}`, time.Time{})

	out, err := f.eval.Evaluate("SPEC-1", stages.Audit)
	if err != nil {
		t.Fatal(err)
	}
	if out.Success {
		t.Fatal("expected failure")
	}
	if len(out.Failures) != 1 || out.Failures[0] != "Policy final status: failed" {
		t.Fatalf("Failures = %v", out.Failures)
	}
	if out.Summary != "1 of 1 scenarios passed | 1 artifacts" {
		t.Fatalf("Summary = %q", out.Summary)
	}
}

func TestEvaluate_MalformedJSON(t *testing.T) {
	f := newFixture(t)
	f.writeTelemetry(t, "SPEC-1", "plan_1.json", `{not json`, time.Time{})
	_, err := f.eval.Evaluate("SPEC-1", stages.Plan)
	if err == nil || errors.Is(err, ErrNoTelemetry) {
		t.Fatalf("expected parse error, got %v", err)
	}
}
