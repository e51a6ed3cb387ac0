package gates

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jorge-barreto/speckit/internal/capsule"
	"github.com/jorge-barreto/speckit/internal/config"
	"github.com/jorge-barreto/speckit/internal/state"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *capsule.BoltStore {
	t.Helper()
	s, err := capsule.Open(filepath.Join(t.TempDir(), "capsule.db"), "ws")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestConstitutionReadiness(t *testing.T) {
	dir := t.TempDir()
	if got := ConstitutionReadiness(filepath.Join(dir, "missing.md")); len(got) != 1 || got[0] != msgNoConstitution {
		t.Fatalf("missing: %v", got)
	}

	empty := filepath.Join(dir, "empty.md")
	writeFile(t, empty, "\n\n")
	if got := ConstitutionReadiness(empty); got[0] != msgNoConstitution {
		t.Fatalf("empty: %v", got)
	}

	noMem := filepath.Join(dir, "nomem.md")
	writeFile(t, noMem, "# Constitution\n\nTBD\n")
	if got := ConstitutionReadiness(noMem); len(got) != 1 || got[0] != msgNoMemories {
		t.Fatalf("no memories: %v", got)
	}

	partial := filepath.Join(dir, "partial.md")
	writeFile(t, partial, "## Principles\n- Small diffs\n")
	if got := ConstitutionReadiness(partial); len(got) != 1 || got[0] != msgNoGuardrails {
		t.Fatalf("partial: %v", got)
	}

	full := filepath.Join(dir, "full.md")
	writeFile(t, full, "## Principles\n- Small diffs\n\n## Guardrails\n* Never push to main\n")
	if got := ConstitutionReadiness(full); len(got) != 0 {
		t.Fatalf("full: %v", got)
	}
}

func TestCheckConfiguration_Modes(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "constitution.md")

	if d := CheckConfiguration(config.GateSkip, missing); d.Verdict != Allow {
		t.Fatalf("skip: %+v", d)
	}

	d := CheckConfiguration(config.GateWarn, missing)
	if d.Verdict != Warn || !d.Proceed() {
		t.Fatalf("warn: %+v", d)
	}
	if last := d.Messages[len(d.Messages)-1]; last != "Run /speckit.constitution to configure." {
		t.Fatalf("last warn line = %q", last)
	}

	d = CheckConfiguration(config.GateBlock, missing)
	if d.Verdict != Abort || d.Proceed() {
		t.Fatalf("block: %+v", d)
	}
	if d.Reason != `Pipeline aborted. Set phase1_gate_mode = "warn" to proceed without constitution.` {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestCheckIntake_AbsentPauses(t *testing.T) {
	d, p := CheckIntake(openStore(t), "SPEC-1")
	if d.Verdict != Pause || p != nil {
		t.Fatalf("decision = %+v", d)
	}
}

func TestCheckIntake_RecordedAllows(t *testing.T) {
	s := openStore(t)
	rec, err := RecordIntake(s, "SPEC-1", "intake", []byte("# Brief"), testTime)
	if err != nil {
		t.Fatal(err)
	}
	d, p := CheckIntake(s, "SPEC-1")
	if d.Verdict != Allow || p.BriefURI != rec.BriefURI {
		t.Fatalf("decision = %+v, payload = %+v", d, p)
	}
}

func TestCheckIntake_DanglingBriefPauses(t *testing.T) {
	s := openStore(t)
	payload, _ := json.Marshal(capsule.IntakeCompletedPayload{
		SpecID:   "SPEC-1",
		BriefURI: "mv2://ws/SPEC-1/intake/artifact/intake/brief.md",
	})
	if _, err := s.EmitEvent(capsule.Event{Type: capsule.EventIntakeCompleted, SpecID: "SPEC-1", Payload: payload}); err != nil {
		t.Fatal(err)
	}
	d, p := CheckIntake(s, "SPEC-1")
	if d.Verdict != Pause {
		t.Fatalf("decision = %+v", d)
	}
	if p == nil || !strings.Contains(d.Reason, p.BriefURI) {
		t.Fatalf("reason should name the dangling uri: %q", d.Reason)
	}
}

func TestCheckIntake_NoStoreWarns(t *testing.T) {
	d, _ := CheckIntake(nil, "SPEC-1")
	if d.Verdict != Warn {
		t.Fatalf("decision = %+v", d)
	}
}

func TestSpecFromAnswers(t *testing.T) {
	m := SpecFromAnswers("SPEC-1", "run-1", map[string]string{
		"goal":        "Ship export",
		"constraints": "No API changes, , Keep tests green",
		"delegation":  "C",
	}, ElicitInteractive, 1500*time.Millisecond, testTime)

	if m.Goal != "Ship export" || len(m.Constraints) != 2 {
		t.Fatalf("spec = %+v", m)
	}
	if len(m.AcceptanceCriteria) != 1 || m.AcceptanceCriteria[0] != "All tests pass" {
		t.Fatalf("acceptance default = %v", m.AcceptanceCriteria)
	}
	if m.DelegationBounds.MaxIterationsWithoutCheck != 10 || !m.DelegationBounds.AutoApproveFileWrites {
		t.Fatalf("bounds = %+v", m.DelegationBounds)
	}
	if m.DurationMS != 1500 || m.Version != MaieuticVersion {
		t.Fatalf("metadata = %+v", m)
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}

	empty := SpecFromAnswers("SPEC-1", "run-1", nil, ElicitPreSupplied, 0, testTime)
	if empty.Goal != "Not specified" {
		t.Fatalf("goal default = %q", empty.Goal)
	}
}

func TestBoundsFromAnswer(t *testing.T) {
	if b := BoundsFromAnswer("All safe operations"); b.MaxIterationsWithoutCheck != 10 {
		t.Fatalf("all safe = %+v", b)
	}
	if b := BoundsFromAnswer("d"); len(b.RequireApprovalFor) != 1 || b.RequireApprovalFor[0] != "*" {
		t.Fatalf("nothing = %+v", b)
	}
	if b := BoundsFromAnswer("whatever"); b.AutoApproveFileWrites || b.MaxIterationsWithoutCheck != 0 {
		t.Fatalf("unknown = %+v", b)
	}
}

func TestPersistMaieutic_CaptureModes(t *testing.T) {
	ev := state.Evidence{Root: t.TempDir()}
	s := openStore(t)
	m := SpecFromAnswers("SPEC-1", "run-1", map[string]string{"goal": "x"}, ElicitInteractive, 0, testTime)

	path, err := PersistMaieutic(m, config.CaptureNone, ev, s)
	if err != nil || path != "" {
		t.Fatalf("none: path=%q err=%v", path, err)
	}
	if HasMaieutic(ev, "SPEC-1") {
		t.Fatal("capture none must not write evidence")
	}

	path, err = PersistMaieutic(m, config.CapturePromptsOnly, ev, s)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "maieutic_spec_20260301_120000.json" {
		t.Fatalf("path = %s", path)
	}
	if !HasMaieutic(ev, "SPEC-1") {
		t.Fatal("record not found after persist")
	}
	events, err := s.Events(capsule.EventFilter{Type: capsule.EventMaieuticCompleted, SpecID: "SPEC-1"})
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v, err = %v", events, err)
	}
}

func TestCheckClarification(t *testing.T) {
	ev := state.Evidence{Root: t.TempDir()}
	if d := CheckClarification(ev, "SPEC-1", false); d.Verdict != Pause {
		t.Fatalf("no record: %+v", d)
	}
	if d := CheckClarification(ev, "SPEC-1", true); d.Verdict != Allow {
		t.Fatalf("answers attached: %+v", d)
	}
	writeFile(t, filepath.Join(ev.SpecDir("SPEC-1"), "maieutic_spec_20260101_000000.json"), "{}")
	if d := CheckClarification(ev, "SPEC-1", false); d.Verdict != Allow {
		t.Fatalf("existing record: %+v", d)
	}
}

func TestDefaultQuestions_ResolveAnswer(t *testing.T) {
	qs := DefaultQuestions()
	if len(qs) != 5 || qs[0].ID != "goal" || qs[4].ID != "delegation" {
		t.Fatalf("questions = %+v", qs)
	}
	if got := qs[1].ResolveAnswer("a, c"); got != "Must not modify existing public APIs, Must pass all existing tests" {
		t.Fatalf("constraints = %q", got)
	}
	if got := qs[0].ResolveAnswer("Ship the exporter"); got != "Ship the exporter" {
		t.Fatalf("custom = %q", got)
	}
	if got := qs[4].ResolveAnswer("B"); got != "B" {
		t.Fatalf("delegation keeps letter: %q", got)
	}
}

func TestCheckShip(t *testing.T) {
	ev := state.Evidence{Root: t.TempDir()}

	r := CheckShip(config.CaptureNone, ev, "SPEC-1")
	if r.Status != ShipBlockedPrivateScratch || r.Decision().Verdict != Abort {
		t.Fatalf("none: %+v", r)
	}
	if r.Reason() != "Private scratch mode: switch capture mode to prompts_only/full_io to ship" {
		t.Fatalf("reason = %q", r.Reason())
	}

	r = CheckShip(config.CaptureFullIO, ev, "SPEC-1")
	if r.Status != ShipBlockedMissingArtifact || r.Artifact != "Maieutic Spec" {
		t.Fatalf("no maieutic: %+v", r)
	}

	writeFile(t, filepath.Join(ev.SpecDir("SPEC-1"), "maieutic_spec_20260101_000000.json"), "{}")
	r = CheckShip(config.CaptureFullIO, ev, "SPEC-1")
	if r.Status != ShipBlockedMissingArtifact || r.Artifact != "ACE milestone frame" {
		t.Fatalf("no milestone: %+v", r)
	}

	if _, err := WriteMilestone(config.CaptureFullIO, ev, MilestoneFrame{SpecID: "SPEC-1", Stage: "audit", Timestamp: testTime}); err != nil {
		t.Fatal(err)
	}
	if r = CheckShip(config.CaptureFullIO, ev, "SPEC-1"); r.Status != ShipAllowed || r.Decision().Verdict != Allow {
		t.Fatalf("allowed: %+v", r)
	}
}

func TestCapturePolicy_AndVerify(t *testing.T) {
	s := openStore(t)
	path := filepath.Join(t.TempDir(), "policy.toml")
	writeFile(t, path, "[guardrails]\nrequire_tests = true\n")

	snap, err := CapturePolicy(s, path, "SPEC-1", "run-1", testTime)
	if err != nil {
		t.Fatal(err)
	}
	if capsule.KindOf(snap.URI) != capsule.ObjectPolicy || len(snap.Hash) != 64 {
		t.Fatalf("snapshot = %+v", snap)
	}
	cur, err := s.CurrentPolicy()
	if err != nil || cur.ID != snap.ID {
		t.Fatalf("current = %+v, err = %v", cur, err)
	}
	if err := VerifyBinding(s, snap); err != nil {
		t.Fatalf("VerifyBinding: %v", err)
	}

	tampered := *snap
	tampered.Hash = strings.Repeat("0", 64)
	if err := VerifyBinding(s, &tampered); err == nil {
		t.Fatal("expected hash mismatch")
	}
	if err := VerifyBinding(s, nil); err != nil {
		t.Fatalf("nil snapshot should verify: %v", err)
	}
}

func TestCapturePolicy_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	writeFile(t, path, "not = [valid")
	if _, err := CapturePolicy(openStore(t), path, "SPEC-1", "run-1", testTime); err == nil {
		t.Fatal("expected parse error")
	}
}
