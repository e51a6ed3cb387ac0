package consensus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jorge-barreto/speckit/internal/stages"
	"github.com/jorge-barreto/speckit/internal/state"
)

type flakyChecker struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (f *flakyChecker) Check(_ context.Context, _ string, _ stages.Stage) (*Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("service not ready")
	}
	return &Review{Status: StatusOK}, nil
}

func TestCheckWithRetry_SucceedsAfterFailures(t *testing.T) {
	c := &flakyChecker{failures: 2}
	review, err := CheckWithRetry(context.Background(), c, "S", stages.Plan)
	if err != nil {
		t.Fatal(err)
	}
	if !review.OK() || c.calls != 3 {
		t.Fatalf("review = %+v, calls = %d", review, c.calls)
	}
}

func TestCheckWithRetry_ReturnsLastError(t *testing.T) {
	c := &flakyChecker{failures: 10}
	_, err := CheckWithRetry(context.Background(), c, "S", stages.Plan)
	if err == nil || err.Error() != "service not ready" {
		t.Fatalf("err = %v", err)
	}
	if c.calls != 3 {
		t.Fatalf("calls = %d, want 3", c.calls)
	}
}

func TestCheckWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &flakyChecker{failures: 10}
	_, err := CheckWithRetry(ctx, c, "S", stages.Plan)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestIsDegraded(t *testing.T) {
	if !IsDegraded(errors.New("No consensus artifacts found for S stage 'plan'")) {
		t.Fatal("expected degraded")
	}
	if IsDegraded(errors.New("connection refused")) || IsDegraded(nil) {
		t.Fatal("unexpected degraded")
	}
}

func writeArtifact(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFileChecker_NoArtifactsIsDegraded(t *testing.T) {
	c := FileChecker{Evidence: state.Evidence{Root: t.TempDir()}}
	_, err := c.Check(context.Background(), "S", stages.Plan)
	if !IsDegraded(err) {
		t.Fatalf("expected degraded error, got %v", err)
	}
}

func TestFileChecker_Verdicts(t *testing.T) {
	ev := state.Evidence{Root: t.TempDir()}
	dir := ev.ConsensusDir("S")
	expected := func(stages.Stage) []string { return []string{"claude", "gemini", "gpt_pro"} }
	c := FileChecker{Evidence: ev, Aggregator: "gpt_pro", Expected: expected}

	writeArtifact(t, dir, "plan_claude.json", `{"agent":"claude","content":{}}`)
	writeArtifact(t, dir, "plan_gemini.json", `{"agent":"gemini","content":{}}`)
	review, err := c.Check(context.Background(), "S", stages.Plan)
	if err != nil {
		t.Fatal(err)
	}
	if review.Status != StatusDegraded {
		t.Fatalf("missing aggregator should degrade, got %+v", review)
	}

	writeArtifact(t, dir, "plan_gpt_pro.json", `{"agent":"gpt_pro","content":{"consensus":{"agreements":["a"],"conflicts":[]}}}`)
	review, err = c.Check(context.Background(), "S", stages.Plan)
	if err != nil {
		t.Fatal(err)
	}
	if !review.OK() {
		t.Fatalf("expected ok, got %+v", review)
	}

	writeArtifact(t, dir, "plan_gpt_pro.json", `{"agent":"gpt_pro","content":{"consensus":{"conflicts":["schema disagreement"]}}}`)
	review, err = c.Check(context.Background(), "S", stages.Plan)
	if err != nil {
		t.Fatal(err)
	}
	if review.Status != StatusConflict || review.Conflicts[0] != "schema disagreement" {
		t.Fatalf("expected conflict, got %+v", review)
	}
	if len(review.Lines("S", stages.Plan)) < 2 {
		t.Fatal("review lines should include conflicts")
	}
}

func TestFileChecker_SkipsVerdictExport(t *testing.T) {
	ev := state.Evidence{Root: t.TempDir()}
	dir := ev.ConsensusDir("S")
	writeArtifact(t, dir, "plan_claude.json", `{"agent":"claude","content":{}}`)
	if _, err := ExportVerdict(ev, Verdict{SpecID: "S", Stage: "plan"}); err != nil {
		t.Fatal(err)
	}

	review, err := FileChecker{Evidence: ev}.Check(context.Background(), "S", stages.Plan)
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range review.Warnings {
		if strings.Contains(w, "plan_verdict.json") {
			t.Fatalf("verdict export read as an agent artifact: %v", review.Warnings)
		}
	}
}
