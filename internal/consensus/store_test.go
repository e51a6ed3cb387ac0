package consensus

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStore_RecordAndLatest(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "consensus.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	got, err := store.LatestSynthesis(ctx, "S", "plan")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}

	if _, err := store.RecordSynthesis(ctx, Record{SpecID: "S", Stage: "plan", Markdown: "v1", Status: "ok", ResponseCount: 2}); err != nil {
		t.Fatal(err)
	}
	id, err := store.RecordSynthesis(ctx, Record{SpecID: "S", Stage: "plan", Markdown: "v2", OutputPath: "/x/plan.md", Status: "ok", ResponseCount: 3, RunID: "r2", Degraded: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.RecordSynthesis(ctx, Record{SpecID: "S", Stage: "tasks", Markdown: "t", Status: "ok"}); err != nil {
		t.Fatal(err)
	}

	got, err = store.LatestSynthesis(ctx, "S", "plan")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != id || got.Markdown != "v2" || got.RunID != "r2" || !got.Degraded || got.ResponseCount != 3 {
		t.Fatalf("latest = %+v", got)
	}
	if got.OutputPath != "/x/plan.md" || got.CreatedAt.IsZero() {
		t.Fatalf("latest = %+v", got)
	}
}
