package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jorge-barreto/speckit/internal/contextgather"
)

// Notebook is the optional tier-2 enrichment source.
type Notebook interface {
	Health(ctx context.Context) error
	Query(ctx context.Context, specID, brief string) (string, error)
}

// Request describes one compilation.
type Request struct {
	SpecID      string
	SpecPath    string
	ProjectRoot string
	MemoryDir   string
	CacheDir    string
	Disabled    bool
	Notebook    Notebook // nil when not configured
	Logger      *slog.Logger
}

// Spawn starts compilation on its own goroutine and returns immediately.
func Spawn(ctx context.Context, req Request, now time.Time) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	progress := make(chan string, 16)
	results := make(chan Result, 1)
	h := &Handle{Progress: progress, Results: results, StartedAt: now, cancel: cancel}

	go func() {
		defer close(results)
		defer close(progress)
		start := time.Now()
		r := compile(ctx, req, func(msg string) {
			select {
			case progress <- msg:
			default:
			}
		})
		r.Duration = time.Since(start)
		if ctx.Err() != nil {
			return
		}
		select {
		case progress <- fmt.Sprintf("Finished: success=%t, tier2=%t, %dms", !r.Skipped(), r.Tier2Used, r.Duration.Milliseconds()):
		default:
		}
		results <- r
	}()
	return h
}

func compile(ctx context.Context, req Request, report func(string)) Result {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	report("Starting...")
	if req.Disabled {
		return Result{Skip: &Skip{Kind: SkipDisabled, Reason: "Stage 0 disabled by flag"}}
	}

	report("Checking local-memory...")
	report("Loading config...")
	snap, err := contextgather.Gather(ctx, contextgather.Options{
		Root:      req.ProjectRoot,
		SpecPath:  req.SpecPath,
		MemoryDir: req.MemoryDir,
		GitLog:    10,
	})
	if err != nil {
		return Result{Skip: &Skip{Kind: SkipError, Reason: "Stage 0 error: " + err.Error()}}
	}
	if snap.Spec == "" {
		return Result{Skip: &Skip{Kind: SkipNoSpec, Reason: "spec.md is empty or not found"}}
	}

	report("Compiling context...")
	digest := snap.Digest()
	if cached, ok := loadCache(req.CacheDir, req.SpecID, digest); ok {
		logger.Debug("stage0 cache hit", "spec", req.SpecID, "digest", digest[:12])
		cached.CacheHit = true
		return cached
	}

	r := Result{
		TaskBrief: renderBrief(req.SpecID, snap),
		Memories:  len(snap.Memories),
		Degraded:  !snap.HasMemories(),
	}

	var tier2 string
	switch {
	case req.Notebook == nil:
		r.Tier2Skip = &Skip{Kind: SkipNotConfigured, Reason: "NotebookLM not configured"}
	default:
		if err := req.Notebook.Health(ctx); err != nil {
			r.Tier2Skip = &Skip{Kind: SkipHealthCheckFailed, Reason: "NotebookLM health check failed: " + err.Error()}
			r.Degraded = true
			break
		}
		report("Querying NotebookLM...")
		answer, err := req.Notebook.Query(ctx, req.SpecID, r.TaskBrief)
		if err != nil {
			r.Tier2Skip = &Skip{Kind: SkipError, Reason: "NotebookLM query failed: " + err.Error()}
			r.Degraded = true
			break
		}
		tier2 = answer
		r.Tier2Used = true
	}
	r.DivineTruth = renderDivineTruth(req.SpecID, snap, tier2)

	if err := saveCache(req.CacheDir, req.SpecID, digest, r); err != nil {
		logger.Warn("stage0 cache write failed", "spec", req.SpecID, "error", err)
	}
	return r
}

func renderBrief(specID string, snap *contextgather.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task Brief: %s\n\n", specID)
	b.WriteString("## Specification\n\n")
	b.WriteString(snap.Spec)
	b.WriteString("\n\n")
	if mem := snap.RenderMemories(); mem != "" {
		b.WriteString("## Relevant Memories\n\n")
		b.WriteString(mem)
	}
	b.WriteString(snap.Render())
	return b.String()
}

func renderDivineTruth(specID string, snap *contextgather.Snapshot, tier2 string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Divine Truth: %s\n\n", specID)
	if tier2 != "" {
		b.WriteString("## Synthesis\n\n")
		b.WriteString(strings.TrimSpace(tier2))
		b.WriteString("\n\n")
	} else {
		b.WriteString("Tier 2 synthesis unavailable; compiled from local sources only.\n\n")
	}
	if snap.HasMemories() {
		fmt.Fprintf(&b, "## Grounding\n\n- %d local memories consulted\n", len(snap.Memories))
	}
	return b.String()
}

type cacheEntry struct {
	Digest      string `json:"digest"`
	TaskBrief   string `json:"task_brief"`
	DivineTruth string `json:"divine_truth"`
	Tier2Used   bool   `json:"tier2_used"`
	Memories    int    `json:"memories"`
}

func cachePath(dir, specID string) string {
	return filepath.Join(dir, specID+".json")
}

func loadCache(dir, specID, digest string) (Result, bool) {
	if dir == "" {
		return Result{}, false
	}
	data, err := os.ReadFile(cachePath(dir, specID))
	if err != nil {
		return Result{}, false
	}
	var e cacheEntry
	if err := json.Unmarshal(data, &e); err != nil || e.Digest != digest {
		return Result{}, false
	}
	return Result{TaskBrief: e.TaskBrief, DivineTruth: e.DivineTruth, Tier2Used: e.Tier2Used, Memories: e.Memories}, true
}

// saveCache only stores complete results; a degraded tier-2 run is retried
// next time.
func saveCache(dir, specID, digest string, r Result) error {
	if dir == "" || r.Tier2Skip != nil && r.Tier2Skip.Kind != SkipNotConfigured {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cacheEntry{
		Digest:      digest,
		TaskBrief:   r.TaskBrief,
		DivineTruth: r.DivineTruth,
		Tier2Used:   r.Tier2Used,
		Memories:    r.Memories,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cachePath(dir, specID), data, 0644)
}

// WriteArtifacts writes TASK_BRIEF.md and DIVINE_TRUTH.md into dir and
// returns the written paths. Skipped results write nothing.
func WriteArtifacts(dir string, r *Result) ([]string, error) {
	if r == nil || r.Skipped() {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var written []string
	for _, f := range []struct{ name, body string }{
		{"TASK_BRIEF.md", r.TaskBrief},
		{"DIVINE_TRUTH.md", r.DivineTruth},
	} {
		if f.body == "" {
			continue
		}
		p := filepath.Join(dir, f.name)
		if err := os.WriteFile(p, []byte(f.body), 0644); err != nil {
			return written, fmt.Errorf("writing %s: %w", f.name, err)
		}
		written = append(written, p)
	}
	return written, nil
}
