package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jorge-barreto/speckit/internal/capsule"
	"github.com/jorge-barreto/speckit/internal/state"
)

// ReportName is the verification report written when a run completes.
const ReportName = "verification_report.md"

func (c *Coordinator) finalize() Action {
	r := c.run
	c.logExec(state.EventCompletionCheck, "", map[string]any{"stages": len(r.Stages), "index": r.CurrentIndex})
	c.notice(NoticeInfo, qualitySummary(r.CheckpointOutcomes)...)

	path, err := c.writeReport()
	if err != nil {
		c.logger().Warn("writing verification report failed", "spec", r.SpecID, "error", err)
	}

	if c.Store != nil {
		branch := r.Branch.StoreBranch()
		n, err := c.Store.MergeBranch(branch, capsule.MainBranch, capsule.MergeCurated)
		c.restoreMainBranch()
		if err != nil {
			c.logger().Warn("merging run branch failed", "branch", branch, "error", err)
		} else {
			c.logger().Info("merged run branch", "branch", branch, "objects", n)
		}
	}

	c.logExec(state.EventRunComplete, "", map[string]any{"report": path, "duration_ms": c.now().Sub(r.StartedAt).Milliseconds()})
	c.flushTiming(r.SpecID)
	c.snapshot(state.StatusCompleted, "")
	c.run = nil

	lines := []string{fmt.Sprintf("Pipeline complete for %s", r.SpecID)}
	if path != "" {
		lines = append(lines, "  Report: "+path)
	}
	c.notice(NoticeSuccess, lines...)
	return ActionComplete{}
}

func (c *Coordinator) writeReport() (string, error) {
	r := c.run
	var b strings.Builder
	fmt.Fprintf(&b, "# Verification Report: %s\n\n", r.SpecID)
	fmt.Fprintf(&b, "- Run: %s\n", r.RunID)
	fmt.Fprintf(&b, "- Branch: %s\n", r.Branch.ID)
	fmt.Fprintf(&b, "- Started: %s\n", r.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "- Completed: %s\n", c.now().UTC().Format("2006-01-02 15:04:05 UTC"))
	if r.Policy != nil {
		fmt.Fprintf(&b, "- Policy: %s (%s)\n", r.Policy.ID, r.Policy.Hash)
	}

	b.WriteString("\n## Stages\n\n| Stage | Result | Duration |\n|---|---|---|\n")
	for _, s := range r.Stages {
		result := "passed"
		if !r.Pipeline.IsEnabled(s) {
			result = "skipped: " + r.Pipeline.SkipReason(s)
		} else if r.DegradedFollowups[s] {
			result = "passed (degraded)"
		}
		dur := ""
		if c.timing != nil {
			dur = c.timing.Last(string(s))
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", s.DisplayName(), result, dur)
	}

	b.WriteString("\n## Stage 0\n\n")
	switch {
	case r.Stage0 == nil:
		b.WriteString("Not run.\n")
	case r.Stage0.Skipped():
		fmt.Fprintf(&b, "Skipped: %s\n", r.Stage0.Skip.Reason)
	default:
		fmt.Fprintf(&b, "Compiled from %d memories (cache hit: %t, tier 2: %t).\n", r.Stage0.Memories, r.Stage0.CacheHit, r.Stage0.Tier2Used)
	}

	if len(r.CheckpointOutcomes) > 0 {
		b.WriteString("\n## Quality Gates\n\n")
		for _, line := range qualitySummary(r.CheckpointOutcomes) {
			b.WriteString("- " + strings.TrimSpace(line) + "\n")
		}
	}

	if len(r.DegradedFollowups) > 0 {
		b.WriteString("\n## Follow-ups\n\n")
		var names []string
		for s := range r.DegradedFollowups {
			names = append(names, string(s))
		}
		sort.Strings(names)
		for _, s := range names {
			fmt.Fprintf(&b, "- Re-run checklist for %s (consensus degraded)\n", s)
		}
	}

	if err := c.evidence().EnsureDir(r.SpecID); err != nil {
		return "", err
	}
	path := filepath.Join(c.evidence().SpecDir(r.SpecID), ReportName)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", err
	}
	return path, nil
}
