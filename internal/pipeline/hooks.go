package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/jorge-barreto/speckit/internal/capsule"
	"github.com/jorge-barreto/speckit/internal/consensus"
	"github.com/jorge-barreto/speckit/internal/gates"
	"github.com/jorge-barreto/speckit/internal/stages"
)

// StageReport is what post-stage hooks see.
type StageReport struct {
	SpecID    string
	RunID     string
	Stage     stages.Stage
	Completed []stages.Stage
	Document  string
	Branch    string
	At        time.Time
}

// Hook runs after a stage passes review, before the index advances.
// Errors are logged and never stop the run.
type Hook interface {
	AfterStage(ctx context.Context, rep StageReport) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, rep StageReport) error

func (f HookFunc) AfterStage(ctx context.Context, rep StageReport) error { return f(ctx, rep) }

type namedHook struct {
	name string
	fn   HookFunc
}

func (c *Coordinator) hooks() []namedHook {
	hs := []namedHook{
		{"stage-transition", c.recordTransition},
		{"milestone", c.writeMilestone},
		{"risk-export", c.exportVerdict},
	}
	if c.Config.AutoCommit && c.Git != nil {
		hs = append(hs, namedHook{"auto-commit", c.autoCommit})
	}
	for i, h := range c.Hooks {
		hs = append(hs, namedHook{fmt.Sprintf("hook-%d", i), h.AfterStage})
	}
	return hs
}

func (c *Coordinator) runHooks(stage stages.Stage) {
	r := c.run
	rep := StageReport{
		SpecID:    r.SpecID,
		RunID:     r.RunID,
		Stage:     stage,
		Completed: append([]stages.Stage(nil), r.Stages[:r.CurrentIndex+1]...),
		Document:  filepath.Join(c.Config.SpecPath(r.SpecID), stage.DocumentName()),
		Branch:    r.Branch.ID,
		At:        c.now(),
	}
	for _, h := range c.hooks() {
		if err := h.fn(c.context(), rep); err != nil {
			c.logger().Warn("post-stage hook failed", "hook", h.name, "stage", stage, "error", err)
		}
	}
}

func (c *Coordinator) recordTransition(_ context.Context, rep StageReport) error {
	c.emit(capsule.EventStageTransition, string(rep.Stage), map[string]any{
		"completed": rep.Completed,
		"document":  rep.Document,
		"branch":    rep.Branch,
	})
	return nil
}

// writeMilestone records the ACE milestone frame the ship gate requires
// once the audit has passed.
func (c *Coordinator) writeMilestone(_ context.Context, rep StageReport) error {
	if rep.Stage != stages.Audit {
		return nil
	}
	done := make([]string, len(rep.Completed))
	for i, s := range rep.Completed {
		done[i] = string(s)
	}
	var notes []string
	for s := range c.run.DegradedFollowups {
		notes = append(notes, fmt.Sprintf("degraded consensus at %s; follow-up checklist scheduled", s))
	}
	sort.Strings(notes)
	path, err := gates.WriteMilestone(c.run.CaptureMode, c.evidence(), gates.MilestoneFrame{
		SpecID:    rep.SpecID,
		RunID:     rep.RunID,
		Stage:     string(rep.Stage),
		Completed: done,
		Notes:     notes,
		Timestamp: rep.At,
	})
	if err != nil {
		return err
	}
	if path != "" {
		c.logger().Info("milestone frame written", "spec", rep.SpecID, "path", path)
	}
	return nil
}

// exportVerdict exports the agents' proposals for high-risk stages and for
// any stage whose synthesis raised risks.
func (c *Coordinator) exportVerdict(_ context.Context, rep StageReport) error {
	r := c.run
	risks := r.synthesis.Risks()
	if !rep.Stage.HighRisk() && len(risks) == 0 {
		return nil
	}
	v := consensus.Verdict{
		SpecID:    rep.SpecID,
		Stage:     string(rep.Stage),
		RunID:     rep.RunID,
		HighRisk:  rep.Stage.HighRisk(),
		Degraded:  r.DegradedFollowups[rep.Stage],
		Risks:     risks,
		Timestamp: rep.At,
	}
	for _, agent := range r.agentOrder {
		v.Proposals = append(v.Proposals, consensus.Proposal{Agent: agent, Content: r.AgentResponses[agent]})
	}
	path, err := consensus.ExportVerdict(c.evidence(), v)
	if err != nil {
		return err
	}
	c.logger().Info("verdict exported", "spec", rep.SpecID, "stage", rep.Stage, "risks", len(risks), "path", path)
	return nil
}

func (c *Coordinator) autoCommit(ctx context.Context, rep StageReport) error {
	msg := fmt.Sprintf("speckit(%s): %s complete [run %s]", rep.SpecID, rep.Stage, shortRun(rep.RunID))
	rev, err := c.Git.Commit(ctx, msg, c.Config.SpecPath(rep.SpecID))
	if err != nil {
		return err
	}
	if rev != "" {
		c.logger().Info("auto-committed stage", "spec", rep.SpecID, "stage", rep.Stage, "rev", rev)
	}
	return nil
}
