package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jorge-barreto/speckit/internal/bridge"
	"github.com/jorge-barreto/speckit/internal/capsule"
	"github.com/jorge-barreto/speckit/internal/config"
	"github.com/jorge-barreto/speckit/internal/consensus"
	"github.com/jorge-barreto/speckit/internal/gates"
	"github.com/jorge-barreto/speckit/internal/guardrail"
	"github.com/jorge-barreto/speckit/internal/stages"
	"github.com/jorge-barreto/speckit/internal/state"
	"github.com/jorge-barreto/speckit/internal/vcs"
)

// EvidenceArchiveHint is appended to evidence limit halts.
const EvidenceArchiveHint = "Run: bash scripts/spec_ops_004/evidence_archive.sh"

// Coordinator drives runs through the stage catalog. It is not safe for
// concurrent use; the runner applies every operation from one goroutine.
type Coordinator struct {
	Config      *config.Config
	ProjectRoot string
	// GlobalPipeline is the user-level pipeline.toml. Empty skips it.
	GlobalPipeline string

	Host      Host
	Store     capsule.Store // nil disables durable capture
	Git       vcs.Git       // nil disables auto-commit
	Evaluator *guardrail.Evaluator
	Synth     *consensus.Synthesizer
	Notebook  bridge.Notebook
	Hooks     []Hook
	Logger    *slog.Logger
	Now       func() time.Time
	Spawn     func(ctx context.Context, req bridge.Request, now time.Time) *bridge.Handle

	ctx     context.Context
	run     *RunState
	pending PendingGate
	execLog *state.ExecLog
	timing  *state.Timing
}

// Run returns the active run, or nil.
func (c *Coordinator) Run() *RunState { return c.run }

// Pending returns the paused gate, or nil.
func (c *Coordinator) Pending() PendingGate { return c.pending }

// Idle reports whether there is neither a run nor a paused gate.
func (c *Coordinator) Idle() bool { return c.run == nil && c.pending == nil }

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Coordinator) context() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

func (c *Coordinator) evidence() state.Evidence {
	return state.Evidence{Root: c.Config.EvidenceDir}
}

func (c *Coordinator) runDir(specID string) string {
	return state.RunDir(c.Config.StateDir, specID)
}

func (c *Coordinator) notice(level NoticeLevel, lines ...string) {
	if len(lines) == 0 || c.Host == nil {
		return
	}
	c.Host.PushNotice(Notice{Level: level, Lines: lines})
}

// StartRun begins a full run, or a planning-only run when p.PlanningOnly
// is set. Gates that need human input pause the start and return
// ActionNone after showing a modal.
func (c *Coordinator) StartRun(ctx context.Context, p StartParams) (Action, error) {
	if !c.Idle() {
		var spec string
		if c.run != nil {
			spec = c.run.SpecID
		} else {
			spec = c.pending.Spec()
		}
		c.notice(NoticeWarn, fmt.Sprintf("Pipeline already running for %s", spec))
		return ActionNone{}, fmt.Errorf("%w for %s", ErrRunActive, spec)
	}
	if err := config.ValidateSpecID(c.Config.SpecPattern, p.SpecID); err != nil {
		return ActionNone{}, err
	}
	c.ctx = ctx
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}
	return c.start(p), nil
}

// start runs the start sequence: evidence limit, pipeline config, then the
// configuration, intake and clarification gates. A resumed intake pause
// re-enters here with its frozen params.
func (c *Coordinator) start(p StartParams) Action {
	if err := c.evidence().CheckLimit(c.Config.EvidenceLimitMB); err != nil {
		var limit *state.ErrEvidenceLimit
		if errors.As(err, &limit) {
			return c.abort(p, fmt.Sprintf("%s. %s", limit.Error(), EvidenceArchiveHint))
		}
		c.logger().Warn("measuring evidence failed", "error", err)
	}

	specPipeline := filepath.Join(c.Config.SpecPath(p.SpecID), config.PipelineFileName)
	pl, warnings, err := config.LoadPipeline(c.GlobalPipeline, specPipeline, p.SpecID, p.Overrides)
	if err != nil {
		return c.abort(p, fmt.Sprintf("Invalid pipeline configuration for %s: %v", p.SpecID, err))
	}
	if p.PlanningOnly {
		pl.QualityGates.Enabled = false
	}
	c.notice(NoticeWarn, warnings...)

	d := gates.CheckConfiguration(c.Config.GateMode, c.Config.Constitution)
	c.recordGate(p, "configuration", d)
	switch d.Verdict {
	case gates.Abort:
		c.notice(NoticeError, d.Messages...)
		return c.abort(p, d.Reason)
	case gates.Warn:
		c.notice(NoticeWarn, d.Messages...)
	}
	return c.checkIntake(p, pl)
}

// StartPlanningOnlyRun runs Plan and Tasks without quality gates or the
// ship gate.
func (c *Coordinator) StartPlanningOnlyRun(ctx context.Context, specID string) (Action, error) {
	return c.StartRun(ctx, StartParams{SpecID: specID, PlanningOnly: true})
}

func (c *Coordinator) checkIntake(p StartParams, pl *config.Pipeline) Action {
	d, _ := gates.CheckIntake(c.Store, p.SpecID)
	c.recordGate(p, "intake", d)
	switch d.Verdict {
	case gates.Pause:
		c.pending = PendingIntakeBackfill{Params: p}
		c.saveSnapshot(&state.State{SpecID: p.SpecID, RunID: p.RunID, Status: state.StatusPaused, HaltReason: d.Reason})
		c.notice(NoticeWarn, d.Reason)
		c.Host.ShowGateModal(GateModal{Kind: ModalIntake, SpecID: p.SpecID, Message: d.Reason})
		return ActionNone{}
	case gates.Warn:
		c.notice(NoticeWarn, d.Messages...)
	}
	return c.checkClarification(p, pl)
}

func (c *Coordinator) checkClarification(p StartParams, pl *config.Pipeline) Action {
	attached := len(p.Clarification) > 0
	d := gates.CheckClarification(c.evidence(), p.SpecID, attached)
	c.recordGate(p, "clarification", d)
	if d.Verdict == gates.Pause {
		c.pending = PendingMaieutic{Params: p, Pipeline: pl, CaptureMode: c.Config.CaptureMode, AskedAt: c.now()}
		c.saveSnapshot(&state.State{SpecID: p.SpecID, RunID: p.RunID, Status: state.StatusPaused, HaltReason: d.Reason})
		c.notice(NoticeInfo, d.Reason)
		c.Host.ShowGateModal(GateModal{
			Kind:      ModalClarification,
			SpecID:    p.SpecID,
			Message:   d.Reason,
			Questions: gates.DefaultQuestions(),
		})
		return ActionNone{}
	}
	if attached {
		c.persistClarification(p, c.Config.CaptureMode, gates.ElicitPreSupplied, 0)
	}
	return c.begin(p, pl)
}

func (c *Coordinator) persistClarification(p StartParams, mode config.CaptureMode, how gates.ElicitationMode, took time.Duration) {
	m := gates.SpecFromAnswers(p.SpecID, p.RunID, p.Clarification, how, took, c.now())
	if err := m.Validate(); err != nil {
		c.logger().Warn("clarification record incomplete", "spec", p.SpecID, "error", err)
	}
	path, err := gates.PersistMaieutic(m, mode, c.evidence(), c.Store)
	if err != nil {
		c.logger().Warn("persisting clarification failed", "spec", p.SpecID, "error", err)
		return
	}
	if path != "" {
		c.logger().Info("clarification recorded", "spec", p.SpecID, "path", path)
	}
}

// ResumeAfterIntakeBackfill consumes a start paused at the intake gate and
// runs the start sequence again, so an intake that still does not resolve
// pauses again. It is a no-op unless that gate is pending.
func (c *Coordinator) ResumeAfterIntakeBackfill() Action {
	g, ok := c.pending.(PendingIntakeBackfill)
	if !ok {
		return ActionNone{}
	}
	c.pending = nil
	c.notice(NoticeInfo, fmt.Sprintf("Resuming %s after intake", g.Params.SpecID))
	return c.start(g.Params)
}

// ResumeAfterClarification records the answers and continues a start
// paused at the clarification gate.
func (c *Coordinator) ResumeAfterClarification(answers map[string]string) Action {
	g, ok := c.pending.(PendingMaieutic)
	if !ok {
		return ActionNone{}
	}
	c.pending = nil
	p := g.Params
	p.Clarification = answers
	c.persistClarification(p, g.CaptureMode, gates.ElicitInteractive, c.now().Sub(g.AskedAt))
	return c.begin(p, g.Pipeline)
}

// CancelPendingGate drops a paused start for specID.
func (c *Coordinator) CancelPendingGate(specID string) bool {
	if c.pending == nil || c.pending.Spec() != specID {
		return false
	}
	c.pending = nil
	c.saveSnapshot(&state.State{SpecID: specID, Status: state.StatusCancelled, HaltReason: "gate cancelled"})
	c.notice(NoticeWarn, fmt.Sprintf("Pipeline start cancelled for %s", specID))
	return true
}

// Cancel drops the active run. Results of in-flight work are ignored when
// they arrive.
func (c *Coordinator) Cancel(reason string) {
	if c.pending != nil {
		c.CancelPendingGate(c.pending.Spec())
	}
	r := c.run
	if r == nil {
		return
	}
	c.stopStage0()
	if r.Validate != nil {
		r.Validate.ResetActive(ReasonCancelled)
	}
	c.flushTiming(r.SpecID)
	c.snapshot(state.StatusCancelled, reason)
	c.restoreMainBranch()
	c.run = nil
	c.notice(NoticeWarn, fmt.Sprintf("Pipeline cancelled for %s: %s", r.SpecID, reason))
}

// begin creates the run state, binds the policy, opens the run branch and
// starts stage 0.
func (c *Coordinator) begin(p StartParams, pl *config.Pipeline) Action {
	now := c.now()
	list := stages.All()
	switch {
	case p.PlanningOnly:
		list = stages.PlanningOnly()
	case p.ResumeFrom != "":
		from, err := stages.From(p.ResumeFrom)
		if err != nil {
			return c.abort(p, fmt.Sprintf("Cannot resume %s: %v", p.SpecID, err))
		}
		list = from
	}

	r := &RunState{
		RunID:                p.RunID,
		SpecID:               p.SpecID,
		Goal:                 p.Goal,
		HalMode:              p.HalMode,
		Stages:               list,
		Phase:                PhaseGuardrail{},
		CaptureMode:          c.Config.CaptureMode,
		Pipeline:             pl,
		CompletedCheckpoints: map[stages.QualityCheckpoint]bool{},
		DegradedFollowups:    map[stages.Stage]bool{},
		Validate:             NewValidateLifecycle(p.SpecID),
		Branch:               NewPipelineBranch(p.SpecID, now),
		Clarification:        p.Clarification,
		PlanningOnly:         p.PlanningOnly,
		StartedAt:            now,
	}
	c.run = r

	runDir := c.runDir(p.SpecID)
	c.execLog = state.OpenExecLog(runDir)
	timing, err := state.LoadTiming(runDir)
	if err != nil {
		c.logger().Warn("loading timing failed", "spec", p.SpecID, "error", err)
		timing = &state.Timing{}
	}
	c.timing = timing

	if c.Store != nil {
		snap, err := gates.CapturePolicy(c.Store, c.Config.Policy, p.SpecID, p.RunID, now)
		if err != nil {
			c.logger().Warn("policy capture failed; run is not policy bound", "spec", p.SpecID, "error", err)
		} else {
			r.Policy = snap
		}
		branch := r.Branch.StoreBranch()
		if err := c.Store.OpenBranch(branch, capsule.MainBranch); err != nil {
			c.logger().Warn("opening run branch failed", "branch", branch, "error", err)
		} else if err := c.Store.SwitchBranch(branch); err != nil {
			c.logger().Warn("switching to run branch failed", "branch", branch, "error", err)
		}
	}

	names := make([]string, len(list))
	for i, s := range list {
		names[i] = string(s)
	}
	c.logExec(state.EventRunStart, "", map[string]any{
		"stages":        names,
		"hal_mode":      p.HalMode,
		"branch":        r.Branch.ID,
		"planning_only": p.PlanningOnly,
	})
	c.snapshot(state.StatusRunning, "")
	c.notice(NoticeInfo, fmt.Sprintf("Starting pipeline for %s (run %s, branch %s)", p.SpecID, shortRun(p.RunID), r.Branch.ShortID()))

	return c.startStage0()
}

func (c *Coordinator) startStage0() Action {
	r := c.run
	spawn := c.Spawn
	if spawn == nil {
		spawn = bridge.Spawn
	}
	req := bridge.Request{
		SpecID:      r.SpecID,
		SpecPath:    filepath.Join(c.Config.SpecPath(r.SpecID), "spec.md"),
		ProjectRoot: c.ProjectRoot,
		MemoryDir:   c.Config.Stage0.MemoryDir,
		CacheDir:    filepath.Join(c.runDir(r.SpecID), "stage0"),
		Disabled:    c.Config.Stage0.Disabled,
		Notebook:    c.Notebook,
		Logger:      c.logger(),
	}
	c.logExec(state.EventStage0Start, "", nil)
	h := spawn(c.context(), req, c.now())
	c.setPhase(PhaseStage0Pending{Handle: h})
	return ActionNone{}
}

func (c *Coordinator) stage0Timeout() time.Duration {
	if c.Config.Stage0.Timeout > 0 {
		return time.Duration(c.Config.Stage0.Timeout) * time.Second
	}
	return bridge.DefaultTimeout
}

func (c *Coordinator) stopStage0() {
	if c.run == nil {
		return
	}
	if p, ok := c.run.Phase.(PhaseStage0Pending); ok {
		p.Handle.Stop()
	}
}

// abort halts a start before any run state exists.
func (c *Coordinator) abort(p StartParams, reason string) Action {
	c.saveSnapshot(&state.State{SpecID: p.SpecID, RunID: p.RunID, Status: state.StatusHalted, HaltReason: reason})
	c.notice(NoticeError, reason)
	return ActionHalt{Reason: reason}
}

// halt tears down the active run.
func (c *Coordinator) halt(reason string) Action {
	r := c.run
	if r == nil {
		return ActionHalt{Reason: reason}
	}
	c.stopStage0()
	c.logger().Error("pipeline halted", "spec", r.SpecID, "run", r.RunID, "stage", r.Stage(), "reason", reason)
	c.emit(capsule.EventError, string(r.Stage()), map[string]any{"reason": reason})
	c.flushTiming(r.SpecID)
	c.snapshot(state.StatusHalted, reason)
	c.restoreMainBranch()
	c.run = nil
	c.notice(NoticeError, reason)
	return ActionHalt{Reason: reason}
}

func (c *Coordinator) restoreMainBranch() {
	if c.Store == nil || c.Store.CurrentBranch() == capsule.MainBranch {
		return
	}
	if err := c.Store.SwitchBranch(capsule.MainBranch); err != nil {
		c.logger().Warn("switching back to main branch failed", "error", err)
	}
}

func (c *Coordinator) setPhase(p Phase) {
	r := c.run
	from := "none"
	if r.Phase != nil {
		from = r.Phase.String()
	}
	r.Phase = p
	c.logExec(state.EventPhaseTransition, string(r.Stage()), map[string]any{"from": from, "to": p.String()})
}

func (c *Coordinator) logExec(typ, stage string, fields map[string]any) {
	r := c.run
	if r == nil || c.execLog == nil {
		return
	}
	err := c.execLog.Append(state.ExecEvent{
		Type:      typ,
		RunID:     r.RunID,
		SpecID:    r.SpecID,
		Stage:     stage,
		Timestamp: c.now().UTC(),
		Fields:    fields,
	})
	if err != nil {
		c.logger().Warn("appending execution log failed", "event", typ, "error", err)
	}
}

// emit writes a best-effort audit event to the capsule store.
func (c *Coordinator) emit(typ capsule.EventType, stage string, payload any) {
	r := c.run
	if c.Store == nil || r == nil {
		return
	}
	ev := capsule.Event{Type: typ, SpecID: r.SpecID, RunID: r.RunID, Stage: stage, Timestamp: c.now()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.logger().Warn("encoding audit event failed", "type", typ, "error", err)
			return
		}
		ev.Payload = data
	}
	if _, err := c.Store.EmitEvent(ev); err != nil {
		c.logger().Warn("emitting audit event failed", "type", typ, "error", err)
	}
}

func (c *Coordinator) recordGate(p StartParams, gate string, d gates.Decision) {
	c.logger().Debug("gate decision", "spec", p.SpecID, "gate", gate, "verdict", d.Verdict.String(), "reason", d.Reason)
}

func (c *Coordinator) snapshot(status, reason string) {
	r := c.run
	if r == nil {
		return
	}
	names := make([]string, len(r.Stages))
	for i, s := range r.Stages {
		names[i] = string(s)
	}
	phase := ""
	if r.Phase != nil {
		phase = r.Phase.String()
	}
	c.saveSnapshot(&state.State{
		SpecID:     r.SpecID,
		RunID:      r.RunID,
		Branch:     r.Branch.ID,
		Stages:     names,
		StageIndex: r.CurrentIndex,
		Phase:      phase,
		Status:     status,
		HaltReason: reason,
	})
}

func (c *Coordinator) saveSnapshot(s *state.State) {
	if c.Config.StateDir == "" {
		return
	}
	if err := s.Save(c.runDir(s.SpecID)); err != nil {
		c.logger().Warn("saving run snapshot failed", "spec", s.SpecID, "error", err)
	}
}

func (c *Coordinator) flushTiming(specID string) {
	if c.timing == nil {
		return
	}
	if err := c.timing.Flush(c.runDir(specID)); err != nil {
		c.logger().Warn("flushing timing failed", "spec", specID, "error", err)
	}
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
