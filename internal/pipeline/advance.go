package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jorge-barreto/speckit/internal/bridge"
	"github.com/jorge-barreto/speckit/internal/capsule"
	"github.com/jorge-barreto/speckit/internal/consensus"
	"github.com/jorge-barreto/speckit/internal/gates"
	"github.com/jorge-barreto/speckit/internal/guardrail"
	"github.com/jorge-barreto/speckit/internal/stages"
	"github.com/jorge-barreto/speckit/internal/state"
)

// Advance moves the run forward until something is in flight, the run
// halts or every stage has completed.
func (c *Coordinator) Advance() Action {
	for {
		r := c.run
		if r == nil {
			return ActionNone{}
		}
		if r.WaitingGuardrail != nil {
			return ActionNone{}
		}
		if r.CurrentIndex >= len(r.Stages) {
			return c.finalize()
		}
		stage := r.Stages[r.CurrentIndex]

		if !r.Pipeline.IsEnabled(stage) {
			c.skipStage(stage)
			continue
		}
		if _, idle := r.Phase.(PhaseGuardrail); !idle {
			return ActionNone{}
		}

		if stage.IsTerminal() && !r.PlanningOnly {
			if ship := gates.CheckShip(r.CaptureMode, c.evidence(), r.SpecID); ship.Status != gates.ShipAllowed {
				c.emit(capsule.EventGateDecision, string(stage), map[string]any{"gate": "ship", "verdict": "abort", "reason": ship.Reason()})
				return c.halt(ship.Reason())
			}
			if c.Store != nil {
				if err := gates.VerifyBinding(c.Store, r.Policy); err != nil {
					return c.halt(fmt.Sprintf("Policy binding check failed for %s: %v", r.SpecID, err))
				}
			}
		}

		if r.Pipeline.QualityGates.Enabled {
			if cp, ok := stages.CheckpointFor(stage); ok && !r.CompletedCheckpoints[cp] {
				c.dispatchCheckpoint(stage, cp)
				return ActionNone{}
			}
		}

		now := c.now()
		r.StageStarted = now
		c.timing.AddStart(r.RunID, string(stage), now)
		c.logExec(state.EventStageStart, string(stage), map[string]any{"index": r.CurrentIndex, "total": len(r.Stages)})
		c.notice(NoticeInfo, fmt.Sprintf("[%d/%d] %s", r.CurrentIndex+1, len(r.Stages), stage.DisplayName()))

		cmd := stage.GuardrailCommand()
		r.WaitingGuardrail = &GuardrailWait{Stage: stage, Command: cmd}
		c.Host.RunGuardrail(GuardrailRequest{
			SpecID:  r.SpecID,
			RunID:   r.RunID,
			Stage:   stage,
			Command: cmd,
			HalMode: r.HalMode,
		})
		return ActionRunGuardrail{Stage: stage, Command: cmd}
	}
}

func (c *Coordinator) skipStage(stage stages.Stage) {
	r := c.run
	reason := r.Pipeline.SkipReason(stage)
	path, err := c.evidence().WriteSkipRecord(r.SpecID, string(stage), reason, c.now())
	if err != nil {
		c.logger().Warn("writing skip telemetry failed", "stage", stage, "error", err)
	}
	c.logExec(state.EventStageComplete, string(stage), map[string]any{"skipped": true, "reason": reason, "telemetry": path})
	c.notice(NoticeInfo, fmt.Sprintf("Skipping %s: %s", stage.DisplayName(), reason))
	r.CurrentIndex++
	c.snapshot(state.StatusRunning, "")
}

// HandleEvent applies one inbound event. Events that do not correlate with
// the current run state are ignored.
func (c *Coordinator) HandleEvent(ev Event) Action {
	switch e := ev.(type) {
	case Tick:
		return c.onTick(e)
	case GuardrailTaskStarted:
		if r := c.run; r != nil && r.WaitingGuardrail != nil && r.WaitingGuardrail.TaskID == "" {
			r.WaitingGuardrail.TaskID = e.TaskID
		}
		return ActionNone{}
	case GuardrailTaskCompleted:
		return c.onGuardrailCompleted(e)
	case AgentBatchCompleted:
		return c.onAgentBatch(e)
	case ConsensusResolved:
		return c.onConsensusResolved(e)
	case QualityBatchCompleted:
		return c.onQualityBatch(e)
	case QualityAnswersSubmitted:
		return c.onQualityAnswers(e)
	case IntakeSubmitted:
		return c.onIntake(e)
	case ClarificationSubmitted:
		if c.pending == nil || c.pending.Spec() != e.SpecID {
			return ActionNone{}
		}
		return c.ResumeAfterClarification(e.Answers)
	case ClarificationCancelled:
		c.CancelPendingGate(e.SpecID)
		return ActionNone{}
	case IntakeCancelled:
		c.CancelPendingGate(e.SpecID)
		return ActionNone{}
	}
	c.logger().Debug("ignoring unknown event", "type", fmt.Sprintf("%T", ev))
	return ActionNone{}
}

func (c *Coordinator) onTick(e Tick) Action {
	r := c.run
	if r == nil {
		return ActionNone{}
	}
	p, ok := r.Phase.(PhaseStage0Pending)
	if !ok {
		return ActionNone{}
	}
	poll := bridge.Poll(p.Handle, e.Now, c.stage0Timeout())
	for _, msg := range poll.Progress {
		c.logger().Debug("stage 0", "spec", r.SpecID, "progress", msg)
	}
	if poll.Status == bridge.Pending {
		return ActionNone{}
	}
	if poll.Status == bridge.TimedOut {
		p.Handle.Stop()
	}
	return c.resolveStage0(poll.Result)
}

func (c *Coordinator) resolveStage0(res *bridge.Result) Action {
	r := c.run
	r.Stage0 = res
	fields := map[string]any{"duration_ms": res.Duration.Milliseconds()}
	if res.Skipped() {
		fields["skipped"] = true
		fields["reason"] = res.Skip.Reason
		c.notice(NoticeWarn, fmt.Sprintf("Stage 0 skipped: %s", res.Skip.Reason))
		if res.Skip.Audited() {
			c.emit(capsule.EventError, "stage0", map[string]any{"kind": string(res.Skip.Kind), "reason": res.Skip.Reason})
		}
	} else {
		paths, err := bridge.WriteArtifacts(c.evidence().SpecDir(r.SpecID), res)
		if err != nil {
			c.logger().Warn("writing stage 0 artifacts failed", "spec", r.SpecID, "error", err)
		}
		fields["cache_hit"] = res.CacheHit
		fields["tier2"] = res.Tier2Used
		fields["memories"] = res.Memories
		fields["artifacts"] = paths
		msg := fmt.Sprintf("Stage 0 context compiled (%d memories", res.Memories)
		if res.CacheHit {
			msg += ", cached"
		}
		if res.Tier2Used {
			msg += ", tier 2"
		}
		c.notice(NoticeSuccess, msg+")")
		if res.Tier2Skip != nil && res.Tier2Skip.Audited() {
			c.emit(capsule.EventError, "stage0", map[string]any{"kind": string(res.Tier2Skip.Kind), "reason": res.Tier2Skip.Reason})
		}
	}
	c.logExec(state.EventStage0Complete, "", fields)
	c.setPhase(PhaseGuardrail{})
	return c.Advance()
}

func (c *Coordinator) onGuardrailCompleted(e GuardrailTaskCompleted) Action {
	r := c.run
	if r == nil || r.WaitingGuardrail == nil {
		return ActionNone{}
	}
	w := r.WaitingGuardrail
	if w.TaskID == "" || w.TaskID != e.TaskID {
		c.logger().Debug("ignoring guardrail completion", "task", e.TaskID, "waiting", w.TaskID)
		return ActionNone{}
	}
	r.WaitingGuardrail = nil
	if e.Err != nil {
		c.logger().Warn("guardrail script error", "stage", w.Stage, "exit_code", e.ExitCode, "error", e.Err)
	}

	outcome, err := c.Evaluator.Evaluate(r.SpecID, w.Stage)
	if err != nil {
		if errors.Is(err, guardrail.ErrNoTelemetry) {
			c.logger().Warn("no guardrail telemetry", "stage", w.Stage, "error", err)
		}
		return c.halt(fmt.Sprintf("Unable to read telemetry for %s: %v", w.Stage, err))
	}
	if !outcome.Success {
		reason := "Guardrail step failed"
		if w.Stage == stages.Validate {
			reason = "Validation failed"
			r.Validate.ResetActive(ReasonFailed)
		}
		reason = fmt.Sprintf("%s for %s: %s", reason, w.Stage, outcome.Summary)
		if len(outcome.Failures) > 0 {
			reason += "\n  - " + strings.Join(outcome.Failures, "\n  - ")
		}
		return c.halt(reason)
	}

	line := fmt.Sprintf("Guardrail passed for %s: %s", w.Stage.DisplayName(), outcome.Summary)
	if outcome.EvidencePath != "" {
		line += " (" + outcome.EvidencePath + ")"
	}
	c.notice(NoticeSuccess, line)

	if w.Stage == stages.Validate {
		kind, run := r.Validate.Begin(ValidateAuto, payloadHash(r.SpecID, w.Stage, outcome.EvidencePath))
		if kind != Started {
			c.notice(NoticeWarn, fmt.Sprintf("Validate run %s already active (%s, attempt %d); not dispatching again", run.RunID, kind, run.Attempt))
			return ActionNone{}
		}
		r.validateRunID = run.RunID
		r.Validate.MarkDispatched(run.RunID)
	}
	return c.dispatchAgents(w.Stage)
}

func payloadHash(parts ...any) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%v\x00", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Coordinator) dispatchAgents(stage stages.Stage) Action {
	r := c.run
	agents := c.Config.AgentsFor(stage)
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	r.AgentResponses = nil
	r.agentOrder = nil
	r.synthesis = nil
	c.setPhase(PhaseExecutingAgents{Stage: stage, Expected: names})
	c.Host.DispatchAgents(AgentRequest{
		SpecID: r.SpecID,
		RunID:  r.RunID,
		Stage:  stage,
		Goal:   r.Goal,
		Agents: agents,
	})
	return ActionNone{}
}

func (c *Coordinator) onAgentBatch(e AgentBatchCompleted) Action {
	r := c.run
	if r == nil {
		return ActionNone{}
	}
	p, ok := r.Phase.(PhaseExecutingAgents)
	if !ok || p.Stage != e.Stage {
		return ActionNone{}
	}
	for _, resp := range e.Responses {
		if resp.Err != nil {
			c.notice(NoticeWarn, fmt.Sprintf("Agent %s failed on %s: %v", resp.Agent, e.Stage, resp.Err))
			continue
		}
		if strings.TrimSpace(resp.Text) == "" {
			continue
		}
		if r.AgentResponses == nil {
			r.AgentResponses = map[string]string{}
		}
		if _, seen := r.AgentResponses[resp.Agent]; !seen {
			r.agentOrder = append(r.agentOrder, resp.Agent)
		}
		r.AgentResponses[resp.Agent] = resp.Text
	}
	return c.checkConsensus(e.Stage)
}

func (c *Coordinator) checkConsensus(stage stages.Stage) Action {
	r := c.run
	t := r.Consensus.Next()
	if err := r.Consensus.Begin(t); err != nil {
		c.logger().Warn("consensus check not started", "stage", stage, "error", err)
		c.notice(NoticeWarn, fmt.Sprintf("Consensus check for %s rejected: %v", stage.DisplayName(), err))
		return ActionNone{}
	}
	c.setPhase(PhaseCheckingConsensus{Stage: stage, Ticket: t})
	if stage == stages.Validate {
		r.Validate.MarkCheckingConsensus(r.validateRunID)
	}

	if r.AgentResponses == nil {
		c.Host.CheckConsensus(ConsensusRequest{SpecID: r.SpecID, Stage: stage, Ticket: t})
		return ActionNone{}
	}

	in := consensus.Input{SpecID: r.SpecID, Stage: stage, RunID: r.RunID}
	for _, agent := range r.agentOrder {
		in.Responses = append(in.Responses, consensus.Response{Agent: agent, Text: r.AgentResponses[agent]})
	}
	syn, err := c.Synth.Synthesize(c.context(), in)
	r.synthesis = syn
	if ackErr := r.Consensus.Ack(t); ackErr != nil {
		c.logger().Warn("acking consensus ticket failed", "ticket", t, "error", ackErr)
	}
	switch {
	case err != nil:
		c.logger().Warn("local synthesis failed", "stage", stage, "error", err)
		c.scheduleFollowup(stage, fmt.Sprintf("synthesis failed: %v", err))
	case !syn.Structured:
		c.scheduleFollowup(stage, "no structured agent output")
	default:
		c.notice(NoticeSuccess, fmt.Sprintf("Consensus written for %s: %s", stage.DisplayName(), syn.Path))
	}
	return c.completeStage(stage)
}

func (c *Coordinator) onConsensusResolved(e ConsensusResolved) Action {
	r := c.run
	if r == nil {
		return ActionNone{}
	}
	p, ok := r.Phase.(PhaseCheckingConsensus)
	if !ok || p.Ticket != e.Ticket {
		c.logger().Debug("rejecting stale consensus result", "ticket", e.Ticket)
		c.notice(NoticeWarn, fmt.Sprintf("Ignored stale consensus result (ticket %d)", e.Ticket))
		return ActionNone{}
	}
	if err := r.Consensus.Ack(e.Ticket); err != nil {
		c.logger().Warn("rejecting consensus result", "ticket", e.Ticket, "error", err)
		c.notice(NoticeWarn, fmt.Sprintf("Ignored consensus result (ticket %d): %v", e.Ticket, err))
		return ActionNone{}
	}
	stage := p.Stage

	if e.Err != nil {
		if consensus.IsDegraded(e.Err) {
			c.scheduleFollowup(stage, e.Err.Error())
			return c.completeStage(stage)
		}
		if stage == stages.Validate {
			r.Validate.Complete(r.validateRunID, ReasonFailed)
		}
		return c.halt(fmt.Sprintf("Consensus check failed for %s: %v", stage, e.Err))
	}
	if e.Review == nil || e.Review.Status == consensus.StatusDegraded || e.Review.Status == consensus.StatusUnknown {
		if e.Review != nil {
			c.notice(NoticeWarn, e.Review.Lines(r.SpecID, stage)...)
		}
		c.scheduleFollowup(stage, "consensus degraded")
		return c.completeStage(stage)
	}
	if !e.Review.OK() {
		c.notice(NoticeError, e.Review.Lines(r.SpecID, stage)...)
		if stage == stages.Validate {
			r.Validate.Complete(r.validateRunID, ReasonFailed)
		}
		return c.halt(fmt.Sprintf("Stage review failed for %s", stage))
	}
	c.notice(NoticeSuccess, e.Review.Lines(r.SpecID, stage)...)
	return c.completeStage(stage)
}

// scheduleFollowup queues one checklist follow-up per stage when consensus
// is degraded. The run continues.
func (c *Coordinator) scheduleFollowup(stage stages.Stage, why string) {
	r := c.run
	if r.DegradedFollowups[stage] {
		return
	}
	r.DegradedFollowups[stage] = true
	c.notice(NoticeWarn,
		fmt.Sprintf("Consensus degraded for %s: %s", stage.DisplayName(), why),
		fmt.Sprintf("Scheduled follow-up %s for %s", stages.GateChecklist.Command(), r.SpecID))
}

func (c *Coordinator) completeStage(stage stages.Stage) Action {
	r := c.run
	if stage == stages.Validate {
		r.Validate.Complete(r.validateRunID, ReasonCompleted)
		r.validateRunID = ""
	}
	c.runHooks(stage)

	now := c.now()
	d := c.timing.AddEnd(r.RunID, string(stage), now)
	c.logExec(state.EventStageComplete, string(stage), map[string]any{"duration_ms": d.Milliseconds()})
	c.notice(NoticeSuccess, fmt.Sprintf("%s complete (%s)", stage.DisplayName(), state.FormatDuration(d)))

	r.CurrentIndex++
	r.AgentResponses = nil
	r.agentOrder = nil
	r.synthesis = nil
	c.setPhase(PhaseGuardrail{})
	c.flushTiming(r.SpecID)
	c.snapshot(state.StatusRunning, "")
	return c.Advance()
}

func (c *Coordinator) onIntake(e IntakeSubmitted) Action {
	g, ok := c.pending.(PendingIntakeBackfill)
	if !ok || g.Params.SpecID != e.SpecID {
		return ActionNone{}
	}
	if _, err := gates.RecordIntake(c.Store, e.SpecID, g.Params.RunID, e.Brief, c.now()); err != nil {
		c.notice(NoticeError, fmt.Sprintf("Recording intake for %s failed: %v", e.SpecID, err))
		return ActionNone{}
	}
	return c.ResumeAfterIntakeBackfill()
}
