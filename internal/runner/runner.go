// Package runner hosts a pipeline coordinator in a terminal process. It
// performs the side effects the coordinator asks for on goroutines and
// feeds their outcomes back through one event channel, which a single
// loop applies in arrival order.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jorge-barreto/speckit/internal/config"
	"github.com/jorge-barreto/speckit/internal/consensus"
	"github.com/jorge-barreto/speckit/internal/dispatch"
	"github.com/jorge-barreto/speckit/internal/pipeline"
	"github.com/jorge-barreto/speckit/internal/stages"
	"github.com/jorge-barreto/speckit/internal/state"
	"github.com/jorge-barreto/speckit/internal/ux"
)

// DefaultTick is how often the async bridge is polled.
const DefaultTick = 250 * time.Millisecond

// ErrGateCancelled is returned when a paused gate is cancelled before the
// run starts.
var ErrGateCancelled = errors.New("pipeline start cancelled")

// HaltError reports a run that stopped before completing.
type HaltError struct {
	SpecID string
	Stage  stages.Stage
	Reason string
}

func (e *HaltError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s halted: %s", e.SpecID, e.Reason)
	}
	return fmt.Sprintf("%s halted at %s: %s", e.SpecID, e.Stage, e.Reason)
}

// Runner implements pipeline.Host for a terminal session.
type Runner struct {
	Coord   *pipeline.Coordinator
	Config  *config.Config
	Env     *dispatch.Environment
	Agents  dispatch.AgentRunner
	Checker consensus.Checker
	Logger  *slog.Logger

	// In and Out back the gate modals. Without Interactive, intake and
	// clarification gates cancel and quality questions take the first
	// agent's proposed answer.
	In          *bufio.Reader
	Out         io.Writer
	Interactive bool

	Tick time.Duration

	ctx    context.Context
	events chan pipeline.Event
	wg     sync.WaitGroup
	stage  stages.Stage
}

// Run starts a pipeline and drives it until it completes, halts, is
// cancelled at a gate or ctx ends.
func (r *Runner) Run(ctx context.Context, p pipeline.StartParams) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		r.wg.Wait()
	}()
	r.ctx = ctx
	r.events = make(chan pipeline.Event, 16)

	a, err := r.Coord.StartRun(ctx, p)
	if err != nil {
		return err
	}
	if run := r.Coord.Run(); run != nil {
		ux.RunHeader(run.SpecID, run.RunID, len(run.Stages))
	}

	tick := r.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	total := 0
	for {
		if run := r.Coord.Run(); run != nil {
			r.stage = run.Stage()
			total = len(run.Stages)
		}
		switch act := a.(type) {
		case pipeline.ActionComplete:
			ux.Success(p.SpecID, total)
			return nil
		case pipeline.ActionHalt:
			ux.Halted(p.SpecID, r.stage, act.Reason)
			return &HaltError{SpecID: p.SpecID, Stage: r.stage, Reason: act.Reason}
		}
		if r.Coord.Idle() {
			return ErrGateCancelled
		}

		select {
		case <-ctx.Done():
			r.Coord.Cancel("interrupted")
			ux.ResumeHint(p.SpecID, r.stage)
			return ctx.Err()
		case now := <-ticker.C:
			a = r.Coord.HandleEvent(pipeline.Tick{Now: now})
		case ev := <-r.events:
			a = r.Coord.HandleEvent(ev)
		}
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// post delivers an event to the loop unless the run has ended.
func (r *Runner) post(ev pipeline.Event) {
	select {
	case r.events <- ev:
	case <-r.ctx.Done():
	}
}

func (r *Runner) spawn(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

func (r *Runner) env(specID, runID string, stage stages.Stage) *dispatch.Environment {
	env := r.Env.Clone(stage)
	env.SpecID = specID
	env.RunID = runID
	if env.LogDir == "" {
		env.LogDir = filepath.Join(state.RunDir(r.Config.StateDir, specID), "logs")
	}
	return env
}

// promptVars are the stage prompt variables beyond the environment's.
func (r *Runner) promptVars(specID, goal string) map[string]string {
	specDir := r.Config.SpecPath(specID)
	vars := map[string]string{
		"SPEC_DIR":  specDir,
		"SPEC_PATH": filepath.Join(specDir, "spec.md"),
		"GOAL":      goal,
	}
	brief := filepath.Join(state.Evidence{Root: r.Config.EvidenceDir}.SpecDir(specID), "TASK_BRIEF.md")
	if data, err := os.ReadFile(brief); err == nil {
		vars["TASK_BRIEF"] = string(data)
	}
	return vars
}

func (r *Runner) RunGuardrail(req pipeline.GuardrailRequest) {
	env := r.env(req.SpecID, req.RunID, req.Stage)
	env.HalMode = req.HalMode
	timeout := time.Duration(r.Config.GuardrailTimeout) * time.Minute
	id := uuid.NewString()
	r.spawn(func() {
		r.post(pipeline.GuardrailTaskStarted{TaskID: id})
		res, err := dispatch.RunGuardrail(r.ctx, r.Config.GuardrailDir, req.Command, timeout, env)
		ev := pipeline.GuardrailTaskCompleted{TaskID: id, Err: err}
		if res != nil {
			ev.ExitCode = res.ExitCode
		}
		if err != nil {
			r.logger().Warn("guardrail failed to run", "command", req.Command, "error", err)
		} else {
			r.logger().Debug("guardrail finished", "command", req.Command, "exit", ev.ExitCode)
		}
		r.post(ev)
	})
}

func (r *Runner) DispatchAgents(req pipeline.AgentRequest) {
	env := r.env(req.SpecID, req.RunID, req.Stage)
	vars := r.promptVars(req.SpecID, req.Goal)
	r.spawn(func() {
		prompt, err := dispatch.StagePrompt(env, vars)
		if err != nil {
			r.post(pipeline.AgentBatchCompleted{Stage: req.Stage, Responses: failAll(req.Agents, err)})
			return
		}
		resps := dispatch.RunBatch(r.ctx, r.Agents, req.Agents, prompt, env)
		r.post(pipeline.AgentBatchCompleted{Stage: req.Stage, Responses: outputs(resps)})
	})
}

func (r *Runner) DispatchQualityCheckpoint(req pipeline.CheckpointRequest) {
	env := r.env(req.SpecID, req.RunID, req.Stage)
	vars := r.promptVars(req.SpecID, "")
	r.spawn(func() {
		prompt, err := dispatch.CheckpointPrompt(env, req.Checkpoint, vars)
		if err != nil {
			r.post(pipeline.QualityBatchCompleted{Checkpoint: req.Checkpoint, Responses: failAll(req.Agents, err)})
			return
		}
		resps := dispatch.RunBatch(r.ctx, r.Agents, req.Agents, prompt, env)
		r.post(pipeline.QualityBatchCompleted{Checkpoint: req.Checkpoint, Responses: outputs(resps)})
	})
}

func (r *Runner) CheckConsensus(req pipeline.ConsensusRequest) {
	r.spawn(func() {
		review, err := consensus.CheckWithRetry(r.ctx, r.Checker, req.SpecID, req.Stage)
		r.post(pipeline.ConsensusResolved{Ticket: req.Ticket, Review: review, Err: err})
	})
}

func (r *Runner) PushNotice(n pipeline.Notice) {
	ux.Notice(n)
}

func (r *Runner) ShowGateModal(m pipeline.GateModal) {
	fmt.Fprintf(r.out(), "\n  %s%s%s\n", ux.Bold, m.Message, ux.Reset)
	switch m.Kind {
	case pipeline.ModalIntake:
		r.spawn(func() { r.post(r.askIntake(m)) })
	case pipeline.ModalClarification:
		r.spawn(func() { r.post(r.askClarification(m)) })
	case pipeline.ModalQuality:
		r.spawn(func() { r.post(r.askQuality(m)) })
	}
}

func (r *Runner) out() io.Writer {
	if r.Out != nil {
		return r.Out
	}
	return os.Stdout
}

func (r *Runner) askIntake(m pipeline.GateModal) pipeline.Event {
	if !r.Interactive {
		fmt.Fprintf(r.out(), "  Record a brief with: speckit intake %s <file>\n", m.SpecID)
		return pipeline.IntakeCancelled{SpecID: m.SpecID}
	}
	for {
		path, err := dispatch.Ask(r.ctx, r.In, r.out(), "Path to design brief (blank to cancel):")
		if err != nil || path == "" {
			return pipeline.IntakeCancelled{SpecID: m.SpecID}
		}
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			return pipeline.IntakeSubmitted{SpecID: m.SpecID, Brief: data}
		}
		fmt.Fprintf(r.out(), "  %scannot use %s: %v%s\n", ux.Red, path, errOrEmpty(err), ux.Reset)
	}
}

func errOrEmpty(err error) error {
	if err == nil {
		return errors.New("file is empty")
	}
	return err
}

func (r *Runner) askClarification(m pipeline.GateModal) pipeline.Event {
	if !r.Interactive {
		fmt.Fprintf(r.out(), "  Re-run with --answers <file> to supply clarification answers.\n")
		return pipeline.ClarificationCancelled{SpecID: m.SpecID}
	}
	answers := make(map[string]string, len(m.Questions))
	for i, q := range m.Questions {
		ux.Question(i, len(m.Questions), q)
		for {
			raw, err := dispatch.Ask(r.ctx, r.In, r.out(), "Answer:")
			if err != nil {
				return pipeline.ClarificationCancelled{SpecID: m.SpecID}
			}
			if raw == "" && q.Required {
				fmt.Fprintf(r.out(), "  %san answer is required%s\n", ux.Yellow, ux.Reset)
				continue
			}
			if raw != "" {
				answers[q.ID] = q.ResolveAnswer(raw)
			}
			break
		}
	}
	return pipeline.ClarificationSubmitted{SpecID: m.SpecID, Answers: answers}
}

func (r *Runner) askQuality(m pipeline.GateModal) pipeline.Event {
	answers := make(map[string]string, len(m.Issues))
	for _, is := range m.Issues {
		ux.QualityIssue(is)
		if !r.Interactive {
			answers[is.ID] = firstAnswer(is)
			continue
		}
		raw, err := dispatch.Ask(r.ctx, r.In, r.out(), "Your answer (blank keeps the first proposal):")
		if err != nil || raw == "" {
			raw = firstAnswer(is)
		}
		answers[is.ID] = raw
	}
	return pipeline.QualityAnswersSubmitted{Checkpoint: m.Checkpoint, Answers: answers}
}

// firstAnswer is the proposal of the alphabetically first agent that gave one.
func firstAnswer(is pipeline.QualityIssue) string {
	agents := make([]string, 0, len(is.Answers))
	for a, ans := range is.Answers {
		if ans != "" {
			agents = append(agents, a)
		}
	}
	if len(agents) == 0 {
		return ""
	}
	sort.Strings(agents)
	return is.Answers[agents[0]]
}

func outputs(resps []dispatch.AgentResponse) []pipeline.AgentOutput {
	out := make([]pipeline.AgentOutput, len(resps))
	for i, r := range resps {
		out[i] = pipeline.AgentOutput{Agent: r.Agent, Text: r.Text, Err: r.Err}
		if len(r.Denials) > 0 {
			names := make([]string, len(r.Denials))
			for j, d := range r.Denials {
				names[j] = d.Tool
			}
			ux.PermissionPrompt(names)
			for _, d := range r.Denials {
				ux.ToolDenied(d.Tool, d.Input)
			}
		}
	}
	return out
}

func failAll(agents []config.Agent, err error) []pipeline.AgentOutput {
	out := make([]pipeline.AgentOutput, len(agents))
	for i, a := range agents {
		out[i] = pipeline.AgentOutput{Agent: a.Name, Err: err}
	}
	return out
}
