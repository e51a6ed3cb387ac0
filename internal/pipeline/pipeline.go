// Package pipeline is the spec-to-ship state machine. A Coordinator is
// owned by one goroutine; every inbound operation and event is applied
// there, and background work reports back through events.
package pipeline

import (
	"errors"
	"time"

	"github.com/jorge-barreto/speckit/internal/bridge"
	"github.com/jorge-barreto/speckit/internal/capsule"
	"github.com/jorge-barreto/speckit/internal/config"
	"github.com/jorge-barreto/speckit/internal/consensus"
	"github.com/jorge-barreto/speckit/internal/stages"
)

// ErrRunActive is returned by StartRun while a run or a paused gate exists.
var ErrRunActive = errors.New("pipeline already running")

// Phase is what the active stage is waiting on. Only PhaseGuardrail means
// nothing is in flight.
type Phase interface {
	phase()
	String() string
}

type PhaseGuardrail struct{}

type PhaseStage0Pending struct {
	Handle *bridge.Handle
}

type PhaseExecutingAgents struct {
	Stage    stages.Stage
	Expected []string
}

type PhaseCheckingConsensus struct {
	Stage  stages.Stage
	Ticket consensus.Ticket
}

type PhaseQualityGateExecuting struct {
	Checkpoint stages.QualityCheckpoint
	Expected   []string
}

type PhaseQualityGateAwaitingHuman struct {
	Checkpoint   stages.QualityCheckpoint
	AutoResolved []QualityIssue
	Questions    []QualityIssue
}

func (PhaseGuardrail) phase()                {}
func (PhaseStage0Pending) phase()            {}
func (PhaseExecutingAgents) phase()          {}
func (PhaseCheckingConsensus) phase()        {}
func (PhaseQualityGateExecuting) phase()     {}
func (PhaseQualityGateAwaitingHuman) phase() {}

func (PhaseGuardrail) String() string                { return "guardrail" }
func (PhaseStage0Pending) String() string            { return "stage0_pending" }
func (PhaseExecutingAgents) String() string          { return "executing_agents" }
func (PhaseCheckingConsensus) String() string        { return "checking_consensus" }
func (PhaseQualityGateExecuting) String() string     { return "quality_gate_executing" }
func (PhaseQualityGateAwaitingHuman) String() string { return "quality_gate_awaiting_human" }

// GuardrailWait is set while a guardrail script runs. TaskID is bound by
// the first GuardrailTaskStarted event.
type GuardrailWait struct {
	Stage   stages.Stage
	Command string
	TaskID  string
}

// CheckpointOutcome records how a quality checkpoint resolved.
type CheckpointOutcome struct {
	Checkpoint   stages.QualityCheckpoint
	AutoResolved int
	Escalated    int
	At           time.Time
}

// RunState is the live state of one run.
type RunState struct {
	RunID   string
	SpecID  string
	Goal    string
	HalMode string

	Stages       []stages.Stage
	CurrentIndex int
	Phase        Phase

	WaitingGuardrail *GuardrailWait
	Consensus        consensus.Sequence

	Policy      *capsule.PolicySnapshot
	CaptureMode config.CaptureMode
	Pipeline    *config.Pipeline

	CompletedCheckpoints map[stages.QualityCheckpoint]bool
	CheckpointOutcomes   []CheckpointOutcome

	// AgentResponses caches the current stage's responses by agent. Nil
	// means the stage is reviewed by the remote consensus check.
	AgentResponses    map[string]string
	agentOrder        []string
	synthesis         *consensus.Synthesis
	DegradedFollowups map[stages.Stage]bool

	Validate      *ValidateLifecycle
	validateRunID string
	Branch        PipelineBranch
	Clarification map[string]string
	Stage0        *bridge.Result
	StageStarted  time.Time
	PlanningOnly  bool
	StartedAt     time.Time
}

// Stage returns the current stage, or "" once every stage has run.
func (r *RunState) Stage() stages.Stage {
	if r.CurrentIndex >= len(r.Stages) {
		return ""
	}
	return r.Stages[r.CurrentIndex]
}

// Completed returns the stages before the current index.
func (r *RunState) Completed() []stages.Stage {
	out := make([]stages.Stage, r.CurrentIndex)
	copy(out, r.Stages[:r.CurrentIndex])
	return out
}

// StartParams is everything a run is started with. Paused gates keep a
// frozen copy and resume with it.
type StartParams struct {
	// RunID is assigned by StartRun when empty.
	RunID         string
	SpecID        string
	Goal          string
	ResumeFrom    stages.Stage
	HalMode       string
	Overrides     *config.Overrides
	PlanningOnly  bool
	Clarification map[string]string
}

// PendingGate is a paused start waiting on human input.
type PendingGate interface {
	pending()
	Spec() string
}

// PendingIntakeBackfill waits for a design brief. Resuming re-reads the
// pipeline config, so only the params are frozen.
type PendingIntakeBackfill struct {
	Params StartParams
}

// PendingMaieutic waits for clarification answers.
type PendingMaieutic struct {
	Params      StartParams
	Pipeline    *config.Pipeline
	CaptureMode config.CaptureMode
	AskedAt     time.Time
}

func (PendingIntakeBackfill) pending() {}
func (PendingMaieutic) pending()       {}

func (p PendingIntakeBackfill) Spec() string { return p.Params.SpecID }
func (p PendingMaieutic) Spec() string       { return p.Params.SpecID }

// Action tells the host what the coordinator did.
type Action interface {
	action()
}

type ActionNone struct{}

type ActionRunGuardrail struct {
	Stage   stages.Stage
	Command string
}

type ActionHalt struct {
	Reason string
}

type ActionComplete struct{}

func (ActionNone) action()         {}
func (ActionRunGuardrail) action() {}
func (ActionHalt) action()         {}
func (ActionComplete) action()     {}

// Terminal reports whether a ends the run.
func Terminal(a Action) bool {
	switch a.(type) {
	case ActionHalt, ActionComplete:
		return true
	}
	return false
}
