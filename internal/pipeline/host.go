package pipeline

import (
	"time"

	"github.com/jorge-barreto/speckit/internal/config"
	"github.com/jorge-barreto/speckit/internal/consensus"
	"github.com/jorge-barreto/speckit/internal/gates"
	"github.com/jorge-barreto/speckit/internal/stages"
)

// NoticeLevel is the severity of a notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeSuccess
	NoticeWarn
	NoticeError
)

// Notice is a user-facing status message.
type Notice struct {
	Level NoticeLevel
	Lines []string
}

// GuardrailRequest asks the host to run a stage's guardrail script.
type GuardrailRequest struct {
	SpecID  string
	RunID   string
	Stage   stages.Stage
	Command string
	HalMode string
}

// AgentRequest asks the host to run a stage's agents.
type AgentRequest struct {
	SpecID string
	RunID  string
	Stage  stages.Stage
	Goal   string
	Agents []config.Agent
}

// CheckpointRequest asks the host to run a quality checkpoint.
type CheckpointRequest struct {
	SpecID     string
	RunID      string
	Stage      stages.Stage
	Checkpoint stages.QualityCheckpoint
	Agents     []config.Agent
}

// ConsensusRequest asks the host for a remote consensus check.
type ConsensusRequest struct {
	SpecID string
	Stage  stages.Stage
	Ticket consensus.Ticket
}

// ModalKind names the gate a modal collects input for.
type ModalKind int

const (
	ModalIntake ModalKind = iota
	ModalClarification
	ModalQuality
)

// GateModal asks the host to collect human input. The host answers with
// IntakeSubmitted/IntakeCancelled, ClarificationSubmitted/ClarificationCancelled
// or QualityAnswersSubmitted.
type GateModal struct {
	Kind       ModalKind
	SpecID     string
	Message    string
	Questions  []gates.Question
	Checkpoint stages.QualityCheckpoint
	Issues     []QualityIssue
}

// Host performs the coordinator's side effects. Calls must not block:
// long work runs elsewhere and reports back as an Event.
type Host interface {
	RunGuardrail(req GuardrailRequest)
	DispatchAgents(req AgentRequest)
	DispatchQualityCheckpoint(req CheckpointRequest)
	CheckConsensus(req ConsensusRequest)
	ShowGateModal(m GateModal)
	PushNotice(n Notice)
}

// Event is an inbound notification for the control loop.
type Event interface {
	event()
}

// AgentOutput is one agent's result as reported by the host.
type AgentOutput struct {
	Agent string
	Text  string
	Err   error
}

type GuardrailTaskStarted struct {
	TaskID string
}

type GuardrailTaskCompleted struct {
	TaskID   string
	ExitCode int
	Err      error
}

type AgentBatchCompleted struct {
	Stage     stages.Stage
	Responses []AgentOutput
}

type Tick struct {
	Now time.Time
}

type IntakeSubmitted struct {
	SpecID string
	Brief  []byte
}

type ClarificationSubmitted struct {
	SpecID  string
	Answers map[string]string
}

type ClarificationCancelled struct {
	SpecID string
}

type IntakeCancelled struct {
	SpecID string
}

type ConsensusResolved struct {
	Ticket consensus.Ticket
	Review *consensus.Review
	Err    error
}

type QualityBatchCompleted struct {
	Checkpoint stages.QualityCheckpoint
	Responses  []AgentOutput
}

type QualityAnswersSubmitted struct {
	Checkpoint stages.QualityCheckpoint
	Answers    map[string]string
}

func (GuardrailTaskStarted) event()    {}
func (GuardrailTaskCompleted) event()  {}
func (AgentBatchCompleted) event()     {}
func (Tick) event()                    {}
func (IntakeSubmitted) event()         {}
func (ClarificationSubmitted) event()  {}
func (ClarificationCancelled) event()  {}
func (IntakeCancelled) event()         {}
func (ConsensusResolved) event()       {}
func (QualityBatchCompleted) event()   {}
func (QualityAnswersSubmitted) event() {}
