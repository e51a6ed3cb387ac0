package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ValidateMode says who started a validate run.
type ValidateMode string

const (
	ValidateAuto   ValidateMode = "auto"
	ValidateManual ValidateMode = "manual"
)

// ValidateStatus is the active step of a validate run.
type ValidateStatus string

const (
	ValidateQueued            ValidateStatus = "queued"
	ValidateDispatched        ValidateStatus = "dispatched"
	ValidateCheckingConsensus ValidateStatus = "checking_consensus"
)

// CompletionReason is how a validate run ended.
type CompletionReason string

const (
	ReasonCompleted CompletionReason = "completed"
	ReasonCancelled CompletionReason = "cancelled"
	ReasonFailed    CompletionReason = "failed"
	ReasonReset     CompletionReason = "reset"
)

// BeginOutcome classifies a Begin call.
type BeginOutcome int

const (
	Started BeginOutcome = iota
	Duplicate
	Conflict
)

func (o BeginOutcome) String() string {
	switch o {
	case Started:
		return "started"
	case Duplicate:
		return "duplicate"
	}
	return "conflict"
}

// ValidateRun describes the active validate run.
type ValidateRun struct {
	RunID       string
	Attempt     int
	DedupeCount int
	Mode        ValidateMode
	Status      ValidateStatus
	PayloadHash string
}

// ValidateCompletion describes a finished validate run.
type ValidateCompletion struct {
	RunID       string
	Attempt     int
	DedupeCount int
	Mode        ValidateMode
	Reason      CompletionReason
	PayloadHash string
}

// ValidateLifecycle admits at most one validate run per spec. A repeated
// Begin with the same payload and mode is a duplicate; anything else while
// a run is active is a conflict. Safe for concurrent use so manual and
// automated triggers can share it.
type ValidateLifecycle struct {
	specID string

	mu      sync.Mutex
	attempt int
	active  *ValidateRun
	last    *ValidateCompletion
}

func NewValidateLifecycle(specID string) *ValidateLifecycle {
	return &ValidateLifecycle{specID: specID}
}

// Begin starts a run unless one is active.
func (l *ValidateLifecycle) Begin(mode ValidateMode, payloadHash string) (BeginOutcome, ValidateRun) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a := l.active; a != nil {
		a.DedupeCount++
		if a.PayloadHash == payloadHash && a.Mode == mode {
			return Duplicate, *a
		}
		return Conflict, *a
	}
	l.attempt++
	run := &ValidateRun{
		RunID: fmt.Sprintf("validate-%s-%s-attempt-%d-%s", l.specID, mode, l.attempt,
			strings.ReplaceAll(uuid.NewString(), "-", "")),
		Attempt:     l.attempt,
		Mode:        mode,
		Status:      ValidateQueued,
		PayloadHash: payloadHash,
	}
	l.active = run
	return Started, *run
}

func (l *ValidateLifecycle) mark(runID string, s ValidateStatus) (ValidateRun, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil || l.active.RunID != runID {
		return ValidateRun{}, false
	}
	l.active.Status = s
	return *l.active, true
}

// MarkDispatched records that agents were dispatched for runID.
func (l *ValidateLifecycle) MarkDispatched(runID string) (ValidateRun, bool) {
	return l.mark(runID, ValidateDispatched)
}

// MarkCheckingConsensus records that runID is in review.
func (l *ValidateLifecycle) MarkCheckingConsensus(runID string) (ValidateRun, bool) {
	return l.mark(runID, ValidateCheckingConsensus)
}

// Complete ends runID. A run id that is not active is ignored.
func (l *ValidateLifecycle) Complete(runID string, reason CompletionReason) (ValidateCompletion, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil || l.active.RunID != runID {
		return ValidateCompletion{}, false
	}
	return l.finish(reason), true
}

// ResetActive ends whatever run is active.
func (l *ValidateLifecycle) ResetActive(reason CompletionReason) (ValidateCompletion, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return ValidateCompletion{}, false
	}
	return l.finish(reason), true
}

func (l *ValidateLifecycle) finish(reason CompletionReason) ValidateCompletion {
	a := l.active
	c := ValidateCompletion{
		RunID:       a.RunID,
		Attempt:     a.Attempt,
		DedupeCount: a.DedupeCount,
		Mode:        a.Mode,
		Reason:      reason,
		PayloadHash: a.PayloadHash,
	}
	l.active = nil
	l.last = &c
	return c
}

// Active returns the active run, if any.
func (l *ValidateLifecycle) Active() (ValidateRun, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return ValidateRun{}, false
	}
	return *l.active, true
}

// LastCompletion returns the most recent completion, if any.
func (l *ValidateLifecycle) LastCompletion() (ValidateCompletion, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return ValidateCompletion{}, false
	}
	return *l.last, true
}

// Attempt returns how many runs have started.
func (l *ValidateLifecycle) Attempt() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempt
}
