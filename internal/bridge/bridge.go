// Package bridge runs stage 0 context compilation in the background and
// lets the control loop poll it without blocking.
package bridge

import (
	"context"
	"time"
)

// DefaultTimeout bounds how long the control loop waits for a result.
const DefaultTimeout = 5 * time.Minute

// SkipKind classifies why compilation did not produce a brief.
type SkipKind string

const (
	SkipDisabled          SkipKind = "disabled"
	SkipNoSpec            SkipKind = "no_spec"
	SkipNotConfigured     SkipKind = "not_configured"
	SkipHealthCheckFailed SkipKind = "health_check_failed"
	SkipTimeout           SkipKind = "timeout"
	SkipDisconnected      SkipKind = "disconnected"
	SkipError             SkipKind = "error"
)

// Skip is an explicit skip with its reason.
type Skip struct {
	Kind   SkipKind
	Reason string
}

// Audited reports whether the skip deserves an audit event. Sources that
// were never configured are silent; failed health checks are not.
func (s *Skip) Audited() bool {
	return s != nil && s.Kind == SkipHealthCheckFailed
}

// Result is the terminal outcome of one compilation.
type Result struct {
	TaskBrief   string
	DivineTruth string
	CacheHit    bool
	Tier2Used   bool
	Degraded    bool
	Memories    int
	Duration    time.Duration

	// Skip is set when no brief was produced.
	Skip *Skip
	// Tier2Skip explains why the optional notebook enrichment was not used.
	Tier2Skip *Skip
}

// Skipped reports whether the result carries no brief.
func (r *Result) Skipped() bool { return r.Skip != nil }

// Handle is the caller's view of a running compilation.
type Handle struct {
	Progress  <-chan string
	Results   <-chan Result
	StartedAt time.Time

	cancel context.CancelFunc
}

// Stop cancels the compilation. Pending results are discarded.
func (h *Handle) Stop() {
	if h != nil && h.cancel != nil {
		h.cancel()
	}
}

// NewHandle wires a Handle to caller-owned channels. Tests and alternative
// producers use it; Spawn builds its own.
func NewHandle(progress <-chan string, results <-chan Result, startedAt time.Time) *Handle {
	return &Handle{Progress: progress, Results: results, StartedAt: startedAt}
}

// PollStatus is the state observed by Poll.
type PollStatus int

const (
	Pending PollStatus = iota
	Resolved
	TimedOut
	Disconnected
)

// PollResult carries drained progress and, unless Pending, a result.
type PollResult struct {
	Status   PollStatus
	Progress []string
	Result   *Result
}

// Poll drains progress and checks for a terminal result without blocking.
// An empty result channel past the timeout yields a Timeout skip; a closed
// channel yields a disconnect skip.
func Poll(h *Handle, now time.Time, timeout time.Duration) PollResult {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var out PollResult
drain:
	for {
		select {
		case msg, ok := <-h.Progress:
			if !ok {
				break drain
			}
			out.Progress = append(out.Progress, msg)
		default:
			break drain
		}
	}

	select {
	case r, ok := <-h.Results:
		if !ok {
			out.Status = Disconnected
			out.Result = &Result{Skip: &Skip{Kind: SkipDisconnected, Reason: "Thread disconnected"}}
			return out
		}
		out.Status = Resolved
		out.Result = &r
		return out
	default:
	}

	if now.Sub(h.StartedAt) > timeout {
		out.Status = TimedOut
		out.Result = &Result{Skip: &Skip{Kind: SkipTimeout, Reason: "Timeout"}}
	}
	return out
}
