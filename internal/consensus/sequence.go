package consensus

import (
	"errors"
	"fmt"
)

// ErrTicketRejected is returned when a consensus ticket cannot begin or
// resolve: another ticket is pending, the ticket was already processed,
// or it is not the pending one.
var ErrTicketRejected = errors.New("consensus ticket rejected")

// Ticket identifies one consensus check.
type Ticket uint64

// Sequence hands out monotonic tickets and allows at most one pending
// check at a time. It is owned by the control loop and is not safe for
// concurrent use.
type Sequence struct {
	last      Ticket
	pending   Ticket
	processed map[Ticket]bool
}

// Next returns a fresh ticket.
func (s *Sequence) Next() Ticket {
	s.last++
	return s.last
}

// Begin marks t as the pending check.
func (s *Sequence) Begin(t Ticket) error {
	if s.processed[t] {
		return fmt.Errorf("%w: ticket %d already processed", ErrTicketRejected, t)
	}
	if s.pending != 0 {
		return fmt.Errorf("%w: ticket %d while %d is pending", ErrTicketRejected, t, s.pending)
	}
	if t == 0 || t > s.last {
		return fmt.Errorf("%w: ticket %d was never issued", ErrTicketRejected, t)
	}
	s.pending = t
	return nil
}

// Ack marks the pending ticket processed so the next check can begin.
func (s *Sequence) Ack(t Ticket) error {
	if s.pending == 0 || s.pending != t {
		return fmt.Errorf("%w: ack for %d but pending is %d", ErrTicketRejected, t, s.pending)
	}
	s.pending = 0
	if s.processed == nil {
		s.processed = make(map[Ticket]bool)
	}
	s.processed[t] = true
	return nil
}

// Cancel clears a pending ticket without marking it processed.
func (s *Sequence) Cancel(t Ticket) bool {
	if s.pending == 0 || s.pending != t {
		return false
	}
	s.pending = 0
	return true
}

// Pending returns the pending ticket, or zero.
func (s *Sequence) Pending() Ticket { return s.pending }

// Current returns the last issued ticket.
func (s *Sequence) Current() Ticket { return s.last }

// Processed returns how many tickets have been acked.
func (s *Sequence) Processed() int { return len(s.processed) }

// Reset clears all state for a new run.
func (s *Sequence) Reset() {
	*s = Sequence{}
}
