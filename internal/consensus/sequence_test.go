package consensus

import (
	"errors"
	"testing"
)

func TestSequence_BeginAck(t *testing.T) {
	var s Sequence
	t1 := s.Next()
	if err := s.Begin(t1); err != nil {
		t.Fatal(err)
	}
	if s.Pending() != t1 {
		t.Fatalf("pending = %d", s.Pending())
	}
	if err := s.Ack(t1); err != nil {
		t.Fatal(err)
	}
	if s.Pending() != 0 || s.Processed() != 1 {
		t.Fatalf("pending = %d, processed = %d", s.Pending(), s.Processed())
	}
}

func TestSequence_RejectsSecondWhilePending(t *testing.T) {
	var s Sequence
	t1 := s.Next()
	t2 := s.Next()
	if err := s.Begin(t1); err != nil {
		t.Fatal(err)
	}
	if err := s.Begin(t2); !errors.Is(err, ErrTicketRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestSequence_RejectsStaleAndDuplicate(t *testing.T) {
	var s Sequence
	t1 := s.Next()
	if err := s.Begin(t1); err != nil {
		t.Fatal(err)
	}
	if err := s.Ack(t1); err != nil {
		t.Fatal(err)
	}
	// Duplicate completion for an already processed ticket.
	if err := s.Ack(t1); !errors.Is(err, ErrTicketRejected) {
		t.Fatalf("duplicate ack: %v", err)
	}
	if err := s.Begin(t1); !errors.Is(err, ErrTicketRejected) {
		t.Fatalf("re-begin processed: %v", err)
	}

	t2 := s.Next()
	if err := s.Begin(t2); err != nil {
		t.Fatal(err)
	}
	if err := s.Ack(t1); !errors.Is(err, ErrTicketRejected) {
		t.Fatalf("stale ack: %v", err)
	}
	if err := s.Begin(Ticket(99)); !errors.Is(err, ErrTicketRejected) {
		t.Fatalf("unissued ticket: %v", err)
	}
}

func TestSequence_CancelAllowsRetry(t *testing.T) {
	var s Sequence
	t1 := s.Next()
	if err := s.Begin(t1); err != nil {
		t.Fatal(err)
	}
	if !s.Cancel(t1) {
		t.Fatal("cancel should succeed")
	}
	if s.Cancel(t1) {
		t.Fatal("second cancel should fail")
	}
	if err := s.Begin(t1); err != nil {
		t.Fatalf("cancelled ticket should be retryable: %v", err)
	}
}

func TestSequence_Reset(t *testing.T) {
	var s Sequence
	t1 := s.Next()
	_ = s.Begin(t1)
	s.Reset()
	if s.Current() != 0 || s.Pending() != 0 || s.Processed() != 0 {
		t.Fatalf("not reset: %+v", s)
	}
}
