package status

import (
	"errors"
	"fmt"
	"slices"
)

// Status is the delivery state of a single message.
type Status string

const (
	Pending   Status = "pending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Failed    Status = "failed"
)

// ErrInvalidTransition is wrapped by every *TransitionError.
var ErrInvalidTransition = errors.New("invalid status transition")

// validTransitions defines allowed status moves. Failed only leaves through an
// explicit retry, which re-enters Pending.
var validTransitions = map[Status][]Status{
	Pending:   {Sent, Delivered, Read, Failed},
	Sent:      {Delivered, Read},
	Delivered: {Read},
	Read:      {},
	Failed:    {Pending},
}

var rank = map[Status]int{
	Pending:   0,
	Sent:      1,
	Delivered: 2,
	Read:      3,
}

// TransitionError reports a rejected move between two statuses.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Parse validates a wire value.
func Parse(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown message status %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Settled reports whether the message content is frozen. Settled messages
// still accept forward status moves.
func (s Status) Settled() bool {
	return s == Delivered || s == Read || s == Failed
}

// Transition validates a move from one status to another. Staying in place is
// always allowed.
func Transition(from, to Status) error {
	if from == to {
		return nil
	}
	if !slices.Contains(validTransitions[from], to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// Merge folds an authoritative status into the local one without ever moving
// backwards. A failed message stays failed until it is retried, and a failure
// report cannot undo a confirmation.
func Merge(current, incoming Status) Status {
	if current == Failed || !incoming.Valid() {
		return current
	}
	if incoming == Failed {
		if current == Pending {
			return Failed
		}
		return current
	}
	if rank[incoming] > rank[current] {
		return incoming
	}
	return current
}
