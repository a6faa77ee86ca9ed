package history

import (
	"fmt"

	sferrors "github.com/Iron-Ham/stepflow/internal/errors"
)

// Status is the recorded state of one step.
type Status string

// Step statuses.
const (
	StatusPending            Status = "pending"
	StatusCompleted          Status = "completed"
	StatusSkipped            Status = "skipped"
	StatusAwaitingDecision   Status = "awaiting_decision"
	StatusSkippedConditional Status = "skipped_conditional"
)

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusSkipped, StatusAwaitingDecision, StatusSkippedConditional:
		return true
	}
	return false
}

// ParseStatus converts the persisted form of a status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", sferrors.NewValidationError(fmt.Sprintf("unknown step status %q", s)).
			WithField("status").
			WithValue(s).
			WithCause(sferrors.ErrInvalidInput)
	}
	return st, nil
}
