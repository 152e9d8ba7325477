package models

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError flags malformed input. The offending operation is rejected
// synchronously and never partially applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// CooldownViolationError refuses a playbook execution attempted before the
// cooldown window has elapsed.
type CooldownViolationError struct {
	PlaybookID string
	Remaining  time.Duration
}

func (e *CooldownViolationError) Error() string {
	return fmt.Sprintf("playbook %s in cooldown for another %s", e.PlaybookID, e.Remaining.Round(time.Second))
}

// MaxExecutionsExceededError refuses a playbook execution past the safety cap
// inside the current cooldown window.
type MaxExecutionsExceededError struct {
	PlaybookID string
	Max        int
}

func (e *MaxExecutionsExceededError) Error() string {
	return fmt.Sprintf("playbook %s reached its execution cap of %d", e.PlaybookID, e.Max)
}

// BlockedResolutionError refuses resolution of an incident with an open
// blocking dependency.
type BlockedResolutionError struct {
	IncidentID   string
	DependencyID string
}

func (e *BlockedResolutionError) Error() string {
	return fmt.Sprintf("incident %s blocked by unresolved dependency %s", e.IncidentID, e.DependencyID)
}

// IsPrecondition reports whether the error refuses an operation that the
// caller may retry later, with state left unchanged.
func IsPrecondition(err error) bool {
	var cooldown *CooldownViolationError
	var capped *MaxExecutionsExceededError
	var blocked *BlockedResolutionError
	return errors.As(err, &cooldown) || errors.As(err, &capped) || errors.As(err, &blocked)
}
