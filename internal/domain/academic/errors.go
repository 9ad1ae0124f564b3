package academic

import (
	"fmt"

	"github.com/alem-hub/academic-state-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// ValidationError reports a malformed or disallowed update. The caller must
// correct the update and resubmit it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "academic: invalid update: " + e.Reason
	}
	return fmt.Sprintf("academic: invalid update: %s: %s", e.Field, e.Reason)
}

// Is matches shared.ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == shared.ErrValidation
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StaleUpdateError reports an update superseded by a later sequence number.
// The caller should discard it.
type StaleUpdateError struct {
	Field    Field
	Proposed uint64
	Applied  uint64
}

func (e *StaleUpdateError) Error() string {
	return fmt.Sprintf("academic: stale update: %s: sequence %d is behind applied sequence %d",
		e.Field, e.Proposed, e.Applied)
}

// Is matches shared.ErrExpired.
func (e *StaleUpdateError) Is(target error) bool {
	return target == shared.ErrExpired
}

// ConflictError reports two updates to the same field with equal precedence.
// It is surfaced to the caller and never auto-resolved.
type ConflictError struct {
	Field    Field
	Sequence uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("academic: conflicting update: %s already applied at sequence %d",
		e.Field, e.Sequence)
}

// Is matches shared.ErrConcurrentModification.
func (e *ConflictError) Is(target error) bool {
	return target == shared.ErrConcurrentModification
}

// checkClock compares a proposed sequence number with a field clock.
func checkClock(field Field, proposed, applied uint64) error {
	switch {
	case applied == 0:
		return nil
	case proposed < applied:
		return &StaleUpdateError{Field: field, Proposed: proposed, Applied: applied}
	case proposed == applied:
		return &ConflictError{Field: field, Sequence: applied}
	default:
		return nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrProfileNotFound is returned when no state exists for a learner.
	ErrProfileNotFound = shared.NewDomainError("profile", "Load", shared.ErrNotFound, "profile not found")

	// ErrProfileExists is returned when onboarding a learner twice.
	ErrProfileExists = shared.NewDomainError("profile", "Create", shared.ErrAlreadyExists, "profile already exists")

	// ErrVersionMismatch is returned when the persisted version moved under the writer.
	ErrVersionMismatch = shared.NewDomainError("state", "Save", shared.ErrOptimisticLock, "persisted version does not match")
)
