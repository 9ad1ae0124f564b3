package academic

import (
	"errors"

	"github.com/alem-hub/academic-state-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN EVENTS
// Published by the state store after a change is accepted or rejected, so
// that other agents can refresh their snapshots.
// ══════════════════════════════════════════════════════════════════════════════

// ProfileOnboardedEvent - a learner profile was created.
type ProfileOnboardedEvent struct {
	shared.BaseEvent
	Name string
}

// NewProfileOnboardedEvent creates the onboarding event for a state.
func NewProfileOnboardedEvent(state AcademicState) ProfileOnboardedEvent {
	return ProfileOnboardedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventProfileOnboarded, state.Profile.ID, state.Version),
		Name:      state.Profile.Name,
	}
}

// Payload implements shared.Event.
func (e ProfileOnboardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id": e.AggregateId,
		"name":       e.Name,
		"version":    e.Version,
	}
}

// ProfileUpdatedEvent - an update was merged into a profile.
type ProfileUpdatedEvent struct {
	shared.BaseEvent
	Sequence uint64
	Source   string
	Fields   []Field
}

// NewProfileUpdatedEvent creates the event for an accepted update.
func NewProfileUpdatedEvent(state AcademicState, u ValidatedUpdate) ProfileUpdatedEvent {
	return ProfileUpdatedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventProfileUpdated, state.Profile.ID, state.Version),
		Sequence:  u.Sequence(),
		Source:    u.Source(),
		Fields:    u.Fields(),
	}
}

// Payload implements shared.Event.
func (e ProfileUpdatedEvent) Payload() map[string]interface{} {
	fields := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		fields[i] = f.String()
	}
	return map[string]interface{}{
		"learner_id":      e.AggregateId,
		"version":         e.Version,
		"sequence_number": e.Sequence,
		"source":          e.Source,
		"fields":          fields,
	}
}

// StateDeltaAppliedEvent - a delta was merged into the sub-states.
type StateDeltaAppliedEvent struct {
	shared.BaseEvent
	Sequence uint64
	Source   string
	Sections []string
}

// NewStateDeltaAppliedEvent creates the event for an accepted delta.
func NewStateDeltaAppliedEvent(state AcademicState, d ValidatedDelta) StateDeltaAppliedEvent {
	return StateDeltaAppliedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventStateDeltaApplied, state.Profile.ID, state.Version),
		Sequence:  d.Sequence(),
		Source:    d.Source(),
		Sections:  d.Sections(),
	}
}

// Payload implements shared.Event.
func (e StateDeltaAppliedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":      e.AggregateId,
		"version":         e.Version,
		"sequence_number": e.Sequence,
		"source":          e.Source,
		"sections":        e.Sections,
	}
}

// ChangeRejectedEvent - an update or delta was refused.
type ChangeRejectedEvent struct {
	shared.BaseEvent
	Sequence uint64
	Source   string
	Reason   string
	Outcome  Outcome
}

// NewChangeRejectedEvent creates a rejection event. eventType is either
// shared.EventProfileUpdateRejected or shared.EventStateDeltaRejected.
func NewChangeRejectedEvent(eventType shared.EventType, learnerID string, version, sequence uint64, source string, err error) ChangeRejectedEvent {
	return ChangeRejectedEvent{
		BaseEvent: shared.NewBaseEvent(eventType, learnerID, version),
		Sequence:  sequence,
		Source:    source,
		Reason:    err.Error(),
		Outcome:   Classify(err),
	}
}

// Payload implements shared.Event.
func (e ChangeRejectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":      e.AggregateId,
		"version":         e.Version,
		"sequence_number": e.Sequence,
		"source":          e.Source,
		"reason":          e.Reason,
		"outcome":         string(e.Outcome),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// OUTCOMES
// ══════════════════════════════════════════════════════════════════════════════

// Outcome classifies the result of submitting a change.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeInvalid  Outcome = "invalid"
	OutcomeStale    Outcome = "stale"
	OutcomeConflict Outcome = "conflict"
	OutcomeNotFound Outcome = "not_found"
	OutcomeExists   Outcome = "exists"
	OutcomeError    Outcome = "error"
)

// Classify maps an error returned by Validate, Merge or a store to an Outcome.
func Classify(err error) Outcome {
	var (
		validationErr *ValidationError
		staleErr      *StaleUpdateError
		conflictErr   *ConflictError
	)
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.As(err, &validationErr):
		return OutcomeInvalid
	case errors.As(err, &staleErr):
		return OutcomeStale
	case errors.As(err, &conflictErr):
		return OutcomeConflict
	case errors.Is(err, shared.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, shared.ErrAlreadyExists):
		return OutcomeExists
	default:
		return OutcomeError
	}
}
