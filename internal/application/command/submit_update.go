package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/academic-state-hub/internal/application/statestore"
	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
	"github.com/alem-hub/academic-state-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT UPDATE COMMAND
// Partial profile update proposed by an agent.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitUpdateCommand is the update envelope as received from an agent.
type SubmitUpdateCommand struct {
	ProfileID string                 `json:"profile_id" validate:"required,max=128"`
	Sequence  uint64                 `json:"sequence_number" validate:"gt=0"`
	Source    string                 `json:"source" validate:"omitempty,max=100"`
	Changes   []academic.FieldChange `json:"changes" validate:"required,min=1,max=16,dive"`

	// CorrelationID is stamped on the events the command causes.
	CorrelationID string `json:"-"`
}

// Validate validates the envelope. Field-level rules are enforced by the
// domain validator.
func (c SubmitUpdateCommand) Validate() error {
	return validateCommand("SubmitUpdate", c)
}

// Update converts the command into a domain update.
func (c SubmitUpdateCommand) Update() academic.Update {
	return academic.Update{
		ProfileID: c.ProfileID,
		Sequence:  c.Sequence,
		Source:    c.Source,
		Changes:   c.Changes,
	}
}

// SubmitUpdateResult reports the outcome of an update.
type SubmitUpdateResult struct {
	Outcome   academic.Outcome         `json:"outcome"`
	LearnerID string                   `json:"learner_id"`
	Sequence  uint64                   `json:"sequence_number"`
	Profile   *academic.StudentProfile `json:"profile,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// UpdateSubmitter applies profile updates.
type UpdateSubmitter interface {
	SubmitUpdate(ctx context.Context, u academic.Update) (academic.StudentProfile, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SubmitUpdateHandler handles the SubmitUpdateCommand.
type SubmitUpdateHandler struct {
	hub UpdateSubmitter
}

// NewSubmitUpdateHandler creates a new SubmitUpdateHandler.
func NewSubmitUpdateHandler(hub UpdateSubmitter) *SubmitUpdateHandler {
	return &SubmitUpdateHandler{hub: hub}
}

// Handle executes the command. Rejected updates (invalid, stale, conflicting,
// unknown learner) are reported in the result and never retried here.
func (h *SubmitUpdateHandler) Handle(ctx context.Context, cmd SubmitUpdateCommand) (*SubmitUpdateResult, error) {
	result := &SubmitUpdateResult{
		LearnerID: cmd.ProfileID,
		Sequence:  cmd.Sequence,
	}

	if err := cmd.Validate(); err != nil {
		result.Outcome = academic.OutcomeInvalid
		result.Error = err.Error()
		return result, nil
	}

	ctx = shared.ContextWithCorrelationID(ctx, cmd.CorrelationID)
	profile, err := h.hub.SubmitUpdate(ctx, cmd.Update())
	if err != nil {
		if !statestore.IsRejection(err) {
			return nil, fmt.Errorf("submit_update: %w", err)
		}
		result.Outcome = academic.Classify(err)
		result.Error = err.Error()
		return result, nil
	}

	result.Outcome = academic.OutcomeAccepted
	result.Profile = &profile
	return result, nil
}
