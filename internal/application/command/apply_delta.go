package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/academic-state-hub/internal/application/statestore"
	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
	"github.com/alem-hub/academic-state-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY DELTA COMMAND
// Partial update of calendar, task, progress and feedback sub-states.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyDeltaCommand wraps a StateDelta received from an agent.
type ApplyDeltaCommand struct {
	Delta academic.StateDelta `json:"delta"`

	// CorrelationID is stamped on the events the command causes.
	CorrelationID string `json:"-"`
}

// Validate checks the delta envelope and section sizes.
func (c ApplyDeltaCommand) Validate() error {
	return validateCommand("ApplyDelta", c)
}

// ApplyDeltaResult reports the outcome of a delta.
type ApplyDeltaResult struct {
	Outcome   academic.Outcome        `json:"outcome"`
	LearnerID string                  `json:"learner_id"`
	Sequence  uint64                  `json:"sequence_number"`
	State     *academic.AcademicState `json:"state,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// DeltaSubmitter applies state deltas.
type DeltaSubmitter interface {
	SubmitDelta(ctx context.Context, d academic.StateDelta) (academic.AcademicState, error)
}

// ApplyDeltaHandler handles the ApplyDeltaCommand.
type ApplyDeltaHandler struct {
	hub DeltaSubmitter
}

// NewApplyDeltaHandler creates a new ApplyDeltaHandler.
func NewApplyDeltaHandler(hub DeltaSubmitter) *ApplyDeltaHandler {
	return &ApplyDeltaHandler{hub: hub}
}

// Handle executes the command.
func (h *ApplyDeltaHandler) Handle(ctx context.Context, cmd ApplyDeltaCommand) (*ApplyDeltaResult, error) {
	result := &ApplyDeltaResult{
		LearnerID: cmd.Delta.LearnerID,
		Sequence:  cmd.Delta.Sequence,
	}

	if err := cmd.Validate(); err != nil {
		result.Outcome = academic.OutcomeInvalid
		result.Error = err.Error()
		return result, nil
	}

	ctx = shared.ContextWithCorrelationID(ctx, cmd.CorrelationID)
	state, err := h.hub.SubmitDelta(ctx, cmd.Delta)
	if err != nil {
		if !statestore.IsRejection(err) {
			return nil, fmt.Errorf("apply_delta: %w", err)
		}
		result.Outcome = academic.Classify(err)
		result.Error = err.Error()
		return result, nil
	}

	result.Outcome = academic.OutcomeAccepted
	result.State = &state
	return result, nil
}
