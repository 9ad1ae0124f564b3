package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/academic-state-hub/internal/application/statestore"
	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
	"github.com/alem-hub/academic-state-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ONBOARD STUDENT COMMAND
// Создаёт профиль ученика при первом подключении. Профиль создаётся один раз
// и дальше меняется только через частичные обновления.
// ══════════════════════════════════════════════════════════════════════════════

// OnboardStudentCommand contains the attributes captured at onboarding.
type OnboardStudentCommand struct {
	// LearnerID - optional; generated when empty.
	LearnerID string `json:"learner_id" validate:"omitempty,max=128"`

	Name  string `json:"name" validate:"required,max=200"`
	Level string `json:"level" validate:"omitempty,max=100"`
	Major string `json:"major" validate:"omitempty,max=100"`

	Courses     []string       `json:"courses" validate:"omitempty,max=256,dive,required,max=128"`
	Topics      []string       `json:"topics" validate:"omitempty,max=256,dive,required,max=128"`
	Preferences map[string]any `json:"preferences" validate:"omitempty,max=128"`

	// CorrelationID is stamped on the events the command causes.
	CorrelationID string `json:"-"`
}

// Validate validates the command.
func (c OnboardStudentCommand) Validate() error {
	return validateCommand("OnboardStudent", c)
}

// OnboardStudentResult contains the created profile.
type OnboardStudentResult struct {
	Outcome   academic.Outcome         `json:"outcome"`
	LearnerID string                   `json:"learner_id,omitempty"`
	Version   uint64                   `json:"version,omitempty"`
	Profile   *academic.StudentProfile `json:"profile,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// Onboarder creates learner stores.
type Onboarder interface {
	Onboard(ctx context.Context, params academic.NewProfileParams) (*statestore.Store, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// OnboardStudentHandler handles the OnboardStudentCommand.
type OnboardStudentHandler struct {
	hub Onboarder
}

// NewOnboardStudentHandler creates a new OnboardStudentHandler.
func NewOnboardStudentHandler(hub Onboarder) *OnboardStudentHandler {
	return &OnboardStudentHandler{hub: hub}
}

// Handle executes the onboarding command. Rejections (invalid input, an
// existing learner) are reported in the result; only infrastructure
// failures are returned as errors.
func (h *OnboardStudentHandler) Handle(ctx context.Context, cmd OnboardStudentCommand) (*OnboardStudentResult, error) {
	if err := cmd.Validate(); err != nil {
		return rejectedOnboard(cmd.LearnerID, err), nil
	}

	ctx = shared.ContextWithCorrelationID(ctx, cmd.CorrelationID)
	store, err := h.hub.Onboard(ctx, academic.NewProfileParams{
		ID:          cmd.LearnerID,
		Name:        cmd.Name,
		Level:       cmd.Level,
		Major:       cmd.Major,
		Courses:     cmd.Courses,
		Topics:      cmd.Topics,
		Preferences: cmd.Preferences,
	})
	if err != nil {
		if statestore.IsRejection(err) {
			return rejectedOnboard(cmd.LearnerID, err), nil
		}
		return nil, fmt.Errorf("onboard_student: %w", err)
	}

	profile := store.GetSnapshot()
	return &OnboardStudentResult{
		Outcome:   academic.OutcomeAccepted,
		LearnerID: profile.ID,
		Version:   store.Version(),
		Profile:   &profile,
	}, nil
}

func rejectedOnboard(learnerID string, err error) *OnboardStudentResult {
	return &OnboardStudentResult{
		Outcome:   academic.Classify(err),
		LearnerID: learnerID,
		Error:     err.Error(),
	}
}
