// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"strings"

	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SNAPSHOT QUERY
// Возвращает копию последнего состояния ученика на момент запроса.
// Агенты не держат ссылок на состояние: каждый запрос даёт новый снимок.
// ══════════════════════════════════════════════════════════════════════════════

// GetSnapshotQuery содержит параметры запроса снимка.
type GetSnapshotQuery struct {
	// LearnerID - ID ученика.
	LearnerID string

	// Full - вернуть всё AcademicState, а не только профиль.
	Full bool
}

// Validate проверяет корректность параметров запроса.
func (q *GetSnapshotQuery) Validate() error {
	q.LearnerID = strings.TrimSpace(q.LearnerID)
	if q.LearnerID == "" {
		return errors.New("learner_id is required")
	}
	return nil
}

// SnapshotDTO - снимок состояния ученика.
type SnapshotDTO struct {
	LearnerID string                   `json:"learner_id"`
	Profile   *academic.StudentProfile `json:"profile,omitempty"`
	State     *academic.AcademicState  `json:"state,omitempty"`
}

// StateReader читает последние состояния.
type StateReader interface {
	Snapshot(ctx context.Context, learnerID string) (academic.StudentProfile, error)
	State(ctx context.Context, learnerID string) (academic.AcademicState, error)
}

// GetSnapshotHandler обрабатывает GetSnapshotQuery.
type GetSnapshotHandler struct {
	reader StateReader
}

// NewGetSnapshotHandler создаёт новый обработчик.
func NewGetSnapshotHandler(reader StateReader) *GetSnapshotHandler {
	return &GetSnapshotHandler{reader: reader}
}

// Handle выполняет запрос.
func (h *GetSnapshotHandler) Handle(ctx context.Context, q GetSnapshotQuery) (*SnapshotDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, &academic.ValidationError{Field: "learner_id", Reason: err.Error()}
	}

	dto := &SnapshotDTO{LearnerID: q.LearnerID}

	if q.Full {
		state, err := h.reader.State(ctx, q.LearnerID)
		if err != nil {
			return nil, err
		}
		dto.State = &state
		return dto, nil
	}

	profile, err := h.reader.Snapshot(ctx, q.LearnerID)
	if err != nil {
		return nil, err
	}
	dto.Profile = &profile
	return dto, nil
}
