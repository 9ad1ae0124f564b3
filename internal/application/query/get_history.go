package query

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET HISTORY QUERY
// Журнал принятых изменений ученика, начиная с последних.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultHistoryLimit и MaxHistoryLimit ограничивают размер ответа.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

// GetHistoryQuery содержит параметры запроса журнала.
type GetHistoryQuery struct {
	LearnerID string
	Limit     int
}

// Validate проверяет параметры и подставляет значения по умолчанию.
func (q *GetHistoryQuery) Validate() error {
	if q.LearnerID == "" {
		return errors.New("learner_id is required")
	}
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Limit > MaxHistoryLimit {
		q.Limit = MaxHistoryLimit
	}
	return nil
}

// ChangeDTO - одна запись журнала.
type ChangeDTO struct {
	ID        string    `json:"id"`
	Version   uint64    `json:"version"`
	Sequence  uint64    `json:"sequence_number"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source,omitempty"`
	Fields    []string  `json:"fields"`
	Checksum  string    `json:"checksum"`
	AppliedAt time.Time `json:"applied_at"`
}

// HistoryReader читает журнал изменений.
type HistoryReader interface {
	History(ctx context.Context, learnerID string, limit int) ([]academic.ChangeRecord, error)
}

// GetHistoryHandler обрабатывает GetHistoryQuery.
type GetHistoryHandler struct {
	reader HistoryReader
}

// NewGetHistoryHandler создаёт новый обработчик.
func NewGetHistoryHandler(reader HistoryReader) *GetHistoryHandler {
	return &GetHistoryHandler{reader: reader}
}

// Handle выполняет запрос.
func (h *GetHistoryHandler) Handle(ctx context.Context, q GetHistoryQuery) ([]ChangeDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, &academic.ValidationError{Field: "history", Reason: err.Error()}
	}

	records, err := h.reader.History(ctx, q.LearnerID, q.Limit)
	if err != nil {
		return nil, err
	}

	out := make([]ChangeDTO, len(records))
	for i, r := range records {
		out[i] = ChangeDTO{
			ID:        r.ID,
			Version:   r.Version,
			Sequence:  r.Sequence,
			Kind:      string(r.Kind),
			Source:    r.Source,
			Fields:    r.Fields,
			Checksum:  r.Checksum,
			AppliedAt: r.AppliedAt,
		}
	}
	return out, nil
}
