package query

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
)

// ══════════════════════════════════════════════════════════════════════════════
// AGENDA QUERIES
// Ближайшие события календаря и незавершённые задания ученика.
// Оба запроса читают снимок AcademicState и ничего не меняют.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultUpcomingDays и MaxUpcomingDays ограничивают окно календаря.
const (
	DefaultUpcomingDays = 7
	MaxUpcomingDays     = 365
)

// GetUpcomingEventsQuery запрашивает события, начинающиеся в ближайшие Days дней.
type GetUpcomingEventsQuery struct {
	LearnerID string
	Days      int

	// Now - начало окна. Нулевое значение означает текущее время.
	Now time.Time
}

// Validate проверяет параметры и подставляет значения по умолчанию.
func (q *GetUpcomingEventsQuery) Validate() error {
	q.LearnerID = strings.TrimSpace(q.LearnerID)
	if q.LearnerID == "" {
		return errors.New("learner_id is required")
	}
	if q.Days < 0 {
		return errors.New("days cannot be negative")
	}
	if q.Days == 0 {
		q.Days = DefaultUpcomingDays
	}
	if q.Days > MaxUpcomingDays {
		q.Days = MaxUpcomingDays
	}
	if q.Now.IsZero() {
		q.Now = time.Now().UTC()
	}
	return nil
}

// GetActiveTasksQuery запрашивает задания, которые ещё предстоит выполнить.
type GetActiveTasksQuery struct {
	LearnerID string
	Now       time.Time
}

// Validate проверяет параметры.
func (q *GetActiveTasksQuery) Validate() error {
	q.LearnerID = strings.TrimSpace(q.LearnerID)
	if q.LearnerID == "" {
		return errors.New("learner_id is required")
	}
	if q.Now.IsZero() {
		q.Now = time.Now().UTC()
	}
	return nil
}

// AcademicStateReader читает полное состояние ученика.
type AcademicStateReader interface {
	State(ctx context.Context, learnerID string) (academic.AcademicState, error)
}

// AgendaHandler обрабатывает запросы календаря и заданий.
type AgendaHandler struct {
	reader AcademicStateReader
}

// NewAgendaHandler создаёт новый обработчик.
func NewAgendaHandler(reader AcademicStateReader) *AgendaHandler {
	return &AgendaHandler{reader: reader}
}

// UpcomingEvents возвращает события с началом в [Now, Now+Days] по возрастанию времени.
func (h *AgendaHandler) UpcomingEvents(ctx context.Context, q GetUpcomingEventsQuery) ([]academic.CalendarEvent, error) {
	if err := q.Validate(); err != nil {
		return nil, &academic.ValidationError{Field: "upcoming_events", Reason: err.Error()}
	}

	state, err := h.reader.State(ctx, q.LearnerID)
	if err != nil {
		return nil, err
	}

	until := q.Now.AddDate(0, 0, q.Days)
	out := make([]academic.CalendarEvent, 0, len(state.Calendar))
	for _, ev := range state.Calendar {
		if ev.StartTime.Before(q.Now) || ev.StartTime.After(until) {
			continue
		}
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ActiveTasks возвращает задания в статусе pending или in_progress, которые
// не отмечены выполненными и срок которых ещё не прошёл. Задания со сроком
// идут первыми по возрастанию срока, задания без срока - после них.
func (h *AgendaHandler) ActiveTasks(ctx context.Context, q GetActiveTasksQuery) ([]academic.AcademicTask, error) {
	if err := q.Validate(); err != nil {
		return nil, &academic.ValidationError{Field: "active_tasks", Reason: err.Error()}
	}

	state, err := h.reader.State(ctx, q.LearnerID)
	if err != nil {
		return nil, err
	}

	completed := make(map[string]struct{}, len(state.CompletedTasks))
	for _, id := range state.CompletedTasks {
		completed[id] = struct{}{}
	}

	out := make([]academic.AcademicTask, 0, len(state.Tasks))
	for id, task := range state.Tasks {
		if task.Status != academic.TaskStatusPending && task.Status != academic.TaskStatusInProgress {
			continue
		}
		if _, done := completed[id]; done {
			continue
		}
		if due, ok := task.DueDate.Get(); ok && !due.After(q.Now) {
			continue
		}
		out = append(out, task)
	}

	sort.Slice(out, func(i, j int) bool {
		di, iok := out[i].DueDate.Get()
		dj, jok := out[j].DueDate.Get()
		switch {
		case iok && jok && !di.Equal(dj):
			return di.Before(dj)
		case iok != jok:
			return iok
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
