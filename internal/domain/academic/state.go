package academic

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACADEMIC STATE
// ══════════════════════════════════════════════════════════════════════════════

// Task statuses.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusCancelled  = "cancelled"
)

// Task priority bounds.
const (
	MinTaskPriority = 1
	MaxTaskPriority = 5
)

// CalendarEvent is a class, exam, deadline or any other dated event.
type CalendarEvent struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Type        string         `json:"type"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AcademicTask is an assignment or study task.
type AcademicTask struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	DueDate     Optional[time.Time] `json:"due_date,omitzero"`
	Status      string              `json:"status"`
	Priority    int                 `json:"priority"`
	Attachments []string            `json:"attachments,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

// ProgressMetric is one measurement (grade, completion rate, practice time).
type ProgressMetric struct {
	MetricType string         `json:"metric_type"`
	Value      float64        `json:"value"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// FeedbackItem is feedback given on a task or course.
type FeedbackItem struct {
	FeedbackType string         `json:"feedback_type"`
	Content      string         `json:"content"`
	Context      map[string]any `json:"context,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// ValidationResult is the outcome of the last validation pass run by agents.
type ValidationResult struct {
	IsValid     bool     `json:"is_valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// AcademicState is the versioned container handed to agents. It holds one
// learner's profile plus task, calendar, progress and feedback sub-states.
type AcademicState struct {
	Profile StudentProfile `json:"profile"`

	Calendar       map[string]CalendarEvent `json:"calendar"`
	UpcomingEvents []string                 `json:"upcoming_events"`

	Tasks          map[string]AcademicTask `json:"tasks"`
	ActiveTasks    []string                `json:"active_tasks"`
	CompletedTasks []string                `json:"completed_tasks"`

	Progress          map[string][]ProgressMetric `json:"progress"`
	LearningResources map[string][]string         `json:"learning_resources"`
	StudyPlans        map[string]any              `json:"study_plans"`

	Results       map[string]any   `json:"results"`
	Feedback      []FeedbackItem   `json:"feedback"`
	Notifications []map[string]any `json:"notifications"`

	Validation Optional[ValidationResult] `json:"validation,omitzero"`

	// Version is bumped on every accepted change.
	Version uint64 `json:"version"`
	// DeltaSequence is the last applied StateDelta sequence number.
	DeltaSequence uint64 `json:"delta_sequence"`
}

// NewAcademicState wraps a freshly onboarded profile in an empty state.
func NewAcademicState(profile StudentProfile) AcademicState {
	return AcademicState{
		Profile:           profile.Clone(),
		Calendar:          make(map[string]CalendarEvent),
		UpcomingEvents:    []string{},
		Tasks:             make(map[string]AcademicTask),
		ActiveTasks:       []string{},
		CompletedTasks:    []string{},
		Progress:          make(map[string][]ProgressMetric),
		LearningResources: make(map[string][]string),
		StudyPlans:        make(map[string]any),
		Results:           make(map[string]any),
		Feedback:          []FeedbackItem{},
		Notifications:     []map[string]any{},
	}
}

// LearnerID returns the id of the owning profile.
func (s AcademicState) LearnerID() string {
	return s.Profile.ID
}

// Clone returns a deep copy of the state.
func (s AcademicState) Clone() AcademicState {
	out := AcademicState{
		Profile:           s.Profile.Clone(),
		UpcomingEvents:    cloneStrings(s.UpcomingEvents),
		ActiveTasks:       cloneStrings(s.ActiveTasks),
		CompletedTasks:    cloneStrings(s.CompletedTasks),
		StudyPlans:        cloneMap(s.StudyPlans),
		Results:           cloneMap(s.Results),
		Notifications:     cloneMaps(s.Notifications),
		Version:           s.Version,
		DeltaSequence:     s.DeltaSequence,
		Calendar:          cloneCalendar(s.Calendar),
		Tasks:             cloneTasks(s.Tasks),
		Progress:          cloneProgress(s.Progress),
		LearningResources: cloneResources(s.LearningResources),
	}

	if s.Feedback != nil {
		out.Feedback = make([]FeedbackItem, len(s.Feedback))
		for i, f := range s.Feedback {
			out.Feedback[i] = f.clone()
		}
	}
	if v, ok := s.Validation.Get(); ok {
		out.Validation = Some(v.clone())
	}

	return out
}

// String returns a short representation for logging.
func (s AcademicState) String() string {
	return fmt.Sprintf("AcademicState{Learner: %s, Version: %d, Tasks: %d, Events: %d}",
		s.Profile.ID, s.Version, len(s.Tasks), len(s.Calendar))
}

// ─────────────────────────────────────────────────────────────────────────────
// Deep copies
// ─────────────────────────────────────────────────────────────────────────────

func (e CalendarEvent) clone() CalendarEvent {
	e.Metadata = cloneMap(e.Metadata)
	return e
}

func (t AcademicTask) clone() AcademicTask {
	t.Attachments = cloneStrings(t.Attachments)
	t.Metadata = cloneMap(t.Metadata)
	return t
}

func (m ProgressMetric) clone() ProgressMetric {
	m.Metadata = cloneMap(m.Metadata)
	return m
}

func (f FeedbackItem) clone() FeedbackItem {
	f.Context = cloneMap(f.Context)
	return f
}

func (v ValidationResult) clone() ValidationResult {
	v.Errors = cloneStrings(v.Errors)
	v.Warnings = cloneStrings(v.Warnings)
	v.Suggestions = cloneStrings(v.Suggestions)
	return v
}

func cloneCalendar(in map[string]CalendarEvent) map[string]CalendarEvent {
	if in == nil {
		return nil
	}
	out := make(map[string]CalendarEvent, len(in))
	for k, e := range in {
		out[k] = e.clone()
	}
	return out
}

func cloneTasks(in map[string]AcademicTask) map[string]AcademicTask {
	if in == nil {
		return nil
	}
	out := make(map[string]AcademicTask, len(in))
	for k, t := range in {
		out[k] = t.clone()
	}
	return out
}

func cloneMetrics(in []ProgressMetric) []ProgressMetric {
	if in == nil {
		return nil
	}
	out := make([]ProgressMetric, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}

func cloneProgress(in map[string][]ProgressMetric) map[string][]ProgressMetric {
	if in == nil {
		return nil
	}
	out := make(map[string][]ProgressMetric, len(in))
	for k, ms := range in {
		out[k] = cloneMetrics(ms)
	}
	return out
}

func cloneResources(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, rs := range in {
		out[k] = cloneStrings(rs)
	}
	return out
}
