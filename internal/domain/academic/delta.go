package academic

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// deltaClock is the clock key guarding StateDelta application.
const deltaClock Field = "delta_sequence"

// ══════════════════════════════════════════════════════════════════════════════
// STATE DELTA
// ══════════════════════════════════════════════════════════════════════════════

// StateDelta is a partial update of the sub-states of an AcademicState.
// Every section is optional; absent sections are left untouched.
type StateDelta struct {
	LearnerID string `json:"learner_id"`
	Sequence  uint64 `json:"sequence_number"`
	Source    string `json:"source,omitempty"`

	Calendar       map[string]CalendarEvent `json:"calendar,omitempty"`
	UpcomingEvents []string                 `json:"upcoming_events,omitempty"`

	Tasks          map[string]AcademicTask `json:"tasks,omitempty"`
	ActiveTasks    []string                `json:"active_tasks,omitempty"`
	CompletedTasks []string                `json:"completed_tasks,omitempty"`

	Progress          map[string][]ProgressMetric `json:"progress,omitempty"`
	LearningResources map[string][]string         `json:"learning_resources,omitempty"`
	StudyPlans        map[string]any              `json:"study_plans,omitempty"`

	Results       map[string]any   `json:"results,omitempty"`
	Feedback      []FeedbackItem   `json:"feedback,omitempty"`
	Notifications []map[string]any `json:"notifications,omitempty"`

	Validation *ValidationResult `json:"validation,omitempty"`
}

// DecodeDelta parses the JSON form of a StateDelta, rejecting unknown keys.
func DecodeDelta(data []byte) (StateDelta, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var d StateDelta
	if err := dec.Decode(&d); err != nil {
		return StateDelta{}, decodeError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return StateDelta{}, invalid("", "unexpected data after delta")
	}
	return d, nil
}

// Sections returns the names of the sections the delta touches.
func (d StateDelta) Sections() []string {
	var out []string
	add := func(name string, present bool) {
		if present {
			out = append(out, name)
		}
	}
	add("calendar", len(d.Calendar) > 0)
	add("upcoming_events", len(d.UpcomingEvents) > 0)
	add("tasks", len(d.Tasks) > 0)
	add("active_tasks", len(d.ActiveTasks) > 0)
	add("completed_tasks", len(d.CompletedTasks) > 0)
	add("progress", len(d.Progress) > 0)
	add("learning_resources", len(d.LearningResources) > 0)
	add("study_plans", len(d.StudyPlans) > 0)
	add("results", len(d.Results) > 0)
	add("feedback", len(d.Feedback) > 0)
	add("notifications", len(d.Notifications) > 0)
	add("validation", d.Validation != nil)
	return out
}

// ValidatedDelta is a StateDelta that passed ValidateDelta. It holds a
// private normalized copy of the input.
type ValidatedDelta struct {
	delta StateDelta
}

// LearnerID returns the targeted learner.
func (v ValidatedDelta) LearnerID() string { return v.delta.LearnerID }

// Sequence returns the delta sequence number.
func (v ValidatedDelta) Sequence() uint64 { return v.delta.Sequence }

// Source returns the proposing agent, if any.
func (v ValidatedDelta) Source() string { return v.delta.Source }

// Sections returns the touched sections.
func (v ValidatedDelta) Sections() []string { return v.delta.Sections() }

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// ValidateDelta checks every section of d and returns a normalized copy.
func ValidateDelta(d StateDelta) (ValidatedDelta, error) {
	d.LearnerID = strings.TrimSpace(d.LearnerID)
	if d.LearnerID == "" {
		return ValidatedDelta{}, invalid("learner_id", "is required")
	}
	if d.Sequence == 0 {
		return ValidatedDelta{}, invalid("sequence_number", "must be greater than zero")
	}
	if len(d.Sections()) == 0 {
		return ValidatedDelta{}, invalid("", "delta touches no section")
	}

	out := StateDelta{
		LearnerID: d.LearnerID,
		Sequence:  d.Sequence,
		Source:    strings.TrimSpace(d.Source),
		Calendar:  cloneCalendar(d.Calendar),
		Tasks:     cloneTasks(d.Tasks),
		Progress:  cloneProgress(d.Progress),
	}

	var err error
	if out.StudyPlans, err = jsonObject("study_plans", d.StudyPlans); err != nil {
		return ValidatedDelta{}, err
	}
	if out.Results, err = jsonObject("results", d.Results); err != nil {
		return ValidatedDelta{}, err
	}
	if out.Notifications, err = jsonObjects("notifications", d.Notifications); err != nil {
		return ValidatedDelta{}, err
	}
	if out.UpcomingEvents, err = toStringList("upcoming_events", d.UpcomingEvents); err != nil {
		return ValidatedDelta{}, err
	}
	if out.ActiveTasks, err = toStringList("active_tasks", d.ActiveTasks); err != nil {
		return ValidatedDelta{}, err
	}
	if out.CompletedTasks, err = toStringList("completed_tasks", d.CompletedTasks); err != nil {
		return ValidatedDelta{}, err
	}

	for key, ev := range out.Calendar {
		ev, err := validateEvent(key, ev)
		if err != nil {
			return ValidatedDelta{}, err
		}
		out.Calendar[key] = ev
	}
	for key, task := range out.Tasks {
		task, err := validateTask(key, task)
		if err != nil {
			return ValidatedDelta{}, err
		}
		out.Tasks[key] = task
	}
	for key, metrics := range out.Progress {
		if strings.TrimSpace(key) == "" {
			return ValidatedDelta{}, invalid("progress", "keys cannot be empty")
		}
		for i, m := range metrics {
			if strings.TrimSpace(m.MetricType) == "" {
				return ValidatedDelta{}, invalid("progress."+key, "metric %d has no metric_type", i)
			}
			if metrics[i].Metadata, err = jsonObject("progress."+key, m.Metadata); err != nil {
				return ValidatedDelta{}, err
			}
		}
	}

	if len(d.LearningResources) > 0 {
		out.LearningResources = make(map[string][]string, len(d.LearningResources))
		for key, rs := range d.LearningResources {
			if strings.TrimSpace(key) == "" {
				return ValidatedDelta{}, invalid("learning_resources", "keys cannot be empty")
			}
			list, err := toStringList(Field("learning_resources."+key), rs)
			if err != nil {
				return ValidatedDelta{}, err
			}
			out.LearningResources[key] = list
		}
	}

	if len(d.Feedback) > 0 {
		out.Feedback = make([]FeedbackItem, len(d.Feedback))
		for i, f := range d.Feedback {
			if strings.TrimSpace(f.FeedbackType) == "" {
				return ValidatedDelta{}, invalid("feedback", "item %d has no feedback_type", i)
			}
			if strings.TrimSpace(f.Content) == "" {
				return ValidatedDelta{}, invalid("feedback", "item %d has no content", i)
			}
			ctx, err := jsonObject("feedback", f.Context)
			if err != nil {
				return ValidatedDelta{}, err
			}
			f.Context = ctx
			out.Feedback[i] = f
		}
	}
	for i, n := range out.Notifications {
		if len(n) == 0 {
			return ValidatedDelta{}, invalid("notifications", "entry %d cannot be empty", i)
		}
	}

	if d.Validation != nil {
		v := d.Validation.clone()
		out.Validation = &v
	}

	return ValidatedDelta{delta: out}, nil
}

func validateEvent(key string, ev CalendarEvent) (CalendarEvent, error) {
	field := "calendar." + key
	if ev.ID == "" {
		ev.ID = key
	}
	if ev.ID != key {
		return CalendarEvent{}, invalid(field, "id %q does not match key", ev.ID)
	}
	if strings.TrimSpace(ev.Title) == "" {
		return CalendarEvent{}, invalid(field, "title is required")
	}
	if ev.StartTime.IsZero() {
		return CalendarEvent{}, invalid(field, "start_time is required")
	}
	if ev.EndTime.Before(ev.StartTime) {
		return CalendarEvent{}, invalid(field, "end_time is before start_time")
	}
	meta, err := jsonObject(field, ev.Metadata)
	if err != nil {
		return CalendarEvent{}, err
	}
	ev.Metadata = meta
	return ev, nil
}

func validateTask(key string, t AcademicTask) (AcademicTask, error) {
	field := "tasks." + key
	if t.ID == "" {
		t.ID = key
	}
	if t.ID != key {
		return AcademicTask{}, invalid(field, "id %q does not match key", t.ID)
	}
	if strings.TrimSpace(t.Title) == "" {
		return AcademicTask{}, invalid(field, "title is required")
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	switch t.Status {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
	default:
		return AcademicTask{}, invalid(field, "unknown status %q", t.Status)
	}
	if t.Priority < MinTaskPriority || t.Priority > MaxTaskPriority {
		return AcademicTask{}, invalid(field, "priority must be between %d and %d", MinTaskPriority, MaxTaskPriority)
	}
	meta, err := jsonObject(field, t.Metadata)
	if err != nil {
		return AcademicTask{}, err
	}
	t.Metadata = meta
	return t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MERGE STATE
// ══════════════════════════════════════════════════════════════════════════════

// MergeState applies a validated delta to current and returns the new state.
//
// The delta sequence number must be strictly greater than the last applied
// one. Sections merge with their own reducers: keyed maps overwrite per key,
// event and feedback logs append, active tasks and learning resources
// union, study plans and results deep-merge, validation is replaced.
func MergeState(current AcademicState, d ValidatedDelta) (AcademicState, error) {
	delta := d.delta
	if delta.LearnerID != current.Profile.ID {
		return AcademicState{}, invalid("learner_id",
			"delta targets %q but state belongs to %q", delta.LearnerID, current.Profile.ID)
	}
	if err := checkClock(deltaClock, delta.Sequence, current.DeltaSequence); err != nil {
		return AcademicState{}, err
	}

	next := current.Clone()

	if len(delta.Calendar) > 0 {
		if next.Calendar == nil {
			next.Calendar = make(map[string]CalendarEvent, len(delta.Calendar))
		}
		for k, ev := range delta.Calendar {
			next.Calendar[k] = ev.clone()
		}
	}
	if len(delta.Tasks) > 0 {
		if next.Tasks == nil {
			next.Tasks = make(map[string]AcademicTask, len(delta.Tasks))
		}
		for k, t := range delta.Tasks {
			next.Tasks[k] = t.clone()
		}
	}

	if len(delta.UpcomingEvents) > 0 {
		next.UpcomingEvents = AppendOnly(next.UpcomingEvents, delta.UpcomingEvents)
	}
	if len(delta.ActiveTasks) > 0 {
		next.ActiveTasks = UnionOrdered(next.ActiveTasks, delta.ActiveTasks)
	}
	if len(delta.CompletedTasks) > 0 {
		next.CompletedTasks = AppendOnly(next.CompletedTasks, delta.CompletedTasks)
	}

	if len(delta.Progress) > 0 {
		if next.Progress == nil {
			next.Progress = make(map[string][]ProgressMetric, len(delta.Progress))
		}
		for k, ms := range delta.Progress {
			next.Progress[k] = AppendOnly(next.Progress[k], cloneMetrics(ms))
		}
	}
	if len(delta.LearningResources) > 0 {
		if next.LearningResources == nil {
			next.LearningResources = make(map[string][]string, len(delta.LearningResources))
		}
		for k, rs := range delta.LearningResources {
			next.LearningResources[k] = UnionOrdered(next.LearningResources[k], rs)
		}
	}

	if len(delta.StudyPlans) > 0 {
		next.StudyPlans = DeepMerge(next.StudyPlans, delta.StudyPlans)
	}
	if len(delta.Results) > 0 {
		next.Results = DeepMerge(next.Results, delta.Results)
	}

	for _, f := range delta.Feedback {
		next.Feedback = append(next.Feedback, f.clone())
	}
	if len(delta.Notifications) > 0 {
		next.Notifications = AppendOnly(next.Notifications, cloneMaps(delta.Notifications))
	}

	if delta.Validation != nil {
		next.Validation = Some(delta.Validation.clone())
	}

	next.DeltaSequence = delta.Sequence
	return next, nil
}
