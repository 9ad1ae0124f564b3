package academic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)

func newTestState(t *testing.T) AcademicState {
	t.Helper()
	return NewAcademicState(newTestProfile(t))
}

func mustValidateDelta(t *testing.T, d StateDelta) ValidatedDelta {
	t.Helper()

	v, err := ValidateDelta(d)
	require.NoError(t, err)
	return v
}

func TestValidateDelta_Rejects(t *testing.T) {
	task := func(mut func(*AcademicTask)) StateDelta {
		tk := AcademicTask{ID: "t1", Title: "Essay", Status: TaskStatusPending, Priority: 3}
		mut(&tk)
		return StateDelta{LearnerID: "s1", Sequence: 1, Tasks: map[string]AcademicTask{"t1": tk}}
	}
	event := func(mut func(*CalendarEvent)) StateDelta {
		ev := CalendarEvent{ID: "e1", Title: "Exam", Type: "exam", StartTime: monday, EndTime: monday.Add(2 * time.Hour)}
		mut(&ev)
		return StateDelta{LearnerID: "s1", Sequence: 1, Calendar: map[string]CalendarEvent{"e1": ev}}
	}

	tests := []struct {
		name  string
		delta StateDelta
		field string
	}{
		{"no learner", StateDelta{Sequence: 1, ActiveTasks: []string{"t1"}}, "learner_id"},
		{"zero sequence", StateDelta{LearnerID: "s1", ActiveTasks: []string{"t1"}}, "sequence_number"},
		{"empty delta", StateDelta{LearnerID: "s1", Sequence: 1}, ""},
		{"blank active task", StateDelta{LearnerID: "s1", Sequence: 1, ActiveTasks: []string{""}}, "active_tasks"},
		{"task id mismatch", task(func(tk *AcademicTask) { tk.ID = "t2" }), "tasks.t1"},
		{"task without title", task(func(tk *AcademicTask) { tk.Title = "" }), "tasks.t1"},
		{"task priority low", task(func(tk *AcademicTask) { tk.Priority = 0 }), "tasks.t1"},
		{"task priority high", task(func(tk *AcademicTask) { tk.Priority = 6 }), "tasks.t1"},
		{"task unknown status", task(func(tk *AcademicTask) { tk.Status = "archived" }), "tasks.t1"},
		{"event ends before start", event(func(ev *CalendarEvent) { ev.EndTime = monday.Add(-time.Hour) }), "calendar.e1"},
		{"event without start", event(func(ev *CalendarEvent) { ev.StartTime = time.Time{} }), "calendar.e1"},
		{"metric without type", StateDelta{LearnerID: "s1", Sequence: 1,
			Progress: map[string][]ProgressMetric{"CS101": {{Value: 0.5}}}}, "progress.CS101"},
		{"feedback without type", StateDelta{LearnerID: "s1", Sequence: 1,
			Feedback: []FeedbackItem{{Content: "good"}}}, "feedback"},
		{"empty notification", StateDelta{LearnerID: "s1", Sequence: 1,
			Notifications: []map[string]any{{}}}, "notifications"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateDelta(tt.delta)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestValidateDelta_Defaults(t *testing.T) {
	d := mustValidateDelta(t, StateDelta{
		LearnerID: "s1",
		Sequence:  1,
		Tasks:     map[string]AcademicTask{"t1": {Title: "Essay", Priority: 2}},
	})

	task := d.delta.Tasks["t1"]
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Equal(t, []string{"tasks"}, d.Sections())
}

func TestMergeState_Sections(t *testing.T) {
	s := newTestState(t)

	first := mustValidateDelta(t, StateDelta{
		LearnerID: "s1",
		Sequence:  1,
		Calendar: map[string]CalendarEvent{
			"e1": {Title: "Midterm", Type: "exam", StartTime: monday, EndTime: monday.Add(time.Hour)},
		},
		UpcomingEvents: []string{"e1"},
		Tasks: map[string]AcademicTask{
			"t1": {Title: "Essay", Priority: 3},
		},
		ActiveTasks:       []string{"t1"},
		Progress:          map[string][]ProgressMetric{"CS101": {{MetricType: "grade", Value: 80, Timestamp: monday}}},
		LearningResources: map[string][]string{"CS101": {"book", "video"}},
		StudyPlans:        map[string]any{"week1": map[string]any{"monday": "graphs"}},
		Feedback:          []FeedbackItem{{FeedbackType: "encouragement", Content: "keep going", Timestamp: monday}},
		Notifications:     []map[string]any{{"kind": "reminder"}},
		Validation:        &ValidationResult{IsValid: false, Errors: []string{"missing syllabus"}},
	})
	second := mustValidateDelta(t, StateDelta{
		LearnerID: "s1",
		Sequence:  2,
		Tasks: map[string]AcademicTask{
			"t1": {Title: "Essay", Priority: 3, Status: TaskStatusCompleted},
		},
		ActiveTasks:       []string{"t1", "t2"},
		CompletedTasks:    []string{"t1"},
		UpcomingEvents:    []string{"e1"},
		Progress:          map[string][]ProgressMetric{"CS101": {{MetricType: "grade", Value: 90, Timestamp: monday}}},
		LearningResources: map[string][]string{"CS101": {"video", "slides"}},
		StudyPlans:        map[string]any{"week1": map[string]any{"friday": "review"}},
		Results:           map[string]any{"quiz1": 9.5},
		Validation:        &ValidationResult{IsValid: true},
	})

	next, err := MergeState(s, first)
	require.NoError(t, err)
	next, err = MergeState(next, second)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), next.DeltaSequence)
	assert.Equal(t, "e1", next.Calendar["e1"].ID)
	assert.Equal(t, []string{"e1", "e1"}, next.UpcomingEvents)
	assert.Equal(t, TaskStatusCompleted, next.Tasks["t1"].Status)
	assert.Equal(t, []string{"t1", "t2"}, next.ActiveTasks)
	assert.Equal(t, []string{"t1"}, next.CompletedTasks)
	require.Len(t, next.Progress["CS101"], 2)
	assert.Equal(t, 90.0, next.Progress["CS101"][1].Value)
	assert.Equal(t, []string{"book", "video", "slides"}, next.LearningResources["CS101"])
	assert.Equal(t, map[string]any{"monday": "graphs", "friday": "review"}, next.StudyPlans["week1"])
	assert.Equal(t, 9.5, next.Results["quiz1"])
	assert.Len(t, next.Feedback, 1)
	assert.Len(t, next.Notifications, 1)

	v, ok := next.Validation.Get()
	require.True(t, ok)
	assert.True(t, v.IsValid)
	assert.Empty(t, v.Errors)

	// Profile is untouched by deltas.
	assert.Equal(t, s.Profile, next.Profile)
}

func TestMergeState_SequenceClock(t *testing.T) {
	s := newTestState(t)
	d := mustValidateDelta(t, StateDelta{LearnerID: "s1", Sequence: 5, ActiveTasks: []string{"t1"}})

	next, err := MergeState(s, d)
	require.NoError(t, err)

	_, err = MergeState(next, d)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)

	_, err = MergeState(next, mustValidateDelta(t, StateDelta{LearnerID: "s1", Sequence: 4, ActiveTasks: []string{"t2"}}))
	var stale *StaleUpdateError
	assert.ErrorAs(t, err, &stale)
	assert.Equal(t, []string{"t1"}, next.ActiveTasks)
}

func TestMergeState_DoesNotMutateCurrent(t *testing.T) {
	s := newTestState(t)
	s, err := MergeState(s, mustValidateDelta(t, StateDelta{
		LearnerID:  "s1",
		Sequence:   1,
		Tasks:      map[string]AcademicTask{"t1": {Title: "Essay", Priority: 1, Attachments: []string{"a.pdf"}}},
		StudyPlans: map[string]any{"week1": map[string]any{"monday": "graphs"}},
	}))
	require.NoError(t, err)
	before := s.Clone()

	next, err := MergeState(s, mustValidateDelta(t, StateDelta{
		LearnerID:  "s1",
		Sequence:   2,
		Tasks:      map[string]AcademicTask{"t2": {Title: "Lab", Priority: 2}},
		StudyPlans: map[string]any{"week1": map[string]any{"tuesday": "trees"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, before, s)

	next.Tasks["t1"].Attachments[0] = "changed"
	next.StudyPlans["week1"].(map[string]any)["monday"] = "changed"
	assert.Equal(t, before, s)
}

func TestMergeState_LearnerMismatch(t *testing.T) {
	s := newTestState(t)

	_, err := MergeState(s, mustValidateDelta(t, StateDelta{LearnerID: "s2", Sequence: 1, ActiveTasks: []string{"t1"}}))

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "learner_id", vErr.Field)
}

func TestDecodeDelta(t *testing.T) {
	raw := `{
		"learner_id": "s1",
		"sequence_number": 3,
		"tasks": {"t1": {"id": "t1", "title": "Essay", "status": "in_progress", "priority": 4,
			"due_date": "2026-09-14T23:59:00Z"}},
		"results": {"quiz1": {"score": 9}}
	}`

	d, err := DecodeDelta([]byte(raw))
	require.NoError(t, err)

	due, ok := d.Tasks["t1"].DueDate.Get()
	require.True(t, ok)
	assert.Equal(t, 14, due.Day())
	assert.Equal(t, []string{"tasks", "results"}, d.Sections())

	_, err = DecodeDelta([]byte(`{"learner_id":"s1","sequence_number":1,"grades":{}}`))
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}
