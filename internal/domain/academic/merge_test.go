package academic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academic-state-hub/internal/domain/shared"
)

func newTestProfile(t *testing.T) StudentProfile {
	t.Helper()

	p, err := NewStudentProfile(NewProfileParams{
		ID:          "s1",
		Name:        "Ana",
		Courses:     []string{"CS101"},
		Preferences: map[string]any{"theme": "dark"},
	})
	require.NoError(t, err)
	return p
}

func mustValidate(t *testing.T, u Update) ValidatedUpdate {
	t.Helper()

	v, err := Validate(u)
	require.NoError(t, err)
	return v
}

func TestMerge_CoursesUnion(t *testing.T) {
	p := newTestProfile(t)

	next, err := Merge(p, mustValidate(t, NewUpdate("s1", 2).Set(FieldCourses, []string{"MATH201"})))
	require.NoError(t, err)

	courses, ok := next.Courses.Get()
	require.True(t, ok)
	assert.Equal(t, []string{"CS101", "MATH201"}, courses)
	assert.Equal(t, uint64(2), next.Clocks[FieldCourses])
	assert.Equal(t, uint64(2), next.Sequence)
}

func TestMerge_CoursesKeepExistingOrder(t *testing.T) {
	p := newTestProfile(t)

	next, err := Merge(p, mustValidate(t, NewUpdate("s1", 2).
		Set(FieldCourses, []any{"PHYS101", "CS101", "MATH201", "PHYS101"})))
	require.NoError(t, err)

	assert.Equal(t, []string{"CS101", "PHYS101", "MATH201"}, next.Courses.ValueOr(nil))
}

func TestMerge_PreferencesOverwriteKeys(t *testing.T) {
	p := newTestProfile(t)

	next, err := Merge(p, mustValidate(t, NewUpdate("s1", 2).
		Set(FieldPreferences, map[string]any{"theme": "light", "pace": "fast"})))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"theme": "light", "pace": "fast"}, next.Preferences.ValueOr(nil))
}

func TestMerge_PreferencesKeepAbsentKeys(t *testing.T) {
	p := newTestProfile(t)

	next, err := Merge(p, mustValidate(t, NewUpdate("s1", 2).
		Set(FieldPreferences, map[string]string{"pace": "slow"})))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"theme": "dark", "pace": "slow"}, next.Preferences.ValueOr(nil))
}

func TestMerge_HistoryAppendOnly(t *testing.T) {
	p := newTestProfile(t)
	entry := map[string]any{"event": "quiz", "score": 8.0}

	first, err := Merge(p, mustValidate(t, NewUpdate("s1", 2).
		Set(FieldHistory, []map[string]any{entry})))
	require.NoError(t, err)

	second, err := Merge(first, mustValidate(t, NewUpdate("s1", 3).
		Set(FieldHistory, []any{map[string]any{"event": "quiz", "score": 8.0}})))
	require.NoError(t, err)

	history := second.History.ValueOr(nil)
	require.Len(t, history, 2)
	assert.Equal(t, history[0], history[1])
}

func TestMerge_ScalarLastWriterWins(t *testing.T) {
	p := newTestProfile(t)

	next, err := Merge(p, mustValidate(t, NewUpdate("s1", 2).
		Set(FieldLevel, "junior").
		Set(FieldMajor, "CS")))
	require.NoError(t, err)

	next, err = Merge(next, mustValidate(t, NewUpdate("s1", 3).Set(FieldLevel, "senior")))
	require.NoError(t, err)

	assert.Equal(t, "senior", next.Level.ValueOr(""))
	assert.Equal(t, "CS", next.Major.ValueOr(""))
	assert.Equal(t, uint64(3), next.Clocks[FieldLevel])
	assert.Equal(t, uint64(2), next.Clocks[FieldMajor])
}

func TestMerge_RemoveOptionalScalar(t *testing.T) {
	p := newTestProfile(t)

	next, err := Merge(p, mustValidate(t, NewUpdate("s1", 2).Set(FieldLevel, "junior")))
	require.NoError(t, err)
	require.True(t, next.Level.IsSet())

	next, err = Merge(next, mustValidate(t, NewUpdate("s1", 3).Remove(FieldLevel)))
	require.NoError(t, err)
	assert.False(t, next.Level.IsSet())

	next, err = Merge(next, mustValidate(t, NewUpdate("s1", 4).Set(FieldLevel, "senior")))
	require.NoError(t, err)

	next, err = Merge(next, mustValidate(t, NewUpdate("s1", 5).Set(FieldLevel, nil)))
	require.NoError(t, err)
	assert.False(t, next.Level.IsSet())
}

func TestMerge_DoesNotMutateCurrent(t *testing.T) {
	p := newTestProfile(t)
	p, err := Merge(p, mustValidate(t, NewUpdate("s1", 2).
		Set(FieldHistory, []map[string]any{{"event": "enrolled", "meta": map[string]any{"term": "fall"}}}).
		Set(FieldTopics, []string{"graphs"})))
	require.NoError(t, err)

	before := p.Clone()

	next, err := Merge(p, mustValidate(t, NewUpdate("s1", 3).
		Set(FieldName, "Ana Maria").
		Set(FieldCourses, []string{"MATH201"}).
		Set(FieldTopics, []string{"trees"}).
		Set(FieldPreferences, map[string]any{"theme": "light"}).
		Set(FieldHistory, []map[string]any{{"event": "quiz"}})))
	require.NoError(t, err)
	assert.Equal(t, before, p)

	// The result must not share memory with current.
	next.Courses.ValueOr(nil)[0] = "CHANGED"
	next.Preferences.ValueOr(nil)["theme"] = "CHANGED"
	next.History.ValueOr(nil)[0]["meta"].(map[string]any)["term"] = "CHANGED"
	next.Clocks[FieldName] = 99
	assert.Equal(t, before, p)
}

func TestMerge_ProfileMismatch(t *testing.T) {
	p := newTestProfile(t)

	_, err := Merge(p, mustValidate(t, NewUpdate("s2", 2).Set(FieldLevel, "junior")))

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "profile_id", vErr.Field)
}

func TestMerge_EqualSequenceConflict(t *testing.T) {
	p := newTestProfile(t)

	p, err := Merge(p, mustValidate(t, NewUpdate("s1", 3).Set(FieldLevel, "junior")))
	require.NoError(t, err)

	next, err := Merge(p, mustValidate(t, NewUpdate("s1", 3).Set(FieldLevel, "senior")))

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, FieldLevel, conflict.Field)
	assert.Equal(t, uint64(3), conflict.Sequence)
	assert.True(t, errors.Is(err, shared.ErrConcurrentModification))
	assert.Equal(t, StudentProfile{}, next)
	assert.Equal(t, "junior", p.Level.ValueOr(""))
}

func TestMerge_LowerSequenceStale(t *testing.T) {
	p := newTestProfile(t)

	p, err := Merge(p, mustValidate(t, NewUpdate("s1", 5).Set(FieldMajor, "CS")))
	require.NoError(t, err)
	before := p.Clone()

	_, err = Merge(p, mustValidate(t, NewUpdate("s1", 4).Set(FieldMajor, "Math")))

	var stale *StaleUpdateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, FieldMajor, stale.Field)
	assert.Equal(t, uint64(4), stale.Proposed)
	assert.Equal(t, uint64(5), stale.Applied)
	assert.True(t, errors.Is(err, shared.ErrExpired))
	assert.Equal(t, before, p)
}

func TestMerge_RejectsWholeUpdate(t *testing.T) {
	p := newTestProfile(t)

	p, err := Merge(p, mustValidate(t, NewUpdate("s1", 3).Set(FieldLevel, "junior")))
	require.NoError(t, err)

	_, err = Merge(p, mustValidate(t, NewUpdate("s1", 3).
		Set(FieldMajor, "CS").
		Set(FieldLevel, "senior")))
	require.Error(t, err)

	assert.False(t, p.Major.IsSet())
	assert.Zero(t, p.Clocks[FieldMajor])
}

func TestMerge_EqualSequenceOnIndependentFields(t *testing.T) {
	p := newTestProfile(t)

	next, err := MergeAll(p,
		mustValidate(t, NewUpdate("s1", 5).Set(FieldLevel, "junior")),
		mustValidate(t, NewUpdate("s1", 5).Set(FieldMajor, "CS")),
	)
	require.NoError(t, err)

	assert.Equal(t, "junior", next.Level.ValueOr(""))
	assert.Equal(t, "CS", next.Major.ValueOr(""))
}

func TestMerge_IndependentFieldsCommute(t *testing.T) {
	p := newTestProfile(t)
	a := mustValidate(t, NewUpdate("s1", 2).Set(FieldLevel, "junior"))
	b := mustValidate(t, NewUpdate("s1", 3).Set(FieldTopics, []string{"graphs"}))

	ab, err := MergeAll(p, a, b)
	require.NoError(t, err)
	ba, err := MergeAll(p, b, a)
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
}

func TestMerge_SequentialEqualsCombined(t *testing.T) {
	p := newTestProfile(t)

	updates := []ValidatedUpdate{
		mustValidate(t, NewUpdate("s1", 2).
			Set(FieldCourses, []string{"MATH201"}).
			Set(FieldPreferences, map[string]any{"theme": "light"}).
			Set(FieldLevel, "junior")),
		mustValidate(t, NewUpdate("s1", 3).
			Set(FieldCourses, []string{"CS101", "PHYS101"}).
			Set(FieldPreferences, map[string]any{"pace": "fast"}).
			Set(FieldHistory, []map[string]any{{"event": "quiz"}}).
			Remove(FieldLevel)),
		mustValidate(t, NewUpdate("s1", 4).
			Set(FieldTopics, []string{"graphs"}).
			Set(FieldName, "Ana Maria").
			Set(FieldHistory, []map[string]any{{"event": "exam"}})),
	}

	sequential, err := MergeAll(p, updates...)
	require.NoError(t, err)

	combined, err := Combine(updates...)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), combined.Sequence())

	single, err := Merge(p, combined)
	require.NoError(t, err)

	assert.Equal(t, sequential, single)
	assert.Equal(t, []string{"CS101", "MATH201", "PHYS101"}, single.Courses.ValueOr(nil))
	assert.False(t, single.Level.IsSet())
	assert.Len(t, single.History.ValueOr(nil), 2)
}

func TestCombine_StaleAndConflict(t *testing.T) {
	later := mustValidate(t, NewUpdate("s1", 3).Set(FieldLevel, "junior"))

	_, err := Combine(later, mustValidate(t, NewUpdate("s1", 2).Set(FieldLevel, "senior")))
	var stale *StaleUpdateError
	assert.ErrorAs(t, err, &stale)

	_, err = Combine(later, mustValidate(t, NewUpdate("s1", 3).Set(FieldLevel, "senior")))
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestCombine_ChecksLowestSequenceAgainstClock(t *testing.T) {
	p := newTestProfile(t)
	p, err := Merge(p, mustValidate(t, NewUpdate("s1", 3).Set(FieldLevel, "junior")))
	require.NoError(t, err)

	combined, err := Combine(
		mustValidate(t, NewUpdate("s1", 2).Set(FieldLevel, "senior")),
		mustValidate(t, NewUpdate("s1", 4).Set(FieldLevel, "lead")),
	)
	require.NoError(t, err)

	_, err = Merge(p, combined)
	var stale *StaleUpdateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, uint64(2), stale.Proposed)
}

func TestCombine_Errors(t *testing.T) {
	_, err := Combine()
	assert.True(t, errors.Is(err, shared.ErrValidation))

	_, err = Combine(
		mustValidate(t, NewUpdate("s1", 2).Set(FieldLevel, "junior")),
		mustValidate(t, NewUpdate("s2", 3).Set(FieldLevel, "junior")),
	)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}
