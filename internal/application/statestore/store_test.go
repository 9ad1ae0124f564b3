package statestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
	"github.com/alem-hub/academic-state-hub/internal/domain/shared"
	"github.com/alem-hub/academic-state-hub/internal/infrastructure/persistence/memory"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type recordingBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *recordingBus) Publish(event shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) types() []shared.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]shared.EventType, len(b.events))
	for i, e := range b.events {
		out[i] = e.EventType()
	}
	return out
}

type mapCache struct {
	mu     sync.Mutex
	states map[string]academic.AcademicState
	setErr error
}

func newMapCache() *mapCache {
	return &mapCache{states: make(map[string]academic.AcademicState)}
}

func (c *mapCache) Get(_ context.Context, id string) (academic.AcademicState, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[id]
	return s.Clone(), ok, nil
}

func (c *mapCache) Set(_ context.Context, s academic.AcademicState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.states[s.Profile.ID] = s.Clone()
	return nil
}

func (c *mapCache) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.states[id]
	return ok
}

func (c *mapCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, id)
	return nil
}

type failingRepo struct {
	*memory.StateRepository
	saveErr error
}

func (r *failingRepo) Save(ctx context.Context, next academic.AcademicState, expected uint64, rec academic.ChangeRecord) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	return r.StateRepository.Save(ctx, next, expected, rec)
}

type fixture struct {
	hub   *Hub
	repo  *memory.StateRepository
	cache *mapCache
	bus   *recordingBus
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	f := fixture{
		repo:  memory.NewStateRepository(),
		cache: newMapCache(),
		bus:   &recordingBus{},
	}
	hub, err := NewHub(Config{Repository: f.repo, Cache: f.cache, Events: f.bus})
	require.NoError(t, err)
	f.hub = hub
	return f
}

func onboardAna(t *testing.T, hub *Hub) *Store {
	t.Helper()

	store, err := hub.Onboard(context.Background(), academic.NewProfileParams{
		ID:          "s1",
		Name:        "Ana",
		Courses:     []string{"CS101"},
		Preferences: map[string]any{"theme": "dark"},
	})
	require.NoError(t, err)
	return store
}

// ─────────────────────────────────────────────────────────────────────────────
// Store
// ─────────────────────────────────────────────────────────────────────────────

func TestNewStore_RequiresRepository(t *testing.T) {
	_, err := NewStore(Config{}, academic.AcademicState{})
	assert.Error(t, err)

	_, err = NewHub(Config{})
	assert.Error(t, err)
}

func TestStore_SubmitUpdate(t *testing.T) {
	f := newFixture(t)
	store := onboardAna(t, f.hub)
	ctx := context.Background()

	profile, err := store.SubmitUpdate(ctx, academic.NewUpdate("s1", 2).
		Set(academic.FieldCourses, []string{"MATH201"}).
		WithSource("planner"))
	require.NoError(t, err)
	assert.Equal(t, []string{"CS101", "MATH201"}, profile.Courses.ValueOr(nil))

	profile, err = store.SubmitUpdate(ctx, academic.NewUpdate("s1", 3).
		Set(academic.FieldPreferences, map[string]any{"theme": "light", "pace": "fast"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "light", "pace": "fast"}, profile.Preferences.ValueOr(nil))

	assert.Equal(t, uint64(3), store.Version())
	assert.Equal(t, profile, store.GetSnapshot())

	persisted, err := f.repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.State(), persisted)

	cached, ok, err := f.cache.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), cached.Version)

	history, err := store.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, academic.ChangeUpdate, history[0].Kind)
	assert.Equal(t, []string{"preferences"}, history[0].Fields)
	assert.Equal(t, "planner", history[1].Source)
	assert.Equal(t, academic.ChangeOnboard, history[2].Kind)
	assert.NotEmpty(t, history[0].Checksum)

	assert.Equal(t, []shared.EventType{
		shared.EventProfileOnboarded,
		shared.EventProfileUpdated,
		shared.EventProfileUpdated,
	}, f.bus.types())
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	f := newFixture(t)
	store := onboardAna(t, f.hub)

	snap := store.GetSnapshot()
	snap.Courses.ValueOr(nil)[0] = "CHANGED"
	snap.Preferences.ValueOr(nil)["theme"] = "CHANGED"
	snap.Clocks[academic.FieldLevel] = 100

	fresh := store.GetSnapshot()
	assert.Equal(t, []string{"CS101"}, fresh.Courses.ValueOr(nil))
	assert.Equal(t, "dark", fresh.Preferences.ValueOr(nil)["theme"])
	assert.Zero(t, fresh.Clocks[academic.FieldLevel])
}

func TestStore_StoredValuesShareNoMemory(t *testing.T) {
	f := newFixture(t)
	store := onboardAna(t, f.hub)
	ctx := context.Background()

	scores := []int{1, 2, 3}
	_, err := store.SubmitUpdate(ctx, academic.NewUpdate("s1", 2).
		Set(academic.FieldPreferences, map[string]any{"scores": scores}))
	require.NoError(t, err)

	scores[0] = 99
	snap := store.GetSnapshot()
	stored, ok := snap.Preferences.ValueOr(nil)["scores"].([]any)
	require.True(t, ok, "preferences hold JSON shapes only")
	stored[1] = 42.0

	assert.Equal(t, []any{1.0, 2.0, 3.0}, store.GetSnapshot().Preferences.ValueOr(nil)["scores"])

	plan := map[string]int{"monday": 1}
	_, err = store.SubmitDelta(ctx, academic.StateDelta{
		LearnerID:  "s1",
		Sequence:   1,
		StudyPlans: map[string]any{"week1": plan},
	})
	require.NoError(t, err)

	plan["monday"] = 7
	state := store.State()
	state.StudyPlans["week1"].(map[string]any)["monday"] = 8.0

	assert.Equal(t, map[string]any{"monday": 1.0}, store.State().StudyPlans["week1"])
}

func TestStore_RejectsValuesWithoutJSONForm(t *testing.T) {
	f := newFixture(t)
	store := onboardAna(t, f.hub)

	_, err := store.SubmitUpdate(context.Background(), academic.NewUpdate("s1", 2).
		Set(academic.FieldPreferences, map[string]any{"notify": make(chan int)}))
	assert.Equal(t, academic.OutcomeInvalid, academic.Classify(err))
	assert.Equal(t, "dark", store.GetSnapshot().Preferences.ValueOr(nil)["theme"])
}

func TestStore_RejectionsLeaveStateUnchanged(t *testing.T) {
	f := newFixture(t)
	store := onboardAna(t, f.hub)
	ctx := context.Background()

	_, err := store.SubmitUpdate(ctx, academic.NewUpdate("s1", 5).Set(academic.FieldLevel, "junior"))
	require.NoError(t, err)
	before := store.State()

	tests := []struct {
		name    string
		update  academic.Update
		outcome academic.Outcome
	}{
		{"equal sequence", academic.NewUpdate("s1", 5).Set(academic.FieldLevel, "senior"), academic.OutcomeConflict},
		{"lower sequence", academic.NewUpdate("s1", 4).Set(academic.FieldLevel, "senior"), academic.OutcomeStale},
		{"remove name", academic.NewUpdate("s1", 6).Remove(academic.FieldName), academic.OutcomeInvalid},
		{"remove id", academic.NewUpdate("s1", 6).Remove(academic.FieldID), academic.OutcomeInvalid},
		{"other profile", academic.NewUpdate("s2", 6).Set(academic.FieldLevel, "senior"), academic.OutcomeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.SubmitUpdate(ctx, tt.update)
			require.Error(t, err)
			assert.Equal(t, tt.outcome, academic.Classify(err))
			assert.True(t, IsRejection(err))
			assert.Equal(t, before, store.State())
		})
	}

	types := f.bus.types()
	assert.Equal(t, shared.EventProfileUpdateRejected, types[len(types)-1])
}

func TestStore_PersistenceFailure(t *testing.T) {
	repo := &failingRepo{StateRepository: memory.NewStateRepository()}
	hub, err := NewHub(Config{Repository: repo})
	require.NoError(t, err)
	store := onboardAna(t, hub)

	repo.saveErr = errors.New("conn refused")
	_, err = store.SubmitUpdate(context.Background(), academic.NewUpdate("s1", 2).Set(academic.FieldLevel, "junior"))
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err))
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.False(t, IsRejection(err))

	assert.Equal(t, uint64(1), store.Version())
	assert.False(t, store.GetSnapshot().Level.IsSet())

	repo.saveErr = context.DeadlineExceeded
	_, err = store.SubmitUpdate(context.Background(), academic.NewUpdate("s1", 2).Set(academic.FieldLevel, "junior"))
	assert.ErrorIs(t, err, shared.ErrTimeout)

	// The same sequence number is accepted once persistence recovers.
	repo.saveErr = nil
	profile, err := store.SubmitUpdate(context.Background(), academic.NewUpdate("s1", 2).Set(academic.FieldLevel, "junior"))
	require.NoError(t, err)
	assert.Equal(t, "junior", profile.Level.ValueOr(""))
}

func TestStore_CacheFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	store := onboardAna(t, f.hub)
	require.True(t, f.cache.has("s1"))
	f.cache.setErr = errors.New("redis down")

	_, err := store.SubmitUpdate(context.Background(), academic.NewUpdate("s1", 2).Set(academic.FieldMajor, "CS"))
	require.NoError(t, err)
	assert.Equal(t, "CS", store.GetSnapshot().Major.ValueOr(""))

	// The version 1 snapshot is gone rather than served as current.
	assert.False(t, f.cache.has("s1"))
}

func TestStore_SubmitDelta(t *testing.T) {
	f := newFixture(t)
	store := onboardAna(t, f.hub)
	ctx := context.Background()

	state, err := store.SubmitDelta(ctx, academic.StateDelta{
		LearnerID:   "s1",
		Sequence:    1,
		ActiveTasks: []string{"t1"},
		Tasks:       map[string]academic.AcademicTask{"t1": {Title: "Essay", Priority: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), state.Version)
	assert.Equal(t, uint64(1), state.DeltaSequence)

	_, err = store.SubmitDelta(ctx, academic.StateDelta{LearnerID: "s1", Sequence: 1, ActiveTasks: []string{"t2"}})
	assert.Equal(t, academic.OutcomeConflict, academic.Classify(err))

	_, err = store.SubmitDelta(ctx, academic.StateDelta{LearnerID: "s1", Sequence: 2})
	assert.Equal(t, academic.OutcomeInvalid, academic.Classify(err))

	assert.Equal(t, []string{"t1"}, store.State().ActiveTasks)
	assert.Contains(t, f.bus.types(), shared.EventStateDeltaApplied)
	assert.Contains(t, f.bus.types(), shared.EventStateDeltaRejected)
}

func TestStore_ConcurrentSubmits(t *testing.T) {
	f := newFixture(t)
	store := onboardAna(t, f.hub)
	ctx := context.Background()

	const writers = 40

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		done     = make(chan struct{})
	)

	// Readers must only ever see fully merged states with a growing version.
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			var last uint64
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := store.State()
				assert.GreaterOrEqual(t, snap.Version, last)
				assert.Len(t, snap.Profile.History.ValueOr(nil), int(snap.Version-1))
				last = snap.Version
			}
		}()
	}

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.SubmitUpdate(ctx, academic.NewUpdate("s1", uint64(i+1)).
				Set(academic.FieldHistory, []map[string]any{{"writer": i}}))
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.Equal(t, academic.OutcomeStale, academic.Classify(err), fmt.Sprint(err))
		}(i)
	}

	wg.Wait()
	close(done)
	readers.Wait()

	state := store.State()
	assert.GreaterOrEqual(t, accepted, 1)
	assert.Equal(t, uint64(1+accepted), state.Version)
	assert.Len(t, state.Profile.History.ValueOr(nil), accepted)

	// Accepted entries were applied in increasing sequence order.
	var prev = -1
	for _, entry := range state.Profile.History.ValueOr(nil) {
		w := entry["writer"].(int)
		assert.Greater(t, w, prev)
		prev = w
	}
}
