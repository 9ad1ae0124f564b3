package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
	"github.com/alem-hub/academic-state-hub/internal/domain/shared"
)

func newState(t *testing.T, id string) academic.AcademicState {
	t.Helper()

	p, err := academic.NewStudentProfile(academic.NewProfileParams{ID: id, Name: "Ana"})
	require.NoError(t, err)

	s := academic.NewAcademicState(p)
	s.Version = 1
	return s
}

func TestStateRepository_CreateLoad(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepository()
	state := newState(t, "s1")

	require.NoError(t, repo.Create(ctx, state, academic.ChangeRecord{ID: "c1", Kind: academic.ChangeOnboard}))

	loaded, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, state, loaded)

	err = repo.Create(ctx, state, academic.ChangeRecord{})
	assert.True(t, errors.Is(err, academic.ErrProfileExists))
	assert.True(t, shared.IsAlreadyExists(err))

	_, err = repo.Load(ctx, "missing")
	assert.True(t, errors.Is(err, academic.ErrProfileNotFound))
	assert.True(t, shared.IsNotFound(err))
}

func TestStateRepository_SaveOptimisticLock(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepository()
	state := newState(t, "s1")
	require.NoError(t, repo.Create(ctx, state, academic.ChangeRecord{ID: "c1"}))

	next := state.Clone()
	next.Version = 2
	next.ActiveTasks = []string{"t1"}
	require.NoError(t, repo.Save(ctx, next, 1, academic.ChangeRecord{ID: "c2", Version: 2}))

	stale := state.Clone()
	stale.Version = 2
	err := repo.Save(ctx, stale, 1, academic.ChangeRecord{ID: "c3"})
	assert.True(t, errors.Is(err, academic.ErrVersionMismatch))

	loaded, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, loaded.ActiveTasks)
}

func TestStateRepository_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepository()
	require.NoError(t, repo.Create(ctx, newState(t, "s1"), academic.ChangeRecord{}))

	loaded, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	loaded.Results["x"] = 1

	again, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, again.Results)
}

func TestStateRepository_HistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepository()
	state := newState(t, "s1")
	require.NoError(t, repo.Create(ctx, state, academic.ChangeRecord{ID: "c1", Version: 1}))

	for v := uint64(2); v <= 4; v++ {
		next := state.Clone()
		next.Version = v
		require.NoError(t, repo.Save(ctx, next, v-1, academic.ChangeRecord{ID: "c", Version: v}))
	}

	all, err := repo.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, uint64(4), all[0].Version)
	assert.Equal(t, uint64(1), all[3].Version)

	two, err := repo.History(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	ids, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}

func TestStateRepository_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStateRepository().Load(ctx, "s1")
	assert.ErrorIs(t, err, context.Canceled)
}
