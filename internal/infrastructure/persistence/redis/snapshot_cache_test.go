package redis

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
	"github.com/alem-hub/academic-state-hub/pkg/circuitbreaker"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memoryStore) SetBytes(_ context.Context, key string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = append([]byte(nil), data...)
	m.ttls[key] = ttl
	return nil
}

func (m *memoryStore) GetBytes(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return data, nil
}

func (m *memoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func sampleState(t *testing.T) academic.AcademicState {
	t.Helper()

	profile, err := academic.NewStudentProfile(academic.NewProfileParams{
		ID:          "s1",
		Name:        "Ana",
		Courses:     []string{"CS101"},
		Preferences: map[string]any{"theme": "dark"},
	})
	require.NoError(t, err)

	u, err := academic.Validate(academic.NewUpdate("s1", 3).Set(academic.FieldMajor, "CS"))
	require.NoError(t, err)
	profile, err = academic.Merge(profile, u)
	require.NoError(t, err)

	state := academic.NewAcademicState(profile)
	state.Version = 2
	state.CompletedTasks = []string{"t1"}
	return state
}

func TestSnapshotCache_RoundTrip(t *testing.T) {
	store := newMemoryStore()
	cache := newSnapshotCache(store, 0)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	state := sampleState(t)
	require.NoError(t, cache.Set(ctx, state))
	assert.Equal(t, TTLStateSnapshot, store.ttls[StateKey("s1")])

	got, ok, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state, got)
	assert.Equal(t, uint64(3), got.Profile.Clocks[academic.FieldMajor])

	require.NoError(t, cache.Invalidate(ctx, "s1"))
	_, ok, err = cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotCache_CorruptedEntryIsMiss(t *testing.T) {
	store := newMemoryStore()
	cache := newSnapshotCache(store, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, sampleState(t)))

	key := StateKey("s1")
	tampered := bytes.Clone(store.data[key])
	i := bytes.Index(tampered, []byte(`"name":"Ana"`))
	require.GreaterOrEqual(t, i, 0)
	copy(tampered[i:], `"name":"Bob"`)
	store.data[key] = tampered

	_, ok, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, stillThere := store.data[key]
	assert.False(t, stillThere)

	_, err = decodeSnapshot(tampered)
	assert.ErrorIs(t, err, ErrSnapshotCorrupted)
}

func TestSnapshotCache_StoreError(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection refused")
	cache := newSnapshotCache(store, time.Minute)

	_, _, err := cache.Get(context.Background(), "s1")
	assert.Error(t, err)
	assert.Error(t, cache.Set(context.Background(), sampleState(t)))
}

func TestSnapshotCache_BreakerOpensOnFailures(t *testing.T) {
	store := newMemoryStore()
	breaker := circuitbreaker.New("test", circuitbreaker.WithTrip(2))
	cache := newSnapshotCache(store, time.Minute, WithBreaker(breaker))
	ctx := context.Background()

	// Misses are not failures.
	for i := 0; i < 3; i++ {
		_, ok, err := cache.Get(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())

	store.err = errors.New("connection refused")
	assert.Error(t, cache.Set(ctx, sampleState(t)))
	_, _, err := cache.Get(ctx, "s1")
	assert.Error(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	// While open, reads are quiet misses and writes fail fast.
	store.err = nil
	_, ok, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, cache.Set(ctx, sampleState(t)), circuitbreaker.ErrCircuitOpen)
	assert.Empty(t, store.data)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "state:s1", StateKey("s1"))
	assert.Equal(t, "pubsub:events", PubSubChannel("events"))
	assert.Equal(t, "localhost:6379", DefaultConfig().Addr())
}

