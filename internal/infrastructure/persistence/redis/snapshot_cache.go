package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
	"github.com/alem-hub/academic-state-hub/pkg/checksum"
	"github.com/alem-hub/academic-state-hub/pkg/circuitbreaker"
)

// ErrSnapshotCorrupted is returned when a cached state fails its checksum.
var ErrSnapshotCorrupted = errors.New("cache: snapshot checksum mismatch")

// byteStore is the subset of Cache used by SnapshotCache.
type byteStore interface {
	SetBytes(ctx context.Context, key string, data []byte, ttl time.Duration) error
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
}

// SnapshotCache implements academic.SnapshotCache on Redis.
//
// Entries carry the field clocks, which are not part of the state JSON, and
// a checksum of the state so that a corrupted entry reads as a miss.
// With a breaker, reads made while Redis is failing are misses and writes
// fail fast with circuitbreaker.ErrCircuitOpen.
type SnapshotCache struct {
	store   byteStore
	ttl     time.Duration
	breaker *circuitbreaker.Breaker
}

var _ academic.SnapshotCache = (*SnapshotCache)(nil)

// SnapshotOption configures a SnapshotCache.
type SnapshotOption func(*SnapshotCache)

// WithBreaker routes every Redis call through b.
func WithBreaker(b *circuitbreaker.Breaker) SnapshotOption {
	return func(c *SnapshotCache) {
		c.breaker = b
	}
}

// NewSnapshotCache creates a SnapshotCache. ttl <= 0 uses TTLStateSnapshot.
func NewSnapshotCache(cache *Cache, ttl time.Duration, opts ...SnapshotOption) *SnapshotCache {
	return newSnapshotCache(cache, ttl, opts...)
}

func newSnapshotCache(store byteStore, ttl time.Duration, opts ...SnapshotOption) *SnapshotCache {
	if ttl <= 0 {
		ttl = TTLStateSnapshot
	}
	c := &SnapshotCache{store: store, ttl: ttl}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SnapshotCache) call(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

// snapshotEntry is the cached form of a state.
type snapshotEntry struct {
	State    json.RawMessage      `json:"state"`
	Clocks   academic.FieldClocks `json:"clocks"`
	Sequence uint64               `json:"sequence"`
	Checksum string               `json:"checksum"`
}

// Get returns the cached state. A missing or corrupted entry is a miss.
func (c *SnapshotCache) Get(ctx context.Context, learnerID string) (academic.AcademicState, bool, error) {
	var (
		data []byte
		miss bool
	)
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.store.GetBytes(ctx, StateKey(learnerID))
		if errors.Is(err, ErrCacheMiss) {
			miss = true
			return nil
		}
		return err
	})
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return academic.AcademicState{}, false, nil
	case err != nil:
		return academic.AcademicState{}, false, err
	case miss:
		return academic.AcademicState{}, false, nil
	}

	state, err := decodeSnapshot(data)
	if err != nil {
		// Drop the entry so the next read goes to the repository.
		_ = c.Invalidate(ctx, learnerID)
		return academic.AcademicState{}, false, nil
	}
	return state, true, nil
}

// Set caches the state for the configured TTL.
func (c *SnapshotCache) Set(ctx context.Context, state academic.AcademicState) error {
	data, err := encodeSnapshot(state)
	if err != nil {
		return err
	}
	return c.call(ctx, func(ctx context.Context) error {
		return c.store.SetBytes(ctx, StateKey(state.LearnerID()), data, c.ttl)
	})
}

// Invalidate removes the cached state of a learner.
func (c *SnapshotCache) Invalidate(ctx context.Context, learnerID string) error {
	return c.call(ctx, func(ctx context.Context) error {
		return c.store.Delete(ctx, StateKey(learnerID))
	})
}

func encodeSnapshot(state academic.AcademicState) ([]byte, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	clocks := state.Profile.Clocks
	if clocks == nil {
		clocks = academic.FieldClocks{}
	}

	data, err := json.Marshal(snapshotEntry{
		State:    stateJSON,
		Clocks:   clocks,
		Sequence: state.Profile.Sequence,
		Checksum: checksum.Sum(stateJSON).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (academic.AcademicState, error) {
	var entry snapshotEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return academic.AcademicState{}, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	if !checksum.Verify(entry.State, entry.Checksum) {
		return academic.AcademicState{}, ErrSnapshotCorrupted
	}

	var state academic.AcademicState
	if err := json.Unmarshal(entry.State, &state); err != nil {
		return academic.AcademicState{}, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	state.Profile.Clocks = entry.Clocks
	if state.Profile.Clocks == nil {
		state.Profile.Clocks = academic.FieldClocks{}
	}
	state.Profile.Sequence = entry.Sequence

	return state, nil
}
