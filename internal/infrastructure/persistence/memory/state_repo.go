// Package memory implements the state repository in process memory.
// It backs development runs without DATABASE_URL and the store tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
)

// StateRepository keeps the latest state and change log of every learner.
type StateRepository struct {
	mu      sync.RWMutex
	states  map[string]academic.AcademicState
	changes map[string][]academic.ChangeRecord
}

// NewStateRepository creates an empty repository.
func NewStateRepository() *StateRepository {
	return &StateRepository{
		states:  make(map[string]academic.AcademicState),
		changes: make(map[string][]academic.ChangeRecord),
	}
}

// Create implements academic.Repository.
func (r *StateRepository) Create(ctx context.Context, state academic.AcademicState, rec academic.ChangeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := state.Profile.ID
	if _, exists := r.states[id]; exists {
		return fmt.Errorf("memory: create %s: %w", id, academic.ErrProfileExists)
	}

	r.states[id] = state.Clone()
	r.changes[id] = append(r.changes[id], cloneRecord(rec))
	return nil
}

// Load implements academic.Repository.
func (r *StateRepository) Load(ctx context.Context, learnerID string) (academic.AcademicState, error) {
	if err := ctx.Err(); err != nil {
		return academic.AcademicState{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[learnerID]
	if !ok {
		return academic.AcademicState{}, fmt.Errorf("memory: load %s: %w", learnerID, academic.ErrProfileNotFound)
	}
	return state.Clone(), nil
}

// Save implements academic.Repository.
func (r *StateRepository) Save(ctx context.Context, next academic.AcademicState, expectedVersion uint64, rec academic.ChangeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := next.Profile.ID
	cur, ok := r.states[id]
	if !ok {
		return fmt.Errorf("memory: save %s: %w", id, academic.ErrProfileNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("memory: save %s: have version %d, expected %d: %w",
			id, cur.Version, expectedVersion, academic.ErrVersionMismatch)
	}

	r.states[id] = next.Clone()
	r.changes[id] = append(r.changes[id], cloneRecord(rec))
	return nil
}

// History implements academic.Repository. Newest records come first.
func (r *StateRepository) History(ctx context.Context, learnerID string, limit int) ([]academic.ChangeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	log := r.changes[learnerID]
	if limit <= 0 || limit > len(log) {
		limit = len(log)
	}

	out := make([]academic.ChangeRecord, 0, limit)
	for i := len(log) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneRecord(log[i]))
	}
	return out, nil
}

// List implements academic.Repository.
func (r *StateRepository) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func cloneRecord(rec academic.ChangeRecord) academic.ChangeRecord {
	rec.Fields = append([]string(nil), rec.Fields...)
	return rec
}
