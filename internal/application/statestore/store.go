// Package statestore owns the canonical academic state of each learner and
// serializes the changes agents propose against it.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
	"github.com/alem-hub/academic-state-hub/internal/domain/shared"
	"github.com/alem-hub/academic-state-hub/pkg/checksum"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG
// ══════════════════════════════════════════════════════════════════════════════

// DefaultSubmitTimeout bounds the persistence I/O of a single submit.
const DefaultSubmitTimeout = 5 * time.Second

// Config wires a Store or Hub to its collaborators.
type Config struct {
	// Repository durably stores the latest state. Required.
	Repository academic.Repository

	// Cache receives every published state. Optional; failures are logged.
	Cache academic.SnapshotCache

	// Events receives accepted and rejected change events. Optional.
	Events shared.EventPublisher

	// Logger for structured logging.
	Logger *slog.Logger

	// SubmitTimeout bounds persistence and cache calls of one submit.
	SubmitTimeout time.Duration

	// Now returns the current time. Defaults to time.Now().UTC().
	Now func() time.Time

	// NewID generates change record and learner ids. Defaults to uuid.NewString.
	NewID func() string
}

func (c Config) withDefaults() (Config, error) {
	if c.Repository == nil {
		return c, errors.New("statestore: repository is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	return c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store is the single owner of one learner's AcademicState.
//
// Writers are serialized on a mutex and every accepted change is persisted
// before it becomes visible. Readers never block: they load the latest
// published state through an atomic pointer and receive a deep copy.
type Store struct {
	cfg       Config
	learnerID string
	logger    *slog.Logger

	mu      sync.Mutex // serializes writers
	current atomic.Pointer[academic.AcademicState]
}

// NewStore creates a store around an already persisted state.
func NewStore(cfg Config, state academic.AcademicState) (*Store, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return newStore(cfg, state), nil
}

func newStore(cfg Config, state academic.AcademicState) *Store {
	s := &Store{
		cfg:       cfg,
		learnerID: state.Profile.ID,
		logger:    cfg.Logger.With("learner_id", state.Profile.ID),
	}
	published := state.Clone()
	s.current.Store(&published)
	return s
}

// LearnerID returns the id of the owned learner.
func (s *Store) LearnerID() string {
	return s.learnerID
}

// GetSnapshot returns a copy of the latest merged profile.
func (s *Store) GetSnapshot() academic.StudentProfile {
	return s.current.Load().Profile.Clone()
}

// State returns a copy of the latest full state.
func (s *Store) State() academic.AcademicState {
	return s.current.Load().Clone()
}

// Version returns the version of the latest published state.
func (s *Store) Version() uint64 {
	return s.current.Load().Version
}

// SubmitUpdate validates u, merges it into the profile and persists the
// result. On any error the canonical state is unchanged.
func (s *Store) SubmitUpdate(ctx context.Context, u academic.Update) (academic.StudentProfile, error) {
	vu, err := academic.Validate(u)
	if err != nil {
		s.reject(ctx, shared.EventProfileUpdateRejected, u.Sequence, u.Source, err)
		return academic.StudentProfile{}, err
	}
	return s.applyUpdate(ctx, vu)
}

// SubmitDelta validates d, merges it into the sub-states and persists the
// result. On any error the canonical state is unchanged.
func (s *Store) SubmitDelta(ctx context.Context, d academic.StateDelta) (academic.AcademicState, error) {
	vd, err := academic.ValidateDelta(d)
	if err != nil {
		s.reject(ctx, shared.EventStateDeltaRejected, d.Sequence, d.Source, err)
		return academic.AcademicState{}, err
	}
	return s.applyDelta(ctx, vd)
}

// History returns the most recent change records of the learner.
func (s *Store) History(ctx context.Context, limit int) ([]academic.ChangeRecord, error) {
	return s.cfg.Repository.History(ctx, s.learnerID, limit)
}

func (s *Store) applyUpdate(ctx context.Context, vu academic.ValidatedUpdate) (academic.StudentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()

	profile, err := academic.Merge(cur.Profile, vu)
	if err != nil {
		s.reject(ctx, shared.EventProfileUpdateRejected, vu.Sequence(), vu.Source(), err)
		return academic.StudentProfile{}, err
	}
	if vu.IsEmpty() {
		return profile, nil
	}

	next := cur.Clone()
	next.Profile = profile
	next.Version = cur.Version + 1

	fields := make([]string, 0, len(vu.Fields()))
	for _, f := range vu.Fields() {
		fields = append(fields, f.String())
	}

	rec := academic.ChangeRecord{
		LearnerID: s.learnerID,
		Sequence:  vu.Sequence(),
		Kind:      academic.ChangeUpdate,
		Source:    vu.Source(),
		Fields:    fields,
	}
	if err := s.commit(ctx, cur.Version, &next, rec); err != nil {
		return academic.StudentProfile{}, err
	}

	event := academic.NewProfileUpdatedEvent(next, vu)
	event.BaseEvent = correlated(ctx, event.BaseEvent)
	s.publish(event)
	s.logger.Debug("update applied",
		"correlation_id", event.CorrelationID,
		"version", next.Version,
		"sequence", vu.Sequence(),
		"fields", fields,
		"source", vu.Source(),
	)

	return next.Profile.Clone(), nil
}

func (s *Store) applyDelta(ctx context.Context, vd academic.ValidatedDelta) (academic.AcademicState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()

	next, err := academic.MergeState(*cur, vd)
	if err != nil {
		s.reject(ctx, shared.EventStateDeltaRejected, vd.Sequence(), vd.Source(), err)
		return academic.AcademicState{}, err
	}
	next.Version = cur.Version + 1

	rec := academic.ChangeRecord{
		LearnerID: s.learnerID,
		Sequence:  vd.Sequence(),
		Kind:      academic.ChangeDelta,
		Source:    vd.Source(),
		Fields:    vd.Sections(),
	}
	if err := s.commit(ctx, cur.Version, &next, rec); err != nil {
		return academic.AcademicState{}, err
	}

	event := academic.NewStateDeltaAppliedEvent(next, vd)
	event.BaseEvent = correlated(ctx, event.BaseEvent)
	s.publish(event)
	s.logger.Debug("delta applied",
		"correlation_id", event.CorrelationID,
		"version", next.Version,
		"sequence", vd.Sequence(),
		"sections", rec.Fields,
		"source", vd.Source(),
	)

	return next.Clone(), nil
}

// commit persists next and publishes it. Must be called with s.mu held.
func (s *Store) commit(ctx context.Context, expectedVersion uint64, next *academic.AcademicState, rec academic.ChangeRecord) error {
	sum, err := checksum.OfJSON(next)
	if err != nil {
		return fmt.Errorf("statestore: checksum: %w", err)
	}

	rec.ID = s.cfg.NewID()
	rec.Version = next.Version
	rec.Checksum = sum.String()
	rec.AppliedAt = s.cfg.Now()

	saveCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	if err := s.cfg.Repository.Save(saveCtx, *next, expectedVersion, rec); err != nil {
		if errors.Is(err, academic.ErrVersionMismatch) {
			s.resync(ctx)
		} else {
			err = persistenceError("Save", err)
		}
		return fmt.Errorf("statestore: save version %d: %w", next.Version, err)
	}

	published := next.Clone()
	s.current.Store(&published)
	s.cacheState(ctx, published)

	return nil
}

// resync reloads the persisted state after another writer moved it.
// Must be called with s.mu held.
func (s *Store) resync(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	// The cached snapshot predates the other writer.
	s.invalidateCache(ctx)

	state, err := s.cfg.Repository.Load(loadCtx, s.learnerID)
	if err != nil {
		s.logger.Warn("failed to resync state", "error", err)
		return
	}

	s.current.Store(&state)
	s.logger.Info("state resynced from repository", "version", state.Version)
}

func (s *Store) cacheState(ctx context.Context, state academic.AcademicState) {
	if s.cfg.Cache == nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	if err := s.cfg.Cache.Set(cacheCtx, state); err != nil {
		s.logger.Warn("failed to cache snapshot", "version", state.Version, "error", err)
		// An older snapshot must not outlive the one that failed to replace it.
		s.invalidateCache(ctx)
	}
}

func (s *Store) invalidateCache(ctx context.Context) {
	if s.cfg.Cache == nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	if err := s.cfg.Cache.Invalidate(cacheCtx, s.learnerID); err != nil {
		s.logger.Warn("failed to invalidate cached snapshot", "error", err)
	}
}

func (s *Store) reject(ctx context.Context, eventType shared.EventType, sequence uint64, source string, err error) {
	event := academic.NewChangeRejectedEvent(eventType, s.learnerID, s.Version(), sequence, source, err)
	event.BaseEvent = correlated(ctx, event.BaseEvent)

	s.logger.Info("change rejected",
		"event_type", eventType,
		"correlation_id", event.CorrelationID,
		"sequence", sequence,
		"outcome", academic.Classify(err),
		"error", err,
	)
	s.publish(event)
}

func (s *Store) publish(event shared.Event) {
	publishEvent(s.cfg.Events, s.logger, event)
}

// persistenceError marks a repository failure as retryable. Nothing was
// applied, so the same change may be submitted again.
func persistenceError(op string, err error) error {
	kind := shared.ErrServiceUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = shared.ErrTimeout
	}
	return shared.WrapError("store", op, kind, "repository unavailable", err)
}

// correlated stamps base with the correlation id carried by ctx.
func correlated(ctx context.Context, base shared.BaseEvent) shared.BaseEvent {
	return base.WithCorrelationID(shared.CorrelationIDFromContext(ctx))
}

func publishEvent(bus shared.EventPublisher, logger *slog.Logger, event shared.Event) {
	if bus == nil {
		return
	}
	if err := bus.Publish(event); err != nil {
		logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}
