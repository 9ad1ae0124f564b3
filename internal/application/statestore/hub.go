package statestore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
	"github.com/alem-hub/academic-state-hub/internal/domain/shared"
	"github.com/alem-hub/academic-state-hub/pkg/checksum"
)

// ErrHubClosed is returned by every Hub operation after Close.
var ErrHubClosed = shared.NewDomainError("store", "Hub", shared.ErrInvalidState, "hub is closed")

// ══════════════════════════════════════════════════════════════════════════════
// HUB
// ══════════════════════════════════════════════════════════════════════════════

// Hub owns one Store per learner. The coordinating process creates a Hub and
// passes it to whatever needs state access; there is no package-level store.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	stores map[string]*Store
	closed bool
}

// NewHub creates an empty hub.
func NewHub(cfg Config) (*Hub, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	return &Hub{
		cfg:    cfg,
		logger: cfg.Logger,
		stores: make(map[string]*Store),
	}, nil
}

// Onboard creates and persists the profile of a new learner. An empty ID is
// replaced by a generated one. Returns academic.ErrProfileExists when the
// learner is already known.
func (h *Hub) Onboard(ctx context.Context, params academic.NewProfileParams) (*Store, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(params.ID) == "" {
		params.ID = h.cfg.NewID()
	}

	profile, err := academic.NewStudentProfile(params)
	if err != nil {
		return nil, err
	}

	state := academic.NewAcademicState(profile)
	state.Version = 1

	sum, err := checksum.OfJSON(state)
	if err != nil {
		return nil, fmt.Errorf("statestore: checksum: %w", err)
	}

	rec := academic.ChangeRecord{
		ID:        h.cfg.NewID(),
		LearnerID: profile.ID,
		Version:   state.Version,
		Kind:      academic.ChangeOnboard,
		Fields:    presentFields(profile),
		Checksum:  sum.String(),
		AppliedAt: h.cfg.Now(),
	}

	createCtx, cancel := context.WithTimeout(ctx, h.cfg.SubmitTimeout)
	defer cancel()

	if err := h.cfg.Repository.Create(createCtx, state, rec); err != nil {
		if !shared.IsAlreadyExists(err) {
			err = persistenceError("Create", err)
		}
		return nil, fmt.Errorf("statestore: onboard %s: %w", profile.ID, err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	store := newStore(h.cfg, state)
	h.stores[profile.ID] = store
	h.mu.Unlock()

	store.cacheState(ctx, state)
	event := academic.NewProfileOnboardedEvent(state)
	event.BaseEvent = correlated(ctx, event.BaseEvent)
	publishEvent(h.cfg.Events, h.logger, event)
	h.logger.Info("learner onboarded", "learner_id", profile.ID, "correlation_id", event.CorrelationID)

	return store, nil
}

// Open returns the store of a learner, loading it from the repository on
// first use. Returns academic.ErrProfileNotFound for unknown learners.
func (h *Hub) Open(ctx context.Context, learnerID string) (*Store, error) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil, ErrHubClosed
	}
	store, ok := h.stores[learnerID]
	h.mu.RUnlock()
	if ok {
		return store, nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, h.cfg.SubmitTimeout)
	defer cancel()

	state, err := h.cfg.Repository.Load(loadCtx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("statestore: open %s: %w", learnerID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	// Another caller may have opened it while we were loading.
	if store, ok := h.stores[learnerID]; ok {
		return store, nil
	}

	store = newStore(h.cfg, state)
	h.stores[learnerID] = store
	h.logger.Debug("learner opened", "learner_id", learnerID, "version", state.Version)

	return store, nil
}

// Snapshot returns the latest profile of a learner. Open stores answer
// directly; otherwise the snapshot cache is tried before the repository.
func (h *Hub) Snapshot(ctx context.Context, learnerID string) (academic.StudentProfile, error) {
	state, err := h.readState(ctx, learnerID)
	if err != nil {
		return academic.StudentProfile{}, err
	}
	return state.Profile, nil
}

// State returns the latest full state of a learner, like Snapshot.
func (h *Hub) State(ctx context.Context, learnerID string) (academic.AcademicState, error) {
	return h.readState(ctx, learnerID)
}

func (h *Hub) readState(ctx context.Context, learnerID string) (academic.AcademicState, error) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return academic.AcademicState{}, ErrHubClosed
	}
	store, ok := h.stores[learnerID]
	h.mu.RUnlock()
	if ok {
		return store.State(), nil
	}

	if h.cfg.Cache != nil {
		state, hit, err := h.cfg.Cache.Get(ctx, learnerID)
		switch {
		case err != nil:
			h.logger.Warn("snapshot cache read failed", "learner_id", learnerID, "error", err)
		case hit:
			return state, nil
		}
	}

	store, err := h.Open(ctx, learnerID)
	if err != nil {
		return academic.AcademicState{}, err
	}
	return store.State(), nil
}

// SubmitUpdate routes a profile update to the store of its learner.
func (h *Hub) SubmitUpdate(ctx context.Context, u academic.Update) (academic.StudentProfile, error) {
	vu, err := academic.Validate(u)
	if err != nil {
		h.reject(ctx, shared.EventProfileUpdateRejected, u.ProfileID, u.Sequence, u.Source, err)
		return academic.StudentProfile{}, err
	}

	store, err := h.Open(ctx, vu.ProfileID())
	if err != nil {
		return academic.StudentProfile{}, err
	}
	return store.applyUpdate(ctx, vu)
}

// SubmitDelta routes a state delta to the store of its learner.
func (h *Hub) SubmitDelta(ctx context.Context, d academic.StateDelta) (academic.AcademicState, error) {
	vd, err := academic.ValidateDelta(d)
	if err != nil {
		h.reject(ctx, shared.EventStateDeltaRejected, d.LearnerID, d.Sequence, d.Source, err)
		return academic.AcademicState{}, err
	}

	store, err := h.Open(ctx, vd.LearnerID())
	if err != nil {
		return academic.AcademicState{}, err
	}
	return store.applyDelta(ctx, vd)
}

// History returns the most recent change records of a learner.
func (h *Hub) History(ctx context.Context, learnerID string, limit int) ([]academic.ChangeRecord, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	return h.cfg.Repository.History(ctx, learnerID, limit)
}

// Learners returns the ids of the stores currently open, sorted.
func (h *Hub) Learners() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.stores))
	for id := range h.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close releases every open store. Later calls return ErrHubClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	n := len(h.stores)
	h.stores = make(map[string]*Store)

	h.logger.Info("state hub closed", "stores", n)
	return nil
}

func (h *Hub) checkOpen() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHubClosed
	}
	return nil
}

func (h *Hub) reject(ctx context.Context, eventType shared.EventType, learnerID string, sequence uint64, source string, err error) {
	event := academic.NewChangeRejectedEvent(eventType, learnerID, 0, sequence, source, err)
	event.BaseEvent = correlated(ctx, event.BaseEvent)

	h.logger.Info("change rejected",
		"learner_id", learnerID,
		"correlation_id", event.CorrelationID,
		"event_type", eventType,
		"sequence", sequence,
		"outcome", academic.Classify(err),
		"error", err,
	)
	publishEvent(h.cfg.Events, h.logger, event)
}

func presentFields(p academic.StudentProfile) []string {
	var out []string
	for _, f := range academic.Fields() {
		if p.Has(f) {
			out = append(out, f.String())
		}
	}
	return out
}

// IsRejection reports whether err is a rejected change rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	outcome := academic.Classify(err)
	return outcome != academic.OutcomeAccepted && outcome != academic.OutcomeError
}
