// Package circuitbreaker guards the Redis snapshot cache. After a run of
// failed calls the breaker opens and refuses calls for a cooldown, so that
// the state hub falls back to the repository at once instead of waiting
// on Redis timeouts. After the cooldown a single trial call decides
// whether the breaker closes again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned instead of calling through an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	// StateHalfOpen lets one trial call through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// StateChangeFunc is told about every transition. It runs outside the
// breaker's lock.
type StateChangeFunc func(name string, from, to State)

type settings struct {
	trip          int
	cooldown      time.Duration
	onStateChange StateChangeFunc
	now           func() time.Time
}

// Option configures a breaker.
type Option func(*settings)

// WithTrip sets how many consecutive failures open the breaker. Default: 5
func WithTrip(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.trip = n
		}
	}
}

// WithCooldown sets how long the breaker stays open. Default: 30s
func WithCooldown(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithOnStateChange registers fn for state transitions.
func WithOnStateChange(fn StateChangeFunc) Option {
	return func(s *settings) {
		s.onStateChange = fn
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// Breaker counts consecutive failures of the calls made through Execute.
type Breaker struct {
	name string
	cfg  settings

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	cfg := settings{trip: 5, cooldown: 30 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Breaker{name: name, cfg: cfg}
}

// CacheBreaker returns the breaker of the snapshot cache. The cache is
// optional, so it opens after a few failures and tries again soon.
func CacheBreaker(onStateChange StateChangeFunc) *Breaker {
	return New("snapshot-cache",
		WithTrip(3),
		WithCooldown(15*time.Second),
		WithOnStateChange(onStateChange),
	)
}

// Execute calls fn unless the breaker is open, and records its result.
// Any non-nil error from fn counts as a failure; callers that do not want
// an outcome counted (a cache miss) must return nil for it.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err == nil)
	return err
}

// State returns the current state. An open breaker whose cooldown has
// passed still reports StateOpen until the next call tries it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the name passed to New.
func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.cfg.now().Sub(b.openedAt) < b.cfg.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
		notify := b.transition(StateHalfOpen)
		b.mu.Unlock()
		notify()
		return nil
	case StateHalfOpen:
		defer b.mu.Unlock()
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	default:
		b.mu.Unlock()
		return nil
	}
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	notify := func() {}

	switch b.state {
	case StateClosed:
		if ok {
			b.failures = 0
			break
		}
		b.failures++
		if b.failures >= b.cfg.trip {
			notify = b.open()
		}
	case StateHalfOpen:
		b.probing = false
		if ok {
			b.failures = 0
			notify = b.transition(StateClosed)
		} else {
			notify = b.open()
		}
	}
	// Calls that started before the breaker opened are not counted.

	b.mu.Unlock()
	notify()
}

func (b *Breaker) open() func() {
	b.openedAt = b.cfg.now()
	return b.transition(StateOpen)
}

// transition must be called with b.mu held. The returned func reports the
// change and must be called after unlocking.
func (b *Breaker) transition(to State) func() {
	from := b.state
	b.state = to
	if b.cfg.onStateChange == nil || from == to {
		return func() {}
	}
	return func() { b.cfg.onStateChange(b.name, from, to) }
}
