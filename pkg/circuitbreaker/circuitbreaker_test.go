package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRedis = errors.New("redis: connection refused")

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func fail(context.Context) error    { return errRedis }
func succeed(context.Context) error { return nil }

func newTestBreaker(clock *fakeClock, transitions *[]string) *Breaker {
	return New("cache",
		WithTrip(2),
		WithCooldown(10*time.Second),
		WithClock(clock.Now),
		WithOnStateChange(func(_ string, from, to State) {
			*transitions = append(*transitions, from.String()+"->"+to.String())
		}),
	)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	// A success in between resets the run.
	assert.ErrorIs(t, cb.Execute(ctx, fail), errRedis)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.ErrorIs(t, cb.Execute(ctx, fail), errRedis)
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, fail), errRedis)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestBreaker_TrialCallClosesAfterCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)

	clock.Advance(9 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)

	clock.Advance(time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreaker_FailedTrialCallReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock.Advance(10 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errRedis)
	assert.Equal(t, StateOpen, cb.State())

	// The cooldown restarts from the failed trial call.
	clock.Advance(5 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->open"}, transitions)
}

func TestBreaker_OneTrialCallAtATime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock.Advance(10 * time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		// A second caller arrives while the trial call is in flight.
		assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_StateChangeCallbackMayReadState(t *testing.T) {
	var seen State
	var cb *Breaker
	cb = New("cache", WithTrip(1), WithOnStateChange(func(string, State, State) {
		seen = cb.State()
	}))

	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, seen)
}

func TestCacheBreaker(t *testing.T) {
	cb := CacheBreaker(nil)
	assert.Equal(t, "snapshot-cache", cb.Name())
	assert.Equal(t, 3, cb.cfg.trip)
	assert.Equal(t, 15*time.Second, cb.cfg.cooldown)
}
