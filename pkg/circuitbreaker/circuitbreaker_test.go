package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func pass(context.Context) error { return nil }

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []string
	cb := New(Settings{
		Name:        "test",
		MaxFailures: 2,
		OpenFor:     time.Hour,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.NoError(t, cb.Execute(ctx, pass))
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateClosed, cb.State(), "a success resets the run")

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.Equal(t, []string{"closed->open"}, transitions)
	assert.Equal(t, Counts{Requests: 4, Successes: 1, Failures: 3}, cb.Counts())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := New(Settings{MaxFailures: 1, OpenFor: time.Minute, Now: clk.Now})
	ctx := context.Background()

	require.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	require.Equal(t, StateOpen, cb.State())

	clk.advance(59 * time.Second)
	assert.Equal(t, StateOpen, cb.State())

	clk.advance(time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	// a failed probe reopens for a full period
	require.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	clk.advance(time.Minute)
	require.NoError(t, cb.Execute(ctx, pass))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_SingleProbeInFlight(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := New(Settings{MaxFailures: 1, OpenFor: time.Second, Now: clk.Now})
	ctx := context.Background()

	require.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	clk.advance(time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		// the probe is still running; a second caller is turned away
		assert.ErrorIs(t, cb.Execute(ctx, pass), ErrOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IgnoresStaleResults(t *testing.T) {
	cb := New(Settings{MaxFailures: 1, OpenFor: time.Hour})
	ctx := context.Background()

	err := cb.Execute(ctx, func(ctx context.Context) error {
		// the breaker trips while this call is in flight
		require.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateOpen, cb.State(), "late success from the old generation is ignored")
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	ignored := errors.New("not found")
	cb := New(Settings{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, ignored) },
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return ignored })
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Counts().Failures)
}

func TestCacheBreaker_Reset(t *testing.T) {
	cb := CacheBreaker("redis", nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{}, cb.Counts())
	assert.Equal(t, "redis", cb.Name())
}
