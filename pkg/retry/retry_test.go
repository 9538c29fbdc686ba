package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset")

func fast(opts ...Option) *Retrier {
	return New(append([]Option{WithInitialDelay(time.Millisecond), WithMaxDelay(time.Millisecond)}, opts...)...)
}

func TestDo_RetriesMarkedErrors(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(5)).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errFlaky)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnUnmarkedError(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(5)).Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	var notified []error
	err := fast(
		WithMaxAttempts(3),
		WithOnRetry(func(err error, _ time.Duration) { notified = append(notified, err) }),
	).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errFlaky)
	})

	assert.Equal(t, 3, calls)
	assert.Len(t, notified, 2)
	// the marker is stripped from what the caller sees
	assert.ErrorIs(t, err, errFlaky)
	assert.False(t, IsRetryable(err))
}

func TestDo_CustomPredicate(t *testing.T) {
	calls := 0
	r := fast(WithMaxAttempts(4), WithRetryIf(func(err error) bool { return errors.Is(err, errFlaky) }))
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, calls)
}

func TestDoWithData(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), fast(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errFlaky)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(WithMaxAttempts(10), WithInitialDelay(time.Second))
	err := r.Do(ctx, func(context.Context) error { return Retryable(errFlaky) })
	assert.Error(t, err)
}

func TestRetryable(t *testing.T) {
	assert.Nil(t, Retryable(nil))
	assert.True(t, IsRetryable(Retryable(errFlaky)))
	assert.ErrorIs(t, Retryable(errFlaky), errFlaky)
	assert.False(t, IsRetryable(errFlaky))
}
