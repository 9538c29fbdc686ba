// Package retry re-runs operations that fail transiently, spacing attempts
// with cenkalti/backoff's jittered exponential schedule. Errors opt in by
// being marked Retryable or by matching a caller-supplied predicate.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryableError marks Err as worth another attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks err. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries the marker anywhere in its chain.
func IsRetryable(err error) bool {
	var marked *RetryableError
	return errors.As(err, &marked)
}

// Config is the retry policy.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts uint

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor spreads each delay by ±factor (0 disables).
	JitterFactor float64

	// RetryIf picks the errors to retry. Nil retries marked errors only.
	RetryIf func(error) bool

	// OnRetry observes each failure that will be retried, with the wait.
	OnRetry func(err error, delay time.Duration)
}

// DefaultConfig makes three attempts, waiting from 100ms and doubling up to 30s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Option adjusts a Config.
type Option func(*Config)

// WithMaxAttempts bounds attempts, the first included.
func WithMaxAttempts(n uint) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the first wait.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

// WithMaxDelay caps any single wait.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

// WithRetryIf replaces the marker check with fn.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) {
		c.RetryIf = fn
	}
}

// WithOnRetry installs Config.OnRetry.
func WithOnRetry(fn func(err error, delay time.Duration)) Option {
	return func(c *Config) {
		c.OnRetry = fn
	}
}

// Retrier applies one policy. It is safe for concurrent use.
type Retrier struct {
	config Config
}

// New starts from DefaultConfig and applies opts in order.
func New(opts ...Option) *Retrier {
	cfg := DefaultConfig()
	for _, apply := range opts {
		apply(&cfg)
	}
	return &Retrier{config: cfg}
}

// Do executes the operation, retrying errors accepted by the retry predicate.
// The returned error has any RetryableError marker removed.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	_, err := DoWithData(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	})
	return err
}

// DoWithData is Do for operations that return a value.
func DoWithData[T any](ctx context.Context, r *Retrier, operation func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.InitialDelay
	b.MaxInterval = r.config.MaxDelay
	b.Multiplier = r.config.Multiplier
	b.RandomizationFactor = r.config.JitterFactor

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.config.MaxAttempts),
	}
	if r.config.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(r.config.OnRetry))
	}

	result, err := backoff.Retry(ctx, func() (T, error) {
		v, err := operation(ctx)
		if err == nil {
			return v, nil
		}
		if !r.shouldRetry(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)

	if err != nil {
		var marked *RetryableError
		if errors.As(err, &marked) {
			return result, marked.Err
		}
	}
	return result, err
}

func (r *Retrier) shouldRetry(err error) bool {
	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return IsRetryable(err)
}

// DatabaseRetrier suits single statements: three quick attempts within about
// a second, retrying what retryIf classifies as transient.
func DatabaseRetrier(retryIf func(error) bool) *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithRetryIf(retryIf),
	)
}
