// Package circuitbreaker stops calls to a failing dependency for a cool-down
// period, then lets probe calls decide whether to resume. The engine puts one
// in front of the optional Redis catalogue cache.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling the guarded function while the breaker
// is open, or while a half-open probe is already in flight.
var ErrOpen = errors.New("circuitbreaker: open")

// Settings configures a breaker. Zero values take the defaults noted.
type Settings struct {
	Name string

	// MaxFailures is the run of consecutive failures that opens the breaker (5).
	MaxFailures int

	// OpenFor is how long the breaker stays open before probing (30s).
	OpenFor time.Duration

	// Probes is the number of successful half-open calls that close it (1).
	Probes int

	// IsFailure filters which errors count. Nil counts every error.
	IsFailure func(error) bool

	// OnStateChange is called under the breaker's lock; it must not call
	// back into the breaker.
	OnStateChange func(name string, from, to State)

	// Now is the clock (time.Now).
	Now func() time.Time
}

// Counts are cumulative since creation or the last Reset.
type Counts struct {
	Requests            int
	Successes           int
	Failures            int
	ConsecutiveFailures int
}

// CircuitBreaker guards calls to one dependency.
type CircuitBreaker struct {
	settings Settings

	mu             sync.Mutex
	state          State
	generation     uint64
	counts         Counts
	openedAt       time.Time
	probing        bool
	probeSuccesses int
}

// New creates a closed breaker.
func New(s Settings) *CircuitBreaker {
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}
	if s.OpenFor <= 0 {
		s.OpenFor = 30 * time.Second
	}
	if s.Probes <= 0 {
		s.Probes = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &CircuitBreaker{settings: s}
}

// CacheBreaker suits an optional cache: callers always have a fallback, so it
// opens after a short run of failures and probes again soon.
func CacheBreaker(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:          name,
		MaxFailures:   3,
		OpenFor:       15 * time.Second,
		Probes:        1,
		OnStateChange: onStateChange,
	})
}

// Execute calls fn unless the breaker rejects it with ErrOpen, and records
// the outcome. Results of calls started before a state change are ignored.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := cb.allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(gen, err)
	return err
}

func (cb *CircuitBreaker) allow() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh()
	switch cb.state {
	case StateOpen:
		return 0, ErrOpen
	case StateHalfOpen:
		if cb.probing {
			return 0, ErrOpen
		}
		cb.probing = true
	}
	cb.counts.Requests++
	return cb.generation, nil
}

func (cb *CircuitBreaker) record(gen uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh()
	if gen != cb.generation {
		return
	}

	failed := err != nil && (cb.settings.IsFailure == nil || cb.settings.IsFailure(err))
	if failed {
		cb.counts.Failures++
		cb.counts.ConsecutiveFailures++
		if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.settings.MaxFailures {
			cb.transition(StateOpen)
		}
		return
	}

	cb.counts.Successes++
	cb.counts.ConsecutiveFailures = 0
	if cb.state == StateHalfOpen {
		cb.probing = false
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.settings.Probes {
			cb.transition(StateClosed)
		}
	}
}

// refresh moves an open breaker to half-open once the cool-down passed.
// Callers hold mu.
func (cb *CircuitBreaker) refresh() {
	if cb.state == StateOpen && !cb.settings.Now().Before(cb.openedAt.Add(cb.settings.OpenFor)) {
		cb.transition(StateHalfOpen)
	}
}

// transition starts a new generation. Callers hold mu.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.generation++
	cb.probing = false
	cb.probeSuccesses = 0
	cb.counts.ConsecutiveFailures = 0
	if to == StateOpen {
		cb.openedAt = cb.settings.Now()
	}
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

// Counts returns a snapshot of the counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}

// Reset closes the breaker and clears the counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.counts = Counts{}
}
