// Package messaging implements the domain event bus of the engine. The
// in-memory bus serves a single process; the Redis bus fans signals out to
// every worker instance over Pub/Sub.
package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/pkg/logger"
	"golang.org/x/sync/semaphore"
)

var (
	ErrEventBusClosed    = errors.New("eventbus: closed")
	ErrHandlerPanic      = errors.New("eventbus: handler panicked")
	ErrEventNotSupported = errors.New("eventbus: unsupported event")

	errNilHandler = errors.New("eventbus: nil handler")
	errNilEvent   = errors.New("eventbus: nil event")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures an InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode detaches handlers from Publish. They then run on at most
	// WorkerPoolSize goroutines at once (10) with a context that ignores the
	// publisher's cancellation.
	AsyncMode      bool
	WorkerPoolSize int

	Logger *logger.Logger

	// Middlewares wrap every handler, the first one outermost.
	Middlewares []Middleware
}

// InMemoryEventBus delivers events to the handlers of this process. In
// synchronous mode handlers run on the publisher's goroutine, in
// subscription order, and a handler may publish again from inside.
type InMemoryEventBus struct {
	log         *logger.Logger
	middlewares []Middleware
	async       bool
	slots       *semaphore.Weighted

	mu     sync.RWMutex
	byType map[shared.EventType][]shared.EventHandler
	any    []shared.EventHandler
	closed bool

	done     context.Context // cancelled by Close; releases queued async runs
	shutdown context.CancelFunc
	inflight sync.WaitGroup
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

// NewInMemoryEventBus creates an open bus.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	done, shutdown := context.WithCancel(context.Background())
	return &InMemoryEventBus{
		log:         cfg.Logger.With(logger.Component("eventbus")),
		middlewares: cfg.Middlewares,
		async:       cfg.AsyncMode,
		slots:       semaphore.NewWeighted(int64(cfg.WorkerPoolSize)),
		byType:      make(map[shared.EventType][]shared.EventHandler),
		done:        done,
		shutdown:    shutdown,
	}
}

// Subscribe adds a handler for one event type.
func (b *InMemoryEventBus) Subscribe(t shared.EventType, h shared.EventHandler) error {
	return b.add(h, func(wrapped shared.EventHandler) {
		b.byType[t] = append(b.byType[t], wrapped)
		b.log.Debug("handler subscribed", logger.String("event_type", string(t)))
	})
}

// SubscribeAll adds a handler for every event type. It runs after the
// typed handlers of each event.
func (b *InMemoryEventBus) SubscribeAll(h shared.EventHandler) error {
	return b.add(h, func(wrapped shared.EventHandler) {
		b.any = append(b.any, wrapped)
		b.log.Debug("catch-all handler subscribed")
	})
}

func (b *InMemoryEventBus) add(h shared.EventHandler, register func(shared.EventHandler)) error {
	if h == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	register(Chain(h, b.middlewares...))
	return nil
}

// targets snapshots the handlers of t, typed first.
func (b *InMemoryEventBus) targets(t shared.EventType) ([]shared.EventHandler, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrEventBusClosed
	}
	typed := b.byType[t]
	out := make([]shared.EventHandler, 0, len(typed)+len(b.any))
	return append(append(out, typed...), b.any...), nil
}

// Publish hands event to its handlers. Handler failures are logged here and
// never returned; the error reports only a nil event or a closed bus.
func (b *InMemoryEventBus) Publish(ctx context.Context, event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	handlers, err := b.targets(event.EventType())
	if err != nil {
		return err
	}
	if len(handlers) == 0 {
		b.log.Debug("event has no handlers", logger.String("event_type", string(event.EventType())))
		return nil
	}

	if !b.async {
		for _, h := range handlers {
			b.invoke(ctx, h, event)
		}
		return nil
	}

	detached := context.WithoutCancel(ctx)
	for _, h := range handlers {
		b.inflight.Add(1)
		go func(h shared.EventHandler) {
			defer b.inflight.Done()
			if err := b.slots.Acquire(b.done, 1); err != nil {
				return // closed while queued
			}
			defer b.slots.Release(1)
			b.invoke(detached, h, event)
		}(h)
	}
	return nil
}

func (b *InMemoryEventBus) invoke(ctx context.Context, h shared.EventHandler, event shared.Event) {
	start := time.Now()
	if err := h(ctx, event); err != nil {
		b.log.Error("event handler failed",
			logger.String("event_type", string(event.EventType())),
			logger.String("aggregate_id", event.AggregateID()),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
	}
}

// Wait returns once every handler started so far has finished.
func (b *InMemoryEventBus) Wait() {
	b.inflight.Wait()
}

// Close rejects further use, drops async runs still waiting for a slot and
// waits for the running ones.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.shutdown()
	b.inflight.Wait()
	b.log.Info("event bus closed")
	return nil
}
