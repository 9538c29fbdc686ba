package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/pkg/logger"
	"github.com/google/uuid"
)

// RedisClient is the Pub/Sub surface the distributed bus runs on.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one delivery from a subscription. Err reports a broken
// subscription rather than a payload.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig configures a RedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient // required

	// ChannelName defaults to "fundhub:events".
	ChannelName string

	// InstanceID tags outgoing messages so an instance skips its own.
	// Defaults to a random UUID.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig

	// ForwardTypes lists the event types sent to other instances; empty
	// sends all. Events handled by state-changing handlers must stay local,
	// or every instance would apply them.
	ForwardTypes []shared.EventType

	Logger *logger.Logger
}

// RedisEventBus delivers every event to the local handlers and mirrors the
// forwarded types to the other instances on one Pub/Sub channel. Events
// arriving from the channel reach the local handlers only.
type RedisEventBus struct {
	local    *InMemoryEventBus
	client   RedisClient
	channel  string
	instance string
	forward  map[shared.EventType]bool // nil forwards all
	log      *logger.Logger

	mu     sync.RWMutex
	closed bool

	cancel    context.CancelFunc
	listening sync.WaitGroup
}

var _ shared.EventBus = (*RedisEventBus)(nil)

// NewRedisEventBus subscribes to the channel before returning, so that no
// message published afterwards is missed.
func NewRedisEventBus(cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("eventbus: redis client required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = "fundhub:events"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	b := &RedisEventBus{
		local:    NewInMemoryEventBus(cfg.LocalBusConfig),
		client:   cfg.Client,
		channel:  cfg.ChannelName,
		instance: cfg.InstanceID,
		log: cfg.Logger.With(
			logger.Component("redis_eventbus"),
			logger.String("instance", cfg.InstanceID),
		),
	}
	if len(cfg.ForwardTypes) > 0 {
		b.forward = make(map[shared.EventType]bool, len(cfg.ForwardTypes))
		for _, t := range cfg.ForwardTypes {
			b.forward[t] = true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	inbox, err := b.client.Subscribe(ctx, b.channel)
	if err != nil {
		cancel()
		_ = b.local.Close()
		return nil, fmt.Errorf("eventbus: subscribe %s: %w", b.channel, err)
	}
	b.cancel = cancel

	b.listening.Add(1)
	go func() {
		defer b.listening.Done()
		b.listen(ctx, inbox)
	}()
	return b, nil
}

func (b *RedisEventBus) Subscribe(t shared.EventType, h shared.EventHandler) error {
	return b.local.Subscribe(t, h)
}

func (b *RedisEventBus) SubscribeAll(h shared.EventHandler) error {
	return b.local.SubscribeAll(h)
}

// Publish mirrors a forwarded event to the channel, then delivers it
// locally. A failed mirror is logged and does not block local delivery.
func (b *RedisEventBus) Publish(ctx context.Context, event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	if b.forwards(event.EventType()) {
		data, err := MarshalEvent(b.instance, event)
		if err != nil {
			return err
		}
		if err := b.client.Publish(ctx, b.channel, string(data)); err != nil {
			b.log.Error("event not mirrored to redis",
				logger.String("event_type", string(event.EventType())),
				logger.Err(err),
			)
		}
	}
	return b.local.Publish(ctx, event)
}

func (b *RedisEventBus) forwards(t shared.EventType) bool {
	return b.forward == nil || b.forward[t]
}

func (b *RedisEventBus) listen(ctx context.Context, inbox <-chan RedisMessage) {
	for {
		var msg RedisMessage
		select {
		case <-ctx.Done():
			return
		case m, ok := <-inbox:
			if !ok {
				return
			}
			msg = m
		}

		if msg.Err != nil {
			b.log.Error("redis subscription error", logger.Err(msg.Err))
			continue
		}
		source, event, err := UnmarshalEvent([]byte(msg.Payload))
		switch {
		case err != nil:
			b.log.Error("dropping undecodable message", logger.Err(err))
		case source == b.instance:
			// delivered locally when published
		default:
			if err := b.local.Publish(ctx, event); err != nil {
				b.log.Error("remote event not delivered",
					logger.String("event_type", string(event.EventType())),
					logger.Err(err),
				)
			}
		}
	}
}

// Wait returns once every local handler started so far has finished.
func (b *RedisEventBus) Wait() {
	b.local.Wait()
}

// Close stops listening, then closes the local bus and the client.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.listening.Wait()

	if err := b.local.Close(); err != nil {
		b.log.Error("closing local bus", logger.Err(err))
	}
	if err := b.client.Close(); err != nil {
		b.log.Warn("closing redis client", logger.Err(err))
	}
	b.log.Info("redis event bus closed")
	return nil
}
