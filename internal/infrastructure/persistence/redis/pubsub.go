package redis

import (
	"context"
	"errors"
	"sync"

	"github.com/fundhub/fundhub-engine/internal/infrastructure/messaging"
	"github.com/redis/go-redis/v9"
)

// PubSub adapts a go-redis client to messaging.RedisClient.
type PubSub struct {
	client *redis.Client

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewPubSub creates the adapter on the cache's client. Closing the adapter
// ends its subscriptions but leaves the client open.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{client: cache.Client()}
}

var _ messaging.RedisClient = (*PubSub)(nil)

// Publish implements messaging.RedisClient.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	if channel == "" {
		return ErrCacheKeyEmpty
	}
	return p.client.Publish(ctx, channel, message).Err()
}

// Subscribe implements messaging.RedisClient. The returned channel closes
// when ctx ends or the adapter is closed.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("pubsub: closed")
	}
	sub := p.client.Subscribe(ctx, channels...)
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	// Wait for the subscription confirmation so no publish is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan messaging.RedisMessage)
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements messaging.RedisClient.
func (p *PubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, sub := range p.subs {
		errs = append(errs, sub.Close())
	}
	return errors.Join(errs...)
}
