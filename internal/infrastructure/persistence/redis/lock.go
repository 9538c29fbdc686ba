package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned by Release when the lock expired or was taken
// over by another holder.
var ErrLockNotHeld = errors.New("lock: not held")

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive locks so that one instance runs a
// scheduled job at a time.
type Locker struct {
	client *redis.Client
}

// NewLocker creates a Locker on the cache's client.
func NewLocker(cache *Cache) *Locker {
	return &Locker{client: cache.Client()}
}

// Lock is a held lock.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// TryLock acquires the named lock for ttl. It returns (nil, nil) when another
// holder owns it.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}

	key := LockKey(name)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// Release frees the lock if it is still ours.
func (l *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Acquire is TryLock shaped for the scheduler jobs: release is nil when the
// lock is held elsewhere.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.TryLock(ctx, name, ttl)
	if err != nil || lock == nil {
		return nil, err
	}
	return lock.Release, nil
}
