package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fandry/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// A Redis lock: SET key value NX EX ttl to acquire, and a compare-and-delete Lua
// script to release, so a holder whose lock expired never deletes the next holder's lock.

var (
	ErrLockFailed = errors.New("failed to acquire distributed lock")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // identifies the holder
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes a single non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval, at most maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// Key is the redis key guarded by the lock.
func (l *DistributedLock) Key() string {
	return l.key
}

// NewUserLock serializes the local write phase of one user's checkouts. Different users
// get different keys and never wait on each other.
func NewUserLock(client *redis.Client, userID int64, holder string) *DistributedLock {
	key := fmt.Sprintf("points:lock:user:%d", userID)
	return NewDistributedLock(client, key, holder, 30*time.Second)
}

// WithUserLock runs fn while holding the user's lock. The lock is released before it returns,
// so callers must not do processor I/O inside fn.
func WithUserLock(ctx context.Context, client *redis.Client, userID int64, holder string, fn func() error) error {
	userLock := NewUserLock(client, userID, holder)
	if err := userLock.Lock(ctx, 50*time.Millisecond, 100); err != nil {
		logger.Warn("user lock not acquired", "key", userLock.Key(), "error", err)
		return err
	}
	defer userLock.Unlock(context.WithoutCancel(ctx)) //nolint:errcheck

	return fn()
}
