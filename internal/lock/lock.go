package lock

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/logger"
)

//go:embed lua/release.lua
var luaRelease string

const pollInterval = 25 * time.Millisecond

// Locker serialises work on a single key (a user or a batch)
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// New returns a redis-backed locker, or an in-process one when rdb is nil
func New(rdb *redis.Client, ttl, wait time.Duration) Locker {
	if rdb == nil {
		return NewLocalLocker(wait)
	}
	return NewRedisLocker(rdb, ttl, wait)
}

// RedisLocker holds a lease key per resource. A lease outlives a crashed
// holder by at most ttl.
type RedisLocker struct {
	rdb        *redis.Client
	ttl        time.Duration
	wait       time.Duration
	scrRelease *redis.Script
}

func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		rdb:        rdb,
		ttl:        ttl,
		wait:       wait,
		scrRelease: redis.NewScript(luaRelease),
	}
}

func lockKey(key string) string { return fmt.Sprintf("lock:{%s}", key) }

// Acquire polls until the lease is taken or the wait budget runs out
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, lockKey(key), token, l.ttl).Result()
		if err != nil {
			return nil, apperr.Internal("lock unavailable", err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}
		if time.Now().After(deadline) {
			return nil, apperr.Conflict("another operation is in progress for %s", key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := l.scrRelease.Run(ctx, l.rdb, []string{lockKey(key)}, token).Err(); err != nil {
		logger.Warnf("[Lock] release of %s failed, lease expires on its own: %v", key, err)
	}
}

// LocalLocker serialises within one process only
type LocalLocker struct {
	wait  time.Duration
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{wait: wait, slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-timer.C:
		return nil, apperr.Conflict("another operation is in progress for %s", key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
