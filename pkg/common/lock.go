package common

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// RedisLock wraps redislock with per-key tracking so a held lock can be
// released by key.
type RedisLock struct {
	client *redislock.Client
	locks  map[string]*redislock.Lock
	mu     sync.Mutex
}

type RedisLockOptions struct {
	TtlS    int
	Retries int
}

func NewRedisLock(rdb *RedisClient) *RedisLock {
	return &RedisLock{
		client: redislock.New(rdb),
		locks:  make(map[string]*redislock.Lock),
	}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, opts RedisLockOptions) error {
	var retryStrategy redislock.RetryStrategy
	if opts.Retries > 0 {
		retryStrategy = redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), opts.Retries)
	}

	lock, err := l.client.Obtain(ctx, key, time.Duration(opts.TtlS)*time.Second, &redislock.Options{
		RetryStrategy: retryStrategy,
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.locks[key] = lock
	l.mu.Unlock()
	return nil
}

func (l *RedisLock) Release(key string) error {
	l.mu.Lock()
	lock, ok := l.locks[key]
	delete(l.locks, key)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	return lock.Release(context.Background())
}
