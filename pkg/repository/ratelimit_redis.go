package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/relaychat/relay/pkg/common"
	"github.com/relaychat/relay/pkg/types"
)

// RedisRateLimiter implements RateLimiter using a fixed-window counter.
type RedisRateLimiter struct {
	rdb    *common.RedisClient
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(rdb *common.RedisClient, cfg types.RateLimitConfig) *RedisRateLimiter {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 20
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Hour
	}
	return &RedisRateLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
	}
}

// Allow increments the per-user counter for the feature and reports whether
// the request is within the window limit. The window TTL is set when the
// counter is first created; rejection carries the time until it expires.
func (r *RedisRateLimiter) Allow(ctx context.Context, feature, userId string) (bool, time.Duration, error) {
	key := common.Keys.RatelimitCounter(feature, userId)

	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit incr: %w", err)
	}

	if count == 1 {
		if err := r.rdb.Expire(ctx, key, r.window).Err(); err != nil {
			return false, 0, fmt.Errorf("ratelimit expire: %w", err)
		}
	}

	if count <= int64(r.limit) {
		return true, 0, nil
	}

	ttl, err := r.rdb.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = r.window
	}

	return false, ttl, nil
}
