package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay/pkg/types"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	rdb, _, err := NewRedisClientForTest()
	require.NoError(t, err)

	limiter := NewRedisRateLimiter(rdb, types.RateLimitConfig{Limit: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Allow(context.Background(), "terminal", "user-1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, retryAfter, err := limiter.Allow(context.Background(), "terminal", "user-1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestRateLimiterIsolatesUsersAndFeatures(t *testing.T) {
	rdb, _, err := NewRedisClientForTest()
	require.NoError(t, err)

	limiter := NewRedisRateLimiter(rdb, types.RateLimitConfig{Limit: 1, Window: time.Minute})

	allowed, _, err := limiter.Allow(context.Background(), "terminal", "user-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, _ = limiter.Allow(context.Background(), "terminal", "user-1")
	assert.False(t, allowed)

	// Different user, same feature
	allowed, _, _ = limiter.Allow(context.Background(), "terminal", "user-2")
	assert.True(t, allowed)

	// Same user, different feature
	allowed, _, _ = limiter.Allow(context.Background(), "search", "user-1")
	assert.True(t, allowed)
}

func TestRateLimiterWindowReset(t *testing.T) {
	rdb, mr, err := NewRedisClientForTest()
	require.NoError(t, err)

	limiter := NewRedisRateLimiter(rdb, types.RateLimitConfig{Limit: 1, Window: time.Minute})

	allowed, _, _ := limiter.Allow(context.Background(), "terminal", "user-1")
	assert.True(t, allowed)
	allowed, _, _ = limiter.Allow(context.Background(), "terminal", "user-1")
	assert.False(t, allowed)

	mr.FastForward(2 * time.Minute)

	allowed, _, _ = limiter.Allow(context.Background(), "terminal", "user-1")
	assert.True(t, allowed)
}
