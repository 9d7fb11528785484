package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/orderlens/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryLimiter(limit int64, period time.Duration) *PriceEventLimiter {
	return NewPriceEventLimiter(config.Config{
		PriceRateLimit:  limit,
		PriceRatePeriod: period,
	})
}

func TestPriceEventLimiterAllowsUnderLimit(t *testing.T) {
	ctx := context.Background()
	limiter := newMemoryLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, 1, 10)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}

	res, err := limiter.Allow(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestPriceEventLimiterIsolatesKeys(t *testing.T) {
	ctx := context.Background()
	limiter := newMemoryLimiter(1, time.Hour)

	res, err := limiter.Allow(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, 1, 11)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "different product shares no bucket")

	res, err = limiter.Allow(ctx, 2, 10)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "different tenant shares no bucket")
}

func TestPriceEventLimiterInfoDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	limiter := newMemoryLimiter(2, time.Hour)

	for i := 0; i < 5; i++ {
		info, err := limiter.Info(ctx, 1, 10)
		require.NoError(t, err)
		assert.True(t, info.Allowed)
		assert.Equal(t, 2, info.Remaining)
	}
}

func TestPriceEventLimiterReset(t *testing.T) {
	ctx := context.Background()
	limiter := newMemoryLimiter(1, time.Hour)

	res, err := limiter.Allow(ctx, 1, 10)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, 1, 10)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	require.NoError(t, limiter.Reset(ctx, 1, 10))

	res, err = limiter.Allow(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestPriceEventLimiterWindowExpiry(t *testing.T) {
	limiter := newMemoryLimiter(1, time.Hour)
	now := time.Now()
	limiter.memory.now = func() time.Time { return now }

	res := limiter.memory.allow("k", 1, time.Hour)
	require.True(t, res.Allowed)
	res = limiter.memory.allow("k", 1, time.Hour)
	require.False(t, res.Allowed)

	now = now.Add(time.Hour + time.Second)
	res = limiter.memory.allow("k", 1, time.Hour)
	assert.True(t, res.Allowed)
}
