package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/clock"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
)

type FixedWindowLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
	clock  clock.Clock
}

func NewFixedWindow(redis *storage.RedisClient, limit int, window time.Duration, clk clock.Clock) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		redis:  redis,
		limit:  limit,
		window: window,
		clock:  clk,
	}
}

func (f *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if !f.redis.Enabled() {
		return Decision{}, storage.ErrCacheDisabled
	}

	now := f.clock.Now()
	currentWindow := now.Unix() / int64(f.window.Seconds())
	redisKey := fmt.Sprintf("ratelimit:fixed:%s:%d", key, currentWindow)

	pipe := f.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, f.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := int(incr.Val())
	return Decision{
		Allowed:   count <= f.limit,
		Limit:     f.limit,
		Remaining: max(f.limit-count, 0),
		ResetAt:   time.Unix((currentWindow+1)*int64(f.window.Seconds()), 0),
	}, nil
}

func (f *FixedWindowLimiter) Limit() int {
	return f.limit
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}
