package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/clock"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type SlidingWindowLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
	clock  clock.Clock
}

func NewSlidingWindow(redis *storage.RedisClient, limit int, window time.Duration, clk clock.Clock) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  redis,
		limit:  limit,
		window: window,
		clock:  clk,
	}
}

// Allow records the request in a sorted set scored by time. A denied request is
// removed again so it does not hold a slot.
func (s *SlidingWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if !s.redis.Enabled() {
		return Decision{}, storage.ErrCacheDisabled
	}

	redisKey := fmt.Sprintf("ratelimit:sliding:%s", key)
	now := s.clock.Now()
	windowStart := now.Add(-s.window)
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()

	pipe := s.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("(%d", windowStart.UnixNano()))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	card := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := int(card.Val())
	allowed := count <= s.limit
	if !allowed {
		if err := s.redis.ZRem(ctx, redisKey, member); err != nil {
			return Decision{}, err
		}
		count--
	}

	resetAt := now.Add(s.window)
	if entries := oldest.Val(); len(entries) > 0 {
		resetAt = time.Unix(0, int64(entries[0].Score)).Add(s.window)
	}

	return Decision{
		Allowed:   allowed,
		Limit:     s.limit,
		Remaining: max(s.limit-count, 0),
		ResetAt:   resetAt,
	}, nil
}

func (s *SlidingWindowLimiter) Limit() int {
	return s.limit
}

func (s *SlidingWindowLimiter) Window() time.Duration {
	return s.window
}
