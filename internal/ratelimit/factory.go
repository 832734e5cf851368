package ratelimit

import (
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/clock"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
)

const (
	AlgorithmFixedWindow   = "fixed_window"
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmTokenBucket   = "token_bucket"
)

func NewLimiter(redis *storage.RedisClient, algorithm string, limit int, window time.Duration, clk clock.Clock) Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	if window <= 0 {
		window = time.Minute
	}

	switch algorithm {
	case AlgorithmTokenBucket:
		return NewTokenBucket(redis, limit, window, clk)
	case AlgorithmSlidingWindow:
		return NewSlidingWindow(redis, limit, window, clk)
	default:
		return NewFixedWindow(redis, limit, window, clk)
	}
}
