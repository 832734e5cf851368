package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/clock"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Refill and take run in one script so concurrent gateways cannot double spend.
// Returns {allowed, tokens left in thousandths}.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local elapsed = math.max(0, now - ts)
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, math.floor(tokens * 1000)}
`)

type TokenBucket struct {
	redis    *storage.RedisClient
	capacity int
	window   time.Duration // time to refill an empty bucket
	clock    clock.Clock
}

func NewTokenBucket(redis *storage.RedisClient, capacity int, window time.Duration, clk clock.Clock) *TokenBucket {
	return &TokenBucket{
		redis:    redis,
		capacity: capacity,
		window:   window,
		clock:    clk,
	}
}

// tokens per millisecond
func (t *TokenBucket) rate() float64 {
	return float64(t.capacity) / float64(t.window.Milliseconds())
}

func (t *TokenBucket) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := fmt.Sprintf("ratelimit:bucket:%s", key)
	now := t.clock.Now()

	res, err := t.redis.RunScript(ctx, tokenBucketScript, []string{redisKey},
		t.capacity, t.rate(), now.UnixMilli(), t.window.Milliseconds())
	if err != nil {
		return Decision{}, err
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}
	allowed, _ := arr[0].(int64)
	milliTokens, _ := arr[1].(int64)

	left := float64(milliTokens) / 1000
	resetAt := now
	if left < 1 {
		waitMs := (1 - left) / t.rate()
		resetAt = now.Add(time.Duration(waitMs * float64(time.Millisecond)))
	}

	return Decision{
		Allowed:   allowed == 1,
		Limit:     t.capacity,
		Remaining: int(left),
		ResetAt:   resetAt,
	}, nil
}

func (t *TokenBucket) Limit() int {
	return t.capacity
}

func (t *TokenBucket) Window() time.Duration {
	return t.window
}
