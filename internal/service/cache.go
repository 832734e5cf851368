package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"go.uber.org/zap"
)

// jsonCache stores values as JSON in redis. Every method is a no-op without redis,
// and cache failures never fail the caller.
type jsonCache struct {
	redis *storage.RedisClient
	ttl   time.Duration
	log   *zap.Logger
}

func (c jsonCache) get(ctx context.Context, key string, dst interface{}) bool {
	if !c.redis.Enabled() {
		return false
	}
	cached, err := c.redis.Get(ctx, key)
	if err != nil || cached == "" {
		return false
	}
	if err := json.Unmarshal([]byte(cached), dst); err != nil {
		c.log.Debug("dropping unreadable cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c jsonCache) set(ctx context.Context, key string, v interface{}) {
	if !c.redis.Enabled() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl); err != nil {
		c.log.Debug("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c jsonCache) del(ctx context.Context, keys ...string) {
	if !c.redis.Enabled() {
		return
	}
	if err := c.redis.Del(ctx, keys...); err != nil {
		c.log.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
