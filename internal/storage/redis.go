package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheDisabled is returned by a nil RedisClient so callers can run without redis.
var ErrCacheDisabled = errors.New("storage: redis not configured")

type RedisClient struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Wraps an existing go-redis client.
func NewRedisFromClient(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

func (r *RedisClient) Enabled() bool {
	return r != nil && r.client != nil
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	if !r.Enabled() {
		return "", ErrCacheDisabled
	}
	return r.client.Get(ctx, key).Result()
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !r.Enabled() {
		return ErrCacheDisabled
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	if !r.Enabled() {
		return ErrCacheDisabled
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisClient) ZRem(ctx context.Context, key string, members ...interface{}) error {
	if !r.Enabled() {
		return ErrCacheDisabled
	}
	return r.client.ZRem(ctx, key, members...).Err()
}

// Runs a Lua script, loading it on first use.
func (r *RedisClient) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	if !r.Enabled() {
		return nil, ErrCacheDisabled
	}
	return script.Run(ctx, r.client, keys, args...).Result()
}

// TxPipeline panics on a disabled client; check Enabled first.
func (r *RedisClient) TxPipeline() redis.Pipeliner {
	return r.client.TxPipeline()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return ErrCacheDisabled
	}
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.client.Close()
}
