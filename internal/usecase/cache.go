package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache keys: result entries are keyed by the SHA-1 of the upload so identical
// inputs share one entry; job entries are keyed by request id.
func resultCacheKey(hash string) string   { return fmt.Sprintf("cutout:result:%s", hash) }
func jobCacheKey(requestID string) string { return fmt.Sprintf("cutout:job:%s", requestID) }

// Cache abstracts the Redis operations used by the removal flow. Values are
// byte slices throughout: result entries hold raw PNG bytes, job entries hold
// JSON-encoded job records.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis. A miss surfaces as redis.Nil.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.client.Get(ctx, key).Bytes()
}
