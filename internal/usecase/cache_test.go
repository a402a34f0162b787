package usecase

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedisCache(t *testing.T) *RedisCache {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache := newTestRedisCache(t)
	ctx := context.Background()

	payload := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
	key := resultCacheKey("abc")
	if err := cache.Set(ctx, key, payload, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("cached bytes do not round trip")
	}
}

func TestRedisCacheMissReturnsNil(t *testing.T) {
	cache := newTestRedisCache(t)

	_, err := cache.Get(context.Background(), resultCacheKey("missing"))
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
}
