package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache backed by a shared Redis instance, for deployments
// that run more than one gatekeep replica and want cache hits to be shared
// across them rather than kept per-process in a MemoryCache. gatekeepd uses
// it only for the capability-discovery cache; the decision cache is always
// per-process. It uses the same github.com/redis/go-redis/v9 client as
// audit/redissink.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps an existing *redis.Client. Callers configure the
// client (address, TLS, auth) themselves, the same way redissink.New does.
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "gatekeep:cache:"
	}
	return &RedisCache{client: client, prefix: keyPrefix}
}

// Get retrieves a value from Redis. Returns (nil, false) on miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return nil, false
		}
		return nil, false
	}
	return val, true
}

// Set stores a value with the given TTL. TTL=0 means don't cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

// Delete removes a value from Redis. Idempotent - no error on miss.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

var _ Cache = (*RedisCache)(nil)
