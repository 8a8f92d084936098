package utils

import (
	"context"       // Context for Redis operations
	"encoding/json" // JSON encoding/decoding
	"errors"
	"fmt"
	"strings"
	"time" // Time durations

	"finance_tracker/internal/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9" // Redis client
)

// scanBatch is the COUNT hint used when walking keys with SCAN
const scanBatch = 200

// Cache is a JSON value cache on top of Redis. Every method is safe to call on a nil
// *Cache, which behaves as an always-empty cache.
type Cache struct {
	rdb redis.UniversalClient
}

// NewCache wraps a Redis client
func NewCache(rdb redis.UniversalClient) *Cache {
	return &Cache{rdb: rdb}
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("cache disabled")
	}
	return c.rdb.Ping(ctx).Err()
}

// Get retrieves a value from Redis and unmarshals it into dest
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil {
		return false, nil
	}
	val, err := c.rdb.Get(ctx, key).Bytes() // Get value from Redis
	if errors.Is(err, redis.Nil) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return false, nil // Key does not exist
	} else if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return false, err // Other Redis error
	}
	if err := json.Unmarshal(val, dest); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return true, nil
}

// Set stores a value in Redis with a specified TTL
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(value) // Marshal value to JSON
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// SetIndexed stores a value like Set and records key in the index set so InvalidateIndex
// can remove it later. The index lives at least as long as its newest member.
func (c *Cache) SetIndexed(ctx context.Context, index, key string, value any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, b, ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, ttl)
		return nil
	})
	return err
}

// InvalidateIndex deletes every key recorded in index and the index itself. The index is
// renamed first so keys indexed concurrently land in a fresh set instead of being lost.
func (c *Cache) InvalidateIndex(ctx context.Context, index string) (int, error) {
	if c == nil {
		return 0, nil
	}
	purge := index + ":purge:" + uuid.NewString()
	if err := c.rdb.Rename(ctx, index, purge).Err(); err != nil {
		if isNoSuchKey(err) {
			return 0, nil
		}
		return 0, err
	}
	keys, err := c.rdb.SMembers(ctx, purge).Result()
	if err != nil {
		return 0, err
	}
	if err := c.rdb.Del(ctx, append(keys, purge)...).Err(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Delete deletes keys from Redis
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err() // Delete keys from Redis
}

// DeletePattern removes every key matching a glob pattern using SCAN, never KEYS
func (c *Cache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if c == nil {
		return 0, nil
	}
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	deleted := 0
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		n, err := c.rdb.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
	}
	return deleted, nil
}

func isNoSuchKey(err error) bool {
	return strings.Contains(err.Error(), "no such key")
}
