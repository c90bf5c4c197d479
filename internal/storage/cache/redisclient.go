// --- File: internal/storage/cache/redisclient.go ---

// Package cache adds a Redis read-aside layer over any RegistrationStore.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const connectTimeout = 2 * time.Second

// RedisClient adapts go-redis to the CacheClient interface the decorator
// consumes. Registration rows are stored as JSON under the decorator's
// primary-key cache keys.
type RedisClient struct {
	rdb *redis.Client
}

// NewRedisClient connects and verifies the connection before returning;
// a relay that cannot reach its cache should fail at startup, not on the
// first deliver.
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisClient{rdb: rdb}, nil
}

// Get fills dest from the cached JSON. A miss surfaces as redis.Nil, which
// the decorator treats as any other cache error: fall through to the real
// store.
func (c *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(val, dest)
}

func (c *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	bytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, bytes, ttl).Err()
}

func (c *RedisClient) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
