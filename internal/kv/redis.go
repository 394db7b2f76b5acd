// Package kv adapts the shared Redis client to the cache.KV contract.
//
// The *redis.Client is a process-wide singleton with a bounded connection
// pool, constructed once at startup and shared read/write by every request
// pipeline. It is safe for concurrent use by construction; no external
// locking is layered on top.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements cache.KV over go-redis.
type Redis struct {
	client redis.Cmdable
}

// NewRedis wraps an existing client. The caller owns the client lifecycle.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

// NewClient builds the process-wide Redis client.
func NewClient(addr, password string, db, poolSize int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
}

// Get returns the value for key and whether it exists.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// SetEx stores value under key with a TTL.
func (r *Redis) SetEx(ctx context.Context, key string, ttl time.Duration, value string) error {
	if err := r.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis setex: %w", err)
	}
	return nil
}

// Del removes keys. Deleting a missing key is not an error.
func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Scan returns one page of keys matching the glob pattern.
func (r *Redis) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	keys, next, err := r.client.Scan(ctx, cursor, match, count).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis scan: %w", err)
	}
	return keys, next, nil
}
