package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jia-app/subscriptionservice/internal/config"
	"github.com/jia-app/subscriptionservice/internal/log"
	"github.com/jia-app/subscriptionservice/internal/metrics"
	"github.com/jia-app/subscriptionservice/internal/retry"
)

// Cache is a thin Redis wrapper that records per-operation metrics.
type Cache struct {
	client *redis.Client
}

// NewCache connects to Redis and pings it, retrying while it starts up.
func NewCache(ctx context.Context, cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := retry.Do(ctx, retry.StartupConfig(), log.L(ctx), func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// NewCacheWithClient wraps an existing client.
func NewCacheWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	defer observe("ping", time.Now(), nil)
	return c.client.Ping(ctx).Err()
}

// Exists checks if a key exists in the cache
func (c *Cache) Exists(ctx context.Context, key string) (exists bool, err error) {
	defer func(start time.Time) { observe("exists", start, err) }(time.Now())

	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key existence: %w", err)
	}
	return n > 0, nil
}

// SetNX sets key only if it does not exist yet and reports whether it did.
func (c *Cache) SetNX(ctx context.Context, key, value string, expiration time.Duration) (set bool, err error) {
	defer func(start time.Time) { observe("setnx", start, err) }(time.Now())

	set, err = c.client.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set key: %w", err)
	}
	return set, nil
}

// Get returns the value at key, or ok=false when it is absent.
func (c *Cache) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	defer func(start time.Time) { observe("get", start, err) }(time.Now())

	value, err = c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key: %w", err)
	}
	return value, true, nil
}

// Delete removes a key from the cache
func (c *Cache) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { observe("del", start, err) }(time.Now())
	return c.client.Del(ctx, key).Err()
}

func observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordRedisOperation(op, status, time.Since(start))
}
