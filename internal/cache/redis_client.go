// Package cache provides a Redis read-through cache in front of the
// Postgres-backed screening store, so repeat lookups of a hot entity_key
// skip a round trip to the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deltran/screening/internal/types"
)

// ErrMiss is returned when a key is absent from the cache. Callers fall
// back to the store of record.
var ErrMiss = errors.New("cache miss")

// ScreeningCache wraps a Redis client for caching ScreeningResult lookups.
type ScreeningCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// Config configures a ScreeningCache.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration
}

// New creates a ScreeningCache, verifying connectivity with a ping.
func New(cfg Config) (*ScreeningCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ScreeningCache{client: client, ttl: ttl, prefix: "screening:"}, nil
}

// Close closes the underlying Redis connection.
func (c *ScreeningCache) Close() error {
	return c.client.Close()
}

func (c *ScreeningCache) key(entityKey string) string {
	return c.prefix + entityKey
}

// Get returns the cached ScreeningResult for entityKey, or ErrMiss if absent
// or expired. A cache hit is not itself proof of validity against the 12
// month window. The store's UpsertScreening does not touch this cache; the
// Dispatcher sets entries (with a fresh TTL) from rows it has just read or
// written, so an entry surviving its TTL here is within that window.
func (c *ScreeningCache) Get(ctx context.Context, entityKey string) (*types.ScreeningResult, error) {
	data, err := c.client.Get(ctx, c.key(entityKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get cached screening: %w", err)
	}

	var result types.ScreeningResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode cached screening: %w", err)
	}
	return &result, nil
}

// Set primes the cache for entityKey with the given result.
func (c *ScreeningCache) Set(ctx context.Context, entityKey string, result *types.ScreeningResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode screening for cache: %w", err)
	}
	return c.client.Set(ctx, c.key(entityKey), data, c.ttl).Err()
}

// Invalidate drops a cached entry, used when a row is marked stale or
// overridden so a subsequent reuse check goes to the store of record.
func (c *ScreeningCache) Invalidate(ctx context.Context, entityKey string) error {
	return c.client.Del(ctx, c.key(entityKey)).Err()
}
