package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/boogy/permission-warden/pkg/types"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "permission-warden:jwks:"

// redisAPI is the subset of the redis client used by the cache
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// redisCache shares key sets between instances through redis, with native key expiry
type redisCache struct {
	client     redisAPI
	local      *memoryCache
	defaultTTL time.Duration
}

type redisCacheOptions struct {
	password     string
	db           int
	maxLocalSize int
	defaultTTL   time.Duration
	client       redisAPI
}

// RedisCacheOption is a function that configures the redis cache
type RedisCacheOption func(*redisCacheOptions)

// WithRedisAuth sets the AUTH password and logical database
func WithRedisAuth(password string, db int) RedisCacheOption {
	return func(o *redisCacheOptions) {
		o.password = password
		o.db = db
	}
}

// WithRedisDefaultTTL sets the default TTL for cache items
func WithRedisDefaultTTL(ttl time.Duration) RedisCacheOption {
	return func(o *redisCacheOptions) {
		o.defaultTTL = ttl
	}
}

// WithRedisMaxLocalSize sets the maximum size of the local memory cache
func WithRedisMaxLocalSize(size int) RedisCacheOption {
	return func(o *redisCacheOptions) {
		o.maxLocalSize = size
	}
}

// WithRedisClient injects a ready client
func WithRedisClient(client redisAPI) RedisCacheOption {
	return func(o *redisCacheOptions) {
		o.client = client
	}
}

// NewRedisCache creates a redis backed cache. The connection is established lazily.
func NewRedisCache(addr string, opts ...RedisCacheOption) (Cache, error) {
	options := &redisCacheOptions{
		maxLocalSize: Defaults.MaxLocalSize,
		defaultTTL:   Defaults.TTL,
	}
	for _, opt := range opts {
		opt(options)
	}

	client := options.client
	if client == nil {
		if addr == "" {
			return nil, errors.New("redis addr is required")
		}
		client = redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    options.password,
			DB:          options.db,
			DialTimeout: Defaults.Timeout,
			MaxRetries:  Defaults.MaxRetries,
		})
	}

	return &redisCache{
		client:     client,
		local:      newMemoryCache(WithMemoryMaxSize(options.maxLocalSize), WithMemoryDefaultTTL(options.defaultTTL)),
		defaultTTL: options.defaultTTL,
	}, nil
}

// Get retrieves a key set from the local tier, then from redis
func (c *redisCache) Get(key string) (*types.JWKS, bool) {
	if jwks, found := c.local.Get(key); found {
		return jwks, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			slog.Debug("Cache miss in redis", "key", key)
		} else {
			slog.Error("Failed to get key from redis", "key", key, "error", err)
		}
		return nil, false
	}

	if int64(len(data)) > Defaults.MaxItemSize {
		slog.Warn("Redis cache item exceeds maximum allowed size",
			"key", key,
			"size", len(data),
			"maxAllowed", Defaults.MaxItemSize)
		return nil, false
	}

	var jwks types.JWKS
	if err := json.Unmarshal(data, &jwks); err != nil {
		slog.Error("Failed to decode redis cache item", "key", key, "error", err)
		return nil, false
	}

	// redis already enforces the remote TTL; the local copy lives for the default TTL
	c.local.Set(key, &jwks, 0)

	slog.Debug("Redis cache hit", "key", key)
	return &jwks, true
}

// Set stores the key set locally and in redis. The redis write is synchronous.
func (c *redisCache) Set(key string, value *types.JWKS, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.local.Set(key, value, ttl)

	data, err := json.Marshal(value)
	if err != nil {
		slog.Error("Failed to marshal JWKS", "key", key, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	if err := c.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		slog.Error("Failed to set key in redis", "key", key, "error", err)
		return
	}

	slog.Debug("Cached value in redis", "key", key, "ttl", ttl, "size", len(data))
}
