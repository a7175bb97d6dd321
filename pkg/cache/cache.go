package cache

import (
	"fmt"
	"time"

	"github.com/boogy/permission-warden/pkg/config"
	"github.com/boogy/permission-warden/pkg/types"
)

// CacheDefaults holds all default configuration values for cache implementations
type CacheDefaults struct {
	MaxRetries   int
	Timeout      time.Duration
	TTL          time.Duration
	MaxLocalSize int

	// Size limits
	MaxItemSize         int64
	DynamoDBMaxItemSize int64
	S3MaxObjectSize     int64
}

// Defaults provides the default configuration values for all cache implementations
var Defaults = CacheDefaults{
	MaxRetries:          3,
	Timeout:             10 * time.Second,
	TTL:                 10 * time.Minute,
	MaxLocalSize:        100,
	MaxItemSize:         512 * 1024,  // 512KB, far above any real key set
	DynamoDBMaxItemSize: 400 * 1024,  // DynamoDB item limit
	S3MaxObjectSize:     1024 * 1024, // 1MB
}

// Cache stores key sets by key (the JWKS URL)
type Cache interface {
	Get(key string) (*types.JWKS, bool)
	Set(key string, value *types.JWKS, ttl time.Duration)
}

// GetConfiguredTTL returns the TTL from config or the default if not specified
func GetConfiguredTTL(cfg *config.Config) time.Duration {
	if cfg != nil && cfg.Cache != nil && cfg.Cache.TTL > 0 {
		return cfg.Cache.TTL
	}
	return Defaults.TTL
}

// GetConfiguredMaxLocalSize returns the max local size from config or the default if not specified
func GetConfiguredMaxLocalSize(cfg *config.Config) int {
	if cfg != nil && cfg.Cache != nil && cfg.Cache.MaxLocalSize > 0 {
		return cfg.Cache.MaxLocalSize
	}
	return Defaults.MaxLocalSize
}

// NewCache creates a new cache implementation based on the configuration
func NewCache(cfg *config.Config) (Cache, error) {
	if cfg == nil || cfg.Cache == nil {
		return NewMemoryCache(), nil
	}

	cacheType := cfg.Cache.Type
	if cacheType == "" {
		cacheType = "memory"
	}

	switch cacheType {
	case "memory":
		return NewMemoryCache(
			WithMemoryDefaultTTL(GetConfiguredTTL(cfg)),
			WithMemoryMaxSize(GetConfiguredMaxLocalSize(cfg)),
		), nil

	case "dynamodb":
		if cfg.Cache.DynamoDBTable == "" {
			return nil, fmt.Errorf("DynamoDB table name is required for DynamoDB cache")
		}

		return NewDynamoDBCache(
			cfg.Cache.DynamoDBTable,
			WithDynamoDBDefaultTTL(GetConfiguredTTL(cfg)),
			WithDynamoDBMaxLocalSize(GetConfiguredMaxLocalSize(cfg)),
		)

	case "s3":
		if cfg.Cache.S3Bucket == "" {
			return nil, fmt.Errorf("S3 bucket name is required for S3 cache")
		}
		if cfg.Cache.S3Prefix == "" {
			return nil, fmt.Errorf("S3 prefix is required for S3 cache")
		}

		return NewS3Cache(
			cfg.Cache.S3Bucket,
			cfg.Cache.S3Prefix,
			WithDefaultTTL(GetConfiguredTTL(cfg)),
			WithMaxLocalSize(GetConfiguredMaxLocalSize(cfg)),
		)

	case "redis":
		if cfg.Cache.RedisAddr == "" {
			return nil, fmt.Errorf("redis address is required for redis cache")
		}

		return NewRedisCache(
			cfg.Cache.RedisAddr,
			WithRedisAuth(cfg.Cache.RedisPassword, cfg.Cache.RedisDB),
			WithRedisDefaultTTL(GetConfiguredTTL(cfg)),
			WithRedisMaxLocalSize(GetConfiguredMaxLocalSize(cfg)),
		)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cacheType)
	}
}
