package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/boogy/permission-warden/pkg/types"
)

// memoryCache is a size-bounded LRU with per-entry expiry. It is used on its own
// and as the local tier in front of the remote backends.
type memoryCache struct {
	data       map[string]cacheItem
	mu         sync.Mutex
	maxSize    int           // Maximum number of items to store
	defaultTTL time.Duration // Default TTL for cache entries
	now        func() time.Time
}

type cacheItem struct {
	value      *types.JWKS
	expiration time.Time
	lastAccess time.Time // For LRU eviction
}

// MemoryOption configures the in-memory cache
type MemoryOption func(*memoryCache)

// WithMemoryMaxSize sets the maximum number of entries
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *memoryCache) {
		if size > 0 {
			c.maxSize = size
		}
	}
}

// WithMemoryDefaultTTL sets the TTL used when Set is called without one
func WithMemoryDefaultTTL(ttl time.Duration) MemoryOption {
	return func(c *memoryCache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithMemoryClock replaces time.Now, for tests
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *memoryCache) {
		c.now = now
	}
}

func NewMemoryCache(opts ...MemoryOption) Cache {
	return newMemoryCache(opts...)
}

func newMemoryCache(opts ...MemoryOption) *memoryCache {
	c := &memoryCache{
		data:       make(map[string]cacheItem),
		maxSize:    Defaults.MaxLocalSize,
		defaultTTL: Defaults.TTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *memoryCache) Get(key string) (*types.JWKS, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.data[key]
	if !found {
		slog.Debug("Cache miss", "key", key)
		return nil, false
	}

	now := c.now()
	if now.After(item.expiration) {
		slog.Debug("Cache entry expired", "key", key)
		delete(c.data, key)
		return nil, false
	}

	item.lastAccess = now
	c.data[key] = item

	slog.Debug("Cache hit", "key", key)
	return item.value, true
}

func (c *memoryCache) Set(key string, value *types.JWKS, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.setUntil(key, value, c.now().Add(ttl))
	slog.Debug("Cached value", "key", key, "ttl", ttl)
}

// setUntil stores value with an absolute expiration. A zero expiration means default TTL.
func (c *memoryCache) setUntil(key string, value *types.JWKS, expiration time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if expiration.IsZero() {
		expiration = now.Add(c.defaultTTL)
	}

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictLRU()
	}

	c.data[key] = cacheItem{
		value:      value,
		expiration: expiration,
		lastAccess: now,
	}
}

// evictLRU removes the least recently used item. Caller must hold mu.
func (c *memoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for k, entry := range c.data {
		if oldestTime.IsZero() || entry.lastAccess.Before(oldestTime) {
			oldestKey = k
			oldestTime = entry.lastAccess
		}
	}

	if oldestKey != "" {
		slog.Debug("Evicting LRU cache item", "key", oldestKey, "lastAccess", oldestTime)
		delete(c.data, oldestKey)
	}
}

// Len returns the number of stored entries, expired or not
func (c *memoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
