package jwks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/boogy/permission-warden/pkg/cache"
	"github.com/boogy/permission-warden/pkg/types"
)

var ErrEmptyKeySet = errors.New("key set contains no keys")

// KeyStore holds the key set used to verify tokens. The snapshot returned by
// Keys is never mutated; Reload replaces it.
type KeyStore struct {
	fetcher Fetcher
	cache   cache.Cache
	url     string
	ttl     time.Duration

	mu   sync.RWMutex
	keys *types.JWKS
}

// NewKeyStore creates an empty store for the key set published at url.
// cache may be nil.
func NewKeyStore(fetcher Fetcher, c cache.Cache, url string, ttl time.Duration) *KeyStore {
	return &KeyStore{
		fetcher: fetcher,
		cache:   c,
		url:     url,
		ttl:     ttl,
	}
}

// URL returns the key set endpoint
func (s *KeyStore) URL() string {
	return s.url
}

// Load populates the store from the cache, falling back to the endpoint.
func (s *KeyStore) Load(ctx context.Context) error {
	if s.cache != nil {
		if cached, found := s.cache.Get(s.url); found && cached != nil && len(cached.Keys) > 0 {
			slog.Debug("Loaded JWKS from cache", "url", s.url, "kids", cached.KeyIDs())
			s.swap(cached)
			return nil
		}
	}

	return s.Reload(ctx)
}

// Reload fetches the key set from the endpoint and replaces the snapshot.
// On failure the previous snapshot is kept.
func (s *KeyStore) Reload(ctx context.Context) error {
	jwks, err := s.fetcher.Fetch(ctx, s.url)
	if err != nil {
		return fmt.Errorf("failed to load key set from %s: %w", s.url, err)
	}

	if len(jwks.Keys) == 0 {
		return fmt.Errorf("failed to load key set from %s: %w", s.url, ErrEmptyKeySet)
	}

	if s.cache != nil {
		s.cache.Set(s.url, jwks, s.ttl)
	}

	s.swap(jwks)
	slog.Info("Key set loaded", "url", s.url, "kids", jwks.KeyIDs())
	return nil
}

// Keys returns the current snapshot, nil before the first successful Load.
func (s *KeyStore) Keys() *types.JWKS {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys
}

func (s *KeyStore) swap(jwks *types.JWKS) {
	s.mu.Lock()
	s.keys = jwks
	s.mu.Unlock()
}
