// Package cached layers an in-process read-through cache over the KV
// primitive for record point-gets. Page fetches resolve every listed key with
// a Get, so the cache absorbs the hot admin-browsing path. Only immutable
// record prefixes are cached; TTL'd coordination keys (rate window, nav
// sessions) always hit the backend.
package cached

import (
	"context"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	registrykv "github.com/hoomaan/roster-service/internal/registry/kv"
	"github.com/hoomaan/roster-service/internal/security"
)

// Wrap returns a Store that caches Get results for keys matching one of the
// given prefixes. Writes and deletes invalidate the cached entry.
func Wrap(inner registrykv.Store, maxCost int64, ttl time.Duration, prefixes ...string) (registrykv.Store, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1 << 16,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &cachedStore{
		inner:    inner,
		cache:    cache,
		ttl:      ttl,
		prefixes: prefixes,
	}, nil
}

type cachedStore struct {
	inner    registrykv.Store
	cache    *ristretto.Cache[string, []byte]
	ttl      time.Duration
	prefixes []string
}

func (s *cachedStore) cacheable(key string) bool {
	for _, p := range s.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func (s *cachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.cacheable(key) {
		return s.inner.Get(ctx, key)
	}
	if v, ok := s.cache.Get(key); ok {
		if security.CacheHitsTotal != nil {
			security.CacheHitsTotal.Inc()
		}
		return v, nil
	}
	if security.CacheMissesTotal != nil {
		security.CacheMissesTotal.Inc()
	}
	v, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if v != nil {
		s.cache.SetWithTTL(key, v, int64(len(key)+len(v)), s.ttl)
	}
	return v, nil
}

func (s *cachedStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.cacheable(key) {
		s.cache.Del(key)
	}
	return s.inner.Put(ctx, key, value, ttl)
}

func (s *cachedStore) Delete(ctx context.Context, key string) error {
	if s.cacheable(key) {
		s.cache.Del(key)
	}
	return s.inner.Delete(ctx, key)
}

func (s *cachedStore) List(ctx context.Context, prefix string, cursor string, limit int) (*registrykv.ListResult, error) {
	return s.inner.List(ctx, prefix, cursor, limit)
}

func (s *cachedStore) Close() error {
	s.cache.Close()
	return s.inner.Close()
}

var _ registrykv.Store = (*cachedStore)(nil)
