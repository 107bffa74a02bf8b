// Package memory provides an in-process KV backend with the same contract as
// the redis backend: TTL expiry and ascending lexicographic prefix listing of
// durable keys. Used by --kv-kind memory and by tests, which may pin the
// clock via the Now field.
package memory

import (
	"context"
	"encoding/base64"
	"sort"
	"sync"
	"time"

	registrykv "github.com/hoomaan/roster-service/internal/registry/kv"
)

func init() {
	registrykv.Register(registrykv.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrykv.Store, error) {
			return New(), nil
		},
	})
}

type entry struct {
	value []byte
	// expiresAt is zero for durable keys.
	expiresAt time.Time
}

// Store is an in-memory registrykv.Store.
type Store struct {
	// Now supplies the current time. Tests replace it to drive TTL expiry.
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// New creates an empty store using the wall clock.
func New() *Store {
	return &Store{
		Now:     time.Now,
		entries: make(map[string]entry),
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && !s.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}
	v := make([]byte, len(e.value))
	copy(v, e.value)
	return v, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *Store) List(ctx context.Context, prefix string, cursor string, limit int) (*registrykv.ListResult, error) {
	after := ""
	if cursor != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(cursor)
		if err == nil {
			after = string(decoded)
		}
	}

	s.mu.Lock()
	var keys []string
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() {
			continue // TTL'd keys are not enumerable
		}
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if after != "" && k <= after {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := &registrykv.ListResult{Complete: true}
	for i, k := range keys {
		if limit > 0 && i >= limit {
			res.Complete = false
			break
		}
		e := s.entries[k]
		res.Entries = append(res.Entries, registrykv.Entry{
			Key:   k,
			Value: append([]byte(nil), e.value...),
		})
	}
	s.mu.Unlock()

	if !res.Complete && len(res.Entries) > 0 {
		last := res.Entries[len(res.Entries)-1].Key
		res.NextCursor = base64.RawURLEncoding.EncodeToString([]byte(last))
	}
	return res, nil
}

func (s *Store) Close() error {
	return nil
}

var _ registrykv.Store = (*Store)(nil)
