package metrics

import (
	"context"
	"time"

	registrykv "github.com/hoomaan/roster-service/internal/registry/kv"
	"github.com/hoomaan/roster-service/internal/security"
)

// Wrap returns a Store that records StoreLatency for every operation.
func Wrap(inner registrykv.Store) registrykv.Store {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner registrykv.Store
}

func observe(op string, start time.Time) {
	if security.StoreLatency == nil {
		return
	}
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) Get(ctx context.Context, key string) ([]byte, error) {
	defer observe("get", time.Now())
	return m.inner.Get(ctx, key)
}

func (m *metricsStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	defer observe("put", time.Now())
	return m.inner.Put(ctx, key, value, ttl)
}

func (m *metricsStore) Delete(ctx context.Context, key string) error {
	defer observe("delete", time.Now())
	return m.inner.Delete(ctx, key)
}

func (m *metricsStore) List(ctx context.Context, prefix string, cursor string, limit int) (*registrykv.ListResult, error) {
	defer observe("list", time.Now())
	return m.inner.List(ctx, prefix, cursor, limit)
}

func (m *metricsStore) Close() error {
	return m.inner.Close()
}

var _ registrykv.Store = (*metricsStore)(nil)
