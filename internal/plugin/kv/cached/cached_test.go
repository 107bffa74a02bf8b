package cached

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoomaan/roster-service/internal/plugin/kv/memory"
	registrykv "github.com/hoomaan/roster-service/internal/registry/kv"
)

// countingStore counts Get calls against the backend.
type countingStore struct {
	registrykv.Store
	gets int
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets++
	return c.Store.Get(ctx, key)
}

func newCached(t *testing.T) (registrykv.Store, *countingStore) {
	t.Helper()
	inner := &countingStore{Store: memory.New()}
	s, err := Wrap(inner, 1<<20, time.Minute, "user:")
	require.NoError(t, err)
	return s, inner
}

func TestCachedGetServesFromCache(t *testing.T) {
	ctx := context.Background()
	s, inner := newCached(t)
	require.NoError(t, s.Put(ctx, "user:1", []byte("a"), 0))

	v, err := s.Get(ctx, "user:1")
	require.NoError(t, err)
	require.Equal(t, []byte("a"), v)
	require.Equal(t, 1, inner.gets)

	// ristretto applies buffered sets asynchronously.
	require.Eventually(t, func() bool {
		before := inner.gets
		v, err := s.Get(ctx, "user:1")
		require.NoError(t, err)
		require.Equal(t, []byte("a"), v)
		return inner.gets == before
	}, time.Second, 10*time.Millisecond)
}

func TestCachedPutInvalidates(t *testing.T) {
	ctx := context.Background()
	s, _ := newCached(t)
	require.NoError(t, s.Put(ctx, "user:1", []byte("a"), 0))

	_, err := s.Get(ctx, "user:1")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "user:1", []byte("b"), 0))
	v, err := s.Get(ctx, "user:1")
	require.NoError(t, err)
	require.Equal(t, []byte("b"), v)
}

func TestCachedDeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	s, _ := newCached(t)
	require.NoError(t, s.Put(ctx, "user:1", []byte("a"), 0))

	_, err := s.Get(ctx, "user:1")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "user:1"))
	v, err := s.Get(ctx, "user:1")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestUncachedPrefixAlwaysHitsBackend(t *testing.T) {
	ctx := context.Background()
	s, inner := newCached(t)
	require.NoError(t, s.Put(ctx, "rl:count:1", []byte("3"), 0))

	for i := 0; i < 3; i++ {
		_, err := s.Get(ctx, "rl:count:1")
		require.NoError(t, err)
	}
	require.Equal(t, 3, inner.gets)
}
