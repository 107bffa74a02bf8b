package roster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoomaan/roster-service/internal/model"
	"github.com/hoomaan/roster-service/internal/plugin/kv/memory"
	registrykv "github.com/hoomaan/roster-service/internal/registry/kv"
)

var errStoreDown = errors.New("store down")

// failingStore errors every operation.
type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errStoreDown
}

func (failingStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errStoreDown
}

func (failingStore) Delete(ctx context.Context, key string) error {
	return errStoreDown
}

func (failingStore) List(ctx context.Context, prefix, cursor string, limit int) (*registrykv.ListResult, error) {
	return nil, errStoreDown
}

func (failingStore) Close() error { return nil }

func seedUser(t *testing.T, ix *Index, id, seenAtMillis int64, username string) {
	t.Helper()
	created, err := ix.TrackUserOnce(context.Background(), model.User{
		ID:           id,
		Username:     username,
		FirstName:    "User",
		LastName:     username,
		SeenAtMillis: seenAtMillis,
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestTrackUserOnceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	ix := NewIndex(kv)

	created, err := ix.TrackUserOnce(ctx, model.User{ID: 7, Username: "first", SeenAtMillis: 1000})
	require.NoError(t, err)
	require.True(t, created)

	// Re-seeing the same id must not move it in time order.
	created, err = ix.TrackUserOnce(ctx, model.User{ID: 7, Username: "second", SeenAtMillis: 2000})
	require.NoError(t, err)
	require.False(t, created)

	res, err := kv.List(ctx, "idx:", "", 0)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)

	u, err := ix.GetUser(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, "first", u.Username)
	require.Equal(t, int64(1000), u.SeenAtMillis)
}

func TestFetchPageNewestFirst(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex(memory.New())
	seedUser(t, ix, 1, 1000, "oldest")
	seedUser(t, ix, 2, 2000, "middle")
	seedUser(t, ix, 3, 3000, "newest")

	page, err := ix.FetchPage(ctx, nil, 10)
	require.NoError(t, err)
	require.True(t, page.Complete)
	require.Len(t, page.Users, 3)
	require.Equal(t, int64(3), page.Users[0].ID)
	require.Equal(t, int64(2), page.Users[1].ID)
	require.Equal(t, int64(1), page.Users[2].ID)
}

func TestFetchPageSkipsStaleIndexEntries(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	ix := NewIndex(kv)
	seedUser(t, ix, 1, 1000, "a")
	seedUser(t, ix, 2, 2000, "b")

	// Primary record gone, index entry left behind.
	require.NoError(t, kv.Delete(ctx, "user:2"))

	page, err := ix.FetchPage(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	require.Equal(t, int64(1), page.Users[0].ID)
}

func TestFetchPageSkipsMalformedIndexKeys(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	ix := NewIndex(kv)
	seedUser(t, ix, 1, 1000, "a")
	require.NoError(t, kv.Put(ctx, "idx:garbage", nil, 0))
	require.NoError(t, kv.Put(ctx, "idx:0000000000000:notanumber", nil, 0))

	page, err := ix.FetchPage(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	require.Equal(t, int64(1), page.Users[0].ID)
}

func TestFetchPageStorageErrorIsPageUnavailable(t *testing.T) {
	ix := NewIndex(&failingStore{})
	_, err := ix.FetchPage(context.Background(), nil, 10)
	require.ErrorIs(t, err, ErrPageUnavailable)
}

func TestGetPhoneRoundTrip(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex(memory.New())
	require.NoError(t, ix.SavePhone(ctx, 7, "+15550001111"))

	phone, err := ix.GetPhone(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "+15550001111", phone)

	phone, err = ix.GetPhone(ctx, 8)
	require.NoError(t, err)
	require.Empty(t, phone)
}
