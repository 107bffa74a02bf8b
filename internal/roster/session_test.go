package roster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoomaan/roster-service/internal/plugin/kv/memory"
)

const actor = int64(42)

// fiveUserIndex seeds users 1..5 so that newest-first order is 5,4,3,2,1.
func fiveUserIndex(t *testing.T) *Index {
	t.Helper()
	ix := NewIndex(memory.New())
	for i := int64(1); i <= 5; i++ {
		seedUser(t, ix, i, i*1000, "u")
	}
	return ix
}

func ids(view *View) []int64 {
	var out []int64
	for _, u := range view.Page.Users {
		out = append(out, u.ID)
	}
	return out
}

func TestNavigatorForwardAndBack(t *testing.T) {
	ctx := context.Background()
	nav := NewNavigator(fiveUserIndex(t), 2, time.Hour)

	view, err := nav.Start(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 4}, ids(view))
	require.Equal(t, 0, view.StartOffset)
	require.False(t, view.Page.Complete)

	view, err = nav.Next(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2}, ids(view))
	require.Equal(t, 2, view.StartOffset)

	view, err = nav.Next(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids(view))
	require.Equal(t, 4, view.StartOffset)
	require.True(t, view.Page.Complete)

	// Last page reached: advancing again is rejected, session untouched.
	_, err = nav.Next(ctx, actor)
	require.ErrorIs(t, err, ErrNoFurtherPage)

	view, err = nav.Prev(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2}, ids(view))
	require.Equal(t, 2, view.StartOffset)

	view, err = nav.Prev(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 4}, ids(view))
	require.Equal(t, 0, view.StartOffset)
}

func TestNavigatorPrevUnderflowResetsToStart(t *testing.T) {
	ctx := context.Background()
	nav := NewNavigator(fiveUserIndex(t), 2, time.Hour)

	// No session at all: Prev behaves like Start.
	view, err := nav.Prev(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 4}, ids(view))
	require.Equal(t, 0, view.StartOffset)

	// Already on the start page: Prev stays there.
	view, err = nav.Prev(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 4}, ids(view))
	require.Equal(t, 0, view.StartOffset)
}

func TestNavigatorNextThenPrevReturnsSamePage(t *testing.T) {
	ctx := context.Background()
	nav := NewNavigator(fiveUserIndex(t), 2, time.Hour)

	first, err := nav.Start(ctx, actor)
	require.NoError(t, err)

	_, err = nav.Next(ctx, actor)
	require.NoError(t, err)

	back, err := nav.Prev(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, ids(first), ids(back))
	require.Equal(t, first.StartOffset, back.StartOffset)
}

func TestNavigatorPageSizeChangeResetsSession(t *testing.T) {
	ctx := context.Background()
	ix := fiveUserIndex(t)
	nav := NewNavigator(ix, 2, time.Hour)

	_, err := nav.Start(ctx, actor)
	require.NoError(t, err)
	_, err = nav.Next(ctx, actor)
	require.NoError(t, err)

	// A navigator at a different page size cannot trust the stored stack.
	resized := NewNavigator(ix, 3, time.Hour)
	view, err := resized.Prev(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 4, 3}, ids(view))
	require.Equal(t, 0, view.StartOffset)
}

func TestNavigatorSessionExpires(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	kv.Now = func() time.Time { return now }

	ix := NewIndex(kv)
	for i := int64(1); i <= 5; i++ {
		seedUser(t, ix, i, i*1000, "u")
	}
	nav := NewNavigator(ix, 2, time.Hour)

	_, err := nav.Start(ctx, actor)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = nav.Next(ctx, actor)
	require.ErrorIs(t, err, ErrNoFurtherPage)
}

func TestNavigatorStorageErrorSurfaces(t *testing.T) {
	nav := NewNavigator(NewIndex(&failingStore{}), 2, time.Hour)
	_, err := nav.Start(context.Background(), actor)
	require.ErrorIs(t, err, ErrPageUnavailable)
}
