package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const navKeyPrefix = "nav:"

// ErrNoFurtherPage is returned by Next when the current page is the last
// one. The session is left untouched.
var ErrNoFurtherPage = errors.New("no further page")

// session is the persisted navigation state for one admin: the stack of
// cursors used to reach each page so far, plus the pending cursor for the
// page after the one currently shown. The underlying enumeration is
// forward-only; backward paging replays a remembered cursor.
type session struct {
	Stack []string `json:"stack"`
	Next  *string  `json:"next,omitempty"`
	// PageSize pins the page size the stack was built with. A session only
	// stays coherent at a fixed page size, so a mismatch resets it.
	PageSize int `json:"pageSize"`
}

// View is a rendered page position: the fetched page plus the zero-indexed
// display offset of its first row.
type View struct {
	Page        *Page
	StartOffset int
}

// Navigator drives per-admin paging over the roster index. Sessions are
// keyed by actor id and expire after the configured TTL of inactivity.
type Navigator struct {
	index    *Index
	pageSize int
	ttl      time.Duration
}

// NewNavigator creates a Navigator with a fixed page size.
func NewNavigator(index *Index, pageSize int, sessionTTL time.Duration) *Navigator {
	return &Navigator{index: index, pageSize: pageSize, ttl: sessionTTL}
}

func navKey(actorID int64) string {
	return navKeyPrefix + strconv.FormatInt(actorID, 10)
}

func (n *Navigator) load(ctx context.Context, actorID int64) (*session, error) {
	data, err := n.index.kv.Get(ctx, navKey(actorID))
	if err != nil {
		return nil, fmt.Errorf("load session for %d: %w", actorID, err)
	}
	sess := &session{PageSize: n.pageSize}
	if data == nil {
		return sess, nil
	}
	if err := json.Unmarshal(data, sess); err != nil {
		return &session{PageSize: n.pageSize}, nil
	}
	if sess.PageSize != n.pageSize {
		// Page size changed since the session was built; offsets would lie.
		return &session{PageSize: n.pageSize}, nil
	}
	return sess, nil
}

func (n *Navigator) save(ctx context.Context, actorID int64, sess *session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("save session for %d: %w", actorID, err)
	}
	if err := n.index.kv.Put(ctx, navKey(actorID), data, n.ttl); err != nil {
		return fmt.Errorf("save session for %d: %w", actorID, err)
	}
	return nil
}

func (n *Navigator) view(ctx context.Context, actorID int64, sess *session, cursor *string) (*View, error) {
	page, err := n.index.FetchPage(ctx, cursor, n.pageSize)
	if err != nil {
		return nil, err
	}
	sess.Next = page.NextCursor
	if err := n.save(ctx, actorID, sess); err != nil {
		return nil, err
	}
	return &View{Page: page, StartOffset: len(sess.Stack) * n.pageSize}, nil
}

// Start clears the actor's session and fetches the newest page.
func (n *Navigator) Start(ctx context.Context, actorID int64) (*View, error) {
	sess := &session{PageSize: n.pageSize}
	return n.view(ctx, actorID, sess, nil)
}

// Next advances to the page after the one currently shown. When the last
// render had no further page, it returns ErrNoFurtherPage without mutating
// the session.
func (n *Navigator) Next(ctx context.Context, actorID int64) (*View, error) {
	sess, err := n.load(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if sess.Next == nil {
		return nil, ErrNoFurtherPage
	}
	cursor := *sess.Next
	sess.Stack = append(sess.Stack, cursor)
	return n.view(ctx, actorID, sess, &cursor)
}

// Prev steps back one page. The stack records the cursors used to *reach*
// each page, not page identities, so going back pops the cursor for the
// current page, pops again for the previous page's cursor, and pushes that
// one back so the depth still reflects position. An exhausted stack resets
// to the start page; that is not an error.
func (n *Navigator) Prev(ctx context.Context, actorID int64) (*View, error) {
	sess, err := n.load(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if len(sess.Stack) == 0 {
		// Underflow: already on the start page.
		return n.Start(ctx, actorID)
	}
	sess.Stack = sess.Stack[:len(sess.Stack)-1]
	if len(sess.Stack) == 0 {
		return n.view(ctx, actorID, sess, nil)
	}
	cursor := sess.Stack[len(sess.Stack)-1]
	return n.view(ctx, actorID, sess, &cursor)
}

// PageSize returns the fixed page size sessions are built with.
func (n *Navigator) PageSize() int {
	return n.pageSize
}
