// Package roster maintains the newest-first secondary index over user
// records and everything built on top of it: the cursor pager, per-admin
// navigation sessions, and the bulk CSV exporter.
//
// The storage primitive only offers forward, ascending prefix enumeration,
// so index keys embed an inverted fixed-width timestamp: ascending key order
// is descending first-sight order.
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/hoomaan/roster-service/internal/model"
	registrykv "github.com/hoomaan/roster-service/internal/registry/kv"
)

const (
	userKeyPrefix  = "user:"
	phoneKeyPrefix = "phone:"
	indexKeyPrefix = "idx:"

	// maxTimestampMillis is the largest 13-digit millisecond timestamp
	// (year 2286). invert(ts) = maxTimestampMillis - ts.
	maxTimestampMillis = 9_999_999_999_999
)

// ErrPageUnavailable indicates a transient storage failure while fetching a
// page. The caller should retry the same operation with the same cursor.
var ErrPageUnavailable = errors.New("roster page unavailable")

// Page is one fetched slice of the roster, newest first.
type Page struct {
	Users []model.User
	// NextCursor resumes the enumeration after this page; nil when unknown.
	NextCursor *string
	// Complete is true when the enumeration reached the oldest record.
	Complete bool
}

// Index is the time-ordered secondary index over user records.
type Index struct {
	kv registrykv.Store
}

// NewIndex creates an Index over the given store.
func NewIndex(kv registrykv.Store) *Index {
	return &Index{kv: kv}
}

func userKey(id int64) string {
	return userKeyPrefix + strconv.FormatInt(id, 10)
}

func phoneKey(id int64) string {
	return phoneKeyPrefix + strconv.FormatInt(id, 10)
}

func indexKey(seenAtMillis, id int64) string {
	return fmt.Sprintf("%s%013d:%d", indexKeyPrefix, maxTimestampMillis-seenAtMillis, id)
}

// idFromIndexKey extracts the record id embedded in an index key
// ("idx:<inverted-ts>:<id>").
func idFromIndexKey(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, indexKeyPrefix)
	if !ok {
		return 0, false
	}
	_, idPart, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// TrackUserOnce records a user at first sight: when no primary record exists
// for the id, it writes the record and then the index entry. Re-seeing a
// known id is a no-op, so a record never moves in time order. Returns true
// when the user was newly recorded.
//
// The existence check and the two writes are not transactional; two
// near-simultaneous first-sights of the same id can double-index. Accepted:
// the storage primitive has no cross-key transactions.
func (ix *Index) TrackUserOnce(ctx context.Context, u model.User) (bool, error) {
	existing, err := ix.kv.Get(ctx, userKey(u.ID))
	if err != nil {
		return false, fmt.Errorf("track user %d: %w", u.ID, err)
	}
	if existing != nil {
		return false, nil
	}

	data, err := json.Marshal(u)
	if err != nil {
		return false, fmt.Errorf("track user %d: %w", u.ID, err)
	}
	if err := ix.kv.Put(ctx, userKey(u.ID), data, 0); err != nil {
		return false, fmt.Errorf("track user %d: %w", u.ID, err)
	}
	// An index-write failure leaves the record unindexed rather than rolling
	// back the primary write; the record still resolves by point-get.
	if err := ix.kv.Put(ctx, indexKey(u.SeenAtMillis, u.ID), nil, 0); err != nil {
		log.Error("Roster: index write failed", "userId", u.ID, "err", err)
	}
	return true, nil
}

// SavePhone supplements a tracked user's record with a phone number. The
// phone is keyed by the same id and does not re-index the record.
func (ix *Index) SavePhone(ctx context.Context, id int64, phone string) error {
	if err := ix.kv.Put(ctx, phoneKey(id), []byte(phone), 0); err != nil {
		return fmt.Errorf("save phone for %d: %w", id, err)
	}
	return nil
}

// GetUser resolves a user record by id. Returns (nil, nil) when absent.
func (ix *Index) GetUser(ctx context.Context, id int64) (*model.User, error) {
	data, err := ix.kv.Get(ctx, userKey(id))
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	if data == nil {
		return nil, nil
	}
	var u model.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("get user %d: decode: %w", id, err)
	}
	return &u, nil
}

// GetPhone resolves a stored phone number by id. Returns ("", nil) when absent.
func (ix *Index) GetPhone(ctx context.Context, id int64) (string, error) {
	data, err := ix.kv.Get(ctx, phoneKey(id))
	if err != nil {
		return "", fmt.Errorf("get phone for %d: %w", id, err)
	}
	return string(data), nil
}

// FetchPage returns one page of the roster, newest first, starting at the
// given cursor (nil for the newest record). Index entries whose primary
// record no longer resolves are skipped, so a page may carry fewer than
// limit users. Any storage failure aborts the fetch with ErrPageUnavailable;
// a partial page is never returned as complete.
func (ix *Index) FetchPage(ctx context.Context, cursor *string, limit int) (*Page, error) {
	after := ""
	if cursor != nil {
		after = *cursor
	}
	res, err := ix.kv.List(ctx, indexKeyPrefix, after, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageUnavailable, err)
	}

	page := &Page{Complete: res.Complete}
	for _, entry := range res.Entries {
		id, ok := idFromIndexKey(entry.Key)
		if !ok {
			log.Warn("Roster: malformed index key", "key", entry.Key)
			continue
		}
		data, err := ix.kv.Get(ctx, userKey(id))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPageUnavailable, err)
		}
		if data == nil {
			// Stale reference: expected under eventual consistency.
			continue
		}
		var u model.User
		if err := json.Unmarshal(data, &u); err != nil {
			log.Warn("Roster: undecodable user record", "userId", id, "err", err)
			continue
		}
		page.Users = append(page.Users, u)
	}
	if !res.Complete && res.NextCursor != "" {
		next := res.NextCursor
		page.NextCursor = &next
	}
	return page, nil
}
