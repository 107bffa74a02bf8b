package bot

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	registrykv "github.com/hoomaan/roster-service/internal/registry/kv"
)

const stateKeyPrefix = "state:"

// Pending conversation kinds.
const (
	stateKindOrder   = "order"
	stateKindContact = "contact"
)

// pendingState is the tagged conversation state for an actor: what the bot
// is waiting for from them. Stored as an explicit value keyed by actor id,
// never as in-band markers in message text.
type pendingState struct {
	Kind string `json:"kind"`
	// ProductID is set for order states.
	ProductID string `json:"productId,omitempty"`
}

type stateStore struct {
	kv  registrykv.Store
	ttl time.Duration
}

func stateKey(actorID int64) string {
	return stateKeyPrefix + strconv.FormatInt(actorID, 10)
}

func (s *stateStore) get(ctx context.Context, actorID int64) (*pendingState, error) {
	data, err := s.kv.Get(ctx, stateKey(actorID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var st pendingState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, nil
	}
	return &st, nil
}

func (s *stateStore) set(ctx context.Context, actorID int64, st pendingState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, stateKey(actorID), data, s.ttl)
}

func (s *stateStore) clear(ctx context.Context, actorID int64) error {
	return s.kv.Delete(ctx, stateKey(actorID))
}
