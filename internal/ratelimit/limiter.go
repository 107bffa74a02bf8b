// Package ratelimit enforces a per-actor sliding-window request cap with an
// escalating temporary block, using nothing but KV reads, writes and key
// expiry. There are no atomic counters: the read-modify-write on the window
// counter is racy under concurrent requests from the same actor, which can
// transiently overshoot the cap by a small bounded amount. Accepted trade
// for not simulating a mutex on a non-transactional store.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	registrykv "github.com/hoomaan/roster-service/internal/registry/kv"
	"github.com/hoomaan/roster-service/internal/security"
)

const (
	countKeyPrefix = "rl:count:"
	blockKeyPrefix = "rl:block:"
)

// Limiter gates inbound actor actions. Per actor the state cycles
// Clear -> Counting -> Blocked -> Clear, carried entirely by two TTL'd keys:
// a window counter and a block flag. Absence of both means Clear.
type Limiter struct {
	kv      registrykv.Store
	window  time.Duration
	cap     int
	penalty time.Duration
	exempt  map[int64]struct{}
}

// New creates a Limiter. exemptIDs (administrators) are always admitted
// without touching storage.
func New(kv registrykv.Store, window time.Duration, requestCap int, penalty time.Duration, exemptIDs []int64) *Limiter {
	exempt := make(map[int64]struct{}, len(exemptIDs))
	for _, id := range exemptIDs {
		exempt[id] = struct{}{}
	}
	return &Limiter{
		kv:      kv,
		window:  window,
		cap:     requestCap,
		penalty: penalty,
		exempt:  exempt,
	}
}

func countKey(actorID int64) string {
	return countKeyPrefix + strconv.FormatInt(actorID, 10)
}

func blockKey(actorID int64) string {
	return blockKeyPrefix + strconv.FormatInt(actorID, 10)
}

// Admit reports whether the actor's request may proceed.
//
// A blocked actor is rejected outright without touching the counter, so the
// block expires after the full penalty regardless of further requests. An
// admitted request re-writes the counter with the full window TTL, sliding
// the window from the latest request. When storage is unreachable the
// limiter fails open: serving traffic outranks strict throttling.
func (l *Limiter) Admit(ctx context.Context, actorID int64) bool {
	if _, ok := l.exempt[actorID]; ok {
		decided("admitted")
		return true
	}

	blocked, err := l.kv.Get(ctx, blockKey(actorID))
	if err != nil {
		log.Warn("Limiter: block lookup failed, admitting", "actorId", actorID, "err", err)
		decided("failopen")
		return true
	}
	if blocked != nil {
		decided("blocked")
		return false
	}

	data, err := l.kv.Get(ctx, countKey(actorID))
	if err != nil {
		log.Warn("Limiter: counter lookup failed, admitting", "actorId", actorID, "err", err)
		decided("failopen")
		return true
	}
	count := 0
	if data != nil {
		if n, err := strconv.Atoi(string(data)); err == nil {
			count = n
		}
	}

	if count+1 > l.cap {
		if err := l.kv.Put(ctx, blockKey(actorID), []byte("1"), l.penalty); err != nil {
			log.Warn("Limiter: block write failed", "actorId", actorID, "err", err)
		}
		decided("blocked")
		return false
	}

	next := strconv.Itoa(count + 1)
	if err := l.kv.Put(ctx, countKey(actorID), []byte(next), l.window); err != nil {
		log.Warn("Limiter: counter write failed, admitting", "actorId", actorID, "err", err)
		decided("failopen")
		return true
	}
	decided("admitted")
	return true
}

func decided(outcome string) {
	if security.LimiterDecisionsTotal == nil {
		return
	}
	security.LimiterDecisionsTotal.WithLabelValues(outcome).Inc()
}
