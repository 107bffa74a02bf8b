// Package redis backs the KV primitive with a Redis server. Durable keys are
// mirrored into a sorted set so prefix listing is an ordered ZRANGEBYLEX
// scan; TTL'd keys are plain SET EX and are never enumerable.
package redis

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/hoomaan/roster-service/internal/config"
	registrykv "github.com/hoomaan/roster-service/internal/registry/kv"
	goredis "github.com/redis/go-redis/v9"
)

// keysIndex is the sorted set holding every durable key (score 0, so members
// order lexicographically).
const keysIndex = "kv:keys"

func init() {
	registrykv.Register(registrykv.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrykv.Store, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis kv: ROSTER_SERVICE_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL)
}

// LoadFromURL creates a Store from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrykv.Store, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis kv: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis kv: ping failed: %w", err)
	}
	return &redisStore{client: client}, nil
}

type redisStore struct {
	client *goredis.Client
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &registrykv.UnavailableError{Op: "get", Err: err}
	}
	return data, nil
}

func (s *redisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl > 0 {
		if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
			return &registrykv.UnavailableError{Op: "put", Err: err}
		}
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, value, 0)
	pipe.ZAdd(ctx, keysIndex, goredis.Z{Score: 0, Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return &registrykv.UnavailableError{Op: "put", Err: err}
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, keysIndex, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return &registrykv.UnavailableError{Op: "delete", Err: err}
	}
	return nil
}

func (s *redisStore) List(ctx context.Context, prefix string, cursor string, limit int) (*registrykv.ListResult, error) {
	min := "[" + prefix
	if cursor != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(cursor)
		if err != nil {
			return nil, fmt.Errorf("redis kv: invalid cursor: %w", err)
		}
		min = "(" + string(decoded)
	}
	// \xff sorts after any printable key byte, closing the prefix range.
	max := "[" + prefix + "\xff"

	keys, err := s.client.ZRangeByLex(ctx, keysIndex, &goredis.ZRangeBy{
		Min:    min,
		Max:    max,
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, &registrykv.UnavailableError{Op: "list", Err: err}
	}

	res := &registrykv.ListResult{Complete: limit <= 0 || len(keys) < limit}
	for _, k := range keys {
		value, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		res.Entries = append(res.Entries, registrykv.Entry{Key: k, Value: value})
	}
	if !res.Complete && len(keys) > 0 {
		res.NextCursor = base64.RawURLEncoding.EncodeToString([]byte(keys[len(keys)-1]))
	}
	return res, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

var _ registrykv.Store = (*redisStore)(nil)
