package threshold

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/pml-run/pml/core"
)

// RedisStore persists Thresholds, upserted on context_hash, the primary key
// the spec names for this entity.
type RedisStore struct {
	client *redis.Client
	prefix string
	ctx    context.Context
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

func WithRedisStoreKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore wraps client. ctx is used for all calls since the Store
// interface (shared with in-memory tests) is not itself context-aware.
func NewRedisStore(ctx context.Context, client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "pml:threshold:", ctx: ctx}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(contextHash string) string { return s.prefix + contextHash }

func (s *RedisStore) Load(contextHash string) (Thresholds, bool, error) {
	data, err := s.client.Get(s.ctx, s.key(contextHash)).Bytes()
	if err == redis.Nil {
		return Thresholds{}, false, nil
	}
	if err != nil {
		return Thresholds{}, false, core.NewError("threshold.RedisStore.Load", core.KindStorage, err)
	}
	var t Thresholds
	if err := json.Unmarshal(data, &t); err != nil {
		return Thresholds{}, false, core.NewError("threshold.RedisStore.Load", core.KindStorage, err)
	}
	return t, true, nil
}

func (s *RedisStore) Upsert(t Thresholds) error {
	data, err := json.Marshal(t)
	if err != nil {
		return core.NewError("threshold.RedisStore.Upsert", core.KindInternal, err)
	}
	if err := s.client.Set(s.ctx, s.key(t.ContextHash), data, 0).Err(); err != nil {
		return core.NewError("threshold.RedisStore.Upsert", core.KindStorage, err)
	}
	return nil
}
