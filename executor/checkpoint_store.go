package executor

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/pml-run/pml/core"
)

// MemoryCheckpointStore is an in-process CheckpointStore for tests and
// single-replica deployments.
type MemoryCheckpointStore struct {
	mu    sync.RWMutex
	byID  map[string]Checkpoint
	byWf  map[string]string // workflow id -> latest checkpoint id
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{byID: make(map[string]Checkpoint), byWf: make(map[string]string)}
}

func (s *MemoryCheckpointStore) Save(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cp.ID] = cp
	s.byWf[cp.WorkflowID] = cp.ID
	return nil
}

func (s *MemoryCheckpointStore) Load(checkpointID string) (Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byID[checkpointID]
	return cp, ok, nil
}

func (s *MemoryCheckpointStore) LatestForWorkflow(workflowID string) (Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byWf[workflowID]
	if !ok {
		return Checkpoint{}, false, nil
	}
	cp, ok := s.byID[id]
	return cp, ok, nil
}

// RedisCheckpointStore persists Checkpoints for resume across process
// restarts, keyed by checkpoint id with a secondary workflow-id pointer.
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
	ctx    context.Context
}

type RedisCheckpointOption func(*RedisCheckpointStore)

func WithRedisCheckpointKeyPrefix(prefix string) RedisCheckpointOption {
	return func(s *RedisCheckpointStore) { s.prefix = prefix }
}

func NewRedisCheckpointStore(ctx context.Context, client *redis.Client, opts ...RedisCheckpointOption) *RedisCheckpointStore {
	s := &RedisCheckpointStore{client: client, prefix: "pml:checkpoint:", ctx: ctx}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCheckpointStore) keyID(id string) string       { return s.prefix + "id:" + id }
func (s *RedisCheckpointStore) keyWorkflow(wf string) string { return s.prefix + "wf:" + wf }

func (s *RedisCheckpointStore) Save(cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return core.NewError("executor.RedisCheckpointStore.Save", core.KindInternal, err)
	}
	if err := s.client.Set(s.ctx, s.keyID(cp.ID), data, 0).Err(); err != nil {
		return core.NewError("executor.RedisCheckpointStore.Save", core.KindStorage, err)
	}
	if err := s.client.Set(s.ctx, s.keyWorkflow(cp.WorkflowID), cp.ID, 0).Err(); err != nil {
		return core.NewError("executor.RedisCheckpointStore.Save", core.KindStorage, err)
	}
	return nil
}

func (s *RedisCheckpointStore) Load(checkpointID string) (Checkpoint, bool, error) {
	data, err := s.client.Get(s.ctx, s.keyID(checkpointID)).Bytes()
	if err == redis.Nil {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, core.NewError("executor.RedisCheckpointStore.Load", core.KindStorage, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, core.NewError("executor.RedisCheckpointStore.Load", core.KindStorage, err)
	}
	return cp, true, nil
}

func (s *RedisCheckpointStore) LatestForWorkflow(workflowID string) (Checkpoint, bool, error) {
	id, err := s.client.Get(s.ctx, s.keyWorkflow(workflowID)).Result()
	if err == redis.Nil {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, core.NewError("executor.RedisCheckpointStore.LatestForWorkflow", core.KindStorage, err)
	}
	return s.Load(id)
}
