package capability

import (
	"context"
	"sync"

	"github.com/pml-run/pml/core"
)

// MemoryStore is an in-process Store used by tests and single-replica
// deployments. Writes are serialized by a single mutex, so per-hash write
// ordering is satisfied trivially: the whole store is one critical section.
type MemoryStore struct {
	mu     sync.RWMutex
	clock  core.Clock
	byID   map[string]*Capability
	byHash map[string]string // codeHash -> id
	deps   map[string][]Dependency
}

// NewMemoryStore creates an empty in-memory capability store.
func NewMemoryStore(clock core.Clock) *MemoryStore {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &MemoryStore{
		clock:  clock,
		byID:   make(map[string]*Capability),
		byHash: make(map[string]string),
		deps:   make(map[string][]Dependency),
	}
}

func (s *MemoryStore) Save(ctx context.Context, code string, embedding []float32, toolsUsed []ToolID, schema map[string]interface{}) (Capability, bool, error) {
	hash := CodeHash(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byHash[hash]; ok {
		return *s.byID[id], false, nil
	}

	now := s.clock.Now()
	fqdn, err := NewFQDN("local", "default", "emergent", "capability", hash)
	if err != nil {
		return Capability{}, false, core.NewError("MemoryStore.Save", core.KindInternal, err)
	}
	cap := Capability{
		ID:               core.NewID(),
		FQDN:             fqdn,
		CodeSnippet:      CanonicalizeCode(code),
		CodeHash:         hash,
		IntentEmbedding:  core.L2Normalize(embedding),
		ToolsUsed:        toolsUsed,
		ParametersSchema: schema,
		SuccessRate:      1.0,
		UsageCount:       1,
		SuccessCount:     1,
		CreatedAt:        now,
		LastUsed:         now,
		Source:           SourceEmergent,
	}
	s.byID[cap.ID] = &cap
	s.byHash[hash] = cap.ID
	return cap, true, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return Capability{}, core.NewErrorWithID("MemoryStore.FindByID", core.KindNotFound, id, core.ErrCapabilityNotFound)
	}
	return *c, nil
}

func (s *MemoryStore) FindByCodeHash(ctx context.Context, codeHash string) (Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[codeHash]
	if !ok {
		return Capability{}, core.NewErrorWithID("MemoryStore.FindByCodeHash", core.KindNotFound, codeHash, core.ErrCapabilityNotFound)
	}
	return *s.byID[id], nil
}

func (s *MemoryStore) FindByFQDN(ctx context.Context, fqdn FQDN) (Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.byID {
		if matchesFQDNLookup(c.FQDN, fqdn) {
			return *c, nil
		}
	}
	return Capability{}, core.NewErrorWithID("MemoryStore.FindByFQDN", core.KindNotFound, fqdn.String(), core.ErrCapabilityNotFound)
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Capability, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, *c)
	}
	return out, nil
}

func (s *MemoryStore) SearchByIntent(ctx context.Context, embedding []float32, topK int, minScore float64) ([]SearchResult, error) {
	embedding = core.L2Normalize(embedding)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]SearchResult, 0, len(s.byID))
	for _, c := range s.byID {
		sim := core.CosineSimilarity(embedding, c.IntentEmbedding)
		if sim < minScore {
			continue
		}
		results = append(results, SearchResult{Capability: *c, Similarity: sim, Score: sim * c.SuccessRate})
	}
	return rankSearchResults(results, topK), nil
}

func (s *MemoryStore) UpdateUsage(ctx context.Context, codeHash string, success bool, durationMs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[codeHash]
	if !ok {
		return core.NewErrorWithID("MemoryStore.UpdateUsage", core.KindNotFound, codeHash, core.ErrCapabilityNotFound)
	}
	applyUsage(s.byID[id], success, durationMs, s.clock.Now())
	return nil
}

func (s *MemoryStore) AddDependency(ctx context.Context, from, to string, edgeType EdgeType, source EdgeSource) (Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	edges := s.deps[from]
	for i := range edges {
		if edges[i].ToCapabilityID == to {
			edges[i].ObservedCount++
			edges[i].LastObserved = now
			s.deps[from] = edges
			return edges[i], nil
		}
	}
	dep := Dependency{
		FromCapabilityID: from,
		ToCapabilityID:   to,
		EdgeType:         edgeType,
		EdgeSource:       source,
		ObservedCount:    1,
		ConfidenceScore:  1.0,
		LastObserved:     now,
	}
	s.deps[from] = append(edges, dep)
	return dep, nil
}

func (s *MemoryStore) RemoveDependency(ctx context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	edges := s.deps[from]
	for i, e := range edges {
		if e.ToCapabilityID == to {
			s.deps[from] = append(edges[:i], edges[i+1:]...)
			return nil
		}
	}
	return core.NewError("MemoryStore.RemoveDependency", core.KindNotFound, core.ErrCapabilityNotFound)
}

func (s *MemoryStore) GetDependencies(ctx context.Context, id string, direction Direction) ([]Dependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Dependency
	if direction == DirectionFrom || direction == DirectionBoth {
		out = append(out, s.deps[id]...)
	}
	if direction == DirectionTo || direction == DirectionBoth {
		for from, edges := range s.deps {
			if from == id {
				continue
			}
			for _, e := range edges {
				if e.ToCapabilityID == id {
					out = append(out, e)
				}
			}
		}
	}
	return out, nil
}
