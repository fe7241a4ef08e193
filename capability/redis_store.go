package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pml-run/pml/core"
)

// RedisStore is a Redis-backed Store. Capabilities are stored as JSON blobs
// under "<prefix>capability:<id>", indexed by code hash
// ("<prefix>capability:hash:<codeHash>" -> id) and scanned in full for
// intent search (capability volumes are small enough per deployment that an
// index-free cosine scan is the pragmatic choice).
// Dependency edges live in a Redis hash keyed by from-id.
type RedisStore struct {
	client *redis.Client
	prefix string
	clock  core.Clock
	logger core.Logger
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithStoreKeyPrefix overrides the default "pml:capability:" prefix.
func WithStoreKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithStoreLogger attaches a logger for degrade-gracefully diagnostics.
func WithStoreLogger(l core.Logger) RedisStoreOption {
	return func(s *RedisStore) { s.logger = l }
}

// WithStoreClock overrides the clock (for tests).
func WithStoreClock(c core.Clock) RedisStoreOption {
	return func(s *RedisStore) { s.clock = c }
}

// NewRedisStore wraps an existing redis.Client. The caller owns the
// client's lifecycle (construction, auth, closing).
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "pml:capability:", clock: core.RealClock{}, logger: core.NoOpLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) keyID(id string) string       { return s.prefix + id }
func (s *RedisStore) keyHash(hash string) string   { return s.prefix + "hash:" + hash }
func (s *RedisStore) keyIndex() string              { return s.prefix + "index" }
func (s *RedisStore) keyDeps(from string) string    { return s.prefix + "deps:" + from }
func (s *RedisStore) keyDepsAll() string            { return s.prefix + "deps:index" }

type storedCapability struct {
	ID               string                 `json:"id"`
	FQDN             string                 `json:"fqdn"`
	CodeSnippet      string                 `json:"code_snippet"`
	CodeHash         string                 `json:"code_hash"`
	IntentEmbedding  []float32              `json:"intent_embedding"`
	ToolsUsed        []string               `json:"tools_used"`
	ParametersSchema map[string]interface{} `json:"parameters_schema,omitempty"`
	SuccessRate      float64                `json:"success_rate"`
	UsageCount       int                    `json:"usage_count"`
	SuccessCount     int                    `json:"success_count"`
	AvgDurationMs    float64                `json:"avg_duration_ms"`
	CreatedAt        time.Time              `json:"created_at"`
	LastUsed         time.Time              `json:"last_used"`
	Source           Source                 `json:"source"`
	CommunityID      *int                   `json:"community_id,omitempty"`
}

func toStored(c Capability) storedCapability {
	tools := make([]string, len(c.ToolsUsed))
	for i, t := range c.ToolsUsed {
		tools[i] = t.String()
	}
	return storedCapability{
		ID: c.ID, FQDN: c.FQDN.String(), CodeSnippet: c.CodeSnippet, CodeHash: c.CodeHash,
		IntentEmbedding: c.IntentEmbedding, ToolsUsed: tools, ParametersSchema: c.ParametersSchema,
		SuccessRate: c.SuccessRate, UsageCount: c.UsageCount, SuccessCount: c.SuccessCount,
		AvgDurationMs: c.AvgDurationMs, CreatedAt: c.CreatedAt, LastUsed: c.LastUsed,
		Source: c.Source, CommunityID: c.CommunityID,
	}
}

func fromStored(sc storedCapability) (Capability, error) {
	fqdn, err := ParseFQDN(sc.FQDN)
	if err != nil {
		return Capability{}, err
	}
	tools := make([]ToolID, 0, len(sc.ToolsUsed))
	for _, t := range sc.ToolsUsed {
		tid, err := ParseToolID(t)
		if err == nil {
			tools = append(tools, tid)
		}
	}
	return Capability{
		ID: sc.ID, FQDN: fqdn, CodeSnippet: sc.CodeSnippet, CodeHash: sc.CodeHash,
		IntentEmbedding: sc.IntentEmbedding, ToolsUsed: tools, ParametersSchema: sc.ParametersSchema,
		SuccessRate: sc.SuccessRate, UsageCount: sc.UsageCount, SuccessCount: sc.SuccessCount,
		AvgDurationMs: sc.AvgDurationMs, CreatedAt: sc.CreatedAt, LastUsed: sc.LastUsed,
		Source: sc.Source, CommunityID: sc.CommunityID,
	}, nil
}

func (s *RedisStore) writeCapability(ctx context.Context, c Capability) error {
	data, err := json.Marshal(toStored(c))
	if err != nil {
		return core.NewError("RedisStore.writeCapability", core.KindInternal, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyID(c.ID), data, 0)
	pipe.Set(ctx, s.keyHash(c.CodeHash), c.ID, 0)
	pipe.SAdd(ctx, s.keyIndex(), c.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewError("RedisStore.writeCapability", core.KindStorage, err)
	}
	return nil
}

func (s *RedisStore) readCapability(ctx context.Context, id string) (Capability, error) {
	data, err := s.client.Get(ctx, s.keyID(id)).Bytes()
	if err == redis.Nil {
		return Capability{}, core.NewErrorWithID("RedisStore.readCapability", core.KindNotFound, id, core.ErrCapabilityNotFound)
	}
	if err != nil {
		return Capability{}, core.NewError("RedisStore.readCapability", core.KindStorage, err)
	}
	var sc storedCapability
	if err := json.Unmarshal(data, &sc); err != nil {
		return Capability{}, core.NewError("RedisStore.readCapability", core.KindStorage, err)
	}
	return fromStored(sc)
}

func (s *RedisStore) Save(ctx context.Context, code string, embedding []float32, toolsUsed []ToolID, schema map[string]interface{}) (Capability, bool, error) {
	hash := CodeHash(code)

	if id, err := s.client.Get(ctx, s.keyHash(hash)).Result(); err == nil {
		existing, err := s.readCapability(ctx, id)
		if err != nil {
			return Capability{}, false, err
		}
		return existing, false, nil
	} else if err != redis.Nil {
		return Capability{}, false, core.NewError("RedisStore.Save", core.KindStorage, err)
	}

	now := s.clock.Now()
	fqdn, err := NewFQDN("local", "default", "emergent", "capability", hash)
	if err != nil {
		return Capability{}, false, core.NewError("RedisStore.Save", core.KindInternal, err)
	}
	cap := Capability{
		ID: core.NewID(), FQDN: fqdn, CodeSnippet: CanonicalizeCode(code), CodeHash: hash,
		IntentEmbedding: core.L2Normalize(embedding), ToolsUsed: toolsUsed, ParametersSchema: schema,
		SuccessRate: 1.0, UsageCount: 1, SuccessCount: 1, CreatedAt: now, LastUsed: now, Source: SourceEmergent,
	}

	// A concurrent Save for the same code races here; SetNX on the hash key
	// makes the second writer discover the first writer's row instead of
	// creating a duplicate, satisfying the "save is idempotent per code_hash"
	// invariant across replicas.
	ok, err := s.client.SetNX(ctx, s.keyHash(hash), cap.ID, 0).Result()
	if err != nil {
		return Capability{}, false, core.NewError("RedisStore.Save", core.KindStorage, err)
	}
	if !ok {
		winnerID, err := s.client.Get(ctx, s.keyHash(hash)).Result()
		if err != nil {
			return Capability{}, false, core.NewError("RedisStore.Save", core.KindStorage, err)
		}
		existing, err := s.readCapability(ctx, winnerID)
		return existing, false, err
	}

	data, err := json.Marshal(toStored(cap))
	if err != nil {
		return Capability{}, false, core.NewError("RedisStore.Save", core.KindInternal, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyID(cap.ID), data, 0)
	pipe.SAdd(ctx, s.keyIndex(), cap.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return Capability{}, false, core.NewError("RedisStore.Save", core.KindStorage, err)
	}
	return cap, true, nil
}

func (s *RedisStore) FindByID(ctx context.Context, id string) (Capability, error) {
	return s.readCapability(ctx, id)
}

func (s *RedisStore) FindByCodeHash(ctx context.Context, codeHash string) (Capability, error) {
	id, err := s.client.Get(ctx, s.keyHash(codeHash)).Result()
	if err == redis.Nil {
		return Capability{}, core.NewErrorWithID("RedisStore.FindByCodeHash", core.KindNotFound, codeHash, core.ErrCapabilityNotFound)
	}
	if err != nil {
		return Capability{}, core.NewError("RedisStore.FindByCodeHash", core.KindStorage, err)
	}
	return s.readCapability(ctx, id)
}

func (s *RedisStore) FindByFQDN(ctx context.Context, fqdn FQDN) (Capability, error) {
	ids, err := s.client.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return Capability{}, core.NewError("RedisStore.FindByFQDN", core.KindStorage, err)
	}
	for _, id := range ids {
		c, err := s.readCapability(ctx, id)
		if err != nil {
			continue
		}
		if matchesFQDNLookup(c.FQDN, fqdn) {
			return c, nil
		}
	}
	return Capability{}, core.NewErrorWithID("RedisStore.FindByFQDN", core.KindNotFound, fqdn.String(), core.ErrCapabilityNotFound)
}

func (s *RedisStore) ListAll(ctx context.Context) ([]Capability, error) {
	ids, err := s.client.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, core.NewError("RedisStore.ListAll", core.KindStorage, err)
	}
	out := make([]Capability, 0, len(ids))
	for _, id := range ids {
		c, err := s.readCapability(ctx, id)
		if err != nil {
			s.logger.Warn("skipping unreadable capability during ListAll", map[string]interface{}{"id": id, "error": err.Error()})
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *RedisStore) SearchByIntent(ctx context.Context, embedding []float32, topK int, minScore float64) ([]SearchResult, error) {
	embedding = core.L2Normalize(embedding)
	ids, err := s.client.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, core.NewError("RedisStore.SearchByIntent", core.KindStorage, err)
	}
	results := make([]SearchResult, 0, len(ids))
	for _, id := range ids {
		c, err := s.readCapability(ctx, id)
		if err != nil {
			s.logger.Warn("skipping unreadable capability during search", map[string]interface{}{"id": id, "error": err.Error()})
			continue
		}
		sim := core.CosineSimilarity(embedding, c.IntentEmbedding)
		if sim < minScore {
			continue
		}
		results = append(results, SearchResult{Capability: c, Similarity: sim, Score: sim * c.SuccessRate})
	}
	return rankSearchResults(results, topK), nil
}

func (s *RedisStore) UpdateUsage(ctx context.Context, codeHash string, success bool, durationMs float64) error {
	id, err := s.client.Get(ctx, s.keyHash(codeHash)).Result()
	if err == redis.Nil {
		return core.NewErrorWithID("RedisStore.UpdateUsage", core.KindNotFound, codeHash, core.ErrCapabilityNotFound)
	}
	if err != nil {
		return core.NewError("RedisStore.UpdateUsage", core.KindStorage, err)
	}

	// Read-modify-write under a per-hash lock key emulates the "writes
	// serialized per code_hash" requirement without needing Lua scripting.
	lockKey := s.prefix + "lock:" + codeHash
	for {
		acquired, err := s.client.SetNX(ctx, lockKey, "1", 5*time.Second).Result()
		if err != nil {
			return core.NewError("RedisStore.UpdateUsage", core.KindStorage, err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return core.NewError("RedisStore.UpdateUsage", core.KindCancelled, ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
	defer s.client.Del(ctx, lockKey)

	c, err := s.readCapability(ctx, id)
	if err != nil {
		return err
	}
	applyUsage(&c, success, durationMs, s.clock.Now())
	return s.writeCapability(ctx, c)
}

type storedDependency struct {
	From     string     `json:"from"`
	To       string     `json:"to"`
	Type     EdgeType   `json:"type"`
	Source   EdgeSource `json:"source"`
	Observed int        `json:"observed_count"`
	Conf     float64    `json:"confidence_score"`
	LastSeen time.Time  `json:"last_observed"`
}

func (s *RedisStore) AddDependency(ctx context.Context, from, to string, edgeType EdgeType, source EdgeSource) (Dependency, error) {
	now := s.clock.Now()
	field := to
	existing, err := s.client.HGet(ctx, s.keyDeps(from), field).Result()
	if err == nil {
		var sd storedDependency
		if jerr := json.Unmarshal([]byte(existing), &sd); jerr == nil {
			sd.Observed++
			sd.LastSeen = now
			data, _ := json.Marshal(sd)
			if err := s.client.HSet(ctx, s.keyDeps(from), field, data).Err(); err != nil {
				return Dependency{}, core.NewError("RedisStore.AddDependency", core.KindStorage, err)
			}
			return toDependency(sd), nil
		}
	} else if err != redis.Nil {
		return Dependency{}, core.NewError("RedisStore.AddDependency", core.KindStorage, err)
	}

	sd := storedDependency{From: from, To: to, Type: edgeType, Source: source, Observed: 1, Conf: 1.0, LastSeen: now}
	data, err := json.Marshal(sd)
	if err != nil {
		return Dependency{}, core.NewError("RedisStore.AddDependency", core.KindInternal, err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keyDeps(from), field, data)
	pipe.SAdd(ctx, s.keyDepsAll(), from)
	if _, err := pipe.Exec(ctx); err != nil {
		return Dependency{}, core.NewError("RedisStore.AddDependency", core.KindStorage, err)
	}
	return toDependency(sd), nil
}

func toDependency(sd storedDependency) Dependency {
	return Dependency{
		FromCapabilityID: sd.From, ToCapabilityID: sd.To, EdgeType: sd.Type, EdgeSource: sd.Source,
		ObservedCount: sd.Observed, ConfidenceScore: sd.Conf, LastObserved: sd.LastSeen,
	}
}

func (s *RedisStore) RemoveDependency(ctx context.Context, from, to string) error {
	n, err := s.client.HDel(ctx, s.keyDeps(from), to).Result()
	if err != nil {
		return core.NewError("RedisStore.RemoveDependency", core.KindStorage, err)
	}
	if n == 0 {
		return core.NewError("RedisStore.RemoveDependency", core.KindNotFound, core.ErrCapabilityNotFound)
	}
	return nil
}

func (s *RedisStore) GetDependencies(ctx context.Context, id string, direction Direction) ([]Dependency, error) {
	var out []Dependency
	if direction == DirectionFrom || direction == DirectionBoth {
		raw, err := s.client.HGetAll(ctx, s.keyDeps(id)).Result()
		if err != nil {
			return nil, core.NewError("RedisStore.GetDependencies", core.KindStorage, err)
		}
		for _, v := range raw {
			var sd storedDependency
			if json.Unmarshal([]byte(v), &sd) == nil {
				out = append(out, toDependency(sd))
			}
		}
	}
	if direction == DirectionTo || direction == DirectionBoth {
		froms, err := s.client.SMembers(ctx, s.keyDepsAll()).Result()
		if err != nil {
			return nil, core.NewError("RedisStore.GetDependencies", core.KindStorage, err)
		}
		for _, from := range froms {
			if from == id {
				continue
			}
			raw, err := s.client.HGetAll(ctx, s.keyDeps(from)).Result()
			if err != nil {
				continue
			}
			for _, v := range raw {
				var sd storedDependency
				if json.Unmarshal([]byte(v), &sd) == nil && sd.To == id {
					out = append(out, toDependency(sd))
				}
			}
		}
	}
	return out, nil
}

// ParseToolID parses "server_id:tool_name" or the MCP-canonical
// "mcp__server__tool" form into a ToolID. Server ids never contain ':'.
func ParseToolID(s string) (ToolID, error) {
	if len(s) == 0 {
		return ToolID{}, core.NewError("ParseToolID", core.KindInvalidParams, core.ErrInvalidToolID)
	}
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return ToolID{ServerID: s[:i], ToolName: s[i+1:]}, nil
		}
	}
	const mcpPrefix = "mcp__"
	if len(s) > len(mcpPrefix) && s[:len(mcpPrefix)] == mcpPrefix {
		rest := s[len(mcpPrefix):]
		for i := 0; i < len(rest); i++ {
			if rest[i] == '_' && i+1 < len(rest) && rest[i+1] == '_' {
				return ToolID{ServerID: rest[:i], ToolName: rest[i+2:]}, nil
			}
		}
	}
	return ToolID{}, core.NewError("ParseToolID", core.KindInvalidParams, fmt.Errorf("%w: %q", core.ErrInvalidToolID, s))
}
