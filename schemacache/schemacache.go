// Package schemacache is a fixed-capacity LRU cache of tool schemas, plus a
// separate tool-version map so a schema change can invalidate any
// downstream cache keyed by tool version.
package schemacache

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pml-run/pml/core"
)

const defaultMaxSize = 50

type entry struct {
	schema   core.Value
	hitCount int64
}

// Stats summarizes cache behavior for observability.
type Stats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// ToolUsage is one row of the top_tools ranking.
type ToolUsage struct {
	ToolID   string
	HitCount int64
}

// Cache is the Schema / Tool Cache.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, *entry]
	maxSize  int
	hits     int64
	misses   int64
	versions map[string]string
	logger   core.Logger
}

// Option configures a Cache.
type Option func(*Cache)

func WithMaxSize(n int) Option      { return func(c *Cache) { c.maxSize = n } }
func WithLogger(l core.Logger) Option { return func(c *Cache) { c.logger = l } }

// NewCache builds a Cache with the given options, defaulting max_size to 50.
func NewCache(opts ...Option) *Cache {
	c := &Cache{maxSize: defaultMaxSize, versions: make(map[string]string), logger: core.NoOpLogger{}}
	for _, opt := range opts {
		opt(c)
	}
	inner, err := lru.New[string, *entry](c.maxSize)
	if err != nil {
		// maxSize <= 0 is the only way New returns an error; fall back to
		// the documented default rather than propagating a constructor error.
		inner, _ = lru.New[string, *entry](defaultMaxSize)
		c.maxSize = defaultMaxSize
	}
	c.lru = inner
	return c
}

// Get returns the cached schema for toolID, updating its recency and hit
// count on a hit.
func (c *Cache) Get(toolID string) (core.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(toolID)
	if !ok {
		c.misses++
		return nil, false
	}
	e.hitCount++
	c.hits++
	return e.schema, true
}

// Set inserts or refreshes toolID's schema, evicting the least-recently-used
// entry if the cache is at capacity. toolVersion records the schema's
// version for change-invalidation checks.
func (c *Cache) Set(toolID string, schema core.Value, toolVersion string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.lru.Get(toolID); ok {
		existing.schema = schema
		c.lru.Add(toolID, existing)
	} else {
		c.lru.Add(toolID, &entry{schema: schema})
	}
	if toolVersion != "" {
		c.versions[toolID] = toolVersion
	}
}

// Stats reports the current cache size and hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:    c.lru.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
	}
}

// TopTools returns up to limit tool ids ranked by descending hit count.
func (c *Cache) TopTools(limit int) []ToolUsage {
	c.mu.Lock()
	defer c.mu.Unlock()

	usages := make([]ToolUsage, 0, c.lru.Len())
	for _, toolID := range c.lru.Keys() {
		e, ok := c.lru.Peek(toolID)
		if !ok {
			continue
		}
		usages = append(usages, ToolUsage{ToolID: toolID, HitCount: e.hitCount})
	}
	sort.Slice(usages, func(i, j int) bool {
		if usages[i].HitCount != usages[j].HitCount {
			return usages[i].HitCount > usages[j].HitCount
		}
		return usages[i].ToolID < usages[j].ToolID
	})
	if limit > 0 && len(usages) > limit {
		usages = usages[:limit]
	}
	return usages
}

// IsStale reports whether toolVersion differs from the version recorded at
// the last Set call, meaning any downstream cache keyed by tool version
// should treat its entry as invalidated.
func (c *Cache) IsStale(toolID, toolVersion string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	recorded, ok := c.versions[toolID]
	if !ok {
		return false
	}
	return recorded != toolVersion
}
