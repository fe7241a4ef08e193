package capability

import (
	"context"
	"sort"
	"time"
)

// Store is the capability repository boundary. Both the in-memory and
// Redis-backed implementations satisfy this interface so the rest of the
// pipeline never depends on the storage engine.
type Store interface {
	// Save computes code_hash over the canonicalized code and either returns
	// the existing row for that hash (FirstSeen=false) or inserts a new one
	// (FirstSeen=true).
	Save(ctx context.Context, code string, embedding []float32, toolsUsed []ToolID, schema map[string]interface{}) (cap Capability, firstSeen bool, err error)

	FindByID(ctx context.Context, id string) (Capability, error)
	FindByCodeHash(ctx context.Context, codeHash string) (Capability, error)
	FindByFQDN(ctx context.Context, fqdn FQDN) (Capability, error)

	// ListAll returns every known capability, used by the scorer to rank the
	// full candidate set rather than a similarity-prefiltered subset.
	ListAll(ctx context.Context) ([]Capability, error)

	SearchByIntent(ctx context.Context, embedding []float32, topK int, minScore float64) ([]SearchResult, error)

	UpdateUsage(ctx context.Context, codeHash string, success bool, durationMs float64) error

	AddDependency(ctx context.Context, from, to string, edgeType EdgeType, source EdgeSource) (Dependency, error)
	RemoveDependency(ctx context.Context, from, to string) error
	GetDependencies(ctx context.Context, id string, direction Direction) ([]Dependency, error)
}

// rankSearchResults sorts by Score descending and truncates to topK. Shared
// by every Store implementation so ranking semantics can't drift between them.
func rankSearchResults(results []SearchResult, topK int) []SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func buildFQDN(c Capability) FQDN { return c.FQDN }

func matchesFQDNLookup(have FQDN, want FQDN) bool {
	if have.Org != want.Org || have.Project != want.Project || have.Namespace != want.Namespace || have.Action != want.Action {
		return false
	}
	if want.Hash == "" {
		return true
	}
	return have.Hash == want.Hash
}

func applyUsage(c *Capability, success bool, durationMs float64, now time.Time) {
	c.UsageCount++
	if success {
		c.SuccessCount++
	}
	recomputeSuccessRate(c)
	if c.UsageCount == 1 {
		c.AvgDurationMs = durationMs
	} else {
		c.AvgDurationMs = c.AvgDurationMs + (durationMs-c.AvgDurationMs)/float64(c.UsageCount)
	}
	c.LastUsed = now
}
