package capability

import "time"

// Source distinguishes capabilities the system learned on its own from ones
// a human imported.
type Source string

const (
	SourceEmergent Source = "emergent"
	SourceImported Source = "imported"
)

// EdgeType classifies a Dependency edge.
type EdgeType string

const (
	EdgeContains    EdgeType = "contains"
	EdgeSequence    EdgeType = "sequence"
	EdgeDependency  EdgeType = "dependency"
	EdgeAlternative EdgeType = "alternative"
)

// EdgeSource records whether a Dependency edge was authored ahead of time or
// learned from observed executions.
type EdgeSource string

const (
	EdgeSourceTemplate EdgeSource = "template"
	EdgeSourceObserved EdgeSource = "observed"
)

// ToolID is a backend tool reference, "server_id:tool_name".
type ToolID struct {
	ServerID string
	ToolName string
}

func (t ToolID) String() string { return t.ServerID + ":" + t.ToolName }

// Capability is a content-addressed, statistically-tracked reusable code
// snippet.
type Capability struct {
	ID                string
	FQDN              FQDN
	CodeSnippet       string
	CodeHash          string
	IntentEmbedding   []float32
	ToolsUsed         []ToolID
	ParametersSchema  map[string]interface{}
	SuccessRate       float64
	UsageCount        int
	SuccessCount      int
	AvgDurationMs     float64
	CreatedAt         time.Time
	LastUsed          time.Time
	Source            Source
	CommunityID       *int
}

// Dependency is a directed edge between two capabilities.
type Dependency struct {
	FromCapabilityID string
	ToCapabilityID   string
	EdgeType         EdgeType
	EdgeSource       EdgeSource
	ObservedCount    int
	ConfidenceScore  float64
	LastObserved     time.Time
}

// Direction selects which side of a dependency edge to traverse.
type Direction string

const (
	DirectionFrom Direction = "from"
	DirectionTo   Direction = "to"
	DirectionBoth Direction = "both"
)

// SearchResult pairs a capability with its similarity/ranking score.
type SearchResult struct {
	Capability Capability
	Similarity float64
	Score      float64 // similarity * success_rate, the ranking key
}

// recomputeSuccessRate enforces the invariant success_rate =
// success_count / max(usage_count, 1).
func recomputeSuccessRate(c *Capability) {
	denom := c.UsageCount
	if denom < 1 {
		denom = 1
	}
	c.SuccessRate = float64(c.SuccessCount) / float64(denom)
}
