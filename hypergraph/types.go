// Package hypergraph maintains the in-memory graph of tools and capabilities:
// directed co-usage/containment edges, hyperedges, PageRank, community
// labels, and the graph-theoretic scores the SHGAT scorer and DR-DSP
// pathfinder read from it.
package hypergraph

// NodeKind tags a Node as backing a tool or a capability.
type NodeKind string

const (
	NodeTool       NodeKind = "tool"
	NodeCapability NodeKind = "capability"
)

// FeatureVector holds the precomputed per-capability feature components the
// SHGAT scorer blends into its final score.
type FeatureVector struct {
	SpectralCluster    float64
	HypergraphPageRank float64
	Cooccurrence       float64
	Recency            float64
	AdamicAdar         float64
	HeatDiffusion      float64
}

// Node is a tagged tool-or-capability vertex.
type Node struct {
	ID                 string
	Kind               NodeKind
	DescriptionEmbedding []float32 // tools only
	CapabilityID       string     // capabilities only
	Features           *FeatureVector
	PageRank           float64
	CommunityID        int
	Degree             int
}

// Edge is a directed, weighted co-usage/dependency edge between two nodes.
type Edge struct {
	From   string
	To     string
	Weight float64 // (0, 1]
	Count  int
}

// Hyperedge connects a set of source nodes to a set of target nodes, used by
// the pathfinder to model multi-input/multi-output tool compositions.
type Hyperedge struct {
	ID      string
	Sources []string
	Targets []string
	Weight  float64
}
