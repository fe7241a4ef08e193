package scorer

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pml-run/pml/capability"
	"github.com/pml-run/pml/core"
	"github.com/pml-run/pml/hypergraph"
)

// CapabilityScore is one ranked row from ScoreAllCapabilities.
type CapabilityScore struct {
	CapabilityID           string
	Score                  float64
	HeadScores             []float64
	HeadWeights            []float64
	RecursiveContribution  float64
	FeatureContributions   map[string]float64
}

// ToolScore is one ranked row from ScoreAllTools.
type ToolScore struct {
	ToolID string
	Score  float64
}

// Episode is one training example for TrainOnEpisodes.
type Episode struct {
	IntentEmbedding []float32
	ContextTools    []string
	CandidateID     string
	CandidateVector []float32
	IsCapability    bool
	SuccessRate     float64 // only meaningful when IsCapability
	Outcome         float64 // 0 or 1
}

// Scorer is the SHGAT multi-head attention scorer over the hypergraph.
type Scorer struct {
	cfg   Config
	graph *hypergraph.Graph
	store capability.Store

	w atomic.Pointer[weights]

	toolMu     sync.RWMutex
	knownTools map[string]bool

	logger core.Logger
	rng    *rand.Rand
}

// RegisterTool records a tool id as a candidate for ScoreAllTools when no
// context_tools filter is supplied. The hypergraph itself doesn't expose a
// "list all tool nodes" API, so the scorer tracks the set it has been told
// about.
func (s *Scorer) RegisterTool(id string) {
	s.toolMu.Lock()
	defer s.toolMu.Unlock()
	s.knownTools[id] = true
}

// Option configures a Scorer.
type Option func(*Scorer)

func WithLogger(l core.Logger) Option { return func(s *Scorer) { s.logger = l } }

// NewScorer builds a Scorer with randomly-initialized head weights.
func NewScorer(cfg Config, graph *hypergraph.Graph, store capability.Store, opts ...Option) *Scorer {
	s := &Scorer{cfg: cfg, graph: graph, store: store, logger: core.NoOpLogger{}, rng: rand.New(rand.NewSource(1)), knownTools: make(map[string]bool)}
	for _, opt := range opts {
		opt(s)
	}
	s.w.Store(newRandomWeights(cfg, s.rng))
	return s
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// headScore computes σ(W_h · concat(intent, node, neighborhood)).
func headScore(proj []float64, intent, node, neighborhood []float32) float64 {
	var dot float64
	dim := len(intent)
	for i := 0; i < dim && i < len(proj); i++ {
		dot += proj[i] * float64(intent[i])
	}
	for i := 0; i < dim && dim+i < len(proj); i++ {
		dot += proj[dim+i] * float64(node[i])
	}
	for i := 0; i < dim && 2*dim+i < len(proj); i++ {
		dot += proj[2*dim+i] * float64(neighborhood[i])
	}
	return sigmoid(dot)
}

func softmax(xs []float64) []float64 {
	if len(xs) == 0 {
		return nil
	}
	max := xs[0]
	for _, x := range xs {
		if x > max {
			max = x
		}
	}
	out := make([]float64, len(xs))
	var sum float64
	for i, x := range xs {
		out[i] = math.Exp(x - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// neighborhoodSummary returns a zero vector when the node has no outgoing
// neighbors; otherwise it broadcasts the scalar PageRank + Degree/100 of the
// node across the vector. Neighbor embeddings are not averaged (the
// hypergraph stores no embeddings for capability nodes), so this is a coarse
// but stable proxy for "what this node is typically used alongside".
func (s *Scorer) neighborhoodSummary(nodeID string, dim int) []float32 {
	neighbors := s.graph.Neighbors(nodeID)
	out := make([]float32, dim)
	if len(neighbors) == 0 {
		return out
	}
	node, _ := s.graph.Node(nodeID)
	signal := float32(node.PageRank + float64(node.Degree)/100.0)
	for i := range out {
		out[i] = signal
	}
	return out
}

func (s *Scorer) scoreCandidate(w *weights, intent, nodeEmbedding []float32, nodeID string, reliability float64, hasReliability bool) (float64, []float64, []float64, float64) {
	neighborhood := s.neighborhoodSummary(nodeID, len(intent))

	headScores := make([]float64, len(w.headProjections))
	for h, proj := range w.headProjections {
		headScores[h] = headScore(proj, intent, nodeEmbedding, neighborhood)
	}
	headWeights := softmax(w.headMix)

	var mixed float64
	for h, hs := range headScores {
		mixed += hs * headWeights[h]
	}

	recursive := s.recursiveContribution(nodeID, intent, w)

	total := mixed + recursive
	if hasReliability {
		total += reliability
	}
	return core.Clamp01(total / 2.0), headScores, headWeights, recursive
}

// recursiveContribution propagates one hop through the highest-weight
// outgoing edge, scoring that neighbor's fit with head 0's projection as a
// cheap proxy for "does this area of the graph match the intent".
func (s *Scorer) recursiveContribution(nodeID string, intent []float32, w *weights) float64 {
	neighbors := s.graph.Neighbors(nodeID)
	if len(neighbors) == 0 || len(w.headProjections) == 0 {
		return 0
	}
	neighborNode, ok := s.graph.Node(neighbors[0])
	if !ok {
		return 0
	}
	var nodeVec []float32
	if neighborNode.Kind == hypergraph.NodeTool {
		nodeVec = neighborNode.DescriptionEmbedding
	}
	if len(nodeVec) != len(intent) {
		return 0
	}
	neighborhood := s.neighborhoodSummary(neighbors[0], len(intent))
	return 0.1 * headScore(w.headProjections[0], intent, nodeVec, neighborhood)
}

// ScoreAllCapabilities ranks every known capability against intentEmbedding,
// descending by score.
func (s *Scorer) ScoreAllCapabilities(ctx context.Context, intentEmbedding []float32) ([]CapabilityScore, error) {
	caps, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	w := s.w.Load()

	out := make([]CapabilityScore, 0, len(caps))
	for _, c := range caps {
		vec := c.IntentEmbedding
		if len(vec) != len(intentEmbedding) {
			continue
		}
		total, heads, headWeights, recursive := s.scoreCandidate(w, intentEmbedding, vec, c.ID, c.SuccessRate, true)
		out = append(out, CapabilityScore{
			CapabilityID:          c.ID,
			Score:                 total,
			HeadScores:            heads,
			HeadWeights:           headWeights,
			RecursiveContribution: recursive,
			FeatureContributions:  map[string]float64{"success_rate": c.SuccessRate},
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// ScoreAllTools ranks every tool node in the hypergraph against
// intentEmbedding. If contextTools is non-empty, scoring is restricted to
// that set.
func (s *Scorer) ScoreAllTools(intentEmbedding []float32, contextTools []string) []ToolScore {
	w := s.w.Load()

	var candidates []string
	if len(contextTools) > 0 {
		candidates = contextTools
	} else {
		candidates = s.allToolNodeIDs()
	}

	out := make([]ToolScore, 0, len(candidates))
	for _, id := range candidates {
		node, ok := s.graph.Node(id)
		if !ok || node.Kind != hypergraph.NodeTool {
			continue
		}
		vec := node.DescriptionEmbedding
		if len(vec) != len(intentEmbedding) {
			continue
		}
		total, _, _, _ := s.scoreCandidate(w, intentEmbedding, vec, id, 0, false)
		out = append(out, ToolScore{ToolID: id, Score: total})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (s *Scorer) allToolNodeIDs() []string {
	// Graph does not expose a direct node-listing API beyond Neighbors, so
	// the scorer tracks tool ids it has seen via RegisterTool.
	s.toolMu.RLock()
	defer s.toolMu.RUnlock()
	out := make([]string, 0, len(s.knownTools))
	for id := range s.knownTools {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
