// Package discovery orchestrates the Embedding Facade, SHGAT scorer, and
// DR-DSP pathfinder into a single ranked result set for an intent.
package discovery

import (
	"context"
	"math"
	"sort"

	"github.com/pml-run/pml/capability"
	"github.com/pml-run/pml/core"
	"github.com/pml-run/pml/embedding"
	"github.com/pml-run/pml/hypergraph"
	"github.com/pml-run/pml/pathfinder"
	"github.com/pml-run/pml/scorer"
)

// Filter restricts which candidate kinds Discover considers.
type Filter string

const (
	FilterTool       Filter = "tool"
	FilterCapability Filter = "capability"
	FilterAll        Filter = "all"
)

const (
	goodMatchThreshold   = 0.6
	speculativeScoreMin  = 0.7
	speculativeSuccessMin = 0.8
	pathfinderScoreFloor = 0.3
	softmaxTemperature   = 0.1
	maxLimit             = 50
)

// Candidate is one ranked item in the merged result set.
type Candidate struct {
	ID             string
	IsCapability   bool
	SemanticScore  float64 // raw SHGAT score
	Probability    float64 // temperature-0.1 softmax over SemanticScore
	SuccessRate    float64 // capabilities only
}

// Result is what Discover returns.
type Result struct {
	Candidates   []Candidate
	DAGDepends   map[string][]string // task id -> depends_on, when a composition was produced
	CanSpeculate bool
}

// Service wires the embedding facade, scorer, and pathfinder together.
type Service struct {
	embed  *embedding.Facade
	scorer *scorer.Scorer
	graph  *hypergraph.Graph
	store  capability.Store
	logger core.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l core.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService builds a discovery Service.
func NewService(embed *embedding.Facade, sc *scorer.Scorer, graph *hypergraph.Graph, store capability.Store, opts ...Option) *Service {
	s := &Service{embed: embed, scorer: sc, graph: graph, store: store, logger: core.NoOpLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover runs the full discovery pipeline for intent.
func (s *Service) Discover(ctx context.Context, intent string, filter Filter, limit int, minScore float64) (Result, error) {
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	vec, err := s.embed.Encode(ctx, intent)
	if err != nil {
		return Result{}, core.NewError("discovery.Discover", core.KindInternal, err)
	}

	var capScores []scorer.CapabilityScore
	var toolScores []scorer.ToolScore

	if filter == FilterCapability || filter == FilterAll {
		capScores, err = s.scorer.ScoreAllCapabilities(ctx, vec)
		if err != nil {
			return Result{}, err
		}
	}
	if filter == FilterTool || filter == FilterAll {
		toolScores = s.scorer.ScoreAllTools(vec, nil)
	}

	var bestCapScore, bestToolScore float64
	var bestCap *scorer.CapabilityScore
	var bestTool *scorer.ToolScore
	if len(capScores) > 0 {
		bestCap = &capScores[0]
		bestCapScore = bestCap.Score
	}
	if len(toolScores) > 0 {
		bestTool = &toolScores[0]
		bestToolScore = bestTool.Score
	}

	result := Result{}

	if math.Max(bestCapScore, bestToolScore) >= goodMatchThreshold {
		if bestCapScore >= bestToolScore && bestCap != nil {
			successRate := bestCap.FeatureContributions["success_rate"]
			result.CanSpeculate = bestCap.Score >= speculativeScoreMin && successRate >= speculativeSuccessMin
		} else {
			result.CanSpeculate = false
		}
	} else {
		// Fall back to DR-DSP composition over tools clearing the floor.
		eligible := make([]scorer.ToolScore, 0, len(toolScores))
		for _, ts := range toolScores {
			if ts.Score >= pathfinderScoreFloor {
				eligible = append(eligible, ts)
			}
		}
		if len(eligible) >= 2 {
			path := pathfinder.FindShortestHyperpath(s.graph, eligible[0].ToolID, eligible[1].ToolID)
			if path.Found {
				result.DAGDepends = pathfinder.ToSequentialDAGTasks(path.NodeSequence)
			}
		}
		result.CanSpeculate = false
	}

	merged := mergeCandidates(capScores, toolScores, minScore)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].SemanticScore > merged[j].SemanticScore })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	applySoftmaxProbabilities(merged)

	result.Candidates = merged
	return result, nil
}

func mergeCandidates(capScores []scorer.CapabilityScore, toolScores []scorer.ToolScore, minScore float64) []Candidate {
	out := make([]Candidate, 0, len(capScores)+len(toolScores))
	for _, c := range capScores {
		if c.Score < minScore {
			continue
		}
		out = append(out, Candidate{
			ID: c.CapabilityID, IsCapability: true, SemanticScore: c.Score,
			SuccessRate: c.FeatureContributions["success_rate"],
		})
	}
	for _, t := range toolScores {
		if t.Score < minScore {
			continue
		}
		out = append(out, Candidate{ID: t.ToolID, IsCapability: false, SemanticScore: t.Score})
	}
	return out
}

// applySoftmaxProbabilities computes temperature-0.1 softmax over
// SemanticScore in place, leaving SemanticScore itself untouched.
func applySoftmaxProbabilities(candidates []Candidate) {
	if len(candidates) == 0 {
		return
	}
	max := candidates[0].SemanticScore
	for _, c := range candidates {
		if c.SemanticScore > max {
			max = c.SemanticScore
		}
	}
	var sum float64
	exp := make([]float64, len(candidates))
	for i, c := range candidates {
		exp[i] = math.Exp((c.SemanticScore - max) / softmaxTemperature)
		sum += exp[i]
	}
	for i := range candidates {
		candidates[i].Probability = exp[i] / sum
	}
}
