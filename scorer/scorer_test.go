package scorer

import (
	"context"
	"testing"

	"github.com/pml-run/pml/capability"
	"github.com/pml-run/pml/hypergraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreAllCapabilitiesRanksDescending(t *testing.T) {
	store := capability.NewMemoryStore(nil)
	ctx := context.Background()
	_, _, err := store.Save(ctx, "a", []float32{1, 0}, nil, nil)
	require.NoError(t, err)
	_, _, err = store.Save(ctx, "b", []float32{0, 1}, nil, nil)
	require.NoError(t, err)

	graph := hypergraph.NewGraph()
	s := NewScorer(DefaultConfig(2), graph, store)

	results, err := s.ScoreAllCapabilities(ctx, []float32{1, 0})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestScoreAllCapabilitiesSkipsDimensionMismatch(t *testing.T) {
	store := capability.NewMemoryStore(nil)
	ctx := context.Background()
	_, _, err := store.Save(ctx, "a", []float32{1, 0, 0}, nil, nil)
	require.NoError(t, err)

	graph := hypergraph.NewGraph()
	s := NewScorer(DefaultConfig(2), graph, store)

	results, err := s.ScoreAllCapabilities(ctx, []float32{1, 0})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestScoreAllToolsWithContextFilter(t *testing.T) {
	graph := hypergraph.NewGraph()
	n := graph.EnsureNode("tool1", hypergraph.NodeTool)
	n.DescriptionEmbedding = []float32{1, 0}
	n2 := graph.EnsureNode("tool2", hypergraph.NodeTool)
	n2.DescriptionEmbedding = []float32{0, 1}

	store := capability.NewMemoryStore(nil)
	s := NewScorer(DefaultConfig(2), graph, store)

	scores := s.ScoreAllTools([]float32{1, 0}, []string{"tool1"})
	require.Len(t, scores, 1)
	assert.Equal(t, "tool1", scores[0].ToolID)
}

func TestScoreAllToolsUsesRegisteredToolsWithoutFilter(t *testing.T) {
	graph := hypergraph.NewGraph()
	n := graph.EnsureNode("tool1", hypergraph.NodeTool)
	n.DescriptionEmbedding = []float32{1, 0}

	store := capability.NewMemoryStore(nil)
	s := NewScorer(DefaultConfig(2), graph, store)
	s.RegisterTool("tool1")

	scores := s.ScoreAllTools([]float32{1, 0}, nil)
	require.Len(t, scores, 1)
}

func TestTrainOnEpisodesPublishesNewWeights(t *testing.T) {
	store := capability.NewMemoryStore(nil)
	graph := hypergraph.NewGraph()
	s := NewScorer(DefaultConfig(2), graph, store)

	examples := []Episode{
		{IntentEmbedding: []float32{1, 0}, CandidateVector: []float32{1, 0}, CandidateID: "cap1", IsCapability: true, SuccessRate: 1.0, Outcome: 1.0},
	}

	before := s.w.Load()
	s.TrainOnEpisodes(examples, 50, 0.5)
	after := s.w.Load()

	assert.NotSame(t, before, after)
}

func TestTrainOnEpisodesNoOpOnEmptyExamples(t *testing.T) {
	store := capability.NewMemoryStore(nil)
	graph := hypergraph.NewGraph()
	s := NewScorer(DefaultConfig(2), graph, store)

	before := s.w.Load()
	s.TrainOnEpisodes(nil, 10, 0.1)
	after := s.w.Load()
	assert.Same(t, before, after)
}
