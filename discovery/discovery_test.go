package discovery

import (
	"context"
	"testing"

	"github.com/pml-run/pml/capability"
	"github.com/pml-run/pml/embedding"
	"github.com/pml-run/pml/hypergraph"
	"github.com/pml-run/pml/scorer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedEncoder(vec []float32) *embedding.Facade {
	return embedding.NewFacade(embedding.EncoderFunc(func(ctx context.Context, text string) ([]float32, error) {
		return vec, nil
	}))
}

func TestDiscoverReturnsRankedCandidates(t *testing.T) {
	store := capability.NewMemoryStore(nil)
	ctx := context.Background()
	_, _, err := store.Save(ctx, "matches", []float32{1, 0}, nil, nil)
	require.NoError(t, err)

	graph := hypergraph.NewGraph()
	sc := scorer.NewScorer(scorer.DefaultConfig(2), graph, store)
	svc := NewService(fixedEncoder([]float32{1, 0}), sc, graph, store)

	result, err := svc.Discover(ctx, "do the thing", FilterAll, 10, 0.0)
	require.NoError(t, err)
	require.NotEmpty(t, result.Candidates)
	assert.InDelta(t, 1.0, result.Candidates[0].Probability, 1e-6)
}

func TestDiscoverRespectsLimit(t *testing.T) {
	store := capability.NewMemoryStore(nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, err := store.Save(ctx, string(rune('a'+i)), []float32{1, 0}, nil, nil)
		require.NoError(t, err)
	}

	graph := hypergraph.NewGraph()
	sc := scorer.NewScorer(scorer.DefaultConfig(2), graph, store)
	svc := NewService(fixedEncoder([]float32{1, 0}), sc, graph, store)

	result, err := svc.Discover(ctx, "intent", FilterCapability, 2, 0.0)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Candidates), 2)
}

func TestDiscoverFallsBackToPathfinderWhenNoGoodMatch(t *testing.T) {
	store := capability.NewMemoryStore(nil)
	graph := hypergraph.NewGraph()

	n1 := graph.EnsureNode("toolA", hypergraph.NodeTool)
	n1.DescriptionEmbedding = []float32{0.1, 0.1}
	n2 := graph.EnsureNode("toolB", hypergraph.NodeTool)
	n2.DescriptionEmbedding = []float32{0.1, 0.1}

	sc := scorer.NewScorer(scorer.DefaultConfig(2), graph, store)
	sc.RegisterTool("toolA")
	sc.RegisterTool("toolB")

	svc := NewService(fixedEncoder([]float32{1, 0}), sc, graph, store)

	result, err := svc.Discover(context.Background(), "weak match", FilterTool, 10, 0.0)
	require.NoError(t, err)
	assert.False(t, result.CanSpeculate)
}

func TestDiscoverCanSpeculateOnlyWithHighScoreAndSuccessRate(t *testing.T) {
	store := capability.NewMemoryStore(nil)
	ctx := context.Background()
	_, _, err := store.Save(ctx, "reliable", []float32{1, 0}, nil, nil)
	require.NoError(t, err)

	graph := hypergraph.NewGraph()
	sc := scorer.NewScorer(scorer.DefaultConfig(2), graph, store)
	svc := NewService(fixedEncoder([]float32{1, 0}), sc, graph, store)

	result, err := svc.Discover(ctx, "intent", FilterCapability, 10, 0.0)
	require.NoError(t, err)
	// A freshly-saved capability has success_rate 1.0; speculation requires
	// score >= 0.7 as well, which depends on the (randomly initialized)
	// scorer weights, so we only assert the decision is internally coherent.
	if result.CanSpeculate {
		assert.GreaterOrEqual(t, result.Candidates[0].SemanticScore, speculativeScoreMin)
	}
}
