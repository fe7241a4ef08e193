package hypergraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChainGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	g.EnsureNode("a", NodeTool)
	g.EnsureNode("b", NodeTool)
	g.EnsureNode("c", NodeTool)
	require.NoError(t, g.AddOrStrengthenEdge("a", "b", 0.9))
	require.NoError(t, g.AddOrStrengthenEdge("b", "c", 0.9))
	return g
}

func TestAddOrStrengthenEdgeRejectsSelfLoop(t *testing.T) {
	g := NewGraph()
	g.EnsureNode("a", NodeTool)
	err := g.AddOrStrengthenEdge("a", "a", 1.0)
	require.Error(t, err)
}

func TestAddOrStrengthenEdgeRejectsUnknownNode(t *testing.T) {
	g := NewGraph()
	g.EnsureNode("a", NodeTool)
	err := g.AddOrStrengthenEdge("a", "ghost", 1.0)
	require.Error(t, err)
}

func TestAddOrStrengthenEdgeAveragesWeight(t *testing.T) {
	g := NewGraph()
	g.EnsureNode("a", NodeTool)
	g.EnsureNode("b", NodeTool)
	require.NoError(t, g.AddOrStrengthenEdge("a", "b", 1.0))
	require.NoError(t, g.AddOrStrengthenEdge("a", "b", 0.0)) // clamped to epsilon

	g.mu.RLock()
	w := g.edges["a"]["b"].Weight
	g.mu.RUnlock()
	assert.Less(t, w, 1.0)
	assert.Greater(t, w, 0.0)
}

func TestDensityAndAdaptiveAlpha(t *testing.T) {
	g := NewGraph()
	assert.Equal(t, 0.0, g.Density())
	assert.Equal(t, 1.0, g.AdaptiveAlpha())

	g = buildChainGraph(t)
	alpha := g.AdaptiveAlpha()
	assert.GreaterOrEqual(t, alpha, 0.5)
	assert.LessOrEqual(t, alpha, 1.0)
}

func TestPageRankSumsToApproximatelyOne(t *testing.T) {
	g := buildChainGraph(t)
	ranks := g.PageRank()
	require.Len(t, ranks, 3)

	var sum float64
	for _, r := range ranks {
		sum += r
	}
	assert.InDelta(t, 1.0, sum, 0.05)
}

func TestPageRankRecomputesAfterCacheInvalidation(t *testing.T) {
	g := buildChainGraph(t)
	first := g.PageRank()

	g.EnsureNode("d", NodeTool)
	require.NoError(t, g.AddOrStrengthenEdge("c", "d", 0.9))
	g.invalidateCaches()

	second := g.PageRank()
	assert.NotEqual(t, len(first), len(second))
}

func TestShortestPathFindsChain(t *testing.T) {
	g := buildChainGraph(t)
	dist, path, found := g.ShortestPath("a", "c")
	require.True(t, found)
	assert.Equal(t, []string{"a", "b", "c"}, path)
	assert.Greater(t, dist, 0.0)
}

func TestShortestPathUnreachable(t *testing.T) {
	g := NewGraph()
	g.EnsureNode("a", NodeTool)
	g.EnsureNode("b", NodeTool)
	_, _, found := g.ShortestPath("a", "b")
	assert.False(t, found)
}

func TestShortestPathUnknownNode(t *testing.T) {
	g := buildChainGraph(t)
	_, _, found := g.ShortestPath("a", "ghost")
	assert.False(t, found)
}

func TestCommunitiesGroupsConnectedNodes(t *testing.T) {
	g := buildChainGraph(t)
	communities := g.Communities()
	require.Len(t, communities, 3)
	// a, b, c are all in one connected component so they should share a label.
	assert.Equal(t, communities["a"], communities["b"])
	assert.Equal(t, communities["b"], communities["c"])
}

func TestCommunitiesSeparatesDisconnectedComponents(t *testing.T) {
	g := NewGraph()
	g.EnsureNode("a", NodeTool)
	g.EnsureNode("b", NodeTool)
	g.EnsureNode("x", NodeTool)
	g.EnsureNode("y", NodeTool)
	require.NoError(t, g.AddOrStrengthenEdge("a", "b", 0.9))
	require.NoError(t, g.AddOrStrengthenEdge("x", "y", 0.9))

	communities := g.Communities()
	assert.NotEqual(t, communities["a"], communities["x"])
}

func TestAdamicAdarSharedNeighbor(t *testing.T) {
	g := NewGraph()
	g.EnsureNode("x", NodeTool)
	g.EnsureNode("y", NodeTool)
	g.EnsureNode("shared", NodeTool)
	require.NoError(t, g.AddOrStrengthenEdge("shared", "x", 0.9))
	require.NoError(t, g.AddOrStrengthenEdge("shared", "y", 0.9))

	score := g.AdamicAdar("x", []string{"y"})
	assert.Greater(t, score, 0.0)
}

func TestAddHyperedgeRejectsDuplicates(t *testing.T) {
	g := buildChainGraph(t)
	require.NoError(t, g.AddHyperedge("h1", []string{"a"}, []string{"b"}, 0.5))
	err := g.AddHyperedge("h2", []string{"a"}, []string{"b"}, 0.9)
	require.Error(t, err)
}

func TestAddHyperedgeRejectsEmptySets(t *testing.T) {
	g := buildChainGraph(t)
	err := g.AddHyperedge("h1", nil, []string{"b"}, 0.5)
	require.Error(t, err)
}

func TestUpdateStrengthensEdgesAndInvalidatesCache(t *testing.T) {
	g := NewGraph()
	g.PageRank() // populate cache with empty graph

	g.Update(ExecutionUpdate{NodeID: "task1", DependsOn: []string{"task0"}, SuccessRate: 0.8}, NodeCapability)

	ranks := g.PageRank()
	assert.Len(t, ranks, 2)
}
