package pathfinder

import (
	"testing"

	"github.com/pml-run/pml/hypergraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindShortestHyperpathSimpleChain(t *testing.T) {
	g := hypergraph.NewGraph()
	g.EnsureNode("a", hypergraph.NodeTool)
	g.EnsureNode("b", hypergraph.NodeTool)
	g.EnsureNode("c", hypergraph.NodeTool)
	require.NoError(t, g.AddHyperedge("e1", []string{"a"}, []string{"b"}, 0.5))
	require.NoError(t, g.AddHyperedge("e2", []string{"b"}, []string{"c"}, 0.5))

	result := FindShortestHyperpath(g, "a", "c")
	require.True(t, result.Found)
	assert.Equal(t, []string{"a", "b", "c"}, result.NodeSequence)
	assert.InDelta(t, 1.0, result.TotalWeight, 1e-9)
}

func TestFindShortestHyperpathUnreachable(t *testing.T) {
	g := hypergraph.NewGraph()
	g.EnsureNode("a", hypergraph.NodeTool)
	g.EnsureNode("b", hypergraph.NodeTool)

	result := FindShortestHyperpath(g, "a", "b")
	assert.False(t, result.Found)
}

func TestFindShortestHyperpathSameSourceTarget(t *testing.T) {
	g := hypergraph.NewGraph()
	g.EnsureNode("a", hypergraph.NodeTool)

	result := FindShortestHyperpath(g, "a", "a")
	require.True(t, result.Found)
	assert.Equal(t, []string{"a"}, result.NodeSequence)
}

func TestFindShortestHyperpathRequiresAllSources(t *testing.T) {
	g := hypergraph.NewGraph()
	g.EnsureNode("a", hypergraph.NodeTool)
	g.EnsureNode("b", hypergraph.NodeTool)
	g.EnsureNode("c", hypergraph.NodeTool)
	require.NoError(t, g.AddHyperedge("fan-in", []string{"a", "b"}, []string{"c"}, 0.2))

	// Only "a" is reachable from "a"; the fan-in edge needs "b" too.
	result := FindShortestHyperpath(g, "a", "c")
	assert.False(t, result.Found)
}

func TestFindShortestHyperpathUnknownNodes(t *testing.T) {
	g := hypergraph.NewGraph()
	g.EnsureNode("a", hypergraph.NodeTool)
	result := FindShortestHyperpath(g, "a", "ghost")
	assert.False(t, result.Found)
}

func TestToSequentialDAGTasks(t *testing.T) {
	deps := ToSequentialDAGTasks([]string{"t1", "t2", "t3"})
	assert.Empty(t, deps["t1"])
	assert.Equal(t, []string{"t1"}, deps["t2"])
	assert.Equal(t, []string{"t2"}, deps["t3"])
}
