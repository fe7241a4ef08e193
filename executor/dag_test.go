package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLayeringOrdersByLongestPathToRoot(t *testing.T) {
	tasks := []Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "d", DependsOn: []string{"b", "c"}},
	}
	lay, err := buildLayering(tasks)
	require.NoError(t, err)
	require.Len(t, lay.layers, 3)
	assert.Equal(t, []string{"a"}, lay.layers[0])
	assert.Equal(t, []string{"b", "c"}, lay.layers[1])
	assert.Equal(t, []string{"d"}, lay.layers[2])
}

func TestBuildLayeringRejectsUnknownDependency(t *testing.T) {
	_, err := buildLayering([]Task{{ID: "a", DependsOn: []string{"ghost"}}})
	assert.Error(t, err)
}

func TestBuildLayeringRejectsCycle(t *testing.T) {
	_, err := buildLayering([]Task{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	})
	assert.Error(t, err)
}

func TestBuildLayeringRejectsDuplicateID(t *testing.T) {
	_, err := buildLayering([]Task{{ID: "a"}, {ID: "a"}})
	assert.Error(t, err)
}

func TestDescendantsTransitive(t *testing.T) {
	lay, err := buildLayering([]Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
		{ID: "d"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, lay.descendants("a"))
	assert.Empty(t, lay.descendants("d"))
}

func TestAppendTasksAsLayerAddsOneNewLayer(t *testing.T) {
	lay, err := buildLayering([]Task{{ID: "a"}})
	require.NoError(t, err)
	appendTasksAsLayer(lay, []Task{{ID: "b"}, {ID: "c"}})
	require.Len(t, lay.layers, 2)
	assert.Equal(t, []string{"b", "c"}, lay.layers[1])
}

func TestAppendTasksAsLayerSkipsExistingIDs(t *testing.T) {
	lay, err := buildLayering([]Task{{ID: "a"}})
	require.NoError(t, err)
	appendTasksAsLayer(lay, []Task{{ID: "a"}})
	assert.Len(t, lay.layers, 1)
}
