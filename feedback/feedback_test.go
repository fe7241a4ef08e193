package feedback

import (
	"context"
	"testing"

	"github.com/pml-run/pml/capability"
	"github.com/pml-run/pml/hypergraph"
	"github.com/pml-run/pml/threshold"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStrengthensHypergraphEdge(t *testing.T) {
	graph := hypergraph.NewGraph()
	sink := NewSink(graph)

	sink.Record(context.Background(), TaskOutcome{
		WorkflowID: "wf1", TaskID: "t1", ToolID: "toolB",
		DependsOn: []string{"toolA"}, Success: true,
	})

	_, ok := graph.Node("toolA")
	assert.True(t, ok)
	_, ok = graph.Node("toolB")
	assert.True(t, ok)
	assert.Equal(t, 1, graph.EdgeCount())
}

func TestRecordIsIdempotentPerWorkflowAndTask(t *testing.T) {
	graph := hypergraph.NewGraph()
	sink := NewSink(graph)

	outcome := TaskOutcome{WorkflowID: "wf1", TaskID: "t1", ToolID: "toolB", DependsOn: []string{"toolA"}, Success: true}
	sink.Record(context.Background(), outcome)
	sink.Record(context.Background(), outcome)

	edges := graph.Neighbors("toolA")
	assert.Equal(t, []string{"toolB"}, edges)
	// A second identical Record must not double-strengthen the edge.
	// EdgeCount staying at 1 is necessary but not sufficient, so also check
	// toolA's degree, which AddOrStrengthenEdge raises on every application.
	assert.Equal(t, 1, graph.EdgeCount())
	nodeA, _ := graph.Node("toolA")
	assert.Equal(t, 1, nodeA.Degree)
}

func TestRecordUpdatesCapabilityUsageWhenIsCapability(t *testing.T) {
	ctx := context.Background()
	store := capability.NewMemoryStore(nil)
	cap, _, err := store.Save(ctx, "return 1", []float32{1, 0}, nil, nil)
	require.NoError(t, err)

	graph := hypergraph.NewGraph()
	sink := NewSink(graph, WithCapabilityStore(store))

	sink.Record(ctx, TaskOutcome{
		WorkflowID: "wf2", TaskID: "t1", ToolID: cap.ID,
		Success: true, DurationMs: 12, IsCapability: true, CodeHash: cap.CodeHash,
	})

	updated, err := store.FindByCodeHash(ctx, cap.CodeHash)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.UsageCount)
}

func TestRecordFeedsThresholdManager(t *testing.T) {
	graph := hypergraph.NewGraph()
	mgr := threshold.NewManager(threshold.NewMemoryStore())
	sink := NewSink(graph, WithThresholdManager(mgr))

	sink.Record(context.Background(), TaskOutcome{
		WorkflowID: "wf3", TaskID: "t1", ToolID: "toolA", Success: true,
		ThresholdRecord: threshold.ExecutionRecord{
			Confidence: 0.9, Mode: threshold.ModeSpeculative, Success: true, ContextHash: "ctxA",
		},
	})

	metrics := mgr.Metrics("ctxA")
	assert.Equal(t, 1, metrics.SampleCount)
}

func TestRecordSkipsCapabilityUpdateWhenNotCapability(t *testing.T) {
	graph := hypergraph.NewGraph()
	store := capability.NewMemoryStore(nil)
	sink := NewSink(graph, WithCapabilityStore(store))

	sink.Record(context.Background(), TaskOutcome{
		WorkflowID: "wf4", TaskID: "t1", ToolID: "toolA", Success: true, IsCapability: false,
	})
	// No panic, no stored capability lookups attempted; nothing to assert
	// beyond the call completing without touching the store.
}
