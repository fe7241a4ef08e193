package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pml-run/pml/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func echoRunner() RunnerFunc {
	return func(ctx context.Context, task Task, args map[string]core.Value) (core.Value, error) {
		return map[string]core.Value{"task_id": task.ID}, nil
	}
}

func TestRunExecutesLinearChainInOrder(t *testing.T) {
	tasks := []Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}
	exec := NewExecutor(echoRunner())
	rec := &eventRecorder{}

	result, err := exec.Run(context.Background(), WorkflowRequest{WorkflowID: "wf1", Tasks: tasks, Sink: rec})
	require.NoError(t, err)
	assert.Equal(t, 3, result.SuccessfulTasks)
	assert.Equal(t, 0, result.FailedTasks)
	assert.False(t, result.Aborted)

	kinds := rec.kinds()
	assert.Equal(t, EventWorkflowStart, kinds[0])
	assert.Equal(t, EventWorkflowComplete, kinds[len(kinds)-1])
}

func TestRunSkipsDescendantsOfFailedTask(t *testing.T) {
	failing := RunnerFunc(func(ctx context.Context, task Task, args map[string]core.Value) (core.Value, error) {
		if task.ID == "a" {
			return nil, fmt.Errorf("boom")
		}
		return "ok", nil
	})
	tasks := []Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c"},
	}
	exec := NewExecutor(failing)
	result, err := exec.Run(context.Background(), WorkflowRequest{WorkflowID: "wf2", Tasks: tasks})
	require.NoError(t, err)

	assert.Equal(t, StatusError, result.TaskResults["a"].Status)
	assert.Equal(t, StatusSkipped, result.TaskResults["b"].Status)
	assert.Equal(t, ErrorKindDependencyFailed, result.TaskResults["b"].ErrorKind)
	assert.Equal(t, StatusCompleted, result.TaskResults["c"].Status)
	assert.Equal(t, 1, result.FailedTasks)
}

func TestRunReportsTimeoutErrorKind(t *testing.T) {
	slow := RunnerFunc(func(ctx context.Context, task Task, args map[string]core.Value) (core.Value, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return "too slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	tasks := []Task{{ID: "a", TimeoutMs: 10}}
	exec := NewExecutor(slow)
	result, err := exec.Run(context.Background(), WorkflowRequest{WorkflowID: "wf3", Tasks: tasks})
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.TaskResults["a"].Status)
	assert.Equal(t, ErrorKindTimeout, result.TaskResults["a"].ErrorKind)
}

func TestRunSuspendsForApprovalAndProceedsWhenApproved(t *testing.T) {
	tasks := []Task{{ID: "a", SideEffects: true}}
	cmds := NewCommandQueue(4)
	exec := NewExecutor(echoRunner(), WithApprovalPolicy(func(Task) bool { return true }))

	go func() {
		time.Sleep(10 * time.Millisecond)
		cmds.Push(Command{Type: CommandApprovalResponse, Approved: true})
	}()

	result, err := exec.Run(context.Background(), WorkflowRequest{WorkflowID: "wf4", Tasks: tasks, Commands: cmds})
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.Equal(t, StatusCompleted, result.TaskResults["a"].Status)
}

func TestRunAbortsWhenApprovalRejected(t *testing.T) {
	tasks := []Task{{ID: "a", SideEffects: true}}
	cmds := NewCommandQueue(4)
	exec := NewExecutor(echoRunner(), WithApprovalPolicy(func(Task) bool { return true }))

	go func() {
		time.Sleep(10 * time.Millisecond)
		cmds.Push(Command{Type: CommandApprovalResponse, Approved: false, Feedback: "no"})
	}()

	result, err := exec.Run(context.Background(), WorkflowRequest{WorkflowID: "wf5", Tasks: tasks, Commands: cmds})
	require.NoError(t, err)
	assert.True(t, result.Aborted)
	assert.Equal(t, "no", result.AbortReason)
	_, ran := result.TaskResults["a"]
	assert.False(t, ran)
}

func TestRunAbortsQueuedCommandStopsSubsequentLayers(t *testing.T) {
	tasks := []Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}
	cmds := NewCommandQueue(4)
	cmds.Push(Command{Type: CommandAbort, Reason: "user_cancel"})

	exec := NewExecutor(echoRunner())
	result, err := exec.Run(context.Background(), WorkflowRequest{WorkflowID: "wf6", Tasks: tasks, Commands: cmds})
	require.NoError(t, err)
	assert.True(t, result.Aborted)
	assert.Equal(t, "user_cancel", result.AbortReason)
	_, ranB := result.TaskResults["b"]
	assert.False(t, ranB)
}

func TestRunPausesForPerLayerValidation(t *testing.T) {
	tasks := []Task{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}}
	cmds := NewCommandQueue(4)
	exec := NewExecutor(echoRunner())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cmds.Push(Command{Type: CommandContinue})
		cmds.Push(Command{Type: CommandContinue})
	}()

	result, err := exec.Run(context.Background(), WorkflowRequest{
		WorkflowID: "wf7", Tasks: tasks, Commands: cmds, PerLayerValidation: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessfulTasks)
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	store := NewMemoryCheckpointStore()
	tasks := []Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}
	cmds := NewCommandQueue(4)
	// Pushed synchronously from inside task "a"'s execution, so it is
	// guaranteed to be queued before the layer-1 drain runs.
	runner := RunnerFunc(func(ctx context.Context, task Task, args map[string]core.Value) (core.Value, error) {
		if task.ID == "a" {
			cmds.Push(Command{Type: CommandAbort, Reason: "stop_after_first_layer"})
		}
		return map[string]core.Value{"task_id": task.ID}, nil
	})

	exec := NewExecutor(runner, WithCheckpointStore(store))
	firstResult, err := exec.Run(context.Background(), WorkflowRequest{WorkflowID: "wf8", Tasks: tasks, Commands: cmds})
	require.NoError(t, err)
	assert.True(t, firstResult.Aborted)
	_, hasB := firstResult.TaskResults["b"]
	assert.False(t, hasB)

	cp, found, err := store.LatestForWorkflow("wf8")
	require.NoError(t, err)
	require.True(t, found)

	exec2 := NewExecutor(echoRunner(), WithCheckpointStore(store))
	resumed, err := exec2.Run(context.Background(), WorkflowRequest{
		WorkflowID: "wf8", Tasks: tasks, ResumeCheckpointID: cp.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.TaskResults["a"].Status)
	assert.Equal(t, StatusCompleted, resumed.TaskResults["b"].Status)
}

type stubReplanner struct{ tasks []Task }

func (s stubReplanner) Replan(ctx context.Context, requirement string, avail map[string]core.Value) ([]Task, error) {
	return s.tasks, nil
}

func TestRunAppliesReplanAsNewLayer(t *testing.T) {
	tasks := []Task{{ID: "a"}}
	cmds := NewCommandQueue(4)
	cmds.Push(Command{Type: CommandReplanDAG, NewRequirement: "also do d"})

	exec := NewExecutor(echoRunner(), WithReplanner(stubReplanner{tasks: []Task{{ID: "d"}}}))
	result, err := exec.Run(context.Background(), WorkflowRequest{WorkflowID: "wf9", Tasks: tasks, Commands: cmds})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.TaskResults["a"].Status)
	assert.Equal(t, StatusCompleted, result.TaskResults["d"].Status)
}
