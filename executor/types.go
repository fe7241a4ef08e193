// Package executor implements the controlled DAG executor: layered parallel
// task execution with checkpointing, human-in-the-loop suspension, and a
// FIFO external command queue.
package executor

import (
	"context"
	"time"

	"github.com/pml-run/pml/core"
)

// ArgumentSpec is one resolvable argument value, tried in the order:
// Literal, Reference, Parameter. Task.Legacy values are resolved after the
// Arguments map, with $OUTPUT[task_id][.path] tokens substituted and all
// other values passed through.
type ArgumentSpec struct {
	Literal    *core.Value
	Reference  string // "nodeId[.path]" or "nodeId[index][.path]" or a `...${expr}...` template
	Parameter  string
	Parameters map[string]core.Value // pre-resolved by the caller, keyed by Parameter name
}

// Task is one node of the DAG submitted for execution.
type Task struct {
	ID          string
	ToolID      string
	DependsOn   []string
	Arguments   map[string]ArgumentSpec
	Legacy      map[string]core.Value // may contain "$OUTPUT[task_id][.path]" tokens
	SideEffects bool
	TimeoutMs   int64 // 0 means defaultTaskTimeoutMs
}

// TaskStatus is the terminal or in-flight state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusError     TaskStatus = "error"
	StatusSkipped   TaskStatus = "skipped"
)

// ErrorKind classifies a task failure for the event stream.
type ErrorKind string

const (
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindDependencyFailed ErrorKind = "dependency_failed"
	ErrorKindExecution        ErrorKind = "execution"
	ErrorKindCancelled        ErrorKind = "cancelled"
)

// TaskResult is the outcome of one task execution.
type TaskResult struct {
	TaskID          string
	Status          TaskStatus
	Output          core.Value
	Error           string
	ErrorKind       ErrorKind
	ExecutionTimeMs int64
}

// Runner executes a single task's tool call and returns its raw output.
// Implementations are supplied by the RPC/session layer; the executor only
// orchestrates layering, resolution, and lifecycle events around it.
type Runner interface {
	Run(ctx context.Context, task Task, resolvedArgs map[string]core.Value) (core.Value, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, task Task, resolvedArgs map[string]core.Value) (core.Value, error)

func (f RunnerFunc) Run(ctx context.Context, task Task, resolvedArgs map[string]core.Value) (core.Value, error) {
	return f(ctx, task, resolvedArgs)
}

// EventKind names the seven execution event types emitted over the stream.
type EventKind string

const (
	EventWorkflowStart    EventKind = "workflow_start"
	EventTaskStart        EventKind = "task_start"
	EventTaskComplete     EventKind = "task_complete"
	EventTaskError        EventKind = "task_error"
	EventDecisionRequired EventKind = "decision_required"
	EventCheckpoint       EventKind = "checkpoint"
	EventWorkflowComplete EventKind = "workflow_complete"
)

// Event is one item on the execution event stream.
type Event struct {
	Kind       EventKind
	WorkflowID string
	Payload    map[string]core.Value
	Timestamp  time.Time
}

// Sink receives emitted events in order; the RPC layer adapts this to its
// wire transport (SSE, websocket, stdio framing).
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// ApprovalPolicy decides whether a side-effecting task requires human
// approval before it runs.
type ApprovalPolicy func(Task) bool

// AlwaysApprove never requires approval; used when no HITL policy is configured.
func AlwaysApprove(Task) bool { return false }

// Checkpoint is the durable record written after each completed layer.
type Checkpoint struct {
	ID          string
	WorkflowID  string
	LayerIndex  int
	TaskResults map[string]TaskResult
	CreatedAt   time.Time
}

// CheckpointStore persists Checkpoints for resume_from_checkpoint.
type CheckpointStore interface {
	Save(cp Checkpoint) error
	Load(checkpointID string) (Checkpoint, bool, error)
	LatestForWorkflow(workflowID string) (Checkpoint, bool, error)
}

// CommandType names one of the four external commands accepted on the
// command queue.
type CommandType string

const (
	CommandContinue         CommandType = "continue"
	CommandAbort            CommandType = "abort"
	CommandReplanDAG        CommandType = "replan_dag"
	CommandApprovalResponse CommandType = "approval_response"
)

// Command is one FIFO-queued external instruction to a running workflow.
type Command struct {
	Type             CommandType
	Reason           string
	NewRequirement   string
	AvailableContext map[string]core.Value
	CheckpointID     string
	Approved         bool
	Feedback         string
	NewTasks         []Task // not read by the executor; replan_dag tasks come from the Replanner
}

// Replanner produces additional tasks for a replan_dag command. It is
// supplied with WithReplanner; this module ships no implementation besides
// the stubs in its tests.
type Replanner interface {
	Replan(ctx context.Context, newRequirement string, availableContext map[string]core.Value) ([]Task, error)
}
