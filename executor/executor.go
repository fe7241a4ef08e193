package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pml-run/pml/core"
)

const (
	defaultTaskTimeoutMs = 30000
	defaultConcurrency   = 16
)

// Executor is the controlled DAG executor: layered parallel task execution
// with checkpointing, HITL suspension, and a FIFO command queue.
type Executor struct {
	runner               Runner
	checkpoints          CheckpointStore
	approvalPolicy       ApprovalPolicy
	replanner            Replanner
	logger               core.Logger
	clock                core.Clock
	concurrency          int
	defaultTaskTimeoutMs int64
}

// Option configures an Executor.
type Option func(*Executor)

func WithCheckpointStore(s CheckpointStore) Option { return func(e *Executor) { e.checkpoints = s } }
func WithApprovalPolicy(p ApprovalPolicy) Option   { return func(e *Executor) { e.approvalPolicy = p } }
func WithReplanner(r Replanner) Option             { return func(e *Executor) { e.replanner = r } }
func WithLogger(l core.Logger) Option              { return func(e *Executor) { e.logger = l } }
func WithClock(c core.Clock) Option                { return func(e *Executor) { e.clock = c } }
func WithConcurrency(n int) Option                 { return func(e *Executor) { e.concurrency = n } }
func WithDefaultTaskTimeoutMs(ms int64) Option     { return func(e *Executor) { e.defaultTaskTimeoutMs = ms } }

// NewExecutor builds an Executor that dispatches task execution to runner.
func NewExecutor(runner Runner, opts ...Option) *Executor {
	e := &Executor{
		runner:               runner,
		checkpoints:          NewMemoryCheckpointStore(),
		approvalPolicy:       AlwaysApprove,
		logger:               core.NoOpLogger{},
		clock:                core.RealClock{},
		concurrency:          defaultConcurrency,
		defaultTaskTimeoutMs: defaultTaskTimeoutMs,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WorkflowRequest is the input to Run.
type WorkflowRequest struct {
	WorkflowID          string
	Tasks               []Task
	Sink                Sink
	Commands            *CommandQueue
	PerLayerValidation  bool
	ResumeCheckpointID  string
}

// WorkflowResult is the terminal outcome of a Run call.
type WorkflowResult struct {
	WorkflowID      string
	TotalTimeMs     int64
	SuccessfulTasks int
	FailedTasks     int
	TaskResults     map[string]TaskResult
	Aborted         bool
	AbortReason     string
}

// Run executes req's DAG to completion, resuming from a checkpoint if
// ResumeCheckpointID is set.
func (e *Executor) Run(ctx context.Context, req WorkflowRequest) (WorkflowResult, error) {
	start := e.clock.Now()

	lay, err := buildLayering(req.Tasks)
	if err != nil {
		return WorkflowResult{}, core.NewErrorWithID("executor.Run", core.KindInvalidParams, req.WorkflowID, err)
	}

	sink := req.Sink
	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}
	cmds := req.Commands
	if cmds == nil {
		cmds = NewCommandQueue(16)
	}

	results := make(map[string]TaskResult)
	startLayer := 0
	if req.ResumeCheckpointID != "" {
		cp, found, err := e.checkpoints.Load(req.ResumeCheckpointID)
		if err != nil {
			return WorkflowResult{}, core.NewErrorWithID("executor.Run.resume", core.KindStorage, req.WorkflowID, err)
		}
		if found {
			for id, r := range cp.TaskResults {
				results[id] = r
			}
			startLayer = cp.LayerIndex + 1
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.emit(sink, req.WorkflowID, EventWorkflowStart, map[string]core.Value{
		"total_layers": len(lay.layers),
	})

	aborted := false
	abortReason := ""

	var mu sync.Mutex

layerLoop:
	for layerIdx := startLayer; layerIdx < len(lay.layers); layerIdx++ {
		for _, cmd := range cmds.drainNonBlocking() {
			switch cmd.Type {
			case CommandAbort:
				aborted, abortReason = true, cmd.Reason
			case CommandReplanDAG:
				e.applyReplan(runCtx, lay, cmd)
			}
		}
		if aborted {
			break layerLoop
		}

		ids := lay.layers[layerIdx]
		mu.Lock()
		var pending []string
		for _, id := range ids {
			if _, done := results[id]; !done {
				pending = append(pending, id)
			}
		}
		mu.Unlock()

		var immediate, gated []string
		for _, id := range pending {
			t := lay.byID[id]
			if t.SideEffects && e.approvalPolicy(t) {
				gated = append(gated, id)
			} else {
				immediate = append(immediate, id)
			}
		}

		e.runTasksConcurrently(runCtx, lay, immediate, results, &mu, sink, req.WorkflowID)

		for _, id := range gated {
			checkpointID := core.NewID()
			e.emit(sink, req.WorkflowID, EventDecisionRequired, map[string]core.Value{
				"checkpoint_id": checkpointID,
				"task_id":       id,
				"description":   fmt.Sprintf("task %s has side effects and requires approval", id),
			})
			cmd, ok := cmds.waitFor(runCtx, CommandApprovalResponse)
			if !ok {
				aborted, abortReason = true, "context_cancelled"
				break
			}
			if cmd.Type == CommandAbort {
				aborted, abortReason = true, cmd.Reason
				break
			}
			if !cmd.Approved {
				reason := cmd.Feedback
				if reason == "" {
					reason = "approval_rejected"
				}
				aborted, abortReason = true, reason
				break
			}
			e.runTasksConcurrently(runCtx, lay, []string{id}, results, &mu, sink, req.WorkflowID)
		}
		if aborted {
			break layerLoop
		}

		mu.Lock()
		for _, id := range ids {
			if r, ok := results[id]; ok && r.Status == StatusError {
				for _, desc := range lay.descendants(id) {
					if _, done := results[desc]; !done {
						results[desc] = TaskResult{TaskID: desc, Status: StatusSkipped, ErrorKind: ErrorKindDependencyFailed, Error: "dependency_failed"}
					}
				}
			}
		}
		snapshot := make(map[string]TaskResult, len(results))
		for k, v := range results {
			snapshot[k] = v
		}
		mu.Unlock()

		checkpointID := core.NewID()
		cp := Checkpoint{ID: checkpointID, WorkflowID: req.WorkflowID, LayerIndex: layerIdx, TaskResults: snapshot, CreatedAt: e.clock.Now()}
		if err := e.checkpoints.Save(cp); err != nil {
			e.logger.Warn("checkpoint save failed", map[string]interface{}{"workflow_id": req.WorkflowID, "layer_index": layerIdx, "error": err.Error()})
		}
		e.emit(sink, req.WorkflowID, EventCheckpoint, map[string]core.Value{
			"checkpoint_id": checkpointID,
			"layer_index":   layerIdx,
		})

		if req.PerLayerValidation {
			_, ok := cmds.waitFor(runCtx, CommandContinue)
			if !ok {
				aborted, abortReason = true, "context_cancelled"
				break layerLoop
			}
		}
	}

	mu.Lock()
	successful, failed := 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusCompleted:
			successful++
		case StatusError:
			failed++
		}
	}
	finalResults := make(map[string]TaskResult, len(results))
	for k, v := range results {
		finalResults[k] = v
	}
	mu.Unlock()

	totalMs := e.clock.Now().Sub(start).Milliseconds()
	e.emit(sink, req.WorkflowID, EventWorkflowComplete, map[string]core.Value{
		"total_time_ms":    totalMs,
		"successful_tasks": successful,
		"failed_tasks":     failed,
		"aborted":          aborted,
	})

	return WorkflowResult{
		WorkflowID:      req.WorkflowID,
		TotalTimeMs:     totalMs,
		SuccessfulTasks: successful,
		FailedTasks:     failed,
		TaskResults:     finalResults,
		Aborted:         aborted,
		AbortReason:     abortReason,
	}, nil
}

func (e *Executor) applyReplan(ctx context.Context, lay *layering, cmd Command) {
	if e.replanner == nil {
		e.logger.Warn("replan_dag received with no configured replanner", nil)
		return
	}
	newTasks, err := e.replanner.Replan(ctx, cmd.NewRequirement, cmd.AvailableContext)
	if err != nil {
		e.logger.Warn("replan failed", map[string]interface{}{"error": err.Error()})
		return
	}
	appendTasksAsLayer(lay, newTasks)
}

func (e *Executor) runTasksConcurrently(ctx context.Context, lay *layering, ids []string, results map[string]TaskResult, mu *sync.Mutex, sink Sink, workflowID string) {
	if len(ids) == 0 {
		return
	}
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for _, id := range ids {
		task := lay.byID[id]
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			e.runOneTask(ctx, t, results, mu, sink, workflowID)
		}(task)
	}
	wg.Wait()
}

func (e *Executor) runOneTask(ctx context.Context, t Task, results map[string]TaskResult, mu *sync.Mutex, sink Sink, workflowID string) {
	defer func() {
		if r := recover(); r != nil {
			mu.Lock()
			results[t.ID] = TaskResult{TaskID: t.ID, Status: StatusError, Error: fmt.Sprintf("panic: %v", r), ErrorKind: ErrorKindExecution}
			mu.Unlock()
			e.emit(sink, workflowID, EventTaskError, map[string]core.Value{"task_id": t.ID, "error": fmt.Sprintf("panic: %v", r)})
		}
	}()

	mu.Lock()
	args := resolveArguments(t, results)
	mu.Unlock()

	e.emit(sink, workflowID, EventTaskStart, map[string]core.Value{"task_id": t.ID})

	timeoutMs := t.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = e.defaultTaskTimeoutMs
	}
	taskCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	taskStart := e.clock.Now()
	output, err := e.runner.Run(taskCtx, t, args)
	elapsed := e.clock.Now().Sub(taskStart).Milliseconds()

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		kind := ErrorKindExecution
		switch {
		case taskCtx.Err() == context.DeadlineExceeded:
			kind = ErrorKindTimeout
		case ctx.Err() == context.Canceled:
			kind = ErrorKindCancelled
		}
		results[t.ID] = TaskResult{TaskID: t.ID, Status: StatusError, Error: err.Error(), ErrorKind: kind, ExecutionTimeMs: elapsed}
		e.emit(sink, workflowID, EventTaskError, map[string]core.Value{"task_id": t.ID, "error": err.Error(), "error_kind": string(kind)})
		return
	}

	results[t.ID] = TaskResult{TaskID: t.ID, Status: StatusCompleted, Output: output, ExecutionTimeMs: elapsed}
	e.emit(sink, workflowID, EventTaskComplete, map[string]core.Value{"task_id": t.ID, "execution_time_ms": elapsed})
}

func (e *Executor) emit(sink Sink, workflowID string, kind EventKind, payload map[string]core.Value) {
	sink.Emit(Event{Kind: kind, WorkflowID: workflowID, Payload: payload, Timestamp: e.clock.Now()})
}
