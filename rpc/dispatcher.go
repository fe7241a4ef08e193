package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pml-run/pml/core"
	"github.com/pml-run/pml/decision"
	"github.com/pml-run/pml/discovery"
	"github.com/pml-run/pml/executor"
	"github.com/pml-run/pml/feedback"
	"github.com/pml-run/pml/threshold"
)

const maxExecuteCodeBytes = 100 * 1024

type workflowSession struct {
	queue   *executor.CommandQueue
	events  *broadcaster
	done    chan struct{}
	result  executor.WorkflowResult
	runErr  error
}

// Dispatcher routes JSON-RPC requests to the three envelope methods and the
// seven meta-tools, gluing Discovery, the Gateway Decision, and the
// Controlled DAG Executor together behind a stable wire surface.
type Dispatcher struct {
	runtime       *core.Runtime
	serverName    string
	serverVersion string

	discovery  *discovery.Service
	thresholds *threshold.Manager
	executor   *executor.Executor
	feedback   *feedback.Sink
	sandbox    Sandbox

	speculativeEnabled bool
	safetyPredicate    decision.SafetyPredicate

	mu        sync.Mutex
	workflows map[string]*workflowSession
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithSandbox(s Sandbox) Option            { return func(d *Dispatcher) { d.sandbox = s } }
func WithSpeculativeEnabled(b bool) Option    { return func(d *Dispatcher) { d.speculativeEnabled = b } }
func WithSafetyPredicate(p decision.SafetyPredicate) Option {
	return func(d *Dispatcher) { d.safetyPredicate = p }
}
func WithServerInfo(name, version string) Option {
	return func(d *Dispatcher) { d.serverName = name; d.serverVersion = version }
}

// NewDispatcher builds a Dispatcher. exec must already be constructed with
// the Runner that executes one resolved task against a backend tool server
// (typically backed by the session package's connection pool).
func NewDispatcher(
	rt *core.Runtime,
	disc *discovery.Service,
	thresholds *threshold.Manager,
	exec *executor.Executor,
	fb *feedback.Sink,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		runtime:       rt,
		serverName:    "pml-gateway",
		serverVersion: "0.1.0",
		discovery:     disc,
		thresholds:    thresholds,
		executor:      exec,
		feedback:      fb,
		workflows:     make(map[string]*workflowSession),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle dispatches one JSON-RPC request and always returns a Response
// (never an error) so the transport layer can serialize it directly.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	switch req.Method {
	case "initialize":
		return result(req.ID, initializeResult(d.serverName, d.serverVersion))
	case "tools/list":
		return result(req.ID, ToolsListResult{Tools: metaTools})
	case "tools/call":
		return d.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req Request) Response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params: "+err.Error(), nil)
	}

	var (
		out interface{}
		err error
	)
	switch params.Name {
	case "execute_dag":
		out, err = d.executeDAG(ctx, params.Arguments)
	case "discover":
		out, err = d.discover(ctx, params.Arguments)
	case "execute_code":
		out, err = d.executeCode(ctx, params.Arguments)
	case "continue":
		out, err = d.command(params.Arguments, executor.CommandContinue)
	case "abort":
		out, err = d.command(params.Arguments, executor.CommandAbort)
	case "replan":
		out, err = d.command(params.Arguments, executor.CommandReplanDAG)
	case "approval_response":
		out, err = d.command(params.Arguments, executor.CommandApprovalResponse)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "unknown tool: "+params.Name, nil)
	}
	if err != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: errorFromErr(params.Name, err)}
	}
	return result(req.ID, out)
}

// ---- discover ----

type discoverArgs struct {
	Intent         string  `json:"intent"`
	Filter         struct {
		Type     string  `json:"type"`
		MinScore float64 `json:"min_score"`
	} `json:"filter"`
	Limit          int  `json:"limit"`
	IncludeRelated bool `json:"include_related"`
}

func (d *Dispatcher) discover(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args discoverArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, invalidParams("discover", err)
	}
	if args.Intent == "" {
		return nil, invalidParams("discover", errMissingIntent)
	}
	filter := discovery.FilterAll
	switch args.Filter.Type {
	case string(discovery.FilterTool):
		filter = discovery.FilterTool
	case string(discovery.FilterCapability):
		filter = discovery.FilterCapability
	}
	return d.discovery.Discover(ctx, args.Intent, filter, args.Limit, args.Filter.MinScore)
}

// ---- execute_dag ----

type executeDAGArgs struct {
	Intent   string          `json:"intent"`
	Workflow []wireTask      `json:"workflow"`
	Config   struct {
		PerLayerValidation bool `json:"per_layer_validation"`
	} `json:"config"`
}

type wireTask struct {
	ID          string                          `json:"id"`
	ToolID      string                          `json:"tool_id"`
	DependsOn   []string                        `json:"depends_on"`
	Arguments   map[string]executor.ArgumentSpec `json:"arguments"`
	Legacy      map[string]interface{}          `json:"legacy_arguments"`
	SideEffects bool                            `json:"side_effects"`
	TimeoutMs   int64                           `json:"timeout_ms"`
}

type executeDAGResult struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
	Mode       string `json:"mode,omitempty"`
}

func (d *Dispatcher) executeDAG(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args executeDAGArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, invalidParams("execute_dag", err)
	}
	if args.Intent == "" && len(args.Workflow) == 0 {
		return nil, invalidParams("execute_dag", errMissingIntentOrWorkflow)
	}

	tasks := make([]executor.Task, 0, len(args.Workflow))
	for _, wt := range args.Workflow {
		tasks = append(tasks, executor.Task{
			ID: wt.ID, ToolID: wt.ToolID, DependsOn: wt.DependsOn, Arguments: wt.Arguments,
			Legacy: toValueMap(wt.Legacy), SideEffects: wt.SideEffects, TimeoutMs: wt.TimeoutMs,
		})
	}

	var mode decision.Mode
	if args.Intent != "" {
		disc, err := d.discovery.Discover(ctx, args.Intent, discovery.FilterAll, 0, 0)
		if err != nil {
			return nil, err
		}
		if len(tasks) == 0 {
			tasks = tasksFromDiscovery(disc)
		}

		contextHash := threshold.ContextHash(map[string]string{"intent": args.Intent}, []string{"intent"})
		th, err := d.thresholds.Load(contextHash)
		if err != nil {
			return nil, err
		}
		confidence := 0.0
		if len(disc.Candidates) > 0 {
			confidence = disc.Candidates[0].SemanticScore
		}
		decisionTasks := make([]decision.Task, 0, len(tasks))
		for _, t := range tasks {
			decisionTasks = append(decisionTasks, decision.Task{ToolID: t.ToolID})
		}
		dec := decision.Decide(decision.Input{
			Confidence: confidence,
			Thresholds: decision.Thresholds{ExplicitThreshold: th.ExplicitThreshold, SuggestionThreshold: th.SuggestionThreshold},
			Tasks:      decisionTasks, SpeculativeEnabled: d.speculativeEnabled, Predicate: d.safetyPredicate,
		})
		mode = dec.Mode
		if mode == decision.ModeExplicitRequired || mode == decision.ModeSuggestion {
			return executeDAGResult{WorkflowID: "", Status: string(mode), Mode: string(mode)}, nil
		}
	}

	workflowID := core.NewID()
	sess := &workflowSession{queue: executor.NewCommandQueue(16), events: newBroadcaster(512), done: make(chan struct{})}
	d.mu.Lock()
	d.workflows[workflowID] = sess
	d.mu.Unlock()

	go func() {
		res, err := d.executor.Run(context.Background(), executor.WorkflowRequest{
			WorkflowID: workflowID, Tasks: tasks, Sink: sess.events, Commands: sess.queue,
			PerLayerValidation: args.Config.PerLayerValidation,
		})
		sess.result, sess.runErr = res, err
		if d.feedback != nil {
			for taskID, tr := range res.TaskResults {
				d.feedback.Record(context.Background(), feedback.TaskOutcome{
					WorkflowID: workflowID, TaskID: taskID, ToolID: taskID,
					Success: tr.Status == executor.StatusCompleted, DurationMs: float64(tr.ExecutionTimeMs),
				})
			}
		}
		close(sess.done)
	}()

	return executeDAGResult{WorkflowID: workflowID, Status: "started", Mode: string(mode)}, nil
}

func tasksFromDiscovery(disc discovery.Result) []executor.Task {
	if len(disc.DAGDepends) == 0 {
		if len(disc.Candidates) == 0 {
			return nil
		}
		best := disc.Candidates[0]
		return []executor.Task{{ID: best.ID, ToolID: best.ID}}
	}
	tasks := make([]executor.Task, 0, len(disc.DAGDepends))
	for id, deps := range disc.DAGDepends {
		tasks = append(tasks, executor.Task{ID: id, ToolID: id, DependsOn: deps})
	}
	return tasks
}

func toValueMap(m map[string]interface{}) map[string]core.Value {
	if m == nil {
		return nil
	}
	out := make(map[string]core.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ---- execute_code ----

type executeCodeArgs struct {
	Code          string                 `json:"code"`
	Intent        string                 `json:"intent"`
	Context       map[string]interface{} `json:"context"`
	SandboxConfig SandboxConfig          `json:"sandbox_config"`
}

func (d *Dispatcher) executeCode(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args executeCodeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, invalidParams("execute_code", err)
	}
	if len(args.Code) > maxExecuteCodeBytes {
		return nil, invalidParams("execute_code", errCodeTooLarge)
	}
	if d.sandbox == nil {
		return nil, core.NewError("execute_code", core.KindInternal, errNoSandboxConfigured)
	}

	injected := map[string]interface{}{}
	if args.Intent != "" {
		disc, err := d.discovery.Discover(ctx, args.Intent, discovery.FilterAll, 10, 0)
		if err == nil {
			injected["candidates"] = disc.Candidates
		}
	}
	return d.sandbox.Run(ctx, args.Code, injected, args.SandboxConfig)
}

// ---- continue / abort / replan / approval_response ----

type commandArgs struct {
	WorkflowID       string                 `json:"workflow_id"`
	Reason           string                 `json:"reason"`
	NewRequirement   string                 `json:"new_requirement"`
	AvailableContext map[string]interface{} `json:"available_context"`
	CheckpointID     string                 `json:"checkpoint_id"`
	Approved         bool                   `json:"approved"`
	Feedback         string                 `json:"feedback"`
}

type commandResult struct {
	Accepted bool `json:"accepted"`
}

func (d *Dispatcher) command(raw json.RawMessage, typ executor.CommandType) (interface{}, error) {
	var args commandArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, invalidParams(string(typ), err)
	}
	if args.WorkflowID == "" {
		return nil, invalidParams(string(typ), errMissingWorkflowID)
	}

	d.mu.Lock()
	sess, ok := d.workflows[args.WorkflowID]
	d.mu.Unlock()
	if !ok {
		return nil, core.NewErrorWithID(string(typ), core.KindNotFound, args.WorkflowID, errWorkflowNotFound)
	}

	sess.queue.Push(executor.Command{
		Type: typ, Reason: args.Reason, NewRequirement: args.NewRequirement,
		AvailableContext: toValueMap(args.AvailableContext), CheckpointID: args.CheckpointID,
		Approved: args.Approved, Feedback: args.Feedback,
	})
	return commandResult{Accepted: true}, nil
}

func invalidParams(op string, err error) error {
	return core.NewError(op, core.KindInvalidParams, err)
}
