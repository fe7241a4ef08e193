// Package feedback implements the Feedback Sink: the single place a
// completed task's outcome fans out to the hypergraph, the capability
// store, and the adaptive threshold manager.
package feedback

import (
	"context"
	"sync"

	"github.com/pml-run/pml/capability"
	"github.com/pml-run/pml/core"
	"github.com/pml-run/pml/hypergraph"
	"github.com/pml-run/pml/scorer"
	"github.com/pml-run/pml/threshold"
)

// TaskOutcome is everything the sink needs to know about one completed task.
type TaskOutcome struct {
	WorkflowID      string
	TaskID          string
	ToolID          string
	DependsOn       []string
	Success         bool
	DurationMs      float64
	IsCapability    bool
	CapabilityCode  string // canonicalized code, used to look up CodeHash for UpdateUsage
	CodeHash        string
	ThresholdRecord threshold.ExecutionRecord
	IntentEmbedding []float32
	CandidateVector []float32
}

// Sink fans a TaskOutcome out to every interested subsystem. Updates are
// idempotent per (workflow_id, task_id): a duplicate call for an outcome
// already recorded is a no-op.
type Sink struct {
	graph       *hypergraph.Graph
	store       capability.Store
	thresholds  *threshold.Manager
	trainer     *scorer.Scorer
	enqueueTrain bool

	logger core.Logger

	mu      sync.Mutex
	applied map[string]bool
}

// Option configures a Sink.
type Option func(*Sink)

func WithCapabilityStore(s capability.Store) Option { return func(fs *Sink) { fs.store = s } }
func WithThresholdManager(m *threshold.Manager) Option {
	return func(fs *Sink) { fs.thresholds = m }
}
func WithTrainer(s *scorer.Scorer) Option { return func(fs *Sink) { fs.trainer = s; fs.enqueueTrain = true } }
func WithLogger(l core.Logger) Option     { return func(fs *Sink) { fs.logger = l } }

// NewSink builds a Sink writing hypergraph updates to graph.
func NewSink(graph *hypergraph.Graph, opts ...Option) *Sink {
	s := &Sink{graph: graph, logger: core.NoOpLogger{}, applied: make(map[string]bool)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func idempotencyKey(workflowID, taskID string) string { return workflowID + ":" + taskID }

// Record applies outcome to every wired subsystem, skipping any that are
// nil. It returns nothing: store and threshold errors are logged and
// swallowed, matching the rule that
// feedback bookkeeping must never affect the user-visible workflow outcome;
// the hypergraph update (an in-process map mutation) cannot itself fail.
func (s *Sink) Record(ctx context.Context, outcome TaskOutcome) {
	key := idempotencyKey(outcome.WorkflowID, outcome.TaskID)

	s.mu.Lock()
	if s.applied[key] {
		s.mu.Unlock()
		return
	}
	s.applied[key] = true
	s.mu.Unlock()

	if s.graph != nil {
		successRate := 0.0
		if outcome.Success {
			successRate = 1.0
		}
		s.graph.Update(hypergraph.ExecutionUpdate{
			NodeID:      outcome.ToolID,
			DependsOn:   outcome.DependsOn,
			SuccessRate: successRate,
		}, hypergraph.NodeTool)
	}

	codeHash := outcome.CodeHash
	if codeHash == "" && outcome.CapabilityCode != "" {
		codeHash = capability.CodeHash(outcome.CapabilityCode)
	}
	if outcome.IsCapability && s.store != nil && codeHash != "" {
		if err := s.store.UpdateUsage(ctx, codeHash, outcome.Success, outcome.DurationMs); err != nil {
			s.logger.Warn("feedback: capability update_usage failed", map[string]interface{}{
				"workflow_id": outcome.WorkflowID, "task_id": outcome.TaskID, "error": err.Error(),
			})
		}
	}

	if s.thresholds != nil && outcome.ThresholdRecord.ContextHash != "" {
		if err := s.thresholds.Record(outcome.ThresholdRecord); err != nil {
			s.logger.Warn("feedback: threshold record failed", map[string]interface{}{
				"workflow_id": outcome.WorkflowID, "task_id": outcome.TaskID, "error": err.Error(),
			})
		}
	}

	if s.enqueueTrain && s.trainer != nil && len(outcome.IntentEmbedding) > 0 && len(outcome.CandidateVector) > 0 {
		outcomeScore := 0.0
		if outcome.Success {
			outcomeScore = 1.0
		}
		s.trainer.TrainOnEpisodes([]scorer.Episode{{
			IntentEmbedding: outcome.IntentEmbedding,
			CandidateID:     outcome.ToolID,
			CandidateVector: outcome.CandidateVector,
			IsCapability:    outcome.IsCapability,
			Outcome:         outcomeScore,
		}}, 1, 0.01)
	}
}
