// Package decision implements the Gateway Decision: mapping a confidence
// score and a pair of per-context thresholds to one of three execution
// modes, with a safety predicate that can override the mapping outright.
package decision

import "strings"

// Mode is the outcome of a decision.
type Mode string

const (
	ModeExplicitRequired   Mode = "explicit_required"
	ModeSuggestion         Mode = "suggestion"
	ModeSpeculativeExecute Mode = "speculative_execution"
)

// Task is the minimal shape a DAG task needs to expose for the safety
// predicate to evaluate it.
type Task struct {
	ToolID string
	Verb   string
}

// SafetyPredicate reports whether a task is dangerous enough to force
// explicit_required regardless of confidence.
type SafetyPredicate func(Task) bool

// DefaultSafetyPredicate flags shell-exec style tools and a fixed set of
// destructive verbs. Callers needing domain-specific rules should supply
// their own SafetyPredicate instead of extending this one.
func DefaultSafetyPredicate(t Task) bool {
	verb := strings.ToLower(t.Verb)
	for _, destructive := range []string{"delete", "drop", "truncate", "shutdown", "format", "rm", "terminate"} {
		if strings.Contains(verb, destructive) {
			return true
		}
	}
	id := strings.ToLower(t.ToolID)
	return strings.Contains(id, "shell") || strings.Contains(id, "exec") || strings.Contains(id, "bash")
}

// Thresholds is the pair of confidence cutoffs a Decide call compares
// against; it mirrors threshold.Thresholds without importing that package,
// keeping decision usable standalone.
type Thresholds struct {
	ExplicitThreshold   float64
	SuggestionThreshold float64
}

// Input bundles everything Decide needs.
type Input struct {
	Confidence         float64
	Thresholds         Thresholds
	Tasks              []Task
	SpeculativeEnabled bool
	Predicate          SafetyPredicate
}

// Result is the decision outcome plus the reason it was reached, useful for
// logging and for the RPC layer's decision_required payload.
type Result struct {
	Mode   Mode
	Reason string
}

// Decide maps (confidence, thresholds, safety predicate) to a Mode.
func Decide(in Input) Result {
	predicate := in.Predicate
	if predicate == nil {
		predicate = DefaultSafetyPredicate
	}
	for _, task := range in.Tasks {
		if predicate(task) {
			return Result{Mode: ModeExplicitRequired, Reason: "safety_predicate_matched:" + task.ToolID}
		}
	}

	if in.Confidence < in.Thresholds.ExplicitThreshold {
		return Result{Mode: ModeExplicitRequired, Reason: "confidence_below_explicit_threshold"}
	}
	if in.Confidence < in.Thresholds.SuggestionThreshold {
		return Result{Mode: ModeSuggestion, Reason: "confidence_below_suggestion_threshold"}
	}
	if in.SpeculativeEnabled {
		return Result{Mode: ModeSpeculativeExecute, Reason: "confidence_cleared_suggestion_threshold"}
	}
	return Result{Mode: ModeSuggestion, Reason: "speculative_execution_disabled"}
}
