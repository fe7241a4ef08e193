package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var th = Thresholds{ExplicitThreshold: 0.50, SuggestionThreshold: 0.70}

func TestDecideExplicitRequiredBelowExplicitThreshold(t *testing.T) {
	r := Decide(Input{Confidence: 0.3, Thresholds: th})
	assert.Equal(t, ModeExplicitRequired, r.Mode)
}

func TestDecideSuggestionBetweenThresholds(t *testing.T) {
	r := Decide(Input{Confidence: 0.6, Thresholds: th})
	assert.Equal(t, ModeSuggestion, r.Mode)
}

func TestDecideSpeculativeWhenEnabledAndAboveSuggestionThreshold(t *testing.T) {
	r := Decide(Input{Confidence: 0.78, Thresholds: th, SpeculativeEnabled: true})
	assert.Equal(t, ModeSpeculativeExecute, r.Mode)
}

func TestDecideFallsBackToSuggestionWhenSpeculativeDisabled(t *testing.T) {
	r := Decide(Input{Confidence: 0.9, Thresholds: th, SpeculativeEnabled: false})
	assert.Equal(t, ModeSuggestion, r.Mode)
}

func TestDecideSafetyPredicateOverridesHighConfidence(t *testing.T) {
	r := Decide(Input{
		Confidence:         0.95,
		Thresholds:         th,
		SpeculativeEnabled: true,
		Tasks:              []Task{{ToolID: "fs.delete_file", Verb: "delete"}},
	})
	assert.Equal(t, ModeExplicitRequired, r.Mode)
	assert.Contains(t, r.Reason, "safety_predicate_matched")
}

func TestDefaultSafetyPredicateMatchesShellExec(t *testing.T) {
	assert.True(t, DefaultSafetyPredicate(Task{ToolID: "mcp__sys__shell_exec", Verb: "run"}))
	assert.False(t, DefaultSafetyPredicate(Task{ToolID: "mcp__weather__lookup", Verb: "get"}))
}

func TestDecideCustomPredicateOverridesDefault(t *testing.T) {
	always := func(Task) bool { return true }
	r := Decide(Input{
		Confidence: 0.95,
		Thresholds: th,
		Tasks:      []Task{{ToolID: "harmless.lookup"}},
		Predicate:  always,
	})
	assert.Equal(t, ModeExplicitRequired, r.Mode)
}
