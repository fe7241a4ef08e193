// Package threshold implements the Adaptive Threshold Manager: a sliding
// window of execution outcomes, per-context thresholds, and the
// false-positive/false-negative driven adjustment rule.
package threshold

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pml-run/pml/core"
)

const (
	windowSize          = 50
	adjustEveryNRecords = 10
	adjustMinWindow     = 20
	recentWindow        = 20

	defaultExplicit   = 0.50
	defaultSuggestion = 0.70
	minThreshold      = 0.40
	maxThreshold      = 0.90
	learningRate      = 0.05

	fpRateTrigger = 0.20
	fnRateTrigger = 0.30
)

// Mode is the execution mode recorded for an outcome.
type Mode string

const (
	ModeSpeculative Mode = "speculative"
	ModeSuggestion  Mode = "suggestion"
	ModeExplicit    Mode = "explicit"
)

// ExecutionRecord is one append-only outcome observation.
type ExecutionRecord struct {
	Confidence      float64
	Mode            Mode
	Success         bool
	UserAccepted    *bool
	ExecutionTimeMs *float64
	ContextHash     string
	Timestamp       time.Time
}

// Thresholds is the pair the Gateway Decision compares confidence against.
type Thresholds struct {
	ContextHash        string
	ExplicitThreshold  float64
	SuggestionThreshold float64
	SuccessRate        *float64
	SampleCount        int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Store persists Thresholds keyed by context hash.
type Store interface {
	Load(contextHash string) (Thresholds, bool, error)
	Upsert(t Thresholds) error
}

// Metrics summarizes manager behavior for observability.
type Metrics struct {
	HitRate      float64
	NetBenefit   float64
	AvgConfidence float64
	SampleCount  int
}

type contextState struct {
	window  []ExecutionRecord
	current Thresholds
}

// Manager is the Adaptive Threshold Manager.
type Manager struct {
	mu     sync.Mutex
	store  Store
	clock  core.Clock
	logger core.Logger

	byContext map[string]*contextState

	recordsSinceAdjust map[string]int
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l core.Logger) Option { return func(m *Manager) { m.logger = l } }
func WithClock(c core.Clock) Option   { return func(m *Manager) { m.clock = c } }

// NewManager builds a Manager backed by store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:              store,
		clock:              core.RealClock{},
		logger:             core.NoOpLogger{},
		byContext:          make(map[string]*contextState),
		recordsSinceAdjust: make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ContextHash computes "k1:v1|k2:v2|..." over keys sorted lexically, using
// "default" for any key missing from context.
func ContextHash(context map[string]string, keys []string) string {
	sorted := append([]string{}, keys...)
	sort.Strings(sorted)
	parts := make([]string, 0, len(sorted))
	for _, k := range sorted {
		v, ok := context[k]
		if !ok || v == "" {
			v = "default"
		}
		parts = append(parts, k+":"+v)
	}
	return strings.Join(parts, "|")
}

func defaultThresholds(contextHash string, now time.Time) Thresholds {
	return Thresholds{
		ContextHash:         contextHash,
		ExplicitThreshold:   defaultExplicit,
		SuggestionThreshold: defaultSuggestion,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Load returns the cached or store-loaded thresholds for contextHash,
// falling back to documented defaults when neither has a row.
func (m *Manager) Load(contextHash string) (Thresholds, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(contextHash)
}

func (m *Manager) loadLocked(contextHash string) (Thresholds, error) {
	if st, ok := m.byContext[contextHash]; ok {
		return st.current, nil
	}

	now := m.clock.Now()
	t, found, err := m.store.Load(contextHash)
	if err != nil {
		return Thresholds{}, core.NewError("threshold.Manager.Load", core.KindStorage, err)
	}
	if !found {
		t = defaultThresholds(contextHash, now)
	}
	m.byContext[contextHash] = &contextState{current: t}
	return t, nil
}

// Record appends an execution record to its context's sliding window (FIFO
// eviction at windowSize) and triggers an adjustment pass periodically.
func (m *Manager) Record(rec ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.loadLocked(rec.ContextHash); err != nil {
		return err
	}
	st := m.byContext[rec.ContextHash]

	st.window = append(st.window, rec)
	if len(st.window) > windowSize {
		st.window = st.window[len(st.window)-windowSize:]
	}

	m.recordsSinceAdjust[rec.ContextHash]++
	if m.recordsSinceAdjust[rec.ContextHash] >= adjustEveryNRecords && len(st.window) >= adjustMinWindow {
		m.recordsSinceAdjust[rec.ContextHash] = 0
		return m.adjustLocked(rec.ContextHash)
	}
	return nil
}

func (m *Manager) adjustLocked(contextHash string) error {
	st := m.byContext[contextHash]
	window := st.window
	recent := window
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}

	var speculativeTotal, failedSpeculative int
	var suggestionTotal, acceptedNearThreshold int

	for _, r := range recent {
		switch r.Mode {
		case ModeSpeculative:
			speculativeTotal++
			if !r.Success {
				failedSpeculative++
			}
		case ModeSuggestion:
			suggestionTotal++
			if r.UserAccepted != nil && *r.UserAccepted && r.Confidence >= st.current.SuggestionThreshold-0.1 {
				acceptedNearThreshold++
			}
		}
	}

	var fpRate, fnRate float64
	if speculativeTotal > 0 {
		fpRate = float64(failedSpeculative) / float64(speculativeTotal)
	}
	if suggestionTotal > 0 {
		fnRate = float64(acceptedNearThreshold) / float64(suggestionTotal)
	}

	current := st.current.SuggestionThreshold
	changed := false
	if fpRate > fpRateTrigger {
		next := current + learningRate*fpRate
		if next > maxThreshold {
			next = maxThreshold
		}
		if next != current {
			current = next
			changed = true
		}
	} else if fnRate > fnRateTrigger {
		next := current - learningRate*fnRate
		if next < minThreshold {
			next = minThreshold
		}
		if next != current {
			current = next
			changed = true
		}
	}

	if !changed {
		return nil
	}

	st.current.SuggestionThreshold = current
	st.current.SampleCount = len(window)
	st.current.UpdatedAt = m.clock.Now()

	if err := m.store.Upsert(st.current); err != nil {
		return core.NewError("threshold.Manager.adjust", core.KindStorage, err)
	}
	return nil
}

// Metrics summarizes hit rate, net benefit, and average confidence over the
// context's current window.
func (m *Manager) Metrics(contextHash string) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.byContext[contextHash]
	if !ok || len(st.window) == 0 {
		return Metrics{}
	}

	var hits int
	var totalConfidence float64
	var savedLatency, wastedCompute float64
	for _, r := range st.window {
		totalConfidence += r.Confidence
		if r.Success {
			hits++
		}
		if r.ExecutionTimeMs == nil {
			continue
		}
		switch r.Mode {
		case ModeSpeculative:
			if r.Success {
				savedLatency += *r.ExecutionTimeMs
			} else {
				wastedCompute += *r.ExecutionTimeMs
			}
		}
	}

	n := float64(len(st.window))
	return Metrics{
		HitRate:       float64(hits) / n,
		NetBenefit:    savedLatency - wastedCompute,
		AvgConfidence: totalConfidence / n,
		SampleCount:   len(st.window),
	}
}
