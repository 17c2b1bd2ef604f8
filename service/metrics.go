package service

import (
	"sync"
)

// RunOutcome is the terminal report of one stream loop invocation.
type RunOutcome struct {
	Success      bool
	Attempts     int
	InputTokens  int
	OutputTokens int
	Error        string
}

// MetricsSink receives per-part tracking and exactly one terminal report per
// orchestrator invocation. The core treats it as an opaque collaborator.
// A single conversation uses one sink sequentially; distinct conversations
// may use distinct sinks concurrently.
type MetricsSink interface {
	Track(category string)
	Report(outcome RunOutcome)
}

// RunMetrics is the default sink: it accumulates category counters and logs
// the terminal outcome.
type RunMetrics struct {
	Label string

	mu       sync.Mutex
	counts   map[string]int
	outcome  RunOutcome
	reported bool
}

func NewRunMetrics(label string) *RunMetrics {
	return &RunMetrics{Label: label, counts: make(map[string]int)}
}

func (m *RunMetrics) Track(category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[category]++
}

func (m *RunMetrics) Report(outcome RunOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reported {
		// One report per invocation; drop duplicates loudly
		Warnf("metrics[%s]: duplicate report dropped", m.Label)
		return
	}
	m.reported = true
	m.outcome = outcome
	if outcome.Success {
		Debugf("metrics[%s]: success after %d attempt(s), tokens in=%d out=%d, parts=%v",
			m.Label, outcome.Attempts, outcome.InputTokens, outcome.OutputTokens, m.counts)
	} else {
		Debugf("metrics[%s]: failed after %d attempt(s): %s, parts=%v",
			m.Label, outcome.Attempts, outcome.Error, m.counts)
	}
}

// Count returns the tracked counter for a category.
func (m *RunMetrics) Count(category string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[category]
}

// Outcome returns the reported outcome and whether a report has landed.
func (m *RunMetrics) Outcome() (RunOutcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcome, m.reported
}
