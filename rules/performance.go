package rules

import (
	"maps"
	"sync"
	"time"
)

// PerformanceTracker keeps running statistics per rule. Means are updated
// from the previous mean and count rather than from raw sums.
type PerformanceTracker struct {
	mu      sync.Mutex
	metrics map[string]RulePerformanceMetrics
	now     func() time.Time
}

// NewPerformanceTracker creates an empty tracker
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{
		metrics: make(map[string]RulePerformanceMetrics),
		now:     time.Now,
	}
}

// Record folds one execution of ruleID into its statistics
func (t *PerformanceTracker) Record(ruleID string, success bool, elapsed time.Duration) {
	ms := float64(elapsed) / float64(time.Millisecond)
	outcome := 0.0
	if success {
		outcome = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.metrics[ruleID]
	m.ExecutionCount++
	n := float64(m.ExecutionCount)
	m.AverageExecutionTimeMs = (m.AverageExecutionTimeMs*(n-1) + ms) / n
	m.SuccessRate = (m.SuccessRate*(n-1) + outcome) / n
	m.LastExecutedAt = t.now()
	t.metrics[ruleID] = m
}

// Get returns the statistics of ruleID
func (t *PerformanceTracker) Get(ruleID string) (RulePerformanceMetrics, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.metrics[ruleID]
	return m, ok
}

// Snapshot copies the statistics of every rule seen so far
func (t *PerformanceTracker) Snapshot() map[string]RulePerformanceMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.metrics)
}
