package runtime

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of Monitor, safe to marshal.
type Stats struct {
	TotalExecutions     int64         `json:"total_executions"`
	TotalActionsEmitted int64         `json:"total_actions_emitted"`
	TotalRuleErrors     int64         `json:"total_rule_errors"`
	TotalShortCircuits  int64         `json:"total_short_circuits"`
	LastExecutionTime   time.Time     `json:"last_execution_time"`
	LastDuration        time.Duration `json:"last_duration_ns"`
}

// Monitor accumulates counters across repeated Engine.Execute calls. Engine
// itself carries no mutable state (spec §5), so a host that wants running
// totals — the dashboard, an operator's /health probe — records each
// ExecutionResult into a Monitor of its own after the call returns.
type Monitor struct {
	mu    sync.Mutex
	stats Stats
}

// NewMonitor returns an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Record folds one ExecutionResult's counters into the running totals.
func (m *Monitor) Record(res ExecutionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalExecutions++
	m.stats.TotalActionsEmitted += int64(len(res.Actions))
	m.stats.TotalRuleErrors += int64(len(res.Metadata.RuleErrors))
	if res.Metadata.ShortCircuited {
		m.stats.TotalShortCircuits++
	}
	m.stats.LastExecutionTime = time.Now()
	m.stats.LastDuration = res.Metadata.TotalDuration
}

// Snapshot returns a copy of the current totals.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
