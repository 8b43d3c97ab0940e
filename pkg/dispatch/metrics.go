package dispatch

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// TriggerMetrics summarises the dispatch attempts of one trigger.
type TriggerMetrics struct {
	TriggerID       string        `json:"trigger_id"`
	Total           int64         `json:"total"`
	Success         int64         `json:"success"`
	Failed          int64         `json:"failed"`
	TotalDuration   time.Duration `json:"total_duration_ns"`
	AverageDuration time.Duration `json:"average_duration_ns"`
	SuccessRate     float64       `json:"success_rate"`
	LastError       string        `json:"last_error,omitempty"`
	LastRunAt       *time.Time    `json:"last_run_at,omitempty"`
}

// MetricsRegistry accumulates per trigger counters in memory.
type MetricsRegistry struct {
	now func() time.Time

	mu       sync.Mutex
	counters map[string]*TriggerMetrics
}

func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		now:      time.Now,
		counters: make(map[string]*TriggerMetrics),
	}
}

// RecordSuccess counts one successful attempt.
func (m *MetricsRegistry) RecordSuccess(triggerID string, duration time.Duration) {
	m.record(triggerID, duration, nil)
}

// RecordFailure counts one failed attempt and keeps its error.
func (m *MetricsRegistry) RecordFailure(triggerID string, duration time.Duration, err error) {
	m.record(triggerID, duration, err)
}

func (m *MetricsRegistry) record(triggerID string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counter, ok := m.counters[triggerID]
	if !ok {
		counter = &TriggerMetrics{TriggerID: triggerID}
		m.counters[triggerID] = counter
	}

	now := m.now()
	counter.Total++
	counter.TotalDuration += duration
	counter.LastRunAt = &now

	if err != nil {
		counter.Failed++
		counter.LastError = err.Error()
	} else {
		counter.Success++
	}
}

// Snapshot returns a copy of the counters for triggerID. Unknown triggers
// report zero counts and a 100% success rate.
func (m *MetricsRegistry) Snapshot(triggerID string) TriggerMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	counter, ok := m.counters[triggerID]
	if !ok {
		return TriggerMetrics{TriggerID: triggerID, SuccessRate: 100}
	}

	return snapshot(counter)
}

// All returns every trigger's counters ordered by trigger id.
func (m *MetricsRegistry) All() []TriggerMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]TriggerMetrics, 0, len(m.counters))
	for _, counter := range m.counters {
		all = append(all, snapshot(counter))
	}

	slices.SortFunc(all, func(a, b TriggerMetrics) int {
		return strings.Compare(a.TriggerID, b.TriggerID)
	})

	return all
}

func snapshot(counter *TriggerMetrics) TriggerMetrics {
	out := *counter
	out.SuccessRate = 100

	if counter.Total > 0 {
		out.AverageDuration = counter.TotalDuration / time.Duration(counter.Total)
		out.SuccessRate = float64(counter.Success) / float64(counter.Total) * 100
	}

	if counter.LastRunAt != nil {
		at := *counter.LastRunAt
		out.LastRunAt = &at
	}

	return out
}
