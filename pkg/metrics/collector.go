package metrics

import (
	"sync"
	"time"
)

// Collector tracks counters for the completion pipeline
type Collector struct {
	mu sync.RWMutex

	// Admission metrics
	Requests int64
	Admitted int64
	Rejected int64

	// Outcome metrics
	Succeeded           int64
	Degraded            int64
	ContextTooLarge     int64
	MemoryWriteFailures int64

	// Per-model call metrics
	attempts  map[string]int64
	successes map[string]int64
	failures  map[string]int64
	latency   map[string]time.Duration
}

// NewCollector creates a new Collector instance
func NewCollector() *Collector {
	return &Collector{
		attempts:  make(map[string]int64),
		successes: make(map[string]int64),
		failures:  make(map[string]int64),
		latency:   make(map[string]time.Duration),
	}
}

// RecordAdmission records a rate-limit decision
func (m *Collector) RecordAdmission(admitted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests++
	if admitted {
		m.Admitted++
	} else {
		m.Rejected++
	}
}

// RecordAttempt records one model call and its outcome
func (m *Collector) RecordAttempt(model string, success bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts[model]++
	if success {
		m.successes[model]++
	} else {
		m.failures[model]++
	}
	m.latency[model] += latency
}

// RecordSuccess records a completed request
func (m *Collector) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Succeeded++
}

// RecordDegraded records a request answered by the local fallback
func (m *Collector) RecordDegraded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Degraded++
}

// RecordContextTooLarge records a request rejected by the assembler
func (m *Collector) RecordContextTooLarge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ContextTooLarge++
}

// RecordMemoryWriteFailure records a failed short-term persistence
func (m *Collector) RecordMemoryWriteFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MemoryWriteFailures++
}

// Reset clears every counter
func (m *Collector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = 0
	m.Admitted = 0
	m.Rejected = 0
	m.Succeeded = 0
	m.Degraded = 0
	m.ContextTooLarge = 0
	m.MemoryWriteFailures = 0

	m.attempts = make(map[string]int64)
	m.successes = make(map[string]int64)
	m.failures = make(map[string]int64)
	m.latency = make(map[string]time.Duration)
}

// GetMetrics returns a snapshot of the current metrics
func (m *Collector) GetMetrics() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	models := make(map[string]any, len(m.attempts))

	for model, attempts := range m.attempts {
		entry := map[string]any{
			"attempts":  attempts,
			"successes": m.successes[model],
			"failures":  m.failures[model],
		}
		if attempts > 0 {
			entry["avg_latency_ms"] = m.latency[model].Milliseconds() / attempts
		}
		models[model] = entry
	}

	return map[string]any{
		"requests":              m.Requests,
		"admitted":              m.Admitted,
		"rejected":              m.Rejected,
		"succeeded":             m.Succeeded,
		"degraded":              m.Degraded,
		"context_too_large":     m.ContextTooLarge,
		"memory_write_failures": m.MemoryWriteFailures,
		"models":                models,
	}
}
