package orchestrator

import (
	"sort"
	"sync"
	"time"

	"spectra/domain/entities"
)

// healthBoard tracks component health under one lock.
type healthBoard struct {
	mu         sync.Mutex
	components map[string]entities.ComponentHealth
}

func newHealthBoard() *healthBoard {
	return &healthBoard{components: map[string]entities.ComponentHealth{}}
}

func (b *healthBoard) set(name string, status entities.ComponentStatus, lastError string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record := b.components[name]
	record.Name = name
	record.Status = status
	record.LastCheck = time.Now()
	record.LastError = lastError
	b.components[name] = record
}

func (b *healthBoard) status(name string) entities.ComponentStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.components[name].Status
}

// fail increments the error counter and returns the new count. A
// healthy component drops to degraded on its first failure.
func (b *healthBoard) fail(name, lastError string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	record := b.components[name]
	record.Name = name
	record.ErrorCount++
	record.LastCheck = time.Now()
	record.LastError = lastError
	if record.Status == entities.ComponentHealthy {
		record.Status = entities.ComponentDegraded
	}
	b.components[name] = record
	return record.ErrorCount
}

// recover resets the error counter and restores a degraded component
// to healthy. Failed components stay failed until restart.
func (b *healthBoard) recover(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record := b.components[name]
	record.Name = name
	record.LastCheck = time.Now()
	if record.Status == entities.ComponentDegraded && record.LastError != "running on fallback engine" {
		record.Status = entities.ComponentHealthy
		record.LastError = ""
	}
	record.ErrorCount = 0
	b.components[name] = record
}

func (b *healthBoard) snapshot() map[string]entities.ComponentHealth {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]entities.ComponentHealth, len(b.components))
	for name, record := range b.components {
		out[name] = record
	}
	return out
}

func (b *healthBoard) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.components))
	for name := range b.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// metricsBook aggregates execution counters.
type metricsBook struct {
	mu            sync.Mutex
	metrics       entities.ExecutionMetrics
	totalDuration time.Duration
	inFlight      int
}

func newMetricsBook() *metricsBook {
	return &metricsBook{}
}

func (m *metricsBook) begin() {
	m.mu.Lock()
	m.inFlight++
	m.mu.Unlock()
}

func (m *metricsBook) finish(success bool, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	m.metrics.TotalIntents++
	if success {
		m.metrics.SucceededIntents++
	} else {
		m.metrics.FailedIntents++
	}
	m.totalDuration += elapsed
	m.metrics.AverageDuration = m.totalDuration / time.Duration(m.metrics.TotalIntents)
}

func (m *metricsBook) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

func (m *metricsBook) snapshot() entities.ExecutionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}
