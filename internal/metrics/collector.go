// Package metrics collects counters and timings about deployment runs
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// maxSamples bounds the duration history kept for averages
const maxSamples = 1000

// Collector tracks system metrics
type Collector struct {
	mu sync.RWMutex

	// Counters
	runsSubmitted  int64
	runsSucceeded  int64
	runsFailed     int64
	runsRolledBack int64
	runsCanceled   int64
	stageRetries   int64
	activeRuns     int64

	// Timing
	runDurations []time.Duration

	startTime time.Time
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		startTime:    time.Now(),
		runDurations: make([]time.Duration, 0, maxSamples),
	}
}

// RecordRunSubmitted records a newly accepted run
func (c *Collector) RecordRunSubmitted() {
	atomic.AddInt64(&c.runsSubmitted, 1)
	atomic.AddInt64(&c.activeRuns, 1)
}

// RecordRetry records a stage attempt that will be retried
func (c *Collector) RecordRetry() {
	atomic.AddInt64(&c.stageRetries, 1)
}

// RecordRunFinished records the terminal status and duration of a run
func (c *Collector) RecordRunFinished(run *interfaces.DeploymentRun) {
	atomic.AddInt64(&c.activeRuns, -1)

	switch run.Status {
	case interfaces.RunStatusSucceeded:
		atomic.AddInt64(&c.runsSucceeded, 1)
	case interfaces.RunStatusRolledBack:
		atomic.AddInt64(&c.runsRolledBack, 1)
	case interfaces.RunStatusCanceled:
		atomic.AddInt64(&c.runsCanceled, 1)
	default:
		atomic.AddInt64(&c.runsFailed, 1)
	}

	if run.StartedAt == nil || run.CompletedAt == nil {
		return
	}
	c.mu.Lock()
	c.runDurations = append(c.runDurations, run.CompletedAt.Sub(*run.StartedAt))
	if len(c.runDurations) > maxSamples {
		c.runDurations = c.runDurations[len(c.runDurations)-maxSamples:]
	}
	c.mu.Unlock()
}

// GetSystemMetrics returns current system metrics
func (c *Collector) GetSystemMetrics() interfaces.SystemMetrics {
	c.mu.RLock()
	avg := c.averageRunDurationNoLock()
	uptime := time.Since(c.startTime)
	c.mu.RUnlock()

	return interfaces.SystemMetrics{
		RunsSubmitted:      atomic.LoadInt64(&c.runsSubmitted),
		RunsSucceeded:      atomic.LoadInt64(&c.runsSucceeded),
		RunsFailed:         atomic.LoadInt64(&c.runsFailed),
		RunsRolledBack:     atomic.LoadInt64(&c.runsRolledBack),
		RunsCanceled:       atomic.LoadInt64(&c.runsCanceled),
		StageRetries:       atomic.LoadInt64(&c.stageRetries),
		AverageRunDuration: avg,
		ActiveRuns:         atomic.LoadInt64(&c.activeRuns),
		SystemUptime:       uptime,
	}
}

func (c *Collector) averageRunDurationNoLock() time.Duration {
	if len(c.runDurations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range c.runDurations {
		total += d
	}
	return total / time.Duration(len(c.runDurations))
}

// Reset resets all metrics (useful for testing)
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	atomic.StoreInt64(&c.runsSubmitted, 0)
	atomic.StoreInt64(&c.runsSucceeded, 0)
	atomic.StoreInt64(&c.runsFailed, 0)
	atomic.StoreInt64(&c.runsRolledBack, 0)
	atomic.StoreInt64(&c.runsCanceled, 0)
	atomic.StoreInt64(&c.stageRetries, 0)
	atomic.StoreInt64(&c.activeRuns, 0)

	c.runDurations = c.runDurations[:0]
	c.startTime = time.Now()
}
