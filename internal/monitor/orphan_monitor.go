// Package monitor reconciles state left behind by launchpad processes that
// stopped in the middle of a run.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/logging"
)

// ActiveRuns tells whether a run is executing in this process
type ActiveRuns interface {
	IsActive(runID string) bool
}

// ArchiveInspector lists dead-lettered tasks. *asynq.Inspector implements it.
type ArchiveInspector interface {
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// OrphanMonitor finds runs that no process is executing and target holds
// owned by such runs, and reconciles them
type OrphanMonitor struct {
	registry  interfaces.TargetRegistry
	runs      interfaces.RunStore
	active    ActiveRuns
	inspector ArchiveInspector
	queueName string
	logger    *logging.Logger

	// Configuration
	scanInterval     time.Duration
	staleThreshold   time.Duration
	reconcileOrphans bool
	maxBackoff       time.Duration

	// State
	mu                sync.RWMutex
	running           bool
	ctx               context.Context
	cancel            context.CancelFunc
	wg                sync.WaitGroup
	lastScan          time.Time
	orphanCount       int
	deadTriggers      int
	currentInterval   time.Duration
	backoffMultiplier float64
}

// Config holds configuration for the orphan monitor
type Config struct {
	Registry interfaces.TargetRegistry
	Runs     interfaces.RunStore
	Active   ActiveRuns
	// Inspector and QueueName are set in distributed mode
	Inspector        ArchiveInspector
	QueueName        string
	ScanInterval     time.Duration
	StaleThreshold   time.Duration // How long an unowned run or hold is left alone
	ReconcileOrphans bool          // Whether to fail orphaned runs and release their holds
	MaxBackoff       time.Duration // Maximum scan interval when no orphans found (0 = 10x base interval)
}

// NewOrphanMonitor creates a new orphan monitor
func NewOrphanMonitor(cfg Config) (*OrphanMonitor, error) {
	switch {
	case cfg.Registry == nil:
		return nil, fmt.Errorf("target registry is required")
	case cfg.Runs == nil:
		return nil, fmt.Errorf("run store is required")
	case cfg.Active == nil:
		return nil, fmt.Errorf("active run lookup is required")
	}
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = 1 * time.Minute
	}
	if cfg.StaleThreshold == 0 {
		cfg.StaleThreshold = 30 * time.Minute
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = cfg.ScanInterval * 10
	}

	return &OrphanMonitor{
		registry:          cfg.Registry,
		runs:              cfg.Runs,
		active:            cfg.Active,
		inspector:         cfg.Inspector,
		queueName:         cfg.QueueName,
		logger:            logging.NewLogger("orphan-monitor"),
		scanInterval:      cfg.ScanInterval,
		staleThreshold:    cfg.StaleThreshold,
		reconcileOrphans:  cfg.ReconcileOrphans,
		maxBackoff:        cfg.MaxBackoff,
		currentInterval:   cfg.ScanInterval,
		backoffMultiplier: 1.0,
	}, nil
}

// Start begins monitoring for orphans
func (m *OrphanMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor already running")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.running = true

	m.wg.Add(1)
	go m.monitorLoop()

	m.logger.Infof("Started with scan interval %v, stale threshold %v",
		m.scanInterval, m.staleThreshold)

	return nil
}

// Stop stops the monitor
func (m *OrphanMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor shutdown timeout: %w", ctx.Err())
	}
}

// GetStats returns current monitoring statistics
func (m *OrphanMonitor) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		Running:      m.running,
		LastScan:     m.lastScan,
		OrphanCount:  m.orphanCount,
		DeadTriggers: m.deadTriggers,
	}
}

// ScanNow performs one scan synchronously and returns the orphans found
func (m *OrphanMonitor) ScanNow(ctx context.Context) int {
	return m.performScan(ctx)
}

func (m *OrphanMonitor) monitorLoop() {
	defer m.wg.Done()

	m.performScan(m.ctx)

	for {
		m.mu.RLock()
		interval := m.currentInterval
		m.mu.RUnlock()

		timer := time.NewTimer(interval)

		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.performScan(m.ctx)
		}
	}
}

func (m *OrphanMonitor) performScan(ctx context.Context) int {
	startTime := time.Now()
	m.logger.Debugf("Starting orphan scan")

	orphansFound := m.scanStaleRuns(ctx)
	orphansFound += m.scanStaleHolds(ctx)
	dead := m.scanDeadTriggers()

	m.mu.Lock()
	m.lastScan = time.Now()
	m.orphanCount = orphansFound
	m.deadTriggers = dead

	if orphansFound == 0 {
		oldInterval := m.currentInterval
		if m.backoffMultiplier < 2.0 {
			m.backoffMultiplier = 2.0
		} else {
			m.backoffMultiplier *= 1.5
		}

		newInterval := time.Duration(float64(m.scanInterval) * m.backoffMultiplier)
		if newInterval > m.maxBackoff {
			newInterval = m.maxBackoff
		}
		m.currentInterval = newInterval

		if oldInterval != m.currentInterval {
			m.logger.Debugf("No orphans found, increasing scan interval to %v", m.currentInterval)
		}
	} else {
		m.backoffMultiplier = 1.0
		m.currentInterval = m.scanInterval
	}
	m.mu.Unlock()

	m.logger.Debugf("Scan complete in %v, found %d orphans", time.Since(startTime), orphansFound)
	return orphansFound
}

// scanStaleRuns finds unfinished runs that no process is executing
func (m *OrphanMonitor) scanStaleRuns(ctx context.Context) int {
	runs, err := m.runs.List(ctx, interfaces.RunFilter{
		Status: []interfaces.RunStatus{interfaces.RunStatusPending, interfaces.RunStatusInProgress},
	})
	if err != nil {
		m.logger.Errorf("Error listing unfinished runs: %v", err)
		return 0
	}

	orphansFound := 0
	for _, run := range runs {
		if m.active.IsActive(run.ID) || !m.isStale(lastActivity(run)) {
			continue
		}
		orphansFound++
		m.logger.Warnf("Found orphaned run %s (status %s, created %s)",
			run.ID, run.Status, run.CreatedAt.Format(time.RFC3339))

		if m.reconcileOrphans {
			m.failRun(ctx, run)
		}
	}
	return orphansFound
}

// scanStaleHolds finds targets held by runs that no process is executing
func (m *OrphanMonitor) scanStaleHolds(ctx context.Context) int {
	records, err := m.registry.List(ctx, interfaces.Selector{All: true})
	if err != nil {
		m.logger.Errorf("Error listing targets: %v", err)
		return 0
	}

	orphansFound := 0
	for _, rec := range records {
		holder := rec.ActiveRun
		if holder == "" || m.active.IsActive(holder) || !m.isStale(rec.UpdatedAt) {
			continue
		}
		run, err := m.runs.Get(ctx, holder)
		switch {
		case interfaces.IsKind(err, interfaces.KindNotFound):
		case err != nil:
			m.logger.Errorf("Error loading run %s holding %s: %v", holder, rec.Target.ID, err)
			continue
		case !run.Status.IsTerminal() && !m.isStale(lastActivity(run)):
			continue
		}

		orphansFound++
		m.logger.Warnf("Found orphaned hold on target %s by run %s", rec.Target.ID, holder)

		if m.reconcileOrphans {
			m.releaseHold(ctx, rec.Target.ID, holder)
		}
	}
	return orphansFound
}

// scanDeadTriggers reports triggers that exhausted their retries
func (m *OrphanMonitor) scanDeadTriggers() int {
	if m.inspector == nil || m.queueName == "" {
		return 0
	}
	tasks, err := m.inspector.ListArchivedTasks(m.queueName)
	if err != nil {
		m.logger.Errorf("Error listing archived tasks in %s: %v", m.queueName, err)
		return 0
	}
	for _, task := range tasks {
		m.logger.Warnf("Trigger %s was archived after %d retries: %s", task.ID, task.Retried, task.LastErr)
	}
	return len(tasks)
}

func (m *OrphanMonitor) failRun(ctx context.Context, run *interfaces.DeploymentRun) {
	now := time.Now().UTC()
	for _, outcome := range run.Outcomes {
		if outcome.Phase.IsTerminal() {
			continue
		}
		outcome.Phase = interfaces.PhaseFailed
		outcome.ErrorKind = interfaces.KindInternal
		outcome.Error = "run was interrupted: no process is executing it"
		outcome.UpdatedAt = now
	}
	run.Status = interfaces.RunStatusFailed
	run.CompletedAt = &now

	if err := m.runs.Save(ctx, run); err != nil {
		m.logger.Errorf("Error marking orphaned run %s as failed: %v", run.ID, err)
		return
	}
	m.logger.Infof("Marked orphaned run %s as failed", run.ID)
}

func (m *OrphanMonitor) releaseHold(ctx context.Context, targetID, runID string) {
	_, err := m.registry.Transition(ctx, targetID, runID, func(rec *interfaces.TargetRecord) {
		if rec.Lifecycle == interfaces.LifecycleStaging || rec.Lifecycle == interfaces.LifecycleInstalling {
			rec.Lifecycle = interfaces.LifecycleUnknown
		}
		rec.ActiveRun = ""
	})
	if interfaces.IsKind(err, interfaces.KindTargetBusy) {
		// Taken over by another run since the scan
		return
	}
	if err != nil {
		m.logger.Errorf("Error releasing target %s from run %s: %v", targetID, runID, err)
		return
	}
	m.logger.Infof("Released target %s from orphaned run %s", targetID, runID)
}

func (m *OrphanMonitor) isStale(t time.Time) bool {
	m.mu.RLock()
	threshold := m.staleThreshold
	m.mu.RUnlock()
	return time.Since(t) > threshold
}

func lastActivity(run *interfaces.DeploymentRun) time.Time {
	last := run.CreatedAt
	if run.StartedAt != nil && run.StartedAt.After(last) {
		last = *run.StartedAt
	}
	for _, outcome := range run.Outcomes {
		if outcome.UpdatedAt.After(last) {
			last = outcome.UpdatedAt
		}
	}
	return last
}

// Stats contains monitoring statistics
type Stats struct {
	Running      bool
	LastScan     time.Time
	OrphanCount  int
	DeadTriggers int
}
