// Package monitoring watches the filesystems launchpad stages artifacts and keeps state on
package monitoring

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/lattiam/launchpad/internal/config"
	"github.com/lattiam/launchpad/internal/utils/fsutil"
	"github.com/lattiam/launchpad/pkg/logging"
)

// DiskUsageChecker reports disk usage for a path (allows mocking)
type DiskUsageChecker interface {
	GetDiskUsage(path string) (*fsutil.DiskUsage, error)
}

// DiskUsageFunc adapts a function to DiskUsageChecker
type DiskUsageFunc func(path string) (*fsutil.DiskUsage, error)

// GetDiskUsage calls f
func (f DiskUsageFunc) GetDiskUsage(path string) (*fsutil.DiskUsage, error) {
	return f(path)
}

// DiskMonitor periodically checks the directories launchpad writes to. Each
// directory is logged when its alert level changes, not on every check.
type DiskMonitor struct {
	config      *config.ServerConfig
	diskChecker DiskUsageChecker
	logger      *logging.Logger

	mu            sync.RWMutex
	warnAt        float64
	criticalAt    float64
	checkInterval time.Duration
	lastCheck     time.Time
	alerts        []DiskAlert
	levels        map[string]AlertLevel
}

// DiskAlert is a directory over one of the thresholds
type DiskAlert struct {
	Name        string
	Path        string
	Level       AlertLevel
	PercentUsed float64
	FreeBytes   uint64
	TotalBytes  uint64
	Message     string
	Timestamp   time.Time
}

// AlertLevel represents the severity of an alert
type AlertLevel string

const (
	// AlertLevelWarning means the warning threshold was reached
	AlertLevelWarning AlertLevel = "warning"
	// AlertLevelCritical means the critical threshold was reached
	AlertLevelCritical AlertLevel = "critical"
)

// NewDiskMonitor creates a monitor warning at 80% and alerting at 90%
func NewDiskMonitor(cfg *config.ServerConfig) *DiskMonitor {
	return &DiskMonitor{
		config:        cfg,
		diskChecker:   DiskUsageFunc(fsutil.GetDiskUsage),
		logger:        logging.NewLogger("disk-monitor"),
		warnAt:        80.0,
		criticalAt:    90.0,
		checkInterval: 5 * time.Minute,
		levels:        make(map[string]AlertLevel),
	}
}

// Start checks disk usage until ctx is canceled
func (m *DiskMonitor) Start(ctx context.Context) {
	m.checkDiskSpace()

	interval := m.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if next := m.interval(); next != interval {
				ticker.Reset(next)
				interval = next
			}
			m.checkDiskSpace()
		}
	}
}

func (m *DiskMonitor) interval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkInterval
}

// SetThresholds sets the warning and critical used percentages
func (m *DiskMonitor) SetThresholds(warn, critical float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnAt = warn
	m.criticalAt = critical
}

// SetCheckInterval sets how often to check disk usage
func (m *DiskMonitor) SetCheckInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkInterval = interval
}

// SetDiskChecker replaces the statfs-based checker
func (m *DiskMonitor) SetDiskChecker(checker DiskUsageChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diskChecker = checker
}

// GetAlerts returns the alerts of the last check
func (m *DiskMonitor) GetAlerts() []DiskAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alerts := make([]DiskAlert, len(m.alerts))
	copy(alerts, m.alerts)
	return alerts
}

// GetLastCheck returns the time of the last disk check
func (m *DiskMonitor) GetLastCheck() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCheck
}

// CheckNow performs an immediate disk check
func (m *DiskMonitor) CheckNow() []DiskAlert {
	m.checkDiskSpace()
	return m.GetAlerts()
}

func (m *DiskMonitor) level(percent float64) AlertLevel {
	switch {
	case percent >= m.criticalAt:
		return AlertLevelCritical
	case percent >= m.warnAt:
		return AlertLevelWarning
	default:
		return ""
	}
}

func (m *DiskMonitor) checkDiskSpace() {
	m.mu.RLock()
	checker := m.diskChecker
	m.mu.RUnlock()

	now := time.Now()
	type reading struct {
		dir   watchedDir
		usage *fsutil.DiskUsage
	}
	var readings []reading
	for _, dir := range m.watchedDirs() {
		usage, err := checker.GetDiskUsage(dir.path)
		if err != nil {
			m.logger.Error("Failed to get disk usage for %s (%s): %v", dir.name, dir.path, err)
			continue
		}
		readings = append(readings, reading{dir: dir, usage: usage})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	alerts := make([]DiskAlert, 0)
	for _, r := range readings {
		level := m.level(r.usage.UsedPercent)
		m.logTransition(r.dir, m.levels[r.dir.path], level, r.usage)
		m.levels[r.dir.path] = level
		if level == "" {
			continue
		}
		alerts = append(alerts, DiskAlert{
			Name:        r.dir.name,
			Path:        r.dir.path,
			Level:       level,
			PercentUsed: r.usage.UsedPercent,
			FreeBytes:   r.usage.FreeBytes,
			TotalBytes:  r.usage.TotalBytes,
			Message:     formatDiskAlert(r.dir.name, r.dir.path, r.usage.UsedPercent, r.usage.FreeBytes),
			Timestamp:   now,
		})
	}
	m.lastCheck = now
	m.alerts = alerts
}

func (m *DiskMonitor) logTransition(dir watchedDir, from, to AlertLevel, usage *fsutil.DiskUsage) {
	if from == to {
		return
	}
	free := formatBytes(usage.FreeBytes)
	switch to {
	case AlertLevelCritical:
		m.logger.Error("CRITICAL: Disk space alert for %s (%s): %.1f%% used, %s free",
			dir.name, dir.path, usage.UsedPercent, free)
	case AlertLevelWarning:
		m.logger.Warn("Disk space warning for %s (%s): %.1f%% used, %s free",
			dir.name, dir.path, usage.UsedPercent, free)
	default:
		m.logger.Info("Disk space for %s (%s) back to %.1f%% used", dir.name, dir.path, usage.UsedPercent)
	}
}

type watchedDir struct {
	name string
	path string
}

// watchedDirs lists the directories launchpad writes to. A directory named
// twice is checked once, under its first name.
func (m *DiskMonitor) watchedDirs() []watchedDir {
	var dirs []watchedDir
	seen := make(map[string]bool)
	add := func(name, path string) {
		if path == "" {
			return
		}
		path = filepath.Clean(path)
		if seen[path] {
			return
		}
		seen[path] = true
		dirs = append(dirs, watchedDir{name: name, path: path})
	}

	add("Data Directory", m.config.DataDir)
	add("Artifact Directory", m.config.Artifacts.WorkDir)
	add("Source Directory", m.config.Artifacts.Sources)
	if m.config.Registry.Type == config.StoreTypeSQLite || m.config.Runs.Type == config.StoreTypeSQLite {
		add("Database Directory", dirOf(m.config.Database))
	}
	add("PID Directory", dirOf(m.config.PIDFile))
	return dirs
}

func dirOf(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Dir(path)
}

func formatDiskAlert(name, path string, percentUsed float64, freeBytes uint64) string {
	return fmt.Sprintf("%s (%s) is %.1f%% full with %s free",
		name, path, percentUsed, formatBytes(freeBytes))
}

// formatBytes formats bytes with binary units
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
