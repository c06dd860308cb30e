package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/config"
	"github.com/lattiam/launchpad/internal/utils/fsutil"
)

const gib = 1024 * 1024 * 1024

type mockDiskUsageChecker struct {
	mu    sync.RWMutex
	usage map[string]float64
	fail  map[string]bool
}

func newMockDiskUsageChecker() *mockDiskUsageChecker {
	return &mockDiskUsageChecker{usage: make(map[string]float64), fail: make(map[string]bool)}
}

func (m *mockDiskUsageChecker) set(path string, percent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[path] = percent
}

func (m *mockDiskUsageChecker) GetDiskUsage(path string) (*fsutil.DiskUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail[path] {
		return nil, errors.New("statfs failed")
	}
	percent, ok := m.usage[path]
	if !ok {
		percent = 50
	}
	total := uint64(100 * gib)
	used := uint64(percent) * gib
	return &fsutil.DiskUsage{TotalBytes: total, UsedBytes: used, FreeBytes: total - used, UsedPercent: percent}, nil
}

func createTestConfig() *config.ServerConfig {
	cfg := config.NewServerConfig()
	cfg.DataDir = "/srv/launchpad"
	cfg.Database = "/srv/launchpad/db/launchpad.db"
	cfg.Artifacts.WorkDir = "/srv/launchpad/artifacts"
	cfg.Artifacts.Sources = "/srv/launchpad/sources"
	cfg.PIDFile = "/run/launchpad/server.pid"
	return cfg
}

func TestDiskMonitor_PathsToMonitor(t *testing.T) {
	t.Parallel()
	cfg := createTestConfig()

	dirs := NewDiskMonitor(cfg).watchedDirs()
	assert.Equal(t, []watchedDir{
		{name: "Data Directory", path: "/srv/launchpad"},
		{name: "Artifact Directory", path: "/srv/launchpad/artifacts"},
		{name: "Source Directory", path: "/srv/launchpad/sources"},
		{name: "Database Directory", path: "/srv/launchpad/db"},
		{name: "PID Directory", path: "/run/launchpad"},
	}, dirs)

	cfg.Registry.Type = config.StoreTypeMemory
	cfg.Runs.Type = config.StoreTypeMemory
	cfg.PIDFile = ""
	cfg.Artifacts.Sources = "/srv/launchpad/artifacts/"
	dirs = NewDiskMonitor(cfg).watchedDirs()
	assert.Equal(t, []watchedDir{
		{name: "Data Directory", path: "/srv/launchpad"},
		{name: "Artifact Directory", path: "/srv/launchpad/artifacts"},
	}, dirs)
}

func TestDiskMonitor_AlertLevels(t *testing.T) {
	t.Parallel()
	monitor := NewDiskMonitor(createTestConfig())
	checker := newMockDiskUsageChecker()
	monitor.SetDiskChecker(checker)

	assert.Empty(t, monitor.CheckNow())

	checker.set("/srv/launchpad/artifacts", 85)
	alerts := monitor.CheckNow()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLevelWarning, alerts[0].Level)
	assert.Equal(t, "Artifact Directory", alerts[0].Name)
	assert.Contains(t, alerts[0].Message, "85.0% full")

	checker.set("/srv/launchpad/artifacts", 95)
	alerts = monitor.CheckNow()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLevelCritical, alerts[0].Level)

	checker.set("/srv/launchpad/artifacts", 40)
	assert.Empty(t, monitor.CheckNow())
}

func TestDiskMonitor_CustomThresholds(t *testing.T) {
	t.Parallel()
	monitor := NewDiskMonitor(createTestConfig())
	checker := newMockDiskUsageChecker()
	monitor.SetDiskChecker(checker)
	monitor.SetThresholds(70.0, 85.0)

	checker.set("/srv/launchpad", 75)
	alerts := monitor.CheckNow()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLevelWarning, alerts[0].Level)
	assert.InDelta(t, 75.0, alerts[0].PercentUsed, 0.001)
}

func TestDiskMonitor_CheckerErrorsAreSkipped(t *testing.T) {
	t.Parallel()
	monitor := NewDiskMonitor(createTestConfig())
	checker := newMockDiskUsageChecker()
	checker.fail["/srv/launchpad"] = true
	checker.set("/srv/launchpad/sources", 99)
	monitor.SetDiskChecker(checker)

	alerts := monitor.CheckNow()
	require.Len(t, alerts, 1)
	assert.Equal(t, "Source Directory", alerts[0].Name)
	assert.False(t, monitor.GetLastCheck().IsZero())
}

func TestDiskMonitor_RealFilesystem(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := createTestConfig()
	cfg.DataDir = dir
	cfg.Database = filepath.Join(dir, "launchpad.db")
	cfg.Artifacts.WorkDir = filepath.Join(dir, "artifacts")
	cfg.Artifacts.Sources = filepath.Join(dir, "sources")
	cfg.PIDFile = filepath.Join(dir, "server.pid")

	monitor := NewDiskMonitor(cfg)
	monitor.SetThresholds(101, 102)
	assert.Empty(t, monitor.CheckNow())
}

func TestDiskMonitor_StartStops(t *testing.T) {
	t.Parallel()
	monitor := NewDiskMonitor(createTestConfig())
	monitor.SetDiskChecker(newMockDiskUsageChecker())
	monitor.SetCheckInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return !monitor.GetLastCheck().IsZero() }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 GB", formatBytes(2*gib))
}
