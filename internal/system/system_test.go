package system

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/config"
	"github.com/lattiam/launchpad/internal/interfaces"
)

const testInventory = `
defaults:
  user: deploy
  auth_ref: env:DEPLOY_KEY
  app_dir: /opt/shop
targets:
  - id: web-1
    address: 10.0.1.10
    labels: {role: web}
  - id: web-2
    address: 10.0.1.11
    labels: {role: web}
applications:
  - name: shop
    repository: acme/shop
    targets: role=web
`

type okExecutor struct{}

func (okExecutor) Execute(_ context.Context, target interfaces.Target, stage interfaces.Stage) ([]interfaces.StageResult, error) {
	return []interfaces.StageResult{{Target: target.ID, Stage: stage.Name, Operation: "noop", At: time.Now()}}, nil
}

type okVerifier struct{}

func (okVerifier) Verify(context.Context, interfaces.Target) error { return nil }

func testConfig(t *testing.T) *config.ServerConfig {
	t.Helper()
	dir := t.TempDir()
	inventory := filepath.Join(dir, "inventory.yaml")
	require.NoError(t, os.WriteFile(inventory, []byte(testInventory), 0o600))

	cfg := config.NewServerConfig()
	cfg.DataDir = dir
	cfg.Database = filepath.Join(dir, "launchpad.db")
	cfg.Registry.Type = config.StoreTypeMemory
	cfg.Runs.Type = config.StoreTypeMemory
	cfg.Inventory.Path = inventory
	cfg.Artifacts.WorkDir = filepath.Join(dir, "artifacts")
	cfg.Artifacts.Sources = filepath.Join(dir, "sources")
	cfg.Deploy.BackoffInitial = time.Millisecond
	cfg.Deploy.BackoffMax = 5 * time.Millisecond
	return cfg
}

func newTestSystem(t *testing.T, cfg *config.ServerConfig) *System {
	t.Helper()
	sys, err := New(context.Background(), cfg, WithExecutor(okExecutor{}), WithVerifier(okVerifier{}))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sys.Close(ctx)
	})
	return sys
}

func TestNewSystemLoadsInventory(t *testing.T) {
	t.Parallel()
	sys := newTestSystem(t, testConfig(t))
	ctx := context.Background()

	records, err := sys.Registry.List(ctx, interfaces.Selector{All: true})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	app, ok := sys.Application("shop")
	require.True(t, ok)
	assert.Equal(t, "acme/shop", app.Repository)

	_, ok = sys.Applications().ApplicationForRepository("https://github.com/acme/shop.git")
	assert.True(t, ok)
}

func TestSystemReload(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	sys := newTestSystem(t, cfg)
	ctx := context.Background()

	_, err := sys.Registry.Acquire(ctx, "web-2", "run-held")
	require.NoError(t, err)

	trimmed := `
targets:
  - id: web-1
    address: 10.0.1.10
    app_dir: /opt/shop
`
	require.NoError(t, os.WriteFile(cfg.Inventory.Path, []byte(trimmed), 0o600))

	result, err := sys.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"web-1"}, result.Updated)
	assert.Equal(t, []string{"web-2"}, result.Retained)

	_, ok := sys.Application("shop")
	assert.False(t, ok)
}

func TestSystemDeploysEndToEnd(t *testing.T) {
	t.Parallel()
	sys := newTestSystem(t, testConfig(t))
	ctx := context.Background()

	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "app.py"), []byte("print('ok')\n"), 0o600))
	artifact, err := sys.Stager.Stage(ctx, source, "v1")
	require.NoError(t, err)

	app, _ := sys.Application("shop")
	run, err := sys.Orchestrator.Submit(ctx, artifact, []string{"web-1", "web-2"}, interfaces.RunOptions{Application: app})
	require.NoError(t, err)

	final, err := sys.Orchestrator.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RunStatusSucceeded, final.Status)

	stored, err := sys.Runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RunStatusSucceeded, stored.Status)

	rec, err := sys.Registry.Get(ctx, "web-1")
	require.NoError(t, err)
	assert.Equal(t, artifact.Fingerprint, rec.CurrentArtifact)
	assert.Equal(t, interfaces.LifecycleRunning, rec.Lifecycle)

	assert.Eventually(t, func() bool {
		return sys.Metrics.GetSystemMetrics().RunsSucceeded == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewSystemRejectsUnknownBackends(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Registry.Type = "etcd"
	_, err := New(context.Background(), cfg, WithExecutor(okExecutor{}), WithVerifier(okVerifier{}))
	assert.ErrorContains(t, err, "unsupported registry type")

	cfg = testConfig(t)
	cfg.Runs.Type = "postgres"
	_, err = New(context.Background(), cfg, WithExecutor(okExecutor{}), WithVerifier(okVerifier{}))
	assert.ErrorContains(t, err, "unsupported run store type")
}

func TestSQLiteBackedSystem(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Registry.Type = config.StoreTypeSQLite
	cfg.Runs.Type = config.StoreTypeSQLite
	sys := newTestSystem(t, cfg)

	records, err := sys.Registry.List(context.Background(), interfaces.Selector{Labels: map[string]string{"role": "web"}})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.FileExists(t, cfg.Database)
}

func TestEmbeddedBackgroundSystem(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	var mu sync.Mutex
	var handled []string
	bg, err := NewBackgroundSystem(cfg, interfaces.TriggerHandlerFunc(func(_ context.Context, req *interfaces.TriggerRequest) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, req.ID)
		return nil
	}))
	require.NoError(t, err)
	bg.WorkerPool.Start()

	require.NoError(t, bg.Queue.Enqueue(context.Background(), &interfaces.TriggerRequest{ID: "req-1", Repository: "acme/shop", Revision: "v1"}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bg.Close(ctx))

	err = bg.Queue.Enqueue(context.Background(), &interfaces.TriggerRequest{ID: "req-2"})
	assert.True(t, interfaces.IsKind(err, interfaces.KindQueueUnavailable))
}

func TestNewBackgroundSystemValidation(t *testing.T) {
	t.Parallel()
	handler := interfaces.TriggerHandlerFunc(func(context.Context, *interfaces.TriggerRequest) error { return nil })

	_, err := NewBackgroundSystem(nil, handler)
	require.Error(t, err)

	cfg := testConfig(t)
	cfg.Queue.Type = "kafka"
	_, err = NewBackgroundSystem(cfg, handler)
	assert.ErrorContains(t, err, "unsupported queue type")

	cfg = testConfig(t)
	cfg.Queue.Type = config.QueueTypeDistributed
	cfg.Queue.RedisURL = ""
	_, err = NewBackgroundSystem(cfg, handler)
	assert.ErrorContains(t, err, "redis URL is required")
}
