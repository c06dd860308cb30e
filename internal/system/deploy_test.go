package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/interfaces"
)

func writeSource(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("print('ok')\n"), 0o600))
	return dir
}

func TestSystemDeploy(t *testing.T) {
	t.Parallel()
	sys := newTestSystem(t, testConfig(t))
	ctx := context.Background()

	run, err := sys.Deploy(ctx, DeployRequest{Source: writeSource(t), Revision: "v1", RequestID: "req-7"})
	require.NoError(t, err)
	assert.Equal(t, []string{"web-1", "web-2"}, run.Targets)
	assert.Equal(t, "shop", run.Options.Application.Name)
	assert.Equal(t, "req-7", run.Options.RequestID)

	final, err := sys.Orchestrator.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RunStatusSucceeded, final.Status)
}

func TestSystemDeployRejectsBadRequests(t *testing.T) {
	t.Parallel()
	sys := newTestSystem(t, testConfig(t))
	ctx := context.Background()

	tests := []struct {
		name string
		req  DeployRequest
		kind interfaces.ErrorKind
	}{
		{"missing source", DeployRequest{}, interfaces.KindInvalidInput},
		{"unknown application", DeployRequest{Source: "/tmp", Application: "blog"}, interfaces.KindNotFound},
		{"unknown target", DeployRequest{Source: "/tmp", Targets: "web-9"}, interfaces.KindNotFound},
		{"bad selector", DeployRequest{Source: "/tmp", Targets: "role="}, interfaces.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sys.Deploy(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, interfaces.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestSystemDeployBusyTarget(t *testing.T) {
	t.Parallel()
	sys := newTestSystem(t, testConfig(t))
	ctx := context.Background()

	_, err := sys.Registry.Acquire(ctx, "web-1", "run-held")
	require.NoError(t, err)

	_, err = sys.Deploy(ctx, DeployRequest{Source: writeSource(t), Targets: "web-1,web-2"})
	require.Error(t, err)
	assert.True(t, interfaces.IsKind(err, interfaces.KindTargetBusy))

	rec, err := sys.Registry.Get(ctx, "web-2")
	require.NoError(t, err)
	assert.Empty(t, rec.ActiveRun)
}

func TestSystemTargets(t *testing.T) {
	t.Parallel()
	sys := newTestSystem(t, testConfig(t))
	ctx := context.Background()

	records, err := sys.Targets(ctx, "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "web-1", records[0].Target.ID)

	records, err = sys.Targets(ctx, "role=db")
	require.NoError(t, err)
	assert.Empty(t, records)
}
