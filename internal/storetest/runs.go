package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// RunStoreFactory creates an empty run store for one subtest
type RunStoreFactory func(t *testing.T) interfaces.RunStore

// NewRun returns a run snapshot used by the contract tests
func NewRun(id string, created time.Time, status interfaces.RunStatus, targets ...string) *interfaces.DeploymentRun {
	run := &interfaces.DeploymentRun{
		ID:        id,
		Artifact:  interfaces.Artifact{Fingerprint: "sha256:abc", Revision: "main", CreatedAt: created},
		Targets:   targets,
		Outcomes:  make(map[string]*interfaces.TargetOutcome, len(targets)),
		Status:    status,
		CreatedAt: created,
	}
	for _, tgt := range targets {
		run.Outcomes[tgt] = &interfaces.TargetOutcome{TargetID: tgt, Phase: interfaces.PhaseStaged, UpdatedAt: created}
	}
	return run
}

// RunRunStore exercises the RunStore contract
func RunRunStore(t *testing.T, factory RunStoreFactory) { //nolint:funlen // contract suite
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("SaveThenGet", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		run := NewRun("run-1", base, interfaces.RunStatusInProgress, "web-1", "web-2")
		run.Outcomes["web-1"].Results = append(run.Outcomes["web-1"].Results, interfaces.StageResult{
			Target: "web-1", Stage: interfaces.StageUpload, Operation: "upload-bundle",
			Attempt: 1, ExitCode: 0, Duration: 2 * time.Second, At: base,
		})
		require.NoError(t, store.Save(ctx, run))

		got, err := store.Get(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, interfaces.RunStatusInProgress, got.Status)
		assert.Equal(t, []string{"web-1", "web-2"}, got.Targets)
		require.Len(t, got.Outcomes["web-1"].Results, 1)
		assert.Equal(t, "upload-bundle", got.Outcomes["web-1"].Results[0].Operation)
		assert.True(t, base.Equal(got.CreatedAt))
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		run := NewRun("run-1", base, interfaces.RunStatusPending, "web-1")
		require.NoError(t, store.Save(ctx, run))

		run.Status = interfaces.RunStatusSucceeded
		run.Outcomes["web-1"].Phase = interfaces.PhaseRunning
		require.NoError(t, store.Save(ctx, run))

		got, err := store.Get(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, interfaces.RunStatusSucceeded, got.Status)
		assert.Equal(t, interfaces.PhaseRunning, got.Outcomes["web-1"].Phase)
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := factory(t)
		_, err := store.Get(context.Background(), "missing")
		assert.True(t, interfaces.IsKind(err, interfaces.KindNotFound))
	})

	t.Run("ListFilters", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, NewRun("run-1", base, interfaces.RunStatusSucceeded, "web-1")))
		require.NoError(t, store.Save(ctx, NewRun("run-2", base.Add(time.Minute), interfaces.RunStatusFailed, "web-1", "web-2")))
		require.NoError(t, store.Save(ctx, NewRun("run-3", base.Add(2*time.Minute), interfaces.RunStatusSucceeded, "web-2")))

		all, err := store.List(ctx, interfaces.RunFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "run-3", all[0].ID, "newest first")

		ok, err := store.List(ctx, interfaces.RunFilter{Status: []interfaces.RunStatus{interfaces.RunStatusSucceeded}})
		require.NoError(t, err)
		assert.Len(t, ok, 2)

		web1, err := store.List(ctx, interfaces.RunFilter{Target: "web-1"})
		require.NoError(t, err)
		assert.Len(t, web1, 2)

		limited, err := store.List(ctx, interfaces.RunFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "run-3", limited[0].ID)

		recent, err := store.List(ctx, interfaces.RunFilter{CreatedAfter: base.Add(30 * time.Second)})
		require.NoError(t, err)
		assert.Len(t, recent, 2)
	})

	t.Run("Delete", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, NewRun("run-1", base, interfaces.RunStatusSucceeded, "web-1")))
		require.NoError(t, store.Delete(ctx, "run-1"))

		_, err := store.Get(ctx, "run-1")
		assert.True(t, interfaces.IsKind(err, interfaces.KindNotFound))
	})
}
