// Package storetest holds contract tests shared by every TargetStore and RunStore backend
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// TargetStoreFactory creates an empty store for one subtest
type TargetStoreFactory func(t *testing.T) interfaces.TargetStore

// NewTarget returns a target definition used by the contract tests
func NewTarget(id string, labels map[string]string) interfaces.Target {
	return interfaces.Target{
		ID:      id,
		Address: id + ".internal:22",
		User:    "deploy",
		AuthRef: "env:DEPLOY_KEY",
		AppDir:  "/opt/app",
		Labels:  labels,
		Health:  &interfaces.HealthProbe{URL: "http://" + id + ".internal:5000/health"},
	}
}

// RunTargetStore exercises the TargetStore contract
func RunTargetStore(t *testing.T, factory TargetStoreFactory) { //nolint:funlen // contract suite
	t.Run("PutThenGet", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		rec, err := store.Put(ctx, NewTarget("web-1", map[string]string{"role": "web"}))
		require.NoError(t, err)
		assert.Equal(t, interfaces.LifecycleUnknown, rec.Lifecycle)
		assert.Positive(t, rec.Revision)

		got, err := store.Get(ctx, "web-1")
		require.NoError(t, err)
		assert.Equal(t, "web-1.internal:22", got.Target.Address)
		assert.Equal(t, "web", got.Target.Labels["role"])
		require.NotNil(t, got.Target.Health)
		assert.Equal(t, rec.Revision, got.Revision)
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := factory(t)
		_, err := store.Get(context.Background(), "nope")
		require.Error(t, err)
		assert.True(t, interfaces.IsKind(err, interfaces.KindNotFound))
	})

	t.Run("PutPreservesState", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		rec, err := store.Put(ctx, NewTarget("web-1", nil))
		require.NoError(t, err)

		rec.Lifecycle = interfaces.LifecycleRunning
		rec.CurrentArtifact = "sha256:f1"
		rec.ActiveRun = "run-1"
		_, err = store.Swap(ctx, rec, rec.Revision)
		require.NoError(t, err)

		updated := NewTarget("web-1", map[string]string{"role": "web"})
		updated.Address = "10.0.0.5:2222"
		rec, err = store.Put(ctx, updated)
		require.NoError(t, err)

		assert.Equal(t, "10.0.0.5:2222", rec.Target.Address)
		assert.Equal(t, interfaces.LifecycleRunning, rec.Lifecycle)
		assert.Equal(t, "sha256:f1", rec.CurrentArtifact)
		assert.Equal(t, "run-1", rec.ActiveRun)
	})

	t.Run("SwapBumpsRevision", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		rec, err := store.Put(ctx, NewTarget("web-1", nil))
		require.NoError(t, err)
		before := rec.Revision

		rec.Lifecycle = interfaces.LifecycleStaging
		stored, err := store.Swap(ctx, rec, before)
		require.NoError(t, err)
		assert.Equal(t, before+1, stored.Revision)
		assert.Equal(t, interfaces.LifecycleStaging, stored.Lifecycle)
		assert.False(t, stored.UpdatedAt.IsZero())
	})

	t.Run("SwapStaleRevision", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		rec, err := store.Put(ctx, NewTarget("web-1", nil))
		require.NoError(t, err)

		_, err = store.Swap(ctx, rec, rec.Revision)
		require.NoError(t, err)

		_, err = store.Swap(ctx, rec, rec.Revision)
		assert.ErrorIs(t, err, interfaces.ErrRevisionConflict)
	})

	t.Run("SwapMissing", func(t *testing.T) {
		store := factory(t)
		rec := &interfaces.TargetRecord{Target: NewTarget("ghost", nil), Revision: 1}
		_, err := store.Swap(context.Background(), rec, 1)
		assert.True(t, interfaces.IsKind(err, interfaces.KindNotFound))
	})

	t.Run("ConcurrentSwapSingleWinner", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		rec, err := store.Put(ctx, NewTarget("web-1", nil))
		require.NoError(t, err)

		const contenders = 8
		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				attempt := rec.Copy()
				attempt.ActiveRun = fmt.Sprintf("run-%d", i)
				_, err := store.Swap(ctx, attempt, rec.Revision)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, interfaces.ErrRevisionConflict):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected swap error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(contenders-1), conflicts.Load())
	})

	t.Run("ListSelector", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		for _, tgt := range []interfaces.Target{
			NewTarget("web-2", map[string]string{"role": "web", "env": "prod"}),
			NewTarget("web-1", map[string]string{"role": "web", "env": "staging"}),
			NewTarget("db-1", map[string]string{"role": "db", "env": "prod"}),
		} {
			_, err := store.Put(ctx, tgt)
			require.NoError(t, err)
		}

		all, err := store.List(ctx, interfaces.Selector{All: true})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "db-1", all[0].Target.ID, "records are sorted by id")

		web, err := store.List(ctx, interfaces.Selector{Labels: map[string]string{"role": "web", "env": "prod"}})
		require.NoError(t, err)
		require.Len(t, web, 1)
		assert.Equal(t, "web-2", web[0].Target.ID)

		byID, err := store.List(ctx, interfaces.Selector{IDs: []string{"web-1", "db-1"}})
		require.NoError(t, err)
		assert.Len(t, byID, 2)
	})

	t.Run("Delete", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		_, err := store.Put(ctx, NewTarget("web-1", nil))
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, "web-1"))

		_, err = store.Get(ctx, "web-1")
		assert.True(t, interfaces.IsKind(err, interfaces.KindNotFound))

		err = store.Delete(ctx, "web-1")
		assert.True(t, interfaces.IsKind(err, interfaces.KindNotFound))
	})
}
