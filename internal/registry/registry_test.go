package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/storetest"
)

func TestMemoryStore_Contract(t *testing.T) {
	storetest.RunTargetStore(t, func(t *testing.T) interfaces.TargetStore {
		t.Helper()
		return NewMemoryStore()
	})
}

func newTestRegistry(t *testing.T, ids ...string) *Registry {
	t.Helper()
	reg := New(NewMemoryStore())
	for _, id := range ids {
		_, err := reg.Put(context.Background(), storetest.NewTarget(id, nil))
		require.NoError(t, err)
	}
	return reg
}

func TestRegistry_AcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, "web-1")

	rec, err := reg.Acquire(ctx, "web-1", "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.ActiveRun)

	// Re-acquiring by the same run is a no-op
	again, err := reg.Acquire(ctx, "web-1", "run-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Revision, again.Revision)

	_, err = reg.Acquire(ctx, "web-1", "run-2")
	require.Error(t, err)
	assert.True(t, interfaces.IsKind(err, interfaces.KindTargetBusy))
	assert.ErrorIs(t, err, interfaces.ErrTargetBusy)

	require.NoError(t, reg.Release(ctx, "web-1", "run-1"))
	got, err := reg.Get(ctx, "web-1")
	require.NoError(t, err)
	assert.Empty(t, got.ActiveRun)

	_, err = reg.Acquire(ctx, "web-1", "run-2")
	require.NoError(t, err)
}

func TestRegistry_AcquireValidation(t *testing.T) {
	reg := newTestRegistry(t, "web-1")

	_, err := reg.Acquire(context.Background(), "web-1", "")
	assert.True(t, interfaces.IsKind(err, interfaces.KindInvalidInput))

	_, err = reg.Acquire(context.Background(), "missing", "run-1")
	assert.True(t, interfaces.IsKind(err, interfaces.KindNotFound))
}

func TestRegistry_ReleaseByNonOwnerIsNoop(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, "web-1")

	_, err := reg.Acquire(ctx, "web-1", "run-1")
	require.NoError(t, err)

	require.NoError(t, reg.Release(ctx, "web-1", "run-2"))
	got, err := reg.Get(ctx, "web-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.ActiveRun)
}

func TestRegistry_ConcurrentAcquireSingleWinner(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, "web-1")

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		busy    atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Acquire(ctx, "web-1", fmt.Sprintf("run-%d", i))
			switch {
			case err == nil:
				winners.Add(1)
			case interfaces.IsKind(err, interfaces.KindTargetBusy):
				busy.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(15), busy.Load())
}

func TestRegistry_TransitionRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, "web-1")

	_, err := reg.Transition(ctx, "web-1", "run-1", func(rec *interfaces.TargetRecord) {
		rec.Lifecycle = interfaces.LifecycleStaging
	})
	assert.True(t, interfaces.IsKind(err, interfaces.KindTargetBusy))

	_, err = reg.Acquire(ctx, "web-1", "run-1")
	require.NoError(t, err)

	rec, err := reg.Transition(ctx, "web-1", "run-1", func(rec *interfaces.TargetRecord) {
		rec.Lifecycle = interfaces.LifecycleRunning
		rec.PreviousArtifact = rec.CurrentArtifact
		rec.CurrentArtifact = "sha256:f1"
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.LifecycleRunning, rec.Lifecycle)
	assert.Equal(t, "sha256:f1", rec.CurrentArtifact)
	assert.Equal(t, "run-1", rec.ActiveRun)
}

// conflictingStore fails the first n swaps with a revision conflict
type conflictingStore struct {
	*MemoryStore
	conflicts atomic.Int32
}

func (s *conflictingStore) Swap(ctx context.Context, rec *interfaces.TargetRecord, rev int64) (*interfaces.TargetRecord, error) {
	if s.conflicts.Add(-1) >= 0 {
		return nil, interfaces.ErrRevisionConflict
	}
	return s.MemoryStore.Swap(ctx, rec, rev)
}

func TestRegistry_TransitionRetriesRevisionConflicts(t *testing.T) {
	ctx := context.Background()
	store := &conflictingStore{MemoryStore: NewMemoryStore()}
	reg := New(store)
	_, err := reg.Put(ctx, storetest.NewTarget("web-1", nil))
	require.NoError(t, err)

	store.conflicts.Store(2)
	_, err = reg.Acquire(ctx, "web-1", "run-1")
	require.NoError(t, err)

	store.conflicts.Store(maxSwapAttempts)
	_, err = reg.Transition(ctx, "web-1", "run-1", func(rec *interfaces.TargetRecord) {
		rec.Lifecycle = interfaces.LifecycleRunning
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrRevisionConflict)
}
