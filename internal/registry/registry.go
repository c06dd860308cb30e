// Package registry tracks deployment targets and their lifecycle state
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/pkg/logging"
)

// maxSwapAttempts bounds re-reads after a revision conflict caused by an
// unrelated write such as an inventory reload.
const maxSwapAttempts = 3

// Registry layers run ownership on top of a TargetStore. Ownership changes
// go through Swap, so two runs can never hold the same target.
type Registry struct {
	interfaces.TargetStore
	logger *logging.Logger
}

// New wraps store
func New(store interfaces.TargetStore) *Registry {
	return &Registry{TargetStore: store, logger: logging.Registry}
}

// Acquire marks the target as held by runID
func (r *Registry) Acquire(ctx context.Context, id, runID string) (*interfaces.TargetRecord, error) {
	if runID == "" {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "run id is required to acquire %q", id)
	}

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		rec, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.ActiveRun == runID {
			return rec, nil
		}
		if rec.ActiveRun != "" {
			return nil, busy(id, rec.ActiveRun)
		}

		next := rec.Copy()
		next.ActiveRun = runID
		stored, err := r.Swap(ctx, next, rec.Revision)
		if errors.Is(err, interfaces.ErrRevisionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		r.logger.Debug("target=%s acquired by run=%s revision=%d", id, runID, stored.Revision)
		return stored, nil
	}

	rec, err := r.Get(ctx, id)
	if err == nil && rec.ActiveRun != "" {
		return nil, busy(id, rec.ActiveRun)
	}
	return nil, busy(id, "")
}

// Release clears the hold if runID still owns it
func (r *Registry) Release(ctx context.Context, id, runID string) error {
	_, err := r.update(ctx, id, runID, func(rec *interfaces.TargetRecord) {
		rec.ActiveRun = ""
	})
	if interfaces.IsKind(err, interfaces.KindTargetBusy) {
		// Someone else owns it now; nothing to release.
		return nil
	}
	if err == nil {
		r.logger.Debug("target=%s released by run=%s", id, runID)
	}
	return err
}

// Transition applies mutate to the record held by runID
func (r *Registry) Transition(ctx context.Context, id, runID string, mutate func(*interfaces.TargetRecord)) (*interfaces.TargetRecord, error) {
	return r.update(ctx, id, runID, mutate)
}

func (r *Registry) update(ctx context.Context, id, runID string, mutate func(*interfaces.TargetRecord)) (*interfaces.TargetRecord, error) {
	var lastErr error
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		rec, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.ActiveRun != runID {
			return nil, busy(id, rec.ActiveRun)
		}

		next := rec.Copy()
		mutate(next)
		stored, err := r.Swap(ctx, next, rec.Revision)
		if errors.Is(err, interfaces.ErrRevisionConflict) {
			lastErr = err
			continue
		}
		return stored, err
	}
	return nil, fmt.Errorf("update target %q: %w", id, lastErr)
}

func busy(id, holder string) error {
	e := interfaces.NewError(interfaces.KindTargetBusy, "target %q is held by run %q", id, holder)
	if holder == "" {
		e = interfaces.NewError(interfaces.KindTargetBusy, "target %q is contended", id)
	}
	e.Target = id
	return e
}

var _ interfaces.TargetRegistry = (*Registry)(nil)
