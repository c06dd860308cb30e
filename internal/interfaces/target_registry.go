package interfaces

import "context"

// TargetStore is the storage primitive behind the target registry.
// Backends implement plain CRUD plus an atomic compare-and-set.
type TargetStore interface {
	// Put inserts or replaces the target definition. Lifecycle, artifacts and
	// the active run of an existing record are preserved.
	Put(ctx context.Context, target Target) (*TargetRecord, error)
	Get(ctx context.Context, id string) (*TargetRecord, error)
	List(ctx context.Context, selector Selector) ([]*TargetRecord, error)
	Delete(ctx context.Context, id string) error
	// Swap writes record iff the stored revision equals expectedRevision.
	// It returns ErrRevisionConflict otherwise and the stored record on success.
	Swap(ctx context.Context, record *TargetRecord, expectedRevision int64) (*TargetRecord, error)
}

// TargetRegistry is the registry used by the orchestrator
type TargetRegistry interface {
	TargetStore
	// Acquire marks the target as held by runID, failing with TargetBusy if another run holds it
	Acquire(ctx context.Context, id, runID string) (*TargetRecord, error)
	// Release clears the hold if runID still owns it
	Release(ctx context.Context, id, runID string) error
	// Transition applies mutate to the record held by runID
	Transition(ctx context.Context, id, runID string, mutate func(*TargetRecord)) (*TargetRecord, error)
}
