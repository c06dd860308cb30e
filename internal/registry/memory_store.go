package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// MemoryStore implements interfaces.TargetStore in memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*interfaces.TargetRecord
}

// NewMemoryStore creates an empty in-memory target store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*interfaces.TargetRecord)}
}

// Put inserts or replaces a target definition, keeping deployment state
func (s *MemoryStore) Put(_ context.Context, target interfaces.Target) (*interfaces.TargetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := &interfaces.TargetRecord{Lifecycle: interfaces.LifecycleUnknown}
	if rec, exists := s.records[target.ID]; exists {
		next = rec.Copy()
	}
	next.Target = target
	next.Revision++
	next.UpdatedAt = time.Now().UTC()

	stored := next.Copy()
	s.records[target.ID] = stored
	return stored.Copy(), nil
}

// Get returns a copy of the record
func (s *MemoryStore) Get(_ context.Context, id string) (*interfaces.TargetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, interfaces.NewError(interfaces.KindNotFound, "target %q not found", id)
	}
	return rec.Copy(), nil
}

// List returns selected records sorted by id
func (s *MemoryStore) List(_ context.Context, selector interfaces.Selector) ([]*interfaces.TargetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*interfaces.TargetRecord
	for _, rec := range s.records {
		if selector.Matches(rec.Target) {
			out = append(out, rec.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target.ID < out[j].Target.ID })
	return out, nil
}

// Delete removes a record
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return interfaces.NewError(interfaces.KindNotFound, "target %q not found", id)
	}
	delete(s.records, id)
	return nil
}

// Swap replaces the record if its revision still equals expectedRevision
func (s *MemoryStore) Swap(_ context.Context, record *interfaces.TargetRecord, expectedRevision int64) (*interfaces.TargetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[record.Target.ID]
	if !exists {
		return nil, interfaces.NewError(interfaces.KindNotFound, "target %q not found", record.Target.ID)
	}
	if current.Revision != expectedRevision {
		return nil, fmt.Errorf("target %q at revision %d: %w", record.Target.ID, expectedRevision, interfaces.ErrRevisionConflict)
	}

	next := record.Copy()
	next.Revision = expectedRevision + 1
	next.UpdatedAt = time.Now().UTC()
	s.records[record.Target.ID] = next
	return next.Copy(), nil
}
