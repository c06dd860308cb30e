package embedded

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// RunStore implements interfaces.RunStore using in-memory storage
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*interfaces.DeploymentRun
}

// NewRunStore creates a new in-memory run store
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*interfaces.DeploymentRun),
	}
}

// Save stores a copy of the run, replacing any previous snapshot
func (s *RunStore) Save(_ context.Context, run *interfaces.DeploymentRun) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if run.ID == "" {
		return fmt.Errorf("run ID is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.Copy()
	return nil
}

// Get returns a copy of the run
func (s *RunStore) Get(_ context.Context, id string) (*interfaces.DeploymentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, interfaces.NewError(interfaces.KindNotFound, "run %q not found", id)
	}
	return run.Copy(), nil
}

// List returns runs matching the filter, newest first
func (s *RunStore) List(_ context.Context, filter interfaces.RunFilter) ([]*interfaces.DeploymentRun, error) {
	s.mu.RLock()
	var results []*interfaces.DeploymentRun
	for _, run := range s.runs {
		if filter.Matches(run) {
			results = append(results, run.Copy())
		}
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID > results[j].ID
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

// Delete removes a run
func (s *RunStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; !exists {
		return interfaces.NewError(interfaces.KindNotFound, "run %q not found", id)
	}
	delete(s.runs, id)
	return nil
}
