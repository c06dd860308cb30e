package mocks

import (
	"context"
	"sync"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// MockTriggerQueue implements interfaces.TriggerQueue by recording requests
type MockTriggerQueue struct {
	requests []*interfaces.TriggerRequest
	err      error
	metrics  interfaces.QueueMetrics
	mutex    sync.RWMutex
}

// NewMockTriggerQueue creates an empty queue
func NewMockTriggerQueue() *MockTriggerQueue {
	return &MockTriggerQueue{}
}

// SetShouldFail makes Enqueue return err
func (m *MockTriggerQueue) SetShouldFail(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.err = err
}

// SetMetrics sets what GetMetrics reports
func (m *MockTriggerQueue) SetMetrics(metrics interfaces.QueueMetrics) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.metrics = metrics
}

// Enqueue implements interfaces.TriggerQueue
func (m *MockTriggerQueue) Enqueue(_ context.Context, req *interfaces.TriggerRequest) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.err != nil {
		return m.err
	}
	m.requests = append(m.requests, req)
	m.metrics.TotalEnqueued++
	m.metrics.CurrentDepth++
	return nil
}

// GetMetrics implements interfaces.TriggerQueue
func (m *MockTriggerQueue) GetMetrics() interfaces.QueueMetrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.metrics
}

// Requests returns the queued requests
func (m *MockTriggerQueue) Requests() []*interfaces.TriggerRequest {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]*interfaces.TriggerRequest(nil), m.requests...)
}
