// Package embedded provides in-process infrastructure for running launchpad on a single host.
package embedded

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// Queue implements interfaces.TriggerQueue using a Go channel
type Queue struct {
	mu        sync.RWMutex
	requests  chan *interfaces.TriggerRequest
	closed    bool
	closeOnce sync.Once

	// Metrics, guarded by statsMu since Enqueue holds mu for reading
	statsMu        sync.Mutex
	totalEnqueued  int64
	totalDequeued  int64
	totalFailed    int64
	oldestEnqueued time.Time
	totalWaitTime  time.Duration
}

// NewQueue creates a new embedded trigger queue
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 100
	}

	return &Queue{
		requests: make(chan *interfaces.TriggerRequest, capacity),
	}
}

// Enqueue adds a request to the queue. A closed or full queue reports QueueUnavailable.
func (q *Queue) Enqueue(ctx context.Context, req *interfaces.TriggerRequest) error {
	if req == nil {
		return interfaces.NewError(interfaces.KindInvalidInput, "trigger request is nil")
	}
	if req.ID == "" {
		return interfaces.NewError(interfaces.KindInvalidInput, "trigger request ID is empty")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}

	// Holding the read lock across the send keeps Close from racing with it.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return interfaces.NewError(interfaces.KindQueueUnavailable, "queue is closed")
	}

	select {
	case q.requests <- req:
	default:
		return interfaces.NewError(interfaces.KindQueueUnavailable, "queue is full")
	}

	q.recordEnqueue(req)
	return nil
}

func (q *Queue) recordEnqueue(req *interfaces.TriggerRequest) {
	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	q.totalEnqueued++
	if q.oldestEnqueued.IsZero() {
		q.oldestEnqueued = req.ReceivedAt
		if q.oldestEnqueued.IsZero() {
			q.oldestEnqueued = time.Now()
		}
	}
}

// Dequeue retrieves the next request, blocking until one arrives, ctx ends or the queue closes
func (q *Queue) Dequeue(ctx context.Context) (*interfaces.TriggerRequest, error) {
	select {
	case req, ok := <-q.requests:
		if !ok {
			return nil, fmt.Errorf("queue is closed")
		}

		q.statsMu.Lock()
		q.totalDequeued++
		if !req.ReceivedAt.IsZero() {
			q.totalWaitTime += time.Since(req.ReceivedAt)
		}
		if len(q.requests) == 0 {
			q.oldestEnqueued = time.Time{}
		}
		q.statsMu.Unlock()

		return req, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("context canceled: %w", ctx.Err())
	}
}

// MarkFailed counts a request whose processing failed
func (q *Queue) MarkFailed() {
	q.statsMu.Lock()
	q.totalFailed++
	q.statsMu.Unlock()
}

// Close closes the queue; requests already buffered can still be dequeued
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		q.closed = true
		close(q.requests)
	})
}

// Size returns the current number of requests in the queue
func (q *Queue) Size() int {
	return len(q.requests)
}

// Capacity returns the queue capacity
func (q *Queue) Capacity() int {
	return cap(q.requests)
}

// GetMetrics returns queue metrics
func (q *Queue) GetMetrics() interfaces.QueueMetrics {
	q.statsMu.Lock()
	defer q.statsMu.Unlock()

	metrics := interfaces.QueueMetrics{
		TotalEnqueued: q.totalEnqueued,
		TotalDequeued: q.totalDequeued,
		TotalFailed:   q.totalFailed,
		CurrentDepth:  len(q.requests),
		OldestRequest: q.oldestEnqueued,
	}
	if q.totalDequeued > 0 {
		metrics.AverageWaitTime = q.totalWaitTime / time.Duration(q.totalDequeued)
	}
	return metrics
}
