package interfaces

import (
	"context"
	"time"
)

// TriggerRequest is a push notification waiting to be turned into a run
type TriggerRequest struct {
	ID          string    `json:"id"`
	Repository  string    `json:"repository"`
	Revision    string    `json:"revision"`
	Application string    `json:"application"`
	Source      string    `json:"source,omitempty"` // local tree; empty means fetch Revision
	Targets     string    `json:"targets,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// TriggerQueue accepts trigger requests for asynchronous processing
type TriggerQueue interface {
	Enqueue(ctx context.Context, req *TriggerRequest) error
	GetMetrics() QueueMetrics
}

// TriggerHandler processes one dequeued request
type TriggerHandler interface {
	Handle(ctx context.Context, req *TriggerRequest) error
}

// TriggerHandlerFunc adapts a function to TriggerHandler
type TriggerHandlerFunc func(ctx context.Context, req *TriggerRequest) error

// Handle calls f
func (f TriggerHandlerFunc) Handle(ctx context.Context, req *TriggerRequest) error {
	return f(ctx, req)
}

// WorkerPool manages the lifecycle of background workers
type WorkerPool interface {
	Start()
	Stop(ctx context.Context) error
}

// QueueMetrics provides metrics about the trigger queue
type QueueMetrics struct {
	TotalEnqueued   int64         `json:"total_enqueued"`
	TotalDequeued   int64         `json:"total_dequeued"`
	TotalFailed     int64         `json:"total_failed"`
	CurrentDepth    int           `json:"current_depth"`
	AverageWaitTime time.Duration `json:"average_wait_time"`
	OldestRequest   time.Time     `json:"oldest_request,omitempty"`
}
