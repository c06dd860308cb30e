// Package distributed provides Redis-backed infrastructure: an asynq trigger
// queue and worker pool, and a run store shared by several launchpad servers.
package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/pkg/logging"
)

const (
	// TaskTypeTrigger is the task type for push triggers
	TaskTypeTrigger = "trigger:process"
	// QueueName is the asynq queue carrying trigger tasks
	QueueName = "triggers"
	// DefaultTaskRetries is how often asynq retries a failed trigger
	DefaultTaskRetries = 2
)

// QueueConfig configures the distributed queue
type QueueConfig struct {
	RedisURL       string
	TaskRetries    int
	EnqueueRetries int
	RetryDelay     time.Duration
	CircuitBreaker *CircuitBreakerConfig
}

// Queue implements interfaces.TriggerQueue using Asynq (Redis-backed)
type Queue struct {
	client     *asynq.Client
	inspector  *asynq.Inspector
	redisOpt   asynq.RedisConnOpt
	breaker    *CircuitBreaker
	classifier *ErrorClassifier
	config     QueueConfig
	logger     *logging.Logger
}

// NewQueue creates a new distributed trigger queue
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if cfg.TaskRetries <= 0 {
		cfg.TaskRetries = DefaultTaskRetries
	}
	if cfg.EnqueueRetries <= 0 {
		cfg.EnqueueRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}

	classifier := NewErrorClassifier()
	breakerCfg := DefaultCircuitBreakerConfig()
	if cfg.CircuitBreaker != nil {
		copied := *cfg.CircuitBreaker
		breakerCfg = &copied
	}
	if breakerCfg.IsFailure == nil {
		// Only Redis trouble trips the breaker; a caller giving up does not.
		breakerCfg.IsFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled) && classifier.Classify(err).Type != ErrorTypePermanent
		}
	}

	return &Queue{
		client:     asynq.NewClient(redisOpt),
		inspector:  asynq.NewInspector(redisOpt),
		redisOpt:   redisOpt,
		breaker:    NewCircuitBreaker("trigger-enqueue", breakerCfg),
		classifier: classifier,
		config:     cfg,
		logger:     logging.Queue,
	}, nil
}

// BreakerState reports the enqueue circuit breaker state
func (q *Queue) BreakerState() string {
	return q.breaker.State().String()
}

// Enqueue adds a trigger request to the distributed queue. Redis failures
// that outlive the retries, or an open circuit, report QueueUnavailable.
func (q *Queue) Enqueue(ctx context.Context, req *interfaces.TriggerRequest) error {
	if req == nil {
		return interfaces.NewError(interfaces.KindInvalidInput, "trigger request is nil")
	}
	if req.ID == "" {
		return interfaces.NewError(interfaces.KindInvalidInput, "trigger request ID is empty")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger request: %w", err)
	}
	task := asynq.NewTask(TaskTypeTrigger, payload,
		asynq.TaskID(req.ID),
		asynq.Queue(QueueName),
		asynq.MaxRetry(q.config.TaskRetries),
	)

	err = q.breaker.Execute(ctx, func() error {
		return q.enqueueWithRetry(ctx, task, req.ID)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCircuitOpen):
		return interfaces.WrapError(interfaces.KindQueueUnavailable, err, "trigger queue is unavailable")
	case ctx.Err() != nil:
		return fmt.Errorf("enqueue canceled: %w", err)
	default:
		return interfaces.WrapError(interfaces.KindQueueUnavailable, err, "failed to enqueue trigger %s", req.ID)
	}
}

func (q *Queue) enqueueWithRetry(ctx context.Context, task *asynq.Task, id string) error {
	delay := q.config.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= q.config.EnqueueRetries; attempt++ {
		info, err := q.client.EnqueueContext(ctx, task)
		if err == nil {
			q.logger.Info("Enqueued trigger %s, task ID: %s", id, info.ID)
			return nil
		}
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// Same request id delivered twice; the first one is already queued.
			q.logger.Info("Trigger %s is already queued", id)
			return nil
		}
		lastErr = err

		errorInfo := q.classifier.Classify(err)
		if !errorInfo.Retryable || attempt == q.config.EnqueueRetries {
			return fmt.Errorf("enqueue failed after %d attempts (%s): %w", attempt, errorInfo.Description, err)
		}
		if delay < errorInfo.MinBackoff {
			delay = errorInfo.MinBackoff
		}
		q.logger.Warn("Enqueue of %s attempt %d/%d failed (%s): %v, retrying in %v",
			id, attempt, q.config.EnqueueRetries, errorInfo.Type, err, delay)

		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return fmt.Errorf("retry canceled: %w", ctx.Err())
		}
	}
	return lastErr
}

// Close closes the queue client
func (q *Queue) Close() error {
	if err := q.inspector.Close(); err != nil {
		q.logger.Warn("Failed to close inspector: %v", err)
	}
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close asynq client: %w", err)
	}
	return nil
}

// RedisConnOpt returns the connection options shared with the worker pool
func (q *Queue) RedisConnOpt() asynq.RedisConnOpt {
	return q.redisOpt
}

// Inspector returns the inspector used for metrics. It is closed by Close.
func (q *Queue) Inspector() *asynq.Inspector {
	return q.inspector
}

// GetMetrics returns queue metrics
func (q *Queue) GetMetrics() interfaces.QueueMetrics {
	info, err := q.inspector.GetQueueInfo(QueueName)
	if err != nil {
		// The queue does not exist until the first task is enqueued.
		q.logger.Debug("Failed to get queue info: %v", err)
		return interfaces.QueueMetrics{}
	}

	var oldest time.Time
	if info.Pending > 0 {
		tasks, err := q.inspector.ListPendingTasks(QueueName, asynq.PageSize(1))
		if err == nil && len(tasks) > 0 {
			var req interfaces.TriggerRequest
			if json.Unmarshal(tasks[0].Payload, &req) == nil {
				oldest = req.ReceivedAt
			}
		}
	}

	return interfaces.QueueMetrics{
		TotalEnqueued:   int64(info.Processed + info.Pending + info.Active + info.Scheduled + info.Retry),
		TotalDequeued:   int64(info.Processed),
		TotalFailed:     int64(info.Failed),
		CurrentDepth:    info.Pending,
		AverageWaitTime: info.Latency,
		OldestRequest:   oldest,
	}
}
