package distributed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/pkg/logging"
)

// WorkerPool implements interfaces.WorkerPool using Asynq Server
type WorkerPool struct {
	server      *asynq.Server
	mux         *asynq.ServeMux
	handler     interfaces.TriggerHandler
	logger      *logging.Logger
	concurrency int
}

// WorkerPoolConfig configures the distributed worker pool
type WorkerPoolConfig struct {
	RedisURL    string
	Handler     interfaces.TriggerHandler
	Concurrency int
}

// NewWorkerPool creates a new distributed worker pool
func NewWorkerPool(config WorkerPoolConfig) (*WorkerPool, error) {
	if config.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("trigger handler is required")
	}

	redisOpt, err := asynq.ParseRedisURI(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}

	logger := logging.Queue
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: config.Concurrency,
			Queues:      map[string]int{QueueName: 1},
			Logger:      NewAsynqLogger(logger),
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(context.Background())
				logger.Error("Error processing task %s (retry %d): %v", task.Type(), retried, err)
			}),
		},
	)

	pool := &WorkerPool{
		server:      server,
		mux:         asynq.NewServeMux(),
		handler:     config.Handler,
		logger:      logger,
		concurrency: config.Concurrency,
	}
	pool.mux.HandleFunc(TaskTypeTrigger, pool.handleTrigger)

	return pool, nil
}

// Start starts the worker pool
func (p *WorkerPool) Start() {
	p.logger.Info("Starting distributed worker pool with concurrency %d", p.concurrency)

	go func() {
		if err := p.server.Run(p.mux); err != nil {
			p.logger.Error("Worker pool stopped: %v", err)
		}
	}()
}

// Stop gracefully stops the worker pool
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.logger.Info("Stopping distributed worker pool")

	done := make(chan struct{})
	go func() {
		p.server.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Distributed worker pool stopped")
		return nil
	case <-ctx.Done():
		p.server.Stop()
		return fmt.Errorf("worker pool shutdown timed out: %w", ctx.Err())
	}
}

// handleTrigger decodes a trigger task and hands it to the handler. Errors a
// retry cannot fix skip asynq's retry.
func (p *WorkerPool) handleTrigger(ctx context.Context, task *asynq.Task) error {
	var req interfaces.TriggerRequest
	if err := json.Unmarshal(task.Payload(), &req); err != nil {
		return fmt.Errorf("failed to unmarshal trigger request: %w: %w", err, asynq.SkipRetry)
	}

	ctx = logging.WithCorrelationID(ctx, req.ID)
	p.logger.WithContext(ctx, logging.INFO, "Processing trigger for %s@%s", req.Repository, req.Revision)

	if err := p.handler.Handle(ctx, &req); err != nil {
		p.logger.Failure(ctx, "trigger", err)
		if !retryableTrigger(err) {
			return fmt.Errorf("trigger %s: %w: %w", req.ID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("trigger %s: %w", req.ID, err)
	}
	p.logger.Success(ctx, "trigger", req.Revision)
	return nil
}

// retryableTrigger reports whether redelivering a failed trigger may succeed
func retryableTrigger(err error) bool {
	switch interfaces.KindOf(err) {
	case interfaces.KindInvalidInput, interfaces.KindNotFound, interfaces.KindTargetBusy:
		return false
	}
	return true
}
