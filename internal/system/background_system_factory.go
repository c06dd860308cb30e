package system

import (
	"context"
	"fmt"

	"github.com/lattiam/launchpad/internal/config"
	"github.com/lattiam/launchpad/internal/infra/distributed"
	"github.com/lattiam/launchpad/internal/infra/embedded"
	"github.com/lattiam/launchpad/internal/interfaces"
)

// BackgroundSystemComponents holds the trigger queue and the workers draining it
type BackgroundSystemComponents struct {
	Queue      interfaces.TriggerQueue
	WorkerPool interfaces.WorkerPool
}

// NewBackgroundSystem creates the appropriate background system based on configuration
func NewBackgroundSystem(cfg *config.ServerConfig, handler interfaces.TriggerHandler) (*BackgroundSystemComponents, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("trigger handler is required")
	}

	switch cfg.Queue.Type {
	case config.QueueTypeEmbedded:
		return newEmbeddedSystem(cfg, handler)
	case config.QueueTypeDistributed:
		return newDistributedSystem(cfg, handler)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Queue.Type)
	}
}

// newEmbeddedSystem creates an embedded (in-process) background system
func newEmbeddedSystem(cfg *config.ServerConfig, handler interfaces.TriggerHandler) (*BackgroundSystemComponents, error) {
	queue := embedded.NewQueue(cfg.Queue.Capacity)

	pool, err := embedded.NewWorkerPool(embedded.WorkerPoolConfig{
		Workers: cfg.Queue.Workers,
		Queue:   queue,
		Handler: handler,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded worker pool: %w", err)
	}

	return &BackgroundSystemComponents{
		Queue:      queue,
		WorkerPool: pool,
	}, nil
}

// newDistributedSystem creates a distributed (Redis-backed) background system
func newDistributedSystem(cfg *config.ServerConfig, handler interfaces.TriggerHandler) (*BackgroundSystemComponents, error) {
	if cfg.Queue.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required for distributed mode")
	}

	queue, err := distributed.NewQueue(distributed.QueueConfig{RedisURL: cfg.Queue.RedisURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create distributed queue: %w", err)
	}

	pool, err := distributed.NewWorkerPool(distributed.WorkerPoolConfig{
		RedisURL:    cfg.Queue.RedisURL,
		Handler:     handler,
		Concurrency: cfg.Queue.Workers,
	})
	if err != nil {
		_ = queue.Close()
		return nil, fmt.Errorf("failed to create distributed worker pool: %w", err)
	}

	return &BackgroundSystemComponents{
		Queue:      queue,
		WorkerPool: pool,
	}, nil
}

// Close gracefully shuts down all components
func (c *BackgroundSystemComponents) Close(ctx context.Context) error {
	if err := c.WorkerPool.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop worker pool: %w", err)
	}

	switch q := c.Queue.(type) {
	case interface{ Close() error }:
		if err := q.Close(); err != nil {
			return fmt.Errorf("failed to close queue: %w", err)
		}
	case interface{ Close() }:
		q.Close()
	}

	return nil
}
