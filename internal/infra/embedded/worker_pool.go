package embedded

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/pkg/logging"
)

// WorkerPool implements interfaces.WorkerPool using gammazero/workerpool
type WorkerPool struct {
	pool    *workerpool.WorkerPool
	queue   *Queue
	handler interfaces.TriggerHandler
	logger  *logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// WorkerPoolConfig configures the worker pool
type WorkerPoolConfig struct {
	Workers int
	Queue   *Queue
	Handler interfaces.TriggerHandler
}

// NewWorkerPool creates a new embedded worker pool
func NewWorkerPool(config WorkerPoolConfig) (*WorkerPool, error) {
	if config.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		pool:    workerpool.New(config.Workers),
		queue:   config.Queue,
		handler: config.Handler,
		logger:  logging.NewLogger("embedded-worker"),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins processing requests from the queue
func (p *WorkerPool) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.processLoop()
}

// Stop stops dequeuing and waits for in-flight requests
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.pool.StopWait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop timeout: %w", ctx.Err())
	}
}

// processLoop continuously dequeues and dispatches requests
func (p *WorkerPool) processLoop() {
	defer p.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker pool process loop panicked: %v", r)
		}
	}()

	for {
		req, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			// Context canceled or queue closed
			return
		}

		p.pool.Submit(func() {
			p.process(req)
		})
	}
}

// process handles a single request
func (p *WorkerPool) process(req *interfaces.TriggerRequest) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker pool panic while processing request %s: %v", req.ID, r)
			p.queue.MarkFailed()
		}
	}()

	ctx := logging.WithCorrelationID(p.ctx, req.ID)
	if err := p.handler.Handle(ctx, req); err != nil {
		p.logger.Error("Trigger %s for %s@%s failed: %v", req.ID, req.Repository, req.Revision, err)
		p.queue.MarkFailed()
		return
	}
	p.logger.Debug("Trigger %s for %s@%s processed", req.ID, req.Repository, req.Revision)
}

// GetWorkerCount returns the configured number of workers
func (p *WorkerPool) GetWorkerCount() int {
	return p.pool.Size()
}

// GetQueuedCount returns the number of requests waiting for a free worker
func (p *WorkerPool) GetQueuedCount() int {
	return p.pool.WaitingQueueSize()
}
