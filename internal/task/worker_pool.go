package task

import (
	"context"
	"log/slog"
	"sync"
)

// TaskHandler executes one popped task on a worker goroutine.
type TaskHandler func(ctx context.Context, t *Task, workerID int)

// WorkerPool manages a fixed set of worker goroutines that consume tasks
// from a TaskQueue until it is closed and empty.
type WorkerPool struct {
	// queue provides the tasks to be processed
	queue *TaskQueue

	// workerCount is the number of concurrent workers to start
	workerCount int

	// handler runs each task
	handler TaskHandler

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is handed to every task and cancelled by Abort
	ctx    context.Context
	cancel context.CancelFunc

	logger    *slog.Logger
	startOnce sync.Once
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 5,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(queue *TaskQueue, config WorkerPoolConfig, handler TaskHandler, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}

	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:       queue,
		workerCount: workerCount,
		handler:     handler,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// WorkerCount returns the number of workers.
func (p *WorkerPool) WorkerCount() int {
	return p.workerCount
}

// Start launches the workers. Calling it again has no effect.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting worker pool", "worker_count", p.workerCount)
		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Wait blocks until every worker has exited or ctx is done.
// Workers exit once the queue is closed and drained.
func (p *WorkerPool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort cancels the context passed to running tasks.
func (p *WorkerPool) Abort() {
	p.cancel()
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	for {
		t, ok := p.queue.Pop()
		if !ok {
			p.logger.Debug("task queue closed, stopping worker", "worker_id", id)
			return
		}
		p.handler(p.ctx, t, id)
	}
}
