package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/atomic"
)

// WorkerPool manages a pool of worker goroutines that process runnables
// from a task queue. It handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	// taskQueue provides read access to the runnables to be processed
	taskQueue TaskQueueReader

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is passed to every runnable and cancelled by Stop
	ctx context.Context

	// cancel is the function to call to cancel the context
	cancel context.CancelFunc

	// logger for structured logging
	logger *slog.Logger

	// errorHandler is called when a runnable returns an error or panics
	// If nil, errors are only logged
	errorHandler func(r Runnable, err error)

	started   *atomic.Bool
	active    *atomic.Int64
	processed *atomic.Int64
	metrics   *Metrics
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
		WorkerCount: 2,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(taskQueue TaskQueueReader, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	// Apply defaults for invalid config values
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	// Create a cancelable context for shutdown coordination
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		taskQueue:    taskQueue,
		workerCount:  workerCount,
		wg:           sync.WaitGroup{},
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With("component", "worker_pool"),
		errorHandler: nil, // Default to nil, can be set later with SetErrorHandler
		started:      atomic.NewBool(false),
		active:       atomic.NewInt64(0),
		processed:    atomic.NewInt64(0),
	}
}

// SetErrorHandler allows setting a custom error handler for runnable failures.
// It must be called before Start.
func (p *WorkerPool) SetErrorHandler(handler func(r Runnable, err error)) {
	p.errorHandler = handler
}

// SetMetrics attaches Prometheus metrics. It must be called before Start.
func (p *WorkerPool) SetMetrics(m *Metrics) {
	p.metrics = m
}

// Start launches the worker goroutines. Calling Start more than once has no effect.
func (p *WorkerPool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		p.logger.Warn("worker pool already started")
		return
	}

	p.logger.Info("starting worker pool", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels the context passed to running work and waits for every worker
// to exit, however long the running work takes to return. Runnables still
// queued, or received after the cancel, are not started.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped", "processed", p.processed.Load())
}

// Wait blocks until every worker has exited, which happens once the queue is
// closed and drained, or after Stop.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// WorkerCount returns the number of workers.
func (p *WorkerPool) WorkerCount() int {
	return p.workerCount
}

// Active returns the number of runnables currently executing.
func (p *WorkerPool) Active() int64 {
	return p.active.Load()
}

// Processed returns the number of runnables that have completed.
func (p *WorkerPool) Processed() int64 {
	return p.processed.Load()
}

// worker processes runnables from the queue
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	tasks := p.taskQueue.GetChannel()
	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping worker", "worker_id", id)
			return

		case r, ok := <-tasks:
			if !ok {
				p.logger.Debug("task channel closed, stopping worker", "worker_id", id)
				return
			}
			// Stop may have raced the receive; a stopped pool starts nothing new.
			if p.ctx.Err() != nil {
				p.logger.Debug("pool stopped, not starting task",
					"worker_id", id,
					"task_id", r.ID())
				return
			}

			p.process(r, id, len(tasks))
		}
	}
}

// process executes a single runnable. Nothing the runnable does, including a
// panic, is allowed to take the worker down.
func (p *WorkerPool) process(r Runnable, workerID int, queued int) {
	logger := p.logger.With(
		"task_id", r.ID(),
		"task_name", r.Name(),
		"worker_id", workerID,
	)

	p.active.Inc()
	if p.metrics != nil {
		p.metrics.activeWorkers.Inc()
		p.metrics.queueDepth.Set(float64(queued))
	}
	defer func() {
		p.active.Dec()
		p.processed.Inc()
		if p.metrics != nil {
			p.metrics.activeWorkers.Dec()
		}
	}()

	logger.Debug("processing task")

	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = r.Run(p.ctx)
	})
	if rec := pc.Recovered(); rec != nil {
		err = fmt.Errorf("task panicked: %v", rec.Value)
	}

	if err == nil {
		logger.Debug("task completed")
		return
	}

	logger.Error("task execution failed", "error", err)
	if p.errorHandler != nil {
		p.callErrorHandler(r, err)
	}
}

func (p *WorkerPool) callErrorHandler(r Runnable, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		p.errorHandler(r, err)
	})
	if rec := pc.Recovered(); rec != nil {
		p.logger.Error("error handler panicked", "task_id", r.ID(), "panic", rec.Value)
	}
}
