package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/offload/internal/events"
)

// RunnerConfig holds configuration for the task runner
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers process runnables
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount: 4,
		QueueSize:   100,
	}
}

// PoolStats is a point-in-time view of a Runner
type PoolStats struct {
	Workers   int
	Queued    int
	Active    int64
	Processed int64
}

// Runner accepts runnables and executes each exactly once on a bounded pool of
// workers. Runnables submitted to the same Runner may run concurrently and in
// any order.
type Runner struct {
	queue   *TaskQueue
	pool    *WorkerPool
	metrics *Metrics
	logger  *slog.Logger
}

// NewRunner creates a new Runner. Call Start before expecting work to run.
func NewRunner(config RunnerConfig, logger *slog.Logger) *Runner {
	logger = logger.With("component", "task_runner")
	queue := NewTaskQueue(config.QueueSize, logger)
	pool := NewWorkerPool(queue, WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger)

	return &Runner{
		queue:  queue,
		pool:   pool,
		logger: logger,
	}
}

// SetErrorHandler sets the handler for runnables that return an error or panic.
// Envelopes absorb their own failures, so for envelopes this only fires on
// ErrAlreadyRun. It must be called before Start.
func (r *Runner) SetErrorHandler(handler func(rn Runnable, err error)) {
	r.pool.SetErrorHandler(handler)
}

// SetMetrics attaches Prometheus metrics; envelopes submitted afterwards are
// observed automatically. It must be called before Start.
func (r *Runner) SetMetrics(m *Metrics) {
	r.metrics = m
	r.pool.SetMetrics(m)
}

// Start launches the worker pool
func (r *Runner) Start() {
	r.pool.Start()
}

// Submit adds a runnable to the queue without blocking.
// Returns ErrQueueFull or ErrQueueClosed if it cannot be accepted.
func (r *Runner) Submit(rn Runnable) error {
	return r.submit(rn, r.queue.Enqueue)
}

// SubmitWait adds a runnable to the queue, waiting for room until ctx is done.
func (r *Runner) SubmitWait(ctx context.Context, rn Runnable) error {
	return r.submit(rn, func(rn Runnable) error {
		return r.queue.EnqueueWait(ctx, rn)
	})
}

func (r *Runner) submit(rn Runnable, enqueue func(Runnable) error) error {
	var subs []events.Subscription
	env, isEnvelope := rn.(*Envelope)
	if isEnvelope && r.metrics != nil {
		var err error
		if subs, err = r.metrics.Observe(env); err != nil {
			return fmt.Errorf("failed to observe envelope: %w", err)
		}
	}

	if err := enqueue(rn); err != nil {
		if isEnvelope {
			for _, sub := range subs {
				env.Notifier().Unsubscribe(sub)
			}
		}
		return fmt.Errorf("failed to submit task: %w", err)
	}

	if r.metrics != nil {
		r.metrics.queueDepth.Set(float64(r.queue.Len()))
	}
	return nil
}

// Shutdown stops accepting new runnables and waits until every submitted one
// has finished. If ctx is done first, the context passed to running work is
// cancelled, queued runnables are abandoned and ctx.Err() is returned once the
// workers have exited. Work that ignores cancellation therefore holds Shutdown
// past the deadline; every started envelope has emitted restored by the time
// it returns.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.queue.Close()

	done := make(chan struct{})
	go func() {
		r.pool.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("task runner drained", "processed", r.pool.Processed())
		return nil
	case <-ctx.Done():
		r.logger.Warn("shutdown deadline reached, stopping workers",
			"queued", r.queue.Len(),
			"active", r.pool.Active())
		r.pool.Stop()
		return ctx.Err()
	}
}

// Stats returns a snapshot of the runner state
func (r *Runner) Stats() PoolStats {
	return PoolStats{
		Workers:   r.pool.WorkerCount(),
		Queued:    r.queue.Len(),
		Active:    r.pool.Active(),
		Processed: r.pool.Processed(),
	}
}
