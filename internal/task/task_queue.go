package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// TaskQueue implements a buffered queue that satisfies both
// TaskQueueReader and TaskQueueWriter interfaces
type TaskQueue struct {
	tasks  chan Runnable
	mu     sync.RWMutex
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewTaskQueue creates a new task queue with the specified buffer size
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	if size < 0 {
		size = 0
	}
	return &TaskQueue{
		tasks:  make(chan Runnable, size),
		done:   make(chan struct{}),
		logger: logger,
		closed: false,
	}
}

// Enqueue adds a runnable to the queue for processing
// Returns an error if the queue is full or closed
func (q *TaskQueue) Enqueue(r Runnable) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- r:
		q.logEnqueued(r)
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.tasks))
	}
}

// EnqueueWait adds a runnable to the queue, blocking until there is room,
// ctx is done or the queue is closed
func (q *TaskQueue) EnqueueWait(ctx context.Context, r Runnable) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- r:
		q.logEnqueued(r)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	}
}

// Close closes the task queue, preventing further submission.
// Runnables already queued remain readable from the channel.
func (q *TaskQueue) Close() {
	q.closeOnce.Do(func() {
		// Release blocked EnqueueWait callers; they hold the read lock.
		close(q.done)

		q.mu.Lock()
		defer q.mu.Unlock()
		q.closed = true
		close(q.tasks)
		q.logger.Info("task queue closed")
	})
}

// GetChannel returns a read-only channel for consuming runnables
func (q *TaskQueue) GetChannel() <-chan Runnable {
	return q.tasks
}

// Len returns the number of queued runnables
func (q *TaskQueue) Len() int {
	return len(q.tasks)
}

// Cap returns the queue capacity
func (q *TaskQueue) Cap() int {
	return cap(q.tasks)
}

func (q *TaskQueue) logEnqueued(r Runnable) {
	q.logger.Debug("task enqueued",
		"task_id", r.ID(),
		"task_name", r.Name(),
		"queue_len", len(q.tasks),
		"queue_cap", cap(q.tasks))
}
