package task

import (
	"context"

	"github.com/google/uuid"
)

// Runnable is a unit of work a WorkerPool can execute
type Runnable interface {
	// ID returns the runnable's unique identifier
	ID() uuid.UUID

	// Name returns a human-friendly label used in logs
	Name() string

	// Run executes the work on the calling goroutine
	Run(ctx context.Context) error
}

// TaskQueueReader provides read-only access to the task channel
// allowing workers to consume runnables without the ability to enqueue
type TaskQueueReader interface {
	// GetChannel returns a read-only channel for consuming runnables
	GetChannel() <-chan Runnable
}

// TaskQueueWriter provides write access to the task queue
// allowing callers to enqueue runnables for processing
type TaskQueueWriter interface {
	// Enqueue adds a runnable to the queue without blocking
	// Returns an error if the queue is full or closed
	Enqueue(r Runnable) error

	// EnqueueWait adds a runnable to the queue, waiting for room until ctx is done
	EnqueueWait(ctx context.Context, r Runnable) error

	// Close closes the task queue, preventing further submission
	Close()
}
