package task

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Common errors returned by the task package
var (
	// ErrAlreadyRun is returned when Run is called on an envelope that has already run
	ErrAlreadyRun = errors.New("envelope has already run")

	// ErrQueueClosed is returned when submitting to a closed queue
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrQueueFull is returned when the queue has no room for another runnable
	ErrQueueFull = errors.New("task queue is full")

	// ErrNotFunc is returned by Func-adapted work when the wrapped value is not a function
	ErrNotFunc = errors.New("work is not a function")

	// ErrArity is returned by Func-adapted work when the argument count does not match
	ErrArity = errors.New("wrong number of arguments")

	// ErrArgType is returned by Func-adapted work when an argument has the wrong type
	ErrArgType = errors.New("argument type mismatch")

	// ErrResultShape is returned by Func-adapted work when the results cannot be mapped
	ErrResultShape = errors.New("unsupported result signature")
)

// TaskFailure describes why a unit of work did not complete. It is the payload
// behind every failed emission: Message is what observers display, the other
// fields keep the structured cause.
type TaskFailure struct {
	EnvelopeID uuid.UUID

	// Message is the human-readable description of the failure
	Message string

	// Err is the error returned by the work, or a panic converted to an error
	Err error

	// PanicValue is the recovered value when the work panicked
	PanicValue any

	// Stack is the goroutine stack captured at the panic site
	Stack []byte
}

// Error implements the error interface.
func (f *TaskFailure) Error() string {
	return f.Message
}

// Unwrap returns the underlying cause.
func (f *TaskFailure) Unwrap() error {
	return f.Err
}

// Panicked reports whether the failure came from a recovered panic.
func (f *TaskFailure) Panicked() bool {
	return f.PanicValue != nil
}

func failureFromError(id uuid.UUID, err error) *TaskFailure {
	return &TaskFailure{
		EnvelopeID: id,
		Message:    err.Error(),
		Err:        err,
	}
}

func failureFromPanic(id uuid.UUID, value any, stack []byte) *TaskFailure {
	err, ok := value.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", value)
	}
	return &TaskFailure{
		EnvelopeID: id,
		Message:    fmt.Sprint(value),
		Err:        err,
		PanicValue: value,
		Stack:      stack,
	}
}
