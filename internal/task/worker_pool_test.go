package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// mockTaskQueue implements TaskQueueReader for testing
type mockTaskQueue struct {
	ch chan Runnable
}

func newMockTaskQueue() *mockTaskQueue {
	return &mockTaskQueue{
		ch: make(chan Runnable, 10),
	}
}

func (m *mockTaskQueue) GetChannel() <-chan Runnable {
	return m.ch
}

func TestNewWorkerPool(t *testing.T) {
	logger := setupTestLogger()
	taskQueue := newMockTaskQueue()
	config := WorkerPoolConfig{
		WorkerCount: 5,
	}

	pool := NewWorkerPool(taskQueue, config, logger)

	assert.NotNil(t, pool)
	assert.Equal(t, 5, pool.workerCount)
	assert.Equal(t, taskQueue, pool.taskQueue)
	assert.NotNil(t, pool.ctx)
	assert.NotNil(t, pool.cancel)
	assert.NotNil(t, pool.logger)
	assert.Nil(t, pool.errorHandler)

	// Test with invalid worker count (should default to 1)
	invalidConfig := WorkerPoolConfig{
		WorkerCount: 0,
	}

	pool = NewWorkerPool(taskQueue, invalidConfig, logger)
	assert.Equal(t, 1, pool.workerCount)

	// Test with negative worker count (should default to 1)
	invalidConfig.WorkerCount = -5
	pool = NewWorkerPool(taskQueue, invalidConfig, logger)
	assert.Equal(t, 1, pool.WorkerCount())
}

func TestSetErrorHandler(t *testing.T) {
	logger := setupTestLogger()
	taskQueue := newMockTaskQueue()
	config := DefaultWorkerPoolConfig()
	pool := NewWorkerPool(taskQueue, config, logger)

	// Initially the error handler should be nil
	assert.Nil(t, pool.errorHandler)

	pool.SetErrorHandler(func(r Runnable, err error) {})

	assert.NotNil(t, pool.errorHandler)
}

func TestWorkerPool_Start_Stop(t *testing.T) {
	logger := setupTestLogger()
	taskQueue := newMockTaskQueue()
	config := WorkerPoolConfig{
		WorkerCount: 2,
	}

	pool := NewWorkerPool(taskQueue, config, logger)

	pool.Start()
	// A second Start must not spawn more workers
	pool.Start()

	time.Sleep(50 * time.Millisecond)

	pool.Stop()
	assert.Equal(t, int64(0), pool.Active())
}

func TestWorkerPool_ProcessTask_Success(t *testing.T) {
	logger := setupTestLogger()
	taskQueue := newMockTaskQueue()
	config := WorkerPoolConfig{
		WorkerCount: 1,
	}

	completed := make(chan struct{})

	task := newMockRunnable()
	task.execFn = func(ctx context.Context) error {
		completed <- struct{}{}
		return nil
	}

	pool := NewWorkerPool(taskQueue, config, logger)
	pool.Start()

	taskQueue.ch <- task

	select {
	case <-completed:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for task to complete")
	}

	pool.Stop()
	assert.Equal(t, int64(1), pool.Processed())
}

func TestWorkerPool_ProcessTask_Error(t *testing.T) {
	logger := setupTestLogger()
	taskQueue := newMockTaskQueue()
	config := WorkerPoolConfig{
		WorkerCount: 1,
	}

	errorHandled := make(chan error)

	expectedErr := errors.New("test error")
	task := newMockRunnable()
	task.execFn = func(ctx context.Context) error {
		return expectedErr
	}

	pool := NewWorkerPool(taskQueue, config, logger)
	pool.SetErrorHandler(func(r Runnable, err error) {
		errorHandled <- err
	})
	pool.Start()

	taskQueue.ch <- task

	select {
	case err := <-errorHandled:
		assert.Equal(t, expectedErr, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for error handler")
	}

	pool.Stop()
}

func TestWorkerPool_ProcessTask_Panic(t *testing.T) {
	logger := setupTestLogger()
	taskQueue := newMockTaskQueue()
	config := WorkerPoolConfig{
		WorkerCount: 1,
	}

	errorHandled := make(chan error)

	task := newMockRunnable()
	task.execFn = func(ctx context.Context) error {
		panic("test panic")
	}

	pool := NewWorkerPool(taskQueue, config, logger)
	pool.SetErrorHandler(func(r Runnable, err error) {
		errorHandled <- err
	})
	pool.Start()

	taskQueue.ch <- task

	select {
	case err := <-errorHandled:
		assert.Contains(t, err.Error(), "panic")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for error handler after panic")
	}

	// The worker survived the panic and keeps processing
	done := make(chan struct{})
	next := newMockRunnable()
	next.execFn = func(ctx context.Context) error {
		close(done)
		return nil
	}
	taskQueue.ch <- next

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Worker did not survive the panic")
	}

	pool.Stop()
}

func TestWorkerPool_ErrorHandlerPanic(t *testing.T) {
	logger := setupTestLogger()
	taskQueue := newMockTaskQueue()

	task := newMockRunnable()
	task.execFn = func(ctx context.Context) error {
		return errors.New("fail")
	}

	pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 1}, logger)
	pool.SetErrorHandler(func(r Runnable, err error) {
		panic("handler panic")
	})
	pool.Start()

	taskQueue.ch <- task
	close(taskQueue.ch)

	waited := make(chan struct{})
	go func() {
		pool.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for workers to drain")
	}
	assert.Equal(t, int64(1), pool.Processed())
}

func TestWorkerPool_Shutdown_DuringTask(t *testing.T) {
	logger := setupTestLogger()
	taskQueue := newMockTaskQueue()
	config := WorkerPoolConfig{
		WorkerCount: 1,
	}

	taskStarted := make(chan struct{})
	allowFinish := make(chan struct{})
	taskCompleted := make(chan struct{})

	task := newMockRunnable()
	task.execFn = func(ctx context.Context) error {
		close(taskStarted)

		select {
		case <-ctx.Done():
			close(taskCompleted)
			return ctx.Err()
		case <-allowFinish:
			close(taskCompleted)
			return nil
		}
	}

	pool := NewWorkerPool(taskQueue, config, logger)
	pool.Start()

	taskQueue.ch <- task

	select {
	case <-taskStarted:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for task to start")
	}

	stopDone := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopDone)
	}()

	select {
	case <-taskCompleted:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for task to be canceled")
	}

	select {
	case <-stopDone:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Timed out waiting for worker pool to stop")
	}
}

func TestWorkerPool_RunsEnvelopes(t *testing.T) {
	logger := setupTestLogger()
	taskQueue := newMockTaskQueue()

	rec := newSequenceRecorder()
	env := NewEnvelope(func(ctx context.Context, args Args) (any, error) {
		return "done", nil
	}, nil, nil)
	rec.attach(t, env)

	pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 1}, logger)
	pool.Start()

	taskQueue.ch <- env
	close(taskQueue.ch)
	pool.Wait()

	require.Equal(t, []string{"started", "finished(done)", "restored"}, rec.sequence(env.ID()))
	assert.Equal(t, StateRestored, env.State())
}

func TestWorkerPool_Stop_DoesNotStartQueuedTasks(t *testing.T) {
	// Receiving a queued task and seeing the cancel race inside select, so repeat
	for i := 0; i < 20; i++ {
		taskQueue := newMockTaskQueue()
		pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 1}, setupTestLogger())

		started := atomic.NewInt32(0)
		firstStarted := make(chan struct{})
		for j := 0; j < 5; j++ {
			task := newMockRunnable()
			first := j == 0
			task.execFn = func(ctx context.Context) error {
				started.Inc()
				if first {
					close(firstStarted)
					<-ctx.Done()
				}
				return ctx.Err()
			}
			taskQueue.ch <- task
		}

		pool.Start()
		select {
		case <-firstStarted:
		case <-time.After(500 * time.Millisecond):
			t.Fatal("Timed out waiting for first task to start")
		}

		pool.Stop()

		assert.Equal(t, int32(1), started.Load(), "no queued task may start after Stop")
	}
}
