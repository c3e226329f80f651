package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxBackground is the default number of background refreshes that
// may run at once. Further tasks wait for a slot.
const DefaultMaxBackground = 4

// Task is a handle to a background refresh.
//
// The Store never cancels tasks itself: once spawned, a task runs to
// completion and its result is applied. Cancel is available to callers that
// want to abandon one explicitly.
type Task struct {
	ID  string
	Key string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Cancel cancels the task's context. It does not wait for the task to exit.
func (t *Task) Cancel() {
	t.cancel()
}

// Done returns a channel closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's error once Done is closed, nil before.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TaskQueue runs background tasks with bounded concurrency and lets callers
// wait for all in-flight work.
type TaskQueue struct {
	sem *semaphore.Weighted

	mu     sync.Mutex
	active int
	idle   chan struct{}
	closed bool
}

// NewTaskQueue creates a queue running at most maxConcurrent tasks at once.
func NewTaskQueue(maxConcurrent int) *TaskQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxBackground
	}
	idle := make(chan struct{})
	close(idle)
	return &TaskQueue{
		sem:  semaphore.NewWeighted(int64(maxConcurrent)),
		idle: idle,
	}
}

// Spawn starts fn in the background.
//
// The task context keeps the values of ctx but not its cancellation, so a
// request-scoped caller context ending does not abort the refresh.
// Spawning never blocks; the task waits for a free slot on its own goroutine.
func (q *TaskQueue) Spawn(ctx context.Context, key string, fn func(context.Context) error) (*Task, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrShutdown
	}
	if q.active == 0 {
		q.idle = make(chan struct{})
	}
	q.active++
	q.mu.Unlock()

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	task := &Task{
		ID:     uuid.NewString(),
		Key:    key,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer q.finish()
		defer close(task.done)
		defer cancel()

		if err := q.sem.Acquire(taskCtx, 1); err != nil {
			task.err = err
			return
		}
		defer q.sem.Release(1)

		task.err = fn(taskCtx)
	}()

	return task, nil
}

// Pending returns the number of tasks that have not finished.
func (q *TaskQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Wait blocks until no tasks are in flight or ctx is done.
func (q *TaskQueue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for in-flight ones.
func (q *TaskQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.Wait(ctx)
}

func (q *TaskQueue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--
	if q.active == 0 {
		close(q.idle)
	}
}
