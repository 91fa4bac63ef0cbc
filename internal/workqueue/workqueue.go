// Package workqueue runs detached tasks on a fixed pool of workers.
package workqueue

import (
	"context"
	"fmt"
	"sync"

	coremon "github.com/kilianp07/roamgate/core/monitoring"
)

// Task is a unit of detached work.
type Task func(ctx context.Context)

// Queue is a bounded task queue served by a fixed set of workers. When the
// buffer is full a task runs on its own goroutine instead of being dropped.
type Queue struct {
	tasks    chan Task
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	overflow func()
}

// New starts a queue with workers goroutines and a buffer of size entries.
func New(workers, size int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{tasks: make(chan Task, size), ctx: ctx, cancel: cancel}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// OnOverflow registers a hook called whenever a task bypasses the buffer.
func (q *Queue) OnOverflow(f func()) { q.overflow = f }

// Submit schedules t. It never blocks. It returns false once the queue is closed.
func (q *Queue) Submit(t Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.tasks <- t:
	default:
		if q.overflow != nil {
			q.overflow()
		}
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.run(t)
		}()
	}
	return true
}

// Len returns the number of buffered tasks.
func (q *Queue) Len() int { return len(q.tasks) }

func (q *Queue) work() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *Queue) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			coremon.CaptureException(fmt.Errorf("task panic: %v", r), map[string]string{"module": "workqueue"})
		}
	}()
	t(q.ctx)
}

// Close stops accepting tasks and waits for queued ones to finish or for ctx
// to expire. On expiry the context given to running tasks is cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}
