package worker

import (
	"errors"
	"sync"

	"github.com/mkallweit/normrel/model"
)

var (
	// ErrQueueClosed is returned by Enqueue after Close
	ErrQueueClosed = errors.New("task queue is closed")
	// ErrQueueFull is returned when the buffer has no room for the task
	ErrQueueFull = errors.New("task queue is full")
)

// Queue is an in-process buffered task queue with at-least-once
// semantics: the runner retries a delivery with an incremented attempt
// count when its handler fails with a retryable error.
type Queue struct {
	mu     sync.RWMutex
	tasks  chan model.Task
	closed bool
}

// NewQueue creates a queue with the given buffer size
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		tasks: make(chan model.Task, size),
	}
}

// Enqueue adds a task without blocking. It fails when the queue is
// closed or the buffer is full.
func (q *Queue) Enqueue(task model.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Tasks exposes the delivery channel for the runner. The channel is
// closed by Close once all buffered tasks have been drained.
func (q *Queue) Tasks() <-chan model.Task {
	return q.tasks
}

// Close stops accepting new tasks. Already enqueued tasks remain
// deliverable until the channel is drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}
