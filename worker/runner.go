package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mkallweit/normrel/helper"
	"github.com/mkallweit/normrel/model"
	"github.com/panjf2000/ants/v2"
)

// Handler processes one task delivery. Delivery is at-least-once, so
// handlers must be idempotent.
type Handler func(ctx context.Context, task model.Task) error

// ExhaustedFunc is called when a task has used up its retry budget or
// failed with a non-retryable error
type ExhaustedFunc func(ctx context.Context, task model.Task, err error)

// Runner consumes the task queue on an ants worker pool. Each task is
// dispatched to its registered handler, retryable failures are retried
// in place with exponential backoff and an incremented attempt count.
type Runner struct {
	queue       *Queue
	pool        *ants.Pool
	handlers    map[model.TaskName]Handler
	onExhausted ExhaustedFunc
	config      *model.WorkerConfig
	logger      *slog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	started bool
	cancel  context.CancelFunc
}

// NewRunner creates a runner over the given queue
func NewRunner(queue *Queue, config *model.WorkerConfig, logger *slog.Logger) (*Runner, error) {
	if queue == nil {
		return nil, helper.NewError("queue validation", fmt.Errorf("queue is nil"))
	}

	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, helper.NewError("create worker pool", err)
	}

	return &Runner{
		queue:    queue,
		pool:     pool,
		handlers: map[model.TaskName]Handler{},
		config:   config,
		logger:   logger,
	}, nil
}

// Register binds a handler to a task name. Must be called before Start.
func (r *Runner) Register(name model.TaskName, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// OnExhausted sets the callback for tasks that failed permanently
func (r *Runner) OnExhausted(fn ExhaustedFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExhausted = fn
}

// Start begins consuming tasks until Stop is called or ctx is cancelled
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case task, ok := <-r.queue.Tasks():
				if !ok {
					return
				}
				r.dispatch(ctx, task)
			}
		}
	}()
}

func (r *Runner) dispatch(ctx context.Context, task model.Task) {
	r.wg.Add(1)
	err := r.pool.Submit(func() {
		defer r.wg.Done()
		r.process(ctx, task)
	})
	if err != nil {
		r.wg.Done()
		r.logger.Error("Failed to submit task to pool",
			slog.String("task", string(task.Name)),
			slog.String("error", err.Error()))
	}
}

func (r *Runner) process(ctx context.Context, task model.Task) {
	r.mu.Lock()
	handler, ok := r.handlers[task.Name]
	onExhausted := r.onExhausted
	r.mu.Unlock()

	if !ok {
		r.logger.Error("No handler registered for task", slog.String("task", string(task.Name)))
		return
	}

	err := RetryWithBackoff(ctx, func() error {
		task.Attempt++
		return handler(ctx, task)
	}, model.Retryable, r.config.MaxAttempts, r.config.RetryBaseDelay)

	if err == nil {
		return
	}

	r.logger.Error("Task failed permanently",
		slog.String("task", string(task.Name)),
		slog.String("document", task.DocumentRID.String()),
		slog.Int("attempts", task.Attempt),
		slog.String("error", err.Error()))

	if onExhausted != nil {
		onExhausted(ctx, task, err)
	}
}

// Stop closes the queue, drains buffered tasks, waits for in-flight
// handlers and releases the pool. Running handlers are not cancelled.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.mu.Unlock()

	r.queue.Close()
	r.wg.Wait()
	cancel()
	r.pool.Release()
}
