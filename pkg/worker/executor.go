package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Executor runs closures, possibly on another goroutine.
type Executor interface {
	Execute(ctx context.Context, fn func(context.Context) error) error
}

// Inline runs closures synchronously on the caller's goroutine.
type Inline struct{}

// Execute runs fn immediately.
func (Inline) Execute(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// Worker is a named serial executor: one goroutine, FIFO queue.
type Worker struct {
	name   string
	pool   *Pool[func(context.Context) error]
	logger *slog.Logger
}

// NewWorker creates and starts a serial worker.
// The worker runs until Stop is called or ctx is done.
func NewWorker(ctx context.Context, name string, logger *slog.Logger, opts ...Option[func(context.Context) error]) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{name: name, logger: logger.With("worker", name)}
	w.pool = NewPool(1, 256, w.run, opts...)
	if err := w.pool.Start(ctx); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", name, err)
	}
	return w, nil
}

// Name returns the worker name.
func (w *Worker) Name() string {
	return w.name
}

// Execute queues fn and returns once it is queued; fn errors are logged.
func (w *Worker) Execute(ctx context.Context, fn func(context.Context) error) error {
	return w.pool.SubmitWait(ctx, fn)
}

// Stop drains queued work and stops the worker goroutine.
func (w *Worker) Stop(timeout time.Duration) error {
	return w.pool.Stop(timeout)
}

// Stats returns the underlying pool statistics.
func (w *Worker) Stats() PoolStats {
	return w.pool.Stats()
}

func (w *Worker) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in worker task: %v", r)
			w.logger.Error("Worker task panicked", "panic", r)
		}
	}()
	if err = fn(ctx); err != nil {
		w.logger.Warn("Worker task failed", "error", err)
	}
	return err
}
