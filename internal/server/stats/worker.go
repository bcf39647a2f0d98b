package stats

import (
	"context"
	"log/slog"
	"time"
)

// Popper yields queued job ids. An empty id means the wait timed out.
type Popper interface {
	Pop(ctx context.Context, timeout time.Duration) (string, error)
}

// Executor runs one job.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

// Worker consumes job ids one at a time.
type Worker struct {
	queue      Popper
	runner     Executor
	popTimeout time.Duration
	errBackoff time.Duration
	done       chan struct{}
}

// NewWorker creates a new worker.
func NewWorker(queue Popper, runner Executor, popTimeout time.Duration) *Worker {
	return &Worker{
		queue:      queue,
		runner:     runner,
		popTimeout: popTimeout,
		errBackoff: time.Second,
		done:       make(chan struct{}),
	}
}

// Start begins consuming in a background goroutine until ctx is cancelled.
// A job in progress when ctx is cancelled is abandoned in its current state.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("statistics worker started", "pop_timeout", w.popTimeout)

	go func() {
		defer close(w.done)

		for ctx.Err() == nil {
			jobID, err := w.queue.Pop(ctx, w.popTimeout)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				slog.Error("failed to pop statistics job", "error", err)
				select {
				case <-time.After(w.errBackoff):
				case <-ctx.Done():
				}
				continue
			}
			if jobID == "" {
				continue
			}

			start := time.Now()
			if err := w.runner.Execute(ctx, jobID); err != nil {
				slog.Error("statistics job error", "job_id", jobID, "error", err)
				continue
			}
			slog.Info("statistics job handled", "job_id", jobID, "duration", time.Since(start))
		}

		slog.Info("statistics worker stopping")
	}()
}

// Wait blocks until the worker has fully stopped.
func (w *Worker) Wait() {
	<-w.done
}
