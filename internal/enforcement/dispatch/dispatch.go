// Package dispatch runs orchestration off the scoring hot path. The
// caller enqueues and returns immediately; a semaphore bounds how many
// orchestrations run at once. Tasks never propagate errors or panics to
// the submitter: failures are logged and audited by the task itself.
package dispatch

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is one unit of background work.
type Task func(ctx context.Context)

// Dispatcher is the bounded background runner.
type Dispatcher struct {
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New builds a dispatcher allowing at most workers concurrent tasks.
func New(workers int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules the task and returns immediately. It reports false
// when the dispatcher is shut down or the bound cannot be reserved;
// otherwise the task will run, panics included, without ever reaching
// the caller.
func (d *Dispatcher) Submit(task Task) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			// Shutdown raced us; the task is abandoned deliberately.
			return
		}
		defer d.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background task panicked",
					"panic", r, "stack", string(debug.Stack()))
			}
		}()
		task(d.ctx)
	}()
	return true
}

// Shutdown stops accepting work and waits for in-flight tasks, up to the
// context deadline.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}
