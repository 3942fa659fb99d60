// Package tasks runs detached background work that outlives the request
// that started it.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Runner launches named tasks on their own goroutines. Callers never wait on
// a task; Wait is for shutdown and tests.
type Runner struct {
	wg      sync.WaitGroup
	ctx     context.Context
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a Runner. Every task gets a context derived from
// context.Background, bounded by timeout when positive.
func NewRunner(timeout time.Duration) *Runner {
	return &Runner{
		ctx:     context.Background(),
		timeout: timeout,
		logger:  slog.Default(),
	}
}

// Go runs fn in the background. A returned error or a panic is logged with
// the task name and otherwise dropped.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx := r.ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		if err := r.run(ctx, fn); err != nil {
			r.logger.Warn("background task failed", "task", name, "error", err)
		}
	}()
}

func (r *Runner) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			r.logger.Error("background task panicked", "panic", p, "stack", string(debug.Stack()))
		}
	}()
	return fn(ctx)
}

// Wait blocks until every task started so far has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// WaitTimeout waits like Wait but gives up after d. It reports whether all
// tasks finished.
func (r *Runner) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
