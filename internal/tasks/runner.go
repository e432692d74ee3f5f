// Package tasks runs background work spawned by request handlers. Tasks are
// detached from the request context so they outlive the response, and a
// panic in one task never takes the process down.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/hanvq/facegallery/internal/logger"
)

// Runner executes named background tasks
type Runner struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

// NewRunner creates a Runner whose tasks are bounded by the given timeout.
// A zero timeout means tasks run without a deadline.
func NewRunner(timeout time.Duration) *Runner {
	return &Runner{timeout: timeout}
}

// Go runs fn in the background with a fresh context. The name appears in
// logs when the task panics or overruns.
func (r *Runner) Go(name string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorf("Background task %s panicked: %v", name, rec)
			}
		}()

		ctx := context.Background()
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		fn(ctx)
	}()
}

// Wait blocks until every running task has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}
