package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn with a derived context that is cancelled after the
// given timeout. If the function does not complete in time,
// context.DeadlineExceeded is returned to the caller even when fn is still
// running; abandoned work must tolerate its context being cancelled. A
// non-positive timeout means the budget is already spent and fn never runs.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fmt.Errorf("%s: no budget remaining: %w", name, context.DeadlineExceeded)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()
	select {
	case err := <-done:
		// An error surfacing after the deadline fired is a timeout
		// regardless of how the stage reported it.
		if err != nil && timeoutCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("%s: %v: %w", name, err, context.DeadlineExceeded)
		}
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s: %w (limit: %v)", name, context.DeadlineExceeded, timeout)
	}
}
