package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Timeout bounds each attempt of an operation.
//
// The operation must honor ctx; Timeout does not abandon a running call.
type Timeout struct {
	d time.Duration
}

// NewTimeout creates a timeout of d. Default: 10 seconds.
func NewTimeout(d time.Duration) *Timeout {
	if d <= 0 {
		d = 10 * time.Second
	}
	return &Timeout{d: d}
}

// Execute runs op with a deadline. A deadline hit by this timeout, rather
// than by the caller's context, is reported as ErrTimeout.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, t.d, err)
	}
	return err
}

// Duration returns the configured timeout.
func (t *Timeout) Duration() time.Duration {
	return t.d
}
