package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	// Default: 200ms
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 5s
	MaxDelay time.Duration

	// MaxElapsed bounds the total time spent retrying.
	// Default: 30s
	MaxElapsed time.Duration

	// Multiplier grows the delay after each attempt.
	// Default: 2.0
	Multiplier float64

	// Jitter randomizes each delay by +/-25%.
	Jitter bool

	// RetryIf reports whether err may be retried.
	// Default: all non-nil errors are retried.
	RetryIf func(err error) bool

	// OnRetry is called before each retry with the failed attempt number.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry retries an operation with exponential backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a retry handler.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 200 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.MaxElapsed <= 0 {
		config.MaxElapsed = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return err != nil }
	}
	return &Retry{config: config}
}

// Execute runs op until it succeeds, fails permanently, or attempts run out.
// Exhausting every attempt returns an error wrapping both
// ErrMaxRetriesExceeded and the last failure.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		err := op(ctx)
		if err != nil && !r.config.RetryIf(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	notify := func(err error, delay time.Duration) {
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempts, err, delay)
		}
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(r.backOff()),
		backoff.WithMaxTries(uint(r.config.MaxAttempts)),
		backoff.WithMaxElapsedTime(r.config.MaxElapsed),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return nil
	}
	if attempts >= r.config.MaxAttempts && r.config.MaxAttempts > 1 && r.config.RetryIf(err) &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, attempts, err)
	}
	return err
}

func (r *Retry) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval: r.config.InitialDelay,
		Multiplier:      r.config.Multiplier,
		MaxInterval:     r.config.MaxDelay,
	}
	if r.config.Jitter {
		b.RandomizationFactor = 0.25
	}
	return b
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}
