// Package resilience guards calls to the remote media source.
//
// It provides a circuit breaker, exponential-backoff retry (built on
// cenkalti/backoff), a token-bucket rate limiter and a per-attempt timeout.
// Executor composes them in a fixed order:
//
//	rate limiter -> circuit breaker -> retry -> timeout -> op
//
// Usage:
//
//	exec := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	        Name:         "media-api",
//	        MaxFailures:  5,
//	        ResetTimeout: 30 * time.Second,
//	    })),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
//	        MaxAttempts: 3,
//	        RetryIf:     isTransient,
//	    })),
//	    resilience.WithTimeout(10*time.Second),
//	)
//
//	err := exec.Execute(ctx, func(ctx context.Context) error {
//	    return callMediaAPI(ctx)
//	})
//
// Clocks are injectable through clockwork so tests can drive the breaker
// reset timeout and limiter refills deterministically.
package resilience
