// Package health reports whether the media cache can serve fresh listings.
//
// Checkers cover the durable store (StorageChecker), cache freshness
// (FreshnessChecker) and the fetch circuit breaker (CircuitChecker). An
// Aggregator runs them together and the HTTP handlers expose the result:
//
//	agg := health.NewAggregator(health.AggregatorConfig{})
//	agg.Register(health.NewStorageChecker(storage))
//	agg.Register(health.NewFreshnessChecker(store, 0.5))
//	agg.Register(health.NewCircuitChecker(exec.CircuitBreaker()))
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg)
//
// Degraded answers 200 so health checks keep routing to a client whose listings
// are merely stale; unhealthy answers 503.
package health
