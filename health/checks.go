package health

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/mediacache/blobstore"
	"github.com/jonwraymond/mediacache/cache"
	"github.com/jonwraymond/mediacache/resilience"
)

// CheckBlob is the name the storage checker writes and removes.
const CheckBlob = "health-check"

// StorageChecker verifies the durable store accepts a write, returns it
// and removes it.
type StorageChecker struct {
	storage blobstore.Storage
}

// NewStorageChecker creates a storage checker.
func NewStorageChecker(storage blobstore.Storage) *StorageChecker {
	return &StorageChecker{storage: storage}
}

// Name returns "storage".
func (c *StorageChecker) Name() string { return "storage" }

// Check round-trips a check blob.
func (c *StorageChecker) Check(ctx context.Context) Result {
	token := []byte(time.Now().UTC().Format(time.RFC3339Nano))

	if err := c.storage.Write(ctx, CheckBlob, token); err != nil {
		return Unhealthy("storage write failed", err)
	}
	got, ok, err := c.storage.Read(ctx, CheckBlob)
	if err != nil {
		return Unhealthy("storage read failed", err)
	}
	if !ok || !bytes.Equal(got, token) {
		return Unhealthy("storage returned a different token", ErrCheckFailed)
	}
	if err := c.storage.Remove(ctx, CheckBlob); err != nil {
		return Degraded("storage token not removed").WithDetails(map[string]any{"error": err.Error()})
	}
	return Healthy("storage ok")
}

// StatsSource reports cache freshness. *cache.Store implements it.
type StatsSource interface {
	Stats() cache.Stats
}

// FreshnessChecker reports degraded when too much of the cache is stale,
// which usually means refreshes are failing.
type FreshnessChecker struct {
	source    StatsSource
	threshold float64
}

// NewFreshnessChecker creates a freshness checker. threshold is the stale
// fraction above which the cache is degraded. Default: 0.5
func NewFreshnessChecker(source StatsSource, threshold float64) *FreshnessChecker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}
	return &FreshnessChecker{source: source, threshold: threshold}
}

// Name returns "freshness".
func (c *FreshnessChecker) Name() string { return "freshness" }

// Check compares the stale fraction against the threshold. An empty cache
// is healthy.
func (c *FreshnessChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context canceled", err)
	}

	st := c.source.Stats()
	details := map[string]any{
		"entries": st.Entries,
		"stale":   st.Stale,
		"pending": st.Pending,
		"oldest":  st.Oldest.String(),
	}
	if st.Entries == 0 {
		return Healthy("cache empty").WithDetails(details)
	}

	ratio := float64(st.Stale) / float64(st.Entries)
	details["stale_ratio"] = ratio
	if ratio > c.threshold {
		return Degraded(fmt.Sprintf("%d of %d entries stale", st.Stale, st.Entries)).WithDetails(details)
	}
	return Healthy("cache fresh").WithDetails(details)
}

// CircuitChecker reflects the state of the fetch circuit breaker.
type CircuitChecker struct {
	breaker *resilience.CircuitBreaker
}

// NewCircuitChecker creates a circuit checker.
func NewCircuitChecker(breaker *resilience.CircuitBreaker) *CircuitChecker {
	return &CircuitChecker{breaker: breaker}
}

// Name returns "circuit".
func (c *CircuitChecker) Name() string { return "circuit" }

// Check is unhealthy while open and degraded while half-open.
func (c *CircuitChecker) Check(context.Context) Result {
	m := c.breaker.Metrics()
	details := map[string]any{
		"name":     c.breaker.Name(),
		"state":    m.State.String(),
		"failures": m.Failures,
		"rejected": m.Rejected,
	}

	switch m.State {
	case resilience.StateOpen:
		return Unhealthy("circuit open", resilience.ErrCircuitOpen).WithDetails(details)
	case resilience.StateHalfOpen:
		return Degraded("circuit half-open").WithDetails(details)
	default:
		return Healthy("circuit closed").WithDetails(details)
	}
}

var (
	_ Checker     = (*StorageChecker)(nil)
	_ Checker     = (*FreshnessChecker)(nil)
	_ Checker     = (*CircuitChecker)(nil)
	_ StatsSource = (*cache.Store)(nil)
)
