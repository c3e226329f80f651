package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome classifies a cache lookup.
type Outcome string

const (
	OutcomeHit   Outcome = "hit"   // fresh entry served
	OutcomeStale Outcome = "stale" // entry present but expired
	OutcomeMiss  Outcome = "miss"  // no entry
)

// Metrics records cache refresh and lookup metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	RecordRefresh(ctx context.Context, meta QueryMeta, duration time.Duration, err error)
	RecordLookup(ctx context.Context, meta QueryMeta, outcome Outcome)
}

type metricsImpl struct {
	refreshTotal  metric.Int64Counter
	refreshErrors metric.Int64Counter
	refreshDur    metric.Float64Histogram
	lookupTotal   metric.Int64Counter
}

// NewMetrics creates the cache instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	refreshTotal, err := meter.Int64Counter(
		"mediacache.refresh.total",
		metric.WithDescription("Total number of refreshes from the remote source"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	refreshErrors, err := meter.Int64Counter(
		"mediacache.refresh.errors",
		metric.WithDescription("Total number of failed refreshes"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	refreshDur, err := meter.Float64Histogram(
		"mediacache.refresh.duration_ms",
		metric.WithDescription("Refresh duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	lookupTotal, err := meter.Int64Counter(
		"mediacache.lookup.total",
		metric.WithDescription("Cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		refreshTotal:  refreshTotal,
		refreshErrors: refreshErrors,
		refreshDur:    refreshDur,
		lookupTotal:   lookupTotal,
	}, nil
}

func (m *metricsImpl) RecordRefresh(ctx context.Context, meta QueryMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(
		attribute.String("query.source", meta.Source),
		attribute.Bool("refresh.background", meta.Background),
	)

	m.refreshTotal.Add(ctx, 1, opt)
	if err != nil {
		m.refreshErrors.Add(ctx, 1, opt)
	}
	m.refreshDur.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordLookup(ctx context.Context, meta QueryMeta, outcome Outcome) {
	m.lookupTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("query.source", meta.Source),
		attribute.String("lookup.outcome", string(outcome)),
	))
}

type nopMetrics struct{}

// NopMetrics returns Metrics that record nothing.
func NopMetrics() Metrics { return nopMetrics{} }

func (nopMetrics) RecordRefresh(context.Context, QueryMeta, time.Duration, error) {}
func (nopMetrics) RecordLookup(context.Context, QueryMeta, Outcome)               {}
