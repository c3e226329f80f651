package observe

import (
	"context"
	"time"
)

// RefreshFunc performs one refresh of a cached listing.
type RefreshFunc func(ctx context.Context, meta QueryMeta) error

// Middleware wraps refreshes with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap returns a RefreshFunc safe for concurrent use.
//   - Context: the span context is passed to the wrapped function.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// NopMiddleware returns a Middleware that records nothing.
func NopMiddleware() *Middleware {
	return NewMiddleware(nil, nil, nil)
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger {
	return m.logger
}

// Lookup records the outcome of a cache lookup.
func (m *Middleware) Lookup(ctx context.Context, meta QueryMeta, outcome Outcome) {
	m.metrics.RecordLookup(ctx, meta, outcome)
	m.logger.WithQuery(meta).Debug(ctx, "cache lookup", F("outcome", string(outcome)))
}

// Wrap wraps fn with a span, refresh metrics and a completion log record.
// Background refresh failures are logged at warn, foreground ones at error.
func (m *Middleware) Wrap(fn RefreshFunc) RefreshFunc {
	return func(ctx context.Context, meta QueryMeta) error {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		err := fn(ctx, meta)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordRefresh(ctx, meta, duration, err)

		logger := m.logger.WithQuery(meta)
		fields := []Field{F("duration_ms", float64(duration.Milliseconds()))}
		switch {
		case err == nil:
			logger.Info(ctx, "refresh completed", fields...)
		case meta.Background:
			logger.Warn(ctx, "background refresh failed", append(fields, Err(err))...)
		default:
			logger.Error(ctx, "refresh failed", append(fields, Err(err))...)
		}
		return err
	}
}
