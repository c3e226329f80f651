// Package observe provides logging, tracing and metrics for the media cache.
//
// It is a pure instrumentation library: it performs no I/O beyond exporter
// setup. The cache Store wraps every refresh with a Middleware and reports
// each lookup outcome (hit, stale, miss) through it.
package observe
