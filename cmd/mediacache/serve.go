package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/mediacache/cache"
	"github.com/jonwraymond/mediacache/health"
	"github.com/jonwraymond/mediacache/observe"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr := fs.String("addr", a.cfg.Health.Addr, "listen address")
	if err := fs.Parse(args); err != nil || fs.NArg() != 0 {
		return errUsage
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", *addr, err)
	}
	srv := &http.Server{
		Handler:           a.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	fmt.Fprintf(stdout, "listening on %s\n", ln.Addr())
	a.logger.Info(ctx, "server started", observe.F("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.logger.Info(ctx, "server stopped")
	return nil
}

// handler mounts the health endpoints, the media endpoint and, when the
// prometheus exporter is selected, /metrics.
func (a *app) handler() http.Handler {
	agg := health.NewAggregator(health.AggregatorConfig{Timeout: 5 * time.Second})
	agg.Register(health.NewStorageChecker(a.storage))
	agg.Register(health.NewFreshnessChecker(a.store, a.cfg.Health.StaleThreshold))
	if cb := a.executor.CircuitBreaker(); cb != nil {
		agg.Register(health.NewCircuitChecker(cb))
	}

	mux := http.NewServeMux()
	health.RegisterHandlers(mux, agg)
	if a.cfg.Telemetry.MetricsExporter == "prometheus" {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	mux.HandleFunc("GET /v1/media/{source...}", a.mediaHandler)
	return mux
}

// mediaHandler serves FetchMedia over HTTP. Query parameters keep their
// request order so keys match the ones the CLI builds.
func (a *app) mediaHandler(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	params, err := orderedQuery(r.URL.RawQuery)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	items := a.store.FetchMedia(r.Context(), source, params)
	key := a.store.Key(source, params)
	out := listing{Key: key, Items: items, Error: a.store.Error(key)}
	if out.Items == nil {
		out.Items = []cache.Item{}
	}

	w.Header().Set("Content-Type", "application/json")
	if out.Error != "" && len(items) == 0 {
		w.WriteHeader(http.StatusBadGateway)
	}
	_ = writeJSON(w, out)
}

func orderedQuery(raw string) (cache.Params, error) {
	var params cache.Params
	for part := range strings.SplitSeq(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("query key %q: %w", k, err)
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("query value %q: %w", v, err)
		}
		params = append(params, cache.Param{Key: key, Value: paramValue(val)})
	}
	return params, nil
}
