package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/mediacache/auth"
	"github.com/jonwraymond/mediacache/blobstore"
	"github.com/jonwraymond/mediacache/cache"
	"github.com/jonwraymond/mediacache/config"
	"github.com/jonwraymond/mediacache/fetch"
	"github.com/jonwraymond/mediacache/observe"
	"github.com/jonwraymond/mediacache/resilience"
	"github.com/jonwraymond/mediacache/secret"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg      *config.Config
	obs      observe.Observer
	logger   observe.Logger
	storage  blobstore.Storage
	session  *auth.Session
	executor *resilience.Executor
	store    *cache.Store
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.close(context.WithoutCancel(ctx))
		}
	}()

	a.obs, err = observe.NewObserver(ctx, cfg.Observe(version))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.logger = a.obs.Logger()

	a.storage, err = blobstore.Open(ctx, cfg.BlobStore())
	if err != nil {
		return nil, err
	}

	a.session, err = auth.NewSession(a.storage, auth.WithSessionLogger(a.logger))
	if err != nil {
		return nil, err
	}
	if err := a.session.Load(ctx); err != nil {
		return nil, err
	}
	if cfg.Token != "" {
		resolver := secret.DefaultResolver()
		token, err := resolver.ResolveValue(ctx, cfg.Token)
		_ = resolver.Close()
		if err != nil {
			return nil, fmt.Errorf("resolve token: %w", err)
		}
		if err := a.session.SetToken(ctx, token); err != nil {
			return nil, err
		}
	}

	a.executor = fetch.NewExecutor(fetch.ExecutorConfig{
		Timeout:      cfg.API.Timeout,
		MaxAttempts:  cfg.API.MaxAttempts,
		MaxFailures:  cfg.API.MaxFailures,
		ResetTimeout: cfg.API.ResetTimeout,
		RateLimit:    cfg.API.RateLimit,
		RateBurst:    cfg.API.RateBurst,
		Logger:       a.logger,
	})
	client, err := fetch.New(fetch.Config{
		BaseURL:  cfg.API.BaseURL,
		Timeout:  cfg.API.Timeout,
		Tokens:   a.session,
		Executor: a.executor,
		Logger:   a.logger,
		OnForbidden: func(ctx context.Context) {
			_ = a.session.Logout(ctx)
		},
	})
	if err != nil {
		return nil, err
	}

	mw, err := observe.MiddlewareFromObserver(a.obs)
	if err != nil {
		return nil, err
	}

	policy := cache.DefaultPolicy()
	policy.TTL = cfg.TTL

	opts := []cache.Option{
		cache.WithPolicy(policy),
		cache.WithMiddleware(mw),
		cache.WithLogger(a.logger),
		cache.WithBlobName(cfg.BlobName),
		cache.WithMaxBackground(cfg.MaxBackground),
	}
	if cfg.ErrorMessage != "" {
		opts = append(opts, cache.WithErrorMessage(cfg.ErrorMessage))
	}
	a.store, err = cache.New(a.storage, client, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.store.Init(ctx); err != nil {
		return nil, err
	}

	a.session.OnLogout(func(ctx context.Context) {
		if err := a.store.Clear(ctx); err != nil {
			a.logger.Error(ctx, "clear cache on logout", observe.Err(err))
		}
	})
	return a, nil
}

// close drains background refreshes before closing storage.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Shutdown(ctx))
	}
	if a.storage != nil {
		errs = append(errs, a.storage.Close())
	}
	if a.obs != nil {
		errs = append(errs, a.obs.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
