package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/mediacache/cache"
	"github.com/jonwraymond/mediacache/observe"
	"github.com/jonwraymond/mediacache/resilience"
)

// Defaults applied by New.
const (
	DefaultBaseURL      = "http://localhost/api/v1"
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 8 << 20
	DefaultUserAgent    = "mediacache"
)

// TokenSource supplies the bearer token. An empty token means anonymous.
type TokenSource interface {
	BearerToken(ctx context.Context) (string, error)
}

// Config configures a Client.
type Config struct {
	// BaseURL is prepended to every endpoint.
	// Default: http://localhost/api/v1
	BaseURL string

	// Timeout bounds each HTTP request.
	// Default: 10 seconds
	Timeout time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client

	// Tokens supplies the bearer token. Nil sends no Authorization header.
	Tokens TokenSource

	// OnForbidden runs when the server answers 403.
	OnForbidden func(ctx context.Context)

	// Executor wraps every request. Nil calls the server directly.
	Executor *resilience.Executor

	// MaxBodyBytes caps the response body.
	// Default: 8 MiB
	MaxBodyBytes int64

	// UserAgent is sent with every request.
	// Default: "mediacache"
	UserAgent string

	Logger observe.Logger
}

// Client talks to the media API.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Context: Get honors cancellation and deadlines.
type Client struct {
	base   *url.URL
	config Config
}

// New creates a client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}

	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("fetch: base url %q: scheme must be http or https", config.BaseURL)
	}
	return &Client{base: base, config: config}, nil
}

// ExecutorConfig configures NewExecutor. Zero values take the resilience
// package defaults.
type ExecutorConfig struct {
	// Name labels the circuit breaker in logs and health reports.
	// Default: "media-api"
	Name string

	// Timeout bounds each attempt.
	Timeout time.Duration

	MaxAttempts  int
	MaxFailures  int
	ResetTimeout time.Duration

	// RateLimit is requests per second. Zero disables the limiter.
	RateLimit float64
	RateBurst int

	Logger observe.Logger
}

// NewExecutor returns the executor used for media API calls: an optional
// rate limiter, a circuit breaker that only counts transient failures, and
// jittered exponential-backoff retries of those failures.
func NewExecutor(cfg ExecutorConfig) *resilience.Executor {
	if cfg.Name == "" {
		cfg.Name = "media-api"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observe.NopLogger()
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         cfg.Name,
		MaxFailures:  cfg.MaxFailures,
		ResetTimeout: cfg.ResetTimeout,
		IsFailure:    IsRetryable,
		OnStateChange: func(from, to resilience.State) {
			logger.Warn(context.Background(), "circuit state changed",
				observe.F("circuit", cfg.Name),
				observe.F("from", from.String()),
				observe.F("to", to.String()))
		},
	})
	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts: cfg.MaxAttempts,
		Jitter:      true,
		RetryIf:     IsRetryable,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Debug(context.Background(), "retrying request",
				observe.F("attempt", attempt),
				observe.F("delay", delay.String()),
				observe.Err(err))
		},
	})

	opts := []resilience.ExecutorOption{
		resilience.WithCircuitBreaker(breaker),
		resilience.WithRetry(retry),
		resilience.WithTimeout(cfg.Timeout),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:        cfg.RateLimit,
			Burst:       cfg.RateBurst,
			WaitOnLimit: true,
		})))
	}
	return resilience.NewExecutor(opts...)
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Get requests endpoint with params and returns the raw answer. Any non-2xx
// status is returned as a *StatusError.
func (c *Client) Get(ctx context.Context, endpoint string, params cache.Params) (*cache.Response, error) {
	target, err := c.resolve(endpoint, params)
	if err != nil {
		return nil, err
	}

	var resp *cache.Response
	call := func(ctx context.Context) error {
		r, err := c.do(ctx, target)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	if c.config.Executor != nil {
		err = c.config.Executor.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, target string) (*cache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	if c.config.Tokens != nil {
		token, err := c.config.Tokens.BearerToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch: bearer token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	httpResp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: %w", target, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: read %s: %w", target, err)
	}
	if int64(len(body)) > c.config.MaxBodyBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, target, c.config.MaxBodyBytes)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		se := &StatusError{
			StatusCode: httpResp.StatusCode,
			Status:     strings.TrimSpace(strings.TrimPrefix(httpResp.Status, strconv.Itoa(httpResp.StatusCode))),
			URL:        target,
			Body:       body,
		}
		if se.Forbidden() {
			c.config.Logger.Warn(ctx, "session rejected by server", observe.F("url", target))
			if c.config.OnForbidden != nil {
				c.config.OnForbidden(ctx)
			}
		}
		return nil, se
	}

	return &cache.Response{StatusCode: httpResp.StatusCode, Body: body}, nil
}

// resolve joins endpoint onto the base URL and appends params in order.
func (c *Client) resolve(endpoint string, params cache.Params) (string, error) {
	ref, err := url.Parse(strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("fetch: parse endpoint %q: %w", endpoint, err)
	}
	if ref.IsAbs() || ref.Host != "" {
		return "", fmt.Errorf("fetch: endpoint %q must be relative", endpoint)
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + ref.Path
	u.RawPath = ""

	query, err := EncodeQuery(params)
	if err != nil {
		return "", err
	}
	if ref.RawQuery != "" {
		query = joinQuery(ref.RawQuery, query)
	}
	u.RawQuery = query
	return u.String(), nil
}

// EncodeQuery renders params as a query string in caller order. Nil values
// are skipped and slices repeat the key. Maps and structs are sent as JSON.
func EncodeQuery(params cache.Params) (string, error) {
	var b strings.Builder
	for _, p := range params {
		values, err := queryValues(p.Value)
		if err != nil {
			return "", fmt.Errorf("fetch: param %q: %w", p.Key, err)
		}
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(p.Key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String(), nil
}

func queryValues(v any) ([]string, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case bool:
		return []string{strconv.FormatBool(v)}, nil
	case int:
		return []string{strconv.Itoa(v)}, nil
	case int64:
		return []string{strconv.FormatInt(v, 10)}, nil
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}, nil
	case json.Number:
		return []string{v.String()}, nil
	case fmt.Stringer:
		return []string{v.String()}, nil
	case []string:
		return v, nil
	case []any:
		var out []string
		for _, e := range v {
			vals, err := queryValues(e)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return out, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	return []string{string(raw)}, nil
}

func joinQuery(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "&" + b
}

var _ cache.Fetcher = (*Client)(nil)
