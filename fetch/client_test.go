package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/mediacache/cache"
	"github.com/jonwraymond/mediacache/resilience"
)

type staticTokens string

func (s staticTokens) BearerToken(context.Context) (string, error) { return string(s), nil }

type failingTokens struct{}

func (failingTokens) BearerToken(context.Context) (string, error) {
	return "", errors.New("keyring locked")
}

func newTestClient(t *testing.T, srv *httptest.Server, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{BaseURL: srv.URL + "/api/v1", HTTPClient: srv.Client()}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL() = %q, want %q", c.BaseURL(), DefaultBaseURL)
	}
	if c.config.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", c.config.Timeout, DefaultTimeout)
	}
	if c.config.HTTPClient.Timeout != DefaultTimeout {
		t.Errorf("HTTPClient.Timeout = %v, want %v", c.config.HTTPClient.Timeout, DefaultTimeout)
	}
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, base := range []string{"ftp://example.com", "://nope"} {
		if _, err := New(Config{BaseURL: base}); err == nil {
			t.Errorf("New(%q) should fail", base)
		}
	}
}

func TestClient_Get(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"id":1}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) { cfg.Tokens = staticTokens("abc") })

	resp, err := c.Get(context.Background(), "/media/latest", cache.Params{
		{Key: "type", Value: "movie"},
		{Key: "page", Value: 2},
	})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != `{"results":[{"id":1}]}` {
		t.Errorf("Body = %s", resp.Body)
	}
	if gotPath != "/api/v1/media/latest" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "type=movie&page=2" {
		t.Errorf("query = %q, want caller order", gotQuery)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
}

func TestClient_NoTokenNoHeader(t *testing.T) {
	tests := []struct {
		name   string
		tokens TokenSource
	}{
		{"nil source", nil},
		{"empty token", staticTokens("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sawHeader bool
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, sawHeader = r.Header["Authorization"]
				_, _ = w.Write([]byte(`[]`))
			}))
			defer srv.Close()

			c := newTestClient(t, srv, func(cfg *Config) { cfg.Tokens = tt.tokens })
			if _, err := c.Get(context.Background(), "media", nil); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if sawHeader {
				t.Error("Authorization header sent without a token")
			}
		})
	}
}

func TestClient_TokenSourceError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) { cfg.Tokens = failingTokens{} })
	if _, err := c.Get(context.Background(), "media", nil); err == nil {
		t.Fatal("Get() should fail when the token source fails")
	}
	if hits.Load() != 0 {
		t.Error("request should not be sent")
	}
}

func TestClient_ForbiddenRunsHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusForbidden)
	}))
	defer srv.Close()

	var loggedOut atomic.Bool
	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.Tokens = staticTokens("stale")
		cfg.OnForbidden = func(context.Context) { loggedOut.Store(true) }
	})

	_, err := c.Get(context.Background(), "media", nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Get() error = %v, want *StatusError", err)
	}
	if !se.Forbidden() || se.StatusCode != http.StatusForbidden {
		t.Errorf("StatusError = %+v", se)
	}
	if se.Status != "Forbidden" {
		t.Errorf("Status = %q, want Forbidden", se.Status)
	}
	if !strings.Contains(string(se.Body), "expired") {
		t.Errorf("Body = %q", se.Body)
	}
	if !loggedOut.Load() {
		t.Error("OnForbidden was not called")
	}
}

func TestClient_NonSuccessStatus(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv, nil)
			_, err := c.Get(context.Background(), "media", nil)
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("Get() error = %v, want *StatusError", err)
			}
			if se.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", se.StatusCode, tt.status)
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestClient_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) { cfg.MaxBodyBytes = 16 })
	_, err := c.Get(context.Background(), "media", nil)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("Get() error = %v, want ErrBodyTooLarge", err)
	}
	if IsRetryable(err) {
		t.Error("oversized body should not be retried")
	}
}

func TestClient_ExecutorRetriesTransient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	exec := resilience.NewExecutor(resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		RetryIf:      IsRetryable,
	})))
	c := newTestClient(t, srv, func(cfg *Config) { cfg.Executor = exec })

	if _, err := c.Get(context.Background(), "media", nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestClient_ExecutorDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.Executor = NewExecutor(ExecutorConfig{Timeout: time.Second})
	})

	_, err := c.Get(context.Background(), "media", nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("Get() error = %v, want 404 StatusError", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
	if got := c.config.Executor.CircuitBreaker().State(); got != resilience.StateClosed {
		t.Errorf("breaker state = %v, want closed", got)
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "media", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Get() error = %v, want context.Canceled", err)
	}
	if IsRetryable(err) {
		t.Error("cancellation should not be retryable")
	}
}

func TestClient_RejectsAbsoluteEndpoint(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), "https://evil.example/x", nil); err == nil {
		t.Error("absolute endpoint should be rejected")
	}
}

func TestEncodeQuery(t *testing.T) {
	tests := []struct {
		name   string
		params cache.Params
		want   string
	}{
		{"empty", nil, ""},
		{"caller order", cache.Params{{Key: "z", Value: 1}, {Key: "a", Value: 2}}, "z=1&a=2"},
		{"nil skipped", cache.Params{{Key: "a", Value: nil}, {Key: "b", Value: "x"}}, "b=x"},
		{"bool and float", cache.Params{{Key: "hd", Value: true}, {Key: "r", Value: 7.5}}, "hd=true&r=7.5"},
		{"escaping", cache.Params{{Key: "q", Value: "a b&c"}}, "q=a+b%26c"},
		{"string slice", cache.Params{{Key: "tag", Value: []string{"x", "y"}}}, "tag=x&tag=y"},
		{"any slice", cache.Params{{Key: "id", Value: []any{1, "two", nil}}}, "id=1&id=two"},
		{"object as json", cache.Params{{Key: "f", Value: map[string]int{"a": 1}}}, "f=%7B%22a%22%3A1%7D"},
		{"uint via json", cache.Params{{Key: "n", Value: uint8(5)}}, "n=5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeQuery(tt.params)
			if err != nil {
				t.Fatalf("EncodeQuery() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("EncodeQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeQuery_Unencodable(t *testing.T) {
	if _, err := EncodeQuery(cache.Params{{Key: "ch", Value: make(chan int)}}); err == nil {
		t.Error("EncodeQuery() should fail for a channel value")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", errors.New("connection refused"), true},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"attempt timeout", resilience.ErrTimeout, true},
		{"503", &StatusError{StatusCode: 503}, true},
		{"403", &StatusError{StatusCode: 403}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusError_Error(t *testing.T) {
	err := &StatusError{StatusCode: 502, URL: "http://x/api/v1/media"}
	want := "fetch: http://x/api/v1/media: status 502 Bad Gateway"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNewExecutor_Defaults(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{})
	cb := exec.CircuitBreaker()
	if cb == nil {
		t.Fatal("executor should carry a circuit breaker")
	}
	if cb.Name() != "media-api" {
		t.Errorf("breaker name = %q, want media-api", cb.Name())
	}

	calls := 0
	err := exec.Execute(context.Background(), func(context.Context) error {
		calls++
		return &StatusError{StatusCode: http.StatusBadRequest}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for a permanent failure", calls)
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Errorf("Execute() error = %v, want StatusError", err)
	}
	if cb.Metrics().Failures != 0 {
		t.Errorf("breaker failures = %d, want 0 for a 4xx", cb.Metrics().Failures)
	}
}
