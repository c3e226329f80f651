package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jonwraymond/mediacache/cache"
	"github.com/jonwraymond/mediacache/config"
)

// setupEnv points the CLI at api and a fresh file store.
func setupEnv(t *testing.T, api string) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("MEDIACACHE_ENV_FILE", "")
	t.Setenv("MEDIACACHE_API_BASE_URL", api)
	t.Setenv("MEDIACACHE_API_MAX_ATTEMPTS", "1")
	t.Setenv("MEDIACACHE_STORAGE_DRIVER", "file")
	t.Setenv("MEDIACACHE_STORAGE_PATH", t.TempDir())
	t.Setenv("MEDIACACHE_LOG_LEVEL", "error")
	t.Setenv("MEDIACACHE_TOKEN", "")
}

func newMediaAPI(t *testing.T, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func decodeListing(t *testing.T, s string) listing {
	t.Helper()
	var l listing
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		t.Fatalf("decode output %q: %v", s, err)
	}
	return l
}

func TestRun_Help(t *testing.T) {
	code, stdout, _ := runCLI(t, "help")
	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	for _, name := range commandOrder {
		if !strings.Contains(stdout, commands[name].usage) {
			t.Errorf("usage missing %q", commands[name].usage)
		}
	}
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	if code != 0 || strings.TrimSpace(stdout) != version {
		t.Errorf("version = %q (exit %d), want %q", stdout, code, version)
	}
}

func TestRun_NoArgs(t *testing.T) {
	code, _, stderr := runCLI(t)
	if code != 2 {
		t.Errorf("exit = %d, want 2", code)
	}
	if !strings.Contains(stderr, "Usage:") {
		t.Errorf("stderr = %q, want usage", stderr)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "explode")
	if code != 2 {
		t.Errorf("exit = %d, want 2", code)
	}
	if !strings.Contains(stderr, `unknown command "explode"`) {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRun_BadConfig(t *testing.T) {
	setupEnv(t, "http://localhost")
	t.Setenv("MEDIACACHE_TTL", "-1s")

	code, _, stderr := runCLI(t, "clear")
	if code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
	if !strings.Contains(stderr, "ttl") {
		t.Errorf("stderr = %q, want ttl error", stderr)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	srv, _ := newMediaAPI(t, `[]`)
	setupEnv(t, srv.URL)

	tests := [][]string{
		{"fetch"},
		{"view"},
		{"status", "only-id"},
		{"clear", "extra"},
		{"logout", "extra"},
		{"serve", "stray"},
	}
	for _, args := range tests {
		t.Run(args[0], func(t *testing.T) {
			code, _, stderr := runCLI(t, args...)
			if code != 2 {
				t.Errorf("exit = %d, want 2", code)
			}
			if !strings.Contains(stderr, "Usage: mediacache "+args[0]) {
				t.Errorf("stderr = %q", stderr)
			}
		})
	}
}

func TestRun_FetchStatusViewClear(t *testing.T) {
	srv, calls := newMediaAPI(t, `{"results":[{"id":"1","status":"new"},{"id":"2","status":"new"}]}`)
	setupEnv(t, srv.URL)

	code, stdout, stderr := runCLI(t, "fetch", "photos", "page=1")
	if code != 0 {
		t.Fatalf("fetch exit = %d, stderr = %q", code, stderr)
	}
	got := decodeListing(t, stdout)
	if len(got.Items) != 2 || got.Items[0].Status() != "new" {
		t.Fatalf("fetch items = %v", got.Items)
	}
	if calls.Load() != 1 {
		t.Errorf("api calls = %d, want 1", calls.Load())
	}

	code, stdout, _ = runCLI(t, "status", "1", "done")
	if code != 0 || strings.TrimSpace(stdout) != "updated 1 entries" {
		t.Fatalf("status = %q (exit %d)", stdout, code)
	}

	code, stdout, _ = runCLI(t, "view", "photos", "page=1")
	if code != 0 {
		t.Fatalf("view exit = %d", code)
	}
	got = decodeListing(t, stdout)
	if len(got.Items) != 2 || got.Items[0].Status() != "done" || got.Items[1].Status() != "new" {
		t.Errorf("view items = %v, want first item done", got.Items)
	}
	if got.Stale || got.Age == "" {
		t.Errorf("view age = %q stale = %v, want fresh entry with an age", got.Age, got.Stale)
	}
	if calls.Load() != 1 {
		t.Errorf("view should not call the api, calls = %d", calls.Load())
	}

	code, stdout, _ = runCLI(t, "clear")
	if code != 0 || strings.TrimSpace(stdout) != "cache cleared" {
		t.Fatalf("clear = %q (exit %d)", stdout, code)
	}

	_, stdout, _ = runCLI(t, "view", "photos", "page=1")
	if got := decodeListing(t, stdout); len(got.Items) != 0 {
		t.Errorf("after clear items = %v, want none", got.Items)
	}
}

func TestRun_FetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	setupEnv(t, srv.URL)
	t.Setenv("MEDIACACHE_ERROR_MESSAGE", "media unavailable")

	code, stdout, stderr := runCLI(t, "fetch", "photos")
	if code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
	if got := decodeListing(t, stdout); got.Error != "media unavailable" {
		t.Errorf("listing error = %q", got.Error)
	}
	if !strings.Contains(stderr, "media unavailable") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRun_FetchRevalidatesFreshEntry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := `[{"id":"v2"}]`
		if calls.Add(1) == 1 {
			body = `[{"id":"v1"}]`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	setupEnv(t, srv.URL)

	if code, _, stderr := runCLI(t, "fetch", "photos"); code != 0 {
		t.Fatalf("first fetch exit = %d, stderr = %q", code, stderr)
	}
	if calls.Load() != 1 {
		t.Fatalf("api calls after miss = %d, want 1", calls.Load())
	}

	code, stdout, stderr := runCLI(t, "fetch", "photos")
	if code != 0 {
		t.Fatalf("second fetch exit = %d, stderr = %q", code, stderr)
	}
	if got := decodeListing(t, stdout); len(got.Items) != 1 || got.Items[0].ID() != "v1" {
		t.Errorf("fresh hit items = %v, want cached v1", got.Items)
	}
	if calls.Load() != 2 {
		t.Errorf("api calls after fresh hit = %d, want 2 (one background refresh)", calls.Load())
	}

	code, stdout, _ = runCLI(t, "view", "photos")
	if code != 0 {
		t.Fatalf("view exit = %d", code)
	}
	if got := decodeListing(t, stdout); len(got.Items) != 1 || got.Items[0].ID() != "v2" {
		t.Errorf("view items = %v, want refreshed v2", got.Items)
	}
	if calls.Load() != 2 {
		t.Errorf("view should not call the api, calls = %d", calls.Load())
	}
}

func TestRun_Logout(t *testing.T) {
	srv, _ := newMediaAPI(t, `[{"id":"1"}]`)
	setupEnv(t, srv.URL)
	t.Setenv("MEDIACACHE_TOKEN", "opaque-token")

	if code, _, stderr := runCLI(t, "fetch", "photos"); code != 0 {
		t.Fatalf("fetch exit = %d, stderr = %q", code, stderr)
	}

	t.Setenv("MEDIACACHE_TOKEN", "")
	code, stdout, _ := runCLI(t, "logout")
	if code != 0 || strings.TrimSpace(stdout) != "logged out" {
		t.Fatalf("logout = %q (exit %d)", stdout, code)
	}

	_, stdout, _ = runCLI(t, "view", "photos")
	if got := decodeListing(t, stdout); len(got.Items) != 0 {
		t.Errorf("logout should clear the cache, items = %v", got.Items)
	}
}

func TestRun_ForbiddenLogsOut(t *testing.T) {
	var (
		mu    sync.Mutex
		auths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		n := len(auths)
		mu.Unlock()
		if n > 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"1"}]`))
	}))
	t.Cleanup(srv.Close)
	setupEnv(t, srv.URL)
	t.Setenv("MEDIACACHE_TTL", "1ns")
	t.Setenv("MEDIACACHE_TOKEN", "opaque-token")

	if code, _, stderr := runCLI(t, "fetch", "photos"); code != 0 {
		t.Fatalf("first fetch exit = %d, stderr = %q", code, stderr)
	}

	t.Setenv("MEDIACACHE_TOKEN", "")
	code, _, _ := runCLI(t, "fetch", "photos")
	if code != 1 {
		t.Errorf("forbidden fetch exit = %d, want 1", code)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(auths) != 2 || auths[0] != "Bearer opaque-token" || auths[1] != "Bearer opaque-token" {
		t.Fatalf("authorization headers = %q", auths)
	}

	_, stdout, _ := runCLI(t, "view", "photos")
	if got := decodeListing(t, stdout); len(got.Items) != 0 {
		t.Errorf("403 should clear the cache, items = %v", got.Items)
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"page=2", "tag=cats", "nsfw=false", "q=", "owner=null"})
	if err != nil {
		t.Fatalf("parseParams() error = %v", err)
	}
	want := cache.Params{
		{Key: "page", Value: float64(2)},
		{Key: "tag", Value: "cats"},
		{Key: "nsfw", Value: false},
		{Key: "q", Value: ""},
		{Key: "owner", Value: nil},
	}
	if len(params) != len(want) {
		t.Fatalf("len = %d, want %d", len(params), len(want))
	}
	for i := range want {
		if params[i] != want[i] {
			t.Errorf("param %d = %#v, want %#v", i, params[i], want[i])
		}
	}

	for _, bad := range []string{"noequals", "=value"} {
		if _, err := parseParams([]string{bad}); err == nil {
			t.Errorf("parseParams(%q) should fail", bad)
		}
	}
}

func TestParamValue_KeepsCompositesAsStrings(t *testing.T) {
	for _, raw := range []string{`{"a":1}`, `[1,2]`, `"quoted"`} {
		if got := paramValue(raw); got != raw {
			t.Errorf("paramValue(%q) = %#v, want the raw string", raw, got)
		}
	}
}

func TestOrderedQuery(t *testing.T) {
	params, err := orderedQuery("z=1&a=two+words&flag=true&&empty=")
	if err != nil {
		t.Fatalf("orderedQuery() error = %v", err)
	}
	want := []string{"z", "a", "flag", "empty"}
	if len(params) != len(want) {
		t.Fatalf("params = %v", params)
	}
	for i, k := range want {
		if params[i].Key != k {
			t.Errorf("key %d = %q, want %q", i, params[i].Key, k)
		}
	}
	if params[1].Value != "two words" || params[2].Value != true {
		t.Errorf("values = %#v", params)
	}

	if _, err := orderedQuery("a=%zz"); err == nil {
		t.Error("orderedQuery should reject a bad escape")
	}
}

func newTestApp(t *testing.T, api string) *app {
	t.Helper()
	cfg, err := config.Parse(map[string]string{
		"MEDIACACHE_API_BASE_URL":     api,
		"MEDIACACHE_API_MAX_ATTEMPTS": "1",
		"MEDIACACHE_STORAGE_DRIVER":   "memory",
		"MEDIACACHE_LOG_LEVEL":        "error",
	})
	if err != nil {
		t.Fatalf("config.Parse() error = %v", err)
	}
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(func() { _ = a.close(context.Background()) })
	return a
}

func TestHandler(t *testing.T) {
	api, _ := newMediaAPI(t, `[{"id":"7","status":"new"}]`)
	a := newTestApp(t, api.URL)
	srv := httptest.NewServer(a.handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/media/albums/3?page=1")
	if err != nil {
		t.Fatalf("GET media: %v", err)
	}
	var got listing
	err = json.NewDecoder(resp.Body).Decode(&got)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || len(got.Items) != 1 || got.Items[0].ID() != "7" {
		t.Errorf("media = %d %+v", resp.StatusCode, got)
	}
	if want := a.store.Key("albums/3", cache.Params{{Key: "page", Value: float64(1)}}); got.Key != want {
		t.Errorf("key = %q, want %q", got.Key, want)
	}

	for _, path := range []string{"/healthz", "/readyz", "/health", "/health/storage", "/health/circuit"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("/metrics without prometheus exporter = %d, want 404", resp.StatusCode)
	}
}

func TestHandler_UpstreamFailure(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(api.Close)
	a := newTestApp(t, api.URL)
	srv := httptest.NewServer(a.handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/media/photos")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestRunServe_StopsOnCancel(t *testing.T) {
	api, _ := newMediaAPI(t, `[]`)
	a := newTestApp(t, api.URL)

	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, a, []string{"-addr", "127.0.0.1:0"}, &out) }()

	cancel()
	if err := <-done; err != nil {
		t.Errorf("runServe() error = %v", err)
	}
}
