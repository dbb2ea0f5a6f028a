package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/bundlebridge/internal/compiler"
	"github.com/fluxbase-eu/bundlebridge/internal/config"
	"github.com/fluxbase-eu/bundlebridge/internal/jshost"
	"github.com/fluxbase-eu/bundlebridge/internal/observability"
	"github.com/fluxbase-eu/bundlebridge/internal/ratelimit"
	"github.com/fluxbase-eu/bundlebridge/internal/testutil"
)

func testConfig() *config.Config {
	return &config.Config{
		Webpack: config.WebpackConfig{BundleDir: "webpack", ServiceName: "webpack"},
		Host: config.HostConfig{
			Address:         "127.0.0.1:0",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			IdleTimeout:     5 * time.Second,
			BodyLimit:       1024 * 1024,
			RateLimitWindow: time.Minute,
		},
		Metrics: config.MetricsConfig{Enabled: false, Path: "/metrics"},
	}
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decodeError(t *testing.T, data []byte) (string, int) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	return body.Error, body.Code
}

func TestServer_ServiceCall(t *testing.T) {
	svc := &testutil.MockService{ServiceName: "webpack"}
	s := NewServer(testConfig(), WithService(svc))

	status, body := doRequest(t, s.App(), "POST", "/service/webpack", `{"config":"/app/webpack.config.yaml"}`)

	assert.Equal(t, 200, status)
	assert.JSONEq(t, `{"config":"/app/webpack.config.yaml"}`, string(body))
}

func TestServer_ServiceCallErrors(t *testing.T) {
	svc := &testutil.MockService{
		ServiceName: "webpack",
		OnHandle: func(ctx context.Context, payload []byte) ([]byte, error) {
			switch string(payload) {
			case "bad":
				return nil, fmt.Errorf("%w: config is required", compiler.ErrInvalidRequest)
			default:
				return nil, errors.New("compiler crashed")
			}
		},
	}
	s := NewServer(testConfig(), WithService(svc))

	tests := []struct {
		name    string
		path    string
		body    string
		code    int
		message string
	}{
		{"unknown service", "/service/render", "{}", 404, `unknown service "render"`},
		{"invalid request", "/service/webpack", "bad", 400, "invalid compiler request: config is required"},
		{"service failure", "/service/webpack", "boom", 500, "compiler crashed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, s.App(), "POST", tt.path, tt.body)
			assert.Equal(t, tt.code, status)
			message, code := decodeError(t, body)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.message, message)
		})
	}
}

func TestServer_CallTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Host.CallTimeout = 10 * time.Millisecond

	svc := &testutil.MockService{
		ServiceName: "webpack",
		OnHandle: func(ctx context.Context, payload []byte) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	s := NewServer(cfg, WithService(svc))

	status, body := doRequest(t, s.App(), "POST", "/service/webpack", "{}")
	assert.Equal(t, 500, status)
	message, _ := decodeError(t, body)
	assert.Contains(t, message, "deadline exceeded")
}

func TestServer_HealthAndStatus(t *testing.T) {
	s := NewServer(testConfig(),
		WithService(&testutil.MockService{ServiceName: "webpack", Watchers: 2}),
		WithService(&testutil.MockService{ServiceName: "render"}),
	)

	status, body := doRequest(t, s.App(), "GET", "/health", "")
	assert.Equal(t, 200, status)
	assert.Contains(t, string(body), `"status":"ok"`)

	status, body = doRequest(t, s.App(), "GET", "/status", "")
	require.Equal(t, 200, status)

	var st jshost.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "ok", st.Status)
	assert.Equal(t, Version, st.Version)
	assert.Equal(t, []string{"render", "webpack"}, st.Services)
	assert.Equal(t, 2, st.ActiveWatchers)
	assert.NotEmpty(t, st.Uptime)
}

func TestServer_SecurityHeaders(t *testing.T) {
	s := NewServer(testConfig())

	resp, err := s.App().Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestServer_Metrics(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := NewServer(cfg,
		WithMetrics(metrics),
		WithService(&testutil.MockService{ServiceName: "webpack", Watchers: 3}),
	)

	doRequest(t, s.App(), "POST", "/service/webpack", "{}")

	status, body := doRequest(t, s.App(), "GET", "/metrics", "")
	require.Equal(t, 200, status)
	assert.Contains(t, string(body), `bundlebridge_http_requests_total{method="POST",path="/service/:name",status="2xx"} 1`)
	assert.Contains(t, string(body), "bundlebridge_compiler_active_watchers 3")
	assert.Contains(t, string(body), "bundlebridge_system_uptime_seconds")
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	cfg.Host.RateLimitMax = 1
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := NewServer(cfg, WithMetrics(metrics), WithService(&testutil.MockService{ServiceName: "webpack"}))

	status, _ := doRequest(t, s.App(), "POST", "/service/webpack", "{}")
	assert.Equal(t, 200, status)
	status, _ = doRequest(t, s.App(), "POST", "/service/webpack", "{}")
	assert.Equal(t, 429, status)

	_, body := doRequest(t, s.App(), "GET", "/metrics", "")
	assert.Contains(t, string(body), `bundlebridge_rate_limit_hits_total{path="/service/webpack"} 1`)
}

func TestServer_RateLimitSharedStorage(t *testing.T) {
	storage, err := ratelimit.NewStorage(ratelimit.BackendMemory, "")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Host.RateLimitMax = 1
	first := NewServer(cfg, WithLimiterStorage(storage), WithService(&testutil.MockService{ServiceName: "webpack"}))
	second := NewServer(cfg, WithLimiterStorage(storage), WithService(&testutil.MockService{ServiceName: "webpack"}))

	status, _ := doRequest(t, first.App(), "POST", "/service/webpack", "{}")
	assert.Equal(t, 200, status)
	// the budget is spent on the other host
	status, _ = doRequest(t, second.App(), "POST", "/service/webpack", "{}")
	assert.Equal(t, 429, status)
}

func TestServer_ServesBundles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "webpack"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "webpack", "app.js"), []byte(`console.log("SERVED")`), 0o600))

	cfg := testConfig()
	cfg.Webpack.BundleRoot = root
	cfg.Webpack.BundleURL = "/static/"
	s := NewServer(cfg)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/static/webpack/app.js", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, `console.log("SERVED")`, string(data))
	assert.Equal(t, "cross-origin", resp.Header.Get("Cross-Origin-Resource-Policy"))

	status, _ := doRequest(t, s.App(), "GET", "/static/webpack/missing.js", "")
	assert.Equal(t, 404, status)
}

func TestBundlePrefix(t *testing.T) {
	tests := []struct {
		root, url, want string
	}{
		{"", "/static/", ""},
		{"/srv", "", ""},
		{"/srv", "/static/", "/static"},
		{"/srv", "http://cdn.example.com/assets/", "/assets"},
		{"/srv", "/", "/"},
		{"/srv", "http://cdn.example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			cfg := testConfig()
			cfg.Webpack.BundleRoot = tt.root
			cfg.Webpack.BundleURL = tt.url
			s := &Server{config: cfg}
			assert.Equal(t, tt.want, s.bundlePrefix())
		})
	}
}

func TestServer_Shutdown(t *testing.T) {
	svc := &testutil.MockService{ServiceName: "webpack"}
	s := NewServer(testConfig(), WithService(svc))

	require.NoError(t, s.Shutdown(context.Background()))
	assert.True(t, svc.Closed())
}

func TestServer_ShutdownDrainsBeforeClosingServices(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	started := make(chan struct{})
	release := make(chan struct{})
	svc := &testutil.MockService{
		ServiceName: "webpack",
		OnHandle: func(ctx context.Context, payload []byte) ([]byte, error) {
			close(started)
			<-release
			record("handled")
			return []byte(`{"assets":[],"errors":[],"warnings":[]}`), nil
		},
		OnClose: func() { record("closed") },
	}
	s := NewServer(testConfig(), WithService(svc))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(ln) }()

	callErr := make(chan error, 1)
	go func() {
		resp, err := http.Post("http://"+ln.Addr().String()+"/service/webpack", "application/json", strings.NewReader("{}"))
		if err == nil {
			resp.Body.Close()
		}
		callErr <- err
	}()
	<-started

	done := make(chan error, 1)
	go func() { done <- s.Shutdown(context.Background()) }()

	// the service must stay open while the call is in flight
	time.Sleep(50 * time.Millisecond)
	assert.False(t, svc.Closed())
	close(release)

	require.NoError(t, <-callErr)
	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"handled", "closed"}, events)
}

func TestTracerConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Tracing = config.TracingConfig{
		Enabled:     true,
		Endpoint:    "otel:4317",
		ServiceName: "bundlehost",
		Environment: "staging",
		SampleRate:  0.5,
		Insecure:    true,
	}

	got := TracerConfig(cfg)
	assert.True(t, got.Enabled)
	assert.Equal(t, "otel:4317", got.Endpoint)
	assert.Equal(t, "bundlehost", got.ServiceName)
	assert.Equal(t, "staging", got.Environment)
	assert.Equal(t, 0.5, got.SampleRate)
	assert.True(t, got.Insecure)
	assert.Equal(t, Version, got.Version)
}
