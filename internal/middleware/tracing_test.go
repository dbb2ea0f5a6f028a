package middleware

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "bundlebridge", cfg.ServiceName)
	assert.Equal(t, []string{"/health", "/metrics"}, cfg.SkipPaths)
	assert.True(t, cfg.RecordBundleDetails)
}

func TestTracingMiddleware_Disabled(t *testing.T) {
	recorder := installRecorder(t)

	app := fiber.New()
	app.Use(TracingMiddleware(TracingConfig{Enabled: false}))
	app.Get("/status", func(c *fiber.Ctx) error {
		assert.Empty(t, GetTraceID(c))
		return c.SendString("OK")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/status", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, resp.Header.Get("X-Trace-ID"))
	assert.Empty(t, recorder.Ended())
}

func TestTracingMiddleware_SkipPaths(t *testing.T) {
	recorder := installRecorder(t)

	app := fiber.New()
	app.Use(TracingMiddleware(DefaultTracingConfig()))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("OK") })

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, recorder.Ended())
}

func TestTracingMiddleware_ServiceCall(t *testing.T) {
	recorder := installRecorder(t)

	app := fiber.New()
	app.Use(TracingMiddleware(DefaultTracingConfig()))

	var handlerTraceID string
	app.Post("/service/:name", func(c *fiber.Ctx) error {
		handlerTraceID = trace.SpanContextFromContext(SpanContext(c)).TraceID().String()
		AddSpanEvent(c, "build.started")
		SetSpanAttributes(c, attribute.Int("bundle.assets", 2))
		return c.SendString(`{"assets":[]}`)
	})

	resp, err := app.Test(httptest.NewRequest("POST", "/service/webpack", strings.NewReader(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]

	assert.Equal(t, "POST /service/:name", span.Name())
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())
	assert.Equal(t, codes.Ok, span.Status().Code)
	assert.Equal(t, span.SpanContext().TraceID().String(), resp.Header.Get("X-Trace-ID"))
	assert.Equal(t, span.SpanContext().TraceID().String(), handlerTraceID)

	name, ok := spanAttr(span, "service.name")
	require.True(t, ok)
	assert.Equal(t, "webpack", name.AsString())

	assets, ok := spanAttr(span, "bundle.assets")
	require.True(t, ok)
	assert.Equal(t, int64(2), assets.AsInt64())

	require.Len(t, span.Events(), 1)
	assert.Equal(t, "build.started", span.Events()[0].Name)
}

func TestTracingMiddleware_ContinuesIncomingTrace(t *testing.T) {
	recorder := installRecorder(t)

	app := fiber.New()
	app.Use(TracingMiddleware(DefaultTracingConfig()))
	app.Get("/status", func(c *fiber.Ctx) error { return c.SendString("OK") })

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
}

func TestTracingMiddleware_ErrorStatus(t *testing.T) {
	recorder := installRecorder(t)

	app := fiber.New()
	app.Use(TracingMiddleware(DefaultTracingConfig()))
	app.Get("/missing", func(c *fiber.Ctx) error { return c.SendStatus(404) })
	app.Get("/broken", func(c *fiber.Ctx) error {
		SetSpanError(c, errors.New("compiler crashed"))
		return errors.New("compiler crashed")
	})

	for _, path := range []string{"/missing", "/broken"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		resp.Body.Close()
	}

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "HTTP 404", spans[0].Status().Description)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "compiler crashed", spans[1].Status().Description)
}

func TestTracingMiddleware_BundleDetails(t *testing.T) {
	recorder := installRecorder(t)

	app := fiber.New()
	app.Use(TracingMiddleware(DefaultTracingConfig()))
	app.Post("/service/:name", func(c *fiber.Ctx) error {
		return c.SendString(`{"assets":[{"name":"a.js"},{"name":"b.js"}],"errors":[],"warnings":["unused"]}`)
	})

	payload := `{"config":"/app/webpack.config.yaml","watch":true,"fullStats":true}`
	resp, err := app.Test(httptest.NewRequest("POST", "/service/webpack", strings.NewReader(payload)))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "a.js")

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	want := map[string]attribute.Value{
		"webpack.config":       attribute.StringValue("/app/webpack.config.yaml"),
		"webpack.watch":        attribute.BoolValue(true),
		"webpack.watch_config": attribute.BoolValue(false),
		"webpack.full_stats":   attribute.BoolValue(true),
		"webpack.assets":       attribute.IntValue(2),
		"webpack.errors":       attribute.IntValue(0),
		"webpack.warnings":     attribute.IntValue(1),
	}
	for key, value := range want {
		got, ok := spanAttr(spans[0], key)
		require.True(t, ok, key)
		assert.Equal(t, value, got, key)
	}
}

func TestTracingMiddleware_BundleDetailsOff(t *testing.T) {
	recorder := installRecorder(t)

	cfg := DefaultTracingConfig()
	cfg.RecordBundleDetails = false

	app := fiber.New()
	app.Use(TracingMiddleware(cfg))
	app.Post("/service/:name", func(c *fiber.Ctx) error { return c.SendString(`{"assets":[]}`) })

	resp, err := app.Test(httptest.NewRequest("POST", "/service/webpack", strings.NewReader(`{"config":"a.yaml"}`)))
	require.NoError(t, err)
	resp.Body.Close()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	_, ok := spanAttr(spans[0], "service.name")
	assert.True(t, ok)
	_, ok = spanAttr(spans[0], "webpack.config")
	assert.False(t, ok)
	_, ok = spanAttr(spans[0], "webpack.assets")
	assert.False(t, ok)
}

func TestTracingMiddleware_UnmatchedRouteUsesPath(t *testing.T) {
	recorder := installRecorder(t)

	app := fiber.New()
	app.Use(TracingMiddleware(DefaultTracingConfig()))

	resp, err := app.Test(httptest.NewRequest("GET", "/nowhere", nil))
	require.NoError(t, err)
	resp.Body.Close()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /nowhere", spans[0].Name())
}

func TestTraceHelpers_NoSpan(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		assert.False(t, GetTraceContext(c).IsValid())
		assert.Empty(t, GetTraceID(c))
		assert.Empty(t, GetSpanID(c))
		assert.NotNil(t, SpanContext(c))
		assert.NotPanics(t, func() {
			AddSpanEvent(c, "e")
			SetSpanError(c, errors.New("x"))
			SetSpanAttributes(c, attribute.String("k", "v"))
		})
		return c.SendString("OK")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestGetSpanID(t *testing.T) {
	installRecorder(t)

	app := fiber.New()
	app.Use(TracingMiddleware(DefaultTracingConfig()))
	app.Get("/status", func(c *fiber.Ctx) error {
		assert.Len(t, GetTraceID(c), 32)
		assert.Len(t, GetSpanID(c), 16)
		return c.SendString("OK")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/status", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
}

func BenchmarkTracingMiddleware_Disabled(b *testing.B) {
	app := fiber.New()
	app.Use(TracingMiddleware(TracingConfig{Enabled: false}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("OK") })

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, _ := app.Test(httptest.NewRequest("GET", "/", nil))
		resp.Body.Close()
	}
}

func TestTracingMiddleware_AttributesSurviveLaterRequests(t *testing.T) {
	recorder := installRecorder(t)

	app := fiber.New()
	app.Use(TracingMiddleware(DefaultTracingConfig()))
	app.Post("/service/:name", func(c *fiber.Ctx) error { return c.SendString(`{"assets":[]}`) })
	app.Get("/status", func(c *fiber.Ctx) error { return c.SendString("OK") })

	req := httptest.NewRequest("POST", "http://compiler.local/service/webpack", strings.NewReader(`{}`))
	req.Header.Set("X-Request-ID", "req-first")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "http://other.example/status?x=yyyyyyyy", nil)
		req.Header.Set("X-Request-ID", "req-later-and-longer")
		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	spans := recorder.Ended()
	require.Len(t, spans, 4)
	first := spans[0]
	assert.Equal(t, "POST /service/:name", first.Name())

	want := map[string]string{
		"http.request.method": "POST",
		"url.full":            "/service/webpack",
		"server.address":      "compiler.local",
		"http.request_id":     "req-first",
		"http.route":          "/service/:name",
		"service.name":        "webpack",
	}
	for key, value := range want {
		got, ok := spanAttr(first, key)
		require.True(t, ok, key)
		assert.Equal(t, value, got.AsString(), key)
	}
}
