package middleware

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	localSpan    = "trace_span"
	localSpanCtx = "trace_ctx"
)

// TracingConfig holds configuration for the tracing middleware
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	SkipPaths   []string

	// RecordBundleDetails adds the bundle request flags and the stats
	// counts of service calls to their spans
	RecordBundleDetails bool
}

// DefaultTracingConfig returns sensible defaults
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:             true,
		ServiceName:         "bundlebridge",
		SkipPaths:           []string{"/health", "/metrics"},
		RecordBundleDetails: true,
	}
}

// TracingMiddleware starts a server span per request, continuing any trace
// the caller propagated
func TracingMiddleware(cfg TracingConfig) fiber.Handler {
	if !cfg.Enabled {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	tracer := otel.Tracer("bundlebridge-http")
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		if _, ok := skip[c.Path()]; ok {
			return c.Next()
		}

		parent := otel.GetTextMapPropagator().Extract(
			c.Context(),
			propagation.HeaderCarrier(c.GetReqHeaders()),
		)

		// fasthttp reuses these buffers once the handler returns and the
		// exporter reads attributes later, so they are copied
		method := utils.CopyString(c.Method())

		// renamed to the route pattern once the chain has matched it
		ctx, span := tracer.Start(parent, method+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(method),
				semconv.URLFull(utils.CopyString(c.OriginalURL())),
				semconv.ServerAddress(utils.CopyString(c.Hostname())),
				attribute.String("http.request_id", utils.CopyString(c.Get(fiber.HeaderXRequestID))),
				attribute.String("net.peer.ip", utils.CopyString(c.IP())),
			),
		)
		defer span.End()

		c.Locals(localSpanCtx, ctx)
		c.Locals(localSpan, span)
		c.SetUserContext(ctx)
		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Set("X-Trace-ID", sc.TraceID().String())
		}

		err := c.Next()

		route := routeOf(c)
		span.SetName(method + " " + route)
		status := responseStatus(c, err)
		span.SetAttributes(
			semconv.HTTPRoute(route),
			semconv.HTTPResponseStatusCode(status),
			attribute.Int("http.response_size", len(c.Response().Body())),
		)

		if call, ok := serviceCallOf(c); ok {
			span.SetAttributes(attribute.String("service.name", call.service))
			if cfg.RecordBundleDetails {
				recordBundleDetails(span, call, c.Response().Body())
			}
		}

		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case status >= 400:
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		default:
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}

func recordBundleDetails(span trace.Span, call serviceCall, body []byte) {
	if call.request != nil {
		span.SetAttributes(
			attribute.String("webpack.config", call.request.Config),
			attribute.Bool("webpack.watch", call.request.Watch),
			attribute.Bool("webpack.watch_config", call.request.WatchConfig),
			attribute.Bool("webpack.full_stats", call.request.FullStats),
		)
	}
	if sum, ok := summarizeStats(body); ok {
		span.SetAttributes(
			attribute.Int("webpack.assets", sum.assets),
			attribute.Int("webpack.errors", sum.errors),
			attribute.Int("webpack.warnings", sum.warnings),
		)
	}
}

// routeOf is the matched route pattern, or the raw path when only
// middleware matched
func routeOf(c *fiber.Ctx) string {
	if route := c.Route().Path; route != "" && route != "/" {
		return route
	}
	return utils.CopyString(c.Path())
}

func spanOf(c *fiber.Ctx) (trace.Span, bool) {
	span, ok := c.Locals(localSpan).(trace.Span)
	return span, ok
}

// GetTraceContext returns the span context of the request span, or an
// invalid one when the request is not traced
func GetTraceContext(c *fiber.Ctx) trace.SpanContext {
	if span, ok := spanOf(c); ok {
		return span.SpanContext()
	}
	return trace.SpanContext{}
}

// GetTraceID returns the request's trace ID or ""
func GetTraceID(c *fiber.Ctx) string {
	if sc := GetTraceContext(c); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// GetSpanID returns the request span's ID or ""
func GetSpanID(c *fiber.Ctx) string {
	if sc := GetTraceContext(c); sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}

// SpanContext returns the request's trace context for handlers to pass on,
// falling back to the fasthttp context when tracing is off
func SpanContext(c *fiber.Ctx) context.Context {
	if ctx, ok := c.Locals(localSpanCtx).(context.Context); ok {
		return ctx
	}
	return c.UserContext()
}

func AddSpanEvent(c *fiber.Ctx, name string, attrs ...attribute.KeyValue) {
	if span, ok := spanOf(c); ok && span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

func SetSpanError(c *fiber.Ctx, err error) {
	if span, ok := spanOf(c); ok && span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func SetSpanAttributes(c *fiber.Ctx, attrs ...attribute.KeyValue) {
	if span, ok := spanOf(c); ok && span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}
