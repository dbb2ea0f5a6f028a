package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Instrumentation scopes of the spans this module creates
const (
	scopeClient   = "bundlebridge-jshost"
	scopeCompiler = "bundlebridge-compiler"
)

// TracerConfig holds configuration for OpenTelemetry tracing
type TracerConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"` // OTLP gRPC collector, host:port
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"` // 0 < rate <= 1
	Insecure    bool    `mapstructure:"insecure"`
	Version     string  `mapstructure:"-"` // service.version, set by the binary
}

// DefaultTracerConfig returns sensible defaults for tracing
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Endpoint:    "localhost:4317",
		ServiceName: "bundlebridge",
		Environment: "development",
		SampleRate:  1.0,
		Insecure:    true,
	}
}

// withDefaults fills zero fields from DefaultTracerConfig
func (cfg TracerConfig) withDefaults() TracerConfig {
	def := DefaultTracerConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = def.ServiceName
	}
	if cfg.Environment == "" {
		cfg.Environment = def.Environment
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return cfg
}

// sampler keeps every trace at rate 1 and otherwise follows the caller's
// decision, sampling new roots by trace ID
func (cfg TracerConfig) sampler() sdktrace.Sampler {
	if cfg.SampleRate >= 1.0 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
}

func (cfg TracerConfig) resource() (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironment(cfg.Environment),
			semconv.ServiceNamespace("bundlebridge"),
		),
	)
}

func (cfg TracerConfig) exporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Tracer owns the process-wide trace provider. A disabled Tracer has no
// provider and leaves the global otel state alone.
type Tracer struct {
	provider *sdktrace.TracerProvider
}

// NewTracer installs an OTLP exporting provider and the W3C propagators as
// the otel globals. With tracing disabled it returns a no-op Tracer.
func NewTracer(ctx context.Context, cfg TracerConfig) (*Tracer, error) {
	if !cfg.Enabled {
		log.Info().Msg("OpenTelemetry tracing is disabled")
		return &Tracer{}, nil
	}
	cfg = cfg.withDefaults()

	exporter, err := cfg.exporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	res, err := cfg.resource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Float64("sample_rate", cfg.SampleRate).
		Msg("OpenTelemetry tracing initialized")

	return &Tracer{provider: provider}, nil
}

// IsEnabled reports whether spans are exported
func (t *Tracer) IsEnabled() bool {
	return t != nil && t.provider != nil
}

// Shutdown flushes pending spans
func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.IsEnabled() {
		return nil
	}
	log.Info().Msg("Shutting down OpenTelemetry tracer")
	return t.provider.Shutdown(ctx)
}

// StartServiceCallSpan starts the client span of one call to a compiler
// host service
func StartServiceCallSpan(ctx context.Context, service string) (context.Context, trace.Span) {
	return otel.Tracer(scopeClient).Start(ctx, "service."+service,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("service.name", service)),
	)
}

// InjectTraceHeaders propagates the span in ctx to the compiler host
func InjectTraceHeaders(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}

// StartBuildSpan starts the span of one build of configPath
func StartBuildSpan(ctx context.Context, configPath string, watched bool) (context.Context, trace.Span) {
	return otel.Tracer(scopeCompiler).Start(ctx, "compiler.build",
		trace.WithAttributes(
			attribute.String("bundle.config", configPath),
			attribute.Bool("bundle.watched", watched),
		),
	)
}

// SetBuildResult records the stats counts of a finished build. Compile
// errors mark the span as failed even though the build call succeeded.
func SetBuildResult(ctx context.Context, assets, errorCount, warnings int, took time.Duration) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.Int("bundle.assets", assets),
		attribute.Int("bundle.errors", errorCount),
		attribute.Int("bundle.warnings", warnings),
		attribute.Int64("bundle.duration_ms", took.Milliseconds()),
	)
	if errorCount > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d build errors", errorCount))
		return
	}
	span.SetStatus(codes.Ok, "")
}

// EndSpan ends span, recording err when set
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ExtractTraceID returns the trace ID of the span in ctx, or ""
func ExtractTraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
