// Package webpack resolves bundler configs, dispatches them to the external
// compiler service and exposes the emitted assets as paths and public URLs.
package webpack

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Bundle outcomes reported to the metrics recorder
const (
	OutcomeSuccess        = "success"
	OutcomeImproperConfig = "improperly_configured"
	OutcomeNotFound       = "config_not_found"
	OutcomeTransportError = "transport_error"
	OutcomeCompilerError  = "compiler_error"
)

// MetricsRecorder receives one observation per Bundle call.
type MetricsRecorder interface {
	RecordBundle(outcome string, warnings int, duration time.Duration)
}

// WarningHandler is called when the compiler reports warnings.
type WarningHandler func(*CompilerWarning)

// Compiler is the entry point used by the template layer.
type Compiler struct {
	settings   Settings
	resolver   *Resolver
	client     *ServiceClient
	normalizer *Normalizer
	onWarning  WarningHandler
	metrics    MetricsRecorder
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// CompilerOption configures a Compiler
type CompilerOption func(*Compiler)

// WithWarningHandler replaces the default handler, which logs warnings.
func WithWarningHandler(h WarningHandler) CompilerOption {
	return func(c *Compiler) {
		c.onWarning = h
	}
}

// WithMetrics records every call on m.
func WithMetrics(m MetricsRecorder) CompilerOption {
	return func(c *Compiler) {
		c.metrics = m
	}
}

// WithLogger sets the logger used for warnings and debug output.
func WithLogger(logger zerolog.Logger) CompilerOption {
	return func(c *Compiler) {
		c.logger = logger
		c.client.logger = logger
	}
}

// NewCompiler wires the resolver, service client and normalizer together.
// finder may be nil when only absolute config paths are used.
func NewCompiler(settings Settings, finder Finder, transport Transport, opts ...CompilerOption) *Compiler {
	c := &Compiler{
		settings:   settings,
		resolver:   NewResolver(finder),
		client:     NewServiceClient(transport, settings.serviceName()),
		normalizer: NewNormalizer(settings),
		tracer:     otel.Tracer("bundlebridge-webpack"),
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.onWarning == nil {
		c.onWarning = c.logWarning
	}
	return c
}

type bundleOptions struct {
	watchConfig *bool
	watchSource *bool
	fullStats   *bool
}

// BundleOption overrides a per-call default taken from Settings.
type BundleOption func(*bundleOptions)

// WatchConfig overrides Settings.WatchConfigFiles for one call.
func WatchConfig(watch bool) BundleOption {
	return func(o *bundleOptions) { o.watchConfig = &watch }
}

// WatchSource overrides Settings.WatchSourceFiles for one call.
func WatchSource(watch bool) BundleOption {
	return func(o *bundleOptions) { o.watchSource = &watch }
}

// FullStats overrides Settings.OutputFullStats for one call.
func FullStats(full bool) BundleOption {
	return func(o *bundleOptions) { o.fullStats = &full }
}

// Bundle resolves configRef, compiles it through the service and returns the
// enriched result. The call blocks until the service answers or ctx is done.
func (c *Compiler) Bundle(ctx context.Context, configRef string, opts ...BundleOption) (*Bundle, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "webpack.bundle",
		trace.WithAttributes(attribute.String("webpack.config_ref", configRef)),
	)
	defer span.End()

	bundle, err := c.bundle(ctx, configRef, opts)

	warnings := 0
	if bundle != nil && bundle.warnings != nil {
		warnings = len(bundle.warnings.Warnings)
	}
	outcome := outcomeOf(err)
	if c.metrics != nil {
		c.metrics.RecordBundle(outcome, warnings, time.Since(start))
	}
	span.SetAttributes(
		attribute.String("webpack.outcome", outcome),
		attribute.Int("webpack.warnings", warnings),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("webpack.assets", len(bundle.stats.Assets)))
	span.SetStatus(codes.Ok, "")
	return bundle, nil
}

func (c *Compiler) bundle(ctx context.Context, configRef string, opts []BundleOption) (*Bundle, error) {
	if err := c.settings.Validate(); err != nil {
		return nil, err
	}

	configPath, err := c.resolver.Resolve(configRef)
	if err != nil {
		return nil, err
	}

	o := bundleOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	req := BundleRequest{
		ConfigPath:  configPath,
		WatchConfig: boolOr(o.watchConfig, c.settings.WatchConfigFiles),
		WatchSource: boolOr(o.watchSource, c.settings.WatchSourceFiles),
		FullStats:   boolOr(o.fullStats, c.settings.OutputFullStats),
		OutputDir:   c.settings.BundleDirPath(),
	}

	stats, err := c.client.Compile(ctx, req)
	if err != nil {
		return nil, err
	}

	var warning *CompilerWarning
	if len(stats.Warnings) > 0 {
		warning = &CompilerWarning{ConfigPath: configPath, Warnings: stats.Warnings}
		c.onWarning(warning)
	}

	enriched, err := c.normalizer.Normalize(stats)
	if err != nil {
		return nil, &BundlingError{Kind: KindTransport, ConfigPath: configPath, Cause: err}
	}

	return &Bundle{stats: enriched, warnings: warning}, nil
}

func (c *Compiler) logWarning(w *CompilerWarning) {
	c.logger.Warn().
		Str("config", w.ConfigPath).
		Strs("warnings", w.Warnings).
		Msg("Compiler reported warnings")
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrImproperlyConfigured):
		return OutcomeImproperConfig
	case errors.Is(err, ErrConfigNotFound):
		return OutcomeNotFound
	case IsCompilerError(err):
		return OutcomeCompilerError
	default:
		return OutcomeTransportError
	}
}
