// Package server hosts named compiler services over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fluxbase-eu/bundlebridge/internal/compiler"
	"github.com/fluxbase-eu/bundlebridge/internal/config"
	"github.com/fluxbase-eu/bundlebridge/internal/jshost"
	"github.com/fluxbase-eu/bundlebridge/internal/middleware"
	"github.com/fluxbase-eu/bundlebridge/internal/observability"
)

// Version is reported by /status and set by the host binary
var Version = "dev"

// Service is a named handler for raw JSON requests
type Service interface {
	Name() string
	Handle(ctx context.Context, payload []byte) ([]byte, error)
}

type watcherCounter interface {
	ActiveWatchers() int
}

type watchLister interface {
	WatchedConfigs() []string
}

type closer interface {
	Close()
}

// Server represents the HTTP server
type Server struct {
	app       *fiber.App
	config    *config.Config
	tracer    *observability.Tracer
	metrics   *observability.Metrics
	limits    fiber.Storage
	services  map[string]Service
	startTime time.Time
}

// Option configures a Server
type Option func(*Server)

// WithService registers svc under its name
func WithService(svc Service) Option {
	return func(s *Server) {
		s.services[svc.Name()] = svc
	}
}

// WithMetrics uses m instead of metrics on the default registry
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithTracer uses an already initialised tracer
func WithTracer(t *observability.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithLimiterStorage keeps rate limit counters in storage instead of
// process memory
func WithLimiterStorage(storage fiber.Storage) Option {
	return func(s *Server) {
		s.limits = storage
	}
}

// TracerConfig maps the tracing section of cfg onto the tracer settings
func TracerConfig(cfg *config.Config) observability.TracerConfig {
	return observability.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
		Version:     Version,
	}
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, opts ...Option) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "bundlebridge " + Version,
		BodyLimit:             cfg.Host.BodyLimit,
		ReadTimeout:           cfg.Host.ReadTimeout,
		WriteTimeout:          cfg.Host.WriteTimeout,
		IdleTimeout:           cfg.Host.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
		ErrorHandler:          customErrorHandler,
	})

	s := &Server{
		app:       app,
		config:    cfg,
		services:  make(map[string]Service),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.tracer == nil {
		tracer, err := observability.NewTracer(context.Background(), TracerConfig(cfg))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize OpenTelemetry tracer, tracing will be disabled")
		}
		s.tracer = tracer
	}

	if s.metrics == nil && cfg.Metrics.Enabled {
		s.metrics = observability.NewMetrics(nil)
	}

	s.setupMiddlewares()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddlewares() {
	// Request ID middleware - must be first for tracing
	s.app.Use(requestid.New())

	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: s.config.Debug,
	}))

	if s.config.Tracing.Enabled && s.tracer != nil && s.tracer.IsEnabled() {
		log.Debug().Msg("Adding OpenTelemetry tracing middleware")
		s.app.Use(middleware.TracingMiddleware(middleware.TracingConfig{
			Enabled:             true,
			ServiceName:         s.config.Tracing.ServiceName,
			SkipPaths:           []string{"/health", s.config.Metrics.Path},
			RecordBundleDetails: true,
		}))
	}

	s.app.Use(middleware.StructuredLogger(middleware.StructuredLoggerConfig{
		SkipPaths:            []string{"/health", s.config.Metrics.Path},
		BundleDetails:        true,
		SlowRequestThreshold: 30 * time.Second,
	}))

	if s.metrics != nil {
		s.app.Use(s.metrics.MetricsMiddleware())
	}

	// Bundles are loaded cross-origin by rendered pages, everything else is JSON
	bundlePrefix := s.bundlePrefix()
	bundleHeaders := middleware.BundleSecurityHeaders()
	apiHeaders := middleware.SecurityHeaders()
	s.app.Use(func(c *fiber.Ctx) error {
		if bundlePrefix != "" && strings.HasPrefix(c.Path(), bundlePrefix) {
			return bundleHeaders(c)
		}
		return apiHeaders(c)
	})

	s.app.Use(compress.New(compress.Config{
		Level: compress.LevelDefault,
	}))
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/status", s.handleStatus)

	if s.metrics != nil {
		handler := s.metrics.Handler()
		s.app.Get(s.config.Metrics.Path, func(c *fiber.Ctx) error {
			s.refreshGauges()
			return handler(c)
		})
	}

	handlers := []fiber.Handler{}
	if s.config.Host.RateLimitMax > 0 {
		log.Info().
			Int("max", s.config.Host.RateLimitMax).
			Dur("window", s.config.Host.RateLimitWindow).
			Msg("Enabling service call rate limiter")
		handlers = append(handlers, middleware.ServiceCallLimiter(
			s.config.Host.RateLimitMax,
			s.config.Host.RateLimitWindow,
			s.limits,
			s.onRateLimit,
		))
	}
	handlers = append(handlers, s.handleServiceCall)
	s.app.Post("/service/:name", handlers...)

	// Static last so it never shadows the routes above
	if prefix := s.bundlePrefix(); prefix != "" {
		log.Info().
			Str("prefix", prefix).
			Str("root", s.config.Webpack.BundleRoot).
			Msg("Serving bundles")
		s.app.Static(prefix, s.config.Webpack.BundleRoot, fiber.Static{
			Compress: true,
			MaxAge:   3600,
		})
	}
}

// bundlePrefix is the URL path bundles are served under, or "" when the host
// does not serve them.
func (s *Server) bundlePrefix() string {
	if s.config.Webpack.BundleRoot == "" || s.config.Webpack.BundleURL == "" {
		return ""
	}
	u, err := url.Parse(s.config.Webpack.BundleURL)
	if err != nil || u.Path == "" {
		return ""
	}
	prefix := strings.TrimSuffix(u.Path, "/")
	if prefix == "" {
		return "/"
	}
	return prefix
}

func (s *Server) handleServiceCall(c *fiber.Ctx) error {
	name := c.Params("name")
	svc, ok := s.services[name]
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("unknown service %q", name))
	}

	ctx := middleware.SpanContext(c)
	if s.config.Host.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Host.CallTimeout)
		defer cancel()
	}

	out, err := svc.Handle(ctx, c.Body())
	if err != nil {
		middleware.SetSpanError(c, err)
		if errors.Is(err, compiler.ErrInvalidRequest) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(out)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	status := jshost.Status{
		Status:         "ok",
		Version:        Version,
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		Services:       s.ServiceNames(),
		ActiveWatchers: s.activeWatchers(),
		Watched:        s.watchedConfigs(),
	}

	vm, err := mem.VirtualMemoryWithContext(c.UserContext())
	if err != nil {
		log.Debug().Err(err).Msg("Failed to read memory stats")
	} else {
		status.Memory = jshost.MemoryUsage{
			Total:       vm.Total,
			Used:        vm.Used,
			UsedPercent: vm.UsedPercent,
		}
	}

	return c.JSON(status)
}

func (s *Server) onRateLimit(c *fiber.Ctx) {
	log.Warn().
		Str("service", c.Params("name")).
		Str("ip", c.IP()).
		Msg("Service call rate limited")
	if s.metrics != nil {
		s.metrics.RecordRateLimitHit(c.Path())
	}
}

func (s *Server) refreshGauges() {
	s.metrics.UpdateUptime(s.startTime)
	s.metrics.SetActiveWatchers(s.activeWatchers())
}

func (s *Server) activeWatchers() int {
	n := 0
	for _, svc := range s.services {
		if wc, ok := svc.(watcherCounter); ok {
			n += wc.ActiveWatchers()
		}
	}
	return n
}

// watchedConfigs lists the watched configs of every service, prefixed with
// the service name
func (s *Server) watchedConfigs() []string {
	var configs []string
	for _, name := range s.ServiceNames() {
		if wl, ok := s.services[name].(watchLister); ok {
			for _, cfg := range wl.WatchedConfigs() {
				configs = append(configs, name+":"+cfg)
			}
		}
	}
	return configs
}

// ServiceNames lists the registered services
func (s *Server) ServiceNames() []string {
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.app.Listen(s.config.Host.Address)
}

// Serve serves on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown drains the listener, then stops the services and flushes traces
func (s *Server) Shutdown(ctx context.Context) error {
	// in-flight calls still reach the services until the listener drains
	log.Info().Msg("Shutting down HTTP server")
	err := s.app.ShutdownWithContext(ctx)

	for _, svc := range s.services {
		if c, ok := svc.(closer); ok {
			log.Info().Str("service", svc.Name()).Msg("Stopping service")
			c.Close()
		}
	}

	// Shutdown OpenTelemetry tracer (flush remaining spans)
	if s.tracer != nil {
		if terr := s.tracer.Shutdown(ctx); terr != nil {
			log.Warn().Err(terr).Msg("Failed to shutdown OpenTelemetry tracer")
		}
	}

	if s.limits != nil {
		if cerr := s.limits.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close rate limit storage")
		}
	}
	return err
}

// App returns the underlying Fiber app instance for testing
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	if code >= 500 {
		log.Error().Err(err).Str("path", c.Path()).Msg("Server error")
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
