package observability

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for bundlebridge
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Bundle metrics, recorded by the webpack compiler on the calling side
	bundleTotal    *prometheus.CounterVec
	bundleDuration *prometheus.HistogramVec
	bundleWarnings prometheus.Counter

	// Build metrics, recorded by the compiler service
	buildsTotal    *prometheus.CounterVec
	buildDuration  *prometheus.HistogramVec
	activeWatchers prometheus.Gauge

	rateLimitHitsTotal *prometheus.CounterVec
	systemUptime       prometheus.Gauge
}

const namespace = "bundlebridge"

var (
	httpBuckets   = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	bundleBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}
	buildBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
)

// NewMetrics creates all metrics on reg. A nil reg uses the default registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	f := promauto.With(registerer)

	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}
	histogram := func(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
		}, labels)
	}
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		})
	}

	return &Metrics{
		gatherer: gatherer,

		httpRequestsTotal: counter("http", "requests_total",
			"Total number of HTTP requests", "method", "path", "status"),
		httpRequestDuration: histogram("http", "request_duration_seconds",
			"HTTP request latency in seconds", httpBuckets, "method", "path", "status"),
		httpRequestsInFlight: gauge("http", "requests_in_flight",
			"Current number of HTTP requests being processed"),

		bundleTotal: counter("bundle", "total",
			"Total number of bundle calls by outcome", "outcome"),
		bundleDuration: histogram("bundle", "duration_seconds",
			"Bundle call latency in seconds, including the compiler round trip", bundleBuckets, "outcome"),
		bundleWarnings: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bundle", Name: "warnings_total",
			Help: "Total number of compiler warnings seen by bundle calls",
		}),

		buildsTotal: counter("compiler", "builds_total",
			"Total number of builds run by the compiler service", "mode", "result"),
		buildDuration: histogram("compiler", "build_duration_seconds",
			"Build latency in seconds", buildBuckets, "mode"),
		activeWatchers: gauge("compiler", "active_watchers",
			"Current number of watched builds"),

		rateLimitHitsTotal: counter("rate_limit", "hits_total",
			"Total number of rate limited service calls", "path"),

		systemUptime: gauge("system", "uptime_seconds",
			"Host uptime in seconds"),
	}
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		// label values outlive the request, fasthttp's strings do not
		method := utils.CopyString(c.Method())

		err := c.Next()

		// the matched route is only known once the chain has run
		path := normalizePath(c.Route().Path, utils.CopyString(c.Path()))
		duration := time.Since(start).Seconds()
		code := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		status := statusClass(code)

		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)

		return err
	}
}

// RecordBundle records one webpack bundle call
func (m *Metrics) RecordBundle(outcome string, warnings int, duration time.Duration) {
	m.bundleTotal.WithLabelValues(outcome).Inc()
	m.bundleDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if warnings > 0 {
		m.bundleWarnings.Add(float64(warnings))
	}
}

// ObserveBuild records one build run by the compiler service
func (m *Metrics) ObserveBuild(watched bool, errorCount int, duration time.Duration) {
	mode := "once"
	if watched {
		mode = "watch"
	}
	result := "ok"
	if errorCount > 0 {
		result = "error"
	}

	m.buildsTotal.WithLabelValues(mode, result).Inc()
	m.buildDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// SetActiveWatchers updates the watched build gauge
func (m *Metrics) SetActiveWatchers(n int) {
	m.activeWatchers.Set(float64(n))
}

// RecordRateLimitHit records a rate limit hit. path may be a request
// scoped fasthttp string, the label keeps its own copy.
func (m *Metrics) RecordRateLimitHit(path string) {
	m.rateLimitHitsTotal.WithLabelValues(normalizePath("", utils.CopyString(path))).Inc()
}

// UpdateUptime updates the system uptime metric
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.systemUptime.Set(time.Since(startTime).Seconds())
}

// Handler returns a Fiber handler that exposes Prometheus metrics
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}

// normalizePath prefers the route pattern (/service/:name) and caps raw
// paths to keep label cardinality bounded
func normalizePath(route, path string) string {
	if route != "" && route != "/" {
		return route
	}
	if len(path) > 50 {
		return "long_path"
	}
	return path
}

// statusClass buckets a status code as 2xx to 5xx. Anything below 200 is
// "unknown" and anything above 599 counts as 5xx.
func statusClass(status int) string {
	if status < 200 {
		return "unknown"
	}
	class := status / 100
	if class > 5 {
		class = 5
	}
	return strconv.Itoa(class) + "xx"
}
