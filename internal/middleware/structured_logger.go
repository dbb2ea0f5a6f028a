package middleware

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const redacted = "[redacted]"

var secretParams = map[string]struct{}{
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"api_key":       {},
	"apikey":        {},
	"key":           {},
	"secret":        {},
	"password":      {},
}

// StructuredLoggerConfig holds configuration for the access log
type StructuredLoggerConfig struct {
	// SkipPaths are never logged
	SkipPaths []string
	// ErrorsOnly drops requests that succeeded and compiled cleanly
	ErrorsOnly bool
	// Logger defaults to the global zerolog logger
	Logger *zerolog.Logger
	// BundleDetails adds the bundle request flags and stats counts of
	// service calls
	BundleDetails bool
	// SlowRequestThreshold logs slower requests at warn, 0 disables
	SlowRequestThreshold time.Duration
}

// DefaultStructuredLoggerConfig returns default configuration
func DefaultStructuredLoggerConfig() StructuredLoggerConfig {
	return StructuredLoggerConfig{
		SkipPaths:     []string{"/health", "/metrics"},
		BundleDetails: true,
		// first builds of a config can take a while
		SlowRequestThreshold: 30 * time.Second,
	}
}

// redactQuery masks secret looking parameters. Unparseable queries are
// masked entirely.
func redactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return redacted
	}
	for key := range values {
		if _, ok := secretParams[strings.ToLower(key)]; ok {
			values.Set(key, redacted)
		}
	}
	return values.Encode()
}

// requestIDOf prefers the id set by the requestid middleware over the
// incoming header
func requestIDOf(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}

// responseStatus is the status the client will see. A returned fiber.Error
// has not been written by the error handler yet when middleware inspects the
// response.
func responseStatus(c *fiber.Ctx, err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	if err != nil {
		return fiber.StatusInternalServerError
	}
	return c.Response().StatusCode()
}

// StructuredLogger logs one zerolog event per request. Service calls are
// logged as "Service call" with the service name and, when BundleDetails is
// set, the config, watch flags and stats counts.
func StructuredLogger(config ...StructuredLoggerConfig) fiber.Handler {
	cfg := DefaultStructuredLoggerConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		if _, ok := skip[c.Path()]; ok {
			return c.Next()
		}

		start := time.Now()
		requestID := requestIDOf(c)

		err := c.Next()

		elapsed := time.Since(start)
		status := responseStatus(c, err)
		call, isCall := serviceCallOf(c)

		var stats statsSummary
		hasStats := false
		if isCall {
			stats, hasStats = summarizeStats(c.Response().Body())
		}
		compileFailed := hasStats && stats.errors > 0

		if cfg.ErrorsOnly && err == nil && status < 400 && !compileFailed {
			return err
		}

		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = logger.Error()
		case status >= 400, compileFailed:
			ev = logger.Warn()
		case cfg.SlowRequestThreshold > 0 && elapsed > cfg.SlowRequestThreshold:
			ev = logger.Warn().Bool("slow_request", true)
		default:
			ev = logger.Info()
		}
		if err != nil {
			ev = ev.Err(err)
		}

		ev = ev.
			Str("request_id", requestID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duration", elapsed).
			Int("response_bytes", len(c.Response().Body())).
			Str("ip", c.IP())

		if ua := c.Get(fiber.HeaderUserAgent); ua != "" {
			ev = ev.Str("user_agent", ua)
		}
		if q := c.Request().URI().QueryString(); len(q) > 0 {
			ev = ev.Str("query", redactQuery(string(q)))
		}
		if ref := c.Get(fiber.HeaderReferer); ref != "" {
			ev = ev.Str("referer", ref)
		}
		if traceID := GetTraceID(c); traceID != "" {
			ev = ev.Str("trace_id", traceID)
		}

		if !isCall {
			ev.Msg("HTTP request")
			return err
		}

		ev = ev.Str("service", call.service)
		if cfg.BundleDetails {
			if call.request != nil {
				ev = ev.
					Str("config", call.request.Config).
					Bool("watch", call.request.Watch).
					Bool("watch_config", call.request.WatchConfig)
			}
			if hasStats {
				ev = ev.
					Int("assets", stats.assets).
					Int("compile_errors", stats.errors).
					Int("compile_warnings", stats.warnings)
			}
		}
		ev.Msg("Service call")
		return err
	}
}
