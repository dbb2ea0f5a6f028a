package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// SecurityHeadersConfig holds the response headers set by SecurityHeaders.
// Empty fields are left unset.
type SecurityHeadersConfig struct {
	ContentSecurityPolicy     string
	XFrameOptions             string
	XContentTypeOptions       string
	ReferrerPolicy            string
	CrossOriginResourcePolicy string
}

// DefaultSecurityHeadersConfig is used on the service and status endpoints,
// which only ever answer JSON
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:             "DENY",
		XContentTypeOptions:       "nosniff",
		ReferrerPolicy:            "no-referrer",
		CrossOriginResourcePolicy: "same-origin",
	}
}

// BundleSecurityHeaders is used for built bundles. Pages rendered by another
// origin load them with plain script tags.
func BundleSecurityHeaders() fiber.Handler {
	return SecurityHeaders(SecurityHeadersConfig{
		XContentTypeOptions:       "nosniff",
		CrossOriginResourcePolicy: "cross-origin",
	})
}

// SecurityHeaders returns a middleware that adds security headers to all responses
func SecurityHeaders(config ...SecurityHeadersConfig) fiber.Handler {
	cfg := DefaultSecurityHeadersConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	headers := [][2]string{
		{"Content-Security-Policy", cfg.ContentSecurityPolicy},
		{"X-Frame-Options", cfg.XFrameOptions},
		{"X-Content-Type-Options", cfg.XContentTypeOptions},
		{"Referrer-Policy", cfg.ReferrerPolicy},
		{"Cross-Origin-Resource-Policy", cfg.CrossOriginResourcePolicy},
	}

	return func(c *fiber.Ctx) error {
		for _, h := range headers {
			if h[1] != "" {
				c.Set(h[0], h[1])
			}
		}

		// Remove server header to avoid information disclosure
		c.Set("Server", "")

		return c.Next()
	}
}
