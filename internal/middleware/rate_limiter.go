package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/storage/memory/v2"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	Max        int
	Expiration time.Duration
	// Key buckets requests, by client IP when nil. The key is stored, so
	// it must not alias fasthttp buffers.
	Key func(*fiber.Ctx) string
	// Message replaces the generated error text of the 429 response
	Message string
	// OnLimit is called before the 429 is sent
	OnLimit func(*fiber.Ctx)
	// Storage holds the counters, process memory when nil
	Storage fiber.Storage
}

// NewRateLimiter rejects requests over budget with a 429 in the host error
// shape, {"error": ..., "code": 429}, and a Retry-After header.
func NewRateLimiter(cfg RateLimiterConfig) fiber.Handler {
	if cfg.Storage == nil {
		cfg.Storage = memory.New(memory.Config{GCInterval: 10 * time.Minute})
	}
	if cfg.Key == nil {
		cfg.Key = func(c *fiber.Ctx) string { return utils.CopyString(c.IP()) }
	}
	if cfg.Message == "" {
		cfg.Message = fmt.Sprintf("rate limit exceeded, at most %d calls per %s", cfg.Max, cfg.Expiration)
	}
	retryAfter := strconv.Itoa(int(cfg.Expiration.Round(time.Second).Seconds()))

	return limiter.New(limiter.Config{
		Max:          cfg.Max,
		Expiration:   cfg.Expiration,
		KeyGenerator: cfg.Key,
		Storage:      cfg.Storage,
		LimitReached: func(c *fiber.Ctx) error {
			if cfg.OnLimit != nil {
				cfg.OnLimit(c)
			}
			c.Set(fiber.HeaderRetryAfter, retryAfter)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": cfg.Message,
				"code":  fiber.StatusTooManyRequests,
			})
		},
	})
}

// ServiceCallLimiter gives every client its own budget per service name
func ServiceCallLimiter(max int, window time.Duration, storage fiber.Storage, onLimit func(*fiber.Ctx)) fiber.Handler {
	return NewRateLimiter(RateLimiterConfig{
		Max:        max,
		Expiration: window,
		Key: func(c *fiber.Ctx) string {
			return "service:" + c.Params("name") + ":" + c.IP()
		},
		OnLimit: onLimit,
		Storage: storage,
	})
}
