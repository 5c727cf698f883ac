package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oslabs-beta/graphqlgate/internal/limiter"
)

// RequestLoggerConfig holds configuration for request logging.
type RequestLoggerConfig struct {
	// SkipPaths are paths that should not be logged (e.g., health checks).
	SkipPaths []string
	// Logger is the zerolog logger to use (defaults to global log).
	Logger *zerolog.Logger
	// SlowRequestThreshold logs slow requests at WARN level (0 = disabled).
	SlowRequestThreshold time.Duration
}

// DefaultRequestLoggerConfig returns the default configuration.
func DefaultRequestLoggerConfig() RequestLoggerConfig {
	return RequestLoggerConfig{
		SkipPaths: []string{
			"/health",
			"/metrics",
		},
		SlowRequestThreshold: time.Second,
	}
}

// RequestLogger returns a middleware that logs each request with its rate
// limit verdict when the gate ran downstream.
func RequestLogger(config ...RequestLoggerConfig) fiber.Handler {
	cfg := DefaultRequestLoggerConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, skipPath := range cfg.SkipPaths {
			if path == skipPath {
				return c.Next()
			}
		}

		start := time.Now()

		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals("requestid", requestID)

		err := c.Next()

		duration := time.Since(start)
		status := c.Response().StatusCode()

		var logEvent *zerolog.Event
		switch {
		case err != nil:
			logEvent = logger.Error().Err(err)
		case status >= 500:
			logEvent = logger.Error()
		case status >= 400:
			logEvent = logger.Warn()
		case cfg.SlowRequestThreshold > 0 && duration > cfg.SlowRequestThreshold:
			logEvent = logger.Warn().Bool("slow_request", true)
		default:
			logEvent = logger.Info()
		}

		logEvent = logEvent.
			Str("request_id", requestID).
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Int("status", status).
			Int64("duration_ms", duration.Milliseconds())

		if cost, ok := c.Locals(LocalCost).(int64); ok {
			logEvent = logEvent.Int64("query_cost", cost)
		}
		if result, ok := c.Locals(LocalResult).(*limiter.Result); ok {
			logEvent = logEvent.
				Bool("allowed", result.Allowed).
				Int64("remaining", result.Remaining)
		}

		logEvent.Msg("HTTP request")

		return err
	}
}
