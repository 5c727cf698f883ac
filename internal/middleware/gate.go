// Package middleware mounts the rate limiter in front of a GraphQL endpoint.
package middleware

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/rs/zerolog/log"

	"github.com/oslabs-beta/graphqlgate/internal/analyzer"
	"github.com/oslabs-beta/graphqlgate/internal/limiter"
	"github.com/oslabs-beta/graphqlgate/internal/observability"
	"github.com/oslabs-beta/graphqlgate/internal/store"
	"github.com/oslabs-beta/graphqlgate/internal/typeweights"
)

// Locals keys under which the middleware exposes its verdict to downstream
// handlers.
const (
	LocalCost   = "graphqlgate_cost"
	LocalResult = "graphqlgate_result"
)

const (
	headerRateLimit     = "X-RateLimit-Limit"
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRetryAfter    = "Retry-After"
)

// GateConfig configures the middleware factory.
type GateConfig struct {
	// Algorithm and Options select and parameterize the decision engine.
	Algorithm limiter.Algorithm
	Options   limiter.Options

	// Store is the shared state backend.
	Store store.Store

	// Schema is the parsed SDL document the weight table is built from.
	Schema *ast.Document

	// TypeWeights overrides the default weight assignment. Nil keeps
	// mutation 10, object 1, scalar 0, connection 2.
	TypeWeights *typeweights.Defaults

	// PaginationArgs extends the recognized list-bounding argument names.
	PaginationArgs []string

	// Dark logs deny verdicts without enforcing them.
	Dark bool

	// EnforceBoundedLists rejects list fields lacking a size-bounding
	// argument.
	EnforceBoundedLists bool

	// DepthLimit rejects operations nested deeper than this before cost is
	// computed. Zero disables the check.
	DepthLimit int

	// KeyFunc derives the caller id from the request. Defaults to the
	// client IP.
	KeyFunc func(*fiber.Ctx) string

	// Metrics receives decision and rejection counters. Nil uses the
	// process-wide instance.
	Metrics *observability.Metrics
}

// graphqlRequest is the standard GraphQL HTTP request body.
type graphqlRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message    string                 `json:"message"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

type graphqlErrorResponse struct {
	Errors []graphqlError `json:"errors"`
}

// NewGate builds the weight table, analyzer, and limiter once, and returns
// a per-request handler that admits or rejects GraphQL requests by their
// estimated cost.
func NewGate(cfg GateConfig) (fiber.Handler, error) {
	weights := typeweights.DefaultWeights()
	if cfg.TypeWeights != nil {
		weights = *cfg.TypeWeights
	}

	table, err := typeweights.Build(cfg.Schema, weights, cfg.PaginationArgs)
	if err != nil {
		return nil, err
	}

	an := analyzer.New(table, analyzer.Options{
		EnforceBoundedLists: cfg.EnforceBoundedLists,
		DepthLimit:          cfg.DepthLimit,
	})

	lim, err := limiter.New(cfg.Algorithm, cfg.Options, cfg.Store)
	if err != nil {
		return nil, err
	}

	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c *fiber.Ctx) string {
			return c.IP()
		}
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.GetMetrics()
	}

	capacity := cfg.Options.Capacity
	algorithm := string(cfg.Algorithm)

	return func(c *fiber.Ctx) error {
		var req graphqlRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return respondError(c, fiber.StatusBadRequest, "Invalid JSON in request body", "BAD_REQUEST")
		}
		if req.Query == "" {
			return respondError(c, fiber.StatusBadRequest, "Query string is required", "BAD_REQUEST")
		}

		doc, err := parser.Parse(parser.ParseParams{Source: req.Query})
		if err != nil {
			metrics.RecordQueryRejected("parse_error")
			return respondError(c, fiber.StatusBadRequest, "Invalid query syntax", "GRAPHQL_PARSE_FAILED")
		}

		cost, err := an.Cost(doc, req.Variables)
		if err != nil {
			return respondAnalyzerError(c, metrics, err)
		}
		metrics.RecordQueryCost(cost)

		start := time.Now()
		result, err := lim.ProcessRequest(c.UserContext(), keyFunc(c), time.Now().UnixMilli(), cost)
		if err != nil {
			if errors.Is(err, limiter.ErrBackendUnavailable) {
				metrics.RecordBackendError()
				log.Error().Err(err).Msg("Rate limit backend unavailable")
				return respondError(c, fiber.StatusServiceUnavailable, "Rate limiter unavailable", "BACKEND_UNAVAILABLE")
			}
			return respondError(c, fiber.StatusBadRequest, err.Error(), "BAD_REQUEST")
		}
		metrics.RecordDecision(algorithm, result.Allowed, time.Since(start))

		c.Set(headerRateLimit, itoa(capacity))
		c.Set(headerRateRemaining, itoa(result.Remaining))
		c.Locals(LocalCost, cost)
		c.Locals(LocalResult, result)

		if result.Allowed {
			return c.Next()
		}

		if cfg.Dark {
			metrics.RecordDarkModeDenial()
			log.Warn().
				Str("request_id", uuid.NewString()).
				Str("caller", keyFunc(c)).
				Int64("cost", cost).
				Int64("remaining", result.Remaining).
				Int64("retry_after_ms", result.RetryAfterMs).
				Msg("Dark mode: request over rate limit allowed through")
			return c.Next()
		}

		if result.RetryAfterMs != limiter.RetryNever {
			c.Set(headerRetryAfter, itoa(ceilSeconds(result.RetryAfterMs)))
		}

		ext := map[string]interface{}{
			"code":      "RATE_LIMITED",
			"cost":      cost,
			"allowed":   result.Allowed,
			"remaining": result.Remaining,
		}
		if result.RetryAfterMs == limiter.RetryNever {
			ext["retryAfterMs"] = "Infinity"
		} else {
			ext["retryAfterMs"] = result.RetryAfterMs
		}

		return c.Status(fiber.StatusTooManyRequests).JSON(graphqlErrorResponse{
			Errors: []graphqlError{{
				Message:    "Rate limit exceeded",
				Extensions: ext,
			}},
		})
	}, nil
}

func respondAnalyzerError(c *fiber.Ctx, metrics *observability.Metrics, err error) error {
	switch {
	case errors.Is(err, analyzer.ErrSchemaMismatch):
		metrics.RecordQueryRejected("schema_mismatch")
		return respondError(c, fiber.StatusBadRequest, err.Error(), "SCHEMA_MISMATCH")
	case errors.Is(err, analyzer.ErrInvalidQuery):
		metrics.RecordQueryRejected("invalid_query")
		return respondError(c, fiber.StatusBadRequest, err.Error(), "INVALID_QUERY")
	case errors.Is(err, typeweights.ErrCostOverflow):
		metrics.RecordQueryRejected("cost_overflow")
		return respondError(c, fiber.StatusBadRequest, err.Error(), "COST_OVERFLOW")
	default:
		metrics.RecordQueryRejected("analyzer_error")
		return respondError(c, fiber.StatusBadRequest, err.Error(), "INVALID_QUERY")
	}
}

func respondError(c *fiber.Ctx, status int, message, code string) error {
	ext := map[string]interface{}{"code": code}
	return c.Status(status).JSON(graphqlErrorResponse{
		Errors: []graphqlError{{
			Message:    message,
			Extensions: ext,
		}},
	})
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func ceilSeconds(ms int64) int64 {
	return int64(math.Ceil(float64(ms) / 1000.0))
}
