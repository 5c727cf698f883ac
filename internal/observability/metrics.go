// Package observability exposes Prometheus metrics for the rate limiter.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds all Prometheus metrics for the gate.
type Metrics struct {
	decisionsTotal     *prometheus.CounterVec
	decisionDuration   *prometheus.HistogramVec
	queryCost          prometheus.Histogram
	queryRejectedTotal *prometheus.CounterVec
	backendErrorsTotal prometheus.Counter
	darkModeDenials    prometheus.Counter
}

// GetMetrics returns the singleton metrics instance, registering all
// collectors on first use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *Metrics {
	return &Metrics{
		decisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "graphqlgate_decisions_total",
			Help: "Rate limit decisions by algorithm and outcome",
		}, []string{"algorithm", "outcome"}),

		decisionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graphqlgate_decision_duration_seconds",
			Help:    "Latency of one admission decision including backend round trips",
			Buckets: prometheus.DefBuckets,
		}, []string{"algorithm"}),

		queryCost: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphqlgate_query_cost",
			Help:    "Estimated complexity cost of analyzed queries",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		queryRejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "graphqlgate_queries_rejected_total",
			Help: "Queries rejected before any rate limit decision",
		}, []string{"reason"}),

		backendErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "graphqlgate_backend_errors_total",
			Help: "State backend failures surfaced to callers",
		}),

		darkModeDenials: promauto.NewCounter(prometheus.CounterOpts{
			Name: "graphqlgate_dark_mode_denials_total",
			Help: "Deny verdicts observed but not enforced in dark mode",
		}),
	}
}

// RecordDecision tracks one admission decision.
func (m *Metrics) RecordDecision(algorithm string, allowed bool, duration time.Duration) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.decisionsTotal.WithLabelValues(algorithm, outcome).Inc()
	m.decisionDuration.WithLabelValues(algorithm).Observe(duration.Seconds())
}

// RecordQueryCost tracks the analyzer's estimate for one query.
func (m *Metrics) RecordQueryCost(cost int64) {
	m.queryCost.Observe(float64(cost))
}

// RecordQueryRejected tracks a query turned away before the decision engine
// ran (parse failure, depth limit, schema mismatch).
func (m *Metrics) RecordQueryRejected(reason string) {
	m.queryRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordBackendError tracks a state backend failure.
func (m *Metrics) RecordBackendError() {
	m.backendErrorsTotal.Inc()
}

// RecordDarkModeDenial tracks a deny that dark mode let through.
func (m *Metrics) RecordDarkModeDenial() {
	m.darkModeDenials.Inc()
}

// Handler returns a Fiber handler serving the Prometheus scrape endpoint.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// HTTPHandler returns the plain net/http scrape handler.
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}
