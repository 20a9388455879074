package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LoyaltyMetrics exposes Prometheus collectors for loyalty engine
// instrumentation.
type LoyaltyMetrics struct {
	operations *prometheus.CounterVec
	points     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

var (
	loyaltyMetricsOnce sync.Once
	loyaltyRegistry    *LoyaltyMetrics
)

// Loyalty returns the lazily-initialised metrics registry for the loyalty
// engine.
func Loyalty() *LoyaltyMetrics {
	loyaltyMetricsOnce.Do(func() {
		loyaltyRegistry = &LoyaltyMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cantina",
				Subsystem: "loyalty",
				Name:      "operations_total",
				Help:      "Count of loyalty engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			points: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cantina",
				Subsystem: "loyalty",
				Name:      "points_total",
				Help:      "Total points moved through the ledger segmented by direction.",
			}, []string{"direction"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cantina",
				Subsystem: "loyalty",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for loyalty engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			loyaltyRegistry.operations,
			loyaltyRegistry.points,
			loyaltyRegistry.latency,
		)
	})
	return loyaltyRegistry
}

// ObserveOperation records one engine operation. Outcome should be a stable
// string, "success" or "error", so dashboards stay consistent.
func (m *LoyaltyMetrics) ObserveOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPoints adds to the moved-points counter. Direction is "earned" or
// "redeemed".
func (m *LoyaltyMetrics) RecordPoints(direction string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	if direction == "" {
		direction = "unknown"
	}
	m.points.WithLabelValues(direction).Add(float64(amount))
}

// Handler returns the HTTP handler serving the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
