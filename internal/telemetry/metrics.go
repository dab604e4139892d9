// Package telemetry provides observability primitives for the gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	UpstreamDuration *prometheus.HistogramVec // labels: family
	UpstreamErrors   *prometheus.CounterVec   // labels: family, status
	TokensProcessed  *prometheus.CounterVec   // labels: model, kind (input/output/cache_read/cache_write)
	BillingCostUSD   *prometheus.CounterVec   // labels: model
	EstimatedUsage   prometheus.Counter       // streaming responses billed on the fallback estimator
	BudgetRejects    prometheus.Counter       // 429s from the C4 gate's over-budget check

	CircuitBreakerState   *prometheus.GaugeVec   // labels: family
	CircuitBreakerRejects *prometheus.CounterVec // labels: family
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "gateway",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "upstream_duration_seconds",
			Help:      "Upstream provider call duration in seconds.",
		}, []string{"family"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "upstream_errors_total",
			Help:      "Total non-2xx or transport-failed upstream calls.",
		}, []string{"family", "status"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed, by model and token kind.",
		}, []string{"model", "kind"}),

		BillingCostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "billing_cost_usd_total",
			Help:      "Total billed cost in USD, by model.",
		}, []string{"model"}),

		EstimatedUsage: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "estimated_usage_total",
			Help:      "Total streaming requests billed on the fallback word-count estimate.",
		}),

		BudgetRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "budget_rejects_total",
			Help:      "Total requests rejected because the account was over budget.",
		}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per endpoint family (0=closed, 1=open, 2=half_open).",
		}, []string{"family"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total requests rejected by the circuit breaker.",
		}, []string{"family"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.TokensProcessed,
		m.BillingCostUSD,
		m.EstimatedUsage,
		m.BudgetRejects,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
	)

	return m
}
