package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_completions_total",
			Help: "Total number of completion calls by outcome",
		},
		[]string{"model", "outcome"},
	)

	QuotaDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_quota_denied_total",
			Help: "Total number of calls denied by a quota limit",
		},
		[]string{"model", "limit_kind"},
	)

	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_total",
			Help: "Total number of metered tokens",
		},
		[]string{"model", "direction"},
	)

	CostTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cost_total",
			Help: "Total cost charged to tenant balances",
		},
		[]string{"model"},
	)

	UpstreamLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_upstream_latency_ms",
			Help:    "Latency of upstream completion calls in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"target", "status"},
	)

	UpstreamPicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_picks_total",
			Help: "Upstream targets chosen by the load balancer",
		},
		[]string{"strategy", "target"},
	)

	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_retries_total",
			Help: "Total number of upstream retries",
		},
		[]string{"model"},
	)

	ReconciliationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_reconciliation_total",
			Help: "Completed upstream calls whose usage could not be committed",
		},
		[]string{"reason"},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_state",
			Help: "Circuit breaker state per upstream target (0 closed, 1 open, 2 half-open)",
		},
		[]string{"target"},
	)

	ClientRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_client_rate_limited_total",
			Help: "Total number of requests rejected by the per-client edge limiter",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_latency_ms",
			Help:    "Latency of HTTP requests in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"route"},
	)
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Later calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CompletionsTotal,
			QuotaDeniedTotal,
			TokensTotal,
			CostTotal,
			UpstreamLatencyMs,
			UpstreamPicksTotal,
			UpstreamRetriesTotal,
			ReconciliationTotal,
			CircuitState,
			ClientRateLimitedTotal,
			HTTPRequestsTotal,
			HTTPLatencyMs,
		)
	})
}
