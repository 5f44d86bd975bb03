package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueryDuration tracks query engine latency per referrer
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clickhouse_query_duration_seconds",
			Help:    "Duration of ClickHouse queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"referrer"},
	)

	QueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clickhouse_query_errors_total",
			Help: "Total number of failed ClickHouse queries",
		},
		[]string{"referrer"},
	)

	// TrendRequests counts trends requests by trend function and outcome
	TrendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trends_requests_total",
			Help: "Total number of trends requests",
		},
		[]string{"trend_function", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)
