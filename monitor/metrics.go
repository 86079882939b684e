// Package monitor exposes Prometheus metrics for relay traffic and breaker
// health.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	relayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxed",
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Total number of relayed requests",
		},
		[]string{"provider", "status"},
	)

	relayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proxed",
			Subsystem: "relay",
			Name:      "request_duration_seconds",
			Help:      "Total relay duration including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"provider"},
	)

	relayRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxed",
			Subsystem: "relay",
			Name:      "retries_total",
			Help:      "Number of upstream retries performed",
		},
		[]string{"provider"},
	)

	relayTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxed",
			Subsystem: "relay",
			Name:      "tokens_total",
			Help:      "Tokens accounted per provider and direction",
		},
		[]string{"provider", "model", "type"},
	)

	streamChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxed",
			Subsystem: "relay",
			Name:      "stream_chunks_total",
			Help:      "Stream chunks relayed to clients",
		},
		[]string{"provider"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "proxed",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
)

// Init registers all relay metrics with the default registry. Call once at
// startup when metrics are enabled.
func Init() {
	prometheus.MustRegister(
		relayRequestsTotal,
		relayLatency,
		relayRetriesTotal,
		relayTokensTotal,
		streamChunksTotal,
		breakerState,
	)
}

// RecordRelayRequest records one finished relay with its total latency.
func RecordRelayRequest(provider, status string, latencyMs int64) {
	relayRequestsTotal.WithLabelValues(provider, status).Inc()
	relayLatency.WithLabelValues(provider).Observe(float64(latencyMs) / 1000)
}

// RecordRetry counts one upstream retry.
func RecordRetry(provider string) {
	relayRetriesTotal.WithLabelValues(provider).Inc()
}

// RecordTokens records prompt and completion token usage.
func RecordTokens(provider, model string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		relayTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		relayTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordStreamChunks counts chunks written to a streaming client.
func RecordStreamChunks(provider string, n int) {
	if n > 0 {
		streamChunksTotal.WithLabelValues(provider).Add(float64(n))
	}
}

// SetBreakerState mirrors a breaker state change into the gauge.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}
