// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
}

// New registers the gateway collectors on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Proxied requests by model, provider and response status.",
		}, []string{"model", "provider", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"model", "provider"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tokens_total",
			Help: "Token usage by model, provider and direction.",
		}, []string{"model", "provider", "direction"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_retries_total",
			Help: "Upstream retries and failovers by model.",
		}, []string{"model"}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration, m.tokensTotal, m.retriesTotal)
	return m
}

// ObserveRequest records one completed proxy request.
func (m *Metrics) ObserveRequest(model, provider string, status int, duration time.Duration, inputTokens, outputTokens, retries int) {
	if m == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(model, provider, statusLabel).Inc()
	m.requestDuration.WithLabelValues(model, provider).Observe(duration.Seconds())
	if inputTokens > 0 {
		m.tokensTotal.WithLabelValues(model, provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.tokensTotal.WithLabelValues(model, provider, "output").Add(float64(outputTokens))
	}
	if retries > 0 {
		m.retriesTotal.WithLabelValues(model).Add(float64(retries))
	}
}
