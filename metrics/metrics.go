// Package metrics exposes Fluxe client activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fluxe"

// Request outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeRateLimited = "rate_limited"
)

// Collector holds the client metrics.
type Collector struct {
	requests     *prometheus.CounterVec
	tokenChanges *prometheus.CounterVec
	feedItems    prometheus.Gauge
	polls        prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "API calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		tokenChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_changes_total",
			Help:      "Bearer token changes announced by the client.",
		}, []string{"kind"}),
		feedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_items",
			Help:      "Tweets currently held by the feed.",
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_polls_total",
			Help:      "Feed poll attempts that reached the API.",
		}),
	}

	reg.MustRegister(c.requests, c.tokenChanges, c.feedItems, c.polls)
	return c
}

// RecordRequest counts one API call.
func (c *Collector) RecordRequest(endpoint string, success, rateLimited bool) {
	outcome := OutcomeFailure
	switch {
	case success:
		outcome = OutcomeSuccess
	case rateLimited:
		outcome = OutcomeRateLimited
	}
	c.requests.WithLabelValues(endpoint, outcome).Inc()
}

// Hook returns RecordRequest in the shape of fluxe.ClientConfig.MetricsHook.
func (c *Collector) Hook() func(endpoint string, success, rateLimited bool) {
	return c.RecordRequest
}

// TokenChanged counts a renewal, or a reset when token is empty.
func (c *Collector) TokenChanged(token string) {
	kind := "renewed"
	if token == "" {
		kind = "cleared"
	}
	c.tokenChanges.WithLabelValues(kind).Inc()
}

// SetFeedItems records the current feed length.
func (c *Collector) SetFeedItems(n int) {
	c.feedItems.Set(float64(n))
}

// RecordPoll counts one poll attempt.
func (c *Collector) RecordPoll() {
	c.polls.Inc()
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Mux serves Handler at /metrics.
func Mux(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
