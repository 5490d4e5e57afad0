// Package metrics wraps prometheus/client_golang with the counters and
// histograms the proxy and cache layers emit.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide collectors. Construct one with New and
// share it across handlers; prometheus collectors are safe for concurrent
// use.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	cacheResultsTotal *prometheus.CounterVec
	rateLimitRejected *prometheus.CounterVec
}

func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_proxy_requests_total",
			Help: "Total proxied requests by route class and response status.",
		}, []string{"route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edge_proxy_request_duration_seconds",
			Help:    "Request handling latency by route class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		cacheResultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_proxy_cache_results_total",
			Help: "Cache outcomes by status (HIT, MISS, STALE, BYPASS).",
		}, []string{"status"}),
		rateLimitRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_proxy_rate_limit_rejections_total",
			Help: "Requests rejected due to rate-limit exhaustion, by scope.",
		}, []string{"scope"}),
	}
}

// ObserveRequest records a completed request's route class, status, and
// latency.
func (m *Metrics) ObserveRequest(route string, status int, seconds float64) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(seconds)
}

// ObserveCacheResult records one cache-aside outcome.
func (m *Metrics) ObserveCacheResult(status string) {
	m.cacheResultsTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimitRejection records one throttled request for the given
// scope ("key", "preauth", "admin").
func (m *Metrics) ObserveRateLimitRejection(scope string) {
	m.rateLimitRejected.WithLabelValues(scope).Inc()
}
