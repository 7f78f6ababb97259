// Package metrics exposes gateway request-plane counters, gauges, and
// histograms through the standard Prometheus client registry, grounded
// on the teacher's Collector surface (RecordRequest/RecordCacheHit/
// RecordCacheMiss/SetCircuitBreakerState/SetBackendHealth) but backed by
// real prometheus.CounterVec/GaugeVec/HistogramVec instruments instead
// of hand-rolled maps.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets are the request-duration histogram buckets, in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// Collector owns every Prometheus instrument the gateway engine
// updates during request handling.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
	retryTotal          *prometheus.CounterVec
	circuitBreakerState *prometheus.GaugeVec
	backendHealth       *prometheus.GaugeVec
	rateLimitRejections *prometheus.CounterVec
	activeRequests      *prometheus.GaugeVec
}

// NewCollector builds a Collector with its own Prometheus registry, so
// multiple gateway instances in one process never collide on metric
// names.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests processed, by route/method/status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request duration in seconds, by route.",
			Buckets: DefaultBuckets,
		}, []string{"route"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total response cache hits, by route.",
		}, []string{"route"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total response cache misses, by route.",
		}, []string{"route"}),
		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_retry_total",
			Help: "Total upstream retry attempts, by route.",
		}, []string{"route"}),
		circuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state by upstream: 0=closed, 1=open, 2=half_open.",
		}, []string{"upstream"}),
		backendHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_backend_health",
			Help: "Target health by upstream/target: 0=unhealthy, 1=healthy.",
		}, []string{"upstream", "target"}),
		rateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Total requests rejected by a rate-limit rule, by route.",
		}, []string{"route"}),
		activeRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_active_requests",
			Help: "In-flight requests currently being handled, by route.",
		}, []string{"route"}),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.cacheHits,
		c.cacheMisses,
		c.retryTotal,
		c.circuitBreakerState,
		c.backendHealth,
		c.rateLimitRejections,
		c.activeRequests,
	)
	return c
}

// RecordRequest records one completed request's outcome and latency.
func (c *Collector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordCacheHit records a response cache hit for route.
func (c *Collector) RecordCacheHit(route string) { c.cacheHits.WithLabelValues(route).Inc() }

// RecordCacheMiss records a response cache miss for route.
func (c *Collector) RecordCacheMiss(route string) { c.cacheMisses.WithLabelValues(route).Inc() }

// RecordRetry records one upstream retry attempt for route.
func (c *Collector) RecordRetry(route string) { c.retryTotal.WithLabelValues(route).Inc() }

// RecordRateLimitReject records one rate-limit denial for route.
func (c *Collector) RecordRateLimitReject(route string) {
	c.rateLimitRejections.WithLabelValues(route).Inc()
}

// RecordActiveRequest adjusts the in-flight gauge for route by delta
// (+1 on request entry, -1 on completion).
func (c *Collector) RecordActiveRequest(route string, delta int) {
	c.activeRequests.WithLabelValues(route).Add(float64(delta))
}

// SetCircuitBreakerState publishes an upstream's current breaker state.
func (c *Collector) SetCircuitBreakerState(upstreamID string, state int) {
	c.circuitBreakerState.WithLabelValues(upstreamID).Set(float64(state))
}

// SetBackendHealth publishes a target's current health classification.
func (c *Collector) SetBackendHealth(upstreamID, targetID string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.backendHealth.WithLabelValues(upstreamID, targetID).Set(v)
}

// Handler returns the /metrics HTTP handler serving the collector's
// registry in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

