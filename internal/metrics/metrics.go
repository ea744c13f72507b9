// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache outcomes
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
)

// Metrics holds a private registry and the service collectors.
// Labels are bounded: method, route template, status, scope, outcome.
type Metrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight  prometheus.Gauge
	reqTotal  *prometheus.CounterVec
	reqDur    *prometheus.HistogramVec
	panics    prometheus.Counter
	decisions *prometheus.CounterVec
	degraded  *prometheus.CounterVec
	cache     *prometheus.CounterVec
	events    *prometheus.CounterVec
}

// New returns a fresh registry with Go/process collectors and the service metrics
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Rate limit decisions by scope and outcome (allowed, denied)",
		}, []string{"scope", "outcome"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_degraded_total",
			Help: "Rate limit decisions made without the shared store, by scope",
		}, []string{"scope"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "response_cache_requests_total",
			Help: "Response cache lookups by outcome (hit, miss, bypass)",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapter_events_published_total",
			Help: "Chapter events handed to the broker, by type and result",
		}, []string{"type", "result"}),
	}
	reg.MustRegister(m.inflight, m.reqTotal, m.reqDur, m.panics, m.decisions, m.degraded, m.cache, m.events)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

// Handler serves the exposition format
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) IncPanic() {
	m.panics.Inc()
}

// ObserveRateLimit records one limiter decision
func (m *Metrics) ObserveRateLimit(scope string, permitted bool) {
	outcome := "allowed"
	if !permitted {
		outcome = "denied"
	}
	m.decisions.WithLabelValues(scope, outcome).Inc()
}

// IncRateLimitDegraded records a decision taken under the store failure policy
func (m *Metrics) IncRateLimitDegraded(scope string) {
	m.degraded.WithLabelValues(scope).Inc()
}

// ObserveCache records a cache lookup outcome
func (m *Metrics) ObserveCache(outcome string) {
	m.cache.WithLabelValues(outcome).Inc()
}

// ObserveEvent records a publish attempt
func (m *Metrics) ObserveEvent(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.events.WithLabelValues(eventType, result).Inc()
}
