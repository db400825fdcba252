package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	AuthzDecisionsTotal   *prometheus.CounterVec
	AuditDroppedTotal     prometheus.Counter
	AuditFlushFailedTotal prometheus.Counter
	RateLimitedTotal      prometheus.Counter

	DBPoolConnections *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xtmate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xtmate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xtmate_authz_decisions_total",
				Help: "Authorization decisions by outcome",
			},
			[]string{"outcome"},
		),
		AuditDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "xtmate_audit_events_dropped_total",
				Help: "Audit events dropped before queueing",
			},
		),
		AuditFlushFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "xtmate_audit_events_flush_failed_total",
				Help: "Audit events lost because their batch insert failed",
			},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "xtmate_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
		DBPoolConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "xtmate_db_pool_connections",
				Help: "Database pool connections by state",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuditDroppedTotal,
		m.AuditFlushFailedTotal,
		m.RateLimitedTotal,
		m.DBPoolConnections,
	)

	return m
}

// RecordDecision counts one authorization outcome.
func (m *Metrics) RecordDecision(outcome string) {
	m.AuthzDecisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordAuditDrop counts an audit event lost to back-pressure.
func (m *Metrics) RecordAuditDrop() {
	m.AuditDroppedTotal.Inc()
}

// RecordAuditFlushFailure counts the events of a batch the store rejected.
func (m *Metrics) RecordAuditFlushFailure(lost int) {
	m.AuditFlushFailedTotal.Add(float64(lost))
}

// RecordRateLimited counts a request rejected with 429.
func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}

// PoolStats is the subset of pgxpool.Stat reported as gauges.
type PoolStats interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
}

// RecordPoolStats sets the connection gauges from a pool snapshot.
func (m *Metrics) RecordPoolStats(s PoolStats) {
	m.DBPoolConnections.WithLabelValues("acquired").Set(float64(s.AcquiredConns()))
	m.DBPoolConnections.WithLabelValues("idle").Set(float64(s.IdleConns()))
	m.DBPoolConnections.WithLabelValues("total").Set(float64(s.TotalConns()))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTPMetrics instruments requests. The route label is the matched ServeMux
// pattern so path parameters do not explode cardinality.
func (m *Metrics) HTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
