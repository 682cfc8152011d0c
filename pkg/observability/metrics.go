package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	DecisionsTotal        *prometheus.CounterVec
	CapabilityChecksTotal *prometheus.CounterVec
	ShareConflictsTotal   prometheus.Counter

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec
	CacheErrorsTotal   *prometheus.CounterVec
	CacheEntries       *prometheus.GaugeVec

	// Store and audit metrics
	StoreErrorsTotal        *prometheus.CounterVec
	StoreInflight           *prometheus.GaugeVec
	AuditWriteFailuresTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scribe_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_authz_decisions_total",
				Help: "Resource access decisions by result and reason",
			},
			[]string{"result", "reason"},
		),
		CapabilityChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_authz_capability_checks_total",
				Help: "Capability checks by capability and result",
			},
			[]string{"capability", "result"},
		),
		ShareConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scribe_authz_share_conflicts_total",
				Help: "Optimistic concurrency conflicts on resource writes",
			},
		),

		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_permcache_requests_total",
				Help: "Permission cache lookups by result",
			},
			[]string{"cache", "result"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_permcache_errors_total",
				Help: "Permission cache failures that fell back to the store",
			},
			[]string{"cache", "op"},
		),
		CacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scribe_permcache_entries",
				Help: "Current number of permission cache entries",
			},
			[]string{"cache"},
		),

		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_store_errors_total",
				Help: "Store errors by operation and kind",
			},
			[]string{"op", "kind"},
		),
		StoreInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scribe_store_inflight_calls",
				Help: "Blocking store calls currently holding a worker slot",
			},
			[]string{"store"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_audit_write_failures_total",
				Help: "Audit events that could not be written",
			},
			[]string{"event_type"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.CapabilityChecksTotal,
		m.ShareConflictsTotal,
		m.CacheRequestsTotal,
		m.CacheErrorsTotal,
		m.CacheEntries,
		m.StoreErrorsTotal,
		m.StoreInflight,
		m.AuditWriteFailuresTotal,
	)

	return m
}

func resultLabel(ok bool) string {
	if ok {
		return "allow"
	}
	return "deny"
}

// RecordDecision counts one resource access decision
func (m *Metrics) RecordDecision(allowed bool, reason string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(resultLabel(allowed), reason).Inc()
}

// RecordCapabilityCheck counts one capability check
func (m *Metrics) RecordCapabilityCheck(capability string, allowed bool) {
	if m == nil {
		return
	}
	m.CapabilityChecksTotal.WithLabelValues(capability, resultLabel(allowed)).Inc()
}

// RecordShareConflict counts one version conflict
func (m *Metrics) RecordShareConflict() {
	if m == nil {
		return
	}
	m.ShareConflictsTotal.Inc()
}

// RecordCacheLookup counts a cache hit or miss
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(cache, result).Inc()
}

// RecordCacheError counts a cache failure
func (m *Metrics) RecordCacheError(cache, op string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(cache, op).Inc()
}

// SetCacheEntries records the current cache size
func (m *Metrics) SetCacheEntries(cache string, entries int64) {
	if m == nil {
		return
	}
	m.CacheEntries.WithLabelValues(cache).Set(float64(entries))
}

// RecordStoreError counts a store failure
func (m *Metrics) RecordStoreError(op, kind string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(op, kind).Inc()
}

// StoreCallStarted and StoreCallFinished track worker slot usage
func (m *Metrics) StoreCallStarted(store string) {
	if m == nil {
		return
	}
	m.StoreInflight.WithLabelValues(store).Inc()
}

func (m *Metrics) StoreCallFinished(store string) {
	if m == nil {
		return
	}
	m.StoreInflight.WithLabelValues(store).Dec()
}

// RecordAuditFailure counts an audit event that was dropped
func (m *Metrics) RecordAuditFailure(eventType string) {
	if m == nil {
		return
	}
	m.AuditWriteFailuresTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel uses the mux route template so path parameters don't explode
// label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
