// Package observability holds the Prometheus metrics and the zap logger
// setup shared by the server.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/sales-ledger/sales"
)

// Metrics owns a private registry with HTTP and sale outcome metrics.
// It implements sales.Observer.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	salesCommitted  *prometheus.CounterVec
	salesAmount     *prometheus.CounterVec
	salesRejected   *prometheus.CounterVec
	commitFailures  *prometheus.CounterVec
}

var _ sales.Observer = (*Metrics)(nil)

// NewMetrics builds the registry and registers every metric.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		salesCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_sales_committed_total",
			Help: "Committed sales by sale type.",
		}, []string{"sale_type"}),
		salesAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_sales_amount_total",
			Help: "Sum of committed sale totals by sale type.",
		}, []string{"sale_type"}),
		salesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_sales_rejected_total",
			Help: "Proposals rejected at submit by reason.",
		}, []string{"reason"}),
		commitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_commit_failures_total",
			Help: "Sale commits that failed, by step.",
		}, []string{"step"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.salesCommitted, m.salesAmount, m.salesRejected, m.commitFailures,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// =============================================================================
// sales.Observer
// =============================================================================

func (m *Metrics) SaleCommitted(saleType string, total float64) {
	if m == nil {
		return
	}
	m.salesCommitted.WithLabelValues(saleType).Inc()
	m.salesAmount.WithLabelValues(saleType).Add(total)
}

func (m *Metrics) SaleRejected(reason string) {
	if m == nil {
		return
	}
	m.salesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) CommitFailed(step string) {
	if m == nil {
		return
	}
	m.commitFailures.WithLabelValues(step).Inc()
}

// =============================================================================
// HELPERS
// =============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
