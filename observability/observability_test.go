package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_SaleOutcomes(t *testing.T) {
	m := NewMetrics()

	m.SaleCommitted("Contado", 100)
	m.SaleCommitted("Contado", 50.5)
	m.SaleRejected("amount_mismatch")
	m.CommitFailed("inventory")

	out := scrape(t, m.Handler())
	assert.Contains(t, out, `ledger_sales_committed_total{sale_type="Contado"} 2`)
	assert.Contains(t, out, `ledger_sales_amount_total{sale_type="Contado"} 150.5`)
	assert.Contains(t, out, `ledger_sales_rejected_total{reason="amount_mismatch"} 1`)
	assert.Contains(t, out, `ledger_commit_failures_total{step="inventory"} 1`)
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/clients/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/clients/abc", nil))

	out := scrape(t, r)
	assert.Contains(t, out, `ledger_http_requests_total{code="418",route="/api/clients/{id}"} 1`)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.SaleCommitted("Contado", 1)
	m.SaleRejected("x")
	m.CommitFailed("sale")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("json", "warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	_, err = NewLogger("console", "loud")
	assert.Error(t, err)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/sales", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/api/sales", fields["path"])
	assert.Equal(t, int64(http.StatusCreated), fields["status"])
}
