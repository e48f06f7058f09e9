package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/sales-ledger/generic"
	"github.com/warp/sales-ledger/generic/store"
	"github.com/warp/sales-ledger/observability"
	"github.com/warp/sales-ledger/sales"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	t       *testing.T
	router  http.Handler
	metrics *observability.Metrics
}

func newTestServer(t *testing.T, st generic.Store) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics()
	svc := sales.NewService(st, logger, sales.WithObserver(metrics))
	h := NewHandler(svc, logger)
	return &testServer{
		t:       t,
		router:  NewRouter(h, RouterConfig{Metrics: metrics}),
		metrics: metrics,
	}
}

func (s *testServer) do(method, path, user string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// seed creates one client and one product for alice.
func (s *testServer) seed(limit, price string, quantity int64) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/clients", "alice", map[string]any{
		"id": "c1", "name": "Ana Torres", "credit_limit": limit,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/products", "alice", map[string]any{
		"key": "p1", "name": "Laptop", "unit_price": price, "quantity": quantity,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestRequireUser_MissingHeader(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())

	rec := srv.do(http.MethodGet, "/api/clients", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decodeBody[ErrorResponse](t, rec).Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())
	rec := srv.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// given a store that cannot be reached
	h := NewHandler(sales.NewService(store.NewTxMemory(), nil), nil)
	router := NewRouter(h, RouterConfig{Ping: func(context.Context) error { return errors.New("down") }})

	// when
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	// then
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())

	rec := srv.do(http.MethodGet, "/api/clients", "alice", nil)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

// =============================================================================
// CLIENTS AND PRODUCTS
// =============================================================================

func TestClients_CRUD(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())
	srv.seed("1000", "500", 10)

	rec := srv.do(http.MethodGet, "/api/clients/c1", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	client := decodeBody[ClientDTO](t, rec)
	assert.Equal(t, "Ana Torres", client.Name)
	assertDecimal(t, "1000", client.CreditLimit)

	rec = srv.do(http.MethodPut, "/api/clients/c1", "alice", map[string]any{"credit_limit": 1500})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertDecimal(t, "1500", decodeBody[ClientDTO](t, rec).CreditLimit)

	rec = srv.do(http.MethodGet, "/api/clients", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ClientDTO](t, rec), 1)
}

func TestClients_Errors(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())
	srv.seed("1000", "500", 10)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"duplicate id", http.MethodPost, "/api/clients", map[string]any{"id": "c1", "name": "Otra"}, http.StatusConflict, "duplicate"},
		{"unknown client", http.MethodGet, "/api/clients/nope", nil, http.StatusNotFound, "not_found"},
		{"bad json", http.MethodPost, "/api/clients", "{not json", http.StatusBadRequest, ""},
		{"missing name", http.MethodPost, "/api/clients", map[string]any{"email": "a@b.co"}, http.StatusBadRequest, "invalid_request"},
		{"bad email", http.MethodPost, "/api/clients", map[string]any{"name": "X", "email": "nope"}, http.StatusBadRequest, "invalid_request"},
		{"negative limit", http.MethodPost, "/api/clients", map[string]any{"name": "X", "credit_limit": -5}, http.StatusUnprocessableEntity, "invalid_proposal"},
		{"unknown product", http.MethodGet, "/api/products/nope", nil, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(tt.method, tt.path, "alice", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
			}
		})
	}
}

func TestProducts_Restock(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())
	srv.seed("0", "25.50", 2)

	rec := srv.do(http.MethodPut, "/api/products/p1", "alice", map[string]any{"quantity": 12})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decodeBody[ProductDTO](t, rec)
	assert.Equal(t, int64(12), p.Quantity)
	assertDecimal(t, "25.50", p.UnitPrice)
}

func TestUserScoping(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())
	srv.seed("1000", "500", 10)

	rec := srv.do(http.MethodGet, "/api/clients/c1", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(http.MethodGet, "/api/clients", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]ClientDTO](t, rec))
}

// =============================================================================
// SALES
// =============================================================================

func TestSubmitSale_Credit(t *testing.T) {
	// given limit 1000 with no prior credit
	srv := newTestServer(t, store.NewTxMemory())
	srv.seed("1000", "500", 10)

	// when a 500 sale goes fully on credit
	rec := srv.do(http.MethodPost, "/api/sales", "alice", map[string]any{
		"sale_id": "s1", "date": "2025-01-15", "client_id": "c1", "product_key": "p1",
		"quantity": 1, "credit_amount": "500",
	})

	// then it is classified as credit and 500 remains available
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[CommitDTO](t, rec)
	assert.Equal(t, "Crédito", res.Sale.SaleType)
	assert.Equal(t, "2025-01-15", res.Sale.Date)
	require.NotNil(t, res.InventoryAfter)
	assert.Equal(t, int64(9), *res.InventoryAfter)

	rec = srv.do(http.MethodGet, "/api/clients/c1/status", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[ClientStatusDTO](t, rec)
	assertDecimal(t, "500", status.CreditAvailable)
	assertDecimal(t, "500", status.CreditUsed)
}

func TestSubmitSale_ResubmitReturnsStoredSale(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())
	srv.seed("0", "100", 10)
	body := map[string]any{"sale_id": "s1", "client_id": "c1", "product_key": "p1", "quantity": 2, "cash_amount": 200}

	first := srv.do(http.MethodPost, "/api/sales", "alice", body)
	second := srv.do(http.MethodPost, "/api/sales", "alice", body)

	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	assert.True(t, decodeBody[CommitDTO](t, second).Resumed)

	rec := srv.do(http.MethodGet, "/api/products/p1", "alice", nil)
	assert.Equal(t, int64(8), decodeBody[ProductDTO](t, rec).Quantity)
}

func TestSubmitSale_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		body  map[string]any
		check func(t *testing.T, resp ErrorResponse)
	}{
		{
			name: "insufficient inventory",
			body: map[string]any{"client_id": "c1", "product_key": "p1", "quantity": 5, "cash_amount": 100},
			check: func(t *testing.T, resp ErrorResponse) {
				assert.Equal(t, "insufficient_inventory", resp.Code)
				assert.Equal(t, "5", resp.Requested)
				assert.Equal(t, "3", resp.Available)
			},
		},
		{
			name: "amount mismatch",
			body: map[string]any{"client_id": "c1", "product_key": "p1", "quantity": 1,
				"cash_amount": 59, "credit_amount": 40},
			check: func(t *testing.T, resp ErrorResponse) {
				assert.Equal(t, "amount_mismatch", resp.Code)
				assert.Equal(t, "100.00", resp.Expected)
				assert.Equal(t, "99.00", resp.Actual)
			},
		},
		{
			name: "credit limit exceeded",
			body: map[string]any{"client_id": "c1", "product_key": "p1", "quantity": 3, "credit_amount": 300},
			check: func(t *testing.T, resp ErrorResponse) {
				assert.Equal(t, "credit_limit_exceeded", resp.Code)
				assert.Equal(t, "300.00", resp.Requested)
				assert.Equal(t, "250.00", resp.Available)
			},
		},
		{
			name: "zero quantity",
			body: map[string]any{"client_id": "c1", "product_key": "p1", "quantity": 0},
			check: func(t *testing.T, resp ErrorResponse) {
				assert.Equal(t, "invalid_proposal", resp.Code)
				assert.Contains(t, resp.Fields, "quantity")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// given 3 units at 100 and a 250 credit limit
			srv := newTestServer(t, store.NewTxMemory())
			srv.seed("250", "100", 3)

			// when
			rec := srv.do(http.MethodPost, "/api/sales", "alice", tt.body)

			// then nothing is written
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			tt.check(t, decodeBody[ErrorResponse](t, rec))

			rec = srv.do(http.MethodGet, "/api/sales", "alice", nil)
			assert.Empty(t, decodeBody[[]SaleDTO](t, rec))
			rec = srv.do(http.MethodGet, "/api/products/p1", "alice", nil)
			assert.Equal(t, int64(3), decodeBody[ProductDTO](t, rec).Quantity)
		})
	}
}

func TestSubmitSale_RequestValidation(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())
	srv.seed("0", "100", 3)

	rec := srv.do(http.MethodPost, "/api/sales", "alice", map[string]any{
		"client_id": "c1", "product_key": "p1", "quantity": 1, "cash_amount": 100, "payment_method": "Cheque",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "oneof", decodeBody[ErrorResponse](t, rec).Fields["PaymentMethod"])

	rec = srv.do(http.MethodPost, "/api/sales", "alice", map[string]any{
		"client_id": "c1", "product_key": "p1", "quantity": 1, "cash_amount": 100, "date": "15/01/2025",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(http.MethodPost, "/api/sales", "alice", map[string]any{
		"client_id": "ghost", "product_key": "p1", "quantity": 1, "cash_amount": 100,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuoteSale(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())
	srv.seed("1000", "100", 3)

	rec := srv.do(http.MethodPost, "/api/sales/quote", "alice", map[string]any{
		"client_id": "c1", "product_key": "p1", "quantity": 2, "cash_amount": 50,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	q := decodeBody[QuoteDTO](t, rec)
	assert.True(t, q.Accepted)
	assert.Equal(t, "Mixta", q.SaleType)
	assertDecimal(t, "200", q.Total)
	assertDecimal(t, "150", q.CreditAmount)
	assert.Nil(t, q.Rejection)

	// a rejected quote is still a 200
	rec = srv.do(http.MethodPost, "/api/sales/quote", "alice", map[string]any{
		"client_id": "c1", "product_key": "p1", "quantity": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	q = decodeBody[QuoteDTO](t, rec)
	assert.False(t, q.Accepted)
	require.NotNil(t, q.Rejection)
	assert.Equal(t, "insufficient_inventory", q.Rejection.Code)

	// quoting wrote nothing
	rec = srv.do(http.MethodGet, "/api/products/p1", "alice", nil)
	assert.Equal(t, int64(3), decodeBody[ProductDTO](t, rec).Quantity)
}

// =============================================================================
// PAYMENTS AND BALANCE
// =============================================================================

func TestAdvanceAppliedToSale(t *testing.T) {
	// given an advance of 200
	srv := newTestServer(t, store.NewTxMemory())
	srv.seed("0", "150", 5)
	rec := srv.do(http.MethodPost, "/api/clients/c1/advances", "alice", map[string]any{
		"amount": "200", "date": "2025-02-01", "payment_method": "Transferencia",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tx := decodeBody[TransactionDTO](t, rec)
	assert.Equal(t, "Anticipo Cliente", tx.Category)
	assert.Equal(t, "Ingreso", tx.Direction)

	// when a 150 sale applies it fully
	rec = srv.do(http.MethodPost, "/api/sales", "alice", map[string]any{
		"client_id": "c1", "product_key": "p1", "quantity": 1, "advance_applied": 150,
	})

	// then it is a cash sale and 50 remains
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Contado", decodeBody[CommitDTO](t, rec).Sale.SaleType)

	rec = srv.do(http.MethodGet, "/api/clients/c1/status", "alice", nil)
	assertDecimal(t, "50", decodeBody[ClientStatusDTO](t, rec).AdvanceAvailable)

	rec = srv.do(http.MethodGet, "/api/clients/c1/balance?audit=true", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decodeBody[BalanceResponse](t, rec)
	require.NotNil(t, bal.Audit)
	assert.False(t, bal.Audit.Drift)
	assertDecimal(t, "50", bal.Balance.AdvanceBalance)

	rec = srv.do(http.MethodGet, "/api/transactions?client_id=c1", "alice", nil)
	assert.Len(t, decodeBody[[]TransactionDTO](t, rec), 2)
}

func TestRecordCollection(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())
	srv.seed("1000", "100", 5)
	rec := srv.do(http.MethodPost, "/api/sales", "alice", map[string]any{
		"client_id": "c1", "product_key": "p1", "quantity": 1, "credit_amount": 100,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = srv.do(http.MethodPost, "/api/clients/c1/collections", "alice", map[string]any{"amount": 40, "note": "abono"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, strings.HasSuffix(decodeBody[TransactionDTO](t, rec).Description, ": abono"))

	rec = srv.do(http.MethodGet, "/api/clients/c1/status", "alice", nil)
	assertDecimal(t, "940", decodeBody[ClientStatusDTO](t, rec).CreditAvailable)

	rec = srv.do(http.MethodPost, "/api/clients/c1/collections", "alice", map[string]any{"amount": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = srv.do(http.MethodPost, "/api/clients/c1/balance/rebuild", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertDecimal(t, "60", decodeBody[BalanceResponse](t, rec).Balance.CreditUsed)
}

// =============================================================================
// COMMIT FAILURES
// =============================================================================

// failStore is a non-transactional store whose Add fails when fail
// matches the record.
type failStore struct {
	*store.Memory
	fail func(coll generic.Collection, rec generic.Record) bool
}

func (s failStore) Add(ctx context.Context, user generic.UserID, coll generic.Collection, rec generic.Record) (string, error) {
	if s.fail(coll, rec) {
		return "", errors.New("disk full")
	}
	return s.Memory.Add(ctx, user, coll, rec)
}

func failCash(coll generic.Collection, rec generic.Record) bool {
	return coll == sales.CollTransactions && strings.HasSuffix(rec.ID(), ":cash")
}

func TestSubmitSale_CommitFailureReportsSteps(t *testing.T) {
	// given a non-transactional store that fails the cash step
	srv := newTestServer(t, failStore{Memory: store.NewMemory(), fail: failCash})
	srv.seed("0", "100", 5)

	// when
	rec := srv.do(http.MethodPost, "/api/sales", "alice", map[string]any{
		"sale_id": "s1", "client_id": "c1", "product_key": "p1", "quantity": 1, "cash_amount": 100,
	})

	// then the response names the failed step and what was persisted
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "commit_failed", resp.Code)
	assert.Equal(t, "cash", resp.Step)
	assert.Equal(t, []string{"sale"}, resp.Applied)
	assert.False(t, resp.RolledBack)

	metrics := httptest.NewRecorder()
	srv.metrics.Handler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metrics.Body.String(), `ledger_commit_failures_total{step="cash"} 1`)
}
