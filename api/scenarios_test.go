/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Tests that each scenario loads through the normal API and leaves the
	expected state: sales committed, balances matching the log, and a
	second load changing nothing.
*/
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sales-ledger/generic/store"
)

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_List(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())

	rec := srv.do(http.MethodGet, "/api/scenarios", "alice", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarios))
	assert.Equal(t, "credit-sale", list[0].ID)
}

func TestScenarios_LoadAll(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())

	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			rec := srv.do(http.MethodPost, "/api/scenarios/load", "alice", map[string]any{"scenario_id": sc.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Len(t, decodeBody[LoadScenarioResponse](t, rec).Sales, len(sc.sales))
		})
	}

	rec := srv.do(http.MethodGet, "/api/clients/mixed-client/balance?audit=true", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decodeBody[BalanceResponse](t, rec)
	assert.False(t, bal.Audit.Drift)
	assertDecimal(t, "0", bal.Balance.CreditUsed)
}

func TestScenarios_LoadTwiceIsIdempotent(t *testing.T) {
	// given
	srv := newTestServer(t, store.NewTxMemory())
	body := map[string]any{"scenario_id": "advance-payment"}

	// when loaded twice
	require.Equal(t, http.StatusOK, srv.do(http.MethodPost, "/api/scenarios/load", "alice", body).Code)
	require.Equal(t, http.StatusOK, srv.do(http.MethodPost, "/api/scenarios/load", "alice", body).Code)

	// then one sale, one advance, one unit sold
	rec := srv.do(http.MethodGet, "/api/sales", "alice", nil)
	assert.Len(t, decodeBody[[]SaleDTO](t, rec), 1)

	rec = srv.do(http.MethodGet, "/api/clients/advance-client/status", "alice", nil)
	assertDecimal(t, "50", decodeBody[ClientStatusDTO](t, rec).AdvanceAvailable)

	rec = srv.do(http.MethodGet, "/api/products/advance-printer", "alice", nil)
	assert.Equal(t, int64(4), decodeBody[ProductDTO](t, rec).Quantity)
}

func TestScenarios_LoadErrors(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())

	rec := srv.do(http.MethodPost, "/api/scenarios/load", "alice", map[string]any{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(http.MethodPost, "/api/scenarios/load", "alice", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarios_FreeSampleMovesNoMoney(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())
	rec := srv.do(http.MethodPost, "/api/scenarios/load", "alice", map[string]any{"scenario_id": "free-sample"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(http.MethodGet, "/api/sales?client_id=sample-client", "alice", nil)
	list := decodeBody[[]SaleDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "Gratuita", list[0].SaleType)

	rec = srv.do(http.MethodGet, "/api/transactions?client_id=sample-client", "alice", nil)
	assert.Empty(t, decodeBody[[]TransactionDTO](t, rec))

	rec = srv.do(http.MethodGet, "/api/products/sample-catalog", "alice", nil)
	assert.Equal(t, int64(98), decodeBody[ProductDTO](t, rec).Quantity)
}

func TestScenarios_LowStockQuote(t *testing.T) {
	srv := newTestServer(t, store.NewTxMemory())
	rec := srv.do(http.MethodPost, "/api/scenarios/load", "alice", map[string]any{"scenario_id": "low-stock"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(http.MethodPost, "/api/sales/quote", "alice", map[string]any{
		"client_id": "stock-client", "product_key": "stock-monitor", "quantity": 5,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	q := decodeBody[QuoteDTO](t, rec)
	assert.False(t, q.Accepted)
	require.NotNil(t, q.Rejection)
	assert.Equal(t, "insufficient_inventory", q.Rejection.Code)
	assert.Equal(t, "5", q.Rejection.Requested)
	assert.Equal(t, "3", q.Rejection.Available)
}
