/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the caller's ledger with
	realistic data for demos. Each scenario creates clients, products and
	payments, then submits sales through the normal reconciliation path.

AVAILABLE SCENARIOS:

	credit-sale:     Client with a 1000 limit buys 500 on credit
	advance-payment: Client prepays 200 and applies 150 to a sale
	mixed-payment:   Part cash, part credit, then a collection
	free-sample:     Zero-priced sample, no money moves
	low-stock:       Three units left; try quoting five

HOW SCENARIOS WORK:
 1. Create clients and products with scenario-prefixed ids
 2. Record advances and collections
 3. Submit sales with fixed sale ids

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "credit-sale"}

IDEMPOTENCY:

	Loading a scenario twice is harmless. Existing records are skipped and
	resubmitted sales resume instead of selling twice. Nothing is reset:
	scenarios only ever add to the user's own namespace.

SEE ALSO:
  - handlers.go: Handler
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/sales-ledger/generic"
	"github.com/warp/sales-ledger/sales"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// scenario is the data one demo loads.
type scenario struct {
	ScenarioDTO
	clients     []sales.Client
	products    []sales.Product
	advances    []sales.Payment
	sales       []sales.Proposal
	collections []sales.Payment
}

func day(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 0, 0, 0, 0, time.UTC)
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func credit(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(amount(s))
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "credit-sale",
			Name:        "Credit Sale",
			Description: "Client with a 1000.00 credit limit buys a 500.00 laptop entirely on credit",
		},
		clients: []sales.Client{
			{ID: "credit-sale-client", Name: "Ferretería Norte", CreditLimit: amount("1000")},
		},
		products: []sales.Product{
			{Key: "credit-sale-laptop", Name: "Laptop", Category: "Computo", UnitPrice: amount("500"), UnitCost: amount("380"), Quantity: 10},
		},
		sales: []sales.Proposal{
			{SaleID: "credit-sale-001", Date: day(time.January, 15), ClientID: "credit-sale-client",
				ProductKey: "credit-sale-laptop", Quantity: 1, CreditAmount: credit("500")},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "advance-payment",
			Name:        "Advance Payment",
			Description: "Client prepays 200.00 and later applies 150.00 of it to a cash sale",
		},
		clients: []sales.Client{
			{ID: "advance-client", Name: "Papelería Central"},
		},
		products: []sales.Product{
			{Key: "advance-printer", Name: "Impresora", Category: "Computo", UnitPrice: amount("150"), UnitCost: amount("100"), Quantity: 5},
		},
		advances: []sales.Payment{
			{ID: "advance-payment-001", ClientID: "advance-client", Amount: amount("200"), Date: day(time.February, 1), Method: sales.MethodTransfer},
		},
		sales: []sales.Proposal{
			{SaleID: "advance-sale-001", Date: day(time.February, 10), ClientID: "advance-client",
				ProductKey: "advance-printer", Quantity: 1, AdvanceApplied: amount("150")},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "mixed-payment",
			Name:        "Mixed Payment",
			Description: "100.00 sale paid 60.00 in cash and 40.00 on credit, collected a week later",
		},
		clients: []sales.Client{
			{ID: "mixed-client", Name: "Abarrotes Don José", CreditLimit: amount("500")},
		},
		products: []sales.Product{
			{Key: "mixed-chair", Name: "Silla", Category: "Muebles", Variant: "Negra", UnitPrice: amount("100"), UnitCost: amount("55"), Quantity: 20},
		},
		sales: []sales.Proposal{
			{SaleID: "mixed-sale-001", Date: day(time.March, 3), ClientID: "mixed-client",
				ProductKey: "mixed-chair", Quantity: 1, CashAmount: amount("60"), CreditAmount: credit("40"),
				PaymentMethod: sales.MethodCard},
		},
		collections: []sales.Payment{
			{ID: "mixed-collection-001", ClientID: "mixed-client", Amount: amount("40"), Date: day(time.March, 10), Note: "saldo silla"},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "free-sample",
			Name:        "Free Sample",
			Description: "Zero-priced sample leaves stock but moves no money",
		},
		clients: []sales.Client{
			{ID: "sample-client", Name: "Cliente Muestra"},
		},
		products: []sales.Product{
			{Key: "sample-catalog", Name: "Catálogo", Category: "Promocional", Quantity: 100},
		},
		sales: []sales.Proposal{
			{SaleID: "sample-sale-001", Date: day(time.April, 1), ClientID: "sample-client",
				ProductKey: "sample-catalog", Quantity: 2},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "low-stock",
			Name:        "Low Stock",
			Description: "Only three monitors left; a quote for five is rejected",
		},
		clients: []sales.Client{
			{ID: "stock-client", Name: "Oficinas del Valle", CreditLimit: amount("5000")},
		},
		products: []sales.Product{
			{Key: "stock-monitor", Name: "Monitor", Category: "Computo", Variant: "27in", UnitPrice: amount("250"), UnitCost: amount("180"), Quantity: 3},
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario loads one scenario into the caller's ledger.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	sc, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	resp, err := h.loadScenario(r.Context(), session(r), sc)
	if err != nil {
		h.writeServiceError(w, r, fmt.Sprintf("Failed to load scenario %s", sc.ID), err)
		return
	}
	h.Logger.Info("scenario loaded",
		zap.String("scenario_id", sc.ID), zap.String("user_id", string(session(r).UserID)))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) loadScenario(ctx context.Context, sess generic.Session, sc scenario) (LoadScenarioResponse, error) {
	resp := LoadScenarioResponse{
		ScenarioID: sc.ID,
		Clients:    []string{},
		Products:   []string{},
		Sales:      []string{},
	}
	svc := h.Service

	for _, c := range sc.clients {
		if _, err := svc.CreateClient(ctx, sess, c); err != nil && !generic.IsDuplicate(err) {
			return resp, fmt.Errorf("client %s: %w", c.ID, err)
		}
		resp.Clients = append(resp.Clients, c.ID)
	}
	for _, p := range sc.products {
		if _, err := svc.CreateProduct(ctx, sess, p); err != nil && !generic.IsDuplicate(err) {
			return resp, fmt.Errorf("product %s: %w", p.Key, err)
		}
		resp.Products = append(resp.Products, p.Key)
	}
	for _, p := range sc.advances {
		if _, err := svc.RecordAdvance(ctx, sess, p); err != nil && !generic.IsDuplicate(err) {
			return resp, fmt.Errorf("advance %s: %w", p.ID, err)
		}
	}
	for _, p := range sc.sales {
		if _, err := svc.SubmitSale(ctx, sess, p); err != nil {
			return resp, fmt.Errorf("sale %s: %w", p.SaleID, err)
		}
		resp.Sales = append(resp.Sales, p.SaleID)
	}
	for _, p := range sc.collections {
		if _, err := svc.RecordCollection(ctx, sess, p); err != nil && !generic.IsDuplicate(err) {
			return resp, fmt.Errorf("collection %s: %w", p.ID, err)
		}
	}
	return resp, nil
}
