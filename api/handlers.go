/*
handlers.go - HTTP API handlers for the sales ledger

PURPOSE:
  Exposes the sales ledger service via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to package sales.

ENDPOINTS:
  Clients:
    GET    /api/clients                         List clients
    POST   /api/clients                         Create client
    GET    /api/clients/{id}                    Get client
    PUT    /api/clients/{id}                    Update client
    GET    /api/clients/{id}/status             Credit and advance position
    GET    /api/clients/{id}/balance            Balance projection (?audit=true)
    POST   /api/clients/{id}/balance/rebuild    Rebuild projection from the log
    POST   /api/clients/{id}/collections        Record a collection
    POST   /api/clients/{id}/advances           Record an advance

  Products:
    GET    /api/products                        List products
    POST   /api/products                        Create product
    GET    /api/products/{key}                  Get product
    PUT    /api/products/{key}                  Update product (restock)

  Sales:
    GET    /api/sales                           List sales (?client_id=)
    POST   /api/sales/quote                     Reconcile without writing
    POST   /api/sales                           Reconcile and commit
    GET    /api/transactions                    Transaction log (?client_id=)

  Scenarios:
    GET    /api/scenarios                       List demo scenarios
    POST   /api/scenarios/load                  Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Service: the sales ledger
  - Logger: zap logger for failures the client cannot act on
  - validate: request DTO validation

  The user comes from the session set by RequireUser (server.go). A
  handler never sees a request without one.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed JSON, DTO validation failures
  - 401: Missing X-User-ID
  - 404: Client or product not found
  - 409: Duplicate id, last unit taken by a concurrent sale
  - 422: Sale rejected by reconciliation (code + numbers)
  - 500: Commit failures (failed step, applied steps), internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/sales-ledger/generic"
	"github.com/warp/sales-ledger/sales"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *sales.Service
	Logger  *zap.Logger

	validate *validator.Validate
}

// NewHandler creates a handler over svc. A nil logger discards output.
func NewHandler(svc *sales.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:  svc,
		Logger:   logger,
		validate: validator.New(),
	}
}

// session returns the caller set by RequireUser.
func session(r *http.Request) generic.Session {
	sess, _ := generic.SessionFromContext(r.Context())
	return sess
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns all clients of the user.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Service.ListClients(r.Context(), session(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list clients", err)
		return
	}
	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateClient creates a client.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.Service.CreateClient(r.Context(), session(r), sales.Client{
		ID:          req.ID,
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Address:     req.Address,
		TaxID:       req.TaxID,
		CreditLimit: req.CreditLimit,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create client", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(c))
}

// GetClient returns one client.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.GetClient(r.Context(), session(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

// UpdateClient changes the fields present in the body.
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	var req UpdateClientRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.Service.UpdateClient(r.Context(), session(r), chi.URLParam(r, "id"), sales.ClientUpdate{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Address:     req.Address,
		TaxID:       req.TaxID,
		CreditLimit: req.CreditLimit,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to update client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

// GetClientStatus returns the credit and advance position.
func (h *Handler) GetClientStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.ClientStatus(r.Context(), session(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get client status", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTO(st))
}

// GetClientBalance returns the running projection. With ?audit=true the
// projection is also compared with a scan of the log.
func (h *Handler) GetClientBalance(w http.ResponseWriter, r *http.Request) {
	sess, id := session(r), chi.URLParam(r, "id")

	audit, _ := strconv.ParseBool(r.URL.Query().Get("audit"))
	if audit {
		a, err := h.Service.AuditBalance(r.Context(), sess, id)
		if err != nil {
			h.writeServiceError(w, r, "Failed to audit balance", err)
			return
		}
		writeJSON(w, http.StatusOK, BalanceResponse{
			Balance: toBalanceDTO(a.Projected),
			Audit: &AuditDTO{
				Computed: toBalanceDTO(a.Computed),
				Drift:    a.Drift,
				Fields:   a.Fields,
			},
		})
		return
	}

	b, err := h.Service.ClientBalance(r.Context(), sess, id)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: toBalanceDTO(b)})
}

// RebuildClientBalance recomputes the projection from the log.
func (h *Handler) RebuildClientBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.RebuildBalance(r.Context(), session(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to rebuild balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: toBalanceDTO(b)})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordCollection logs a payment against outstanding credit.
func (h *Handler) RecordCollection(w http.ResponseWriter, r *http.Request) {
	h.recordPayment(w, r, h.Service.RecordCollection)
}

// RecordAdvance logs a client prepayment.
func (h *Handler) RecordAdvance(w http.ResponseWriter, r *http.Request) {
	h.recordPayment(w, r, h.Service.RecordAdvance)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request,
	record func(ctx context.Context, sess generic.Session, p sales.Payment) (sales.Transaction, error)) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := req.payment(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	tx, err := record(r.Context(), session(r), p)
	if err != nil {
		h.writeServiceError(w, r, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Service.ListProducts(r.Context(), session(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list products", err)
		return
	}
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct adds a product to the catalog.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Service.CreateProduct(r.Context(), session(r), sales.Product{
		Key:       req.Key,
		Name:      req.Name,
		Category:  req.Category,
		Variant:   req.Variant,
		UnitPrice: req.UnitPrice,
		UnitCost:  req.UnitCost,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// GetProduct returns one product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetProduct(r.Context(), session(r), chi.URLParam(r, "key"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// UpdateProduct changes prices, descriptive fields or the stock count.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req UpdateProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Service.UpdateProduct(r.Context(), session(r), chi.URLParam(r, "key"), sales.ProductUpdate{
		Name:      req.Name,
		Category:  req.Category,
		Variant:   req.Variant,
		UnitPrice: req.UnitPrice,
		UnitCost:  req.UnitCost,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to update product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// ListSales returns committed sales, optionally for one client.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListSales(r.Context(), session(r), r.URL.Query().Get("client_id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list sales", err)
		return
	}
	dtos := make([]SaleDTO, len(list))
	for i, s := range list {
		dtos[i] = toSaleDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// QuoteSale reconciles a proposal without writing. A rejected proposal is
// still a 200; the rejection is part of the quote.
func (h *Handler) QuoteSale(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeProposal(w, r)
	if !ok {
		return
	}
	q, err := h.Service.Quote(r.Context(), session(r), p)
	if err != nil {
		h.writeServiceError(w, r, "Failed to quote sale", err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(q))
}

// SubmitSale reconciles and commits a sale. Resubmitting a committed sale
// id returns 200 with the stored sale instead of 201.
func (h *Handler) SubmitSale(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeProposal(w, r)
	if !ok {
		return
	}
	res, err := h.Service.SubmitSale(r.Context(), session(r), p)
	if err != nil {
		h.writeServiceError(w, r, "Failed to submit sale", err)
		return
	}
	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, toCommitDTO(res))
}

func (h *Handler) decodeProposal(w http.ResponseWriter, r *http.Request) (sales.Proposal, bool) {
	var req SaleRequest
	if !h.decode(w, r, &req) {
		return sales.Proposal{}, false
	}
	p, err := req.proposal()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return sales.Proposal{}, false
	}
	return p, true
}

// ListTransactions returns the transaction log, optionally for one client.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Service.ListTransactions(r.Context(), session(r), r.URL.Query().Get("client_id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list transactions", err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, t := range txs {
		dtos[i] = toTransactionDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. On failure the 400
// response has been written and false is returned.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request", err)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Invalid request",
			Code:   "invalid_request",
			Fields: fields,
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps a service error to its HTTP status.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var ce *sales.CommitError
	switch {
	case errors.As(err, &ce):
		resp := ErrorResponse{
			Error:      message,
			Code:       sales.Reason(err),
			Details:    err.Error(),
			Step:       string(ce.Step),
			Applied:    stepNames(ce.Applied),
			RolledBack: ce.RolledBack,
		}
		// Lost the last units to a concurrent sale; nothing was written.
		if ce.RolledBack && errors.Is(ce.Err, sales.ErrInsufficientInventory) {
			writeJSON(w, http.StatusConflict, resp)
			return
		}
		h.Logger.Error("commit failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, resp)
	case sales.IsValidationError(err):
		resp := validationResponse(err)
		resp.Error = message
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, generic.ErrNoSession):
		writeError(w, http.StatusUnauthorized, "Missing user", err)
	case errors.Is(err, generic.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not found", Code: "not_found", Details: err.Error()})
	case errors.Is(err, generic.ErrDuplicateKey):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Already exists", Code: "duplicate", Details: err.Error()})
	default:
		h.Logger.Error(message, zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// validationResponse describes a reconciliation failure with its numbers.
func validationResponse(err error) ErrorResponse {
	resp := ErrorResponse{
		Error:   "Sale rejected",
		Code:    sales.Reason(err),
		Details: err.Error(),
	}
	var (
		invalid   *sales.InvalidProposalError
		inventory *sales.InsufficientInventoryError
		mismatch  *sales.AmountMismatchError
		credit    *sales.CreditLimitExceededError
		advance   *sales.AdvanceExceededError
		unclass   *sales.UnclassifiedSaleError
	)
	switch {
	case errors.As(err, &invalid):
		resp.Fields = map[string]string{invalid.Field: invalid.Reason}
	case errors.As(err, &inventory):
		resp.Requested = strconv.FormatInt(inventory.Requested, 10)
		resp.Available = strconv.FormatInt(inventory.Available, 10)
	case errors.As(err, &mismatch):
		resp.Expected = mismatch.Expected.StringFixed(2)
		resp.Actual = mismatch.Actual.StringFixed(2)
	case errors.As(err, &credit):
		resp.Requested = credit.Requested.StringFixed(2)
		resp.Available = credit.Available.StringFixed(2)
	case errors.As(err, &advance):
		resp.Requested = advance.Requested.StringFixed(2)
		resp.Available = advance.Available.StringFixed(2)
	case errors.As(err, &unclass):
		resp.Expected = unclass.Total.StringFixed(2)
	}
	return resp
}
