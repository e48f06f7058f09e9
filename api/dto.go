/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in package sales from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Amounts are shopspring decimals. Responses encode them as JSON strings
  ("150.75"); requests accept either strings or numbers.

VALIDATION:
  Request types carry validator tags for shape (required ids, enum
  values, date format). Business rules (quantity > 0, credit limit,
  inventory) are checked by the sales package and reported as 422.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/sales-ledger/generic"
	"github.com/warp/sales-ledger/sales"
)

// =============================================================================
// CLIENTS
// =============================================================================

// ClientDTO represents a client in API responses.
type ClientDTO struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Address     string          `json:"address,omitempty"`
	TaxID       string          `json:"tax_id,omitempty"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	CreatedAt   string          `json:"created_at,omitempty"`
}

// CreateClientRequest is the body of POST /api/clients.
type CreateClientRequest struct {
	ID          string          `json:"id" validate:"omitempty,max=64"`
	Name        string          `json:"name" validate:"required,max=200"`
	Email       string          `json:"email" validate:"omitempty,email"`
	Phone       string          `json:"phone" validate:"omitempty,max=50"`
	Address     string          `json:"address" validate:"omitempty,max=500"`
	TaxID       string          `json:"tax_id" validate:"omitempty,max=50"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

// UpdateClientRequest is the body of PUT /api/clients/{id}. Absent fields
// are left unchanged.
type UpdateClientRequest struct {
	Name        *string          `json:"name" validate:"omitempty,max=200"`
	Email       *string          `json:"email" validate:"omitempty,email"`
	Phone       *string          `json:"phone" validate:"omitempty,max=50"`
	Address     *string          `json:"address" validate:"omitempty,max=500"`
	TaxID       *string          `json:"tax_id" validate:"omitempty,max=50"`
	CreditLimit *decimal.Decimal `json:"credit_limit"`
}

func toClientDTO(c sales.Client) ClientDTO {
	return ClientDTO{
		ID:          c.ID,
		Name:        c.Name,
		Email:       c.Email,
		Phone:       c.Phone,
		Address:     c.Address,
		TaxID:       c.TaxID,
		CreditLimit: c.CreditLimit,
		CreatedAt:   formatTimestamp(c.CreatedAt),
	}
}

// ClientStatusDTO is the credit and advance position of a client.
type ClientStatusDTO struct {
	ClientID         string          `json:"client_id"`
	CreditLimit      decimal.Decimal `json:"credit_limit"`
	CreditUsed       decimal.Decimal `json:"credit_used"`
	CreditAvailable  decimal.Decimal `json:"credit_available"`
	AdvanceAvailable decimal.Decimal `json:"advance_available"`
}

func toStatusDTO(s sales.ClientStatus) ClientStatusDTO {
	return ClientStatusDTO{
		ClientID:         s.ClientID,
		CreditLimit:      s.CreditLimit,
		CreditUsed:       s.CreditUsed,
		CreditAvailable:  s.CreditAvailable,
		AdvanceAvailable: s.AdvanceAvailable,
	}
}

// =============================================================================
// PRODUCTS
// =============================================================================

// ProductDTO represents a product in API responses.
type ProductDTO struct {
	Key       string          `json:"key"`
	Name      string          `json:"name"`
	Category  string          `json:"category,omitempty"`
	Variant   string          `json:"variant,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Quantity  int64           `json:"quantity"`
}

// CreateProductRequest is the body of POST /api/products.
type CreateProductRequest struct {
	Key       string          `json:"key" validate:"omitempty,max=64"`
	Name      string          `json:"name" validate:"required,max=200"`
	Category  string          `json:"category" validate:"omitempty,max=100"`
	Variant   string          `json:"variant" validate:"omitempty,max=100"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Quantity  int64           `json:"quantity"`
}

// UpdateProductRequest is the body of PUT /api/products/{key}.
type UpdateProductRequest struct {
	Name      *string          `json:"name" validate:"omitempty,max=200"`
	Category  *string          `json:"category" validate:"omitempty,max=100"`
	Variant   *string          `json:"variant" validate:"omitempty,max=100"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	UnitCost  *decimal.Decimal `json:"unit_cost"`
	Quantity  *int64           `json:"quantity"`
}

func toProductDTO(p sales.Product) ProductDTO {
	return ProductDTO{
		Key:       p.Key,
		Name:      p.Name,
		Category:  p.Category,
		Variant:   p.Variant,
		UnitPrice: p.UnitPrice,
		UnitCost:  p.UnitCost,
		Quantity:  p.Quantity,
	}
}

// =============================================================================
// SALES
// =============================================================================

// SaleRequest is the body of POST /api/sales and POST /api/sales/quote.
type SaleRequest struct {
	SaleID         string           `json:"sale_id" validate:"omitempty,max=64"`
	Date           string           `json:"date" validate:"omitempty,datetime=2006-01-02"`
	ClientID       string           `json:"client_id" validate:"required"`
	ProductKey     string           `json:"product_key" validate:"required"`
	Quantity       int64            `json:"quantity"`
	UnitPrice      *decimal.Decimal `json:"unit_price"`
	CashAmount     decimal.Decimal  `json:"cash_amount"`
	AdvanceApplied decimal.Decimal  `json:"advance_applied"`
	CreditAmount   *decimal.Decimal `json:"credit_amount"`
	PaymentMethod  string           `json:"payment_method" validate:"omitempty,oneof=Efectivo Transferencia Tarjeta"`
}

func (r SaleRequest) proposal() (sales.Proposal, error) {
	date, err := parseDate(r.Date)
	if err != nil {
		return sales.Proposal{}, err
	}
	p := sales.Proposal{
		SaleID:         r.SaleID,
		Date:           date,
		ClientID:       r.ClientID,
		ProductKey:     r.ProductKey,
		Quantity:       r.Quantity,
		CashAmount:     r.CashAmount,
		AdvanceApplied: r.AdvanceApplied,
		PaymentMethod:  sales.PaymentMethod(r.PaymentMethod),
	}
	if r.UnitPrice != nil {
		p.UnitPrice = decimal.NewNullDecimal(*r.UnitPrice)
	}
	if r.CreditAmount != nil {
		p.CreditAmount = decimal.NewNullDecimal(*r.CreditAmount)
	}
	return p, nil
}

// SaleDTO represents a committed sale.
type SaleDTO struct {
	ID             string          `json:"id"`
	Date           string          `json:"date"`
	ClientID       string          `json:"client_id"`
	ClientName     string          `json:"client_name"`
	ProductKey     string          `json:"product_key"`
	ProductName    string          `json:"product_name"`
	Quantity       int64           `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Total          decimal.Decimal `json:"total"`
	CashAmount     decimal.Decimal `json:"cash_amount"`
	CreditAmount   decimal.Decimal `json:"credit_amount"`
	AdvanceApplied decimal.Decimal `json:"advance_applied"`
	PaymentMethod  string          `json:"payment_method"`
	SaleType       string          `json:"sale_type"`
}

func toSaleDTO(s sales.Sale) SaleDTO {
	return SaleDTO{
		ID:             s.ID,
		Date:           formatDate(s.Date),
		ClientID:       s.ClientID,
		ClientName:     s.ClientName,
		ProductKey:     s.ProductKey,
		ProductName:    s.ProductName,
		Quantity:       s.Quantity,
		UnitPrice:      s.UnitPrice,
		Total:          s.Total,
		CashAmount:     s.CashAmount,
		CreditAmount:   s.CreditAmount,
		AdvanceApplied: s.AdvanceApplied,
		PaymentMethod:  string(s.PaymentMethod),
		SaleType:       string(s.Type),
	}
}

// CommitDTO is the response of POST /api/sales.
type CommitDTO struct {
	Sale           SaleDTO  `json:"sale"`
	Applied        []string `json:"applied"`
	Skipped        []string `json:"skipped"`
	Resumed        bool     `json:"resumed"`
	InventoryAfter *int64   `json:"inventory_after,omitempty"`
}

func toCommitDTO(r sales.CommitResult) CommitDTO {
	dto := CommitDTO{
		Sale:    toSaleDTO(r.Sale),
		Applied: stepNames(r.Applied),
		Skipped: stepNames(r.Skipped),
		Resumed: r.Resumed,
	}
	if r.InventoryAfter >= 0 {
		left := r.InventoryAfter
		dto.InventoryAfter = &left
	}
	return dto
}

func stepNames(steps []sales.CommitStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = string(s)
	}
	return out
}

// QuoteDTO is the response of POST /api/sales/quote.
type QuoteDTO struct {
	Accepted      bool            `json:"accepted"`
	Total         decimal.Decimal `json:"total"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	CreditAmount  decimal.Decimal `json:"credit_amount"`
	Inventory     int64           `json:"inventory"`
	Status        ClientStatusDTO `json:"status"`
	SaleType      string          `json:"sale_type,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Rejection     *ErrorResponse  `json:"rejection,omitempty"`
}

func toQuoteDTO(q sales.Quote) QuoteDTO {
	dto := QuoteDTO{
		Accepted:     q.Accepted(),
		Total:        q.Total,
		UnitPrice:    q.UnitPrice,
		CreditAmount: q.CreditAmount,
		Inventory:    q.Inventory,
		Status:       toStatusDTO(q.Status),
	}
	if q.Sale != nil {
		dto.SaleType = string(q.Sale.Type)
		dto.PaymentMethod = string(q.Sale.PaymentMethod)
	}
	if q.Rejection != nil {
		resp := validationResponse(q.Rejection)
		dto.Rejection = &resp
	}
	return dto
}

// =============================================================================
// TRANSACTIONS AND PAYMENTS
// =============================================================================

// TransactionDTO represents a transaction log entry.
type TransactionDTO struct {
	ID            string          `json:"id"`
	Date          string          `json:"date"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	Direction     string          `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	ClientID      string          `json:"client_id"`
	PaymentMethod string          `json:"payment_method"`
	SaleID        string          `json:"sale_id,omitempty"`
}

func toTransactionDTO(t sales.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:            t.ID,
		Date:          formatDate(t.Date),
		Description:   t.Description,
		Category:      string(t.Category),
		Direction:     string(t.Direction),
		Amount:        t.Amount,
		ClientID:      t.ClientID,
		PaymentMethod: string(t.PaymentMethod),
		SaleID:        t.SaleID,
	}
}

// PaymentRequest is the body of the collection and advance endpoints.
type PaymentRequest struct {
	ID     string          `json:"id" validate:"omitempty,max=64"`
	Amount decimal.Decimal `json:"amount"`
	Date   string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Method string          `json:"payment_method" validate:"omitempty,oneof=Efectivo Transferencia Tarjeta"`
	Note   string          `json:"note" validate:"omitempty,max=500"`
}

func (r PaymentRequest) payment(clientID string) (sales.Payment, error) {
	date, err := parseDate(r.Date)
	if err != nil {
		return sales.Payment{}, err
	}
	return sales.Payment{
		ID:       r.ID,
		ClientID: clientID,
		Amount:   r.Amount,
		Date:     date,
		Method:   sales.PaymentMethod(r.Method),
		Note:     r.Note,
	}, nil
}

// =============================================================================
// BALANCE
// =============================================================================

// BalanceDTO is the running balance projection of a client.
type BalanceDTO struct {
	ClientID        string          `json:"client_id"`
	CreditGranted   decimal.Decimal `json:"credit_granted"`
	Collections     decimal.Decimal `json:"collections"`
	CreditUsed      decimal.Decimal `json:"credit_used"`
	AdvanceReceived decimal.Decimal `json:"advance_received"`
	AdvanceApplied  decimal.Decimal `json:"advance_applied"`
	AdvanceBalance  decimal.Decimal `json:"advance_balance"`
	UpdatedAt       string          `json:"updated_at,omitempty"`
}

func toBalanceDTO(b sales.ClientBalance) BalanceDTO {
	return BalanceDTO{
		ClientID:        b.ClientID,
		CreditGranted:   b.CreditGranted,
		Collections:     b.Collections,
		CreditUsed:      b.CreditUsed(),
		AdvanceReceived: b.AdvanceReceived,
		AdvanceApplied:  b.AdvanceApplied,
		AdvanceBalance:  b.AdvanceBalance(),
		UpdatedAt:       formatTimestamp(b.UpdatedAt),
	}
}

// BalanceResponse is the response of GET /api/clients/{id}/balance.
type BalanceResponse struct {
	Balance BalanceDTO `json:"balance"`
	Audit   *AuditDTO  `json:"audit,omitempty"`
}

// AuditDTO compares the projection with a scan of the log.
type AuditDTO struct {
	Computed BalanceDTO `json:"computed"`
	Drift    bool       `json:"drift"`
	Fields   []string   `json:"fields,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// LoadScenarioResponse summarizes what a scenario created.
type LoadScenarioResponse struct {
	ScenarioID string   `json:"scenario_id"`
	Clients    []string `json:"clients"`
	Products   []string `json:"products"`
	Sales      []string `json:"sales"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`

	// Numeric discrepancy of a rejected sale.
	Requested string `json:"requested,omitempty"`
	Available string `json:"available,omitempty"`
	Expected  string `json:"expected,omitempty"`
	Actual    string `json:"actual,omitempty"`

	// Commit failures.
	Step       string   `json:"step,omitempty"`
	Applied    []string `json:"applied,omitempty"`
	RolledBack bool     `json:"rolled_back,omitempty"`
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(generic.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, err)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(generic.DateLayout)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
