package sales

import (
	"context"
	"time"

	"github.com/warp/sales-ledger/generic"
)

// Stored field names.
const (
	fClientID       = "client_id"
	fClientName     = "client_name"
	fProductKey     = "product_key"
	fProductName    = "product_name"
	fName           = "name"
	fEmail          = "email"
	fPhone          = "phone"
	fAddress        = "address"
	fTaxID          = "tax_id"
	fCreditLimit    = "credit_limit"
	fKey            = "key"
	fCategory       = "category"
	fVariant        = "variant"
	fUnitPrice      = "unit_price"
	fUnitCost       = "unit_cost"
	fQuantity       = "quantity"
	fDate           = "date"
	fTotal          = "total"
	fCashAmount     = "cash_amount"
	fCreditAmount   = "credit_amount"
	fAdvanceApplied = "advance_applied"
	fPaymentMethod  = "payment_method"
	fSaleType       = "sale_type"
	fDescription    = "description"
	fDirection      = "direction"
	fAmount         = "amount"
	fSaleID         = "sale_id"
	fCreatedAt      = "created_at"
	fUpdatedAt      = "updated_at"
	fStatus         = "status"
	fQuantityBefore = "quantity_before"

	fCreditGranted   = "credit_granted"
	fCollections     = "collections"
	fAdvanceReceived = "advance_received"
)

// =============================================================================
// TIME FIELDS
// =============================================================================

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// parseTime reads either a calendar date or an RFC 3339 timestamp.
// Anything else yields the zero time.
func parseTime(v any) time.Time {
	s := generic.String(v)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(generic.DateLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// =============================================================================
// CLIENT
// =============================================================================

func (c Client) record() generic.Record {
	return generic.Record{
		generic.FieldID: c.ID,
		fName:           c.Name,
		fEmail:          c.Email,
		fPhone:          c.Phone,
		fAddress:        c.Address,
		fTaxID:          c.TaxID,
		fCreditLimit:    c.CreditLimit,
		fCreatedAt:      timestamp(c.CreatedAt),
	}
}

func clientFromRecord(r generic.Record) Client {
	return Client{
		ID:          r.ID(),
		Name:        generic.String(r[fName]),
		Email:       generic.String(r[fEmail]),
		Phone:       generic.String(r[fPhone]),
		Address:     generic.String(r[fAddress]),
		TaxID:       generic.String(r[fTaxID]),
		CreditLimit: generic.Decimal(r[fCreditLimit]),
		CreatedAt:   parseTime(r[fCreatedAt]),
	}
}

// =============================================================================
// PRODUCT
// =============================================================================

// Products are stored with id == key so lookups by key hit the primary key.
func (p Product) record() generic.Record {
	return generic.Record{
		generic.FieldID: p.Key,
		fKey:            p.Key,
		fName:           p.Name,
		fCategory:       p.Category,
		fVariant:        p.Variant,
		fUnitPrice:      p.UnitPrice,
		fUnitCost:       p.UnitCost,
		fQuantity:       p.Quantity,
		fCreatedAt:      timestamp(p.CreatedAt),
	}
}

func productFromRecord(r generic.Record) Product {
	key := generic.String(r[fKey])
	if key == "" {
		key = r.ID()
	}
	return Product{
		Key:       key,
		Name:      generic.String(r[fName]),
		Category:  generic.String(r[fCategory]),
		Variant:   generic.String(r[fVariant]),
		UnitPrice: generic.Decimal(r[fUnitPrice]),
		UnitCost:  generic.Decimal(r[fUnitCost]),
		Quantity:  generic.Int(r[fQuantity]),
		CreatedAt: parseTime(r[fCreatedAt]),
	}
}

// =============================================================================
// SALE
// =============================================================================

func (s Sale) record() generic.Record {
	return generic.Record{
		generic.FieldID: s.ID,
		fDate:           s.Date,
		fClientID:       s.ClientID,
		fClientName:     s.ClientName,
		fProductKey:     s.ProductKey,
		fProductName:    s.ProductName,
		fQuantity:       s.Quantity,
		fUnitPrice:      s.UnitPrice,
		fTotal:          s.Total,
		fCashAmount:     s.CashAmount,
		fCreditAmount:   s.CreditAmount,
		fAdvanceApplied: s.AdvanceApplied,
		fPaymentMethod:  s.PaymentMethod,
		fSaleType:       s.Type,
		fCreatedAt:      timestamp(s.CreatedAt),
	}
}

func saleFromRecord(r generic.Record) Sale {
	return Sale{
		ID:             r.ID(),
		Date:           parseTime(r[fDate]),
		ClientID:       generic.String(r[fClientID]),
		ClientName:     generic.String(r[fClientName]),
		ProductKey:     generic.String(r[fProductKey]),
		ProductName:    generic.String(r[fProductName]),
		Quantity:       generic.Int(r[fQuantity]),
		UnitPrice:      generic.Decimal(r[fUnitPrice]),
		Total:          generic.Decimal(r[fTotal]),
		CashAmount:     generic.Decimal(r[fCashAmount]),
		CreditAmount:   generic.Decimal(r[fCreditAmount]),
		AdvanceApplied: generic.Decimal(r[fAdvanceApplied]),
		PaymentMethod:  PaymentMethod(generic.String(r[fPaymentMethod])),
		Type:           SaleType(generic.String(r[fSaleType])),
		CreatedAt:      parseTime(r[fCreatedAt]),
	}
}

// =============================================================================
// TRANSACTION
// =============================================================================

func (t Transaction) record() generic.Record {
	return generic.Record{
		generic.FieldID: t.ID,
		fDate:           t.Date,
		fDescription:    t.Description,
		fCategory:       t.Category,
		fDirection:      t.Direction,
		fAmount:         t.Amount,
		fClientID:       t.ClientID,
		fPaymentMethod:  t.PaymentMethod,
		fSaleID:         t.SaleID,
		fCreatedAt:      timestamp(t.CreatedAt),
	}
}

func transactionFromRecord(r generic.Record) Transaction {
	return Transaction{
		ID:            r.ID(),
		Date:          parseTime(r[fDate]),
		Description:   generic.String(r[fDescription]),
		Category:      Category(generic.String(r[fCategory])),
		Direction:     Direction(generic.String(r[fDirection])),
		Amount:        generic.Decimal(r[fAmount]),
		ClientID:      generic.String(r[fClientID]),
		PaymentMethod: PaymentMethod(generic.String(r[fPaymentMethod])),
		SaleID:        generic.String(r[fSaleID]),
		CreatedAt:     parseTime(r[fCreatedAt]),
	}
}

// =============================================================================
// STOCK MOVEMENT
// =============================================================================

func (m StockMovement) record() generic.Record {
	return generic.Record{
		generic.FieldID: m.ID,
		fProductKey:     m.ProductKey,
		fQuantity:       m.Quantity,
		fQuantityBefore: m.Before,
		fStatus:         string(m.Status),
		fSaleID:         m.SaleID,
		fCreatedAt:      timestamp(m.CreatedAt),
	}
}

// stockMovementFromRecord reads a marker. Markers written without a
// status predate the pending state and count as done.
func stockMovementFromRecord(r generic.Record) StockMovement {
	status := StockStatus(generic.String(r[fStatus]))
	if status == "" {
		status = StockDone
	}
	return StockMovement{
		ID:         r.ID(),
		ProductKey: generic.String(r[fProductKey]),
		Quantity:   generic.Int(r[fQuantity]),
		Before:     generic.Int(r[fQuantityBefore]),
		Status:     status,
		SaleID:     generic.String(r[fSaleID]),
		CreatedAt:  parseTime(r[fCreatedAt]),
	}
}

// =============================================================================
// LOADERS
// =============================================================================

func loadSales(ctx context.Context, l *generic.Ledger, clientID string) ([]Sale, error) {
	recs, err := l.Query(ctx, CollSales, fClientID, generic.OpEq, clientID)
	if err != nil {
		return nil, err
	}
	out := make([]Sale, 0, len(recs))
	for _, r := range recs {
		out = append(out, saleFromRecord(r))
	}
	return out, nil
}

func loadTransactions(ctx context.Context, l *generic.Ledger, clientID string) ([]Transaction, error) {
	recs, err := l.Query(ctx, CollTransactions, fClientID, generic.OpEq, clientID)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(recs))
	for _, r := range recs {
		out = append(out, transactionFromRecord(r))
	}
	return out, nil
}
