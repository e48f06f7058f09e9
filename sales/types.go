/*
Package sales implements the sales ledger on top of the generic store.

PURPOSE:
  Clients, products, sales and the transaction log of a small business,
  plus the reconciliation logic that decides whether a proposed sale can
  be committed and how it is classified.

KEY CONCEPTS IN THIS FILE (types.go):
  - Client, Product, Sale, Transaction: the stored documents
  - SaleType, Category, Direction, PaymentMethod: the persisted labels
  - Epsilon: one cent, the tolerance for every amount comparison

LABELS:
  The persisted labels keep the values the ledger has always used
  ("Contado", "Cobranza", "Anticipo Cliente", ...) so existing records
  stay readable. Go code refers to them by the English constant names.

REFERENCES:
  Sales and transactions reference clients by id and products by key.
  Names are copied onto the sale as display snapshots only.

SEE ALSO:
  - reconcile.go: Sale validation and classification
  - commit.go: Multi-record write of an accepted sale
  - service.go: Operations exposed to the API
*/
package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/sales-ledger/generic"
)

// =============================================================================
// COLLECTIONS
// =============================================================================

const (
	CollClients        generic.Collection = "clients"
	CollProducts       generic.Collection = "products"
	CollSales          generic.Collection = "sales"
	CollTransactions   generic.Collection = "transactions"
	CollBalances       generic.Collection = "client_balances"
	CollStockMovements generic.Collection = "stock_movements"
)

// Epsilon is the tolerance applied to amount comparisons: one cent.
var Epsilon = decimal.New(1, -2)

// =============================================================================
// LABELS
// =============================================================================

// SaleType classifies how a sale was paid.
type SaleType string

const (
	SaleCash      SaleType = "Contado"
	SaleCredit    SaleType = "Crédito"
	SaleMixed     SaleType = "Mixta"
	SaleFree      SaleType = "Gratuita"
	SaleUndefined SaleType = "Indefinido"
)

// GrantsCredit reports whether sales of this type add to credit used.
func (t SaleType) GrantsCredit() bool {
	return t == SaleCredit || t == SaleMixed
}

// Category labels a transaction in the log.
type Category string

const (
	CategorySales           Category = "Ventas"
	CategoryCollection      Category = "Cobranza"
	CategoryAdvanceReceived Category = "Anticipo Cliente"
	CategoryAdvanceApplied  Category = "Anticipo Aplicado"
)

// Direction is the sign of a transaction from the business's point of view.
type Direction string

const (
	DirectionIncome  Direction = "Ingreso"
	DirectionExpense Direction = "Gasto"
)

// PaymentMethod records how (part of) a sale or transaction was paid.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "Efectivo"
	MethodTransfer PaymentMethod = "Transferencia"
	MethodCard     PaymentMethod = "Tarjeta"
	MethodCredit   PaymentMethod = "Crédito"
	MethodAdvance  PaymentMethod = "Anticipo"
	MethodNone     PaymentMethod = "N/A"
)

// Tender reports whether m can be chosen for money actually handed over.
func (m PaymentMethod) Tender() bool {
	return m == MethodCash || m == MethodTransfer || m == MethodCard
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// Client is a customer that may buy on credit and hold advances.
type Client struct {
	ID          string
	Name        string
	Email       string
	Phone       string
	Address     string
	TaxID       string
	CreditLimit decimal.Decimal
	CreatedAt   time.Time
}

// Product is an item in inventory. Key is its stable identifier.
type Product struct {
	Key       string
	Name      string
	Category  string
	Variant   string
	UnitPrice decimal.Decimal
	UnitCost  decimal.Decimal
	Quantity  int64
	CreatedAt time.Time
}

// Sale is an accepted, immutable sale.
// Invariant: CashAmount + CreditAmount + AdvanceApplied == Total (± Epsilon).
type Sale struct {
	ID             string
	Date           time.Time
	ClientID       string
	ClientName     string
	ProductKey     string
	ProductName    string
	Quantity       int64
	UnitPrice      decimal.Decimal
	Total          decimal.Decimal
	CashAmount     decimal.Decimal
	CreditAmount   decimal.Decimal
	AdvanceApplied decimal.Decimal
	PaymentMethod  PaymentMethod
	Type           SaleType
	CreatedAt      time.Time
}

// Transaction is an entry of the append-only money log.
type Transaction struct {
	ID            string
	Date          time.Time
	Description   string
	Category      Category
	Direction     Direction
	Amount        decimal.Decimal
	ClientID      string
	PaymentMethod PaymentMethod
	SaleID        string
	CreatedAt     time.Time
}

// StockStatus is the progress of a sale's inventory decrement.
type StockStatus string

const (
	// StockPending is claimed before the decrement runs.
	StockPending StockStatus = "pending"
	// StockDone means the decrement was applied.
	StockDone StockStatus = "done"
	// StockFailed means the decrement was refused and nothing moved.
	StockFailed StockStatus = "failed"
)

// StockMovement marks a sale's inventory decrement. Before is the product
// quantity read when the marker was claimed.
type StockMovement struct {
	ID         string
	ProductKey string
	Quantity   int64
	Before     int64
	Status     StockStatus
	SaleID     string
	CreatedAt  time.Time
}

// =============================================================================
// AMOUNT HELPERS
// =============================================================================

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
