/*
credit.go - Credit and advance availability

PURPOSE:
  Derives how much credit a client has left and how much prepaid advance
  can still be applied, purely from the stored sales and transactions.
  No counter is trusted here; the balance projection (projection.go) is
  audited against these functions.

FORMULAS:
  credit_used      = Σ credit_amount of Crédito/Mixta sales − Σ Cobranza amounts
  credit_available = credit_limit − credit_used
  advance_balance  = Σ Anticipo Cliente (Ingreso) − Σ Anticipo Aplicado (Gasto)

  Both results are rounded to cents. credit_available may be negative
  when the limit was lowered below what is already used. advance_balance
  may be negative on corrupted data; callers display it clamped at zero.

SEE ALSO:
  - reconcile.go: Consumes both values when validating a sale
*/
package sales

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/sales-ledger/generic"
)

// =============================================================================
// CREDIT
// =============================================================================

// CreditStatus is the credit position of one client.
type CreditStatus struct {
	Limit     decimal.Decimal
	Granted   decimal.Decimal
	Collected decimal.Decimal
	Used      decimal.Decimal
	Available decimal.Decimal
}

// ComputeCredit derives the client's credit position from its history.
// Records belonging to other clients are ignored.
func ComputeCredit(client Client, sales []Sale, txs []Transaction) CreditStatus {
	granted := decimal.Zero
	for _, s := range sales {
		if s.ClientID == client.ID && s.Type.GrantsCredit() {
			granted = granted.Add(s.CreditAmount)
		}
	}
	collected := decimal.Zero
	for _, t := range txs {
		if t.ClientID == client.ID && t.Category == CategoryCollection {
			collected = collected.Add(t.Amount)
		}
	}
	used := round2(granted.Sub(collected))
	return CreditStatus{
		Limit:     client.CreditLimit,
		Granted:   round2(granted),
		Collected: round2(collected),
		Used:      used,
		Available: round2(client.CreditLimit.Sub(used)),
	}
}

// LoadCredit reads the client's sales and transactions and computes its
// credit position.
func LoadCredit(ctx context.Context, l *generic.Ledger, client Client) (CreditStatus, error) {
	sales, err := loadSales(ctx, l, client.ID)
	if err != nil {
		return CreditStatus{}, err
	}
	txs, err := loadTransactions(ctx, l, client.ID)
	if err != nil {
		return CreditStatus{}, err
	}
	return ComputeCredit(client, sales, txs), nil
}

// =============================================================================
// ADVANCE
// =============================================================================

// AdvanceStatus is the prepaid balance of one client.
type AdvanceStatus struct {
	Received decimal.Decimal
	Applied  decimal.Decimal
	Balance  decimal.Decimal
}

// Displayable is the balance clamped at zero.
func (a AdvanceStatus) Displayable() decimal.Decimal {
	if a.Balance.IsNegative() {
		return decimal.Zero
	}
	return a.Balance
}

// ComputeAdvance derives the client's advance balance from its transactions.
func ComputeAdvance(clientID string, txs []Transaction) AdvanceStatus {
	received, applied := decimal.Zero, decimal.Zero
	for _, t := range txs {
		if t.ClientID != clientID {
			continue
		}
		switch {
		case t.Category == CategoryAdvanceReceived && t.Direction == DirectionIncome:
			received = received.Add(t.Amount)
		case t.Category == CategoryAdvanceApplied && t.Direction == DirectionExpense:
			applied = applied.Add(t.Amount)
		}
	}
	return AdvanceStatus{
		Received: round2(received),
		Applied:  round2(applied),
		Balance:  round2(received.Sub(applied)),
	}
}

// LoadAdvance reads the client's transactions and computes its advance balance.
func LoadAdvance(ctx context.Context, l *generic.Ledger, clientID string) (AdvanceStatus, error) {
	txs, err := loadTransactions(ctx, l, clientID)
	if err != nil {
		return AdvanceStatus{}, err
	}
	return ComputeAdvance(clientID, txs), nil
}
