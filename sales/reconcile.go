/*
reconcile.go - Sale validation and classification

PURPOSE:
  Decides whether a proposed sale can be committed, and if so how it is
  classified. Reconcile is pure: every figure it needs (inventory, credit
  and advance available) is passed in, so the same function serves the
  read-only quote and the re-validation that runs right before commit.

VALIDATION ORDER:
  Input checks:  quantity > 0, no negative amounts, advance within
                 min(advance available, total)
  Then, short-circuiting on the first failure:
    1. quantity <= inventory              InsufficientInventoryError
    2. |cash + credit + advance - total|  AmountMismatchError
       <= Epsilon, both sides in cents
    3. credit <= credit available         CreditLimitExceededError
       + Epsilon

CLASSIFICATION (first match wins):
  credit > 0, cash or advance > 0   Mixta
  credit > 0, cash == advance == 0  Crédito
  credit == 0, cash or advance > 0  Contado
  everything 0, total == 0          Gratuita
  otherwise                         Indefinido (rejected)

  Indefinido is only reachable through the cent tolerance, e.g. a
  sub-cent total with every component zero. Such a sale is rejected with
  UnclassifiedSaleError instead of being stored under a meaningless type.

SEE ALSO:
  - credit.go: Where the available figures come from
  - commit.go: What happens to a ClassifiedSale
*/
package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROPOSAL
// =============================================================================

// Proposal is a sale as entered by the user, before validation.
type Proposal struct {
	SaleID     string
	Date       time.Time
	ClientID   string
	ProductKey string
	Quantity   int64

	// UnitPrice is the price shown when the sale was proposed. When not
	// set the product's current price is used.
	UnitPrice decimal.NullDecimal

	CashAmount     decimal.Decimal
	AdvanceApplied decimal.Decimal

	// CreditAmount is the credit portion the user submitted. When not set
	// it is derived as total - cash - advance.
	CreditAmount decimal.NullDecimal

	// PaymentMethod applies to the cash portion. Defaults to Efectivo.
	PaymentMethod PaymentMethod
}

// ReconcileInput bundles a proposal with the current state it is checked
// against. Proposal.UnitPrice must be resolved.
type ReconcileInput struct {
	Proposal         Proposal
	Inventory        int64
	CreditAvailable  decimal.Decimal
	AdvanceAvailable decimal.Decimal
}

// ClassifiedSale is an accepted proposal ready for commit.
type ClassifiedSale struct {
	Sale             Sale
	InventoryBefore  int64
	CreditAvailable  decimal.Decimal
	AdvanceAvailable decimal.Decimal
}

// =============================================================================
// RECONCILE
// =============================================================================

// Reconcile validates in and classifies the resulting sale. The returned
// Sale carries amounts, type and payment method; display names, id and
// timestamps are the caller's to fill.
func Reconcile(in ReconcileInput) (ClassifiedSale, error) {
	p := in.Proposal

	// -------------------------------------------------------------------------
	// Input checks
	// -------------------------------------------------------------------------

	if p.Quantity <= 0 {
		return ClassifiedSale{}, &InvalidProposalError{Field: "quantity", Reason: "must be greater than zero"}
	}
	if !p.UnitPrice.Valid {
		return ClassifiedSale{}, &InvalidProposalError{Field: "unit_price", Reason: "is required"}
	}
	price := p.UnitPrice.Decimal
	if price.IsNegative() {
		return ClassifiedSale{}, &InvalidProposalError{Field: "unit_price", Reason: "must not be negative"}
	}
	if p.CashAmount.IsNegative() {
		return ClassifiedSale{}, &InvalidProposalError{Field: "cash_amount", Reason: "must not be negative"}
	}
	if p.AdvanceApplied.IsNegative() {
		return ClassifiedSale{}, &InvalidProposalError{Field: "advance_applied", Reason: "must not be negative"}
	}
	if p.PaymentMethod != "" && !p.PaymentMethod.Tender() {
		return ClassifiedSale{}, &InvalidProposalError{Field: "payment_method", Reason: "must be Efectivo, Transferencia or Tarjeta"}
	}

	total := price.Mul(decimal.NewFromInt(p.Quantity))

	if p.AdvanceApplied.IsPositive() {
		usable := minDecimal(in.AdvanceAvailable, total)
		if round2(p.AdvanceApplied).GreaterThan(round2(usable)) {
			return ClassifiedSale{}, &AdvanceExceededError{Requested: p.AdvanceApplied, Available: usable}
		}
	}

	credit := total.Sub(p.CashAmount).Sub(p.AdvanceApplied)
	if p.CreditAmount.Valid {
		credit = p.CreditAmount.Decimal
	}
	if round2(credit).IsNegative() {
		if p.CreditAmount.Valid {
			return ClassifiedSale{}, &InvalidProposalError{Field: "credit_amount", Reason: "must not be negative"}
		}
		return ClassifiedSale{}, &InvalidProposalError{Field: "cash_amount", Reason: "cash and advance exceed the sale total"}
	}
	if credit.IsNegative() {
		// Sub-cent negative remainder from a derived credit.
		credit = decimal.Zero
	}

	// -------------------------------------------------------------------------
	// Validation sequence
	// -------------------------------------------------------------------------

	if p.Quantity > in.Inventory {
		return ClassifiedSale{}, &InsufficientInventoryError{
			ProductKey: p.ProductKey, Requested: p.Quantity, Available: in.Inventory,
		}
	}

	sum := p.CashAmount.Add(credit).Add(p.AdvanceApplied)
	if round2(sum).Sub(round2(total)).Abs().GreaterThan(Epsilon) {
		return ClassifiedSale{}, &AmountMismatchError{Expected: round2(total), Actual: round2(sum)}
	}

	if credit.GreaterThan(in.CreditAvailable.Add(Epsilon)) {
		return ClassifiedSale{}, &CreditLimitExceededError{Requested: credit, Available: in.CreditAvailable}
	}

	// -------------------------------------------------------------------------
	// Classification
	// -------------------------------------------------------------------------

	saleType := Classify(p.CashAmount, credit, p.AdvanceApplied, total)
	if saleType == SaleUndefined {
		return ClassifiedSale{}, &UnclassifiedSaleError{
			Cash: p.CashAmount, Credit: credit, Advance: p.AdvanceApplied, Total: total,
		}
	}

	return ClassifiedSale{
		Sale: Sale{
			ID:             p.SaleID,
			Date:           p.Date,
			ClientID:       p.ClientID,
			ProductKey:     p.ProductKey,
			Quantity:       p.Quantity,
			UnitPrice:      price,
			Total:          total,
			CashAmount:     p.CashAmount,
			CreditAmount:   credit,
			AdvanceApplied: p.AdvanceApplied,
			PaymentMethod:  paymentMethod(p.PaymentMethod, p.CashAmount, credit, p.AdvanceApplied),
			Type:           saleType,
		},
		InventoryBefore:  in.Inventory,
		CreditAvailable:  in.CreditAvailable,
		AdvanceAvailable: in.AdvanceAvailable,
	}, nil
}

// Classify returns the sale type for a payment split.
func Classify(cash, credit, advance, total decimal.Decimal) SaleType {
	paid := cash.IsPositive() || advance.IsPositive()
	switch {
	case credit.IsPositive() && paid:
		return SaleMixed
	case credit.IsPositive():
		return SaleCredit
	case credit.IsZero() && paid:
		return SaleCash
	case cash.IsZero() && credit.IsZero() && advance.IsZero() && total.IsZero():
		return SaleFree
	}
	return SaleUndefined
}

func paymentMethod(chosen PaymentMethod, cash, credit, advance decimal.Decimal) PaymentMethod {
	switch {
	case cash.IsPositive():
		if chosen == "" {
			return MethodCash
		}
		return chosen
	case credit.IsPositive():
		return MethodCredit
	case advance.IsPositive():
		return MethodAdvance
	}
	return MethodNone
}
