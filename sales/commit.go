/*
commit.go - Multi-record write of an accepted sale

PURPOSE:
  Persists a ClassifiedSale: the sale itself, the transactions derived
  from it, the inventory decrement and the balance projection update.

STEPS:
  1. sale       Sale record, id = sale id
  2. cash       Ventas/Ingreso transaction, id "<sale>:cash" (cash > 0)
  3. advance    Anticipo Aplicado/Gasto transaction, id "<sale>:advance"
                (advance > 0)
  4. inventory  Stock movement marker "<sale>:stock" claimed as pending,
                conditional decrement of the product quantity, marker
                completed as done
  5. balance    Client balance projection

ATOMICITY:
  The caller decides: inside Ledger.WithTx on a transactional store the
  five steps are all-or-nothing. On a plain store they run in order and
  the first failure stops the rest; CommitError.Applied lists what was
  persisted.

RESUME:
  Every record id is derived from the sale id, so committing the same sale
  again skips what already exists. A done stock marker skips the
  decrement; a pending one is checked against the quantity it recorded,
  so a resumed commit never takes stock twice. The projection
  step only runs on a fresh commit; AuditBalance and RebuildBalance repair
  a projection left behind by an interrupted one.

SEE ALSO:
  - projection.go: Balance projection
  - service.go: SubmitSale wraps this in a transaction
*/
package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/sales-ledger/generic"
)

// CommitStep names one write of a sale commit.
type CommitStep string

const (
	StepSale      CommitStep = "sale"
	StepCash      CommitStep = "cash"
	StepAdvance   CommitStep = "advance"
	StepInventory CommitStep = "inventory"
	StepBalance   CommitStep = "balance"
)

// CommitResult describes a successful commit.
type CommitResult struct {
	Sale Sale

	// Applied are the steps written by this call, Skipped those found
	// already persisted or not needed.
	Applied []CommitStep
	Skipped []CommitStep

	// Resumed is set when the sale record already existed.
	Resumed bool

	// InventoryAfter is the product quantity after the decrement, or -1
	// when the inventory step was skipped.
	InventoryAfter int64
}

// Committer writes classified sales to a ledger.
type Committer struct {
	now func() time.Time
}

// NewCommitter returns a committer stamping records with now.
func NewCommitter(now func() time.Time) *Committer {
	if now == nil {
		now = time.Now
	}
	return &Committer{now: now}
}

func cashTxID(saleID string) string    { return saleID + ":cash" }
func advanceTxID(saleID string) string { return saleID + ":advance" }
func stockID(saleID string) string     { return saleID + ":stock" }

// Commit persists cs.Sale. It does not validate; run Reconcile first
// against fresh figures.
func (c *Committer) Commit(ctx context.Context, l *generic.Ledger, cs ClassifiedSale) (CommitResult, error) {
	sale := cs.Sale
	if sale.ID == "" {
		return CommitResult{}, &InvalidProposalError{Field: "sale_id", Reason: "is required for commit"}
	}
	now := c.now()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	res := CommitResult{Sale: sale, InventoryAfter: -1}

	fail := func(step CommitStep, err error) (CommitResult, error) {
		return res, &CommitError{SaleID: sale.ID, Step: step, Applied: res.Applied, Err: err}
	}
	// add appends rec, treating an existing record as already applied.
	add := func(step CommitStep, coll generic.Collection, rec generic.Record) (bool, error) {
		_, err := l.Add(ctx, coll, rec)
		switch {
		case err == nil:
			res.Applied = append(res.Applied, step)
			return true, nil
		case generic.IsDuplicate(err):
			res.Skipped = append(res.Skipped, step)
			return false, nil
		}
		return false, err
	}

	// -------------------------------------------------------------------------
	// 1. Sale
	// -------------------------------------------------------------------------

	added, err := add(StepSale, CollSales, sale.record())
	if err != nil {
		return fail(StepSale, err)
	}
	res.Resumed = !added

	// -------------------------------------------------------------------------
	// 2-3. Derived transactions
	// -------------------------------------------------------------------------

	if sale.CashAmount.IsPositive() {
		tx := Transaction{
			ID:            cashTxID(sale.ID),
			Date:          sale.Date,
			Description:   fmt.Sprintf("Pago de contado por venta a %s", displayName(sale.ClientName, sale.ClientID)),
			Category:      CategorySales,
			Direction:     DirectionIncome,
			Amount:        sale.CashAmount,
			ClientID:      sale.ClientID,
			PaymentMethod: sale.PaymentMethod,
			SaleID:        sale.ID,
			CreatedAt:     now,
		}
		if _, err := add(StepCash, CollTransactions, tx.record()); err != nil {
			return fail(StepCash, err)
		}
	} else {
		res.Skipped = append(res.Skipped, StepCash)
	}

	if sale.AdvanceApplied.IsPositive() {
		tx := Transaction{
			ID:            advanceTxID(sale.ID),
			Date:          sale.Date,
			Description:   fmt.Sprintf("Anticipo aplicado a venta de %s", displayName(sale.ClientName, sale.ClientID)),
			Category:      CategoryAdvanceApplied,
			Direction:     DirectionExpense,
			Amount:        sale.AdvanceApplied,
			ClientID:      sale.ClientID,
			PaymentMethod: MethodAdvance,
			SaleID:        sale.ID,
			CreatedAt:     now,
		}
		if _, err := add(StepAdvance, CollTransactions, tx.record()); err != nil {
			return fail(StepAdvance, err)
		}
	} else {
		res.Skipped = append(res.Skipped, StepAdvance)
	}

	// -------------------------------------------------------------------------
	// 4. Inventory
	// -------------------------------------------------------------------------

	if err := c.moveStock(ctx, l, sale, now, &res); err != nil {
		return fail(StepInventory, err)
	}

	// -------------------------------------------------------------------------
	// 5. Balance projection
	// -------------------------------------------------------------------------

	if res.Resumed {
		res.Skipped = append(res.Skipped, StepBalance)
		return res, nil
	}
	delta := saleDelta(sale)
	if delta.IsZero() {
		res.Skipped = append(res.Skipped, StepBalance)
		return res, nil
	}
	if err := applyBalance(ctx, l, sale.ClientID, delta, now); err != nil {
		return fail(StepBalance, err)
	}
	res.Applied = append(res.Applied, StepBalance)
	return res, nil
}

// moveStock applies the inventory decrement once per sale. The marker is
// claimed as pending before the decrement and completed after it, so a
// resumed commit can tell whether the quantity already moved: a pending
// marker whose product no longer holds the claimed quantity counts as
// applied. Stock changes by other sales in between look the same.
func (c *Committer) moveStock(ctx context.Context, l *generic.Ledger, sale Sale, now time.Time, res *CommitResult) error {
	id := stockID(sale.ID)
	rec, err := l.Get(ctx, CollStockMovements, id)
	found := err == nil
	if err != nil && !generic.IsNotFound(err) {
		return err
	}
	var marker StockMovement
	if found {
		marker = stockMovementFromRecord(rec)
		if marker.Status == StockDone {
			res.Skipped = append(res.Skipped, StepInventory)
			return nil
		}
	}

	product, err := l.First(ctx, CollProducts, fKey, sale.ProductKey)
	if err != nil {
		return err
	}
	current := generic.Int(product[fQuantity])

	left := current
	if !found || marker.Status != StockPending || current == marker.Before {
		claim := StockMovement{
			ID:         id,
			ProductKey: sale.ProductKey,
			Quantity:   sale.Quantity,
			Before:     current,
			Status:     StockPending,
			SaleID:     sale.ID,
			CreatedAt:  now,
		}
		if found {
			err = l.Update(ctx, CollStockMovements, generic.FieldID, id,
				generic.Record{fStatus: string(StockPending), fQuantityBefore: current})
		} else {
			_, err = l.Add(ctx, CollStockMovements, claim.record())
		}
		if err != nil {
			return err
		}

		left, err = l.Decrement(ctx, CollProducts, fKey, sale.ProductKey, fQuantity, sale.Quantity)
		if err != nil {
			// Nothing moved; a failed marker lets the retry claim again.
			_ = l.Update(ctx, CollStockMovements, generic.FieldID, id, generic.Record{fStatus: string(StockFailed)})
			var cond *generic.ConditionError
			if errors.As(err, &cond) {
				err = &InsufficientInventoryError{ProductKey: sale.ProductKey, Requested: sale.Quantity, Available: cond.Current}
			}
			return err
		}
	}
	res.Applied = append(res.Applied, StepInventory)
	res.InventoryAfter = left

	return l.Update(ctx, CollStockMovements, generic.FieldID, id, generic.Record{fStatus: string(StockDone)})
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
