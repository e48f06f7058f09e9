/*
projection.go - Per-client running balance

PURPOSE:
  Keeps one client_balances record per client with the four running sums
  the calculators would otherwise derive by scanning: credit granted,
  collections, advance received and advance applied. It is updated in the
  same store transaction as every append.

TRUST:
  The projection is never used to validate a sale. The scan in credit.go
  stays the source of truth; AuditBalance compares the two and
  RebuildBalance rewrites the projection from the scan.
*/
package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/sales-ledger/generic"
)

// ClientBalance is the projection record of one client.
type ClientBalance struct {
	ClientID        string
	CreditGranted   decimal.Decimal
	Collections     decimal.Decimal
	AdvanceReceived decimal.Decimal
	AdvanceApplied  decimal.Decimal
	UpdatedAt       time.Time
}

// CreditUsed is credit granted minus collections.
func (b ClientBalance) CreditUsed() decimal.Decimal {
	return round2(b.CreditGranted.Sub(b.Collections))
}

// AdvanceBalance is advance received minus advance applied.
func (b ClientBalance) AdvanceBalance() decimal.Decimal {
	return round2(b.AdvanceReceived.Sub(b.AdvanceApplied))
}

// BalanceDelta is an increment to a ClientBalance.
type BalanceDelta struct {
	CreditGranted   decimal.Decimal
	Collections     decimal.Decimal
	AdvanceReceived decimal.Decimal
	AdvanceApplied  decimal.Decimal
}

func (d BalanceDelta) IsZero() bool {
	return d.CreditGranted.IsZero() && d.Collections.IsZero() &&
		d.AdvanceReceived.IsZero() && d.AdvanceApplied.IsZero()
}

func saleDelta(s Sale) BalanceDelta {
	d := BalanceDelta{AdvanceApplied: s.AdvanceApplied}
	if s.Type.GrantsCredit() {
		d.CreditGranted = s.CreditAmount
	}
	return d
}

func (b ClientBalance) record() generic.Record {
	return generic.Record{
		generic.FieldID:  b.ClientID,
		fClientID:        b.ClientID,
		fCreditGranted:   round2(b.CreditGranted),
		fCollections:     round2(b.Collections),
		fAdvanceReceived: round2(b.AdvanceReceived),
		fAdvanceApplied:  round2(b.AdvanceApplied),
		fUpdatedAt:       timestamp(b.UpdatedAt),
	}
}

func balanceFromRecord(r generic.Record) ClientBalance {
	return ClientBalance{
		ClientID:        r.ID(),
		CreditGranted:   generic.Decimal(r[fCreditGranted]),
		Collections:     generic.Decimal(r[fCollections]),
		AdvanceReceived: generic.Decimal(r[fAdvanceReceived]),
		AdvanceApplied:  generic.Decimal(r[fAdvanceApplied]),
		UpdatedAt:       parseTime(r[fUpdatedAt]),
	}
}

// applyBalance adds d to the client's projection, creating it on first use.
func applyBalance(ctx context.Context, l *generic.Ledger, clientID string, d BalanceDelta, now time.Time) error {
	rec, err := l.Get(ctx, CollBalances, clientID)
	if generic.IsNotFound(err) {
		b := ClientBalance{
			ClientID:        clientID,
			CreditGranted:   d.CreditGranted,
			Collections:     d.Collections,
			AdvanceReceived: d.AdvanceReceived,
			AdvanceApplied:  d.AdvanceApplied,
			UpdatedAt:       now,
		}
		if _, err := l.Add(ctx, CollBalances, b.record()); err != nil {
			return fmt.Errorf("create balance for %s: %w", clientID, err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	b := balanceFromRecord(rec)
	b.CreditGranted = b.CreditGranted.Add(d.CreditGranted)
	b.Collections = b.Collections.Add(d.Collections)
	b.AdvanceReceived = b.AdvanceReceived.Add(d.AdvanceReceived)
	b.AdvanceApplied = b.AdvanceApplied.Add(d.AdvanceApplied)
	b.UpdatedAt = now
	fields := b.record()
	delete(fields, generic.FieldID)
	if err := l.Update(ctx, CollBalances, generic.FieldID, clientID, fields); err != nil {
		return fmt.Errorf("update balance for %s: %w", clientID, err)
	}
	return nil
}

// ComputeBalance derives the projection a client should have from its
// sales and transactions.
func ComputeBalance(clientID string, sales []Sale, txs []Transaction) ClientBalance {
	b := ClientBalance{ClientID: clientID}
	for _, s := range sales {
		if s.ClientID == clientID && s.Type.GrantsCredit() {
			b.CreditGranted = b.CreditGranted.Add(s.CreditAmount)
		}
	}
	for _, t := range txs {
		if t.ClientID != clientID {
			continue
		}
		switch {
		case t.Category == CategoryCollection:
			b.Collections = b.Collections.Add(t.Amount)
		case t.Category == CategoryAdvanceReceived && t.Direction == DirectionIncome:
			b.AdvanceReceived = b.AdvanceReceived.Add(t.Amount)
		case t.Category == CategoryAdvanceApplied && t.Direction == DirectionExpense:
			b.AdvanceApplied = b.AdvanceApplied.Add(t.Amount)
		}
	}
	b.CreditGranted = round2(b.CreditGranted)
	b.Collections = round2(b.Collections)
	b.AdvanceReceived = round2(b.AdvanceReceived)
	b.AdvanceApplied = round2(b.AdvanceApplied)
	return b
}

// BalanceAudit compares the stored projection with the scan.
type BalanceAudit struct {
	Projected ClientBalance
	Computed  ClientBalance
	Drift     bool
	// Fields lists the sums that differ by more than Epsilon.
	Fields []string
}

func auditBalance(projected, computed ClientBalance) BalanceAudit {
	a := BalanceAudit{Projected: projected, Computed: computed}
	check := func(name string, p, c decimal.Decimal) {
		if p.Sub(c).Abs().GreaterThan(Epsilon) {
			a.Fields = append(a.Fields, name)
		}
	}
	check(fCreditGranted, projected.CreditGranted, computed.CreditGranted)
	check(fCollections, projected.Collections, computed.Collections)
	check(fAdvanceReceived, projected.AdvanceReceived, computed.AdvanceReceived)
	check(fAdvanceApplied, projected.AdvanceApplied, computed.AdvanceApplied)
	a.Drift = len(a.Fields) > 0
	return a
}
