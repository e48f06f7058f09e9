package sales

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/sales-ledger/generic"
)

// =============================================================================
// COLLECTIONS AND ADVANCES
// =============================================================================

// Payment is money received from a client outside of a sale.
type Payment struct {
	ID       string
	ClientID string
	Amount   decimal.Decimal
	Date     time.Time
	Method   PaymentMethod
	Note     string
}

// RecordCollection logs a payment against the client's outstanding credit.
func (s *Service) RecordCollection(ctx context.Context, sess generic.Session, p Payment) (Transaction, error) {
	return s.recordPayment(ctx, sess, p, CategoryCollection, BalanceDelta{Collections: p.Amount})
}

// RecordAdvance logs a prepayment the client can apply to later sales.
func (s *Service) RecordAdvance(ctx context.Context, sess generic.Session, p Payment) (Transaction, error) {
	return s.recordPayment(ctx, sess, p, CategoryAdvanceReceived, BalanceDelta{AdvanceReceived: p.Amount})
}

func (s *Service) recordPayment(ctx context.Context, sess generic.Session, p Payment, cat Category, delta BalanceDelta) (Transaction, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return Transaction{}, err
	}
	if !p.Amount.IsPositive() {
		return Transaction{}, &InvalidProposalError{Field: "amount", Reason: "must be greater than zero"}
	}
	if p.Method == "" {
		p.Method = MethodCash
	}
	if !p.Method.Tender() {
		return Transaction{}, &InvalidProposalError{Field: "payment_method", Reason: "must be Efectivo, Transferencia or Tarjeta"}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.now()
	if p.Date.IsZero() {
		p.Date = now
	}

	var tx Transaction
	err = l.WithTx(ctx, func(l *generic.Ledger) error {
		client, err := getClient(ctx, l, p.ClientID)
		if err != nil {
			return err
		}
		tx = Transaction{
			ID:            p.ID,
			Date:          p.Date,
			Description:   paymentDescription(cat, client, p.Note),
			Category:      cat,
			Direction:     DirectionIncome,
			Amount:        p.Amount,
			ClientID:      client.ID,
			PaymentMethod: p.Method,
			CreatedAt:     now,
		}
		if _, err := l.Add(ctx, CollTransactions, tx.record()); err != nil {
			return err
		}
		return applyBalance(ctx, l, client.ID, delta, now)
	})
	if err != nil {
		return Transaction{}, err
	}
	s.invalidate(ctx, l.User(), tx.ClientID)
	s.logger.Info("payment recorded",
		zap.String("category", string(cat)),
		zap.String("client_id", tx.ClientID),
		zap.String("amount", tx.Amount.StringFixed(2)))
	return tx, nil
}

func paymentDescription(cat Category, client Client, note string) string {
	var d string
	if cat == CategoryCollection {
		d = fmt.Sprintf("Abono de crédito por parte de %s", displayName(client.Name, client.ID))
	} else {
		d = fmt.Sprintf("Anticipo recibido de %s", displayName(client.Name, client.ID))
	}
	if note = strings.TrimSpace(note); note != "" {
		d += ": " + note
	}
	return d
}

// =============================================================================
// LISTINGS
// =============================================================================

// ListSales returns the sales of clientID, or every sale when it is empty.
func (s *Service) ListSales(ctx context.Context, sess generic.Session, clientID string) ([]Sale, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return nil, err
	}
	if clientID != "" {
		return loadSales(ctx, l, clientID)
	}
	var out []Sale
	err = l.StreamAll(ctx, CollSales, func(r generic.Record) error {
		out = append(out, saleFromRecord(r))
		return nil
	})
	return out, err
}

// ListTransactions returns the transactions of clientID, or all of them.
func (s *Service) ListTransactions(ctx context.Context, sess generic.Session, clientID string) ([]Transaction, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return nil, err
	}
	if clientID != "" {
		return loadTransactions(ctx, l, clientID)
	}
	var out []Transaction
	err = l.StreamAll(ctx, CollTransactions, func(r generic.Record) error {
		out = append(out, transactionFromRecord(r))
		return nil
	})
	return out, err
}

// =============================================================================
// BALANCE PROJECTION
// =============================================================================

// ClientBalance returns the stored projection. A client without any
// activity has an all-zero balance.
func (s *Service) ClientBalance(ctx context.Context, sess generic.Session, clientID string) (ClientBalance, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return ClientBalance{}, err
	}
	if _, err := getClient(ctx, l, clientID); err != nil {
		return ClientBalance{}, err
	}
	return projectedBalance(ctx, l, clientID)
}

func projectedBalance(ctx context.Context, l *generic.Ledger, clientID string) (ClientBalance, error) {
	rec, err := l.Get(ctx, CollBalances, clientID)
	if generic.IsNotFound(err) {
		return ClientBalance{ClientID: clientID}, nil
	}
	if err != nil {
		return ClientBalance{}, err
	}
	return balanceFromRecord(rec), nil
}

func scannedBalance(ctx context.Context, l *generic.Ledger, clientID string) (ClientBalance, error) {
	sales, err := loadSales(ctx, l, clientID)
	if err != nil {
		return ClientBalance{}, err
	}
	txs, err := loadTransactions(ctx, l, clientID)
	if err != nil {
		return ClientBalance{}, err
	}
	return ComputeBalance(clientID, sales, txs), nil
}

// AuditBalance compares the projection with a full scan of the log.
func (s *Service) AuditBalance(ctx context.Context, sess generic.Session, clientID string) (BalanceAudit, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return BalanceAudit{}, err
	}
	if _, err := getClient(ctx, l, clientID); err != nil {
		return BalanceAudit{}, err
	}
	projected, err := projectedBalance(ctx, l, clientID)
	if err != nil {
		return BalanceAudit{}, err
	}
	computed, err := scannedBalance(ctx, l, clientID)
	if err != nil {
		return BalanceAudit{}, err
	}
	audit := auditBalance(projected, computed)
	if audit.Drift {
		s.logger.Warn("balance projection drift",
			zap.String("client_id", clientID), zap.Strings("fields", audit.Fields))
	}
	return audit, nil
}

// RebuildBalance rewrites the projection from a full scan of the log.
func (s *Service) RebuildBalance(ctx context.Context, sess generic.Session, clientID string) (ClientBalance, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return ClientBalance{}, err
	}
	var b ClientBalance
	err = l.WithTx(ctx, func(l *generic.Ledger) error {
		if _, err := getClient(ctx, l, clientID); err != nil {
			return err
		}
		var err error
		b, err = scannedBalance(ctx, l, clientID)
		if err != nil {
			return err
		}
		b.UpdatedAt = s.now()
		fields := b.record()
		_, err = l.Get(ctx, CollBalances, clientID)
		switch {
		case generic.IsNotFound(err):
			_, err = l.Add(ctx, CollBalances, fields)
			return err
		case err != nil:
			return err
		}
		delete(fields, generic.FieldID)
		return l.Update(ctx, CollBalances, generic.FieldID, clientID, fields)
	})
	if err != nil {
		return ClientBalance{}, err
	}
	s.logger.Info("balance rebuilt", zap.String("client_id", clientID))
	return b, nil
}
