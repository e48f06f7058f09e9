/*
service.go - Ledger operations

PURPOSE:
  The Service is what the API talks to. Every operation takes an explicit
  generic.Session and works on a Ledger bound to it; there is no ambient
  current user.

SALE FLOW:
  Quote       read-only: credit and advance are loaded concurrently and
              may come from the status cache; the reconciler's verdict is
              returned as data, not as an error
  SubmitSale  inside one store transaction: idempotency check by sale id,
              fresh reads of product, client, sales and transactions,
              Reconcile, Commit. The cache is never read here and is
              invalidated afterwards.

OPTIONAL COLLABORATORS:
  StatusCache  speeds up quotes (cache package, Redis)
  Observer     counts outcomes (observability package, Prometheus)

SEE ALSO:
  - catalog.go: Clients and products
  - payments.go: Collections, advances, listings and balance audit
*/
package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/sales-ledger/generic"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// StatusCache stores ClientStatus values for quotes. Implementations must
// be safe for concurrent use. A miss is (zero, false, nil).
type StatusCache interface {
	Get(ctx context.Context, user generic.UserID, clientID string) (ClientStatus, bool, error)
	Set(ctx context.Context, user generic.UserID, status ClientStatus) error
	Invalidate(ctx context.Context, user generic.UserID, clientID string) error
}

// Observer receives sale outcomes. Labels are plain strings so metric
// backends need not import this package.
type Observer interface {
	SaleCommitted(saleType string, total float64)
	SaleRejected(reason string)
	CommitFailed(step string)
}

type nopObserver struct{}

func (nopObserver) SaleCommitted(string, float64) {}
func (nopObserver) SaleRejected(string)           {}
func (nopObserver) CommitFailed(string)           {}

// =============================================================================
// SERVICE
// =============================================================================

// Service implements the ledger operations over a Store.
type Service struct {
	store     generic.Store
	logger    *zap.Logger
	committer *Committer
	cache     StatusCache
	observer  Observer
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the quote status cache.
func WithCache(c StatusCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithObserver reports sale outcomes to o.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a service over store. A nil logger discards logs.
func NewService(store generic.Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		logger:   logger,
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.committer = NewCommitter(s.now)
	return s
}

func (s *Service) ledger(sess generic.Session) (*generic.Ledger, error) {
	if sess.UserID == "" {
		return nil, generic.ErrNoSession
	}
	return generic.NewLedger(s.store, sess), nil
}

// =============================================================================
// CLIENT STATUS
// =============================================================================

// ClientStatus is the credit and advance position shown before a sale.
type ClientStatus struct {
	ClientID         string          `json:"client_id"`
	CreditLimit      decimal.Decimal `json:"credit_limit"`
	CreditUsed       decimal.Decimal `json:"credit_used"`
	CreditAvailable  decimal.Decimal `json:"credit_available"`
	AdvanceAvailable decimal.Decimal `json:"advance_available"`
	// AdvanceBalance is the raw balance, possibly negative on bad data.
	AdvanceBalance decimal.Decimal `json:"advance_balance"`
}

func newClientStatus(client Client, credit CreditStatus, advance AdvanceStatus) ClientStatus {
	return ClientStatus{
		ClientID:         client.ID,
		CreditLimit:      client.CreditLimit,
		CreditUsed:       credit.Used,
		CreditAvailable:  credit.Available,
		AdvanceAvailable: advance.Displayable(),
		AdvanceBalance:   advance.Balance,
	}
}

// ClientStatus computes the client's position by scanning its history.
func (s *Service) ClientStatus(ctx context.Context, sess generic.Session, clientID string) (ClientStatus, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return ClientStatus{}, err
	}
	client, err := getClient(ctx, l, clientID)
	if err != nil {
		return ClientStatus{}, err
	}
	return s.loadStatus(ctx, l, client)
}

// loadStatus runs the credit and advance scans concurrently.
func (s *Service) loadStatus(ctx context.Context, l *generic.Ledger, client Client) (ClientStatus, error) {
	var (
		credit  CreditStatus
		advance AdvanceStatus
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		credit, err = LoadCredit(gctx, l, client)
		return err
	})
	g.Go(func() error {
		var err error
		advance, err = LoadAdvance(gctx, l, client.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return ClientStatus{}, fmt.Errorf("load status of %s: %w", client.ID, err)
	}
	return newClientStatus(client, credit, advance), nil
}

// cachedStatus consults the cache before scanning. Cache failures are
// logged and fall through to the scan.
func (s *Service) cachedStatus(ctx context.Context, l *generic.Ledger, client Client) (ClientStatus, error) {
	if s.cache != nil {
		st, ok, err := s.cache.Get(ctx, l.User(), client.ID)
		if err != nil {
			s.logger.Warn("status cache read failed", zap.String("client_id", client.ID), zap.Error(err))
		} else if ok {
			return st, nil
		}
	}
	st, err := s.loadStatus(ctx, l, client)
	if err != nil {
		return ClientStatus{}, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, l.User(), st); err != nil {
			s.logger.Warn("status cache write failed", zap.String("client_id", client.ID), zap.Error(err))
		}
	}
	return st, nil
}

func (s *Service) invalidate(ctx context.Context, user generic.UserID, clientID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, user, clientID); err != nil {
		s.logger.Warn("status cache invalidation failed", zap.String("client_id", clientID), zap.Error(err))
	}
}

// =============================================================================
// QUOTE
// =============================================================================

// Quote is the preview of a proposal.
type Quote struct {
	Total        decimal.Decimal
	UnitPrice    decimal.Decimal
	CreditAmount decimal.Decimal
	Inventory    int64
	Status       ClientStatus

	// Sale is set when the proposal would be accepted right now.
	Sale *Sale
	// Rejection is the validation error otherwise.
	Rejection error
}

// Accepted reports whether the proposal passed reconciliation.
func (q Quote) Accepted() bool {
	return q.Rejection == nil
}

// Quote validates p against current figures without writing anything.
// Validation failures are returned in Quote.Rejection; the error result
// is reserved for lookups and store failures.
func (s *Service) Quote(ctx context.Context, sess generic.Session, p Proposal) (Quote, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return Quote{}, err
	}
	client, err := getClient(ctx, l, p.ClientID)
	if err != nil {
		return Quote{}, err
	}
	product, err := getProduct(ctx, l, p.ProductKey)
	if err != nil {
		return Quote{}, err
	}
	if !p.UnitPrice.Valid {
		p.UnitPrice = decimal.NewNullDecimal(product.UnitPrice)
	}
	status, err := s.cachedStatus(ctx, l, client)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{
		UnitPrice: p.UnitPrice.Decimal,
		Total:     p.UnitPrice.Decimal.Mul(decimal.NewFromInt(p.Quantity)),
		Inventory: product.Quantity,
		Status:    status,
	}
	q.CreditAmount = q.Total.Sub(p.CashAmount).Sub(p.AdvanceApplied)
	if p.CreditAmount.Valid {
		q.CreditAmount = p.CreditAmount.Decimal
	}

	cs, err := Reconcile(ReconcileInput{
		Proposal:         p,
		Inventory:        product.Quantity,
		CreditAvailable:  status.CreditAvailable,
		AdvanceAvailable: status.AdvanceBalance,
	})
	if err != nil {
		if !IsValidationError(err) {
			return Quote{}, err
		}
		q.Rejection = err
		return q, nil
	}
	sale := cs.Sale
	sale.ClientName = client.Name
	sale.ProductName = product.Name
	q.Sale = &sale
	q.CreditAmount = sale.CreditAmount
	return q, nil
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitSale validates p against freshly read figures and commits it.
// Submitting a sale id that is already stored returns the stored sale
// (finishing any steps an interrupted commit left behind) instead of
// creating a second one.
func (s *Service) SubmitSale(ctx context.Context, sess generic.Session, p Proposal) (CommitResult, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return CommitResult{}, err
	}
	if p.SaleID == "" {
		p.SaleID = uuid.NewString()
	}
	if p.Date.IsZero() {
		p.Date = s.now()
	}
	log := s.logger.With(zap.String("user_id", string(l.User())), zap.String("sale_id", p.SaleID))

	var res CommitResult
	err = l.WithTx(ctx, func(tx *generic.Ledger) error {
		rec, err := tx.Get(ctx, CollSales, p.SaleID)
		if err == nil {
			res, err = s.committer.Commit(ctx, tx, ClassifiedSale{Sale: saleFromRecord(rec)})
			return err
		}
		if !generic.IsNotFound(err) {
			return err
		}

		cs, err := s.reconcileFresh(ctx, tx, p)
		if err != nil {
			return err
		}
		res, err = s.committer.Commit(ctx, tx, cs)
		return err
	})

	var ce *CommitError
	switch {
	case err == nil:
	case errors.As(err, &ce):
		if l.Transactional() {
			ce.RolledBack = true
			ce.Applied = nil
		}
		s.observer.CommitFailed(string(ce.Step))
		log.Error("sale commit failed", zap.String("step", string(ce.Step)),
			zap.Bool("rolled_back", ce.RolledBack), zap.Error(err))
		if !ce.RolledBack {
			s.invalidate(ctx, l.User(), p.ClientID)
		}
		return CommitResult{}, err
	case IsValidationError(err):
		s.observer.SaleRejected(Reason(err))
		log.Info("sale rejected", zap.String("reason", Reason(err)), zap.Error(err))
		return CommitResult{}, err
	default:
		return CommitResult{}, err
	}

	s.invalidate(ctx, l.User(), res.Sale.ClientID)
	if res.Resumed {
		log.Info("sale already committed", zap.Any("applied", res.Applied))
		return res, nil
	}
	s.observer.SaleCommitted(string(res.Sale.Type), res.Sale.Total.InexactFloat64())
	log.Info("sale committed",
		zap.String("sale_type", string(res.Sale.Type)),
		zap.String("total", res.Sale.Total.StringFixed(2)),
		zap.Int64("inventory_after", res.InventoryAfter))
	return res, nil
}

// reconcileFresh re-reads everything the reconciler depends on.
func (s *Service) reconcileFresh(ctx context.Context, l *generic.Ledger, p Proposal) (ClassifiedSale, error) {
	client, err := getClient(ctx, l, p.ClientID)
	if err != nil {
		return ClassifiedSale{}, err
	}
	product, err := getProduct(ctx, l, p.ProductKey)
	if err != nil {
		return ClassifiedSale{}, err
	}
	if !p.UnitPrice.Valid {
		p.UnitPrice = decimal.NewNullDecimal(product.UnitPrice)
	}

	// Sequential on purpose: the SQLite transaction holds a single connection.
	sales, err := loadSales(ctx, l, client.ID)
	if err != nil {
		return ClassifiedSale{}, err
	}
	txs, err := loadTransactions(ctx, l, client.ID)
	if err != nil {
		return ClassifiedSale{}, err
	}
	credit := ComputeCredit(client, sales, txs)
	advance := ComputeAdvance(client.ID, txs)

	cs, err := Reconcile(ReconcileInput{
		Proposal:         p,
		Inventory:        product.Quantity,
		CreditAvailable:  credit.Available,
		AdvanceAvailable: advance.Balance,
	})
	if err != nil {
		return ClassifiedSale{}, err
	}
	cs.Sale.ClientName = client.Name
	cs.Sale.ProductName = product.Name
	return cs, nil
}
