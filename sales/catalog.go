package sales

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/sales-ledger/generic"
)

// =============================================================================
// LOOKUPS
// =============================================================================

func getClient(ctx context.Context, l *generic.Ledger, id string) (Client, error) {
	if id == "" {
		return Client{}, &InvalidProposalError{Field: "client_id", Reason: "is required"}
	}
	rec, err := l.Get(ctx, CollClients, id)
	if err != nil {
		return Client{}, err
	}
	return clientFromRecord(rec), nil
}

func getProduct(ctx context.Context, l *generic.Ledger, key string) (Product, error) {
	if key == "" {
		return Product{}, &InvalidProposalError{Field: "product_key", Reason: "is required"}
	}
	rec, err := l.First(ctx, CollProducts, fKey, key)
	if err != nil {
		return Product{}, err
	}
	return productFromRecord(rec), nil
}

// =============================================================================
// CLIENTS
// =============================================================================

// CreateClient stores c. An empty id is assigned; an existing id fails
// with generic.ErrDuplicateKey.
func (s *Service) CreateClient(ctx context.Context, sess generic.Session, c Client) (Client, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return Client{}, err
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return Client{}, &InvalidProposalError{Field: "name", Reason: "is required"}
	}
	if c.CreditLimit.IsNegative() {
		return Client{}, &InvalidProposalError{Field: "credit_limit", Reason: "must not be negative"}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = s.now()
	if _, err := l.Add(ctx, CollClients, c.record()); err != nil {
		return Client{}, err
	}
	s.logger.Info("client created", zap.String("client_id", c.ID))
	return c, nil
}

// ClientUpdate holds the fields to change; nil fields are left alone.
type ClientUpdate struct {
	Name        *string
	Email       *string
	Phone       *string
	Address     *string
	TaxID       *string
	CreditLimit *decimal.Decimal
}

// UpdateClient applies u to the client.
func (s *Service) UpdateClient(ctx context.Context, sess generic.Session, id string, u ClientUpdate) (Client, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return Client{}, err
	}
	fields := generic.Record{}
	set := func(name string, v *string) {
		if v != nil {
			fields[name] = strings.TrimSpace(*v)
		}
	}
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return Client{}, &InvalidProposalError{Field: "name", Reason: "must not be empty"}
	}
	set(fName, u.Name)
	set(fEmail, u.Email)
	set(fPhone, u.Phone)
	set(fAddress, u.Address)
	set(fTaxID, u.TaxID)
	if u.CreditLimit != nil {
		if u.CreditLimit.IsNegative() {
			return Client{}, &InvalidProposalError{Field: "credit_limit", Reason: "must not be negative"}
		}
		fields[fCreditLimit] = *u.CreditLimit
	}
	if len(fields) > 0 {
		if err := l.Update(ctx, CollClients, generic.FieldID, id, fields); err != nil {
			return Client{}, err
		}
		s.invalidate(ctx, l.User(), id)
	}
	return getClient(ctx, l, id)
}

// GetClient returns the client with the given id.
func (s *Service) GetClient(ctx context.Context, sess generic.Session, id string) (Client, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return Client{}, err
	}
	return getClient(ctx, l, id)
}

// ListClients returns every client in insertion order.
func (s *Service) ListClients(ctx context.Context, sess generic.Session) ([]Client, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return nil, err
	}
	var out []Client
	err = l.StreamAll(ctx, CollClients, func(r generic.Record) error {
		out = append(out, clientFromRecord(r))
		return nil
	})
	return out, err
}

// =============================================================================
// PRODUCTS
// =============================================================================

// CreateProduct stores p. An empty key is assigned.
func (s *Service) CreateProduct(ctx context.Context, sess generic.Session, p Product) (Product, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return Product{}, err
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return Product{}, &InvalidProposalError{Field: "name", Reason: "is required"}
	}
	if err := checkProductAmounts(p.UnitPrice, p.UnitCost, p.Quantity); err != nil {
		return Product{}, err
	}
	if p.Key == "" {
		p.Key = uuid.NewString()
	}
	p.CreatedAt = s.now()
	if _, err := l.Add(ctx, CollProducts, p.record()); err != nil {
		return Product{}, err
	}
	s.logger.Info("product created", zap.String("product_key", p.Key), zap.Int64("quantity", p.Quantity))
	return p, nil
}

func checkProductAmounts(price, cost decimal.Decimal, quantity int64) error {
	switch {
	case price.IsNegative():
		return &InvalidProposalError{Field: "unit_price", Reason: "must not be negative"}
	case cost.IsNegative():
		return &InvalidProposalError{Field: "unit_cost", Reason: "must not be negative"}
	case quantity < 0:
		return &InvalidProposalError{Field: "quantity", Reason: "must not be negative"}
	}
	return nil
}

// ProductUpdate holds the fields to change; nil fields are left alone.
// Quantity replaces the count on hand (restock or stocktake).
type ProductUpdate struct {
	Name      *string
	Category  *string
	Variant   *string
	UnitPrice *decimal.Decimal
	UnitCost  *decimal.Decimal
	Quantity  *int64
}

// UpdateProduct applies u to the product. The key cannot change.
func (s *Service) UpdateProduct(ctx context.Context, sess generic.Session, key string, u ProductUpdate) (Product, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return Product{}, err
	}
	current, err := getProduct(ctx, l, key)
	if err != nil {
		return Product{}, err
	}

	fields := generic.Record{}
	if u.Name != nil {
		if strings.TrimSpace(*u.Name) == "" {
			return Product{}, &InvalidProposalError{Field: "name", Reason: "must not be empty"}
		}
		fields[fName] = strings.TrimSpace(*u.Name)
	}
	if u.Category != nil {
		fields[fCategory] = *u.Category
	}
	if u.Variant != nil {
		fields[fVariant] = *u.Variant
	}
	price, cost, qty := current.UnitPrice, current.UnitCost, current.Quantity
	if u.UnitPrice != nil {
		price = *u.UnitPrice
		fields[fUnitPrice] = price
	}
	if u.UnitCost != nil {
		cost = *u.UnitCost
		fields[fUnitCost] = cost
	}
	if u.Quantity != nil {
		qty = *u.Quantity
		fields[fQuantity] = qty
	}
	if err := checkProductAmounts(price, cost, qty); err != nil {
		return Product{}, err
	}
	if len(fields) > 0 {
		if err := l.Update(ctx, CollProducts, fKey, key, fields); err != nil {
			return Product{}, err
		}
	}
	return getProduct(ctx, l, key)
}

// GetProduct returns the product with the given key.
func (s *Service) GetProduct(ctx context.Context, sess generic.Session, key string) (Product, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return Product{}, err
	}
	return getProduct(ctx, l, key)
}

// ListProducts returns every product in insertion order.
func (s *Service) ListProducts(ctx context.Context, sess generic.Session) ([]Product, error) {
	l, err := s.ledger(sess)
	if err != nil {
		return nil, err
	}
	var out []Product
	err = l.StreamAll(ctx, CollProducts, func(r generic.Record) error {
		out = append(out, productFromRecord(r))
		return nil
	})
	return out, err
}

// IsNotFound reports whether err means a referenced record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, generic.ErrNotFound)
}
