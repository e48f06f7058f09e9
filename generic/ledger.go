/*
ledger.go - Session-bound view over a Store

PURPOSE:
  Domain code never passes user ids around. A Ledger binds a Store to one
  authenticated Session, so every read and write is implicitly scoped to
  that user's namespace. There is no global "current user".

CAPABILITIES:
  The Ledger exposes the optional store capabilities with fallbacks:
  - Decrement: atomic when the store implements Decrementer, otherwise a
    read-check-write that is only safe for a single writer
  - WithTx: a real transaction when the store implements TxStore,
    otherwise fn runs directly against the store (Transactional reports
    which)

EXAMPLE:
  l := generic.NewLedger(store, sess)
  err := l.WithTx(ctx, func(tx *generic.Ledger) error {
      _, err := tx.Add(ctx, "sales", rec)
      return err
  })

SEE ALSO:
  - store.go: Store interfaces
  - session.go: Session and context helpers
*/
package generic

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// LEDGER - Store scoped to a single user
// =============================================================================

// Ledger is a Store bound to one user's namespace.
type Ledger struct {
	store Store
	user  UserID
}

// NewLedger binds store to the session's user.
func NewLedger(store Store, sess Session) *Ledger {
	return &Ledger{store: store, user: sess.UserID}
}

// User returns the owner of this ledger.
func (l *Ledger) User() UserID {
	return l.user
}

// Transactional reports whether WithTx gives all-or-nothing semantics.
func (l *Ledger) Transactional() bool {
	_, ok := l.store.(TxStore)
	return ok
}

func (l *Ledger) check() error {
	if l.user == "" {
		return ErrNoSession
	}
	return nil
}

// Add inserts rec into coll and returns its id.
func (l *Ledger) Add(ctx context.Context, coll Collection, rec Record) (string, error) {
	if err := l.check(); err != nil {
		return "", err
	}
	return l.store.Add(ctx, l.user, coll, rec)
}

// Update merges fields into the records matching keyField == keyValue.
func (l *Ledger) Update(ctx context.Context, coll Collection, keyField string, keyValue any, fields Record) error {
	if err := l.check(); err != nil {
		return err
	}
	return l.store.Update(ctx, l.user, coll, keyField, keyValue, fields)
}

// Query returns the records of coll whose field compares to value under op.
func (l *Ledger) Query(ctx context.Context, coll Collection, field string, op Op, value any) ([]Record, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	return l.store.Query(ctx, l.user, coll, field, op, value)
}

// StreamAll calls fn for each record of coll.
func (l *Ledger) StreamAll(ctx context.Context, coll Collection, fn func(Record) error) error {
	if err := l.check(); err != nil {
		return err
	}
	return l.store.StreamAll(ctx, l.user, coll, fn)
}

// Get returns the record of coll with the given id.
func (l *Ledger) Get(ctx context.Context, coll Collection, id string) (Record, error) {
	return l.First(ctx, coll, FieldID, id)
}

// First returns the first record whose field equals value.
func (l *Ledger) First(ctx context.Context, coll Collection, field string, value any) (Record, error) {
	recs, err := l.Query(ctx, coll, field, OpEq, value)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s %s=%v: %w", coll, field, value, ErrNotFound)
	}
	return recs[0], nil
}

// Decrement subtracts n from field on the record matching keyField ==
// keyValue, refusing to go below zero. See Decrementer.
func (l *Ledger) Decrement(ctx context.Context, coll Collection, keyField string, keyValue any, field string, n int64) (int64, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	if d, ok := l.store.(Decrementer); ok {
		return d.Decrement(ctx, l.user, coll, keyField, keyValue, field, n)
	}

	// Single-writer fallback.
	rec, err := l.First(ctx, coll, keyField, keyValue)
	if err != nil {
		return 0, err
	}
	current := Int(rec[field])
	if current-n < 0 {
		return current, &ConditionError{Collection: coll, Key: String(keyValue), Field: field, Current: current, Requested: n}
	}
	if err := l.Update(ctx, coll, keyField, keyValue, Record{field: current - n}); err != nil {
		return current, err
	}
	return current - n, nil
}

// WithTx runs fn inside a store transaction when the store supports one.
// Otherwise fn runs directly and its writes are not rolled back on error.
func (l *Ledger) WithTx(ctx context.Context, fn func(*Ledger) error) error {
	if err := l.check(); err != nil {
		return err
	}
	ts, ok := l.store.(TxStore)
	if !ok {
		return fn(l)
	}
	return ts.WithTx(ctx, func(s Store) error {
		return fn(&Ledger{store: s, user: l.user})
	})
}

// IsDuplicate reports whether err signals an already-present record.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}
