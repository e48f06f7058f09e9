/*
store.go - Persistence interface for per-user document collections

PURPOSE:
  Defines the boundary between the ledger logic and the database. The
  core only needs four operations; stores that can do more advertise it
  through the optional interfaces below.

KEY INTERFACES:
  Store:       add, update-by-key, query-by-field, stream-all
  Decrementer: atomic conditional decrement (inventory)
  TxStore:     multi-record transactions (atomic sale commit)

NAMESPACING:
  Every method takes the owning UserID. Implementations must never return
  or modify records belonging to another user.

KEYS AND IDEMPOTENCY:
  Add honours a caller-supplied "id" field. Adding a record whose id
  already exists in the collection fails with ErrDuplicateKey, which is
  what makes a retried sale commit safe.

IMPLEMENTATIONS:
  - generic/store/memory.go:   in-memory, for tests and demos
  - store/sqlite/sqlite.go:    SQLite documents (default)
  - store/postgres/postgres.go: PostgreSQL jsonb documents

SEE ALSO:
  - ledger.go: Session-bound wrapper used by the domain packages
*/
package generic

import "context"

// =============================================================================
// STORE - Per-user keyed collections
// =============================================================================

// Store persists records in per-user collections.
type Store interface {
	// Add inserts rec and returns its id. A missing id is generated.
	// Returns ErrDuplicateKey if the id already exists in the collection.
	Add(ctx context.Context, user UserID, coll Collection, rec Record) (string, error)

	// Update merges fields into every record whose keyField equals
	// keyValue. Returns ErrNotFound if nothing matched.
	Update(ctx context.Context, user UserID, coll Collection, keyField string, keyValue any, fields Record) error

	// Query returns records whose field compares to value under op,
	// in insertion order.
	Query(ctx context.Context, user UserID, coll Collection, field string, op Op, value any) ([]Record, error)

	// StreamAll calls fn for every record in insertion order. Iteration
	// stops at the first error returned by fn.
	StreamAll(ctx context.Context, user UserID, coll Collection, fn func(Record) error) error
}

// Decrementer is implemented by stores that can decrement a numeric field
// atomically, only when the result stays non-negative.
type Decrementer interface {
	// Decrement subtracts n from field on the record matching keyField ==
	// keyValue and returns the remaining value. Returns ErrNotFound if no
	// record matches and ErrConditionFailed (with the current value) if
	// the result would be negative; nothing is written in either case.
	Decrement(ctx context.Context, user UserID, coll Collection, keyField string, keyValue any, field string, n int64) (int64, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is
	// rolled back. If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
