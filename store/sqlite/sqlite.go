/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.Store, generic.Decrementer and generic.TxStore on a
  single documents table. Each row is one record of one user's collection,
  with its fields kept as a JSON object.

INTERFACES IMPLEMENTED:
  generic.Store:       add, update, query, stream-all
  generic.Decrementer: conditional decrement in one UPDATE statement
  generic.TxStore:     database transactions for the sale commit

KEY TABLE:
  records(seq, user_id, collection, id, fields_json, created_at, updated_at)
  - seq gives insertion order for StreamAll and Query
  - (user_id, collection, id) is unique: duplicate adds are rejected

INDEXES:
  - idx_records_scope: (user_id, collection, seq), every read
  - idx_records_client: client_id lookups, the credit/advance scans

CONDITIONAL DECREMENT:
  The inventory decrement is a single UPDATE guarded by
  "current >= n", so two sessions selling the last unit cannot both
  succeed. Malformed stored quantities CAST to 0, matching the lenient
  reads in generic.Int.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, as SQLite has a single writer.
  ":memory:" databases are pinned to one connection so every query sees
  the same database.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := generic.NewLedger(store, sess)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - store/postgres: Same contract on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/sales-ledger/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (user_id, collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_scope
		ON records(user_id, collection, seq);

	-- Credit and advance scans filter every sale/transaction by client
	CREATE INDEX IF NOT EXISTS idx_records_client
		ON records(user_id, collection, json_extract(fields_json, '$.client_id'));
	`
	_, err := s.db.Exec(schema)
	return err
}

// conn is satisfied by both *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STORE (generic.Store interface)
// =============================================================================

// Add inserts a record. A missing id is generated.
func (s *Store) Add(ctx context.Context, user generic.UserID, coll generic.Collection, rec generic.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return add(ctx, s.db, user, coll, rec)
}

// Update merges fields into the matching records.
func (s *Store) Update(ctx context.Context, user generic.UserID, coll generic.Collection, keyField string, keyValue any, fields generic.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return update(ctx, s.db, user, coll, keyField, keyValue, fields)
}

// Query returns records whose field compares to value.
func (s *Store) Query(ctx context.Context, user generic.UserID, coll generic.Collection, field string, op generic.Op, value any) ([]generic.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return query(ctx, s.db, user, coll, field, op, value)
}

// StreamAll calls fn for every record of the collection. Rows are read
// fully before fn runs so fn may call back into the store.
func (s *Store) StreamAll(ctx context.Context, user generic.UserID, coll generic.Collection, fn func(generic.Record) error) error {
	s.mu.RLock()
	recs, err := all(ctx, s.db, user, coll)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	for _, r := range recs {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Decrement atomically subtracts n from field, refusing negative results.
func (s *Store) Decrement(ctx context.Context, user generic.UserID, coll generic.Collection, keyField string, keyValue any, field string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decrement(ctx, s.db, user, coll, keyField, keyValue, field, n)
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore reads and writes through the open transaction. The parent lock
// is held by WithTx, so none of these methods lock.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Add(ctx context.Context, user generic.UserID, coll generic.Collection, rec generic.Record) (string, error) {
	return add(ctx, ts.tx, user, coll, rec)
}

func (ts *txStore) Update(ctx context.Context, user generic.UserID, coll generic.Collection, keyField string, keyValue any, fields generic.Record) error {
	return update(ctx, ts.tx, user, coll, keyField, keyValue, fields)
}

func (ts *txStore) Query(ctx context.Context, user generic.UserID, coll generic.Collection, field string, op generic.Op, value any) ([]generic.Record, error) {
	return query(ctx, ts.tx, user, coll, field, op, value)
}

func (ts *txStore) StreamAll(ctx context.Context, user generic.UserID, coll generic.Collection, fn func(generic.Record) error) error {
	recs, err := all(ctx, ts.tx, user, coll)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) Decrement(ctx context.Context, user generic.UserID, coll generic.Collection, keyField string, keyValue any, field string, n int64) (int64, error) {
	return decrement(ctx, ts.tx, user, coll, keyField, keyValue, field, n)
}

// =============================================================================
// STATEMENTS - Shared by Store and txStore
// =============================================================================

func add(ctx context.Context, c conn, user generic.UserID, coll generic.Collection, rec generic.Record) (string, error) {
	fields := normalize(rec)
	id := fields.ID()
	if id == "" {
		id = uuid.NewString()
		fields[generic.FieldID] = id
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = c.ExecContext(ctx, `
		INSERT INTO records (user_id, collection, id, fields_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(user), string(coll), id, string(body), now, now)
	if err != nil {
		if isUniqueConstraintError(err) {
			return "", fmt.Errorf("%s/%s: %w", coll, id, generic.ErrDuplicateKey)
		}
		return "", fmt.Errorf("failed to add record: %w", err)
	}
	return id, nil
}

func update(ctx context.Context, c conn, user generic.UserID, coll generic.Collection, keyField string, keyValue any, fields generic.Record) error {
	if !generic.ValidField(keyField) {
		return fmt.Errorf("%w: field %q", generic.ErrInvalidQuery, keyField)
	}
	patch, err := json.Marshal(normalize(fields))
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	res, err := c.ExecContext(ctx, `
		UPDATE records
		SET fields_json = json_patch(fields_json, ?), updated_at = ?
		WHERE user_id = ? AND collection = ? AND json_extract(fields_json, ?) = ?
	`, string(patch), time.Now().UTC().Format(time.RFC3339),
		string(user), string(coll), path(keyField), generic.Scalar(keyValue))
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s=%v: %w", coll, keyField, keyValue, generic.ErrNotFound)
	}
	return nil
}

func query(ctx context.Context, c conn, user generic.UserID, coll generic.Collection, field string, op generic.Op, value any) ([]generic.Record, error) {
	if err := generic.ValidateQuery(field, op); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT fields_json FROM records
		WHERE user_id = ? AND collection = ? AND json_extract(fields_json, ?) %s ?
		ORDER BY seq ASC
	`, sqlOp(op))
	return scanRecords(c.QueryContext(ctx, q, string(user), string(coll), path(field), generic.Scalar(value)))
}

func all(ctx context.Context, c conn, user generic.UserID, coll generic.Collection) ([]generic.Record, error) {
	return scanRecords(c.QueryContext(ctx, `
		SELECT fields_json FROM records
		WHERE user_id = ? AND collection = ?
		ORDER BY seq ASC
	`, string(user), string(coll)))
}

func decrement(ctx context.Context, c conn, user generic.UserID, coll generic.Collection, keyField string, keyValue any, field string, n int64) (int64, error) {
	if !generic.ValidField(keyField) || !generic.ValidField(field) {
		return 0, fmt.Errorf("%w: field %q/%q", generic.ErrInvalidQuery, keyField, field)
	}
	key := generic.Scalar(keyValue)
	current := `CAST(COALESCE(json_extract(fields_json, ?), 0) AS INTEGER)`

	res, err := c.ExecContext(ctx, `
		UPDATE records
		SET fields_json = json_set(fields_json, ?, `+current+` - ?), updated_at = ?
		WHERE user_id = ? AND collection = ? AND json_extract(fields_json, ?) = ?
		  AND `+current+` >= ?
	`, path(field), path(field), n, time.Now().UTC().Format(time.RFC3339),
		string(user), string(coll), path(keyField), key,
		path(field), n)
	if err != nil {
		return 0, fmt.Errorf("failed to decrement %s: %w", field, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	var value int64
	err = c.QueryRowContext(ctx, `
		SELECT `+current+` FROM records
		WHERE user_id = ? AND collection = ? AND json_extract(fields_json, ?) = ?
		LIMIT 1
	`, path(field), string(user), string(coll), path(keyField), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s %s=%v: %w", coll, keyField, keyValue, generic.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", field, err)
	}
	if affected == 0 {
		return value, &generic.ConditionError{
			Collection: coll, Key: generic.String(keyValue), Field: field,
			Current: value, Requested: n,
		}
	}
	return value, nil
}

// Helper functions

func scanRecords(rows *sql.Rows, err error) ([]generic.Record, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []generic.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec := generic.Record{}
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func normalize(rec generic.Record) generic.Record {
	out := make(generic.Record, len(rec))
	for k, v := range rec {
		out[k] = generic.Scalar(v)
	}
	return out
}

func path(field string) string {
	return "$." + field
}

func sqlOp(op generic.Op) string {
	switch op {
	case generic.OpEq:
		return "="
	case generic.OpNe:
		return "!="
	case generic.OpLt:
		return "<"
	case generic.OpLte:
		return "<="
	case generic.OpGt:
		return ">"
	case generic.OpGte:
		return ">="
	}
	// ValidateQuery rejects anything else before we get here.
	return "="
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
