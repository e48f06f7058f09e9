/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces using pgx.

PURPOSE:
  Same contract as store/sqlite, for deployments that already run
  PostgreSQL. Records live in one jsonb column; comparisons use jsonb
  operators so numbers compare as numbers and strings as strings.

KEY TABLE:
  ledger_records(seq, user_id, collection, id, fields, created_at, updated_at)
  PRIMARY KEY (user_id, collection, id)

TRANSACTIONS:
  WithTx runs at REPEATABLE READ; the conditional decrement is a single
  UPDATE guarded by "current >= n" so it stays safe under concurrency.

SEE ALSO:
  - generic/store.go: Interface definitions
  - store/sqlite: Default single-node store
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/sales-ledger/generic"
)

// Store implements generic.Store, generic.Decrementer and generic.TxStore.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, verifies the connection and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store/postgres: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store/postgres: migrate: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_records (
			seq BIGSERIAL NOT NULL,
			user_id TEXT NOT NULL,
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			fields JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_records_scope
			ON ledger_records (user_id, collection, seq);
		CREATE INDEX IF NOT EXISTS idx_ledger_records_client
			ON ledger_records (user_id, collection, (fields->>'client_id'));
	`)
	return err
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) Add(ctx context.Context, user generic.UserID, coll generic.Collection, rec generic.Record) (string, error) {
	return add(ctx, s.pool, user, coll, rec)
}

func (s *Store) Update(ctx context.Context, user generic.UserID, coll generic.Collection, keyField string, keyValue any, fields generic.Record) error {
	return update(ctx, s.pool, user, coll, keyField, keyValue, fields)
}

func (s *Store) Query(ctx context.Context, user generic.UserID, coll generic.Collection, field string, op generic.Op, value any) ([]generic.Record, error) {
	return query(ctx, s.pool, user, coll, field, op, value)
}

func (s *Store) StreamAll(ctx context.Context, user generic.UserID, coll generic.Collection, fn func(generic.Record) error) error {
	return streamAll(ctx, s.pool, user, coll, fn)
}

func (s *Store) Decrement(ctx context.Context, user generic.UserID, coll generic.Collection, keyField string, keyValue any, field string, n int64) (int64, error) {
	return decrement(ctx, s.pool, user, coll, keyField, keyValue, field, n)
}

// WithTx executes fn within a REPEATABLE READ transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("store/postgres: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store/postgres: commit tx: %w", err)
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (t *txStore) Add(ctx context.Context, user generic.UserID, coll generic.Collection, rec generic.Record) (string, error) {
	return add(ctx, t.tx, user, coll, rec)
}

func (t *txStore) Update(ctx context.Context, user generic.UserID, coll generic.Collection, keyField string, keyValue any, fields generic.Record) error {
	return update(ctx, t.tx, user, coll, keyField, keyValue, fields)
}

func (t *txStore) Query(ctx context.Context, user generic.UserID, coll generic.Collection, field string, op generic.Op, value any) ([]generic.Record, error) {
	return query(ctx, t.tx, user, coll, field, op, value)
}

func (t *txStore) StreamAll(ctx context.Context, user generic.UserID, coll generic.Collection, fn func(generic.Record) error) error {
	return streamAll(ctx, t.tx, user, coll, fn)
}

func (t *txStore) Decrement(ctx context.Context, user generic.UserID, coll generic.Collection, keyField string, keyValue any, field string, n int64) (int64, error) {
	return decrement(ctx, t.tx, user, coll, keyField, keyValue, field, n)
}

// leniently reads a jsonb field as a number; anything non-numeric is 0.
const numericField = `(CASE WHEN fields->>$%d ~ '^-?[0-9]+(\.[0-9]+)?$' THEN trunc((fields->>$%d)::numeric) ELSE 0 END)`

func add(ctx context.Context, q querier, user generic.UserID, coll generic.Collection, rec generic.Record) (string, error) {
	fields := normalize(rec)
	id := fields.ID()
	if id == "" {
		id = uuid.NewString()
		fields[generic.FieldID] = id
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("store/postgres: encode record: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO ledger_records (user_id, collection, id, fields)
		VALUES ($1, $2, $3, $4::jsonb)
	`, string(user), string(coll), id, string(body))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", fmt.Errorf("%s/%s: %w", coll, id, generic.ErrDuplicateKey)
		}
		return "", fmt.Errorf("store/postgres: add: %w", err)
	}
	return id, nil
}

func update(ctx context.Context, q querier, user generic.UserID, coll generic.Collection, keyField string, keyValue any, fields generic.Record) error {
	if !generic.ValidField(keyField) {
		return fmt.Errorf("%w: field %q", generic.ErrInvalidQuery, keyField)
	}
	patch, err := json.Marshal(normalize(fields))
	if err != nil {
		return fmt.Errorf("store/postgres: encode fields: %w", err)
	}
	key, err := jsonValue(keyValue)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE ledger_records
		SET fields = fields || $1::jsonb, updated_at = now()
		WHERE user_id = $2 AND collection = $3 AND fields -> $4::text = $5::jsonb
	`, string(patch), string(user), string(coll), keyField, key)
	if err != nil {
		return fmt.Errorf("store/postgres: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s=%v: %w", coll, keyField, keyValue, generic.ErrNotFound)
	}
	return nil
}

func query(ctx context.Context, q querier, user generic.UserID, coll generic.Collection, field string, op generic.Op, value any) ([]generic.Record, error) {
	if err := generic.ValidateQuery(field, op); err != nil {
		return nil, err
	}
	want, err := jsonValue(value)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT fields FROM ledger_records
		WHERE user_id = $1 AND collection = $2 AND fields -> $3::text %s $4::jsonb
		ORDER BY seq ASC
	`, sqlOp(op)), string(user), string(coll), field, want)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: query: %w", err)
	}
	return collect(rows)
}

func streamAll(ctx context.Context, q querier, user generic.UserID, coll generic.Collection, fn func(generic.Record) error) error {
	rows, err := q.Query(ctx, `
		SELECT fields FROM ledger_records
		WHERE user_id = $1 AND collection = $2
		ORDER BY seq ASC
	`, string(user), string(coll))
	if err != nil {
		return fmt.Errorf("store/postgres: stream: %w", err)
	}
	recs, err := collect(rows)
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

func decrement(ctx context.Context, q querier, user generic.UserID, coll generic.Collection, keyField string, keyValue any, field string, n int64) (int64, error) {
	if !generic.ValidField(keyField) || !generic.ValidField(field) {
		return 0, fmt.Errorf("%w: field %q/%q", generic.ErrInvalidQuery, keyField, field)
	}
	key, err := jsonValue(keyValue)
	if err != nil {
		return 0, err
	}

	var remaining int64
	err = q.QueryRow(ctx, fmt.Sprintf(`
		UPDATE ledger_records
		SET fields = jsonb_set(fields, ARRAY[$1::text], to_jsonb(%s - $2)), updated_at = now()
		WHERE user_id = $3 AND collection = $4 AND fields -> $5::text = $6::jsonb
		  AND %s >= $2
		RETURNING (fields->>$1)::bigint
	`, fmt.Sprintf(numericField, 1, 1), fmt.Sprintf(numericField, 1, 1)),
		field, n, string(user), string(coll), keyField, key).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("store/postgres: decrement: %w", err)
	}

	// Nothing updated: either no such record or not enough left.
	var current int64
	err = q.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s::bigint FROM ledger_records
		WHERE user_id = $2 AND collection = $3 AND fields -> $4::text = $5::jsonb
		LIMIT 1
	`, fmt.Sprintf(numericField, 1, 1)), field, string(user), string(coll), keyField, key).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%s %s=%v: %w", coll, keyField, keyValue, generic.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("store/postgres: read %s: %w", field, err)
	}
	return current, &generic.ConditionError{
		Collection: coll, Key: generic.String(keyValue), Field: field,
		Current: current, Requested: n,
	}
}

func collect(rows pgx.Rows) ([]generic.Record, error) {
	defer rows.Close()
	var records []generic.Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("store/postgres: scan: %w", err)
		}
		rec := generic.Record{}
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("store/postgres: decode: %w", err)
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

func jsonValue(v any) (string, error) {
	b, err := json.Marshal(generic.Scalar(v))
	if err != nil {
		return "", fmt.Errorf("store/postgres: encode value: %w", err)
	}
	return string(b), nil
}

func sqlOp(op generic.Op) string {
	switch op {
	case generic.OpNe:
		return "<>"
	case generic.OpLt:
		return "<"
	case generic.OpLte:
		return "<="
	case generic.OpGt:
		return ">"
	case generic.OpGte:
		return ">="
	}
	return "="
}
