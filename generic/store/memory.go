// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/warp/sales-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps records per user and collection in insertion order.
// It implements generic.Store and generic.Decrementer, but not TxStore:
// use TxMemory when all-or-nothing writes are needed.
type Memory struct {
	mu   sync.RWMutex
	data map[key][]generic.Record
}

type key struct {
	User       generic.UserID
	Collection generic.Collection
}

func NewMemory() *Memory {
	return &Memory{data: make(map[key][]generic.Record)}
}

// Add inserts a copy of rec.
func (m *Memory) Add(_ context.Context, user generic.UserID, coll generic.Collection, rec generic.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(user, coll, rec)
}

func (m *Memory) Update(_ context.Context, user generic.UserID, coll generic.Collection, keyField string, keyValue any, fields generic.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(user, coll, keyField, keyValue, fields)
}

func (m *Memory) Query(_ context.Context, user generic.UserID, coll generic.Collection, field string, op generic.Op, value any) ([]generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryLocked(user, coll, field, op, value)
}

func (m *Memory) StreamAll(_ context.Context, user generic.UserID, coll generic.Collection, fn func(generic.Record) error) error {
	m.mu.RLock()
	recs := cloneAll(m.data[key{user, coll}])
	m.mu.RUnlock()

	// fn runs unlocked so it may call back into the store.
	for _, r := range recs {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Decrement(_ context.Context, user generic.UserID, coll generic.Collection, keyField string, keyValue any, field string, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrementLocked(user, coll, keyField, keyValue, field, n)
}

// =============================================================================
// LOCKED HELPERS - Caller holds m.mu
// =============================================================================

func (m *Memory) addLocked(user generic.UserID, coll generic.Collection, rec generic.Record) (string, error) {
	k := key{user, coll}
	out := normalize(rec)
	id := out.ID()
	if id == "" {
		id = uuid.NewString()
		out[generic.FieldID] = id
	}
	for _, existing := range m.data[k] {
		if existing.ID() == id {
			return "", fmt.Errorf("%s/%s: %w", coll, id, generic.ErrDuplicateKey)
		}
	}
	m.data[k] = append(m.data[k], out)
	return id, nil
}

func (m *Memory) updateLocked(user generic.UserID, coll generic.Collection, keyField string, keyValue any, fields generic.Record) error {
	if !generic.ValidField(keyField) {
		return fmt.Errorf("%w: field %q", generic.ErrInvalidQuery, keyField)
	}
	matched := false
	patch := normalize(fields)
	for _, r := range m.data[key{user, coll}] {
		if generic.Compare(r[keyField], keyValue) == 0 {
			r.Merge(patch)
			matched = true
		}
	}
	if !matched {
		return fmt.Errorf("%s %s=%v: %w", coll, keyField, keyValue, generic.ErrNotFound)
	}
	return nil
}

func (m *Memory) queryLocked(user generic.UserID, coll generic.Collection, field string, op generic.Op, value any) ([]generic.Record, error) {
	if err := generic.ValidateQuery(field, op); err != nil {
		return nil, err
	}
	want := generic.Scalar(value)
	var result []generic.Record
	for _, r := range m.data[key{user, coll}] {
		v, ok := r[field]
		if !ok {
			continue
		}
		if op.Matches(generic.Compare(v, want)) {
			result = append(result, r.Clone())
		}
	}
	return result, nil
}

func (m *Memory) decrementLocked(user generic.UserID, coll generic.Collection, keyField string, keyValue any, field string, n int64) (int64, error) {
	for _, r := range m.data[key{user, coll}] {
		if generic.Compare(r[keyField], keyValue) != 0 {
			continue
		}
		current := generic.Int(r[field])
		if current-n < 0 {
			return current, &generic.ConditionError{
				Collection: coll, Key: generic.String(keyValue), Field: field,
				Current: current, Requested: n,
			}
		}
		r[field] = current - n
		return current - n, nil
	}
	return 0, fmt.Errorf("%s %s=%v: %w", coll, keyField, keyValue, generic.ErrNotFound)
}

func normalize(rec generic.Record) generic.Record {
	out := make(generic.Record, len(rec))
	for k, v := range rec {
		out[k] = generic.Scalar(v)
	}
	return out
}

func cloneAll(recs []generic.Record) []generic.Record {
	out := make([]generic.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store is locked for the duration of fn.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.data = snapshot
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() map[key][]generic.Record {
	cp := make(map[key][]generic.Record, len(tm.data))
	for k, v := range tm.data {
		cp[k] = cloneAll(v)
	}
	return cp
}

// txMemoryView runs against the parent while its lock is held by WithTx.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Add(_ context.Context, user generic.UserID, coll generic.Collection, rec generic.Record) (string, error) {
	return tv.parent.addLocked(user, coll, rec)
}

func (tv *txMemoryView) Update(_ context.Context, user generic.UserID, coll generic.Collection, keyField string, keyValue any, fields generic.Record) error {
	return tv.parent.updateLocked(user, coll, keyField, keyValue, fields)
}

func (tv *txMemoryView) Query(_ context.Context, user generic.UserID, coll generic.Collection, field string, op generic.Op, value any) ([]generic.Record, error) {
	return tv.parent.queryLocked(user, coll, field, op, value)
}

func (tv *txMemoryView) StreamAll(_ context.Context, user generic.UserID, coll generic.Collection, fn func(generic.Record) error) error {
	for _, r := range cloneAll(tv.parent.data[key{user, coll}]) {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (tv *txMemoryView) Decrement(_ context.Context, user generic.UserID, coll generic.Collection, keyField string, keyValue any, field string, n int64) (int64, error) {
	return tv.parent.decrementLocked(user, coll, keyField, keyValue, field, n)
}
