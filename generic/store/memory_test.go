package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sales-ledger/generic"
	"github.com/warp/sales-ledger/generic/store"
)

const products generic.Collection = "products"

func TestMemory_AddAssignsIDAndRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	id, err := m.Add(ctx, "u1", products, generic.Record{"name": "Widget"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = m.Add(ctx, "u1", products, generic.Record{"id": id, "name": "Again"})
	assert.ErrorIs(t, err, generic.ErrDuplicateKey)

	// Same id under another user is a different namespace.
	_, err = m.Add(ctx, "u2", products, generic.Record{"id": id})
	assert.NoError(t, err)
}

func TestMemory_QueryIsScopedAndCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, _ = m.Add(ctx, "u1", products, generic.Record{"id": "p1", "quantity": 3})
	_, _ = m.Add(ctx, "u1", products, generic.Record{"id": "p2", "quantity": 10})
	_, _ = m.Add(ctx, "u2", products, generic.Record{"id": "p3", "quantity": 50})

	recs, err := m.Query(ctx, "u1", products, "quantity", generic.OpGte, 3)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	recs[0]["quantity"] = int64(999)
	again, _ := m.Query(ctx, "u1", products, "id", generic.OpEq, "p1")
	assert.Equal(t, int64(3), again[0]["quantity"], "query results must not alias stored records")

	_, err = m.Query(ctx, "u1", products, "bad field", generic.OpEq, 1)
	assert.ErrorIs(t, err, generic.ErrInvalidQuery)
}

func TestMemory_UpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, _ = m.Add(ctx, "u1", products, generic.Record{"id": "p1", "name": "Old", "price": 10.0})

	require.NoError(t, m.Update(ctx, "u1", products, "id", "p1", generic.Record{"name": "New"}))
	recs, _ := m.Query(ctx, "u1", products, "id", generic.OpEq, "p1")
	assert.Equal(t, "New", recs[0]["name"])
	assert.Equal(t, 10.0, recs[0]["price"])

	err := m.Update(ctx, "u1", products, "id", "missing", generic.Record{"name": "x"})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestMemory_DecrementRefusesNegative(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, _ = m.Add(ctx, "u1", products, generic.Record{"id": "p1", "quantity": 3})

	left, err := m.Decrement(ctx, "u1", products, "id", "p1", "quantity", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)

	left, err = m.Decrement(ctx, "u1", products, "id", "p1", "quantity", 5)
	assert.ErrorIs(t, err, generic.ErrConditionFailed)
	assert.Equal(t, int64(1), left)

	var condErr *generic.ConditionError
	require.True(t, errors.As(err, &condErr))
	assert.Equal(t, int64(5), condErr.Requested)

	_, err = m.Decrement(ctx, "u1", products, "id", "nope", "quantity", 1)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestMemory_ConcurrentDecrementNeverOversells(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, _ = m.Add(ctx, "u1", products, generic.Record{"id": "p1", "quantity": 10})

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Decrement(ctx, "u1", products, "id", "p1", "quantity", 1); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	recs, _ := m.Query(ctx, "u1", products, "id", generic.OpEq, "p1")
	assert.Equal(t, int64(0), recs[0]["quantity"])
}

func TestTxMemory_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	tm := store.NewTxMemory()
	_, _ = tm.Add(ctx, "u1", products, generic.Record{"id": "p1", "quantity": 3})

	boom := errors.New("boom")
	err := tm.WithTx(ctx, func(s generic.Store) error {
		if _, err := s.Add(ctx, "u1", "sales", generic.Record{"id": "s1"}); err != nil {
			return err
		}
		if _, err := s.(generic.Decrementer).Decrement(ctx, "u1", products, "id", "p1", "quantity", 2); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	sales, _ := tm.Query(ctx, "u1", "sales", "id", generic.OpEq, "s1")
	assert.Empty(t, sales, "sale write must be rolled back")
	recs, _ := tm.Query(ctx, "u1", products, "id", generic.OpEq, "p1")
	assert.Equal(t, int64(3), recs[0]["quantity"], "decrement must be rolled back")
}

func TestLedger_ScopesToSessionAndFallsBack(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	sess, err := generic.NewSession("owner")
	require.NoError(t, err)
	l := generic.NewLedger(m, sess)

	_, err = l.Add(ctx, products, generic.Record{"id": "p1", "quantity": 2})
	require.NoError(t, err)
	assert.False(t, l.Transactional())

	got, err := l.Get(ctx, products, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got["quantity"])

	other := generic.NewLedger(m, generic.Session{UserID: "someone-else"})
	_, err = other.Get(ctx, products, "p1")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, err = generic.NewLedger(m, generic.Session{}).Add(ctx, products, generic.Record{})
	assert.ErrorIs(t, err, generic.ErrNoSession)

	_, err = generic.NewSession("   ")
	assert.ErrorIs(t, err, generic.ErrNoSession)
}
