package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sales-ledger/generic"
	"github.com/warp/sales-ledger/store/postgres"
)

// Runs only against a real database:
//
//	LEDGER_TEST_PG_DSN=postgres://... go test ./store/postgres/
func newStore(t *testing.T) (*postgres.Store, generic.UserID) {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_PG_DSN not set")
	}
	store, err := postgres.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	// A fresh user per test keeps runs independent without truncating.
	return store, generic.UserID("test-" + uuid.NewString())
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, user := newStore(t)

	id, err := store.Add(ctx, user, "products", generic.Record{"key": "SKU-1", "name": "Widget", "quantity": 3})
	require.NoError(t, err)

	_, err = store.Add(ctx, user, "products", generic.Record{"id": id})
	assert.ErrorIs(t, err, generic.ErrDuplicateKey)

	require.NoError(t, store.Update(ctx, user, "products", "key", "SKU-1", generic.Record{"name": "Gadget"}))
	recs, err := store.Query(ctx, user, "products", "quantity", generic.OpGte, 3)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Gadget", recs[0]["name"])
}

func TestStore_DecrementAndTx(t *testing.T) {
	ctx := context.Background()
	store, user := newStore(t)
	_, err := store.Add(ctx, user, "products", generic.Record{"key": "SKU-1", "quantity": 2})
	require.NoError(t, err)

	left, err := store.Decrement(ctx, user, "products", "key", "SKU-1", "quantity", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), left)

	_, err = store.Decrement(ctx, user, "products", "key", "SKU-1", "quantity", 1)
	assert.ErrorIs(t, err, generic.ErrConditionFailed)

	err = store.WithTx(ctx, func(s generic.Store) error {
		_, err := s.Add(ctx, user, "sales", generic.Record{"id": "s1"})
		if err != nil {
			return err
		}
		return generic.ErrConditionFailed
	})
	assert.ErrorIs(t, err, generic.ErrConditionFailed)

	recs, err := store.Query(ctx, user, "sales", "id", generic.OpEq, "s1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}
