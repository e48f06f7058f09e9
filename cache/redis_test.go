package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sales-ledger/sales"
)

func newTestCache(t *testing.T, ttl time.Duration) (*StatusCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStatusCache(client, ttl), mr
}

func TestStatusCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, time.Minute)

	_, ok, err := c.Get(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	st := sales.ClientStatus{
		ClientID:         "c1",
		CreditLimit:      decimal.RequireFromString("1000"),
		CreditUsed:       decimal.RequireFromString("250.75"),
		CreditAvailable:  decimal.RequireFromString("749.25"),
		AdvanceAvailable: decimal.RequireFromString("50"),
		AdvanceBalance:   decimal.RequireFromString("50"),
	}
	require.NoError(t, c.Set(ctx, "u1", st))

	got, ok, err := c.Get(ctx, "u1", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.CreditAvailable.Equal(st.CreditAvailable))
	assert.True(t, got.CreditUsed.Equal(st.CreditUsed))

	// Entries are per user.
	_, ok, err = c.Get(ctx, "u2", "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Invalidate(ctx, "u1", "c1"))
	_, ok, err = c.Get(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusCache_Expires(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)
	require.NoError(t, c.Set(ctx, "u1", sales.ClientStatus{ClientID: "c1"}))

	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusCache_CorruptEntryIsMiss(t *testing.T) {
	c, mr := newTestCache(t, 0)
	require.NoError(t, mr.Set(statusKey("u1", "c1"), "{not json"))

	_, ok, err := c.Get(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusCache_NilIsEmpty(t *testing.T) {
	var c *StatusCache
	_, ok, err := c.Get(context.Background(), "u1", "c1")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Set(context.Background(), "u1", sales.ClientStatus{}))
	assert.NoError(t, c.Invalidate(context.Background(), "u1", "c1"))
}
