// Package cache holds the Redis-backed client status cache used by quotes.
//
// Only Quote reads from it. SubmitSale always recomputes from the store and
// invalidates the entry afterwards, so a stale entry can at worst show an
// outdated preview, never let a sale through.
//
// A quote that computes a status, loses the race to a sale's Invalidate and
// then calls Set stores the pre-sale status. That entry lives until the TTL
// (LEDGER_CACHE_TTL) expires or the next write to the client invalidates it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/sales-ledger/generic"
	"github.com/warp/sales-ledger/sales"
)

const keyPrefix = "ledger:status"

// New connects to Redis at addr and pings it.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	return client, nil
}

// StatusCache implements sales.StatusCache on Redis. A nil *StatusCache
// behaves as an always-empty cache.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ sales.StatusCache = (*StatusCache)(nil)

// NewStatusCache stores entries for ttl. A zero ttl keeps them until
// invalidated.
func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

func statusKey(user generic.UserID, clientID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, user, clientID)
}

func (c *StatusCache) Get(ctx context.Context, user generic.UserID, clientID string) (sales.ClientStatus, bool, error) {
	if c == nil || c.client == nil {
		return sales.ClientStatus{}, false, nil
	}
	payload, err := c.client.Get(ctx, statusKey(user, clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return sales.ClientStatus{}, false, nil
	}
	if err != nil {
		return sales.ClientStatus{}, false, err
	}
	var st sales.ClientStatus
	if err := json.Unmarshal(payload, &st); err != nil {
		// A corrupt entry is a miss; the next Set overwrites it.
		return sales.ClientStatus{}, false, nil
	}
	return st, true, nil
}

func (c *StatusCache) Set(ctx context.Context, user generic.UserID, st sales.ClientStatus) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statusKey(user, st.ClientID), raw, c.ttl).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, user generic.UserID, clientID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, statusKey(user, clientID)).Err()
}
