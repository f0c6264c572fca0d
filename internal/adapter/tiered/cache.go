// Package tiered implements a two-level (L1 + L2) price cache adapter.
package tiered

import (
	"context"
	"time"

	"github.com/outboundly/runledger/internal/port/cache"
)

// Cache combines an L1 (in-process) and L2 (shared) price cache.
// Get checks L1 first, then L2 (backfilling L1 on L2 hit).
// Set and Delete operate on both levels.
type Cache struct {
	l1       cache.Prices
	l2       cache.Prices
	l1Expire time.Duration
}

// New creates a tiered cache with the given L1 and L2 backends.
// l1Expire controls how long L2 backfill entries live in L1.
func New(l1, l2 cache.Prices, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2. On L2 hit, backfills L1.
func (c *Cache) Get(ctx context.Context, name string) (unitCents int64, ok bool, err error) {
	v, found, err := c.l1.Get(ctx, name)
	if err != nil {
		return 0, false, err
	}
	if found {
		return v, true, nil
	}

	v, found, err = c.l2.Get(ctx, name)
	if err != nil || !found {
		return 0, false, err
	}
	_ = c.l1.Set(ctx, name, v, c.l1Expire)
	return v, true, nil
}

// Set writes to both L1 and L2.
func (c *Cache) Set(ctx context.Context, name string, unitCents int64, ttl time.Duration) error {
	if err := c.l1.Set(ctx, name, unitCents, min(ttl, c.l1Expire)); err != nil {
		return err
	}
	return c.l2.Set(ctx, name, unitCents, ttl)
}

// Delete removes from L2 first so a concurrent L1 miss cannot refill the
// stale price from L2.
func (c *Cache) Delete(ctx context.Context, name string) error {
	if err := c.l2.Delete(ctx, name); err != nil {
		return err
	}
	return c.l1.Delete(ctx, name)
}

var _ cache.Prices = (*Cache)(nil)
