// Package ristretto implements the price cache port using dgraph-io/ristretto
// as the in-process L1 cache.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/outboundly/runledger/internal/port/cache"
)

// entryCost is the cost charged per cached price: key bytes plus the value.
func entryCost(name string) int64 {
	return int64(len(name)) + 8
}

// Cache holds unit prices in process.
type Cache struct {
	c *ristretto.Cache[string, int64]
}

// New creates a ristretto-backed price cache bounded to maxBytes.
func New(maxBytes int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, int64]{
		NumCounters: max(maxBytes/32*10, 1000), // ~10x expected entries
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get returns the cached unit price for name.
func (c *Cache) Get(_ context.Context, name string) (unitCents int64, ok bool, err error) {
	v, found := c.c.Get(name)
	return v, found, nil
}

// Set stores a unit price. Ristretto admits writes asynchronously; Wait makes
// the entry visible to the next Get.
func (c *Cache) Set(_ context.Context, name string, unitCents int64, ttl time.Duration) error {
	c.c.SetWithTTL(name, unitCents, entryCost(name), ttl)
	c.c.Wait()
	return nil
}

// Delete evicts name.
func (c *Cache) Delete(_ context.Context, name string) error {
	c.c.Del(name)
	return nil
}

// Close releases the cache's goroutines.
func (c *Cache) Close() {
	c.c.Close()
}

var _ cache.Prices = (*Cache)(nil)
