// Package natskv implements the price cache port on a NATS JetStream KV
// bucket shared by all ledger replicas (L2).
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/outboundly/runledger/internal/port/cache"
)

// Cache wraps a NATS JetStream KeyValue store as an L2 price cache.
type Cache struct {
	kv jetstream.KeyValue
}

// New creates a NATS KV-backed price cache.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// key maps a cost name onto the KV key alphabet.
func key(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

// Get retrieves a unit price.
func (c *Cache) Get(ctx context.Context, name string) (unitCents int64, ok bool, err error) {
	entry, err := c.kv.Get(ctx, key(name))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	v, err := strconv.ParseInt(string(entry.Value()), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("decode cached price %s: %w", name, err)
	}
	return v, true, nil
}

// Set stores a unit price. TTL is managed at bucket level.
func (c *Cache) Set(ctx context.Context, name string, unitCents int64, _ time.Duration) error {
	_, err := c.kv.Put(ctx, key(name), []byte(strconv.FormatInt(unitCents, 10)))
	return err
}

// Delete removes a unit price.
func (c *Cache) Delete(ctx context.Context, name string) error {
	err := c.kv.Delete(ctx, key(name))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

var _ cache.Prices = (*Cache)(nil)
