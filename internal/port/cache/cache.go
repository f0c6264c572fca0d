// Package cache defines the port interface for caching cost catalog unit prices.
package cache

import (
	"context"
	"time"
)

// Prices caches unit costs in USD cents keyed by cost name.
// Only registered names are cached; a miss always falls through to the catalog.
type Prices interface {
	Get(ctx context.Context, costName string) (unitCents int64, ok bool, err error)
	Set(ctx context.Context, costName string, unitCents int64, ttl time.Duration) error
	Delete(ctx context.Context, costName string) error
}
