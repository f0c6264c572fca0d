package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/outboundly/runledger/internal/port/cache"
	"github.com/outboundly/runledger/internal/port/catalog"
)

var _ catalog.Catalog = (*CachedCatalog)(nil)

// CachedCatalog serves unit costs from a price cache and falls back to the
// source catalog for misses. Only registered names are cached, so a newly
// registered name is visible on the next lookup. Cache errors degrade to a
// source lookup.
type CachedCatalog struct {
	source catalog.Catalog
	prices cache.Prices
	ttl    time.Duration
}

// NewCachedCatalog creates a CachedCatalog.
func NewCachedCatalog(source catalog.Catalog, prices cache.Prices, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{source: source, prices: prices, ttl: ttl}
}

// UnitCosts implements catalog.Catalog.
func (c *CachedCatalog) UnitCosts(ctx context.Context, names []string) (map[string]int64, error) {
	result := make(map[string]int64, len(names))
	var misses []string
	for _, name := range names {
		cents, ok, err := c.prices.Get(ctx, name)
		if err != nil {
			slog.Warn("price cache get failed", "cost_name", name, "error", err)
		}
		if ok && err == nil {
			result[name] = cents
			continue
		}
		misses = append(misses, name)
	}
	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := c.source.UnitCosts(ctx, misses)
	if err != nil {
		return nil, err
	}
	for name, cents := range fetched {
		result[name] = cents
		if err := c.prices.Set(ctx, name, cents, c.ttl); err != nil {
			slog.Warn("price cache set failed", "cost_name", name, "error", err)
		}
	}
	return result, nil
}

// Invalidate drops a cached price after the catalog entry changed.
func (c *CachedCatalog) Invalidate(ctx context.Context, name string) error {
	return c.prices.Delete(ctx, name)
}
