package ristretto

import (
	"context"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestCache_SetGetDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if _, ok, _ := c.Get(ctx, "lead_search"); ok {
		t.Fatal("expected miss on empty cache")
	}

	if err := c.Set(ctx, "lead_search", 12, time.Minute); err != nil {
		t.Fatal(err)
	}
	v, ok, err := c.Get(ctx, "lead_search")
	if err != nil || !ok || v != 12 {
		t.Fatalf("Get = %d, %v, %v; want 12, true, nil", v, ok, err)
	}

	if err := c.Delete(ctx, "lead_search"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "lead_search"); ok {
		t.Fatal("expected miss after Delete")
	}
}

func TestCache_ZeroPriceIsAHit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "free_enrichment", 0, time.Minute)
	v, ok, _ := c.Get(ctx, "free_enrichment")
	if !ok || v != 0 {
		t.Fatalf("Get = %d, %v; want 0, true", v, ok)
	}
}

func TestCache_Expiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "short", 5, 50*time.Millisecond)
	time.Sleep(1200 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "short"); ok {
		t.Fatal("expected entry to expire")
	}
}
