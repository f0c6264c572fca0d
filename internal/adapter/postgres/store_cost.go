package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/outboundly/runledger/internal/domain"
	"github.com/outboundly/runledger/internal/domain/cost"
)

// InsertCostItems appends priced items in a single transaction: either every
// item is written or none is.
func (s *Store) InsertCostItems(ctx context.Context, items []cost.Item) ([]cost.Item, error) {
	if len(items) == 0 {
		return []cost.Item{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("insert cost items: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for i := range items {
		batch.Queue(
			`INSERT INTO cost_items (run_id, cost_name, quantity, unit_cost_in_usd_cents, total_cost_in_usd_cents)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at`,
			items[i].RunID, items[i].CostName, items[i].Quantity,
			items[i].UnitCostInUSDCents, items[i].TotalCostInUSDCents)
	}

	out := make([]cost.Item, len(items))
	copy(out, items)

	br := tx.SendBatch(ctx, batch)
	for i := range out {
		if err := br.QueryRow().Scan(&out[i].ID, &out[i].CreatedAt); err != nil {
			_ = br.Close()
			return nil, costInsertError(err, &out[i])
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("insert cost items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("insert cost items: commit: %w", err)
	}
	return out, nil
}

func costInsertError(err error, item *cost.Item) error {
	if pgErrorCode(err) == pgForeignKeyViolation {
		if pgConstraint(err) == "cost_items_cost_name_fkey" {
			return fmt.Errorf("insert cost items: %w: %s", cost.ErrCostNameNotRegistered, item.CostName)
		}
		return fmt.Errorf("insert cost items: run %s: %w", item.RunID, domain.ErrNotFound)
	}
	return fmt.Errorf("insert cost items: %w", err)
}

// ListCostItems returns every item attached to the given runs, oldest first.
func (s *Store) ListCostItems(ctx context.Context, runIDs []string) ([]cost.Item, error) {
	runIDs = uuidsOnly(runIDs)
	if len(runIDs) == 0 {
		return []cost.Item{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, cost_name, quantity, unit_cost_in_usd_cents, total_cost_in_usd_cents, created_at
		 FROM cost_items WHERE run_id = ANY($1::uuid[])
		 ORDER BY created_at ASC`, runIDs)
	if err != nil {
		return nil, fmt.Errorf("list cost items: %w", err)
	}
	defer rows.Close()

	var items []cost.Item
	for rows.Next() {
		var it cost.Item
		if err := rows.Scan(&it.ID, &it.RunID, &it.CostName, &it.Quantity,
			&it.UnitCostInUSDCents, &it.TotalCostInUSDCents, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cost item: %w", err)
		}
		items = append(items, it)
	}
	return orEmpty(items), rows.Err()
}

// --- Cost catalog ---

// UnitCosts implements catalog.Catalog.
func (s *Store) UnitCosts(ctx context.Context, names []string) (map[string]int64, error) {
	prices := make(map[string]int64, len(names))
	if len(names) == 0 {
		return prices, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT name, unit_cost_in_usd_cents FROM cost_catalog WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, fmt.Errorf("lookup unit costs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var cents int64
		if err := rows.Scan(&name, &cents); err != nil {
			return nil, fmt.Errorf("scan unit cost: %w", err)
		}
		prices[name] = cents
	}
	return prices, rows.Err()
}

// RegisterCostName creates or reprices a catalog entry. Existing cost items
// keep the unit price they were posted with.
func (s *Store) RegisterCostName(ctx context.Context, name string, unitCents int64) error {
	if name == "" {
		return fmt.Errorf("register cost name: name is required: %w", domain.ErrValidation)
	}
	if unitCents < 0 {
		return fmt.Errorf("register cost name %s: unit cost must be non-negative: %w", name, domain.ErrValidation)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cost_catalog (name, unit_cost_in_usd_cents) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE
		 SET unit_cost_in_usd_cents = EXCLUDED.unit_cost_in_usd_cents, updated_at = now()`,
		name, unitCents)
	if err != nil {
		return fmt.Errorf("register cost name %s: %w", name, err)
	}
	return nil
}

// ListCostCatalog returns every catalog entry ordered by name.
func (s *Store) ListCostCatalog(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, unit_cost_in_usd_cents FROM cost_catalog ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list cost catalog: %w", err)
	}
	defer rows.Close()

	prices := make(map[string]int64)
	for rows.Next() {
		var name string
		var cents int64
		if err := rows.Scan(&name, &cents); err != nil {
			return nil, fmt.Errorf("scan cost catalog: %w", err)
		}
		prices[name] = cents
	}
	return prices, rows.Err()
}
