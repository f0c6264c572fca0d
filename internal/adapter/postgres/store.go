package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements database.Store, catalog.Catalog and campaign.Registry
// using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool for health checks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
