// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/outboundly/runledger/internal/domain/cost"
	"github.com/outboundly/runledger/internal/domain/organization"
	"github.com/outboundly/runledger/internal/domain/run"
)

// Store is the port interface for run ledger persistence.
type Store interface {
	// Organizations
	EnsureOrganization(ctx context.Context, externalID string) (*organization.Organization, error)

	// Runs
	CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error)
	GetRun(ctx context.Context, id string) (*run.Run, error)
	// UpdateRunStatus applies run.Transition atomically. It returns the run
	// unchanged, with changed false, when it is already in the target status.
	UpdateRunStatus(ctx context.Context, id string, req run.UpdateRequest) (r *run.Run, changed bool, err error)
	ListRuns(ctx context.Context, filter run.ListFilter) ([]run.Run, error)
	GetRunsByIDs(ctx context.Context, ids []string) ([]run.Run, error)

	// RunClosure returns the edges of the given runs and all of their descendants.
	RunClosure(ctx context.Context, ids []string) ([]cost.Edge, error)

	// Cost items
	InsertCostItems(ctx context.Context, items []cost.Item) ([]cost.Item, error)
	ListCostItems(ctx context.Context, runIDs []string) ([]cost.Item, error)
}
