// Package ledger defines the run ledger port shared by leaf services and the
// scheduler. It is satisfied in-process by service.LedgerService and remotely
// by pkg/ledgerclient.
package ledger

import (
	"context"

	"github.com/outboundly/runledger/internal/domain/cost"
	"github.com/outboundly/runledger/internal/domain/run"
)

// Recorder is the write side used after performing billable work.
type Recorder interface {
	CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error)
	UpdateRun(ctx context.Context, id string, req run.UpdateRequest) (*run.Run, error)
	AddCosts(ctx context.Context, runID string, req cost.AddRequest) ([]cost.Item, error)
}

// Reader is the history and reporting side.
type Reader interface {
	GetRun(ctx context.Context, id string) (*run.Run, error)
	ListRuns(ctx context.Context, filter run.ListFilter) ([]run.Run, error)
	GetRunsBatch(ctx context.Context, ids []string) (map[string]cost.RunWithCosts, error)
}

// Ledger is the full run ledger API.
type Ledger interface {
	Recorder
	Reader
	EnsureOrganization(ctx context.Context, externalID string) (string, error)
}
