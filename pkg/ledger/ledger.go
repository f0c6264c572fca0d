// Package ledger is the public face of the run ledger for leaf services built
// outside this module. It re-exports the run and cost types, the error
// sentinels and the ledger interfaces so callers can use pkg/ledgerclient and
// pkg/costposter without reaching into internal packages.
package ledger

import (
	"github.com/outboundly/runledger/internal/domain"
	"github.com/outboundly/runledger/internal/domain/cost"
	"github.com/outboundly/runledger/internal/domain/run"
	portledger "github.com/outboundly/runledger/internal/port/ledger"
)

// Runs.
type (
	Run           = run.Run
	Status        = run.Status
	CreateRequest = run.CreateRequest
	UpdateRequest = run.UpdateRequest
	ListFilter    = run.ListFilter
)

const (
	StatusRunning   = run.StatusRunning
	StatusCompleted = run.StatusCompleted
	StatusFailed    = run.StatusFailed
)

// Costs.
type (
	ItemInput    = cost.ItemInput
	Item         = cost.Item
	AddRequest   = cost.AddRequest
	Breakdown    = cost.Breakdown
	RunWithCosts = cost.RunWithCosts
	Summary      = cost.Summary
)

// Ledger interfaces, satisfied by ledgerclient.Client and by the in-process
// ledger service.
type (
	Ledger   = portledger.Ledger
	Recorder = portledger.Recorder
	Reader   = portledger.Reader
)

// Error sentinels. Errors returned by the ledger match them with errors.Is,
// including errors decoded from a remote ledger.
var (
	ErrNotFound              = domain.ErrNotFound
	ErrConflict              = domain.ErrConflict
	ErrValidation            = domain.ErrValidation
	ErrCostNameNotRegistered = cost.ErrCostNameNotRegistered
)

var IsNotRegistered = cost.IsNotRegistered
