package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	rlotel "github.com/outboundly/runledger/internal/adapter/otel"
	"github.com/outboundly/runledger/internal/domain"
	"github.com/outboundly/runledger/internal/domain/cost"
	"github.com/outboundly/runledger/internal/domain/organization"
	"github.com/outboundly/runledger/internal/domain/run"
	"github.com/outboundly/runledger/internal/port/catalog"
	"github.com/outboundly/runledger/internal/port/database"
	"github.com/outboundly/runledger/internal/port/ledger"
)

// DefaultMaxBatchSize bounds GetRunsBatch when no limit is configured.
const DefaultMaxBatchSize = 500

var _ ledger.Ledger = (*LedgerService)(nil)

// LedgerService is the run ledger: run lifecycle, cost posting and recursive
// cost reporting over the database store and the cost catalog.
type LedgerService struct {
	store    database.Store
	catalog  catalog.Catalog
	maxBatch int
	metrics  *rlotel.Metrics
}

// NewLedgerService creates a LedgerService. A non-positive maxBatch falls
// back to DefaultMaxBatchSize.
func NewLedgerService(store database.Store, cat catalog.Catalog, maxBatch int) *LedgerService {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}
	return &LedgerService{store: store, catalog: cat, maxBatch: maxBatch}
}

// SetMetrics enables metric recording.
func (s *LedgerService) SetMetrics(m *rlotel.Metrics) {
	s.metrics = m
}

// EnsureOrganization returns the internal organization id for an external
// tenant id, creating the organization on first use.
func (s *LedgerService) EnsureOrganization(ctx context.Context, externalID string) (string, error) {
	req := organization.EnsureRequest{ExternalID: externalID}
	if err := req.Validate(); err != nil {
		return "", err
	}
	o, err := s.store.EnsureOrganization(ctx, externalID)
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

// CreateRun opens a run in status running.
func (s *LedgerService) CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r, err := s.store.CreateRun(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RunsCreated.Add(ctx, 1, metric.WithAttributes(
			attribute.String("service", r.ServiceName),
			attribute.Bool("root", r.IsRoot()),
		))
	}
	return r, nil
}

// UpdateRun moves a run to a terminal status. Repeating the current status
// succeeds without change; the opposite terminal status is ErrConflict.
// Only real transitions are counted in the run metrics.
func (s *LedgerService) UpdateRun(ctx context.Context, id string, req run.UpdateRequest) (*run.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r, changed, err := s.store.UpdateRunStatus(ctx, id, req)
	if err != nil {
		return r, err
	}
	if changed && s.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("service", r.ServiceName))
		if req.Status == run.StatusCompleted {
			s.metrics.RunsCompleted.Add(ctx, 1, attrs)
		} else {
			s.metrics.RunsFailed.Add(ctx, 1, attrs)
		}
	}
	return r, nil
}

// GetRun returns a single run without costs.
func (s *LedgerService) GetRun(ctx context.Context, id string) (*run.Run, error) {
	return s.store.GetRun(ctx, id)
}

// ListRuns returns the run history of a service task, newest first.
func (s *LedgerService) ListRuns(ctx context.Context, filter run.ListFilter) ([]run.Run, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, filter)
}

// GetRunsBatch returns the requested runs annotated with the recursive cost
// of their subtrees. Unknown ids are absent from the result. The work is a
// fixed number of store calls regardless of tree depth: the runs, the closure
// edges and the closure's cost items.
func (s *LedgerService) GetRunsBatch(ctx context.Context, ids []string) (result map[string]cost.RunWithCosts, err error) {
	ids = distinctNonEmpty(ids)
	if len(ids) > s.maxBatch {
		return nil, fmt.Errorf("batch of %d runs exceeds limit %d: %w", len(ids), s.maxBatch, domain.ErrValidation)
	}

	ctx, span := rlotel.StartLedgerSpan(ctx, "get_runs_batch", attribute.Int("batch.size", len(ids)))
	defer func() { rlotel.EndSpan(span, err) }()

	result = make(map[string]cost.RunWithCosts, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	runs, err := s.store.GetRunsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return result, nil
	}

	found := make([]string, len(runs))
	for i := range runs {
		found[i] = runs[i].ID
	}
	edges, err := s.store.RunClosure(ctx, found)
	if err != nil {
		return nil, err
	}

	closure := make([]string, len(edges))
	for i := range edges {
		closure[i] = edges[i].ID
	}
	items, err := s.store.ListCostItems(ctx, closure)
	if err != nil {
		return nil, err
	}

	subtrees := cost.Rollup(edges, items)
	for i := range runs {
		sub := subtrees[runs[i].ID]
		costs := sub.Costs
		if costs == nil {
			costs = []cost.Breakdown{}
		}
		result[runs[i].ID] = cost.RunWithCosts{
			Run:                 runs[i],
			TotalCostInUSDCents: sub.TotalCostInUSDCents,
			Costs:               costs,
		}
	}
	return result, nil
}

// GetRunCost is GetRunsBatch for a single run.
func (s *LedgerService) GetRunCost(ctx context.Context, id string) (*cost.RunWithCosts, error) {
	batch, err := s.GetRunsBatch(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	rc, ok := batch[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return &rc, nil
}

// AddCosts prices every item from the catalog and appends them to the run.
// All names are resolved before anything is written, so an unregistered
// name rejects the whole request. Terminal runs still accept costs.
func (s *LedgerService) AddCosts(ctx context.Context, runID string, req cost.AddRequest) (items []cost.Item, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := rlotel.StartLedgerSpan(ctx, "add_costs",
		attribute.String("run.id", runID), attribute.Int("items", len(req.Items)))
	defer func() { rlotel.EndSpan(span, err) }()

	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	prices, err := s.catalog.UnitCosts(ctx, req.Names())
	if err != nil {
		return nil, fmt.Errorf("resolve unit costs: %w", err)
	}
	priced, err := cost.Price(r.ID, req.Items, prices)
	if err != nil {
		return nil, err
	}

	items, err = s.store.InsertCostItems(ctx, priced)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		var total int64
		for i := range items {
			total += items[i].TotalCostInUSDCents
		}
		s.metrics.CostCentsPosted.Add(ctx, total, metric.WithAttributes(
			attribute.String("service", r.ServiceName),
		))
	}
	return items, nil
}

// TaskCostSummary totals the recursive cost of every root run of a service
// task, e.g. all executions of one campaign.
func (s *LedgerService) TaskCostSummary(ctx context.Context, filter run.ListFilter) (*cost.Summary, error) {
	runs, err := s.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}

	var roots []string
	for i := range runs {
		if runs[i].IsRoot() {
			roots = append(roots, runs[i].ID)
		}
	}

	summary := &cost.Summary{RunCount: len(roots)}
	for start := 0; start < len(roots); start += s.maxBatch {
		end := min(start+s.maxBatch, len(roots))
		batch, err := s.GetRunsBatch(ctx, roots[start:end])
		if err != nil {
			return nil, err
		}
		for _, rc := range batch {
			summary.TotalCostInUSDCents += rc.TotalCostInUSDCents
		}
	}
	return summary, nil
}

func distinctNonEmpty(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
