package http

import (
	"context"
	"net/http"
	"time"

	"github.com/outboundly/runledger/internal/domain/cost"
	"github.com/outboundly/runledger/internal/domain/run"
	"github.com/outboundly/runledger/internal/port/ledger"
)

// LedgerAPI is the service surface exposed over RPC.
type LedgerAPI interface {
	ledger.Ledger
	GetRunCost(ctx context.Context, id string) (*cost.RunWithCosts, error)
	TaskCostSummary(ctx context.Context, filter run.ListFilter) (*cost.Summary, error)
}

// HealthCheck reports the state of one dependency. A nil error means healthy.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Ledger LedgerAPI
	Checks []HealthCheck
}

// EnsureOrganizationRequest is the body of POST /organizations/ensure.
type EnsureOrganizationRequest struct {
	ExternalID string `json:"external_id"`
}

// EnsureOrganizationResponse carries the internal organization id.
type EnsureOrganizationResponse struct {
	OrganizationID string `json:"organization_id"`
}

// BatchRequest is the body of POST /runs/batch.
type BatchRequest struct {
	IDs []string `json:"ids"`
}

// BatchResponse maps run ids to their rollups. Unknown ids are absent.
type BatchResponse struct {
	Runs map[string]cost.RunWithCosts `json:"runs"`
}

// ListRunsResponse wraps a run history query.
type ListRunsResponse struct {
	Runs []run.Run `json:"runs"`
}

// AddCostsResponse lists the priced items that were written.
type AddCostsResponse struct {
	Items []cost.Item `json:"items"`
}

// EnsureOrganization handles POST /rpc/v1/organizations/ensure
func (h *Handlers) EnsureOrganization(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[EnsureOrganizationRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.ExternalID, "external_id") {
		return
	}
	id, err := h.Ledger.EnsureOrganization(r.Context(), req.ExternalID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EnsureOrganizationResponse{OrganizationID: id})
}

// CreateRun handles POST /rpc/v1/runs
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[run.CreateRequest](w, r)
	if !ok {
		return
	}
	created, err := h.Ledger.CreateRun(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateRun handles POST /rpc/v1/runs/{id}/status
func (h *Handlers) UpdateRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[run.UpdateRequest](w, r)
	if !ok {
		return
	}
	updated, err := h.Ledger.UpdateRun(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// GetRun handles GET /rpc/v1/runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	got, err := h.Ledger.GetRun(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

// ListRuns handles GET /rpc/v1/runs?organization_id=&service_name=&task_name=
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Ledger.ListRuns(r.Context(), listFilter(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if runs == nil {
		runs = []run.Run{}
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Runs: runs})
}

// GetRunsBatch handles POST /rpc/v1/runs/batch
func (h *Handlers) GetRunsBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[BatchRequest](w, r)
	if !ok {
		return
	}
	runs, err := h.Ledger.GetRunsBatch(r.Context(), req.IDs)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchResponse{Runs: runs})
}

// GetRunCost handles GET /rpc/v1/runs/{id}/cost
func (h *Handlers) GetRunCost(w http.ResponseWriter, r *http.Request) {
	got, err := h.Ledger.GetRunCost(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

// AddCosts handles POST /rpc/v1/runs/{id}/costs
func (h *Handlers) AddCosts(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[cost.AddRequest](w, r)
	if !ok {
		return
	}
	items, err := h.Ledger.AddCosts(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AddCostsResponse{Items: items})
}

// TaskCostSummary handles GET /rpc/v1/costs/tasks?organization_id=&service_name=&task_name=
func (h *Handlers) TaskCostSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Ledger.TaskCostSummary(r.Context(), listFilter(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Health handles GET /health. Any failing check turns the response into 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.Checks))
	for _, hc := range h.Checks {
		if err := hc.Check(ctx); err != nil {
			checks[hc.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[hc.Name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

func listFilter(r *http.Request) run.ListFilter {
	q := r.URL.Query()
	return run.ListFilter{
		OrganizationID: q.Get("organization_id"),
		ServiceName:    q.Get("service_name"),
		TaskName:       q.Get("task_name"),
	}
}
