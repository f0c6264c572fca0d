package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	rlhttp "github.com/outboundly/runledger/internal/adapter/http"
	"github.com/outboundly/runledger/internal/domain"
	"github.com/outboundly/runledger/internal/domain/cost"
	"github.com/outboundly/runledger/internal/domain/run"
)

// mockLedger implements rlhttp.LedgerAPI for testing.
type mockLedger struct {
	mu      sync.Mutex
	runs    map[string]run.Run
	prices  map[string]int64
	items   []cost.Item
	nextID  int
	lastCtx context.Context
	failAll error
}

func newMockLedger() *mockLedger {
	return &mockLedger{runs: make(map[string]run.Run), prices: map[string]int64{"lead_search": 3}}
}

func (m *mockLedger) EnsureOrganization(_ context.Context, externalID string) (string, error) {
	if m.failAll != nil {
		return "", m.failAll
	}
	return "org-" + externalID, nil
}

func (m *mockLedger) CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCtx = ctx
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m.nextID++
	r := run.Run{
		ID:             fmt.Sprintf("run-%d", m.nextID),
		OrganizationID: req.OrganizationID,
		ServiceName:    req.ServiceName,
		TaskName:       req.TaskName,
		ParentRunID:    req.ParentRunID,
		Status:         run.StatusRunning,
		StartedAt:      time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	m.runs[r.ID] = r
	return &r, nil
}

func (m *mockLedger) UpdateRun(_ context.Context, id string, req run.UpdateRequest) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	changed, err := run.Transition(r.Status, req.Status)
	if err != nil {
		return &r, err
	}
	if changed {
		r.Status = req.Status
		r.Error = req.Error
		m.runs[id] = r
	}
	return &r, nil
}

func (m *mockLedger) AddCosts(_ context.Context, runID string, req cost.AddRequest) ([]cost.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	items, err := cost.Price(runID, req.Items, m.prices)
	if err != nil {
		return nil, err
	}
	m.items = append(m.items, items...)
	return items, nil
}

func (m *mockLedger) GetRun(_ context.Context, id string) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	r, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return &r, nil
}

func (m *mockLedger) ListRuns(_ context.Context, f run.ListFilter) ([]run.Run, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []run.Run
	for _, r := range m.runs {
		if r.OrganizationID == f.OrganizationID && r.ServiceName == f.ServiceName {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockLedger) GetRunsBatch(_ context.Context, ids []string) (map[string]cost.RunWithCosts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]cost.RunWithCosts)
	for _, id := range ids {
		if r, ok := m.runs[id]; ok {
			out[id] = cost.RunWithCosts{Run: r, Costs: []cost.Breakdown{}}
		}
	}
	return out, nil
}

func (m *mockLedger) GetRunCost(ctx context.Context, id string) (*cost.RunWithCosts, error) {
	batch, _ := m.GetRunsBatch(ctx, []string{id})
	rc, ok := batch[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return &rc, nil
}

func (m *mockLedger) TaskCostSummary(_ context.Context, f run.ListFilter) (*cost.Summary, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &cost.Summary{RunCount: 2, TotalCostInUSDCents: 40}, nil
}

func newTestRouter(l *mockLedger, checks ...rlhttp.HealthCheck) http.Handler {
	return rlhttp.NewRouter(&rlhttp.Handlers{Ledger: l, Checks: checks}, rlhttp.RouterOptions{})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestEnsureOrganization(t *testing.T) {
	h := newTestRouter(newMockLedger())

	rec := do(t, h, http.MethodPost, "/rpc/v1/organizations/ensure", rlhttp.EnsureOrganizationRequest{ExternalID: "tenant-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[rlhttp.EnsureOrganizationResponse](t, rec); got.OrganizationID != "org-tenant-1" {
		t.Fatalf("organization_id = %q", got.OrganizationID)
	}

	rec = do(t, h, http.MethodPost, "/rpc/v1/organizations/ensure", rlhttp.EnsureOrganizationRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing external_id, got %d", rec.Code)
	}
}

func TestRunLifecycle(t *testing.T) {
	l := newMockLedger()
	h := newTestRouter(l)

	rec := do(t, h, http.MethodPost, "/rpc/v1/runs", run.CreateRequest{
		OrganizationID: "org-1", ServiceName: "lead-service", TaskName: "search",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[run.Run](t, rec)
	if created.Status != run.StatusRunning {
		t.Fatalf("status = %s", created.Status)
	}

	rec = do(t, h, http.MethodGet, "/rpc/v1/runs/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	for range 2 {
		rec = do(t, h, http.MethodPost, "/rpc/v1/runs/"+created.ID+"/status", run.UpdateRequest{Status: run.StatusCompleted})
		if rec.Code != http.StatusOK {
			t.Fatalf("complete: expected 200, got %d", rec.Code)
		}
	}

	rec = do(t, h, http.MethodPost, "/rpc/v1/runs/"+created.ID+"/status", run.UpdateRequest{Status: run.StatusFailed})
	if rec.Code != http.StatusConflict {
		t.Fatalf("fail after complete: expected 409, got %d", rec.Code)
	}
	if got := decode[rlhttp.ErrorResponse](t, rec); got.Code != rlhttp.CodeConflict {
		t.Fatalf("code = %q", got.Code)
	}
}

func TestRequestIDReachesService(t *testing.T) {
	l := newMockLedger()
	h := newTestRouter(l)

	req := httptest.NewRequest(http.MethodPost, "/rpc/v1/runs",
		strings.NewReader(`{"organization_id":"o","service_name":"s","task_name":"t"}`))
	req.Header.Set("X-Request-ID", "req-abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") != "req-abc" {
		t.Fatal("expected request id echoed")
	}
	if l.lastCtx == nil {
		t.Fatal("service not called")
	}
}

func TestErrorMapping(t *testing.T) {
	l := newMockLedger()
	h := newTestRouter(l)
	r, _ := l.CreateRun(context.Background(), run.CreateRequest{OrganizationID: "o", ServiceName: "s", TaskName: "t"})

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"unknown run", http.MethodGet, "/rpc/v1/runs/nope", nil, http.StatusNotFound, rlhttp.CodeNotFound},
		{"unknown run status", http.MethodPost, "/rpc/v1/runs/nope/status", run.UpdateRequest{Status: run.StatusCompleted}, http.StatusNotFound, rlhttp.CodeNotFound},
		{"non-terminal target", http.MethodPost, "/rpc/v1/runs/" + r.ID + "/status", run.UpdateRequest{Status: run.StatusRunning}, http.StatusBadRequest, rlhttp.CodeValidation},
		{"missing task name", http.MethodPost, "/rpc/v1/runs", run.CreateRequest{OrganizationID: "o", ServiceName: "s"}, http.StatusBadRequest, rlhttp.CodeValidation},
		{"malformed body", http.MethodPost, "/rpc/v1/runs", "{not json", http.StatusBadRequest, rlhttp.CodeValidation},
		{"unregistered cost", http.MethodPost, "/rpc/v1/runs/" + r.ID + "/costs", cost.AddRequest{Items: []cost.ItemInput{{CostName: "mystery", Quantity: 1}}}, http.StatusBadRequest, rlhttp.CodeNotRegistered},
		{"list without service", http.MethodGet, "/rpc/v1/runs?organization_id=o", nil, http.StatusBadRequest, rlhttp.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if got := decode[rlhttp.ErrorResponse](t, rec); got.Code != tt.wantErr {
				t.Fatalf("code = %q, want %q", got.Code, tt.wantErr)
			}
		})
	}
}

func TestInternalErrorHidden(t *testing.T) {
	l := newMockLedger()
	l.failAll = errors.New("pq: connection refused to 10.0.0.5")
	h := newTestRouter(l)

	rec := do(t, h, http.MethodGet, "/rpc/v1/runs/x", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Fatal("internal error detail leaked to client")
	}
}

func TestAddCostsAndBatch(t *testing.T) {
	l := newMockLedger()
	h := newTestRouter(l)
	r, _ := l.CreateRun(context.Background(), run.CreateRequest{OrganizationID: "o", ServiceName: "s", TaskName: "t"})

	rec := do(t, h, http.MethodPost, "/rpc/v1/runs/"+r.ID+"/costs", cost.AddRequest{
		Items: []cost.ItemInput{{CostName: "lead_search", Quantity: 4}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	added := decode[rlhttp.AddCostsResponse](t, rec)
	if len(added.Items) != 1 || added.Items[0].TotalCostInUSDCents != 12 {
		t.Fatalf("unexpected items %+v", added.Items)
	}

	rec = do(t, h, http.MethodPost, "/rpc/v1/runs/batch", rlhttp.BatchRequest{IDs: []string{r.ID, "missing"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("batch: expected 200, got %d", rec.Code)
	}
	batch := decode[rlhttp.BatchResponse](t, rec)
	if _, ok := batch.Runs[r.ID]; !ok || len(batch.Runs) != 1 {
		t.Fatalf("unexpected batch %+v", batch.Runs)
	}

	rec = do(t, h, http.MethodGet, "/rpc/v1/runs/"+r.ID+"/cost", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run cost: expected 200, got %d", rec.Code)
	}
}

func TestListRunsEmptyIsArray(t *testing.T) {
	h := newTestRouter(newMockLedger())

	rec := do(t, h, http.MethodGet, "/rpc/v1/runs?organization_id=o&service_name=s", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"runs":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestTaskCostSummary(t *testing.T) {
	h := newTestRouter(newMockLedger())

	rec := do(t, h, http.MethodGet, "/rpc/v1/costs/tasks?organization_id=o&service_name=campaign-service&task_name=c1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[cost.Summary](t, rec)
	if got.RunCount != 2 || got.TotalCostInUSDCents != 40 {
		t.Fatalf("unexpected summary %+v", got)
	}
}

func TestHealth(t *testing.T) {
	ok := rlhttp.HealthCheck{Name: "postgres", Check: func(context.Context) error { return nil }}
	down := rlhttp.HealthCheck{Name: "nats", Check: func(context.Context) error { return errors.New("disconnected") }}

	rec := do(t, newTestRouter(newMockLedger(), ok), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = do(t, newTestRouter(newMockLedger(), ok, down), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "degraded" {
		t.Fatalf("status = %v", body["status"])
	}
}

func TestVersionEndpoint(t *testing.T) {
	rec := do(t, newTestRouter(newMockLedger()), http.MethodGet, "/rpc/v1/", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "version") {
		t.Fatalf("unexpected %d %s", rec.Code, rec.Body.String())
	}
}
