package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outboundly/runledger/internal/domain"
	"github.com/outboundly/runledger/internal/domain/campaign"
	"github.com/outboundly/runledger/internal/domain/cost"
	"github.com/outboundly/runledger/internal/domain/organization"
	"github.com/outboundly/runledger/internal/domain/run"
	"github.com/outboundly/runledger/internal/port/messagequeue"
)

// mockStore implements database.Store in memory with the same validation and
// conflict rules as the Postgres store.
type mockStore struct {
	mu    sync.Mutex
	orgs  map[string]organization.Organization // by external id
	runs  map[string]run.Run
	items []cost.Item
	now   func() time.Time

	listErr   map[string]error // ListRuns error by organization id
	insertErr error

	calls map[string]int
}

func newMockStore() *mockStore {
	return &mockStore{
		orgs:    make(map[string]organization.Organization),
		runs:    make(map[string]run.Run),
		now:     time.Now,
		listErr: make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (m *mockStore) called(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockStore) EnsureOrganization(_ context.Context, externalID string) (*organization.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["EnsureOrganization"]++
	if o, ok := m.orgs[externalID]; ok {
		return &o, nil
	}
	o := organization.Organization{ID: uuid.NewString(), ExternalID: externalID, CreatedAt: m.now()}
	m.orgs[externalID] = o
	return &o, nil
}

func (m *mockStore) CreateRun(_ context.Context, req run.CreateRequest) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CreateRun"]++

	if req.ParentRunID != nil {
		parent, ok := m.runs[*req.ParentRunID]
		if !ok {
			return nil, fmt.Errorf("parent run %s not found: %w", *req.ParentRunID, domain.ErrValidation)
		}
		if parent.OrganizationID != req.OrganizationID {
			return nil, fmt.Errorf("parent run in other organization: %w", domain.ErrValidation)
		}
	}
	if req.PeriodKey != "" {
		for _, r := range m.runs {
			if r.OrganizationID == req.OrganizationID && r.ServiceName == req.ServiceName &&
				r.TaskName == req.TaskName && r.PeriodKey == req.PeriodKey {
				return nil, fmt.Errorf("period %s already claimed: %w", req.PeriodKey, domain.ErrConflict)
			}
		}
	}

	r := run.Run{
		ID:             uuid.NewString(),
		OrganizationID: req.OrganizationID,
		ServiceName:    req.ServiceName,
		TaskName:       req.TaskName,
		ParentRunID:    req.ParentRunID,
		Status:         run.StatusRunning,
		PeriodKey:      req.PeriodKey,
		StartedAt:      m.now(),
	}
	m.runs[r.ID] = r
	return &r, nil
}

// seedRun inserts a run with an explicit start time.
func (m *mockStore) seedRun(r run.Run) run.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = run.StatusRunning
	}
	m.runs[r.ID] = r
	return r
}

func (m *mockStore) GetRun(_ context.Context, id string) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetRun"]++
	r, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("get run %s: %w", id, domain.ErrNotFound)
	}
	return &r, nil
}

func (m *mockStore) UpdateRunStatus(_ context.Context, id string, req run.UpdateRequest) (*run.Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["UpdateRunStatus"]++
	r, ok := m.runs[id]
	if !ok {
		return nil, false, fmt.Errorf("update run %s: %w", id, domain.ErrNotFound)
	}
	changed, err := run.Transition(r.Status, req.Status)
	if err != nil {
		return &r, false, fmt.Errorf("update run %s: %w", id, err)
	}
	if !changed {
		return &r, false, nil
	}
	now := m.now()
	r.Status = req.Status
	r.Error = req.Error
	r.CompletedAt = &now
	m.runs[id] = r
	return &r, true, nil
}

func (m *mockStore) ListRuns(_ context.Context, filter run.ListFilter) ([]run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ListRuns"]++
	if err := m.listErr[filter.OrganizationID]; err != nil {
		return nil, err
	}
	out := []run.Run{}
	for _, r := range m.runs {
		if r.OrganizationID == filter.OrganizationID && r.ServiceName == filter.ServiceName &&
			(filter.TaskName == "" || r.TaskName == filter.TaskName) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *mockStore) GetRunsByIDs(_ context.Context, ids []string) ([]run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetRunsByIDs"]++
	out := []run.Run{}
	for _, id := range ids {
		if r, ok := m.runs[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) RunClosure(_ context.Context, ids []string) ([]cost.Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["RunClosure"]++

	children := make(map[string][]string)
	for _, r := range m.runs {
		if r.ParentRunID != nil {
			children[*r.ParentRunID] = append(children[*r.ParentRunID], r.ID)
		}
	}

	seen := make(map[string]bool)
	queue := append([]string(nil), ids...)
	edges := []cost.Edge{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		r, ok := m.runs[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		e := cost.Edge{ID: id}
		if r.ParentRunID != nil {
			e.ParentID = *r.ParentRunID
		}
		edges = append(edges, e)
		queue = append(queue, children[id]...)
	}
	return edges, nil
}

func (m *mockStore) InsertCostItems(_ context.Context, items []cost.Item) ([]cost.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["InsertCostItems"]++
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	out := make([]cost.Item, len(items))
	for i := range items {
		if _, ok := m.runs[items[i].RunID]; !ok {
			return nil, fmt.Errorf("run %s: %w", items[i].RunID, domain.ErrNotFound)
		}
		out[i] = items[i]
		out[i].ID = uuid.NewString()
		out[i].CreatedAt = m.now()
	}
	m.items = append(m.items, out...)
	return out, nil
}

func (m *mockStore) ListCostItems(_ context.Context, runIDs []string) ([]cost.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ListCostItems"]++
	want := make(map[string]bool, len(runIDs))
	for _, id := range runIDs {
		want[id] = true
	}
	out := []cost.Item{}
	for _, it := range m.items {
		if want[it.RunID] {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockStore) itemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *mockStore) get(id string) run.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}

// mockCatalog implements catalog.Catalog over a fixed price list.
type mockCatalog struct {
	mu     sync.Mutex
	prices map[string]int64
	err    error
	asked  [][]string
}

func (c *mockCatalog) UnitCosts(_ context.Context, names []string) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asked = append(c.asked, append([]string(nil), names...))
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[string]int64)
	for _, n := range names {
		if p, ok := c.prices[n]; ok {
			out[n] = p
		}
	}
	return out, nil
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu        sync.Mutex
	published []struct {
		subject string
		data    []byte
	}
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

var _ messagequeue.Queue = (*mockQueue)(nil)

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published)
}

// mockRegistry implements campaign.Registry.
type mockRegistry struct {
	campaigns []campaign.Campaign
	err       error
}

func (r *mockRegistry) ListActiveRecurring(context.Context) ([]campaign.Campaign, error) {
	return r.campaigns, r.err
}

// captureHandler records slog records for assertions.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.mu.Lock()
	h.records = append(h.records, rec.Clone())
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &boundCapture{parent: h, attrs: attrs}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

// boundCapture carries attributes from slog.With into captured records.
type boundCapture struct {
	parent *captureHandler
	attrs  []slog.Attr
}

func (b *boundCapture) Enabled(context.Context, slog.Level) bool { return true }

func (b *boundCapture) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	rec = rec.Clone()
	rec.AddAttrs(b.attrs...)
	return b.parent.Handle(ctx, rec)
}

func (b *boundCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &boundCapture{parent: b.parent, attrs: append(append([]slog.Attr(nil), b.attrs...), attrs...)}
}

func (b *boundCapture) WithGroup(string) slog.Handler { return b }

// withEvent returns captured records carrying event=name.
func (h *captureHandler) withEvent(name string) []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []slog.Record
	for _, rec := range h.records {
		rec.Attrs(func(a slog.Attr) bool {
			if a.Key == "event" && a.Value.String() == name {
				out = append(out, rec)
				return false
			}
			return true
		})
	}
	return out
}

// captureLogs installs a capturing default logger for the duration of the test.
func captureLogs(t interface{ Cleanup(func()) }) *captureHandler {
	h := &captureHandler{}
	prev := slog.Default()
	slog.SetDefault(slog.New(h))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return h
}

func attrString(rec slog.Record, key string) string {
	var v string
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			v = a.Value.String()
			return false
		}
		return true
	})
	return v
}

var errBoom = errors.New("boom")
