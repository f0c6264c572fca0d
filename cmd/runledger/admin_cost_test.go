package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	rlnats "github.com/outboundly/runledger/internal/adapter/nats"
	"github.com/outboundly/runledger/internal/adapter/natskv"
	"github.com/outboundly/runledger/internal/config"
	"github.com/outboundly/runledger/pkg/costposter"
	"github.com/outboundly/runledger/pkg/ledger"
)

// fakeLedger records what cost track sends and prices every item at 2 cents.
type fakeLedger struct {
	tenants map[string]string
	runs    map[string]*ledger.RunWithCosts
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		tenants: map[string]string{"acme": "org-acme"},
		runs:    make(map[string]*ledger.RunWithCosts),
	}
}

func (f *fakeLedger) EnsureOrganization(_ context.Context, externalID string) (string, error) {
	id, ok := f.tenants[externalID]
	if !ok {
		return "", ledger.ErrValidation
	}
	return id, nil
}

func (f *fakeLedger) CreateRun(_ context.Context, req ledger.CreateRequest) (*ledger.Run, error) {
	r := ledger.Run{
		ID:             fmt.Sprintf("run-%d", len(f.runs)+1),
		OrganizationID: req.OrganizationID,
		ServiceName:    req.ServiceName,
		TaskName:       req.TaskName,
		ParentRunID:    req.ParentRunID,
		Status:         ledger.StatusRunning,
	}
	f.runs[r.ID] = &ledger.RunWithCosts{Run: r}
	return &r, nil
}

func (f *fakeLedger) UpdateRun(_ context.Context, id string, req ledger.UpdateRequest) (*ledger.Run, error) {
	rc, ok := f.runs[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	rc.Status = req.Status
	rc.Error = req.Error
	r := rc.Run
	return &r, nil
}

func (f *fakeLedger) AddCosts(_ context.Context, runID string, req ledger.AddRequest) ([]ledger.Item, error) {
	rc, ok := f.runs[runID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	for _, in := range req.Items {
		rc.TotalCostInUSDCents += 2 * in.Quantity
	}
	return make([]ledger.Item, len(req.Items)), nil
}

func (f *fakeLedger) GetRunCost(_ context.Context, id string) (*ledger.RunWithCosts, error) {
	rc, ok := f.runs[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return rc, nil
}

func TestTrackCost(t *testing.T) {
	items := []ledger.ItemInput{{CostName: "lead_search", Quantity: 3}}

	tests := []struct {
		name       string
		ta         costTrack
		wantErr    error
		wantOrg    string
		wantStatus ledger.Status
		wantNote   string
	}{
		{
			name:       "tenant resolved and completed",
			ta:         costTrack{tenant: "acme", req: costposter.TrackRequest{ParentRunID: "p", ServiceName: "s", TaskName: "t", Items: items}},
			wantOrg:    "org-acme",
			wantStatus: ledger.StatusCompleted,
		},
		{
			name:       "failed note",
			ta:         costTrack{failed: "vendor timeout", req: costposter.TrackRequest{OrganizationID: "org-1", ParentRunID: "p", ServiceName: "s", TaskName: "t", Items: items}},
			wantOrg:    "org-1",
			wantStatus: ledger.StatusFailed,
			wantNote:   "vendor timeout",
		},
		{
			name:    "unknown tenant",
			ta:      costTrack{tenant: "nobody"},
			wantErr: ledger.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLedger()
			err := trackCost(context.Background(), l, tt.ta)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if len(l.runs) != 0 {
					t.Fatal("no run may be opened for an unresolved tenant")
				}
				return
			}
			if err != nil {
				t.Fatalf("trackCost: %v", err)
			}
			rc := l.runs["run-1"]
			if rc == nil {
				t.Fatal("expected run-1")
			}
			if rc.OrganizationID != tt.wantOrg || rc.Status != tt.wantStatus || rc.Error != tt.wantNote {
				t.Errorf("run = %+v", rc.Run)
			}
			if rc.TotalCostInUSDCents != 6 {
				t.Errorf("total = %d, want 6", rc.TotalCostInUSDCents)
			}
		})
	}
}

func TestInvalidateSharedPrice(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	ctx := context.Background()
	d := config.Defaults()
	cfg := &d
	cfg.NATS.URL = url
	cfg.NATS.Stream = "RUNLEDGER_TEST"
	cfg.NATS.CatalogBucket = "catalog_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	queue, err := rlnats.Connect(ctx, cfg.NATS)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = queue.Close() })
	kv, err := queue.KeyValue(ctx, cfg.NATS.CatalogBucket, cfg.Cache.L2TTL)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}
	shared := natskv.New(kv)
	if err := shared.Set(ctx, "lead_search", 4, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := invalidateSharedPrice(ctx, cfg, nil, "lead_search"); err != nil {
		t.Fatalf("invalidateSharedPrice: %v", err)
	}
	if _, ok, err := shared.Get(ctx, "lead_search"); err != nil || ok {
		t.Fatalf("price still cached: ok=%v err=%v", ok, err)
	}
}
