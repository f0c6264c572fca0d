package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintCatalogSorted(t *testing.T) {
	var buf bytes.Buffer
	err := printCatalog(&buf, map[string]int64{
		"zerobounce_validate":    1,
		"leadmagic_email_finder": 5,
	})
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "leadmagic_email_finder") {
		t.Errorf("rows not sorted: %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], "1") {
		t.Errorf("unexpected row %q", lines[2])
	}
}

func TestRunAdminUnknownCommand(t *testing.T) {
	if err := runAdmin([]string{"frobnicate"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestRunCatalogSetRejectsBadPrice(t *testing.T) {
	tests := [][]string{
		{"only-name"},
		{"name", "abc"},
		{"name", "-3"},
	}
	for _, args := range tests {
		if err := runCatalogSet(args); err == nil {
			t.Errorf("runCatalogSet(%q): expected error", args)
		}
	}
}

func TestRunCampaignValidatesBeforeConnecting(t *testing.T) {
	err := runCampaign([]string{"upsert", "-org", "org-1", "-id", "c1", "-recurrence", "hourly"})
	if err == nil || !strings.Contains(err.Error(), "recurrence") {
		t.Fatalf("expected recurrence validation error, got %v", err)
	}
}

func TestParseCostTrack(t *testing.T) {
	base := []string{"-parent", "run-1", "-service", "lead-service", "-task", "search"}

	tests := []struct {
		name    string
		args    []string
		wantErr string
		check   func(t *testing.T, ta costTrack)
	}{
		{
			name: "org and items",
			args: append([]string{"-org", "org-1"}, append(base, "lead_search=3", "email_finder=1")...),
			check: func(t *testing.T, ta costTrack) {
				if ta.req.OrganizationID != "org-1" || ta.req.ParentRunID != "run-1" {
					t.Errorf("req = %+v", ta.req)
				}
				if len(ta.req.Items) != 2 || ta.req.Items[0].CostName != "lead_search" || ta.req.Items[0].Quantity != 3 {
					t.Errorf("items = %+v", ta.req.Items)
				}
			},
		},
		{
			name: "tenant failed no items",
			args: append([]string{"-tenant", "acme", "-failed", "vendor timeout"}, base...),
			check: func(t *testing.T, ta costTrack) {
				if ta.tenant != "acme" || ta.failed != "vendor timeout" || len(ta.req.Items) != 0 {
					t.Errorf("parsed = %+v", ta)
				}
			},
		},
		{name: "no org", args: base, wantErr: "-org or -tenant"},
		{name: "both org and tenant", args: append([]string{"-org", "o", "-tenant", "t"}, base...), wantErr: "-org or -tenant"},
		{name: "no parent", args: []string{"-org", "o", "-service", "s", "-task", "t"}, wantErr: "-parent"},
		{name: "no task", args: []string{"-org", "o", "-parent", "p", "-service", "s"}, wantErr: "-task"},
		{name: "bad item", args: append([]string{"-org", "o"}, append(base, "lead_search")...), wantErr: "name=qty"},
		{name: "zero quantity", args: append([]string{"-org", "o"}, append(base, "lead_search=0")...), wantErr: "positive"},
		{name: "empty name", args: append([]string{"-org", "o"}, append(base, "=2")...), wantErr: "name=qty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta, err := parseCostTrack(tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCostTrack: %v", err)
			}
			tt.check(t, ta)
		})
	}
}

func TestRunCostRequiresTrack(t *testing.T) {
	if err := runCost([]string{"post"}); err == nil {
		t.Fatal("expected usage error")
	}
}
