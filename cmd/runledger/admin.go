package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	rlnats "github.com/outboundly/runledger/internal/adapter/nats"
	"github.com/outboundly/runledger/internal/adapter/natskv"
	"github.com/outboundly/runledger/internal/adapter/postgres"
	"github.com/outboundly/runledger/internal/config"
	"github.com/outboundly/runledger/internal/domain/campaign"
	"github.com/outboundly/runledger/internal/port/catalog"
	"github.com/outboundly/runledger/internal/service"
	"github.com/outboundly/runledger/pkg/costposter"
	"github.com/outboundly/runledger/pkg/ledger"
	"github.com/outboundly/runledger/pkg/ledgerclient"
)

// runAdmin dispatches operator subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runMigrate(args[1:])
	case "catalog":
		return runCatalog(args[1:])
	case "campaign":
		return runCampaign(args[1:])
	case "cost":
		return runCost(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: runledger [flags]            start the ledger server
       runledger <command> [options]

Commands:
  migrate up                         Apply pending migrations
  migrate down [-steps N]            Roll back N migrations (default 1)
  migrate version                    Print the current schema version
  catalog set <name> <unit_cents>    Register or reprice a cost name
  catalog list [-json]               List the cost catalog
  campaign upsert [options]          Register a recurring campaign
  cost track [options] name=qty...   Post costs under a child run via ledger.url
  help                               Show this help message

Examples:
  runledger migrate up
  runledger catalog set leadmagic_email_finder 5
  runledger campaign upsert -org 7d0c... -id spring-push -recurrence weekly
  runledger cost track -tenant acme -parent 9f1e... -service lead-service -task search lead_search=3
`)
}

func loadAdminConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func loadAdminStore(ctx context.Context) (*postgres.Store, *config.Config, func(), error) {
	cfg, err := loadAdminConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return postgres.NewStore(pool), cfg, pool.Close, nil
}

func runMigrate(args []string) error {
	if len(args) == 0 {
		printAdminHelp()
		return fmt.Errorf("migrate: missing direction")
	}
	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch args[0] {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Migrations applied")
		return nil
	case "down":
		fs := flag.NewFlagSet("migrate down", flag.ContinueOnError)
		steps := fs.Int("steps", 1, "number of migrations to roll back")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *steps < 1 {
			return fmt.Errorf("-steps must be at least 1")
		}
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *steps)
		return nil
	case "version":
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	default:
		return fmt.Errorf("unknown migrate direction: %s", args[0])
	}
}

func runCatalog(args []string) error {
	if len(args) == 0 {
		printAdminHelp()
		return fmt.Errorf("catalog: missing subcommand")
	}
	switch args[0] {
	case "set":
		return runCatalogSet(args[1:])
	case "list":
		return runCatalogList(args[1:])
	default:
		return fmt.Errorf("unknown catalog command: %s", args[0])
	}
}

func runCatalogSet(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: catalog set <name> <unit_cents>")
	}
	name := args[0]
	cents, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || cents < 0 {
		return fmt.Errorf("unit_cents must be a non-negative integer, got %q", args[1])
	}

	ctx := context.Background()
	store, cfg, cleanup, err := loadAdminStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.RegisterCostName(ctx, name, cents); err != nil {
		return fmt.Errorf("register cost name: %w", err)
	}
	fmt.Fprintf(os.Stderr, "%s = %d cents\n", name, cents)

	// Drop the shared L2 entry so ledgers pick up the new price once their
	// local L1 copy expires. A missing NATS only delays the reprice.
	if err := invalidateSharedPrice(ctx, cfg, store, name); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cache not invalidated: %v\n", err)
	}
	return nil
}

// invalidateSharedPrice drops name from the shared catalog cache bucket.
func invalidateSharedPrice(ctx context.Context, cfg *config.Config, source catalog.Catalog, name string) error {
	queue, err := rlnats.Connect(ctx, cfg.NATS)
	if err != nil {
		return err
	}
	defer func() { _ = queue.Close() }()

	kv, err := queue.KeyValue(ctx, cfg.NATS.CatalogBucket, cfg.Cache.L2TTL)
	if err != nil {
		return err
	}
	return service.NewCachedCatalog(source, natskv.New(kv), cfg.Cache.CatalogTTL).Invalidate(ctx, name)
}

func runCatalogList(args []string) error {
	fs := flag.NewFlagSet("catalog list", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print JSON even on a terminal")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	store, _, cleanup, err := loadAdminStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := store.ListCostCatalog(ctx)
	if err != nil {
		return fmt.Errorf("list catalog: %w", err)
	}

	if *asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	return printCatalog(os.Stdout, entries)
}

func printCatalog(out io.Writer, entries map[string]int64) error {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COST NAME\tUNIT CENTS")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\n", name, entries[name])
	}
	return w.Flush()
}

func runCampaign(args []string) error {
	if len(args) == 0 || args[0] != "upsert" {
		printAdminHelp()
		return fmt.Errorf("usage: campaign upsert [options]")
	}

	fs := flag.NewFlagSet("campaign upsert", flag.ContinueOnError)
	org := fs.String("org", "", "organization id (required)")
	id := fs.String("id", "", "campaign id (required)")
	recurrence := fs.String("recurrence", string(campaign.RecurrenceOneOff), "oneoff, daily, weekly or monthly")
	inactive := fs.Bool("inactive", false, "register the campaign as inactive")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	c := campaign.Campaign{
		OrganizationID: *org,
		CampaignID:     *id,
		Recurrence:     campaign.Recurrence(*recurrence),
	}
	if err := c.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	store, _, cleanup, err := loadAdminStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.UpsertRecurringCampaign(ctx, c, !*inactive); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Campaign %s registered (%s)\n", c.CampaignID, c.Recurrence)
	return nil
}

func runCost(args []string) error {
	if len(args) == 0 || args[0] != "track" {
		printAdminHelp()
		return fmt.Errorf("usage: cost track [options] name=qty...")
	}
	ta, err := parseCostTrack(args[1:])
	if err != nil {
		return err
	}

	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}
	if cfg.Ledger.URL == "" {
		return errors.New("cost track: ledger.url (RUNLEDGER_URL) is not set")
	}
	client := ledgerclient.New(ledgerclient.Options{
		URL:            cfg.Ledger.URL,
		Timeout:        cfg.Ledger.ClientTimeout,
		MaxFailures:    cfg.Breaker.MaxFailures,
		BreakerTimeout: cfg.Breaker.Timeout,
	})
	return trackCost(context.Background(), client, ta)
}

// costTrack is a parsed "cost track" invocation.
type costTrack struct {
	req    costposter.TrackRequest
	tenant string
	failed string
}

func parseCostTrack(args []string) (costTrack, error) {
	fs := flag.NewFlagSet("cost track", flag.ContinueOnError)
	org := fs.String("org", "", "organization id")
	tenant := fs.String("tenant", "", "tenant external id, resolved to an organization")
	parent := fs.String("parent", "", "parent run id (required)")
	svc := fs.String("service", "", "service name (required)")
	task := fs.String("task", "", "task name (required)")
	failed := fs.String("failed", "", "record the work as failed with this note")
	if err := fs.Parse(args); err != nil {
		return costTrack{}, err
	}

	switch {
	case (*org == "") == (*tenant == ""):
		return costTrack{}, errors.New("exactly one of -org or -tenant is required")
	case *parent == "":
		return costTrack{}, errors.New("-parent is required")
	case *svc == "" || *task == "":
		return costTrack{}, errors.New("-service and -task are required")
	}

	items, err := parseCostItems(fs.Args())
	if err != nil {
		return costTrack{}, err
	}
	return costTrack{
		req: costposter.TrackRequest{
			OrganizationID: *org,
			ParentRunID:    *parent,
			ServiceName:    *svc,
			TaskName:       *task,
			Items:          items,
		},
		tenant: *tenant,
		failed: *failed,
	}, nil
}

// parseCostItems parses name=qty arguments.
func parseCostItems(args []string) ([]ledger.ItemInput, error) {
	items := make([]ledger.ItemInput, 0, len(args))
	for _, arg := range args {
		name, qty, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("cost item %q: want name=qty", arg)
		}
		n, err := strconv.ParseInt(qty, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("cost item %q: quantity must be a positive integer", arg)
		}
		items = append(items, ledger.ItemInput{CostName: name, Quantity: n})
	}
	return items, nil
}

// trackLedger is the slice of the ledger API cost track needs.
type trackLedger interface {
	ledger.Recorder
	EnsureOrganization(ctx context.Context, externalID string) (string, error)
	GetRunCost(ctx context.Context, id string) (*ledger.RunWithCosts, error)
}

func trackCost(ctx context.Context, l trackLedger, ta costTrack) error {
	if ta.tenant != "" {
		orgID, err := l.EnsureOrganization(ctx, ta.tenant)
		if err != nil {
			return fmt.Errorf("resolve tenant %s: %w", ta.tenant, err)
		}
		ta.req.OrganizationID = orgID
	}

	poster := costposter.New(l)
	var (
		runID string
		err   error
	)
	if ta.failed != "" {
		runID, err = poster.TrackFailure(ctx, ta.req, errors.New(ta.failed))
	} else {
		runID, err = poster.Track(ctx, ta.req, nil)
	}
	if err != nil {
		return err
	}

	rc, err := l.GetRunCost(ctx, runID)
	if err != nil {
		return fmt.Errorf("read back run %s: %w", runID, err)
	}
	fmt.Printf("%s\t%s\t%d\n", rc.ID, rc.Status, rc.TotalCostInUSDCents)
	return nil
}
