package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	rlhttp "github.com/outboundly/runledger/internal/adapter/http"
	rlnats "github.com/outboundly/runledger/internal/adapter/nats"
	"github.com/outboundly/runledger/internal/adapter/natskv"
	rlotel "github.com/outboundly/runledger/internal/adapter/otel"
	"github.com/outboundly/runledger/internal/adapter/postgres"
	"github.com/outboundly/runledger/internal/adapter/ristretto"
	"github.com/outboundly/runledger/internal/adapter/tiered"
	"github.com/outboundly/runledger/internal/config"
	"github.com/outboundly/runledger/internal/logger"
	"github.com/outboundly/runledger/internal/service"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate", "catalog", "campaign", "cost", "help", "--help":
			if err := runAdmin(os.Args[1:]); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"scheduler", cfg.Scheduler.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := rlotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := rlotel.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := rlnats.Connect(ctx, cfg.NATS)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	idemKV, err := queue.KeyValue(ctx, cfg.NATS.IdempotencyBucket, cfg.NATS.IdempotencyTTL)
	if err != nil {
		return fmt.Errorf("idempotency bucket: %w", err)
	}
	catalogKV, err := queue.KeyValue(ctx, cfg.NATS.CatalogBucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("catalog bucket: %w", err)
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	prices := tiered.New(l1, natskv.New(catalogKV), cfg.Cache.CatalogTTL)

	// --- Services ---

	store := postgres.NewStore(pool)
	catalog := service.NewCachedCatalog(store, prices, cfg.Cache.CatalogTTL)
	ledgerSvc := service.NewLedgerService(store, catalog, cfg.Ledger.MaxBatchSize)
	ledgerSvc.SetMetrics(metrics)

	checks := []rlhttp.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "nats", Check: func(context.Context) error {
			if !queue.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}},
	}

	var scheduler *service.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = service.NewScheduler(store, ledgerSvc, queue, cfg.Scheduler)
		scheduler.SetMetrics(metrics)
		scheduler.Start(ctx)
		checks = append(checks, rlhttp.HealthCheck{Name: "scheduler", Check: schedulerCheck(scheduler, cfg.Scheduler.Interval)})
	}

	// --- HTTP ---

	handlers := &rlhttp.Handlers{Ledger: ledgerSvc, Checks: checks}

	opts := rlhttp.RouterOptions{Idempotency: idemKV}
	if cfg.OTEL.Enabled {
		opts.ServiceName = cfg.OTEL.ServiceName
	}
	r := rlhttp.NewRouter(handlers, opts)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop intake first, then the scheduler, then flush queued publishes.
	err = srv.Shutdown(shutdownCtx)
	if scheduler != nil {
		scheduler.Stop()
	}
	if derr := queue.Drain(); derr != nil {
		slog.Warn("nats drain", "error", derr)
	}
	return err
}

// schedulerCheck reports the scheduler unhealthy when it has missed three
// consecutive ticks.
func schedulerCheck(s *service.Scheduler, interval time.Duration) func(context.Context) error {
	started := time.Now()
	return func(context.Context) error {
		last := s.LastTick()
		if last.IsZero() {
			if time.Since(started) > 3*interval {
				return errors.New("no tick completed")
			}
			return nil
		}
		if age := time.Since(last); age > 3*interval {
			return fmt.Errorf("last tick %s ago", age.Round(time.Second))
		}
		return nil
	}
}
