package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	rlotel "github.com/outboundly/runledger/internal/adapter/otel"
	"github.com/outboundly/runledger/internal/config"
	"github.com/outboundly/runledger/internal/domain"
	"github.com/outboundly/runledger/internal/domain/campaign"
	"github.com/outboundly/runledger/internal/domain/run"
	campaignport "github.com/outboundly/runledger/internal/port/campaign"
	"github.com/outboundly/runledger/internal/port/ledger"
	"github.com/outboundly/runledger/internal/port/messagequeue"
)

// Scheduler relaunches recurring campaigns. Each tick it lists the active
// campaigns, decides from run history whether a new root run is due and, if
// so, opens the root run and enqueues one execution job. The only state it
// keeps is the time of the last completed tick.
type Scheduler struct {
	registry campaignport.Registry
	ledger   ledger.Ledger
	queue    messagequeue.Queue
	metrics  *rlotel.Metrics

	interval       time.Duration
	maxConcurrency int
	serviceName    string
	loc            *time.Location
	now            func() time.Time // for testing

	mu       sync.Mutex
	lastTick time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a Scheduler from its collaborators and configuration.
func NewScheduler(registry campaignport.Registry, l ledger.Ledger, queue messagequeue.Queue, cfg config.Scheduler) *Scheduler {
	maxConc := cfg.MaxConcurrency
	if maxConc < 1 {
		maxConc = 1
	}
	return &Scheduler{
		registry:       registry,
		ledger:         l,
		queue:          queue,
		interval:       cfg.Interval,
		maxConcurrency: maxConc,
		serviceName:    cfg.ServiceName,
		loc:            cfg.Location(),
		now:            time.Now,
		stop:           make(chan struct{}),
	}
}

// SetMetrics enables metric recording.
func (s *Scheduler) SetMetrics(m *rlotel.Metrics) {
	s.metrics = m
}

// Start runs a tick immediately and then every interval until Stop is called
// or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tickLogged(ctx)
		for {
			select {
			case <-ticker.C:
				s.tickLogged(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("recurrence scheduler started", "interval", s.interval, "max_concurrency", s.maxConcurrency)
}

// Stop stops the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}

// LastTick returns the time of the last completed tick, or the zero time.
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

func (s *Scheduler) tickLogged(ctx context.Context) {
	if err := s.Tick(ctx); err != nil {
		slog.Error("scheduler tick failed", "error", err)
	}
}

// Tick evaluates every active recurring campaign once. Campaigns are handled
// concurrently up to the configured limit; a failure for one campaign is
// logged and does not affect the others. Only a registry failure is returned.
func (s *Scheduler) Tick(ctx context.Context) (err error) {
	now := s.now()

	ctx, span := rlotel.StartTickSpan(ctx)
	defer func() { rlotel.EndSpan(span, err) }()

	campaigns, err := s.registry.ListActiveRecurring(ctx)
	if err != nil {
		return fmt.Errorf("list active campaigns: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(s.maxConcurrency)
	for _, c := range campaigns {
		g.Go(func() error {
			s.evaluate(ctx, c, now)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SchedulerTickDuration.Record(ctx, s.now().Sub(now).Seconds())
	}
	slog.Debug("scheduler tick done", "campaigns", len(campaigns))
	return nil
}

// evaluate dispatches c if it is due at now.
func (s *Scheduler) evaluate(ctx context.Context, c campaign.Campaign, now time.Time) {
	ctx, span := rlotel.StartCampaignSpan(ctx, c.OrganizationID, c.CampaignID, string(c.Recurrence))
	var spanErr error
	defer func() { rlotel.EndSpan(span, spanErr) }()

	log := slog.With("organization_id", c.OrganizationID, "campaign_id", c.CampaignID, "recurrence", c.Recurrence)

	if err := c.Validate(); err != nil {
		log.Warn("skipping invalid campaign", "error", err)
		return
	}

	runs, err := s.ledger.ListRuns(ctx, run.ListFilter{
		OrganizationID: c.OrganizationID,
		ServiceName:    s.serviceName,
		TaskName:       c.CampaignID,
	})
	if err != nil {
		spanErr = err
		log.Error("list campaign runs", "error", err)
		return
	}

	history := make([]time.Time, len(runs))
	for i := range runs {
		history[i] = runs[i].StartedAt
	}

	due, err := campaign.IsDue(c.Recurrence, history, now, s.loc)
	if err != nil {
		log.Warn("skipping campaign", "error", err)
		return
	}
	if !due {
		return
	}

	spanErr = s.dispatch(ctx, log, c, now)
}

// dispatch opens the root run for the current period and enqueues the job.
// A period already claimed by another tick is not an error.
func (s *Scheduler) dispatch(ctx context.Context, log *slog.Logger, c campaign.Campaign, now time.Time) error {
	periodKey := campaign.PeriodKey(c.Recurrence, now, s.loc)

	root, err := s.ledger.CreateRun(ctx, run.CreateRequest{
		OrganizationID: c.OrganizationID,
		ServiceName:    s.serviceName,
		TaskName:       c.CampaignID,
		PeriodKey:      periodKey,
	})
	if errors.Is(err, domain.ErrConflict) {
		log.Info("campaign period already dispatched", "period_key", periodKey)
		return nil
	}
	if err != nil {
		log.Error("create root run", "period_key", periodKey, "error", err)
		return err
	}

	data, err := json.Marshal(messagequeue.CampaignExecutePayload{
		CampaignID:     c.CampaignID,
		OrganizationID: c.OrganizationID,
		RunID:          root.ID,
		PeriodKey:      periodKey,
		Recurrence:     string(c.Recurrence),
	})
	if err == nil {
		err = s.queue.Publish(ctx, messagequeue.SubjectCampaignExecute, data)
	}
	if err != nil {
		log.Error("enqueue campaign execution",
			"event", "campaign_dispatch_failed", "run_id", root.ID, "period_key", periodKey, "error", err)
		if _, uerr := s.ledger.UpdateRun(ctx, root.ID, run.UpdateRequest{
			Status: run.StatusFailed,
			Error:  "enqueue: " + err.Error(),
		}); uerr != nil {
			log.Error("mark root run failed", "run_id", root.ID, "error", uerr)
		}
		return err
	}

	if s.metrics != nil {
		s.metrics.SchedulerDispatches.Add(ctx, 1, metric.WithAttributes(
			attribute.String("recurrence", string(c.Recurrence)),
		))
	}
	log.Info("campaign dispatched", "run_id", root.ID, "period_key", periodKey)
	return nil
}
