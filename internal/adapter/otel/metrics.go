package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "runledger"

// Metrics holds all run ledger metric instruments.
type Metrics struct {
	RunsCreated           metric.Int64Counter
	RunsCompleted         metric.Int64Counter
	RunsFailed            metric.Int64Counter
	CostCentsPosted       metric.Int64Counter
	CostPostingFailures   metric.Int64Counter
	SchedulerDispatches   metric.Int64Counter
	SchedulerTickDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on mp, or on the global meter
// provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsCreated, err = meter.Int64Counter("runledger.runs.created",
		metric.WithDescription("Number of runs created"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("runledger.runs.completed",
		metric.WithDescription("Number of runs marked completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("runledger.runs.failed",
		metric.WithDescription("Number of runs marked failed"))
	if err != nil {
		return nil, err
	}

	m.CostCentsPosted, err = meter.Int64Counter("runledger.cost.posted_cents",
		metric.WithDescription("Cost posted to the ledger in USD cents"),
		metric.WithUnit("{cent}"))
	if err != nil {
		return nil, err
	}

	m.CostPostingFailures, err = meter.Int64Counter("runledger.cost.posting_failures",
		metric.WithDescription("Cost postings that failed after the domain write"))
	if err != nil {
		return nil, err
	}

	m.SchedulerDispatches, err = meter.Int64Counter("runledger.scheduler.dispatches",
		metric.WithDescription("Campaign executions enqueued by the scheduler"))
	if err != nil {
		return nil, err
	}

	m.SchedulerTickDuration, err = meter.Float64Histogram("runledger.scheduler.tick_duration_seconds",
		metric.WithDescription("Scheduler tick duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
