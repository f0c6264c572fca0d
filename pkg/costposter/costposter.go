// Package costposter is the helper leaf services use to account for billable
// work in the run ledger. It works over any ledger.Recorder: a
// ledgerclient.Client for a remote ledger or the in-process ledger service.
package costposter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	rlotel "github.com/outboundly/runledger/internal/adapter/otel"
	"github.com/outboundly/runledger/pkg/ledger"
)

// ErrLinkFailed marks a failure of the caller's own domain write in Track.
// The child run exists and stays running.
var ErrLinkFailed = errors.New("link domain record to run")

// TrackRequest describes billable work performed by a leaf service under a
// parent run.
type TrackRequest struct {
	OrganizationID string
	ParentRunID    string
	ServiceName    string
	TaskName       string
	Items          []ledger.ItemInput
}

// LinkFunc persists the caller's domain record referencing runID. It is the
// caller's own committed write and is never rolled back by the Poster.
type LinkFunc func(ctx context.Context, runID string) error

// Poster opens a child run, links the caller's domain record to it, posts
// costs and completes the run.
type Poster struct {
	ledger  ledger.Recorder
	metrics *rlotel.Metrics
}

// New creates a Poster over an in-process or remote ledger.
func New(l ledger.Recorder) *Poster {
	return &Poster{ledger: l}
}

// SetMeterProvider enables metric recording on mp. A nil mp uses the global
// provider.
func (p *Poster) SetMeterProvider(mp metric.MeterProvider) error {
	m, err := rlotel.NewMetrics(mp)
	if err != nil {
		return fmt.Errorf("cost poster metrics: %w", err)
	}
	p.metrics = m
	return nil
}

// Track records req under a new child run and returns its id.
//
// A failure to open the run is returned and nothing else happens. A link
// failure is returned wrapped in ErrLinkFailed. Once the link has succeeded,
// failures to post costs or complete the run are logged at error level,
// the run is marked failed, and Track returns the run id with a nil error:
// the caller's domain write stands.
func (p *Poster) Track(ctx context.Context, req TrackRequest, link LinkFunc) (string, error) {
	r, err := p.openChild(ctx, req)
	if err != nil {
		return "", err
	}

	if link != nil {
		if err := link(ctx, r.ID); err != nil {
			return r.ID, fmt.Errorf("%w: run %s: %w", ErrLinkFailed, r.ID, err)
		}
	}

	if err := p.postAndComplete(ctx, r.ID, req.Items); err != nil {
		p.reportFailure(ctx, r, req.Items, err)
	}
	return r.ID, nil
}

// TrackFailure records work that failed after incurring cost, e.g. a vendor
// call that errored after partial billable usage. The child run is opened,
// any items are posted, and the run is marked failed with cause as its error
// note. Only a failure to open the run is returned.
func (p *Poster) TrackFailure(ctx context.Context, req TrackRequest, cause error) (string, error) {
	r, err := p.openChild(ctx, req)
	if err != nil {
		return "", err
	}

	if len(req.Items) > 0 {
		if _, err := p.ledger.AddCosts(ctx, r.ID, ledger.AddRequest{Items: req.Items}); err != nil {
			p.logFailure(ctx, r, req.Items, err)
		}
	}

	note := "failed"
	if cause != nil {
		note = cause.Error()
	}
	if _, err := p.ledger.UpdateRun(ctx, r.ID, ledger.UpdateRequest{Status: ledger.StatusFailed, Error: note}); err != nil {
		slog.ErrorContext(ctx, "mark run failed",
			"event", "cost_posting_failed", "run_id", r.ID, "error", err)
	}
	return r.ID, nil
}

func (p *Poster) openChild(ctx context.Context, req TrackRequest) (*ledger.Run, error) {
	parent := req.ParentRunID
	r, err := p.ledger.CreateRun(ctx, ledger.CreateRequest{
		OrganizationID: req.OrganizationID,
		ServiceName:    req.ServiceName,
		TaskName:       req.TaskName,
		ParentRunID:    &parent,
	})
	if err != nil {
		slog.ErrorContext(ctx, "open child run",
			"event", "run_create_failed",
			"parent_run_id", req.ParentRunID,
			"service_name", req.ServiceName,
			"task_name", req.TaskName,
			"error", err)
		return nil, fmt.Errorf("open child run for %s/%s: %w", req.ServiceName, req.TaskName, err)
	}
	return r, nil
}

func (p *Poster) postAndComplete(ctx context.Context, runID string, items []ledger.ItemInput) error {
	if len(items) > 0 {
		if _, err := p.ledger.AddCosts(ctx, runID, ledger.AddRequest{Items: items}); err != nil {
			return fmt.Errorf("add costs: %w", err)
		}
	}
	if _, err := p.ledger.UpdateRun(ctx, runID, ledger.UpdateRequest{Status: ledger.StatusCompleted}); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// reportFailure logs a post-link failure and marks the run failed. It never
// touches the caller's domain record.
func (p *Poster) reportFailure(ctx context.Context, r *ledger.Run, items []ledger.ItemInput, cause error) {
	p.logFailure(ctx, r, items, cause)

	_, err := p.ledger.UpdateRun(ctx, r.ID, ledger.UpdateRequest{Status: ledger.StatusFailed, Error: cause.Error()})
	if err != nil {
		slog.ErrorContext(ctx, "mark run failed after cost posting failure",
			"event", "cost_posting_failed", "run_id", r.ID, "error", err)
	}
}

func (p *Poster) logFailure(ctx context.Context, r *ledger.Run, items []ledger.ItemInput, cause error) {
	names := make([]string, 0, len(items))
	for i := range items {
		names = append(names, items[i].CostName)
	}
	slog.ErrorContext(ctx, "cost posting failed",
		"event", "cost_posting_failed",
		"run_id", r.ID,
		"service_name", r.ServiceName,
		"cost_names", names,
		"error", cause)

	if p.metrics != nil {
		p.metrics.CostPostingFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("service", r.ServiceName),
		))
	}
}
