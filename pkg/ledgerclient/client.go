// Package ledgerclient provides an HTTP client for the run ledger RPC API.
// Leaf services that run out of process use it as their ledger.Ledger, so the
// same costposter.Poster works in-process and remotely.
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	rlhttp "github.com/outboundly/runledger/internal/adapter/http"
	rlotel "github.com/outboundly/runledger/internal/adapter/otel"
	"github.com/outboundly/runledger/internal/domain"
	"github.com/outboundly/runledger/internal/domain/cost"
	"github.com/outboundly/runledger/internal/domain/run"
	"github.com/outboundly/runledger/internal/logger"
	"github.com/outboundly/runledger/internal/resilience"
	"github.com/outboundly/runledger/pkg/ledger"
)

const maxResponseSize = 8 << 20

// Options configures a Client. Zero values take the defaults noted per field.
type Options struct {
	// URL is the ledger base URL, e.g. http://runledger:8080.
	URL string
	// Timeout bounds each request. Default 10s.
	Timeout time.Duration
	// MaxFailures is the number of consecutive dependency failures that open
	// the circuit. Default 5.
	MaxFailures int
	// BreakerTimeout is how long the circuit stays open. Default 30s.
	BreakerTimeout time.Duration
}

// RemoteError is a non-2xx response from the ledger. It unwraps to the
// matching domain sentinel so callers can use errors.Is across the wire.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ledger rpc %d: %s", e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case rlhttp.CodeNotRegistered:
		return cost.ErrCostNameNotRegistered
	case rlhttp.CodeValidation:
		return domain.ErrValidation
	case rlhttp.CodeNotFound:
		return domain.ErrNotFound
	case rlhttp.CodeConflict:
		return domain.ErrConflict
	}
	return nil
}

// Client talks to a remote run ledger.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// New creates a ledger client for opts.URL. Domain rejections (4xx) pass
// through the breaker without counting as dependency failures.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(opts.URL, "/"),
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: rlotel.HTTPTransport(http.DefaultTransport),
		},
		breaker: resilience.NewBreaker(opts.MaxFailures, opts.BreakerTimeout,
			resilience.WithFailurePredicate(isDependencyFailure)),
	}
}

func isDependencyFailure(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= http.StatusInternalServerError
	}
	return true
}

// EnsureOrganization resolves an external tenant id.
func (c *Client) EnsureOrganization(ctx context.Context, externalID string) (string, error) {
	var resp rlhttp.EnsureOrganizationResponse
	err := c.do(ctx, http.MethodPost, "/rpc/v1/organizations/ensure",
		rlhttp.EnsureOrganizationRequest{ExternalID: externalID}, &resp)
	if err != nil {
		return "", fmt.Errorf("ensure organization: %w", err)
	}
	return resp.OrganizationID, nil
}

// CreateRun opens a run.
func (c *Client) CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error) {
	var r run.Run
	if err := c.do(ctx, http.MethodPost, "/rpc/v1/runs", req, &r); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &r, nil
}

// UpdateRun moves a run to a terminal status.
func (c *Client) UpdateRun(ctx context.Context, id string, req run.UpdateRequest) (*run.Run, error) {
	var r run.Run
	if err := c.do(ctx, http.MethodPost, "/rpc/v1/runs/"+url.PathEscape(id)+"/status", req, &r); err != nil {
		return nil, fmt.Errorf("update run %s: %w", id, err)
	}
	return &r, nil
}

// AddCosts posts cost items against a run.
func (c *Client) AddCosts(ctx context.Context, runID string, req cost.AddRequest) ([]cost.Item, error) {
	var resp rlhttp.AddCostsResponse
	if err := c.do(ctx, http.MethodPost, "/rpc/v1/runs/"+url.PathEscape(runID)+"/costs", req, &resp); err != nil {
		return nil, fmt.Errorf("add costs to run %s: %w", runID, err)
	}
	return resp.Items, nil
}

// GetRun fetches a run.
func (c *Client) GetRun(ctx context.Context, id string) (*run.Run, error) {
	var r run.Run
	if err := c.do(ctx, http.MethodGet, "/rpc/v1/runs/"+url.PathEscape(id), nil, &r); err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// ListRuns returns the run history for a service, newest first.
func (c *Client) ListRuns(ctx context.Context, filter run.ListFilter) ([]run.Run, error) {
	var resp rlhttp.ListRunsResponse
	if err := c.do(ctx, http.MethodGet, "/rpc/v1/runs?"+filterQuery(filter), nil, &resp); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return resp.Runs, nil
}

// GetRunsBatch returns rollups for ids. Unknown ids are absent.
func (c *Client) GetRunsBatch(ctx context.Context, ids []string) (map[string]cost.RunWithCosts, error) {
	var resp rlhttp.BatchResponse
	if err := c.do(ctx, http.MethodPost, "/rpc/v1/runs/batch", rlhttp.BatchRequest{IDs: ids}, &resp); err != nil {
		return nil, fmt.Errorf("get runs batch: %w", err)
	}
	if resp.Runs == nil {
		resp.Runs = map[string]cost.RunWithCosts{}
	}
	return resp.Runs, nil
}

// GetRunCost returns the rollup of a single run.
func (c *Client) GetRunCost(ctx context.Context, id string) (*cost.RunWithCosts, error) {
	var rc cost.RunWithCosts
	if err := c.do(ctx, http.MethodGet, "/rpc/v1/runs/"+url.PathEscape(id)+"/cost", nil, &rc); err != nil {
		return nil, fmt.Errorf("get run cost %s: %w", id, err)
	}
	return &rc, nil
}

// TaskCostSummary aggregates the root runs of one task.
func (c *Client) TaskCostSummary(ctx context.Context, filter run.ListFilter) (*cost.Summary, error) {
	var s cost.Summary
	if err := c.do(ctx, http.MethodGet, "/rpc/v1/costs/tasks?"+filterQuery(filter), nil, &s); err != nil {
		return nil, fmt.Errorf("task cost summary: %w", err)
	}
	return &s, nil
}

func filterQuery(f run.ListFilter) string {
	q := url.Values{}
	q.Set("organization_id", f.OrganizationID)
	q.Set("service_name", f.ServiceName)
	if f.TaskName != "" {
		q.Set("task_name", f.TaskName)
	}
	return q.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if id := logger.RequestID(ctx); id != "" {
			req.Header.Set("X-Request-ID", id)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			var er rlhttp.ErrorResponse
			_ = json.Unmarshal(data, &er)
			if er.Error == "" {
				er.Error = http.StatusText(resp.StatusCode)
			}
			return &RemoteError{Status: resp.StatusCode, Code: er.Code, Message: er.Error}
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	})
}

var _ ledger.Ledger = (*Client)(nil)
