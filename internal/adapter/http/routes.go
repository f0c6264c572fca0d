package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	rlotel "github.com/outboundly/runledger/internal/adapter/otel"
	"github.com/outboundly/runledger/internal/middleware"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// ServiceName names the server spans. Empty disables HTTP tracing.
	ServiceName string
	// Idempotency replays mutating RPCs by Idempotency-Key. Nil disables it.
	Idempotency middleware.KV
	// Timeout bounds each request. Zero means 30s.
	Timeout time.Duration
}

// NewRouter builds the chi router with the standard middleware chain and all
// routes mounted.
func NewRouter(h *Handlers, opts RouterOptions) chi.Router {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if opts.ServiceName != "" {
		r.Use(rlotel.HTTPMiddleware(opts.ServiceName))
	}
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(opts.Timeout))

	r.Get("/health", h.Health)

	MountRoutes(r, h, opts.Idempotency)
	return r
}

// MountRoutes registers the RPC routes under /rpc/v1.
func MountRoutes(r chi.Router, h *Handlers, idem middleware.KV) {
	r.Route("/rpc/v1", func(r chi.Router) {
		if idem != nil {
			r.Use(middleware.Idempotency(idem))
		}

		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"1"}`))
		})

		// Organizations
		r.Post("/organizations/ensure", h.EnsureOrganization)

		// Runs
		r.Post("/runs", h.CreateRun)
		r.Get("/runs", h.ListRuns)
		r.Post("/runs/batch", h.GetRunsBatch)
		r.Get("/runs/{id}", h.GetRun)
		r.Post("/runs/{id}/status", h.UpdateRun)
		r.Get("/runs/{id}/cost", h.GetRunCost)
		r.Post("/runs/{id}/costs", h.AddCosts)

		// Reporting
		r.Get("/costs/tasks", h.TaskCostSummary)
	})
}
