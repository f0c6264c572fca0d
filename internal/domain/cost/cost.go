// Package cost defines domain types for billable cost items and their
// recursive rollup over run trees.
package cost

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/outboundly/runledger/internal/domain"
	"github.com/outboundly/runledger/internal/domain/run"
)

// ErrCostNameNotRegistered is returned when a cost name has no catalog entry.
// It wraps domain.ErrValidation.
var ErrCostNameNotRegistered = fmt.Errorf("cost name not registered: %w", domain.ErrValidation)

// maxItemsPerRequest bounds a single AddCosts call.
const maxItemsPerRequest = 1000

// ItemInput is one billable event as reported by a leaf service.
type ItemInput struct {
	CostName string `json:"cost_name"`
	Quantity int64  `json:"quantity"`
}

// Item is a priced cost entry attached to a run. Items are append-only.
type Item struct {
	ID                  string    `json:"id"`
	RunID               string    `json:"run_id"`
	CostName            string    `json:"cost_name"`
	Quantity            int64     `json:"quantity"`
	UnitCostInUSDCents  int64     `json:"unit_cost_in_usd_cents"`
	TotalCostInUSDCents int64     `json:"total_cost_in_usd_cents"`
	CreatedAt           time.Time `json:"created_at"`
}

// Breakdown aggregates all entries of one cost name within a subtree.
type Breakdown struct {
	CostName            string `json:"cost_name"`
	Quantity            int64  `json:"quantity"`
	TotalCostInUSDCents int64  `json:"total_cost_in_usd_cents"`
}

// RunWithCosts is a run annotated with the rollup of its whole subtree.
type RunWithCosts struct {
	run.Run
	TotalCostInUSDCents int64       `json:"total_cost_in_usd_cents"`
	Costs               []Breakdown `json:"costs"`
}

// Summary aggregates the rollups of a set of root runs.
type Summary struct {
	RunCount            int   `json:"run_count"`
	TotalCostInUSDCents int64 `json:"total_cost_in_usd_cents"`
}

// AddRequest holds the items to post against a run.
type AddRequest struct {
	Items []ItemInput `json:"items"`
}

// Validate checks item count and quantities. Catalog membership is checked
// separately by Price.
func (r *AddRequest) Validate() error {
	if len(r.Items) == 0 {
		return fmt.Errorf("at least one cost item is required: %w", domain.ErrValidation)
	}
	if len(r.Items) > maxItemsPerRequest {
		return fmt.Errorf("too many cost items (%d > %d): %w", len(r.Items), maxItemsPerRequest, domain.ErrValidation)
	}
	for i := range r.Items {
		if r.Items[i].CostName == "" {
			return fmt.Errorf("items[%d].cost_name is required: %w", i, domain.ErrValidation)
		}
		if r.Items[i].Quantity <= 0 {
			return fmt.Errorf("items[%d].quantity must be positive: %w", i, domain.ErrValidation)
		}
	}
	return nil
}

// Names returns the distinct cost names of the request in first-seen order.
func (r *AddRequest) Names() []string {
	seen := make(map[string]bool, len(r.Items))
	names := make([]string, 0, len(r.Items))
	for i := range r.Items {
		n := r.Items[i].CostName
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	return names
}

// Price resolves every input against prices (cost name → unit cost in cents).
// If any name is missing, no items are returned and the error lists every
// unknown name. A total that does not fit in int64 is a validation error.
func Price(runID string, inputs []ItemInput, prices map[string]int64) ([]Item, error) {
	var missing []string
	items := make([]Item, 0, len(inputs))
	for i := range inputs {
		unit, ok := prices[inputs[i].CostName]
		if !ok {
			missing = append(missing, inputs[i].CostName)
			continue
		}
		if q := inputs[i].Quantity; unit > 0 && q > math.MaxInt64/unit {
			return nil, fmt.Errorf("items[%d]: %d x %d cents overflows the cost total: %w",
				i, q, unit, domain.ErrValidation)
		}
		items = append(items, Item{
			RunID:               runID,
			CostName:            inputs[i].CostName,
			Quantity:            inputs[i].Quantity,
			UnitCostInUSDCents:  unit,
			TotalCostInUSDCents: inputs[i].Quantity * unit,
		})
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrCostNameNotRegistered, strings.Join(dedupe(missing), ", "))
	}
	return items, nil
}

// IsNotRegistered reports whether err is a catalog validation failure.
func IsNotRegistered(err error) bool {
	return errors.Is(err, ErrCostNameNotRegistered)
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
