// Package catalog defines the cost catalog port.
package catalog

import "context"

// Catalog resolves cost names to unit costs in USD cents.
type Catalog interface {
	// UnitCosts returns the unit cost of every registered name among names.
	// Unregistered names are absent from the result; absence is not an error.
	UnitCosts(ctx context.Context, names []string) (map[string]int64, error)
}
