// Package campaign defines the campaign registry port consumed by the scheduler.
package campaign

import (
	"context"

	"github.com/outboundly/runledger/internal/domain/campaign"
)

// Registry supplies the active recurring campaigns across all organizations.
type Registry interface {
	ListActiveRecurring(ctx context.Context) ([]campaign.Campaign, error)
}
