// Package organization defines the organization domain model used as the
// partition key of the run ledger.
package organization

import (
	"fmt"
	"strings"
	"time"

	"github.com/outboundly/runledger/internal/domain"
)

// maxExternalIDLength bounds external tenant identifiers.
const maxExternalIDLength = 255

// Organization maps an external tenant identifier to an internal id.
type Organization struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// EnsureRequest holds the external tenant identifier to resolve.
type EnsureRequest struct {
	ExternalID string `json:"external_id"`
}

// Validate checks the external id is present and bounded.
func (r *EnsureRequest) Validate() error {
	if strings.TrimSpace(r.ExternalID) == "" {
		return fmt.Errorf("external_id is required: %w", domain.ErrValidation)
	}
	if len(r.ExternalID) > maxExternalIDLength {
		return fmt.Errorf("external_id exceeds %d characters: %w", maxExternalIDLength, domain.ErrValidation)
	}
	return nil
}
