package postgres

import (
	"context"
	"fmt"

	"github.com/outboundly/runledger/internal/domain/organization"
)

// EnsureOrganization returns the organization for externalID, creating it if
// needed. The upsert relies on the unique constraint on external_id, so
// concurrent callers converge on one row.
func (s *Store) EnsureOrganization(ctx context.Context, externalID string) (*organization.Organization, error) {
	var o organization.Organization
	err := s.pool.QueryRow(ctx,
		`INSERT INTO organizations (external_id) VALUES ($1)
		 ON CONFLICT ON CONSTRAINT organizations_external_id_key
		 DO UPDATE SET external_id = EXCLUDED.external_id
		 RETURNING id, external_id, created_at`,
		externalID,
	).Scan(&o.ID, &o.ExternalID, &o.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure organization %s: %w", externalID, err)
	}
	return &o, nil
}
