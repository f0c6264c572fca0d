package postgres

import (
	"context"
	"fmt"

	"github.com/outboundly/runledger/internal/domain/campaign"
)

// ListActiveRecurring implements campaign.Registry over the
// recurring_campaigns table maintained by the campaign service.
func (s *Store) ListActiveRecurring(ctx context.Context) ([]campaign.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT organization_id, campaign_id, recurrence
		 FROM recurring_campaigns WHERE active
		 ORDER BY organization_id, campaign_id`)
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []campaign.Campaign
	for rows.Next() {
		var c campaign.Campaign
		if err := rows.Scan(&c.OrganizationID, &c.CampaignID, &c.Recurrence); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return orEmpty(campaigns), rows.Err()
}

// UpsertRecurringCampaign registers or updates a recurring campaign. The
// campaign service owns these rows; this exists for seeding and tests.
func (s *Store) UpsertRecurringCampaign(ctx context.Context, c campaign.Campaign, active bool) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recurring_campaigns (organization_id, campaign_id, recurrence, active)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (organization_id, campaign_id) DO UPDATE
		 SET recurrence = EXCLUDED.recurrence, active = EXCLUDED.active, updated_at = now()`,
		c.OrganizationID, c.CampaignID, c.Recurrence, active)
	if err != nil {
		return fmt.Errorf("upsert campaign %s: %w", c.CampaignID, err)
	}
	return nil
}
