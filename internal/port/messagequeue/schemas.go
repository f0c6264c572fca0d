package messagequeue

import "errors"

// CampaignExecutePayload is the schema for campaigns.execute messages.
// RunID is the root run opened by the scheduler for this execution.
type CampaignExecutePayload struct {
	CampaignID     string `json:"campaign_id"`
	OrganizationID string `json:"organization_id"`
	RunID          string `json:"run_id"`
	PeriodKey      string `json:"period_key,omitempty"`
	Recurrence     string `json:"recurrence"`
}

// Validate checks the identifiers a worker needs to attach child runs.
func (p *CampaignExecutePayload) Validate() error {
	if p.CampaignID == "" {
		return errors.New("campaign_id is required")
	}
	if p.OrganizationID == "" {
		return errors.New("organization_id is required")
	}
	if p.RunID == "" {
		return errors.New("run_id is required")
	}
	return nil
}
