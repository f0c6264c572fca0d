// Package campaign defines recurring campaigns and the recurrence policy that
// decides, from run history alone, when a new root run is due.
package campaign

import (
	"fmt"
	"time"

	"github.com/outboundly/runledger/internal/domain"
)

// Recurrence is how often a campaign is relaunched.
type Recurrence string

const (
	RecurrenceOneOff  Recurrence = "oneoff"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

var validRecurrences = map[Recurrence]bool{
	RecurrenceOneOff:  true,
	RecurrenceDaily:   true,
	RecurrenceWeekly:  true,
	RecurrenceMonthly: true,
}

// weeklyWindow is the trailing window checked for weekly campaigns.
const weeklyWindow = 7 * 24 * time.Hour

// Campaign is an active recurring campaign as reported by the registry.
type Campaign struct {
	OrganizationID string     `json:"organization_id"`
	CampaignID     string     `json:"campaign_id"`
	Recurrence     Recurrence `json:"recurrence"`
}

// Validate checks identifiers and recurrence.
func (c *Campaign) Validate() error {
	if c.OrganizationID == "" {
		return fmt.Errorf("organization_id is required: %w", domain.ErrValidation)
	}
	if c.CampaignID == "" {
		return fmt.Errorf("campaign_id is required: %w", domain.ErrValidation)
	}
	if !validRecurrences[c.Recurrence] {
		return fmt.Errorf("invalid recurrence %q: %w", c.Recurrence, domain.ErrValidation)
	}
	return nil
}

// IsDue reports whether a new root run must start at now, given the start
// times of every earlier run of the campaign. Calendar boundaries are taken
// in loc. Runs of any status count.
func IsDue(rec Recurrence, history []time.Time, now time.Time, loc *time.Location) (bool, error) {
	if !validRecurrences[rec] {
		return false, fmt.Errorf("invalid recurrence %q: %w", rec, domain.ErrValidation)
	}
	if rec == RecurrenceOneOff {
		return len(history) == 0, nil
	}

	cutoff := windowStart(rec, now, loc)
	for _, started := range history {
		if rec == RecurrenceWeekly {
			if started.After(cutoff) {
				return false, nil
			}
			continue
		}
		if !started.Before(cutoff) {
			return false, nil
		}
	}
	return true, nil
}

// PeriodKey names the recurrence period that a run started at now claims.
// Concurrent ticks within the same period produce the same key.
func PeriodKey(rec Recurrence, now time.Time, loc *time.Location) string {
	local := now.In(loc)
	switch rec {
	case RecurrenceDaily:
		return "daily:" + local.Format(time.DateOnly)
	case RecurrenceWeekly:
		// Weekly runs are at least 7 days apart, so each lands in its own
		// ISO week.
		year, week := local.ISOWeek()
		return fmt.Sprintf("weekly:%04d-W%02d", year, week)
	case RecurrenceMonthly:
		return "monthly:" + local.Format("2006-01")
	default:
		return string(RecurrenceOneOff)
	}
}

func windowStart(rec Recurrence, now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	switch rec {
	case RecurrenceDaily:
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	case RecurrenceWeekly:
		return now.Add(-weeklyWindow)
	default:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	}
}
