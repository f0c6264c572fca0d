// Package run defines the Run domain entity: one tracked unit of execution,
// possibly nested under a parent run.
package run

import "time"

// Status represents the current state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Run represents one unit of execution. A nil ParentRunID marks the root of a
// run tree; for roots TaskName carries the campaign identifier.
type Run struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	ServiceName    string     `json:"service_name"`
	TaskName       string     `json:"task_name"`
	ParentRunID    *string    `json:"parent_run_id,omitempty"`
	Status         Status     `json:"status"`
	PeriodKey      string     `json:"period_key,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// IsRoot reports whether the run has no parent.
func (r *Run) IsRoot() bool {
	return r.ParentRunID == nil
}

// CreateRequest holds the fields needed to open a new run.
type CreateRequest struct {
	OrganizationID string  `json:"organization_id"`
	ServiceName    string  `json:"service_name"`
	TaskName       string  `json:"task_name"`
	ParentRunID    *string `json:"parent_run_id,omitempty"`

	// PeriodKey claims a recurrence period for a root run. Two runs with the
	// same organization, service, task and period key cannot coexist.
	PeriodKey string `json:"period_key,omitempty"`
}

// UpdateRequest moves a run to a terminal status.
type UpdateRequest struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ListFilter selects runs for history queries. TaskName is optional.
type ListFilter struct {
	OrganizationID string `json:"organization_id"`
	ServiceName    string `json:"service_name"`
	TaskName       string `json:"task_name,omitempty"`
}
