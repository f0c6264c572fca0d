package run

import (
	"fmt"

	"github.com/outboundly/runledger/internal/domain"
)

// maxLabelLength bounds service and task names.
const maxLabelLength = 255

// Validate checks that a CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if r.OrganizationID == "" {
		return fmt.Errorf("organization_id is required: %w", domain.ErrValidation)
	}
	if r.ServiceName == "" {
		return fmt.Errorf("service_name is required: %w", domain.ErrValidation)
	}
	if r.TaskName == "" {
		return fmt.Errorf("task_name is required: %w", domain.ErrValidation)
	}
	if len(r.ServiceName) > maxLabelLength {
		return fmt.Errorf("service_name exceeds %d characters: %w", maxLabelLength, domain.ErrValidation)
	}
	if len(r.TaskName) > maxLabelLength {
		return fmt.Errorf("task_name exceeds %d characters: %w", maxLabelLength, domain.ErrValidation)
	}
	if r.ParentRunID != nil && *r.ParentRunID == "" {
		return fmt.Errorf("parent_run_id must not be empty when set: %w", domain.ErrValidation)
	}
	if r.ParentRunID != nil && r.PeriodKey != "" {
		return fmt.Errorf("period_key is only allowed on root runs: %w", domain.ErrValidation)
	}
	return nil
}

// Validate checks that an UpdateRequest targets a terminal status.
func (r *UpdateRequest) Validate() error {
	if !r.Status.IsTerminal() {
		return fmt.Errorf("invalid target status %q: %w", r.Status, domain.ErrValidation)
	}
	return nil
}

// Validate checks that a ListFilter names the partition and service.
func (f *ListFilter) Validate() error {
	if f.OrganizationID == "" {
		return fmt.Errorf("organization_id is required: %w", domain.ErrValidation)
	}
	if f.ServiceName == "" {
		return fmt.Errorf("service_name is required: %w", domain.ErrValidation)
	}
	return nil
}

// Transition decides how a run in status current reacts to a request for
// target. It returns changed=false with a nil error when the run is already in
// target, and domain.ErrConflict when current is the other terminal status.
func Transition(current, target Status) (changed bool, err error) {
	if !target.IsTerminal() {
		return false, fmt.Errorf("invalid target status %q: %w", target, domain.ErrValidation)
	}
	switch {
	case current == target:
		return false, nil
	case current.IsTerminal():
		return false, fmt.Errorf("run already %s, cannot mark %s: %w", current, target, domain.ErrConflict)
	default:
		return true, nil
	}
}
