package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/outboundly/runledger/internal/domain"
	"github.com/outboundly/runledger/internal/domain/cost"
	"github.com/outboundly/runledger/internal/domain/run"
)

const runColumns = `id, organization_id, service_name, task_name, parent_run_id, status,
	COALESCE(period_key, ''), error, started_at, completed_at`

func scanRun(row scannable) (run.Run, error) {
	var r run.Run
	err := row.Scan(&r.ID, &r.OrganizationID, &r.ServiceName, &r.TaskName, &r.ParentRunID,
		&r.Status, &r.PeriodKey, &r.Error, &r.StartedAt, &r.CompletedAt)
	return r, err
}

func collectRuns(rows pgx.Rows) ([]run.Run, error) {
	defer rows.Close()
	var runs []run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return orEmpty(runs), rows.Err()
}

// CreateRun inserts a running run. A parent must exist and belong to the same
// organization; the parent row is share-locked until commit so the check and
// the insert see the same parent.
func (s *Store) CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error) {
	if !isUUID(req.OrganizationID) {
		return nil, fmt.Errorf("create run: organization %s not found: %w", req.OrganizationID, domain.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create run: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if req.ParentRunID != nil {
		if err := checkParent(ctx, tx, *req.ParentRunID, req.OrganizationID); err != nil {
			return nil, err
		}
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO runs (organization_id, service_name, task_name, parent_run_id, period_key)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+runColumns,
		req.OrganizationID, req.ServiceName, req.TaskName, req.ParentRunID, nullIfEmpty(req.PeriodKey))

	r, err := scanRun(row)
	if err != nil {
		switch pgErrorCode(err) {
		case pgUniqueViolation:
			return nil, fmt.Errorf("create run: period %s already claimed for %s/%s: %w",
				req.PeriodKey, req.ServiceName, req.TaskName, domain.ErrConflict)
		case pgForeignKeyViolation:
			return nil, fmt.Errorf("create run: organization %s not found: %w", req.OrganizationID, domain.ErrValidation)
		}
		return nil, fmt.Errorf("create run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create run: commit: %w", err)
	}
	return &r, nil
}

func checkParent(ctx context.Context, tx pgx.Tx, parentID, organizationID string) error {
	if !isUUID(parentID) {
		return fmt.Errorf("create run: parent run %s not found: %w", parentID, domain.ErrValidation)
	}

	var parentOrg string
	err := tx.QueryRow(ctx,
		`SELECT organization_id FROM runs WHERE id = $1 FOR SHARE`, parentID,
	).Scan(&parentOrg)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("create run: parent run %s not found: %w", parentID, domain.ErrValidation)
	}
	if err != nil {
		return fmt.Errorf("create run: load parent %s: %w", parentID, err)
	}
	if parentOrg != organizationID {
		return fmt.Errorf("create run: parent run %s belongs to a different organization: %w", parentID, domain.ErrValidation)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	if !isUUID(id) {
		return nil, fmt.Errorf("get run %s: %w", id, domain.ErrNotFound)
	}
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get run %s", id)
	}
	return &r, nil
}

// UpdateRunStatus moves a run to a terminal status under a row lock. Repeating
// the current status is a no-op; the other terminal status is a conflict and
// leaves the row untouched.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, req run.UpdateRequest) (*run.Run, bool, error) {
	if !isUUID(id) {
		return nil, false, fmt.Errorf("update run %s: %w", id, domain.ErrNotFound)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("update run %s: begin: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanRun(tx.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, false, notFoundWrap(err, "update run %s", id)
	}

	changed, err := run.Transition(current.Status, req.Status)
	if err != nil {
		return &current, false, fmt.Errorf("update run %s: %w", id, err)
	}
	if !changed {
		return &current, false, nil
	}

	updated, err := scanRun(tx.QueryRow(ctx,
		`UPDATE runs SET status = $2, error = $3, completed_at = now()
		 WHERE id = $1
		 RETURNING `+runColumns,
		id, req.Status, req.Error))
	if err != nil {
		return nil, false, fmt.Errorf("update run %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("update run %s: commit: %w", id, err)
	}
	return &updated, true, nil
}

// ListRuns returns runs matching filter, newest first. An empty TaskName
// matches every task of the service.
func (s *Store) ListRuns(ctx context.Context, filter run.ListFilter) ([]run.Run, error) {
	if !isUUID(filter.OrganizationID) {
		return []run.Run{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE organization_id = $1 AND service_name = $2 AND ($3 = '' OR task_name = $3)
		 ORDER BY started_at DESC`,
		filter.OrganizationID, filter.ServiceName, filter.TaskName)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// GetRunsByIDs returns the runs among ids that exist. Order is unspecified.
func (s *Store) GetRunsByIDs(ctx context.Context, ids []string) ([]run.Run, error) {
	ids = uuidsOnly(ids)
	if len(ids) == 0 {
		return []run.Run{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("get runs batch: %w", err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, fmt.Errorf("get runs batch: %w", err)
	}
	return runs, nil
}

// RunClosure returns the (id, parent) edges of ids and all their descendants
// in one recursive query. UNION deduplicates, which also stops traversal on
// a cycle.
func (s *Store) RunClosure(ctx context.Context, ids []string) ([]cost.Edge, error) {
	ids = uuidsOnly(ids)
	if len(ids) == 0 {
		return []cost.Edge{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`WITH RECURSIVE tree AS (
		     SELECT id, parent_run_id FROM runs WHERE id = ANY($1::uuid[])
		     UNION
		     SELECT r.id, r.parent_run_id FROM runs r JOIN tree t ON r.parent_run_id = t.id
		 )
		 SELECT id::text, COALESCE(parent_run_id::text, '') FROM tree`, ids)
	if err != nil {
		return nil, fmt.Errorf("run closure: %w", err)
	}
	defer rows.Close()

	var edges []cost.Edge
	for rows.Next() {
		var e cost.Edge
		if err := rows.Scan(&e.ID, &e.ParentID); err != nil {
			return nil, fmt.Errorf("scan run edge: %w", err)
		}
		edges = append(edges, e)
	}
	return orEmpty(edges), rows.Err()
}
