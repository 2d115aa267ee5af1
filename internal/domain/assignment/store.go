package assignment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"kpi/internal/platform/querier"
)

type Store struct {
	DB querier.Querier
}

func NewStore(db querier.Querier) *Store {
	return &Store{DB: db}
}

// WithTx runs fn in a read-committed transaction. The advisory lock taken by
// LockScope is released on commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx TxStore) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return eris.Wrap(err, "assignment: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "assignment: commit")
	}
	return nil
}

const assignmentColumns = `id, tenant_id, period_id, metric_id, department_id, employee_id, target_value, challenge_value, weight, created_at`

func (s *Store) GetAssignment(ctx context.Context, tenantID, assignmentID string) (Assignment, error) {
	row := s.DB.QueryRow(ctx, `
    SELECT `+assignmentColumns+`
    FROM kpi_assignments
    WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
  `, tenantID, assignmentID)
	return scanAssignment(row)
}

func (s *Store) ListAssignments(ctx context.Context, scope ScopeKey) ([]Assignment, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+assignmentColumns+`
    FROM kpi_assignments
    WHERE tenant_id = $1 AND period_id = $2
      AND department_id IS NOT DISTINCT FROM $3::uuid
      AND employee_id IS NOT DISTINCT FROM $4::uuid
      AND deleted_at IS NULL
    ORDER BY created_at
  `, scope.TenantID, scope.PeriodID, nullable(scope.DepartmentID), nullable(scope.EmployeeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SumWeights(ctx context.Context, scope ScopeKey, excludeID string) (float64, error) {
	return sumWeights(ctx, s.DB, scope, excludeID)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockScope(ctx context.Context, scope ScopeKey) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope.lockKey())
	return err
}

func (t *pgTx) SumWeights(ctx context.Context, scope ScopeKey, excludeID string) (float64, error) {
	return sumWeights(ctx, t.tx, scope, excludeID)
}

func (t *pgTx) MetricActive(ctx context.Context, tenantID, metricID string) (bool, error) {
	var active bool
	err := t.tx.QueryRow(ctx, `
    SELECT is_active
    FROM kpi_metric_definitions
    WHERE tenant_id = $1 AND id = $2
  `, tenantID, metricID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return active, err
}

func (t *pgTx) PeriodExists(ctx context.Context, tenantID, periodID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
    SELECT EXISTS (SELECT 1 FROM kpi_periods WHERE tenant_id = $1 AND id = $2)
  `, tenantID, periodID).Scan(&exists)
	return exists, err
}

func (t *pgTx) AssignmentForUpdate(ctx context.Context, tenantID, assignmentID string) (Assignment, error) {
	row := t.tx.QueryRow(ctx, `
    SELECT `+assignmentColumns+`
    FROM kpi_assignments
    WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
    FOR UPDATE
  `, tenantID, assignmentID)
	return scanAssignment(row)
}

func (t *pgTx) InsertAssignment(ctx context.Context, a Assignment) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
    INSERT INTO kpi_assignments (tenant_id, period_id, metric_id, department_id, employee_id, target_value, challenge_value, weight)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    RETURNING id
  `, a.TenantID, a.PeriodID, a.MetricID, nullable(a.DepartmentID), nullable(a.EmployeeID), a.TargetValue, a.ChallengeValue, a.Weight).Scan(&id)
	return id, err
}

func (t *pgTx) UpdateAssignment(ctx context.Context, a Assignment) error {
	_, err := t.tx.Exec(ctx, `
    UPDATE kpi_assignments
    SET target_value = $3, challenge_value = $4, weight = $5, updated_at = now()
    WHERE tenant_id = $1 AND id = $2
  `, a.TenantID, a.ID, a.TargetValue, a.ChallengeValue, a.Weight)
	return err
}

func (t *pgTx) SoftDeleteAssignment(ctx context.Context, tenantID, assignmentID string) error {
	tag, err := t.tx.Exec(ctx, `
    UPDATE kpi_assignments
    SET deleted_at = now()
    WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
  `, tenantID, assignmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func sumWeights(ctx context.Context, q rowQuerier, scope ScopeKey, excludeID string) (float64, error) {
	var total float64
	err := q.QueryRow(ctx, `
    SELECT COALESCE(SUM(weight), 0)
    FROM kpi_assignments
    WHERE tenant_id = $1 AND period_id = $2
      AND department_id IS NOT DISTINCT FROM $3::uuid
      AND employee_id IS NOT DISTINCT FROM $4::uuid
      AND ($5::uuid IS NULL OR id <> $5::uuid)
      AND deleted_at IS NULL
  `, scope.TenantID, scope.PeriodID, nullable(scope.DepartmentID), nullable(scope.EmployeeID), nullable(excludeID)).Scan(&total)
	return total, err
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	var departmentID, employeeID *string
	err := row.Scan(&a.ID, &a.TenantID, &a.PeriodID, &a.MetricID, &departmentID, &employeeID, &a.TargetValue, &a.ChallengeValue, &a.Weight, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, ErrAssignmentNotFound
	}
	if err != nil {
		return Assignment{}, err
	}
	if departmentID != nil {
		a.DepartmentID = *departmentID
	}
	if employeeID != nil {
		a.EmployeeID = *employeeID
	}
	return a, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
