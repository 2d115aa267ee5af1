package calibration

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"kpi/internal/domain/scoring"
	"kpi/internal/platform/querier"
)

type Store struct {
	DB querier.Querier
}

func NewStore(db querier.Querier) *Store {
	return &Store{DB: db}
}

// CurrentScore returns the employee's calculated total and the user to notify.
func (s *Store) CurrentScore(ctx context.Context, tenantID, periodID, employeeID string) (float64, string, error) {
	var score float64
	var userID *string
	err := s.DB.QueryRow(ctx, `
    SELECT r.total_score, e.user_id
    FROM kpi_individual_results r
    JOIN employees e ON e.id = r.employee_id
    WHERE r.tenant_id = $1 AND r.period_id = $2 AND r.employee_id = $3
  `, tenantID, periodID, employeeID).Scan(&score, &userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", &scoring.NotFoundError{Entity: "individual result", ID: employeeID}
	}
	if err != nil {
		return 0, "", err
	}
	if userID == nil {
		return score, "", nil
	}
	return score, *userID, nil
}

func (s *Store) InsertAdjustment(ctx context.Context, a Adjustment) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO kpi_calibration_adjustments (tenant_id, period_id, employee_id, original_score, adjusted_score,
      original_grade, adjusted_grade, original_status, adjusted_status, reason, adjusted_by)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    RETURNING id
  `, a.TenantID, a.PeriodID, a.EmployeeID, a.OriginalScore, a.AdjustedScore,
		a.OriginalGrade, a.AdjustedGrade, a.OriginalStatus, a.AdjustedStatus, a.Reason, a.AdjustedBy).Scan(&id)
	return id, err
}

func (s *Store) ListAdjustments(ctx context.Context, tenantID, periodID string) ([]Adjustment, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, tenant_id, period_id, employee_id, original_score, adjusted_score,
           original_grade, adjusted_grade, original_status, adjusted_status, reason, adjusted_by, created_at
    FROM kpi_calibration_adjustments
    WHERE tenant_id = $1 AND period_id = $2
    ORDER BY created_at DESC
  `, tenantID, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Adjustment, 0)
	for rows.Next() {
		var a Adjustment
		if err := rows.Scan(&a.ID, &a.TenantID, &a.PeriodID, &a.EmployeeID, &a.OriginalScore, &a.AdjustedScore, &a.OriginalGrade, &a.AdjustedGrade, &a.OriginalStatus, &a.AdjustedStatus, &a.Reason, &a.AdjustedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
