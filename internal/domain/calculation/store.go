package calculation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

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

func (s *Store) PeriodExists(ctx context.Context, tenantID, periodID string) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx, `
    SELECT EXISTS (SELECT 1 FROM kpi_periods WHERE tenant_id = $1 AND id = $2)
  `, tenantID, periodID).Scan(&exists)
	return exists, err
}

func (s *Store) CreateRun(ctx context.Context, run Run) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO calculation_runs (tenant_id, period_id, company_id, triggered_by, state)
    VALUES ($1,$2,$3,$4,$5)
    RETURNING id
  `, run.TenantID, run.PeriodID, nullable(run.CompanyID), nullable(run.TriggeredBy), string(run.State)).Scan(&id)
	return id, err
}

// TransitionRun moves a run between states. The update is conditional on the
// current state so two writers cannot both finish the same run.
func (s *Store) TransitionRun(ctx context.Context, tenantID, runID string, from, to State, summary *Summary, errMsg string) error {
	if !from.CanTransition(to) {
		return ErrInvalidTransition
	}
	var summaryJSON []byte
	if summary != nil {
		encoded, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		summaryJSON = encoded
	}
	tag, err := s.DB.Exec(ctx, `
    UPDATE calculation_runs
    SET state = $4,
        summary_json = COALESCE($5, summary_json),
        error = NULLIF($6, ''),
        started_at = CASE WHEN $4 = 'running' THEN now() ELSE started_at END,
        completed_at = CASE WHEN $4 IN ('completed','failed') THEN now() ELSE completed_at END
    WHERE tenant_id = $1 AND id = $2 AND state = $3
  `, tenantID, runID, string(from), string(to), summaryJSON, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, tenantID, runID string) (Run, error) {
	var run Run
	var state string
	var companyID, triggeredBy, errMsg *string
	var summaryJSON []byte
	err := s.DB.QueryRow(ctx, `
    SELECT id, tenant_id, period_id, company_id, triggered_by, state, summary_json, error, started_at, completed_at, created_at
    FROM calculation_runs
    WHERE tenant_id = $1 AND id = $2
  `, tenantID, runID).Scan(&run.ID, &run.TenantID, &run.PeriodID, &companyID, &triggeredBy, &state, &summaryJSON, &errMsg, &run.StartedAt, &run.CompletedAt, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	run.State = State(state)
	run.CompanyID = deref(companyID)
	run.TriggeredBy = deref(triggeredBy)
	run.Error = deref(errMsg)
	if len(summaryJSON) > 0 {
		var summary Summary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return Run{}, err
		}
		summary.Elapsed = time.Duration(summary.ElapsedMs) * time.Millisecond
		run.Summary = &summary
	}
	return run, nil
}

func (s *Store) ListApprovedEntries(ctx context.Context, tenantID, periodID, companyID string) ([]Entry, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT de.id, de.assignment_id, de.employee_id,
           COALESCE(de.department_id, e.department_id),
           e.user_id,
           COALESCE(d.head_employee_id = e.id, false),
           de.actual_value
    FROM kpi_data_entries de
    JOIN kpi_submissions sub ON sub.id = de.submission_id
    JOIN employees e ON e.id = de.employee_id
    LEFT JOIN departments d ON d.id = COALESCE(de.department_id, e.department_id)
    WHERE sub.tenant_id = $1 AND sub.period_id = $2 AND sub.status = 'approved'
      AND ($3::uuid IS NULL OR e.company_id = $3::uuid)
    ORDER BY de.employee_id, de.id
  `, tenantID, periodID, nullable(companyID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var entry Entry
		var departmentID, userID *string
		if err := rows.Scan(&entry.ID, &entry.AssignmentID, &entry.EmployeeID, &departmentID, &userID, &entry.IsLeader, &entry.ActualValue); err != nil {
			return nil, err
		}
		entry.DepartmentID = deref(departmentID)
		entry.UserID = deref(userID)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) AssignmentDetail(ctx context.Context, tenantID, assignmentID string) (AssignmentDetail, error) {
	var detail AssignmentDetail
	var kind string
	var rulesJSON []byte
	m := &detail.Metric
	err := s.DB.QueryRow(ctx, `
    SELECT a.id, a.target_value, a.challenge_value, a.weight,
           m.id, m.tenant_id, m.name, m.formula_kind, m.score_cap, m.score_floor, m.stepped_rules, m.custom_expression, m.is_active
    FROM kpi_assignments a
    JOIN kpi_metric_definitions m ON m.id = a.metric_id
    WHERE a.tenant_id = $1 AND a.id = $2
  `, tenantID, assignmentID).Scan(&detail.ID, &detail.TargetValue, &detail.ChallengeValue, &detail.Weight,
		&m.ID, &m.TenantID, &m.Name, &kind, &m.ScoreCap, &m.ScoreFloor, &rulesJSON, &m.CustomExpression, &m.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return AssignmentDetail{}, &scoring.NotFoundError{Entity: "assignment", ID: assignmentID}
	}
	if err != nil {
		return AssignmentDetail{}, err
	}
	m.FormulaKind = scoring.FormulaKind(kind)
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &m.SteppedRules); err != nil {
			return AssignmentDetail{}, err
		}
	}
	return detail, nil
}

func (s *Store) UpsertEntryScore(ctx context.Context, tenantID, entryID string, result scoring.Result) error {
	_, err := s.DB.Exec(ctx, `
    UPDATE kpi_data_entries
    SET raw_score = $3, capped_score = $4, weighted_score = $5, scored_at = now()
    WHERE tenant_id = $1 AND id = $2
  `, tenantID, entryID, result.RawScore, result.CappedScore, result.WeightedScore)
	return err
}

func (s *Store) UpsertIndividualResult(ctx context.Context, result IndividualResult) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO kpi_individual_results (tenant_id, period_id, employee_id, department_id, total_score, grade, status)
    VALUES ($1,$2,$3,$4,$5,$6,$7)
    ON CONFLICT (period_id, employee_id)
      DO UPDATE SET department_id = EXCLUDED.department_id,
                    total_score = EXCLUDED.total_score,
                    grade = EXCLUDED.grade,
                    status = EXCLUDED.status,
                    calculated_at = now()
  `, result.TenantID, result.PeriodID, result.EmployeeID, nullable(result.DepartmentID), result.TotalScore, result.Grade, result.Status)
	return err
}

func (s *Store) UpsertGroupResult(ctx context.Context, result GroupResult) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO kpi_group_results (tenant_id, period_id, company_id, department_id, score, employee_count, method, grade)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    ON CONFLICT (period_id, company_id, department_id)
      DO UPDATE SET score = EXCLUDED.score,
                    employee_count = EXCLUDED.employee_count,
                    method = EXCLUDED.method,
                    grade = EXCLUDED.grade,
                    calculated_at = now()
  `, result.TenantID, result.PeriodID, nullable(result.CompanyID), nullable(result.DepartmentID), result.Score, result.EmployeeCount, string(result.Method), result.Grade)
	return err
}

func (s *Store) ListIndividualResults(ctx context.Context, tenantID, periodID string) ([]IndividualResult, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT tenant_id, period_id, employee_id, department_id, total_score, grade, status
    FROM kpi_individual_results
    WHERE tenant_id = $1 AND period_id = $2
    ORDER BY total_score DESC, employee_id
  `, tenantID, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]IndividualResult, 0)
	for rows.Next() {
		var r IndividualResult
		var departmentID *string
		if err := rows.Scan(&r.TenantID, &r.PeriodID, &r.EmployeeID, &departmentID, &r.TotalScore, &r.Grade, &r.Status); err != nil {
			return nil, err
		}
		r.DepartmentID = deref(departmentID)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) ListGroupResults(ctx context.Context, tenantID, periodID string) ([]GroupResult, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT tenant_id, period_id, company_id, department_id, score, employee_count, method, grade
    FROM kpi_group_results
    WHERE tenant_id = $1 AND period_id = $2
    ORDER BY company_id NULLS FIRST, department_id NULLS FIRST
  `, tenantID, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]GroupResult, 0)
	for rows.Next() {
		var r GroupResult
		var companyID, departmentID *string
		var method string
		if err := rows.Scan(&r.TenantID, &r.PeriodID, &companyID, &departmentID, &r.Score, &r.EmployeeCount, &method, &r.Grade); err != nil {
			return nil, err
		}
		r.CompanyID = deref(companyID)
		r.DepartmentID = deref(departmentID)
		r.Method = scoring.RollupMethod(method)
		results = append(results, r)
	}
	return results, rows.Err()
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
