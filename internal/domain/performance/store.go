package performance

import (
	"context"
	"encoding/json"
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

const metricColumns = `id, tenant_id, name, description, unit, formula_kind, score_cap, score_floor, stepped_rules, custom_expression, is_active, created_at`

func (s *Store) CreateMetric(ctx context.Context, metric MetricDefinition) (string, error) {
	rulesJSON, err := json.Marshal(metric.SteppedRules)
	if err != nil {
		return "", err
	}
	var id string
	if err := s.DB.QueryRow(ctx, `
    INSERT INTO kpi_metric_definitions (tenant_id, name, description, unit, formula_kind, score_cap, score_floor, stepped_rules, custom_expression, is_active)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,true)
    RETURNING id
  `, metric.TenantID, metric.Name, metric.Description, metric.Unit, string(metric.FormulaKind), metric.ScoreCap, metric.ScoreFloor, rulesJSON, metric.CustomExpression).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) GetMetric(ctx context.Context, tenantID, metricID string) (MetricDefinition, error) {
	row := s.DB.QueryRow(ctx, `
    SELECT `+metricColumns+`
    FROM kpi_metric_definitions
    WHERE tenant_id = $1 AND id = $2
  `, tenantID, metricID)
	metric, err := scanMetric(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return MetricDefinition{}, &scoring.NotFoundError{Entity: "metric", ID: metricID}
	}
	return metric, err
}

func (s *Store) ListMetrics(ctx context.Context, tenantID string, activeOnly bool) ([]MetricDefinition, error) {
	query := `
    SELECT ` + metricColumns + `
    FROM kpi_metric_definitions
    WHERE tenant_id = $1
  `
	if activeOnly {
		query += " AND is_active"
	}
	query += " ORDER BY name"

	rows, err := s.DB.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metrics := make([]MetricDefinition, 0)
	for rows.Next() {
		metric, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, metric)
	}
	return metrics, rows.Err()
}

func (s *Store) DeactivateMetric(ctx context.Context, tenantID, metricID string) error {
	tag, err := s.DB.Exec(ctx, `
    UPDATE kpi_metric_definitions
    SET is_active = false, updated_at = now()
    WHERE tenant_id = $1 AND id = $2
  `, tenantID, metricID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &scoring.NotFoundError{Entity: "metric", ID: metricID}
	}
	return nil
}

func (s *Store) CreatePeriod(ctx context.Context, period Period) (string, error) {
	var id string
	if err := s.DB.QueryRow(ctx, `
    INSERT INTO kpi_periods (tenant_id, name, start_date, end_date, status)
    VALUES ($1,$2,$3,$4,$5)
    RETURNING id
  `, period.TenantID, period.Name, period.StartDate, period.EndDate, period.Status).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) GetPeriod(ctx context.Context, tenantID, periodID string) (Period, error) {
	var p Period
	err := s.DB.QueryRow(ctx, `
    SELECT id, tenant_id, name, start_date, end_date, status, created_at
    FROM kpi_periods
    WHERE tenant_id = $1 AND id = $2
  `, tenantID, periodID).Scan(&p.ID, &p.TenantID, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, &scoring.NotFoundError{Entity: "period", ID: periodID}
	}
	return p, err
}

func (s *Store) ListPeriods(ctx context.Context, tenantID string) ([]Period, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, tenant_id, name, start_date, end_date, status, created_at
    FROM kpi_periods
    WHERE tenant_id = $1
    ORDER BY start_date DESC
  `, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	periods := make([]Period, 0)
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (s *Store) UpdatePeriodStatus(ctx context.Context, tenantID, periodID, status string) error {
	_, err := s.DB.Exec(ctx, `
    UPDATE kpi_periods
    SET status = $3, updated_at = now()
    WHERE tenant_id = $1 AND id = $2
  `, tenantID, periodID, status)
	return err
}

func scanMetric(row pgx.Row) (MetricDefinition, error) {
	var m MetricDefinition
	var kind string
	var rulesJSON []byte
	if err := row.Scan(&m.ID, &m.TenantID, &m.Name, &m.Description, &m.Unit, &kind, &m.ScoreCap, &m.ScoreFloor, &rulesJSON, &m.CustomExpression, &m.Active, &m.CreatedAt); err != nil {
		return MetricDefinition{}, err
	}
	m.FormulaKind = scoring.FormulaKind(kind)
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &m.SteppedRules); err != nil {
			return MetricDefinition{}, err
		}
	}
	return m, nil
}
