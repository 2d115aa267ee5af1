package performance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"kpi/internal/domain/scoring"
)

var ErrInvalidPeriodTransition = errors.New("invalid period status transition")

type Service struct {
	store StoreAPI
}

func NewService(store StoreAPI) *Service {
	return &Service{store: store}
}

// CreateMetric validates the formula parts of a definition before it is
// stored, so a bad custom expression never reaches a calculation run.
func (s *Service) CreateMetric(ctx context.Context, metric MetricDefinition) (MetricDefinition, error) {
	metric.Name = strings.TrimSpace(metric.Name)
	metric.FormulaKind = scoring.FormulaKind(strings.ToLower(strings.TrimSpace(string(metric.FormulaKind))))
	if metric.Name == "" {
		return MetricDefinition{}, &scoring.ValidationError{Field: "name", Reason: "name is required"}
	}
	if err := scoring.ValidateDefinition(metric.FormulaKind, metric.ScoreCap, metric.ScoreFloor, metric.SteppedRules, metric.CustomExpression); err != nil {
		return MetricDefinition{}, err
	}
	if metric.FormulaKind != scoring.FormulaCustom {
		metric.CustomExpression = ""
	}
	if metric.FormulaKind != scoring.FormulaStepped {
		metric.SteppedRules = nil
	}

	id, err := s.store.CreateMetric(ctx, metric)
	if err != nil {
		return MetricDefinition{}, eris.Wrap(err, "performance: create metric")
	}
	metric.ID = id
	metric.Active = true
	return metric, nil
}

func (s *Service) GetMetric(ctx context.Context, tenantID, metricID string) (MetricDefinition, error) {
	return s.store.GetMetric(ctx, tenantID, metricID)
}

func (s *Service) ListMetrics(ctx context.Context, tenantID string, activeOnly bool) ([]MetricDefinition, error) {
	return s.store.ListMetrics(ctx, tenantID, activeOnly)
}

func (s *Service) DeactivateMetric(ctx context.Context, tenantID, metricID string) error {
	return s.store.DeactivateMetric(ctx, tenantID, metricID)
}

func (s *Service) CreatePeriod(ctx context.Context, tenantID, name string, startDate, endDate time.Time) (Period, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Period{}, &scoring.ValidationError{Field: "name", Reason: "name is required"}
	}
	if !endDate.After(startDate) {
		return Period{}, &scoring.ValidationError{Field: "endDate", Reason: "end date must be after start date"}
	}
	period := Period{TenantID: tenantID, Name: name, StartDate: startDate, EndDate: endDate, Status: PeriodStatusDraft}
	id, err := s.store.CreatePeriod(ctx, period)
	if err != nil {
		return Period{}, eris.Wrap(err, "performance: create period")
	}
	period.ID = id
	return period, nil
}

func (s *Service) GetPeriod(ctx context.Context, tenantID, periodID string) (Period, error) {
	return s.store.GetPeriod(ctx, tenantID, periodID)
}

func (s *Service) ListPeriods(ctx context.Context, tenantID string) ([]Period, error) {
	return s.store.ListPeriods(ctx, tenantID)
}

// TransitionPeriod moves a period forward: draft -> open -> closed.
func (s *Service) TransitionPeriod(ctx context.Context, tenantID, periodID, status string) error {
	period, err := s.store.GetPeriod(ctx, tenantID, periodID)
	if err != nil {
		return err
	}
	if !periodTransitionAllowed(period.Status, status) {
		return ErrInvalidPeriodTransition
	}
	return s.store.UpdatePeriodStatus(ctx, tenantID, periodID, status)
}

func periodTransitionAllowed(from, to string) bool {
	switch from {
	case PeriodStatusDraft:
		return to == PeriodStatusOpen
	case PeriodStatusOpen:
		return to == PeriodStatusClosed
	}
	return false
}

// Preview scores a value against an unsaved definition.
func Preview(metric MetricDefinition, actual, target float64, challenge *float64, weight float64) (scoring.Result, error) {
	if err := scoring.ValidateDefinition(metric.FormulaKind, metric.ScoreCap, metric.ScoreFloor, metric.SteppedRules, metric.CustomExpression); err != nil {
		return scoring.Result{}, err
	}
	return scoring.Evaluate(metric.Input(actual, target, challenge, weight))
}
