package calibration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rotisserie/eris"

	"kpi/internal/domain/scoring"
)

// Notify is called after an adjustment is stored; it may be nil.
type Notify func(ctx context.Context, tenantID, userID, title, body string) error

type Service struct {
	store      StoreAPI
	classifier scoring.Classifier
	Notify     Notify
}

func NewService(store StoreAPI, classifier scoring.Classifier) *Service {
	return &Service{store: store, classifier: classifier}
}

type RecordInput struct {
	TenantID      string
	PeriodID      string
	EmployeeID    string
	AdjustedScore float64
	Reason        string
	AdjustedBy    string
}

func (s *Service) Record(ctx context.Context, in RecordInput) (Adjustment, error) {
	original, userID, err := s.store.CurrentScore(ctx, in.TenantID, in.PeriodID, in.EmployeeID)
	if err != nil {
		return Adjustment{}, err
	}
	adjustment, err := Adjust(original, in.AdjustedScore, in.Reason, s.classifier)
	if err != nil {
		return Adjustment{}, err
	}
	adjustment.TenantID = in.TenantID
	adjustment.PeriodID = in.PeriodID
	adjustment.EmployeeID = in.EmployeeID
	adjustment.AdjustedBy = in.AdjustedBy

	id, err := s.store.InsertAdjustment(ctx, adjustment)
	if err != nil {
		return Adjustment{}, eris.Wrap(err, "calibration: insert adjustment")
	}
	adjustment.ID = id

	if s.Notify != nil && userID != "" && adjustment.GradeChanged() {
		body := fmt.Sprintf("Your KPI grade was calibrated from %s to %s.", adjustment.OriginalGrade, adjustment.AdjustedGrade)
		if err := s.Notify(ctx, in.TenantID, userID, "KPI grade calibrated", body); err != nil {
			slog.Warn("calibration notification failed", "employeeId", in.EmployeeID, "err", err)
		}
	}
	return adjustment, nil
}

func (s *Service) List(ctx context.Context, tenantID, periodID string) ([]Adjustment, error) {
	return s.store.ListAdjustments(ctx, tenantID, periodID)
}
