package assignment

import (
	"context"
	"errors"
	"fmt"
	"math"

	"kpi/internal/domain/scoring"
)

var (
	ErrMetricInactive = errors.New("metric is inactive")
	ErrPeriodNotFound = errors.New("period not found")
)

// Observer is told about weight budget rejections.
type Observer interface {
	WeightRejected(level string)
}

type Service struct {
	Store    StoreAPI
	Observer Observer
}

func NewService(store StoreAPI) *Service {
	return &Service{Store: store}
}

type CreateInput struct {
	TenantID       string
	PeriodID       string
	MetricID       string
	DepartmentID   string
	EmployeeID     string
	TargetValue    float64
	ChallengeValue *float64
	Weight         float64
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Assignment, error) {
	a := Assignment{
		TenantID:       in.TenantID,
		PeriodID:       in.PeriodID,
		MetricID:       in.MetricID,
		DepartmentID:   in.DepartmentID,
		EmployeeID:     in.EmployeeID,
		TargetValue:    in.TargetValue,
		ChallengeValue: in.ChallengeValue,
		Weight:         in.Weight,
	}
	if a.MetricID == "" {
		return Assignment{}, &scoring.ValidationError{Field: "metricId", Reason: "metric is required"}
	}
	if err := validateValues(a); err != nil {
		return Assignment{}, err
	}

	err := s.Store.WithTx(ctx, func(tx TxStore) error {
		exists, err := tx.PeriodExists(ctx, a.TenantID, a.PeriodID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrPeriodNotFound
		}
		active, err := tx.MetricActive(ctx, a.TenantID, a.MetricID)
		if err != nil {
			return err
		}
		if !active {
			return ErrMetricInactive
		}
		if err := s.reserve(ctx, tx, a.Scope(), a.Weight, ""); err != nil {
			return err
		}
		id, err := tx.InsertAssignment(ctx, a)
		if err != nil {
			return err
		}
		a.ID = id
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}
	return a, nil
}

// Update applies changes to an existing assignment. The weight check excludes
// the row being changed so lowering or keeping a weight always passes.
func (s *Service) Update(ctx context.Context, tenantID, assignmentID string, changes Changes) (Assignment, error) {
	var updated Assignment
	err := s.Store.WithTx(ctx, func(tx TxStore) error {
		current, err := tx.AssignmentForUpdate(ctx, tenantID, assignmentID)
		if err != nil {
			return err
		}
		if changes.TargetValue != nil {
			current.TargetValue = *changes.TargetValue
		}
		if changes.ChallengeValue != nil {
			current.ChallengeValue = changes.ChallengeValue
		}
		if changes.Weight != nil {
			current.Weight = *changes.Weight
		}
		if err := validateValues(current); err != nil {
			return err
		}
		if err := s.reserve(ctx, tx, current.Scope(), current.Weight, current.ID); err != nil {
			return err
		}
		if err := tx.UpdateAssignment(ctx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}
	return updated, nil
}

// Delete soft-deletes an assignment. It takes the scope lock so a concurrent
// reservation never sums a row that is about to disappear.
func (s *Service) Delete(ctx context.Context, tenantID, assignmentID string) error {
	return s.Store.WithTx(ctx, func(tx TxStore) error {
		current, err := tx.AssignmentForUpdate(ctx, tenantID, assignmentID)
		if err != nil {
			return err
		}
		if err := tx.LockScope(ctx, current.Scope()); err != nil {
			return err
		}
		return tx.SoftDeleteAssignment(ctx, tenantID, assignmentID)
	})
}

func (s *Service) Budget(ctx context.Context, scope ScopeKey) (Budget, error) {
	if err := ValidateScope(scope); err != nil {
		return Budget{}, err
	}
	used, err := s.Store.SumWeights(ctx, scope, "")
	if err != nil {
		return Budget{}, err
	}
	return Budget{
		Scope:     scope,
		Level:     scope.Level(),
		Used:      used,
		Remaining: math.Max(0, scoring.WeightBudget-used),
	}, nil
}

func (s *Service) List(ctx context.Context, scope ScopeKey) ([]Assignment, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	return s.Store.ListAssignments(ctx, scope)
}

func (s *Service) reserve(ctx context.Context, tx TxStore, scope ScopeKey, weight float64, excludeID string) error {
	err := ReserveWeight(ctx, tx, scope, weight, excludeID)
	var exceeded *WeightExceededError
	if errors.As(err, &exceeded) && s.Observer != nil {
		s.Observer.WeightRejected(string(scope.Level()))
	}
	return err
}

func validateValues(a Assignment) error {
	if math.IsNaN(a.TargetValue) || math.IsInf(a.TargetValue, 0) {
		return &scoring.ValidationError{Field: "targetValue", Reason: "target must be a finite number"}
	}
	if a.ChallengeValue != nil && (math.IsNaN(*a.ChallengeValue) || math.IsInf(*a.ChallengeValue, 0)) {
		return &scoring.ValidationError{Field: "challengeValue", Reason: fmt.Sprintf("challenge must be a finite number, got %v", *a.ChallengeValue)}
	}
	if err := ValidateWeight(a.Weight); err != nil {
		return err
	}
	return ValidateScope(a.Scope())
}
