package assignment

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"kpi/internal/domain/scoring"
)

const weightTolerance = 1e-9

// WeightTx is the part of an open transaction the guard needs. LockScope must
// block concurrent holders of the same scope until the transaction ends.
type WeightTx interface {
	LockScope(ctx context.Context, scope ScopeKey) error
	SumWeights(ctx context.Context, scope ScopeKey, excludeID string) (float64, error)
}

// ReserveWeight checks, inside the caller's transaction, that adding proposed
// to the scope keeps its total at or below 100. excludeID is the assignment
// being updated, if any. The caller performs the write after a nil return.
func ReserveWeight(ctx context.Context, tx WeightTx, scope ScopeKey, proposed float64, excludeID string) error {
	if err := ValidateScope(scope); err != nil {
		return err
	}
	if err := ValidateWeight(proposed); err != nil {
		return err
	}
	if err := tx.LockScope(ctx, scope); err != nil {
		return eris.Wrapf(err, "assignment: lock scope %s", scope)
	}
	current, err := tx.SumWeights(ctx, scope, excludeID)
	if err != nil {
		return eris.Wrapf(err, "assignment: sum weights for %s", scope)
	}
	if attempted := current + proposed; attempted > scoring.WeightBudget+weightTolerance {
		return &WeightExceededError{Scope: scope, Attempted: attempted, Current: current}
	}
	return nil
}

func ValidateWeight(weight float64) error {
	if weight < 0 || weight > scoring.WeightBudget || math.IsNaN(weight) {
		return &scoring.ValidationError{Field: "weight", Reason: "weight must be between 0 and 100"}
	}
	return nil
}

func ValidateScope(scope ScopeKey) error {
	if scope.PeriodID == "" {
		return &scoring.ValidationError{Field: "periodId", Reason: "period is required"}
	}
	if scope.DepartmentID != "" && scope.EmployeeID != "" {
		return &scoring.ValidationError{Field: "scope", Reason: "an assignment targets a department or an employee, not both"}
	}
	return nil
}
