package calibration

import "context"

type StoreAPI interface {
	CurrentScore(ctx context.Context, tenantID, periodID, employeeID string) (float64, string, error)
	InsertAdjustment(ctx context.Context, adjustment Adjustment) (string, error)
	ListAdjustments(ctx context.Context, tenantID, periodID string) ([]Adjustment, error)
}
