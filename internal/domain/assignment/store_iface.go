package assignment

import "context"

type StoreAPI interface {
	WithTx(ctx context.Context, fn func(tx TxStore) error) error
	GetAssignment(ctx context.Context, tenantID, assignmentID string) (Assignment, error)
	ListAssignments(ctx context.Context, scope ScopeKey) ([]Assignment, error)
	SumWeights(ctx context.Context, scope ScopeKey, excludeID string) (float64, error)
}

// TxStore is bound to one transaction. Every assignment write goes through it
// so the weight guard and the write commit together.
type TxStore interface {
	WeightTx
	MetricActive(ctx context.Context, tenantID, metricID string) (bool, error)
	PeriodExists(ctx context.Context, tenantID, periodID string) (bool, error)
	AssignmentForUpdate(ctx context.Context, tenantID, assignmentID string) (Assignment, error)
	InsertAssignment(ctx context.Context, a Assignment) (string, error)
	UpdateAssignment(ctx context.Context, a Assignment) error
	SoftDeleteAssignment(ctx context.Context, tenantID, assignmentID string) error
}
