package performance

import "context"

type StoreAPI interface {
	CreateMetric(ctx context.Context, metric MetricDefinition) (string, error)
	GetMetric(ctx context.Context, tenantID, metricID string) (MetricDefinition, error)
	ListMetrics(ctx context.Context, tenantID string, activeOnly bool) ([]MetricDefinition, error)
	DeactivateMetric(ctx context.Context, tenantID, metricID string) error
	CreatePeriod(ctx context.Context, period Period) (string, error)
	GetPeriod(ctx context.Context, tenantID, periodID string) (Period, error)
	ListPeriods(ctx context.Context, tenantID string) ([]Period, error)
	UpdatePeriodStatus(ctx context.Context, tenantID, periodID, status string) error
}
