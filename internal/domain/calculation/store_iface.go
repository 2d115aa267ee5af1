package calculation

import (
	"context"

	"kpi/internal/domain/scoring"
)

type StoreAPI interface {
	PeriodExists(ctx context.Context, tenantID, periodID string) (bool, error)
	CreateRun(ctx context.Context, run Run) (string, error)
	TransitionRun(ctx context.Context, tenantID, runID string, from, to State, summary *Summary, errMsg string) error
	GetRun(ctx context.Context, tenantID, runID string) (Run, error)
	ListApprovedEntries(ctx context.Context, tenantID, periodID, companyID string) ([]Entry, error)
	AssignmentDetail(ctx context.Context, tenantID, assignmentID string) (AssignmentDetail, error)
	UpsertEntryScore(ctx context.Context, tenantID, entryID string, result scoring.Result) error
	UpsertIndividualResult(ctx context.Context, result IndividualResult) error
	UpsertGroupResult(ctx context.Context, result GroupResult) error
	ListIndividualResults(ctx context.Context, tenantID, periodID string) ([]IndividualResult, error)
	ListGroupResults(ctx context.Context, tenantID, periodID string) ([]GroupResult, error)
}
