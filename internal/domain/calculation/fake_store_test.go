package calculation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kpi/internal/domain/performance"
	"kpi/internal/domain/scoring"
)

type fakeStore struct {
	mu          sync.Mutex
	periods     map[string]bool
	entries     []Entry
	details     map[string]AssignmentDetail
	runs        map[string]Run
	entryScores map[string]scoring.Result
	individuals map[string]IndividualResult
	groups      map[string]GroupResult
	runSeq      int
	detailLoads int

	// byCompany, when set, replaces entries for runs scoped to a company.
	byCompany map[string][]Entry

	onEntryUpsert func()
	failGroupFor  string
}

func newFakeStore() *fakeStore {
	pos := performance.MetricDefinition{ID: "m-pos", FormulaKind: scoring.FormulaPositive, ScoreCap: 120, Active: true}
	bin := performance.MetricDefinition{ID: "m-bin", FormulaKind: scoring.FormulaBinary, ScoreCap: 100, Active: true}
	cus := performance.MetricDefinition{ID: "m-cus", FormulaKind: scoring.FormulaCustom, ScoreCap: 150, CustomExpression: "actual / challenge * 100", Active: true}
	return &fakeStore{
		periods: map[string]bool{"p1": true},
		entries: []Entry{
			{ID: "x1", AssignmentID: "a1", EmployeeID: "e1", DepartmentID: "d1", UserID: "u1", IsLeader: true, ActualValue: 90},
			{ID: "x2", AssignmentID: "a2", EmployeeID: "e1", DepartmentID: "d1", UserID: "u1", IsLeader: true, ActualValue: 0},
			{ID: "x3", AssignmentID: "a1", EmployeeID: "e2", DepartmentID: "d1", UserID: "u2", ActualValue: 50},
			{ID: "x4", AssignmentID: "a2", EmployeeID: "e2", DepartmentID: "d1", UserID: "u2", ActualValue: 1},
			{ID: "x5", AssignmentID: "a1", EmployeeID: "e3", DepartmentID: "d2", UserID: "u3", ActualValue: 120},
		},
		details: map[string]AssignmentDetail{
			"a1": {ID: "a1", TargetValue: 100, Weight: 60, Metric: pos},
			"a2": {ID: "a2", TargetValue: 1, Weight: 40, Metric: bin},
			"a3": {ID: "a3", TargetValue: 10, Weight: 100, Metric: cus},
		},
		runs:        map[string]Run{},
		entryScores: map[string]scoring.Result{},
		individuals: map[string]IndividualResult{},
		groups:      map[string]GroupResult{},
	}
}

func (f *fakeStore) PeriodExists(ctx context.Context, tenantID, periodID string) (bool, error) {
	return f.periods[periodID], nil
}

func (f *fakeStore) CreateRun(ctx context.Context, run Run) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runSeq++
	run.ID = fmt.Sprintf("run-%d", f.runSeq)
	f.runs[run.ID] = run
	return run.ID, nil
}

func (f *fakeStore) TransitionRun(ctx context.Context, tenantID, runID string, from, to State, summary *Summary, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.State != from || !from.CanTransition(to) {
		return ErrInvalidTransition
	}
	run.State = to
	if summary != nil {
		copied := *summary
		run.Summary = &copied
	}
	run.Error = errMsg
	f.runs[runID] = run
	return nil
}

func (f *fakeStore) GetRun(ctx context.Context, tenantID, runID string) (Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return run, nil
}

func (f *fakeStore) ListApprovedEntries(ctx context.Context, tenantID, periodID, companyID string) ([]Entry, error) {
	if f.byCompany != nil {
		return append([]Entry(nil), f.byCompany[companyID]...), nil
	}
	return append([]Entry(nil), f.entries...), nil
}

func (f *fakeStore) AssignmentDetail(ctx context.Context, tenantID, assignmentID string) (AssignmentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailLoads++
	detail, ok := f.details[assignmentID]
	if !ok {
		return AssignmentDetail{}, &scoring.NotFoundError{Entity: "assignment", ID: assignmentID}
	}
	return detail, nil
}

func (f *fakeStore) UpsertEntryScore(ctx context.Context, tenantID, entryID string, result scoring.Result) error {
	if f.onEntryUpsert != nil {
		f.onEntryUpsert()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entryScores[entryID] = result
	return nil
}

func (f *fakeStore) UpsertIndividualResult(ctx context.Context, result IndividualResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.individuals[result.PeriodID+"/"+result.EmployeeID] = result
	return nil
}

func (f *fakeStore) UpsertGroupResult(ctx context.Context, result GroupResult) error {
	if f.failGroupFor != "" && result.DepartmentID == f.failGroupFor {
		return errors.New("connection reset")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[result.PeriodID+"/"+result.CompanyID+"/"+result.DepartmentID] = result
	return nil
}

func (f *fakeStore) ListIndividualResults(ctx context.Context, tenantID, periodID string) ([]IndividualResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []IndividualResult
	for _, r := range f.individuals {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) ListGroupResults(ctx context.Context, tenantID, periodID string) ([]GroupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []GroupResult
	for _, r := range f.groups {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) snapshot() (map[string]IndividualResult, map[string]GroupResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	individuals := make(map[string]IndividualResult, len(f.individuals))
	for k, v := range f.individuals {
		individuals[k] = v
	}
	groups := make(map[string]GroupResult, len(f.groups))
	for k, v := range f.groups {
		groups[k] = v
	}
	return individuals, groups
}
