package calculation

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"kpi/internal/domain/scoring"
)

// Notifier receives fire-and-forget messages about finished runs. Errors are
// logged and never affect the run.
type Notifier interface {
	CalculationCompleted(ctx context.Context, tenantID, userID string, summary Summary) error
	LowPerformance(ctx context.Context, tenantID, userID string, result IndividualResult) error
}

type Observer interface {
	RunFinished(state string, elapsed time.Duration)
	EntriesScored(count int)
}

type Options struct {
	Concurrency             int
	LowPerformanceThreshold float64
	DefaultMethod           scoring.RollupMethod
	Classifier              scoring.Classifier
}

type Service struct {
	store    StoreAPI
	opts     Options
	Notifier Notifier
	Observer Observer
	// Dispatch runs notification callbacks; it defaults to a new goroutine.
	Dispatch func(func())
	now      func() time.Time
}

func NewService(store StoreAPI, opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	if opts.DefaultMethod == "" {
		opts.DefaultMethod = scoring.RollupAverage
	}
	if len(opts.Classifier.GradeTable.Thresholds) == 0 && opts.Classifier.GradeTable.CatchAll == "" {
		opts.Classifier = scoring.DefaultClassifier()
	}
	return &Service{
		store:    store,
		opts:     opts,
		Dispatch: func(f func()) { go f() },
		now:      time.Now,
	}
}

// Run executes a calculation synchronously and returns its summary.
func (s *Service) Run(ctx context.Context, req Request) (Summary, error) {
	run, err := s.Prepare(ctx, req)
	if err != nil {
		return Summary{}, err
	}
	return s.Execute(ctx, run.ID, req)
}

// Prepare validates the request and records an idle run. Execute picks it up,
// either inline or from the job queue.
func (s *Service) Prepare(ctx context.Context, req Request) (Run, error) {
	if req.TenantID == "" {
		return Run{}, &scoring.ValidationError{Field: "tenantId", Reason: "tenant is required"}
	}
	if req.PeriodID == "" {
		return Run{}, &scoring.ValidationError{Field: "periodId", Reason: "period is required"}
	}
	if req.Method != "" {
		if _, err := scoring.ParseRollupMethod(string(req.Method)); err != nil {
			return Run{}, err
		}
	}
	exists, err := s.store.PeriodExists(ctx, req.TenantID, req.PeriodID)
	if err != nil {
		return Run{}, eris.Wrap(err, "calculation: load period")
	}
	if !exists {
		return Run{}, &scoring.NotFoundError{Entity: "period", ID: req.PeriodID}
	}

	run := Run{
		TenantID:    req.TenantID,
		PeriodID:    req.PeriodID,
		CompanyID:   req.CompanyID,
		TriggeredBy: req.TriggeredBy,
		State:       StateIdle,
		CreatedAt:   s.now(),
	}
	id, err := s.store.CreateRun(ctx, run)
	if err != nil {
		return Run{}, eris.Wrap(err, "calculation: create run")
	}
	run.ID = id
	return run, nil
}

// Abandon fails an idle run that was never started.
func (s *Service) Abandon(ctx context.Context, tenantID, runID string, cause error) error {
	return s.store.TransitionRun(ctx, tenantID, runID, StateIdle, StateFailed, nil, cause.Error())
}

func (s *Service) GetRun(ctx context.Context, tenantID, runID string) (Run, error) {
	return s.store.GetRun(ctx, tenantID, runID)
}

func (s *Service) Results(ctx context.Context, tenantID, periodID string) ([]IndividualResult, []GroupResult, error) {
	individuals, err := s.store.ListIndividualResults(ctx, tenantID, periodID)
	if err != nil {
		return nil, nil, err
	}
	groups, err := s.store.ListGroupResults(ctx, tenantID, periodID)
	if err != nil {
		return nil, nil, err
	}
	return individuals, groups, nil
}

// Execute moves an idle run through running to completed or failed. Writes
// made before a failure stay committed; every write is an upsert so the
// period can be recalculated from scratch.
func (s *Service) Execute(ctx context.Context, runID string, req Request) (Summary, error) {
	if err := s.store.TransitionRun(ctx, req.TenantID, runID, StateIdle, StateRunning, nil, ""); err != nil {
		return Summary{}, eris.Wrapf(err, "calculation: start run %s", runID)
	}

	started := s.now()
	summary := Summary{RunID: runID, PeriodID: req.PeriodID, CompanyID: req.CompanyID}
	individuals, err := s.execute(ctx, req, &summary)
	summary.Elapsed = s.now().Sub(started)
	summary.ElapsedMs = summary.Elapsed.Milliseconds()

	if err != nil {
		// the caller's context may already be cancelled; the failure must still be recorded
		if updErr := s.store.TransitionRun(context.WithoutCancel(ctx), req.TenantID, runID, StateRunning, StateFailed, &summary, err.Error()); updErr != nil {
			slog.Warn("calculation run failure not recorded", "runId", runID, "err", updErr)
		}
		s.observe(StateFailed, summary)
		slog.Warn("calculation run failed", "runId", runID, "periodId", req.PeriodID, "err", err)
		return summary, err
	}

	if err := s.store.TransitionRun(ctx, req.TenantID, runID, StateRunning, StateCompleted, &summary, ""); err != nil {
		return summary, eris.Wrapf(err, "calculation: complete run %s", runID)
	}
	s.observe(StateCompleted, summary)
	slog.Info("calculation run completed", "runId", runID, "periodId", req.PeriodID,
		"entries", summary.Entries, "employees", summary.Employees, "departments", summary.Departments,
		"elapsedMs", summary.ElapsedMs)
	s.notify(ctx, req, summary, individuals)
	return summary, nil
}

func (s *Service) execute(ctx context.Context, req Request, summary *Summary) ([]individual, error) {
	method := s.opts.DefaultMethod
	if req.Method != "" {
		method = req.Method
	}

	entries, err := s.store.ListApprovedEntries(ctx, req.TenantID, req.PeriodID, req.CompanyID)
	if err != nil {
		return nil, &RunError{Phase: PhaseSetup, Cause: eris.Wrap(err, "load approved entries")}
	}
	summary.Entries = len(entries)

	scored, err := s.scoreEntries(ctx, req.TenantID, entries)
	if err != nil {
		return nil, err
	}
	if s.Observer != nil {
		s.Observer.EntriesScored(len(scored))
	}

	individuals, err := s.aggregateIndividuals(ctx, req, entries, scored)
	if err != nil {
		return nil, err
	}
	summary.Employees = len(individuals)

	departments, companyScore, err := s.rollupGroups(ctx, req, method, individuals)
	if err != nil {
		return nil, err
	}
	summary.Departments = departments
	summary.CompanyScore = companyScore
	return individuals, nil
}

// scoreEntries is phase one. It returns one result per entry, index aligned
// with entries.
func (s *Service) scoreEntries(ctx context.Context, tenantID string, entries []Entry) ([]scoring.WeightedResult, error) {
	details, err := s.loadAssignments(ctx, tenantID, entries)
	if err != nil {
		return nil, err
	}
	programs := newProgramCache()

	results := make([]scoring.WeightedResult, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, entry := range entries {
		g.Go(func() error {
			fail := func(cause error) error {
				return &RunError{Phase: PhaseEntries, EntryID: entry.ID, EmployeeID: entry.EmployeeID, DepartmentID: entry.DepartmentID, Cause: cause}
			}
			detail := details[entry.AssignmentID]
			input := detail.Metric.Input(entry.ActualValue, detail.TargetValue, detail.ChallengeValue, detail.Weight)
			input.Ref = entry.ID
			if input.Kind == scoring.FormulaCustom {
				program, err := programs.get(detail.Metric.ID, detail.Metric.CustomExpression)
				if err != nil {
					return fail(&scoring.FormulaEvaluationError{Expression: detail.Metric.CustomExpression, Ref: entry.ID, Actual: entry.ActualValue, Target: detail.TargetValue, Err: err})
				}
				input.Program = program
			}
			result, err := scoring.Evaluate(input)
			if err != nil {
				return fail(err)
			}
			if err := s.store.UpsertEntryScore(gctx, tenantID, entry.ID, result); err != nil {
				return fail(eris.Wrap(err, "persist entry score"))
			}
			results[i] = scoring.WeightedResult{MetricID: detail.Metric.ID, WeightedScore: result.WeightedScore}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) loadAssignments(ctx context.Context, tenantID string, entries []Entry) (map[string]AssignmentDetail, error) {
	firstEntry := make(map[string]Entry)
	ids := make([]string, 0)
	for _, entry := range entries {
		if _, ok := firstEntry[entry.AssignmentID]; ok {
			continue
		}
		firstEntry[entry.AssignmentID] = entry
		ids = append(ids, entry.AssignmentID)
	}

	var mu sync.Mutex
	details := make(map[string]AssignmentDetail, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			detail, err := s.store.AssignmentDetail(gctx, tenantID, id)
			if err != nil {
				entry := firstEntry[id]
				return &RunError{Phase: PhaseEntries, EntryID: entry.ID, EmployeeID: entry.EmployeeID, DepartmentID: entry.DepartmentID, Cause: err}
			}
			mu.Lock()
			details[id] = detail
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return details, nil
}

type individual struct {
	result   IndividualResult
	userID   string
	isLeader bool
}

// aggregateIndividuals is phase two. It only starts after every entry score
// is known.
func (s *Service) aggregateIndividuals(ctx context.Context, req Request, entries []Entry, scored []scoring.WeightedResult) ([]individual, error) {
	byEmployee := make(map[string][]scoring.WeightedResult)
	people := make(map[string]*individual)
	order := make([]string, 0)
	for i, entry := range entries {
		person, ok := people[entry.EmployeeID]
		if !ok {
			person = &individual{result: IndividualResult{TenantID: req.TenantID, PeriodID: req.PeriodID, EmployeeID: entry.EmployeeID}}
			people[entry.EmployeeID] = person
			order = append(order, entry.EmployeeID)
		}
		if person.result.DepartmentID == "" {
			person.result.DepartmentID = entry.DepartmentID
		}
		if person.userID == "" {
			person.userID = entry.UserID
		}
		person.isLeader = person.isLeader || entry.IsLeader
		byEmployee[entry.EmployeeID] = append(byEmployee[entry.EmployeeID], scored[i])
	}
	sort.Strings(order)

	out := make([]individual, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, employeeID := range order {
		g.Go(func() error {
			person := *people[employeeID]
			total := scoring.TotalScore(byEmployee[employeeID])
			person.result.TotalScore = total
			person.result.Grade = s.opts.Classifier.Grade(total)
			person.result.Status = s.opts.Classifier.Status(total)
			if err := s.store.UpsertIndividualResult(gctx, person.result); err != nil {
				return &RunError{Phase: PhaseIndividuals, EmployeeID: employeeID, DepartmentID: person.result.DepartmentID, Cause: eris.Wrap(err, "persist individual result")}
			}
			out[i] = person
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// rollupGroups is phase three. It returns the number of departments written
// and the company score when one was requested.
func (s *Service) rollupGroups(ctx context.Context, req Request, method scoring.RollupMethod, individuals []individual) (int, *float64, error) {
	members := make([]scoring.MemberScore, 0, len(individuals))
	for _, person := range individuals {
		members = append(members, scoring.MemberScore{
			EmployeeID:   person.result.EmployeeID,
			DepartmentID: person.result.DepartmentID,
			Score:        person.result.TotalScore,
			IsLeader:     person.isLeader,
		})
	}
	partitions := scoring.PartitionByDepartment(members)
	departmentIDs := make([]string, 0, len(partitions))
	for id := range partitions {
		departmentIDs = append(departmentIDs, id)
	}
	sort.Strings(departmentIDs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, departmentID := range departmentIDs {
		g.Go(func() error {
			_, err := s.writeGroup(gctx, req, method, departmentID, partitions[departmentID])
			return err
		})
	}

	var companyScore *float64
	if req.IncludeCompany {
		g.Go(func() error {
			score, err := s.writeGroup(gctx, req, method, "", members)
			if err != nil {
				return err
			}
			companyScore = &score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}
	return len(departmentIDs), companyScore, nil
}

func (s *Service) writeGroup(ctx context.Context, req Request, method scoring.RollupMethod, departmentID string, members []scoring.MemberScore) (float64, error) {
	score, err := scoring.Rollup(members, method)
	if err != nil {
		return 0, &RunError{Phase: PhaseGroups, DepartmentID: departmentID, Cause: err}
	}
	result := GroupResult{
		TenantID:      req.TenantID,
		PeriodID:      req.PeriodID,
		CompanyID:     req.CompanyID,
		DepartmentID:  departmentID,
		Score:         score,
		EmployeeCount: len(members),
		Method:        method,
		Grade:         s.opts.Classifier.Grade(score),
	}
	if err := s.store.UpsertGroupResult(ctx, result); err != nil {
		return 0, &RunError{Phase: PhaseGroups, DepartmentID: departmentID, Cause: eris.Wrap(err, "persist group result")}
	}
	return score, nil
}

func (s *Service) notify(ctx context.Context, req Request, summary Summary, individuals []individual) {
	if s.Notifier == nil || req.Silent {
		return
	}
	bg := context.WithoutCancel(ctx)
	if req.TriggeredBy != "" {
		s.Dispatch(func() {
			if err := s.Notifier.CalculationCompleted(bg, req.TenantID, req.TriggeredBy, summary); err != nil {
				slog.Warn("calculation completed notification failed", "runId", summary.RunID, "err", err)
			}
		})
	}
	if s.opts.LowPerformanceThreshold <= 0 {
		return
	}
	for _, person := range individuals {
		if person.userID == "" || person.result.TotalScore >= s.opts.LowPerformanceThreshold {
			continue
		}
		s.Dispatch(func() {
			if err := s.Notifier.LowPerformance(bg, req.TenantID, person.userID, person.result); err != nil {
				slog.Warn("low performance notification failed", "employeeId", person.result.EmployeeID, "err", err)
			}
		})
	}
}

func (s *Service) observe(state State, summary Summary) {
	if s.Observer != nil {
		s.Observer.RunFinished(string(state), summary.Elapsed)
	}
}

type programCache struct {
	mu       sync.Mutex
	programs map[string]*scoring.Program
	errs     map[string]error
}

func newProgramCache() *programCache {
	return &programCache{programs: map[string]*scoring.Program{}, errs: map[string]error{}}
}

func (c *programCache) get(metricID, expression string) (*scoring.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if program, ok := c.programs[metricID]; ok {
		return program, nil
	}
	if err, ok := c.errs[metricID]; ok {
		return nil, err
	}
	program, err := scoring.Compile(expression)
	if err != nil {
		c.errs[metricID] = err
		return nil, err
	}
	c.programs[metricID] = program
	return program, nil
}
