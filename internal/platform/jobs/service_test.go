package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpi/internal/domain/calculation"
	"kpi/internal/domain/scoring"
)

type fakeCalculator struct {
	mu        sync.Mutex
	prepared  int
	executed  []string
	requests  []calculation.Request
	abandoned []string
	done      chan struct{}
}

func (f *fakeCalculator) Prepare(ctx context.Context, req calculation.Request) (calculation.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared++
	return calculation.Run{ID: "run-" + req.PeriodID, TenantID: req.TenantID, PeriodID: req.PeriodID, State: calculation.StateIdle}, nil
}

func (f *fakeCalculator) Execute(ctx context.Context, runID string, req calculation.Request) (calculation.Summary, error) {
	f.mu.Lock()
	f.executed = append(f.executed, runID)
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return calculation.Summary{RunID: runID, PeriodID: req.PeriodID, Employees: 3}, nil
}

func (f *fakeCalculator) Abandon(ctx context.Context, tenantID, runID string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, runID)
	return nil
}

// queuedJob matches a job_runs payload argument by decoding it.
type queuedJob struct {
	want calculation.Job
}

func (q queuedJob) Match(arg any) bool {
	raw, ok := arg.([]byte)
	if !ok {
		return false
	}
	var got calculation.Job
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	return got == q.want
}

func TestRunJobRecordsPayloadAndResult(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	payload := calculation.Job{RunID: "run-1", PeriodID: "p1", CompanyID: "c1", TriggeringUserID: "u1", IncludeCompany: true}
	mock.ExpectQuery(`INSERT INTO job_runs \(tenant_id, job_type, status, payload_json\)`).
		WithArgs("t1", JobCalculation, "running", queuedJob{want: payload}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("job-1"))
	mock.ExpectExec(`UPDATE job_runs`).
		WithArgs("failed", pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	svc := New(mock, &fakeCalculator{}, 4)
	_, err = svc.runJob(context.Background(), job{
		Type:     JobCalculation,
		TenantID: "t1",
		Payload:  payload,
		Run: func(context.Context) (any, error) {
			return map[string]int{"entries": 0}, errors.New("boom")
		},
	})
	assert.EqualError(t, err, "boom")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCalculationJobPayloadRoundTrips(t *testing.T) {
	req := calculation.Request{
		TenantID:       "t1",
		PeriodID:       "p1",
		CompanyID:      "c1",
		TriggeredBy:    "u1",
		Method:         scoring.RollupLeaderScore,
		IncludeCompany: true,
	}
	encoded, err := json.Marshal(calculation.NewJob("run-7", req))
	require.NoError(t, err)
	assert.JSONEq(t, `{"runId":"run-7","periodId":"p1","companyId":"c1","triggeringUserId":"u1","method":"leader_score","includeCompany":true}`, string(encoded))

	var decoded calculation.Job
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, req, decoded.Request("t1"))
}

func TestEnqueueReportsFullQueue(t *testing.T) {
	svc := New(nil, &fakeCalculator{}, 1)
	noop := job{Type: JobCalculation, TenantID: "t1", Run: func(context.Context) (any, error) { return nil, nil }}

	require.NoError(t, svc.enqueue(noop))
	assert.ErrorIs(t, svc.enqueue(noop), ErrQueueFull)
}

func TestEnqueueCalculationAbandonsUnqueuedRun(t *testing.T) {
	calc := &fakeCalculator{}
	svc := New(nil, calc, 1)
	require.NoError(t, svc.enqueue(job{Type: JobCalculation, TenantID: "t1", Run: func(context.Context) (any, error) { return nil, nil }}))

	run, err := svc.EnqueueCalculation(context.Background(), JobCalculation, calculation.Request{TenantID: "t1", PeriodID: "p1"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, "run-p1", run.ID)
	assert.Equal(t, []string{"run-p1"}, calc.abandoned)
}

func TestWorkerExecutesQueuedCalculation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	req := calculation.Request{TenantID: "t1", PeriodID: "p1", CompanyID: "c1", TriggeredBy: "u1"}
	mock.ExpectQuery(`INSERT INTO job_runs`).
		WithArgs("t1", JobCalculation, "running", queuedJob{want: calculation.NewJob("run-p1", req)}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("job-1"))
	mock.ExpectExec(`UPDATE job_runs`).
		WithArgs("completed", pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	calc := &fakeCalculator{done: make(chan struct{}, 1)}
	svc := New(mock, calc, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	run, err := svc.EnqueueCalculation(ctx, JobCalculation, req)
	require.NoError(t, err)

	select {
	case <-calc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued calculation never executed")
	}
	require.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, 2*time.Second, 10*time.Millisecond)
	calc.mu.Lock()
	defer calc.mu.Unlock()
	assert.Equal(t, []string{run.ID}, calc.executed)
	assert.Equal(t, []calculation.Request{req}, calc.requests)
}

func TestRecalculateOpenPeriodsQueuesSilentRuns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT p.tenant_id, p.id, c.id\s+FROM kpi_periods p\s+JOIN companies c`).
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id", "id", "id"}).
			AddRow("t1", "p1", "c1").
			AddRow("t1", "p1", "c2").
			AddRow("t2", "p9", "c7"))

	calc := &fakeCalculator{}
	svc := New(mock, calc, 4)
	svc.recalculateOpenPeriods(context.Background())

	assert.Equal(t, 3, calc.prepared)
	require.Len(t, svc.queue, 3)
	companies := make([]string, 0, 3)
	for len(svc.queue) > 0 {
		queued := <-svc.queue
		payload, ok := queued.Payload.(calculation.Job)
		require.True(t, ok)
		assert.True(t, payload.Silent)
		assert.True(t, payload.IncludeCompany)
		companies = append(companies, payload.CompanyID)
	}
	assert.Equal(t, []string{"c1", "c2", "c7"}, companies)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type stubSweeper struct {
	n   int64
	err error
}

func (s stubSweeper) Purge(context.Context) (int64, error) {
	return s.n, s.err
}

func TestSweepSkipsFailingSweepers(t *testing.T) {
	svc := New(nil, &fakeCalculator{}, 1)
	svc.Sweepers = map[string]Sweeper{
		"idempotency": stubSweeper{n: 4},
		"broken":      stubSweeper{err: errors.New("db down")},
	}

	removed := svc.sweep(context.Background())
	assert.Equal(t, map[string]int64{"idempotency": 4}, removed)
}
