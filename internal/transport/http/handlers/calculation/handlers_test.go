package calculationhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpi/internal/domain/auth"
	"kpi/internal/domain/calculation"
	"kpi/internal/domain/scoring"
	"kpi/internal/platform/jobs"
	"kpi/internal/transport/http/middleware"
)

type permitAll struct{}

func (permitAll) HasPermission(context.Context, string, string) (bool, error) { return true, nil }

type fakeCalc struct {
	requests []calculation.Request
	runErr   error
}

func (f *fakeCalc) Run(_ context.Context, req calculation.Request) (calculation.Summary, error) {
	f.requests = append(f.requests, req)
	if f.runErr != nil {
		return calculation.Summary{}, f.runErr
	}
	return calculation.Summary{RunID: "run-1", PeriodID: req.PeriodID, Entries: 4, Employees: 2, Departments: 1}, nil
}

func (f *fakeCalc) GetRun(_ context.Context, _, runID string) (calculation.Run, error) {
	if runID != "run-1" {
		return calculation.Run{}, calculation.ErrRunNotFound
	}
	return calculation.Run{ID: runID, State: calculation.StateCompleted}, nil
}

func (f *fakeCalc) Results(_ context.Context, _, periodID string) ([]calculation.IndividualResult, []calculation.GroupResult, error) {
	return []calculation.IndividualResult{{PeriodID: periodID, EmployeeID: "emp-1", TotalScore: 82, Grade: "A", Status: "good"}},
		[]calculation.GroupResult{{PeriodID: periodID, DepartmentID: "dept-1", Score: 82, EmployeeCount: 1, Method: scoring.RollupAverage, Grade: "A"}},
		nil
}

type fakeQueue struct {
	requests []calculation.Request
	err      error
}

func (f *fakeQueue) EnqueueCalculation(_ context.Context, jobType string, req calculation.Request) (calculation.Run, error) {
	if jobType != jobs.JobCalculation {
		return calculation.Run{}, assert.AnError
	}
	f.requests = append(f.requests, req)
	return calculation.Run{ID: "run-async", PeriodID: req.PeriodID, State: calculation.StateIdle}, f.err
}

type memIdempotency struct {
	hashes    map[string]string
	responses map[string]json.RawMessage
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{hashes: map[string]string{}, responses: map[string]json.RawMessage{}}
}

func (m *memIdempotency) Check(_ context.Context, _, _, _, key, hash string) (json.RawMessage, bool, error) {
	stored, ok := m.hashes[key]
	if !ok {
		return nil, false, nil
	}
	if stored != hash {
		return nil, false, middleware.ErrIdempotencyConflict
	}
	return m.responses[key], true, nil
}

func (m *memIdempotency) Save(_ context.Context, _, _, _, key, hash string, response json.RawMessage) error {
	m.hashes[key] = hash
	m.responses[key] = response
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
}

func setup(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := auth.UserContext{UserID: "user-1", TenantID: "tenant-1", RoleID: "role-hr", RoleName: auth.RoleHR}
			next.ServeHTTP(w, r.WithContext(middleware.WithUser(r.Context(), user)))
		})
	})
	h.RegisterRoutes(r)
	return r
}

func post(t *testing.T, handler http.Handler, path, body, idempotencyKey string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestCalculateSync(t *testing.T) {
	calc := &fakeCalc{}
	router := setup(NewHandler(calc, &fakeQueue{}, nil, permitAll{}, nil))

	rec, env := post(t, router, "/periods/period-1/calculate", `{"method":"max","includeCompany":true,"companyId":"co-1"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary calculation.Summary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, "run-1", summary.RunID)

	require.Len(t, calc.requests, 1)
	got := calc.requests[0]
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.Equal(t, "period-1", got.PeriodID)
	assert.Equal(t, "co-1", got.CompanyID)
	assert.Equal(t, "user-1", got.TriggeredBy)
	assert.Equal(t, scoring.RollupMax, got.Method)
	assert.True(t, got.IncludeCompany)
	assert.False(t, got.Silent)
}

func TestCalculateWithoutBody(t *testing.T) {
	calc := &fakeCalc{}
	router := setup(NewHandler(calc, &fakeQueue{}, nil, permitAll{}, nil))

	rec, _ := post(t, router, "/periods/period-1/calculate", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, calc.requests, 1)
	assert.Empty(t, calc.requests[0].Method)
}

func TestCalculateAsync(t *testing.T) {
	calc := &fakeCalc{}
	queue := &fakeQueue{}
	router := setup(NewHandler(calc, queue, nil, permitAll{}, nil))

	rec, env := post(t, router, "/periods/period-1/calculate?async=true", "", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var run calculation.Run
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, "run-async", run.ID)
	assert.Equal(t, calculation.StateIdle, run.State)
	assert.Len(t, queue.requests, 1)
	assert.Empty(t, calc.requests)
}

func TestCalculateQueueFull(t *testing.T) {
	router := setup(NewHandler(&fakeCalc{}, &fakeQueue{err: jobs.ErrQueueFull}, nil, permitAll{}, nil))

	rec, env := post(t, router, "/periods/period-1/calculate?async=true", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "queue_full", env.Error.Code)
}

func TestCalculateErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "unknown period",
			err:    &scoring.NotFoundError{Entity: "period", ID: "period-1"},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "unknown rollup method",
			err:    &scoring.ValidationError{Field: "rollupMethod", Reason: "unknown rollup method"},
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
		{
			name: "failed run",
			err: &calculation.RunError{
				Phase:   calculation.PhaseEntries,
				EntryID: "entry-7",
				Cause:   &scoring.FormulaEvaluationError{Expression: "actual / 0", Err: assert.AnError},
			},
			status: http.StatusUnprocessableEntity,
			code:   "calculation_failed",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := setup(NewHandler(&fakeCalc{runErr: tc.err}, &fakeQueue{}, nil, permitAll{}, nil))
			rec, env := post(t, router, "/periods/period-1/calculate", "", "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, env.Error.Code)
		})
	}
}

func TestCalculateIdempotencyReplay(t *testing.T) {
	calc := &fakeCalc{}
	idem := newMemIdempotency()
	router := setup(NewHandler(calc, &fakeQueue{}, idem, permitAll{}, nil))

	first, firstEnv := post(t, router, "/periods/period-1/calculate", `{"method":"sum"}`, "key-1")
	require.Equal(t, http.StatusOK, first.Code)
	second, secondEnv := post(t, router, "/periods/period-1/calculate", `{"method":"sum"}`, "key-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, string(firstEnv.Data), string(secondEnv.Data))
	assert.Len(t, calc.requests, 1)

	conflict, env := post(t, router, "/periods/period-1/calculate", `{"method":"min"}`, "key-1")
	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, "idempotency_conflict", env.Error.Code)
	assert.Len(t, calc.requests, 1)
}

func TestCalculateThrottled(t *testing.T) {
	h := NewHandler(&fakeCalc{}, &fakeQueue{}, nil, permitAll{}, nil)
	h.Throttle = middleware.RateLimit(1, time.Minute)
	router := setup(h)

	rec, _ := post(t, router, "/periods/period-1/calculate", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = post(t, router, "/periods/period-1/calculate", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRunAndResults(t *testing.T) {
	router := setup(NewHandler(&fakeCalc{}, &fakeQueue{}, nil, permitAll{}, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/run-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/run-404", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/periods/period-1/results", &bytes.Buffer{}))
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Data struct {
			Individuals []calculation.IndividualResult `json:"individuals"`
			Groups      []calculation.GroupResult      `json:"groups"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Data.Individuals, 1)
	assert.Equal(t, "A", env.Data.Individuals[0].Grade)
	require.Len(t, env.Data.Groups, 1)
	assert.Equal(t, scoring.RollupAverage, env.Data.Groups[0].Method)
}
