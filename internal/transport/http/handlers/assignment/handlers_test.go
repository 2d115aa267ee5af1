package assignmenthandler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpi/internal/domain/assignment"
	"kpi/internal/domain/audit"
	"kpi/internal/domain/auth"
	"kpi/internal/transport/http/middleware"
)

type permitAll struct{}

func (permitAll) HasPermission(context.Context, string, string) (bool, error) { return true, nil }

type recordedAudit struct {
	action   string
	entityID string
}

type fakeAuditor struct{ events []recordedAudit }

func (f *fakeAuditor) Record(_ context.Context, _, _, action, _, entityID, _, _ string, _, _ any) error {
	f.events = append(f.events, recordedAudit{action: action, entityID: entityID})
	return nil
}

type fakeService struct {
	createErr error
	created   []assignment.CreateInput
	updated   []assignment.Changes
	deleted   []string
	scopes    []assignment.ScopeKey
}

func (f *fakeService) Create(_ context.Context, in assignment.CreateInput) (assignment.Assignment, error) {
	if f.createErr != nil {
		return assignment.Assignment{}, f.createErr
	}
	f.created = append(f.created, in)
	return assignment.Assignment{ID: "asg-1", PeriodID: in.PeriodID, MetricID: in.MetricID, Weight: in.Weight}, nil
}

func (f *fakeService) Update(_ context.Context, _, assignmentID string, changes assignment.Changes) (assignment.Assignment, error) {
	f.updated = append(f.updated, changes)
	if assignmentID == "missing" {
		return assignment.Assignment{}, assignment.ErrAssignmentNotFound
	}
	return assignment.Assignment{ID: assignmentID}, nil
}

func (f *fakeService) Delete(_ context.Context, _, assignmentID string) error {
	f.deleted = append(f.deleted, assignmentID)
	return nil
}

func (f *fakeService) Budget(_ context.Context, scope assignment.ScopeKey) (assignment.Budget, error) {
	if err := assignment.ValidateScope(scope); err != nil {
		return assignment.Budget{}, err
	}
	return assignment.Budget{Scope: scope, Level: scope.Level(), Used: 70, Remaining: 30}, nil
}

func (f *fakeService) List(_ context.Context, scope assignment.ScopeKey) ([]assignment.Assignment, error) {
	f.scopes = append(f.scopes, scope)
	return []assignment.Assignment{}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func setup(svc *fakeService) (http.Handler, *fakeAuditor) {
	auditor := &fakeAuditor{}
	h := NewHandler(svc, permitAll{}, auditor)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := auth.UserContext{UserID: "user-1", TenantID: "tenant-1", RoleID: "role-hr", RoleName: auth.RoleHR}
			next.ServeHTTP(w, r.WithContext(middleware.WithUser(r.Context(), user)))
		})
	})
	h.RegisterRoutes(r)
	return r, auditor
}

func call(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestCreateAssignment(t *testing.T) {
	svc := &fakeService{}
	router, auditor := setup(svc)

	rec, env := call(t, router, http.MethodPost, "/assignments", map[string]any{
		"periodId":    "period-1",
		"metricId":    "metric-1",
		"employeeId":  "emp-1",
		"targetValue": 100,
		"weight":      40,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)
	require.Len(t, svc.created, 1)
	assert.Equal(t, "tenant-1", svc.created[0].TenantID)
	assert.Equal(t, "emp-1", svc.created[0].EmployeeID)
	assert.Nil(t, svc.created[0].ChallengeValue)
	assert.Equal(t, []recordedAudit{{action: audit.ActionAssignmentCreate, entityID: "asg-1"}}, auditor.events)
}

func TestCreateAssignmentWeightExceeded(t *testing.T) {
	svc := &fakeService{createErr: &assignment.WeightExceededError{
		Scope:     assignment.ScopeKey{TenantID: "tenant-1", PeriodID: "period-1", EmployeeID: "emp-1"},
		Attempted: 110,
		Current:   70,
	}}
	router, auditor := setup(svc)

	rec, env := call(t, router, http.MethodPost, "/assignments", map[string]any{
		"periodId":   "period-1",
		"metricId":   "metric-1",
		"employeeId": "emp-1",
		"weight":     40,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "weight_exceeded", env.Error.Code)
	assert.Equal(t, "employee", env.Error.Details["level"])
	assert.Equal(t, 110.0, env.Error.Details["attempted"])
	assert.Equal(t, 70.0, env.Error.Details["current"])
	assert.Empty(t, auditor.events)
}

func TestCreateAssignmentValidation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing metric", body: map[string]any{"periodId": "p", "weight": 10}},
		{name: "zero weight", body: map[string]any{"periodId": "p", "metricId": "m", "weight": 0}},
		{name: "weight over budget", body: map[string]any{"periodId": "p", "metricId": "m", "weight": 100.5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{}
			router, _ := setup(svc)
			rec, env := call(t, router, http.MethodPost, "/assignments", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_error", env.Error.Code)
			assert.Empty(t, svc.created)
		})
	}
}

func TestUpdateAssignment(t *testing.T) {
	svc := &fakeService{}
	router, auditor := setup(svc)

	rec, _ := call(t, router, http.MethodPut, "/assignments/asg-9", map[string]any{"weight": 25})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.updated, 1)
	require.NotNil(t, svc.updated[0].Weight)
	assert.Equal(t, 25.0, *svc.updated[0].Weight)
	assert.Nil(t, svc.updated[0].TargetValue)
	require.Len(t, auditor.events, 1)
	assert.Equal(t, audit.ActionAssignmentUpdate, auditor.events[0].action)

	rec, env := call(t, router, http.MethodPut, "/assignments/missing", map[string]any{"weight": 25})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestDeleteAssignment(t *testing.T) {
	svc := &fakeService{}
	router, auditor := setup(svc)

	rec, _ := call(t, router, http.MethodDelete, "/assignments/asg-3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"asg-3"}, svc.deleted)
	assert.Equal(t, []recordedAudit{{action: audit.ActionAssignmentDelete, entityID: "asg-3"}}, auditor.events)
}

func TestBudget(t *testing.T) {
	router, _ := setup(&fakeService{})

	rec, env := call(t, router, http.MethodGet, "/assignments/budget?periodId=period-1&departmentId=dept-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var budget assignment.Budget
	require.NoError(t, json.Unmarshal(env.Data, &budget))
	assert.Equal(t, assignment.LevelDepartment, budget.Level)
	assert.Equal(t, 30.0, budget.Remaining)

	rec, env = call(t, router, http.MethodGet, "/assignments/budget?periodId=period-1&departmentId=d&employeeId=e", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Code)
}

func TestListPassesScope(t *testing.T) {
	svc := &fakeService{}
	router, _ := setup(svc)

	rec, _ := call(t, router, http.MethodGet, "/assignments?periodId=period-1&employeeId=emp-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.scopes, 1)
	assert.Equal(t, assignment.ScopeKey{TenantID: "tenant-1", PeriodID: "period-1", EmployeeID: "emp-2"}, svc.scopes[0])
}
