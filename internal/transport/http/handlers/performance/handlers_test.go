package performancehandler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpi/internal/domain/auth"
	"kpi/internal/domain/performance"
	"kpi/internal/domain/scoring"
	"kpi/internal/transport/http/middleware"
)

type allowAll struct{ denied map[string]bool }

func (a allowAll) HasPermission(_ context.Context, _, permission string) (bool, error) {
	return !a.denied[permission], nil
}

type fakeService struct {
	metrics     map[string]performance.MetricDefinition
	created     []performance.MetricDefinition
	transitions []string
	transition  error
}

func (f *fakeService) CreateMetric(_ context.Context, metric performance.MetricDefinition) (performance.MetricDefinition, error) {
	if err := scoring.ValidateDefinition(metric.FormulaKind, metric.ScoreCap, metric.ScoreFloor, metric.SteppedRules, metric.CustomExpression); err != nil {
		return performance.MetricDefinition{}, err
	}
	metric.ID = "metric-new"
	metric.Active = true
	f.created = append(f.created, metric)
	return metric, nil
}

func (f *fakeService) GetMetric(_ context.Context, _, metricID string) (performance.MetricDefinition, error) {
	metric, ok := f.metrics[metricID]
	if !ok {
		return performance.MetricDefinition{}, &scoring.NotFoundError{Entity: "metric", ID: metricID}
	}
	return metric, nil
}

func (f *fakeService) ListMetrics(context.Context, string, bool) ([]performance.MetricDefinition, error) {
	out := make([]performance.MetricDefinition, 0, len(f.metrics))
	for _, metric := range f.metrics {
		out = append(out, metric)
	}
	return out, nil
}

func (f *fakeService) DeactivateMetric(context.Context, string, string) error { return nil }

func (f *fakeService) CreatePeriod(_ context.Context, tenantID, name string, start, end time.Time) (performance.Period, error) {
	return performance.Period{ID: "period-1", TenantID: tenantID, Name: name, StartDate: start, EndDate: end, Status: performance.PeriodStatusDraft}, nil
}

func (f *fakeService) GetPeriod(_ context.Context, _, periodID string) (performance.Period, error) {
	return performance.Period{ID: periodID, Status: performance.PeriodStatusOpen}, nil
}

func (f *fakeService) ListPeriods(context.Context, string) ([]performance.Period, error) {
	return nil, nil
}

func (f *fakeService) TransitionPeriod(_ context.Context, _, periodID, status string) error {
	f.transitions = append(f.transitions, periodID+":"+status)
	return f.transition
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newRouter(svc *fakeService, perms allowAll) http.Handler {
	h := NewHandler(svc, perms, nil)
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

func do(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestCreateMetric(t *testing.T) {
	svc := &fakeService{}
	router := newRouter(svc, allowAll{})

	rec, env := do(t, router, http.MethodPost, "/metrics", map[string]any{
		"name":        "Ticket backlog",
		"formulaKind": "negative",
		"scoreCap":    120,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)
	require.Len(t, svc.created, 1)
	assert.Equal(t, "tenant-1", svc.created[0].TenantID)
	assert.Equal(t, 120.0, svc.created[0].ScoreCap)
	assert.Equal(t, performance.DefaultScoreFloor, svc.created[0].ScoreFloor)
}

func TestCreateMetricValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{
			name:  "missing name",
			body:  map[string]any{"formulaKind": "positive"},
			field: "name",
		},
		{
			name:  "unknown kind",
			body:  map[string]any{"name": "x", "formulaKind": "exponential"},
			field: "formulaKind",
		},
		{
			name:  "custom without expression",
			body:  map[string]any{"name": "x", "formulaKind": "custom"},
			field: "customExpression",
		},
		{
			name:  "custom with bad expression",
			body:  map[string]any{"name": "x", "formulaKind": "custom", "customExpression": "actual +"},
			field: "customExpression",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{}
			rec, env := do(t, newRouter(svc, allowAll{}), http.MethodPost, "/metrics", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_error", env.Error.Code)
			assert.Contains(t, fieldsOf(env), tc.field)
			assert.Empty(t, svc.created)
		})
	}
}

func TestCreateMetricForbidden(t *testing.T) {
	svc := &fakeService{}
	router := newRouter(svc, allowAll{denied: map[string]bool{auth.PermMetricsWrite: true}})

	rec, env := do(t, router, http.MethodPost, "/metrics", map[string]any{"name": "x", "formulaKind": "positive"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", env.Error.Code)
	assert.Empty(t, svc.created)
}

func TestGetMetricNotFound(t *testing.T) {
	rec, env := do(t, newRouter(&fakeService{}, allowAll{}), http.MethodGet, "/metrics/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestValidateFormula(t *testing.T) {
	router := newRouter(&fakeService{}, allowAll{})

	_, env := do(t, router, http.MethodPost, "/formulas/validate", map[string]any{"expression": "actual / target * 100"})
	var ok scoring.Validation
	require.NoError(t, json.Unmarshal(env.Data, &ok))
	assert.True(t, ok.Valid)

	_, env = do(t, router, http.MethodPost, "/formulas/validate", map[string]any{"expression": "actual +"})
	var bad scoring.Validation
	require.NoError(t, json.Unmarshal(env.Data, &bad))
	assert.False(t, bad.Valid)
	assert.NotEmpty(t, bad.Error)
}

func TestPreviewFormula(t *testing.T) {
	svc := &fakeService{metrics: map[string]performance.MetricDefinition{
		"metric-1": {ID: "metric-1", FormulaKind: scoring.FormulaPositive, ScoreCap: 100, ScoreFloor: 0, Active: true},
	}}
	router := newRouter(svc, allowAll{})

	t.Run("stored metric", func(t *testing.T) {
		rec, env := do(t, router, http.MethodPost, "/formulas/preview", map[string]any{
			"metricId": "metric-1",
			"actual":   150,
			"target":   100,
			"weight":   40,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var result scoring.Result
		require.NoError(t, json.Unmarshal(env.Data, &result))
		assert.InDelta(t, 150.0, result.RawScore, 1e-9)
		assert.InDelta(t, 100.0, result.CappedScore, 1e-9)
		assert.InDelta(t, 40.0, result.WeightedScore, 1e-9)
	})

	t.Run("inline definition", func(t *testing.T) {
		rec, env := do(t, router, http.MethodPost, "/formulas/preview", map[string]any{
			"metric": map[string]any{
				"name":             "custom",
				"formulaKind":      "custom",
				"customExpression": "actual / target * 100",
			},
			"actual": 45,
			"target": 50,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var result scoring.Result
		require.NoError(t, json.Unmarshal(env.Data, &result))
		assert.InDelta(t, 90.0, result.CappedScore, 1e-9)
		assert.InDelta(t, 90.0, result.WeightedScore, 1e-9)
	})

	t.Run("neither metric nor id", func(t *testing.T) {
		rec, env := do(t, router, http.MethodPost, "/formulas/preview", map[string]any{"actual": 1, "target": 1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, fieldsOf(env), "metric")
	})
}

func TestCreatePeriodRejectsBadDates(t *testing.T) {
	rec, env := do(t, newRouter(&fakeService{}, allowAll{}), http.MethodPost, "/periods", map[string]any{
		"name":      "Q1",
		"startDate": "2026-01-01",
		"endDate":   "31/03/2026",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"endDate"}, fieldsOf(env))
}

func TestTransitionPeriod(t *testing.T) {
	svc := &fakeService{}
	router := newRouter(svc, allowAll{})

	rec, _ := do(t, router, http.MethodPost, "/periods/period-1/status", map[string]any{"status": "open"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"period-1:open"}, svc.transitions)

	svc.transition = performance.ErrInvalidPeriodTransition
	rec, env := do(t, router, http.MethodPost, "/periods/period-1/status", map[string]any{"status": "open"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", env.Error.Code)
}

func fieldsOf(env envelope) []string {
	raw, _ := env.Error.Details["fields"].([]any)
	fields := make([]string, 0, len(raw))
	for _, item := range raw {
		if entry, ok := item.(map[string]any); ok {
			if field, ok := entry["field"].(string); ok {
				fields = append(fields, field)
			}
		}
	}
	return fields
}
