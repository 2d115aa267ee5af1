package performancehandler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kpi/internal/domain/audit"
	"kpi/internal/domain/auth"
	"kpi/internal/domain/performance"
	"kpi/internal/domain/scoring"
	"kpi/internal/transport/http/api"
	"kpi/internal/transport/http/middleware"
	"kpi/internal/transport/http/shared"
)

type MetricService interface {
	CreateMetric(ctx context.Context, metric performance.MetricDefinition) (performance.MetricDefinition, error)
	GetMetric(ctx context.Context, tenantID, metricID string) (performance.MetricDefinition, error)
	ListMetrics(ctx context.Context, tenantID string, activeOnly bool) ([]performance.MetricDefinition, error)
	DeactivateMetric(ctx context.Context, tenantID, metricID string) error
	CreatePeriod(ctx context.Context, tenantID, name string, startDate, endDate time.Time) (performance.Period, error)
	GetPeriod(ctx context.Context, tenantID, periodID string) (performance.Period, error)
	ListPeriods(ctx context.Context, tenantID string) ([]performance.Period, error)
	TransitionPeriod(ctx context.Context, tenantID, periodID, status string) error
}

type Handler struct {
	Service MetricService
	Perms   middleware.PermissionStore
	Audit   shared.Auditor
}

func NewHandler(service MetricService, perms middleware.PermissionStore, auditor shared.Auditor) *Handler {
	return &Handler{Service: service, Perms: perms, Audit: auditor}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	read := middleware.RequirePermission(auth.PermMetricsRead, h.Perms)
	write := middleware.RequirePermission(auth.PermMetricsWrite, h.Perms)

	r.With(read).Get("/metrics", h.handleListMetrics)
	r.With(write).Post("/metrics", h.handleCreateMetric)
	r.With(read).Get("/metrics/{metricID}", h.handleGetMetric)
	r.With(write).Delete("/metrics/{metricID}", h.handleDeactivateMetric)

	r.With(read).Post("/formulas/validate", h.handleValidateFormula)
	r.With(read).Post("/formulas/preview", h.handlePreviewFormula)

	r.With(read).Get("/periods", h.handleListPeriods)
	r.With(write).Post("/periods", h.handleCreatePeriod)
	r.With(read).Get("/periods/{periodID}", h.handleGetPeriod)
	r.With(write).Post("/periods/{periodID}/status", h.handleTransitionPeriod)
}

type metricPayload struct {
	Name             string                `json:"name" validate:"required,max=200"`
	Description      string                `json:"description" validate:"max=2000"`
	Unit             string                `json:"unit" validate:"max=50"`
	FormulaKind      string                `json:"formulaKind" validate:"required,oneof=positive negative binary stepped custom"`
	ScoreCap         *float64              `json:"scoreCap"`
	ScoreFloor       *float64              `json:"scoreFloor"`
	SteppedRules     []scoring.SteppedRule `json:"steppedRules" validate:"required_if=FormulaKind stepped"`
	CustomExpression string                `json:"customExpression" validate:"required_if=FormulaKind custom,max=1000"`
}

func (p metricPayload) definition(tenantID string) performance.MetricDefinition {
	scoreCap := performance.DefaultScoreCap
	if p.ScoreCap != nil {
		scoreCap = *p.ScoreCap
	}
	floor := performance.DefaultScoreFloor
	if p.ScoreFloor != nil {
		floor = *p.ScoreFloor
	}
	return performance.MetricDefinition{
		TenantID:         tenantID,
		Name:             p.Name,
		Description:      p.Description,
		Unit:             p.Unit,
		FormulaKind:      scoring.FormulaKind(p.FormulaKind),
		ScoreCap:         scoreCap,
		ScoreFloor:       floor,
		SteppedRules:     p.SteppedRules,
		CustomExpression: p.CustomExpression,
	}
}

func (h *Handler) handleListMetrics(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	metrics, err := h.Service.ListMetrics(r.Context(), user.TenantID, shared.QueryBool(r, "active"))
	if err != nil {
		shared.FailError(w, err, "metric_list_failed", "failed to list metrics", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, metrics, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateMetric(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload metricPayload
	if !shared.Decode(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}

	metric, err := h.Service.CreateMetric(r.Context(), payload.definition(user.TenantID))
	if err != nil {
		shared.FailError(w, err, "metric_create_failed", "failed to create metric", middleware.GetRequestID(r.Context()))
		return
	}
	shared.RecordAudit(r, h.Audit, user, audit.ActionMetricCreate, "kpi_metric", metric.ID, nil, metric)
	api.Created(w, metric, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetMetric(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	metric, err := h.Service.GetMetric(r.Context(), user.TenantID, chi.URLParam(r, "metricID"))
	if err != nil {
		shared.FailError(w, err, "metric_get_failed", "failed to load metric", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, metric, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeactivateMetric(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	metricID := chi.URLParam(r, "metricID")
	if err := h.Service.DeactivateMetric(r.Context(), user.TenantID, metricID); err != nil {
		shared.FailError(w, err, "metric_deactivate_failed", "failed to deactivate metric", middleware.GetRequestID(r.Context()))
		return
	}
	shared.RecordAudit(r, h.Audit, user, audit.ActionMetricDeactivate, "kpi_metric", metricID, nil, nil)
	api.Success(w, map[string]string{"status": "inactive"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleValidateFormula(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Expression string `json:"expression" validate:"max=1000"`
	}
	if !shared.Decode(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}
	api.Success(w, scoring.Validate(payload.Expression), middleware.GetRequestID(r.Context()))
}

// handlePreviewFormula scores one value against either a stored metric or an
// inline, unsaved definition. Nothing is persisted.
func (h *Handler) handlePreviewFormula(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload struct {
		MetricID  string         `json:"metricId"`
		Metric    *metricPayload `json:"metric" validate:"required_without=MetricID,excluded_with=MetricID"`
		Actual    float64        `json:"actual"`
		Target    float64        `json:"target"`
		Challenge *float64       `json:"challenge"`
		Weight    *float64       `json:"weight" validate:"omitempty,gte=0,lte=100"`
	}
	if !shared.Decode(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}

	var metric performance.MetricDefinition
	if payload.MetricID != "" {
		stored, err := h.Service.GetMetric(r.Context(), user.TenantID, payload.MetricID)
		if err != nil {
			shared.FailError(w, err, "metric_get_failed", "failed to load metric", middleware.GetRequestID(r.Context()))
			return
		}
		metric = stored
	} else {
		metric = payload.Metric.definition(user.TenantID)
	}
	weight := scoring.WeightBudget
	if payload.Weight != nil {
		weight = *payload.Weight
	}

	result, err := performance.Preview(metric, payload.Actual, payload.Target, payload.Challenge, weight)
	if err != nil {
		shared.FailError(w, err, "formula_preview_failed", "failed to preview formula", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, result, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	periods, err := h.Service.ListPeriods(r.Context(), user.TenantID)
	if err != nil {
		shared.FailError(w, err, "period_list_failed", "failed to list periods", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, periods, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload struct {
		Name      string `json:"name" validate:"required,max=200"`
		StartDate string `json:"startDate" validate:"required"`
		EndDate   string `json:"endDate" validate:"required"`
	}
	if !shared.Decode(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}
	start, end, issues := shared.ParseDateRange("startDate", payload.StartDate, "endDate", payload.EndDate)
	if len(issues) > 0 {
		shared.FailValidation(w, middleware.GetRequestID(r.Context()), issues)
		return
	}

	period, err := h.Service.CreatePeriod(r.Context(), user.TenantID, payload.Name, start, end)
	if err != nil {
		shared.FailError(w, err, "period_create_failed", "failed to create period", middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, period, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetPeriod(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	period, err := h.Service.GetPeriod(r.Context(), user.TenantID, chi.URLParam(r, "periodID"))
	if err != nil {
		shared.FailError(w, err, "period_get_failed", "failed to load period", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, period, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleTransitionPeriod(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload struct {
		Status string `json:"status" validate:"required,oneof=open closed"`
	}
	if !shared.Decode(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}
	periodID := chi.URLParam(r, "periodID")
	if err := h.Service.TransitionPeriod(r.Context(), user.TenantID, periodID, payload.Status); err != nil {
		shared.FailError(w, err, "period_update_failed", "failed to update period", middleware.GetRequestID(r.Context()))
		return
	}
	shared.RecordAudit(r, h.Audit, user, audit.ActionPeriodTransition, "kpi_period", periodID, nil, map[string]string{"status": payload.Status})
	api.Success(w, map[string]string{"status": payload.Status}, middleware.GetRequestID(r.Context()))
}
