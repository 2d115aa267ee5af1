package assignmenthandler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kpi/internal/domain/assignment"
	"kpi/internal/domain/audit"
	"kpi/internal/domain/auth"
	"kpi/internal/transport/http/api"
	"kpi/internal/transport/http/middleware"
	"kpi/internal/transport/http/shared"
)

type AssignmentService interface {
	Create(ctx context.Context, in assignment.CreateInput) (assignment.Assignment, error)
	Update(ctx context.Context, tenantID, assignmentID string, changes assignment.Changes) (assignment.Assignment, error)
	Delete(ctx context.Context, tenantID, assignmentID string) error
	Budget(ctx context.Context, scope assignment.ScopeKey) (assignment.Budget, error)
	List(ctx context.Context, scope assignment.ScopeKey) ([]assignment.Assignment, error)
}

type Handler struct {
	Service AssignmentService
	Perms   middleware.PermissionStore
	Audit   shared.Auditor
}

func NewHandler(service AssignmentService, perms middleware.PermissionStore, auditor shared.Auditor) *Handler {
	return &Handler{Service: service, Perms: perms, Audit: auditor}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	read := middleware.RequirePermission(auth.PermAssignmentsRead, h.Perms)
	write := middleware.RequirePermission(auth.PermAssignmentsWrite, h.Perms)

	r.With(read).Get("/assignments", h.handleList)
	r.With(read).Get("/assignments/budget", h.handleBudget)
	r.With(write).Post("/assignments", h.handleCreate)
	r.With(write).Put("/assignments/{assignmentID}", h.handleUpdate)
	r.With(write).Delete("/assignments/{assignmentID}", h.handleDelete)
}

func scopeFromQuery(r *http.Request, tenantID string) assignment.ScopeKey {
	q := r.URL.Query()
	return assignment.ScopeKey{
		TenantID:     tenantID,
		PeriodID:     q.Get("periodId"),
		DepartmentID: q.Get("departmentId"),
		EmployeeID:   q.Get("employeeId"),
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	items, err := h.Service.List(r.Context(), scopeFromQuery(r, user.TenantID))
	if err != nil {
		shared.FailError(w, err, "assignment_list_failed", "failed to list assignments", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, items, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleBudget(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	budget, err := h.Service.Budget(r.Context(), scopeFromQuery(r, user.TenantID))
	if err != nil {
		shared.FailError(w, err, "assignment_budget_failed", "failed to load weight budget", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, budget, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload struct {
		PeriodID       string   `json:"periodId" validate:"required"`
		MetricID       string   `json:"metricId" validate:"required"`
		DepartmentID   string   `json:"departmentId"`
		EmployeeID     string   `json:"employeeId"`
		TargetValue    float64  `json:"targetValue"`
		ChallengeValue *float64 `json:"challengeValue"`
		Weight         float64  `json:"weight" validate:"gt=0,lte=100"`
	}
	if !shared.Decode(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}

	created, err := h.Service.Create(r.Context(), assignment.CreateInput{
		TenantID:       user.TenantID,
		PeriodID:       payload.PeriodID,
		MetricID:       payload.MetricID,
		DepartmentID:   payload.DepartmentID,
		EmployeeID:     payload.EmployeeID,
		TargetValue:    payload.TargetValue,
		ChallengeValue: payload.ChallengeValue,
		Weight:         payload.Weight,
	})
	if err != nil {
		shared.FailError(w, err, "assignment_create_failed", "failed to create assignment", middleware.GetRequestID(r.Context()))
		return
	}
	shared.RecordAudit(r, h.Audit, user, audit.ActionAssignmentCreate, "kpi_assignment", created.ID, nil, created)
	api.Created(w, created, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload struct {
		TargetValue    *float64 `json:"targetValue"`
		ChallengeValue *float64 `json:"challengeValue"`
		Weight         *float64 `json:"weight" validate:"omitempty,gt=0,lte=100"`
	}
	if !shared.Decode(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}

	assignmentID := chi.URLParam(r, "assignmentID")
	updated, err := h.Service.Update(r.Context(), user.TenantID, assignmentID, assignment.Changes{
		TargetValue:    payload.TargetValue,
		ChallengeValue: payload.ChallengeValue,
		Weight:         payload.Weight,
	})
	if err != nil {
		shared.FailError(w, err, "assignment_update_failed", "failed to update assignment", middleware.GetRequestID(r.Context()))
		return
	}
	shared.RecordAudit(r, h.Audit, user, audit.ActionAssignmentUpdate, "kpi_assignment", assignmentID, nil, updated)
	api.Success(w, updated, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	assignmentID := chi.URLParam(r, "assignmentID")
	if err := h.Service.Delete(r.Context(), user.TenantID, assignmentID); err != nil {
		shared.FailError(w, err, "assignment_delete_failed", "failed to delete assignment", middleware.GetRequestID(r.Context()))
		return
	}
	shared.RecordAudit(r, h.Audit, user, audit.ActionAssignmentDelete, "kpi_assignment", assignmentID, nil, nil)
	api.Success(w, map[string]string{"status": "deleted"}, middleware.GetRequestID(r.Context()))
}
