package calibrationhandler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kpi/internal/domain/audit"
	"kpi/internal/domain/auth"
	"kpi/internal/domain/calibration"
	"kpi/internal/transport/http/api"
	"kpi/internal/transport/http/middleware"
	"kpi/internal/transport/http/shared"
)

type CalibrationService interface {
	Record(ctx context.Context, in calibration.RecordInput) (calibration.Adjustment, error)
	List(ctx context.Context, tenantID, periodID string) ([]calibration.Adjustment, error)
}

type Handler struct {
	Service CalibrationService
	Perms   middleware.PermissionStore
	Audit   shared.Auditor
}

func NewHandler(service CalibrationService, perms middleware.PermissionStore, auditor shared.Auditor) *Handler {
	return &Handler{Service: service, Perms: perms, Audit: auditor}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequirePermission(auth.PermResultsRead, h.Perms)).Get("/periods/{periodID}/calibrations", h.handleList)
	r.With(middleware.RequirePermission(auth.PermCalibrate, h.Perms)).Post("/periods/{periodID}/calibrations", h.handleRecord)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	adjustments, err := h.Service.List(r.Context(), user.TenantID, chi.URLParam(r, "periodID"))
	if err != nil {
		shared.FailError(w, err, "calibration_list_failed", "failed to list calibrations", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, adjustments, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload struct {
		EmployeeID    string   `json:"employeeId" validate:"required"`
		AdjustedScore *float64 `json:"adjustedScore" validate:"required"`
		Reason        string   `json:"reason" validate:"required,max=2000"`
	}
	if !shared.Decode(w, r, &payload, middleware.GetRequestID(r.Context())) {
		return
	}

	adjustment, err := h.Service.Record(r.Context(), calibration.RecordInput{
		TenantID:      user.TenantID,
		PeriodID:      chi.URLParam(r, "periodID"),
		EmployeeID:    payload.EmployeeID,
		AdjustedScore: *payload.AdjustedScore,
		Reason:        payload.Reason,
		AdjustedBy:    user.UserID,
	})
	if err != nil {
		shared.FailError(w, err, "calibration_failed", "failed to record calibration", middleware.GetRequestID(r.Context()))
		return
	}
	shared.RecordAudit(r, h.Audit, user, audit.ActionCalibrate, "kpi_individual_result", adjustment.EmployeeID,
		map[string]any{"score": adjustment.OriginalScore, "grade": adjustment.OriginalGrade, "status": adjustment.OriginalStatus},
		map[string]any{"score": adjustment.AdjustedScore, "grade": adjustment.AdjustedGrade, "status": adjustment.AdjustedStatus})
	api.Created(w, adjustment, middleware.GetRequestID(r.Context()))
}
