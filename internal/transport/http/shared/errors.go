package shared

import (
	"errors"
	"log/slog"
	"net/http"

	"kpi/internal/domain/assignment"
	"kpi/internal/domain/calculation"
	"kpi/internal/domain/performance"
	"kpi/internal/domain/scoring"
	"kpi/internal/transport/http/api"
)

// FailError maps a domain error to its HTTP status. Anything unrecognised is
// logged and reported as a 500 with the caller's code and message.
func FailError(w http.ResponseWriter, err error, code, message, requestID string) {
	var validation *scoring.ValidationError
	var notFound *scoring.NotFoundError
	var exceeded *assignment.WeightExceededError
	var formula *scoring.FormulaEvaluationError
	var runErr *calculation.RunError

	switch {
	case errors.As(err, &exceeded):
		api.FailWithDetails(w, http.StatusConflict, "weight_exceeded", exceeded.Error(), map[string]any{
			"scope":     exceeded.Scope.String(),
			"level":     exceeded.Scope.Level(),
			"attempted": exceeded.Attempted,
			"current":   exceeded.Current,
			"budget":    scoring.WeightBudget,
		}, requestID)
	case errors.As(err, &runErr):
		api.FailWithDetails(w, http.StatusUnprocessableEntity, "calculation_failed", runErr.Error(), map[string]any{
			"phase":        runErr.Phase,
			"entryId":      runErr.EntryID,
			"employeeId":   runErr.EmployeeID,
			"departmentId": runErr.DepartmentID,
		}, requestID)
	case errors.As(err, &validation):
		FailValidation(w, requestID, []ValidationIssue{{Field: validation.Field, Reason: validation.Reason}})
	case errors.As(err, &formula):
		api.Fail(w, http.StatusUnprocessableEntity, "formula_error", formula.Error(), requestID)
	case errors.As(err, &notFound):
		api.Fail(w, http.StatusNotFound, "not_found", notFound.Error(), requestID)
	case errors.Is(err, assignment.ErrAssignmentNotFound), errors.Is(err, calculation.ErrRunNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), requestID)
	case errors.Is(err, assignment.ErrPeriodNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), requestID)
	case errors.Is(err, assignment.ErrMetricInactive):
		api.Fail(w, http.StatusConflict, "metric_inactive", err.Error(), requestID)
	case errors.Is(err, performance.ErrInvalidPeriodTransition), errors.Is(err, calculation.ErrInvalidTransition):
		api.Fail(w, http.StatusConflict, "invalid_state", err.Error(), requestID)
	default:
		slog.Error(message, "err", err, "requestId", requestID)
		api.Fail(w, http.StatusInternalServerError, code, message, requestID)
	}
}
