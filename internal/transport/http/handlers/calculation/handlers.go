package calculationhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kpi/internal/domain/audit"
	"kpi/internal/domain/auth"
	"kpi/internal/domain/calculation"
	"kpi/internal/domain/scoring"
	"kpi/internal/platform/jobs"
	"kpi/internal/requestctx"
	"kpi/internal/transport/http/api"
	"kpi/internal/transport/http/middleware"
	"kpi/internal/transport/http/shared"
)

const idempotencyEndpoint = "kpi.calculate"

type Calculator interface {
	Run(ctx context.Context, req calculation.Request) (calculation.Summary, error)
	GetRun(ctx context.Context, tenantID, runID string) (calculation.Run, error)
	Results(ctx context.Context, tenantID, periodID string) ([]calculation.IndividualResult, []calculation.GroupResult, error)
}

type Queue interface {
	EnqueueCalculation(ctx context.Context, jobType string, req calculation.Request) (calculation.Run, error)
}

type IdempotencyStore interface {
	Check(ctx context.Context, tenantID, userID, endpoint, key, requestHash string) (json.RawMessage, bool, error)
	Save(ctx context.Context, tenantID, userID, endpoint, key, requestHash string, response json.RawMessage) error
}

type Handler struct {
	Calc        Calculator
	Jobs        Queue
	Idempotency IdempotencyStore
	Perms       middleware.PermissionStore
	Audit       shared.Auditor
	// Throttle wraps the trigger route; nil leaves it unthrottled.
	Throttle func(http.Handler) http.Handler
}

func NewHandler(calc Calculator, queue Queue, idem IdempotencyStore, perms middleware.PermissionStore, auditor shared.Auditor) *Handler {
	return &Handler{Calc: calc, Jobs: queue, Idempotency: idem, Perms: perms, Audit: auditor}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	trigger := r.With(middleware.RequirePermission(auth.PermCalculate, h.Perms))
	if h.Throttle != nil {
		trigger = trigger.With(h.Throttle)
	}
	trigger.Post("/periods/{periodID}/calculate", h.handleCalculate)

	read := middleware.RequirePermission(auth.PermResultsRead, h.Perms)
	r.With(read).Get("/runs/{runID}", h.handleGetRun)
	r.With(read).Get("/periods/{periodID}/results", h.handleResults)
}

type calculatePayload struct {
	CompanyID      string `json:"companyId"`
	Method         string `json:"method"`
	IncludeCompany bool   `json:"includeCompany"`
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	requestID := middleware.GetRequestID(r.Context())

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Fail(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request payload too large", requestID)
			return
		}
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", requestID)
		return
	}
	var payload calculatePayload
	if len(bytes.TrimSpace(raw)) > 0 {
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if !shared.Decode(w, r, &payload, requestID) {
			return
		}
	}

	periodID := chi.URLParam(r, "periodID")
	async := shared.QueryBool(r, "async")
	asyncFlag := "sync"
	if async {
		asyncFlag = "async"
	}
	idempotencyKey := r.Header.Get("Idempotency-Key")
	requestHash := middleware.RequestHash(bytes.Join([][]byte{[]byte(periodID), []byte(asyncFlag), raw}, []byte{0}))
	if idempotencyKey != "" && h.Idempotency != nil {
		stored, found, err := h.Idempotency.Check(r.Context(), user.TenantID, user.UserID, idempotencyEndpoint, idempotencyKey, requestHash)
		if errors.Is(err, middleware.ErrIdempotencyConflict) {
			api.Fail(w, http.StatusConflict, "idempotency_conflict", err.Error(), requestID)
			return
		}
		if err != nil {
			requestctx.Logger(r.Context()).Warn("idempotency check failed", "err", err)
		}
		if found {
			api.Success(w, stored, requestID)
			return
		}
	}

	req := calculation.Request{
		TenantID:       user.TenantID,
		PeriodID:       periodID,
		CompanyID:      payload.CompanyID,
		TriggeredBy:    user.UserID,
		Method:         scoring.RollupMethod(payload.Method),
		IncludeCompany: payload.IncludeCompany,
	}

	var (
		response any
		entityID string
		queued   bool
	)
	if async && h.Jobs != nil {
		run, err := h.Jobs.EnqueueCalculation(r.Context(), jobs.JobCalculation, req)
		if errors.Is(err, jobs.ErrQueueFull) {
			api.Fail(w, http.StatusServiceUnavailable, "queue_full", "calculation queue is full, retry later", requestID)
			return
		}
		if err != nil {
			shared.FailError(w, err, "calculation_enqueue_failed", "failed to queue calculation", requestID)
			return
		}
		response, entityID, queued = run, run.ID, true
	} else {
		summary, err := h.Calc.Run(r.Context(), req)
		if err != nil {
			shared.FailError(w, err, "calculation_failed", "calculation failed", requestID)
			return
		}
		response, entityID = summary, summary.RunID
	}

	shared.RecordAudit(r, h.Audit, user, audit.ActionCalculate, "calculation_run", entityID, nil, map[string]any{
		"periodId": periodID,
		"async":    async,
	})

	if idempotencyKey != "" && h.Idempotency != nil {
		encoded, err := json.Marshal(response)
		if err != nil {
			requestctx.Logger(r.Context()).Warn("calculation response marshal failed", "err", err)
		} else if err := h.Idempotency.Save(r.Context(), user.TenantID, user.UserID, idempotencyEndpoint, idempotencyKey, requestHash, encoded); err != nil {
			requestctx.Logger(r.Context()).Warn("idempotency save failed", "err", err)
		}
	}

	if queued {
		api.Accepted(w, response, requestID)
		return
	}
	api.Success(w, response, requestID)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	run, err := h.Calc.GetRun(r.Context(), user.TenantID, chi.URLParam(r, "runID"))
	if err != nil {
		shared.FailError(w, err, "run_get_failed", "failed to load calculation run", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	individuals, groups, err := h.Calc.Results(r.Context(), user.TenantID, chi.URLParam(r, "periodID"))
	if err != nil {
		shared.FailError(w, err, "results_failed", "failed to load results", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]any{
		"individuals": individuals,
		"groups":      groups,
	}, middleware.GetRequestID(r.Context()))
}
