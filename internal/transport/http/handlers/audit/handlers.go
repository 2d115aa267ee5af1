package audithandler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"kpi/internal/domain/audit"
	"kpi/internal/domain/auth"
	"kpi/internal/requestctx"
	"kpi/internal/transport/http/api"
	"kpi/internal/transport/http/middleware"
	"kpi/internal/transport/http/shared"
)

type Trail interface {
	Count(ctx context.Context, tenantID string, filter audit.Filter) (int, error)
	List(ctx context.Context, tenantID string, filter audit.Filter, opts audit.ListOptions) ([]audit.Event, error)
}

type Handler struct {
	Service Trail
	Perms   middleware.PermissionStore
}

func NewHandler(service Trail, perms middleware.PermissionStore) *Handler {
	return &Handler{Service: service, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/audit", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermAuditRead, h.Perms)).Get("/events", h.handleListEvents)
	})
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	paging, issues := shared.ParsePagination(r, 100, 500)
	if len(issues) > 0 {
		shared.FailValidation(w, middleware.GetRequestID(r.Context()), issues)
		return
	}
	query := r.URL.Query()
	filter := audit.Filter{
		Action:     query.Get("action"),
		EntityType: query.Get("entityType"),
		EntityID:   query.Get("entityId"),
		ActorUser:  query.Get("actorUserId"),
	}
	if issues := parseWindow(query.Get("since"), query.Get("until"), &filter); len(issues) > 0 {
		shared.FailValidation(w, middleware.GetRequestID(r.Context()), issues)
		return
	}
	page := api.Page{Limit: paging.Limit, Offset: paging.Offset}
	total, err := h.Service.Count(r.Context(), user.TenantID, filter)
	if err != nil {
		requestctx.Logger(r.Context()).Warn("audit count failed", "err", err)
	} else {
		page.Total = &total
		w.Header().Set("X-Total-Count", strconv.Itoa(total))
	}

	events, err := h.Service.List(r.Context(), user.TenantID, filter, audit.ListOptions{
		IncludeDetails: shared.QueryBool(r, "includeDetails"),
		Limit:          paging.Limit,
		Offset:         paging.Offset,
	})
	if err != nil {
		shared.FailError(w, err, "audit_list_failed", "failed to list audit events", middleware.GetRequestID(r.Context()))
		return
	}

	api.Paged(w, events, page, middleware.GetRequestID(r.Context()))
}

// parseWindow fills the optional since/until bounds. A bare date for until
// covers that whole day.
func parseWindow(since, until string, filter *audit.Filter) []shared.ValidationIssue {
	var issues []shared.ValidationIssue
	if since != "" {
		t, err := shared.ParseDate(since)
		if err != nil {
			issues = append(issues, shared.ValidationIssue{Field: "since", Reason: "must be a valid date in YYYY-MM-DD format"})
		}
		filter.Since = t
	}
	if until != "" {
		t, err := shared.ParseDate(until)
		if err != nil {
			issues = append(issues, shared.ValidationIssue{Field: "until", Reason: "must be a valid date in YYYY-MM-DD format"})
		} else if len(until) == len("2006-01-02") {
			t = t.AddDate(0, 0, 1)
		}
		filter.Until = t
	}
	return issues
}
