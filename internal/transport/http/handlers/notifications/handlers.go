package notificationshandler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kpi/internal/domain/notifications"
	"kpi/internal/transport/http/api"
	"kpi/internal/transport/http/middleware"
	"kpi/internal/transport/http/shared"
)

type Inbox interface {
	List(ctx context.Context, tenantID, userID string, filter notifications.ListFilter) ([]notifications.Notification, error)
	MarkRead(ctx context.Context, tenantID, userID, notificationID string) error
}

type Handler struct {
	Service Inbox
}

func NewHandler(service Inbox) *Handler {
	return &Handler{Service: service}
}

// RegisterRoutes needs no permission: callers only ever see their own inbox.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/{notificationID}/read", h.handleMarkRead)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	page, issues := shared.ParsePagination(r, 50, 200)
	if len(issues) > 0 {
		shared.FailValidation(w, middleware.GetRequestID(r.Context()), issues)
		return
	}
	items, err := h.Service.List(r.Context(), user.TenantID, user.UserID, notifications.ListFilter{
		UnreadOnly: shared.QueryBool(r, "unread"),
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
	if err != nil {
		shared.FailError(w, err, "notification_list_failed", "failed to list notifications", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, items, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}

	notificationID := chi.URLParam(r, "notificationID")
	if err := h.Service.MarkRead(r.Context(), user.TenantID, user.UserID, notificationID); err != nil {
		shared.FailError(w, err, "notification_update_failed", "failed to update notification", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]string{"status": "read"}, middleware.GetRequestID(r.Context()))
}
