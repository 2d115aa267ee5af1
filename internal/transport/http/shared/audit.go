package shared

import (
	"context"
	"net/http"

	"kpi/internal/domain/auth"
	"kpi/internal/requestctx"
	"kpi/internal/transport/http/middleware"
)

type Auditor interface {
	Record(ctx context.Context, tenantID, actorID, action, entityType, entityID, requestID, ip string, before, after any) error
}

// RecordAudit writes an audit event for a finished mutation. Failures are
// logged; the mutation has already happened.
func RecordAudit(r *http.Request, auditor Auditor, user auth.UserContext, action, entityType, entityID string, before, after any) {
	if auditor == nil {
		return
	}
	err := auditor.Record(r.Context(), user.TenantID, user.UserID, action, entityType, entityID,
		requestctx.GetRequestID(r.Context()), middleware.ClientIP(r), before, after)
	if err != nil {
		requestctx.Logger(r.Context()).Warn("audit record failed", "action", action, "entityId", entityID, "err", err)
	}
}
