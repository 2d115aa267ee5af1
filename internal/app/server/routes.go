package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kpi/internal/platform/config"
	"kpi/internal/platform/metrics"
	assignmenthandler "kpi/internal/transport/http/handlers/assignment"
	audithandler "kpi/internal/transport/http/handlers/audit"
	calculationhandler "kpi/internal/transport/http/handlers/calculation"
	calibrationhandler "kpi/internal/transport/http/handlers/calibration"
	notificationshandler "kpi/internal/transport/http/handlers/notifications"
	performancehandler "kpi/internal/transport/http/handlers/performance"
	"kpi/internal/transport/http/middleware"
	"kpi/internal/transport/http/shared"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type auditTrail interface {
	shared.Auditor
	audithandler.Trail
}

type services struct {
	performance performancehandler.MetricService
	assignments assignmenthandler.AssignmentService
	calculation calculationhandler.Calculator
	calibration calibrationhandler.CalibrationService
	jobs        calculationhandler.Queue
	notifier    notificationshandler.Inbox
	audit       auditTrail
	perms       middleware.PermissionStore
	idempotency calculationhandler.IdempotencyStore
}

func buildRouter(cfg config.Config, collector *metrics.Collector, db pinger, svc services) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(collector))
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret))
	router.Use(middleware.RateLimit(cfg.RateLimitPerMinute, time.Minute))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled && collector != nil {
		router.Handle("/metrics", collector.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/kpi", func(r chi.Router) {
			performancehandler.NewHandler(svc.performance, svc.perms, svc.audit).RegisterRoutes(r)
			assignmenthandler.NewHandler(svc.assignments, svc.perms, svc.audit).RegisterRoutes(r)

			calc := calculationhandler.NewHandler(svc.calculation, svc.jobs, svc.idempotency, svc.perms, svc.audit)
			calc.Throttle = middleware.CalculationRateLimit(cfg.RateLimitPerMinute, time.Minute)
			calc.RegisterRoutes(r)

			calibrationhandler.NewHandler(svc.calibration, svc.perms, svc.audit).RegisterRoutes(r)
		})

		notificationshandler.NewHandler(svc.notifier).RegisterRoutes(r)
		audithandler.NewHandler(svc.audit, svc.perms).RegisterRoutes(r)
	})

	return router
}
