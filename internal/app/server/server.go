package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"kpi/internal/domain/assignment"
	"kpi/internal/domain/audit"
	"kpi/internal/domain/auth"
	"kpi/internal/domain/calculation"
	"kpi/internal/domain/calibration"
	"kpi/internal/domain/notifications"
	"kpi/internal/domain/performance"
	"kpi/internal/domain/scoring"
	"kpi/internal/platform/config"
	"kpi/internal/platform/db"
	"kpi/internal/platform/email"
	"kpi/internal/platform/jobs"
	"kpi/internal/platform/metrics"
	"kpi/internal/transport/http/middleware"
)

type App struct {
	Config  config.Config
	DB      *pgxpool.Pool
	Router  http.Handler
	Jobs    *jobs.Service
	Metrics *metrics.Collector
	stop    context.CancelFunc
}

// New connects to the database, prepares the schema and wires every service
// behind the HTTP router. The job worker is running when New returns.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	classifier, err := scoring.LoadBoundaryFile(cfg.BoundaryFile)
	if err != nil {
		return nil, err
	}
	method, err := scoring.ParseRollupMethod(cfg.DefaultRollupMethod)
	if err != nil {
		return nil, err
	}

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, err
		}
	}
	if err := db.Seed(ctx, pool, cfg.SeedTenantName); err != nil {
		pool.Close()
		return nil, err
	}

	collector := metrics.New()

	notifier := notifications.New(notifications.NewStore(pool), email.New(slog.Default()))
	if cfg.EmailFrom != "" {
		notifier.DefaultFrom = cfg.EmailFrom
	}

	calcService := calculation.NewService(calculation.NewStore(pool), calculation.Options{
		Concurrency:             cfg.CalcConcurrency,
		LowPerformanceThreshold: cfg.LowPerformanceThreshold,
		DefaultMethod:           method,
		Classifier:              classifier,
	})
	calcService.Notifier = notifier
	calcService.Observer = collector

	assignmentService := assignment.NewService(assignment.NewStore(pool))
	assignmentService.Observer = collector

	calibrationService := calibration.NewService(calibration.NewStore(pool), classifier)
	calibrationService.Notify = func(ctx context.Context, tenantID, userID, title, body string) error {
		return notifier.Create(ctx, tenantID, userID, notifications.TypeCalibrationRecorded, title, body)
	}

	jobService := jobs.New(pool, calcService, cfg.JobQueueSize)
	jobService.Observer = collector
	jobService.RecalcInterval = cfg.RecalcInterval

	idempotency := middleware.NewIdempotencyStore(pool, cfg.IdempotencyTTL)
	jobService.Sweepers = map[string]jobs.Sweeper{"idempotency_keys": idempotency}

	router := buildRouter(cfg, collector, pool, services{
		performance: performance.NewService(performance.NewStore(pool)),
		assignments: assignmentService,
		calculation: calcService,
		calibration: calibrationService,
		jobs:        jobService,
		notifier:    notifier,
		audit:       audit.New(pool),
		perms:       auth.NewCachedPermissions(auth.NewStore(pool), cfg.PermissionCacheTTL),
		idempotency: idempotency,
	})

	workerCtx, stop := context.WithCancel(context.Background())
	jobService.Start(workerCtx)

	return &App{
		Config:  cfg,
		DB:      pool,
		Router:  router,
		Jobs:    jobService,
		Metrics: collector,
		stop:    stop,
	}, nil
}

func (a *App) Close() {
	if a.stop != nil {
		a.stop()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// Run serves the API until SIGINT or SIGTERM, then drains in-flight requests.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := config.InitLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return eris.Wrap(err, "invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("kpi server listening", "addr", cfg.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return eris.Wrap(err, "server failed")
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return eris.Wrap(srv.Shutdown(shutdownCtx), "server shutdown")
}
