package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/rotisserie/eris"

	"kpi/internal/domain/calculation"
	"kpi/internal/platform/querier"
)

const (
	JobCalculation   = "kpi_calculation"
	JobRecalculation = "kpi_recalculation"
)

var ErrQueueFull = errors.New("job queue full")

// Calculator is the part of the calculation service the queue drives.
type Calculator interface {
	Prepare(ctx context.Context, req calculation.Request) (calculation.Run, error)
	Execute(ctx context.Context, runID string, req calculation.Request) (calculation.Summary, error)
	Abandon(ctx context.Context, tenantID, runID string, cause error) error
}

type DepthObserver interface {
	QueueDepth(depth int)
}

// Sweeper drops expired rows, e.g. stale idempotency keys.
type Sweeper interface {
	Purge(ctx context.Context) (int64, error)
}

type Service struct {
	DB       querier.Querier
	Calc     Calculator
	Observer DepthObserver
	// RecalcInterval re-runs every open period on a timer; zero disables it.
	RecalcInterval time.Duration
	Sweepers       map[string]Sweeper
	SweepInterval  time.Duration
	queue          chan job
}

type job struct {
	Type     string
	TenantID string
	// Payload is stored on the job record; nil stores nothing.
	Payload  any
	Run      func(context.Context) (any, error)
}

func New(db querier.Querier, calc Calculator, queueSize int) *Service {
	if queueSize <= 0 {
		queueSize = 128
	}
	return &Service{
		DB:    db,
		Calc:  calc,
		queue: make(chan job, queueSize),
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
	if s.RecalcInterval > 0 {
		go s.scheduleRecalculation(ctx, s.RecalcInterval)
	}
	if len(s.Sweepers) > 0 {
		interval := s.SweepInterval
		if interval <= 0 {
			interval = time.Hour
		}
		go s.scheduleSweeps(ctx, interval)
	}
}

func (s *Service) enqueue(j job) error {
	select {
	case s.queue <- j:
		s.observeDepth()
		return nil
	default:
		slog.Warn("job queue full", "jobType", j.Type, "tenantId", j.TenantID)
		return ErrQueueFull
	}
}

// EnqueueCalculation records an idle run and hands its execution to the
// worker. A run that cannot be queued is failed straight away so it never
// lingers in idle.
func (s *Service) EnqueueCalculation(ctx context.Context, jobType string, req calculation.Request) (calculation.Run, error) {
	run, err := s.Calc.Prepare(ctx, req)
	if err != nil {
		return calculation.Run{}, err
	}
	err = s.enqueue(s.calculationJob(jobType, req.TenantID, calculation.NewJob(run.ID, req)))
	if err != nil {
		if abandonErr := s.Calc.Abandon(ctx, req.TenantID, run.ID, err); abandonErr != nil {
			slog.Warn("calculation run abandon failed", "runId", run.ID, "err", abandonErr)
		}
		return run, err
	}
	return run, nil
}

// calculationJob executes a prepared run from its queue payload alone.
func (s *Service) calculationJob(jobType, tenantID string, payload calculation.Job) job {
	return job{
		Type:     jobType,
		TenantID: tenantID,
		Payload:  payload,
		Run: func(ctx context.Context) (any, error) {
			return s.Calc.Execute(ctx, payload.RunID, payload.Request(tenantID))
		},
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.observeDepth()
			if _, err := s.runJob(ctx, j); err != nil {
				slog.Warn("job run failed", "jobType", j.Type, "tenantId", j.TenantID, "err", err)
			}
		}
	}
}

func (s *Service) observeDepth() {
	if s.Observer != nil {
		s.Observer.QueueDepth(len(s.queue))
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	var payloadJSON []byte
	if j.Payload != nil {
		encoded, err := json.Marshal(j.Payload)
		if err != nil {
			slog.Warn("job payload marshal failed", "jobType", j.Type, "err", err)
		}
		payloadJSON = encoded
	}
	runID := ""
	if err := s.DB.QueryRow(ctx, `
    INSERT INTO job_runs (tenant_id, job_type, status, payload_json)
    VALUES ($1,$2,$3,$4)
    RETURNING id
  `, j.TenantID, j.Type, "running", payloadJSON).Scan(&runID); err != nil {
		slog.Warn("job run insert failed", "err", err)
	}

	details, err := j.Run(ctx)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	detailsJSON, marshalErr := json.Marshal(details)
	if marshalErr != nil {
		slog.Warn("job details marshal failed", "err", marshalErr)
		detailsJSON = []byte("{}")
	}
	if runID != "" {
		if _, updErr := s.DB.Exec(context.WithoutCancel(ctx), `
      UPDATE job_runs
      SET status = $1, details_json = $2, completed_at = now()
      WHERE id = $3
    `, status, detailsJSON, runID); updErr != nil {
			slog.Warn("job run update failed", "err", updErr)
		}
	}
	return details, err
}

func (s *Service) scheduleRecalculation(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recalculateOpenPeriods(ctx)
		}
	}
}

func (s *Service) recalculateOpenPeriods(ctx context.Context) {
	periods, err := s.listOpenPeriods(ctx)
	if err != nil {
		slog.Warn("recalculation scheduler period lookup failed", "err", err)
		return
	}
	for _, p := range periods {
		req := calculation.Request{TenantID: p.TenantID, PeriodID: p.PeriodID, CompanyID: p.CompanyID, IncludeCompany: true, Silent: true}
		if _, err := s.EnqueueCalculation(ctx, JobRecalculation, req); err != nil {
			slog.Warn("recalculation not queued", "tenantId", p.TenantID, "periodId", p.PeriodID, "companyId", p.CompanyID, "err", err)
		}
	}
}

// openPeriod is one recalculation unit: an open period of one company.
type openPeriod struct {
	TenantID  string
	PeriodID  string
	CompanyID string
}

func (s *Service) listOpenPeriods(ctx context.Context) ([]openPeriod, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT p.tenant_id, p.id, c.id
    FROM kpi_periods p
    JOIN companies c ON c.tenant_id = p.tenant_id
    WHERE p.status = 'open'
    ORDER BY p.tenant_id, p.start_date, c.id
  `)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: list open periods")
	}
	defer rows.Close()
	var out []openPeriod
	for rows.Next() {
		var p openPeriod
		if err := rows.Scan(&p.TenantID, &p.PeriodID, &p.CompanyID); err != nil {
			return nil, eris.Wrap(err, "jobs: scan open period")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Service) scheduleSweeps(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) map[string]int64 {
	removed := make(map[string]int64, len(s.Sweepers))
	for name, sweeper := range s.Sweepers {
		n, err := sweeper.Purge(ctx)
		if err != nil {
			slog.Warn("sweep failed", "sweeper", name, "err", err)
			continue
		}
		removed[name] = n
		if n > 0 {
			slog.Info("sweep removed rows", "sweeper", name, "rows", n)
		}
	}
	return removed
}
