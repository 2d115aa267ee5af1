package calculation

import (
	"time"

	"kpi/internal/domain/performance"
	"kpi/internal/domain/scoring"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// CanTransition reports whether a run may move from s to next. Idle may fail
// directly when the run could not be dispatched.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateIdle:
		return next == StateRunning || next == StateFailed
	case StateRunning:
		return next == StateCompleted || next == StateFailed
	}
	return false
}

type Phase string

const (
	PhaseSetup       Phase = "setup"
	PhaseEntries     Phase = "entries"
	PhaseIndividuals Phase = "individuals"
	PhaseGroups      Phase = "groups"
)

type Request struct {
	TenantID       string
	PeriodID       string
	CompanyID      string
	TriggeredBy    string
	Method         scoring.RollupMethod
	IncludeCompany bool
	// Silent suppresses notifications, for scheduled recalculations.
	Silent bool
}

// Job is the queue payload for an asynchronous run. It is stored with the
// job record and is all the worker needs to execute the prepared run.
type Job struct {
	RunID            string               `json:"runId"`
	PeriodID         string               `json:"periodId"`
	CompanyID        string               `json:"companyId,omitempty"`
	TriggeringUserID string               `json:"triggeringUserId,omitempty"`
	Method           scoring.RollupMethod `json:"method,omitempty"`
	IncludeCompany   bool                 `json:"includeCompany,omitempty"`
	Silent           bool                 `json:"silent,omitempty"`
}

func NewJob(runID string, req Request) Job {
	return Job{
		RunID:            runID,
		PeriodID:         req.PeriodID,
		CompanyID:        req.CompanyID,
		TriggeringUserID: req.TriggeredBy,
		Method:           req.Method,
		IncludeCompany:   req.IncludeCompany,
		Silent:           req.Silent,
	}
}

func (j Job) Request(tenantID string) Request {
	return Request{
		TenantID:       tenantID,
		PeriodID:       j.PeriodID,
		CompanyID:      j.CompanyID,
		TriggeredBy:    j.TriggeringUserID,
		Method:         j.Method,
		IncludeCompany: j.IncludeCompany,
		Silent:         j.Silent,
	}
}

type Summary struct {
	RunID        string        `json:"runId"`
	PeriodID     string        `json:"periodId"`
	CompanyID    string        `json:"companyId,omitempty"`
	Entries      int           `json:"entries"`
	Employees    int           `json:"employees"`
	Departments  int           `json:"departments"`
	CompanyScore *float64      `json:"companyScore,omitempty"`
	Elapsed      time.Duration `json:"-"`
	ElapsedMs    int64         `json:"elapsedMs"`
}

// Entry is one approved data entry with the employee context needed to
// aggregate it.
type Entry struct {
	ID           string
	AssignmentID string
	EmployeeID   string
	DepartmentID string
	UserID       string
	IsLeader     bool
	ActualValue  float64
}

type AssignmentDetail struct {
	ID             string
	TargetValue    float64
	ChallengeValue *float64
	Weight         float64
	Metric         performance.MetricDefinition
}

type IndividualResult struct {
	TenantID     string  `json:"-"`
	PeriodID     string  `json:"periodId"`
	EmployeeID   string  `json:"employeeId"`
	DepartmentID string  `json:"departmentId,omitempty"`
	TotalScore   float64 `json:"totalScore"`
	Grade        string  `json:"grade"`
	Status       string  `json:"status"`
}

// GroupResult is a department rollup, or the company rollup when
// DepartmentID is empty. Rows are keyed by period, company and department so
// runs for different companies never share a row.
type GroupResult struct {
	TenantID      string               `json:"-"`
	PeriodID      string               `json:"periodId"`
	CompanyID     string               `json:"companyId,omitempty"`
	DepartmentID  string               `json:"departmentId,omitempty"`
	Score         float64              `json:"score"`
	EmployeeCount int                  `json:"employeeCount"`
	Method        scoring.RollupMethod `json:"method"`
	Grade         string               `json:"grade"`
}

type Run struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"-"`
	PeriodID    string     `json:"periodId"`
	CompanyID   string     `json:"companyId,omitempty"`
	TriggeredBy string     `json:"triggeredBy,omitempty"`
	State       State      `json:"state"`
	Summary     *Summary   `json:"summary,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}
