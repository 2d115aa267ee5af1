package assignment

import (
	"fmt"
	"strings"
	"time"
)

type ScopeLevel string

const (
	LevelCompany    ScopeLevel = "company"
	LevelDepartment ScopeLevel = "department"
	LevelEmployee   ScopeLevel = "employee"
)

// ScopeKey identifies one 100% weight budget: a period plus at most one target.
type ScopeKey struct {
	TenantID     string `json:"tenantId"`
	PeriodID     string `json:"periodId"`
	DepartmentID string `json:"departmentId,omitempty"`
	EmployeeID   string `json:"employeeId,omitempty"`
}

func (k ScopeKey) Level() ScopeLevel {
	switch {
	case k.EmployeeID != "":
		return LevelEmployee
	case k.DepartmentID != "":
		return LevelDepartment
	}
	return LevelCompany
}

func (k ScopeKey) String() string {
	switch k.Level() {
	case LevelEmployee:
		return fmt.Sprintf("period %s / employee %s", k.PeriodID, k.EmployeeID)
	case LevelDepartment:
		return fmt.Sprintf("period %s / department %s", k.PeriodID, k.DepartmentID)
	}
	return fmt.Sprintf("period %s / company", k.PeriodID)
}

func (k ScopeKey) lockKey() string {
	return strings.Join([]string{"kpi_weight", k.TenantID, k.PeriodID, string(k.Level()), k.DepartmentID, k.EmployeeID}, "|")
}

type Assignment struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"-"`
	PeriodID       string    `json:"periodId"`
	MetricID       string    `json:"metricId"`
	DepartmentID   string    `json:"departmentId,omitempty"`
	EmployeeID     string    `json:"employeeId,omitempty"`
	TargetValue    float64   `json:"targetValue"`
	ChallengeValue *float64  `json:"challengeValue,omitempty"`
	Weight         float64   `json:"weight"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (a Assignment) Scope() ScopeKey {
	return ScopeKey{TenantID: a.TenantID, PeriodID: a.PeriodID, DepartmentID: a.DepartmentID, EmployeeID: a.EmployeeID}
}

type Changes struct {
	TargetValue    *float64
	ChallengeValue *float64
	Weight         *float64
}

type Budget struct {
	Scope     ScopeKey   `json:"scope"`
	Level     ScopeLevel `json:"level"`
	Used      float64    `json:"used"`
	Remaining float64    `json:"remaining"`
}
