package calibration

import (
	"math"
	"strings"
	"time"

	"kpi/internal/domain/scoring"
)

// Adjustment records a reviewer moving an employee's period score. Both
// scores are classified through the same tables as the calculated results.
type Adjustment struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"-"`
	PeriodID       string    `json:"periodId"`
	EmployeeID     string    `json:"employeeId"`
	OriginalScore  float64   `json:"originalScore"`
	AdjustedScore  float64   `json:"adjustedScore"`
	OriginalGrade  string    `json:"originalGrade"`
	AdjustedGrade  string    `json:"adjustedGrade"`
	OriginalStatus string    `json:"originalStatus"`
	AdjustedStatus string    `json:"adjustedStatus"`
	Reason         string    `json:"reason"`
	AdjustedBy     string    `json:"adjustedBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (a Adjustment) GradeChanged() bool {
	return a.OriginalGrade != a.AdjustedGrade
}

func Adjust(original, adjusted float64, reason string, classifier scoring.Classifier) (Adjustment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Adjustment{}, &scoring.ValidationError{Field: "reason", Reason: "a reason is required"}
	}
	if math.IsNaN(adjusted) || math.IsInf(adjusted, 0) {
		return Adjustment{}, &scoring.ValidationError{Field: "adjustedScore", Reason: "score must be a finite number"}
	}
	return Adjustment{
		OriginalScore:  original,
		AdjustedScore:  adjusted,
		OriginalGrade:  classifier.Grade(original),
		AdjustedGrade:  classifier.Grade(adjusted),
		OriginalStatus: classifier.Status(original),
		AdjustedStatus: classifier.Status(adjusted),
		Reason:         reason,
	}, nil
}
