package performance

import (
	"time"

	"kpi/internal/domain/scoring"
)

// MetricDefinition describes how a KPI is scored. Definitions are never edited
// once assignments reference them; they are deactivated instead.
type MetricDefinition struct {
	ID               string                `json:"id"`
	TenantID         string                `json:"-"`
	Name             string                `json:"name"`
	Description      string                `json:"description,omitempty"`
	Unit             string                `json:"unit,omitempty"`
	FormulaKind      scoring.FormulaKind   `json:"formulaKind"`
	ScoreCap         float64               `json:"scoreCap"`
	ScoreFloor       float64               `json:"scoreFloor"`
	SteppedRules     []scoring.SteppedRule `json:"steppedRules,omitempty"`
	CustomExpression string                `json:"customExpression,omitempty"`
	Active           bool                  `json:"active"`
	CreatedAt        time.Time             `json:"createdAt"`
}

// Input builds the evaluator input for one reported value against this
// definition. Target, challenge and weight come from the assignment.
func (m MetricDefinition) Input(actual, target float64, challenge *float64, weight float64) scoring.MetricInput {
	return scoring.MetricInput{
		Kind:       m.FormulaKind,
		Actual:     actual,
		Target:     target,
		Challenge:  challenge,
		Weight:     weight,
		Cap:        m.ScoreCap,
		Floor:      m.ScoreFloor,
		Rules:      m.SteppedRules,
		Expression: m.CustomExpression,
		Ref:        m.ID,
	}
}

type Period struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"-"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}
