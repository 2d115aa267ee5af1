package scoring

type SteppedRule struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Score     float64 `json:"score" yaml:"score"`
	Operator  string  `json:"operator" yaml:"operator"`
}

// MetricInput is everything the evaluator needs for one reported value.
// Ref identifies the entry or assignment being scored and is only used in errors.
type MetricInput struct {
	Kind       FormulaKind
	Actual     float64
	Target     float64
	Challenge  *float64
	Weight     float64
	Cap        float64
	Floor      float64
	Rules      []SteppedRule
	Expression string
	Program    *Program
	Ref        string
}

type Result struct {
	RawScore      float64 `json:"rawScore"`
	CappedScore   float64 `json:"cappedScore"`
	WeightedScore float64 `json:"weightedScore"`
}

type WeightedResult struct {
	MetricID      string  `json:"metricId"`
	WeightedScore float64 `json:"weightedScore"`
}

// MemberScore is one individual's total as seen by a rollup. A nil Weight means unweighted.
type MemberScore struct {
	EmployeeID   string   `json:"employeeId"`
	DepartmentID string   `json:"departmentId,omitempty"`
	Score        float64  `json:"score"`
	Weight       *float64 `json:"weight,omitempty"`
	IsLeader     bool     `json:"isLeader"`
}

type Validation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}
