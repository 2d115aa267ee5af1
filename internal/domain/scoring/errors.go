package scoring

import "fmt"

// ValidationError reports a malformed definition caught before any score is computed:
// a bad custom expression, an unknown formula kind, a stepped rule with an unknown operator.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// FormulaEvaluationError is returned when a custom expression fails at run time.
type FormulaEvaluationError struct {
	Expression string
	Ref        string
	Actual     float64
	Target     float64
	Err        error
}

func (e *FormulaEvaluationError) Error() string {
	ref := e.Ref
	if ref == "" {
		ref = "-"
	}
	return fmt.Sprintf("evaluate formula %q (ref=%s actual=%v target=%v): %v", e.Expression, ref, e.Actual, e.Target, e.Err)
}

func (e *FormulaEvaluationError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a referenced period, assignment or metric that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
