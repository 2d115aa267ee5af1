package scoring

import (
	"fmt"
	"sort"
)

// Evaluate turns one reported value into raw, capped and weighted scores.
//
// Positive, negative and custom scores are clamped to [Floor, Cap]. Binary and
// stepped scores are already bounded by their definition and are used as-is.
func Evaluate(in MetricInput) (Result, error) {
	var raw float64
	clamp := true

	switch in.Kind {
	case FormulaPositive:
		raw = positiveScore(in.Actual, in.Target)
	case FormulaNegative:
		raw = negativeScore(in.Actual, in.Target, in.Cap, in.Floor)
	case FormulaBinary:
		raw = binaryScore(in.Actual)
		clamp = false
	case FormulaStepped:
		score, err := steppedScore(in.Actual, in.Rules)
		if err != nil {
			return Result{}, err
		}
		raw = score
		clamp = false
	case FormulaCustom:
		score, err := customScore(in)
		if err != nil {
			return Result{}, err
		}
		raw = score
	default:
		return Result{}, &ValidationError{Field: "formulaKind", Reason: fmt.Sprintf("unknown formula kind %q", in.Kind)}
	}

	capped := raw
	if clamp {
		capped = clampScore(raw, in.Floor, in.Cap)
	}
	return Result{
		RawScore:      raw,
		CappedScore:   capped,
		WeightedScore: capped * in.Weight / 100,
	}, nil
}

func positiveScore(actual, target float64) float64 {
	if target == 0 {
		return 0
	}
	return actual * 100 / target
}

// negativeScore rewards lower actuals. A zero actual is perfect (100 when the
// target is also zero, otherwise the cap); a negative actual is treated as
// degenerate input and scores the floor.
func negativeScore(actual, target, scoreCap, floor float64) float64 {
	switch {
	case actual == 0:
		if target == 0 {
			return 100
		}
		return scoreCap
	case actual < 0:
		return floor
	}
	return target * 100 / actual
}

func binaryScore(actual float64) float64 {
	if actual == 0 {
		return FullScore
	}
	return 0
}

func steppedScore(actual float64, rules []SteppedRule) (float64, error) {
	ordered := make([]SteppedRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Threshold > ordered[j].Threshold
	})
	for _, rule := range ordered {
		matched, err := compare(actual, rule.Operator, rule.Threshold)
		if err != nil {
			return 0, err
		}
		if matched {
			return rule.Score, nil
		}
	}
	return 0, nil
}

func compare(actual float64, operator string, threshold float64) (bool, error) {
	switch operator {
	case OpGTE:
		return actual >= threshold, nil
	case OpGT:
		return actual > threshold, nil
	case OpLTE:
		return actual <= threshold, nil
	case OpLT:
		return actual < threshold, nil
	case OpEQ, "==":
		return actual == threshold, nil
	}
	return false, &ValidationError{Field: "steppedRules.operator", Reason: fmt.Sprintf("unknown operator %q", operator)}
}

func customScore(in MetricInput) (float64, error) {
	program := in.Program
	if program == nil {
		compiled, err := Compile(in.Expression)
		if err != nil {
			return 0, &FormulaEvaluationError{Expression: in.Expression, Ref: in.Ref, Actual: in.Actual, Target: in.Target, Err: err}
		}
		program = compiled
	}

	challenge := 0.0
	if in.Challenge != nil {
		challenge = *in.Challenge
	}
	value, err := program.Eval(map[string]float64{
		"actual":    in.Actual,
		"target":    in.Target,
		"challenge": challenge,
		"weight":    in.Weight,
	})
	if err != nil {
		return 0, &FormulaEvaluationError{Expression: program.Source(), Ref: in.Ref, Actual: in.Actual, Target: in.Target, Err: err}
	}
	return value, nil
}

func clampScore(score, floor, scoreCap float64) float64 {
	if score < floor {
		return floor
	}
	if score > scoreCap {
		return scoreCap
	}
	return score
}

// ValidateSteppedRules checks a stepped table before it is attached to a metric.
func ValidateSteppedRules(rules []SteppedRule) error {
	if len(rules) == 0 {
		return &ValidationError{Field: "steppedRules", Reason: "at least one rule required"}
	}
	for i, rule := range rules {
		if _, err := compare(0, rule.Operator, rule.Threshold); err != nil {
			return &ValidationError{Field: fmt.Sprintf("steppedRules[%d].operator", i), Reason: fmt.Sprintf("unknown operator %q", rule.Operator)}
		}
	}
	return nil
}

// ValidateDefinition checks the formula-specific parts of a metric definition.
func ValidateDefinition(kind FormulaKind, scoreCap, floor float64, rules []SteppedRule, expression string) error {
	if !kind.Valid() {
		return &ValidationError{Field: "formulaKind", Reason: fmt.Sprintf("unknown formula kind %q", kind)}
	}
	if floor > scoreCap {
		return &ValidationError{Field: "scoreFloor", Reason: "floor must not exceed cap"}
	}
	switch kind {
	case FormulaStepped:
		return ValidateSteppedRules(rules)
	case FormulaCustom:
		if result := Validate(expression); !result.Valid {
			return &ValidationError{Field: "customExpression", Reason: result.Error}
		}
	}
	return nil
}
