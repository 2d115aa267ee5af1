package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"kpi/internal/domain/performance"
	"kpi/internal/domain/scoring"
)

var validateFormulaCmd = &cobra.Command{
	Use:   "validate-formula <expression>",
	Short: "Check a custom KPI formula and optionally score a sample value",
	Long: `Parse a custom formula the same way metric creation does. The
variables actual, target, challenge and weight are available.

Examples:
  kpictl validate-formula "actual / target * 100"
  kpictl validate-formula "min(actual / target * 100, 120)" --actual 45 --target 50`,
	Args: cobra.ExactArgs(1),
	RunE: runValidateFormula,
}

func init() {
	f := validateFormulaCmd.Flags()
	f.Float64("actual", 0, "sample actual value to score")
	f.Float64("target", 0, "sample target value")
	f.Float64("challenge", 0, "sample challenge value")
	f.Float64("weight", scoring.WeightBudget, "assignment weight for the weighted score")
	f.Float64("cap", performance.DefaultScoreCap, "score cap")
	f.Float64("floor", performance.DefaultScoreFloor, "score floor")

	rootCmd.AddCommand(validateFormulaCmd)
}

func runValidateFormula(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	expression := args[0]

	result := scoring.Validate(expression)
	if !result.Valid {
		fmt.Fprintf(out, "%s %s\n", errStyle.Render("invalid"), result.Error)
		return eris.New("formula is invalid")
	}
	fmt.Fprintf(out, "%s %s\n", okStyle.Render("valid"), dimStyle.Render(expression))

	f := cmd.Flags()
	if !f.Changed("actual") {
		return nil
	}
	actual, _ := f.GetFloat64("actual")
	target, _ := f.GetFloat64("target")
	weight, _ := f.GetFloat64("weight")
	scoreCap, _ := f.GetFloat64("cap")
	floor, _ := f.GetFloat64("floor")
	var challenge *float64
	if f.Changed("challenge") {
		value, _ := f.GetFloat64("challenge")
		challenge = &value
	}

	metric := performance.MetricDefinition{
		Name:             "preview",
		FormulaKind:      scoring.FormulaCustom,
		ScoreCap:         scoreCap,
		ScoreFloor:       floor,
		CustomExpression: expression,
	}
	scored, err := performance.Preview(metric, actual, target, challenge, weight)
	if err != nil {
		return err
	}
	printRows(out, [][2]string{
		{"raw", formatScore(scored.RawScore)},
		{"capped", formatScore(scored.CappedScore)},
		{"weighted", formatScore(scored.WeightedScore)},
	})
	return nil
}
