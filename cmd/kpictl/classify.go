package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"kpi/internal/domain/scoring"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <score>...",
	Short: "Show the grade and status labels for one or more scores",
	Long: `Classify scores with the configured boundary tables (BOUNDARY_FILE)
or the built-in defaults.

Examples:
  kpictl classify 92 74.5 12
  kpictl classify 81 --boundary-file boundaries.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().String("boundary-file", "", "YAML boundary tables (overrides BOUNDARY_FILE)")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("boundary-file")
	if path == "" {
		path = cfg.BoundaryFile
	}
	classifier, err := scoring.LoadBoundaryFile(path)
	if err != nil {
		return err
	}

	rows := make([][2]string, 0, len(args))
	for _, arg := range args {
		score, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return eris.Wrapf(err, "parse score %q", arg)
		}
		rows = append(rows, [2]string{
			formatScore(score),
			fmt.Sprintf("grade %s  status %s", classifier.Grade(score), classifier.Status(score)),
		})
	}
	printRows(cmd.OutOrStdout(), rows)
	return nil
}
