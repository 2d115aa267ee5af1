package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"kpi/internal/platform/config"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "kpictl",
	Short: "Operate the KPI scoring engine from the command line",
	Long: `kpictl runs KPI calculations against the database, checks custom
formulas and shows how scores map onto grade and status labels.

It reads the same environment (and CONFIG_FILE) as the API server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c
		return config.InitLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
