package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"kpi/internal/domain/calculation"
	"kpi/internal/domain/notifications"
	"kpi/internal/domain/scoring"
	"kpi/internal/platform/db"
	"kpi/internal/platform/email"
)

var calculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Run a KPI calculation for one period",
	Long: `Score every approved data entry of a period, store individual and
group results and print the run summary. Runs synchronously.

Examples:
  kpictl calculate --tenant <tenant-id> --period <period-id>
  kpictl calculate --tenant <tenant-id> --period <period-id> --method weighted_average --include-company`,
	RunE: runCalculate,
}

func init() {
	f := calculateCmd.Flags()
	f.String("tenant", "", "tenant id (required)")
	f.String("period", "", "period id (required)")
	f.String("company", "", "only score entries of employees in this company; also recorded on the run and keys the company rollup")
	f.String("method", "", "rollup method (defaults to DEFAULT_ROLLUP_METHOD)")
	f.Bool("include-company", false, "also store a company-wide rollup")
	f.Bool("notify", false, "send completion and low-performance notifications")
	_ = calculateCmd.MarkFlagRequired("tenant")
	_ = calculateCmd.MarkFlagRequired("period")

	rootCmd.AddCommand(calculateCmd)
}

func runCalculate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return eris.Wrap(err, "invalid configuration")
	}
	f := cmd.Flags()
	tenantID, _ := f.GetString("tenant")
	periodID, _ := f.GetString("period")
	companyID, _ := f.GetString("company")
	methodFlag, _ := f.GetString("method")
	includeCompany, _ := f.GetBool("include-company")
	notify, _ := f.GetBool("notify")

	defaultMethod, err := scoring.ParseRollupMethod(cfg.DefaultRollupMethod)
	if err != nil {
		return err
	}
	classifier, err := scoring.LoadBoundaryFile(cfg.BoundaryFile)
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := calculation.NewService(calculation.NewStore(pool), calculation.Options{
		Concurrency:             cfg.CalcConcurrency,
		LowPerformanceThreshold: cfg.LowPerformanceThreshold,
		DefaultMethod:           defaultMethod,
		Classifier:              classifier,
	})
	if notify {
		svc.Notifier = newNotifier(pool)
		svc.Dispatch = func(fn func()) { fn() }
	}

	summary, err := svc.Run(ctx, calculation.Request{
		TenantID:       tenantID,
		PeriodID:       periodID,
		CompanyID:      companyID,
		Method:         scoring.RollupMethod(methodFlag),
		IncludeCompany: includeCompany,
		Silent:         !notify,
	})
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", errStyle.Render("failed"), err)
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s run %s\n", okStyle.Render("completed"), summary.RunID)
	rows := [][2]string{
		{"entries", fmt.Sprint(summary.Entries)},
		{"employees", fmt.Sprint(summary.Employees)},
		{"departments", fmt.Sprint(summary.Departments)},
		{"elapsed", fmt.Sprintf("%dms", summary.ElapsedMs)},
	}
	if summary.CompanyScore != nil {
		rows = append(rows, [2]string{"company", formatScore(*summary.CompanyScore)})
	}
	printRows(out, rows)
	return nil
}

func newNotifier(pool *pgxpool.Pool) *notifications.Service {
	svc := notifications.New(notifications.NewStore(pool), email.New(slog.Default()))
	if cfg.EmailFrom != "" {
		svc.DefaultFrom = cfg.EmailFrom
	}
	return svc
}
