package commands

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/furrow-sh/furrow/pkg/engine"
	"github.com/furrow-sh/furrow/pkg/modules"
	"github.com/furrow-sh/furrow/pkg/plan"
	"github.com/furrow-sh/furrow/pkg/stores"
	"github.com/furrow-sh/furrow/pkg/telemetry"
)

type runFlags struct {
	limit       string
	check       bool
	become      bool
	forks       int
	noHistory   bool
	historyDB   string
	metricsAddr string
}

func newRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Apply a plan to its target hosts",
		Long: `Load a plan file, resolve its imports and target hosts, and apply
its state assertions. Tasks run in order on each host; hosts run
concurrently up to the forks bound. Tasks that report a change notify
their handlers, which fire once per host after the host's tasks.`,
		Example: `  # Apply a plan
  furrow run site.yml -i production.ini

  # Dry run: report what would change without touching hosts
  furrow run site.yml --check

  # Narrow the run to hosts also in the canary group
  furrow run site.yml --limit canary`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlanFile(cmd.Context(), args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.limit, "limit", "l", "", "restrict the run to hosts in this group expression")
	cmd.Flags().BoolVar(&flags.check, "check", false, "dry run: check desired state without applying")
	cmd.Flags().BoolVarP(&flags.become, "become", "b", false, "escalate privileges for every task")
	cmd.Flags().IntVarP(&flags.forks, "forks", "f", engine.DefaultForks, "maximum concurrent hosts")
	cmd.Flags().BoolVar(&flags.noHistory, "no-history", false, "do not record the run in the history database")
	cmd.Flags().StringVar(&flags.historyDB, "history-db", "", "history database path (default ~/.furrow/history.db)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address for the duration of the run")

	return cmd
}

// runPlanFile loads and executes one plan file. Shared by run and
// watch.
func runPlanFile(ctx context.Context, planPath string, flags *runFlags) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	inv, err := loadInventory()
	if err != nil {
		return err
	}

	registry := modules.DefaultRegistry()
	plans, err := plan.NewLoader(registry.Kinds()).LoadComposite(planPath)
	if err != nil {
		return invalid(err)
	}

	metricsCfg := telemetry.DefaultConfig().Metrics
	if flags.metricsAddr != "" {
		metricsCfg.Enabled = true
		metricsCfg.ListenAddress = flags.metricsAddr
	}
	metrics, err := telemetry.NewMetrics(metricsCfg)
	if err != nil {
		return err
	}
	if err := metrics.Serve(); err != nil {
		return err
	}
	defer func() { _ = metrics.Shutdown() }()

	runner := engine.NewRunner(inv, newDialer(), registry, logger, metrics, engine.Options{
		Forks:     flags.forks,
		CheckMode: flags.check,
		Become:    flags.become,
		Limit:     flags.limit,
	})

	report, err := runner.Run(ctx, plans)
	if err != nil {
		return classifyRunError(err)
	}

	if !flags.noHistory {
		if err := recordRun(ctx, planPath, plans, report, flags.historyDB); err != nil {
			logger.WithError(err).Warn("failed to record run history")
		}
	}

	if err := printReport(os.Stdout, report); err != nil {
		return err
	}
	if report.Failed() {
		return &ExitError{Code: ExitHostsFailed}
	}
	return nil
}

// recordRun persists the report in the history store.
func recordRun(ctx context.Context, planPath string, plans []*plan.Plan, report *engine.Report, dbPath string) error {
	if dbPath == "" {
		var err error
		dbPath, err = stores.DefaultPath()
		if err != nil {
			return err
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	planName := ""
	if len(plans) > 0 {
		planName = plans[len(plans)-1].Name
	}

	status := stores.RunStatusOK
	if report.Failed() {
		status = stores.RunStatusFailed
	}

	run := &stores.Run{
		ID:         report.RunID,
		PlanName:   planName,
		PlanPath:   planPath,
		CheckMode:  report.CheckMode,
		Status:     status,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}

	var results []stores.TaskResult
	for _, host := range report.Hosts {
		for _, t := range host.Tasks {
			results = append(results, stores.TaskResult{
				Host:     host.Host,
				Plan:     t.Plan,
				Task:     t.Task,
				Kind:     t.Kind,
				Handler:  t.Handler,
				Outcome:  string(t.Outcome),
				Detail:   t.Detail,
				Error:    t.Error,
				Duration: t.Duration,
			})
		}
	}

	saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return store.SaveRun(saveCtx, run, results)
}
