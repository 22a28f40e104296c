package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/furrow-sh/furrow/pkg/engine"
	"github.com/furrow-sh/furrow/pkg/modules"
	"github.com/furrow-sh/furrow/pkg/plan"
	"github.com/furrow-sh/furrow/pkg/telemetry"
)

func newExecCommand() *cobra.Command {
	var (
		become bool
		check  bool
		forks  int
	)

	cmd := &cobra.Command{
		Use:   "exec <group> <kind> [key=value...]",
		Short: "Apply a single ad-hoc assertion to a group",
		Long: `Run one state assertion against every host in a group without
writing a plan file. The assertion kind and its params are given on
the command line.`,
		Example: `  # Check that nginx is installed everywhere
  furrow exec web pkg name=nginx state=present

  # Restart a service on the db group
  furrow exec db service name=postgresql state=restarted --become

  # Run a raw command
  furrow exec all shell cmd='uptime'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, kind := args[0], args[1]

			params, err := parseKeyValues(args[2:])
			if err != nil {
				return invalid(err)
			}

			logger, err := newLogger()
			if err != nil {
				return err
			}
			inv, err := loadInventory()
			if err != nil {
				return err
			}

			registry := modules.DefaultRegistry()
			if _, err := registry.Get(kind); err != nil {
				return invalid(err)
			}

			p := &plan.Plan{
				Name:  "ad-hoc",
				Hosts: group,
				Tasks: []plan.Task{{
					Name:   kind,
					Kind:   kind,
					Params: params,
					Become: become,
				}},
			}

			metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
			if err != nil {
				return err
			}

			runner := engine.NewRunner(inv, newDialer(), registry, logger, metrics, engine.Options{
				Forks:     forks,
				CheckMode: check,
			})

			report, err := runner.Run(cmd.Context(), []*plan.Plan{p})
			if err != nil {
				return classifyRunError(err)
			}
			if err := printReport(os.Stdout, report); err != nil {
				return err
			}
			if report.Failed() {
				return &ExitError{Code: ExitHostsFailed}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&become, "become", "b", false, "escalate privileges")
	cmd.Flags().BoolVar(&check, "check", false, "dry run: check desired state without applying")
	cmd.Flags().IntVarP(&forks, "forks", "f", engine.DefaultForks, "maximum concurrent hosts")

	return cmd
}
