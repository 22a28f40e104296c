package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/furrow-sh/furrow/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs",
		Long:  `List past runs from the history database, newest first.`,
	}
	cmd.PersistentFlags().StringVar(&dbPath, "history-db", "", "history database path (default ~/.furrow/history.db)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withStore(cmd.Context(), dbPath, func(ctx context.Context, store *stores.SQLiteStore) error {
				runs, err := store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(runs)
				}

				for _, run := range runs {
					mode := ""
					if run.CheckMode {
						mode = " (check)"
					}
					fmt.Printf("%s  %-19s %-8s %s%s\n",
						run.ID,
						run.StartedAt.Local().Format("2006-01-02 15:04:05"),
						run.Status,
						run.PlanName,
						mode)
				}
				return nil
			})
		},
	}
	listCmd.Flags().Int("limit", 20, "maximum number of runs to list")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run's task results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), dbPath, func(ctx context.Context, store *stores.SQLiteStore) error {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				results, err := store.ListResults(ctx, run.ID)
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(struct {
						Run     *stores.Run          `json:"run"`
						Results []*stores.TaskResult `json:"results"`
					}{run, results})
				}

				fmt.Printf("run %s\nplan: %s (%s)\nstatus: %s\nduration: %s\n\n",
					run.ID, run.PlanName, run.PlanPath, run.Status,
					run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))

				for _, r := range results {
					marker := ""
					if r.Handler {
						marker = " [handler]"
					}
					fmt.Printf("%-16s %-11s %s (%s)%s\n", r.Host, r.Outcome, r.Task, r.Kind, marker)
					if r.Error != "" {
						fmt.Printf("    %s\n", r.Error)
					}
				}
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(showCmd)
	return cmd
}

// withStore opens the history database, runs fn, and closes it.
func withStore(ctx context.Context, dbPath string, fn func(context.Context, *stores.SQLiteStore) error) error {
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
	return fn(ctx, store)
}
