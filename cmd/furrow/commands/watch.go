package commands

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/furrow-sh/furrow/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "watch <plan>",
		Short: "Re-apply a plan whenever its file changes",
		Long: `Apply the plan once, then watch the plan file's directory and
re-apply on every change. Useful while iterating on a plan against a
test host. Invalid intermediate saves are reported and skipped; the
watcher keeps running until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planPath, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			logger, err := newLogger()
			if err != nil {
				return err
			}
			wlog := logger.NewComponentLogger("watch")

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			// Watch the directory: editors replace files on save, which
			// drops a watch held on the file itself.
			if err := watcher.Add(filepath.Dir(planPath)); err != nil {
				return err
			}

			apply := func() {
				if err := runPlanFile(cmd.Context(), planPath, flags); err != nil {
					var exit *ExitError
					if errors.As(err, &exit) {
						wlog.WithError(err).Warnf("run finished with exit code %d", exit.Code)
						return
					}
					wlog.WithError(err).Error("run failed")
				}
			}

			apply()
			wlog.Infof("watching %s", planPath)

			// Debounce bursts of write events from a single save.
			var timer *time.Timer
			pending := make(chan struct{}, 1)

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-pending:
					apply()
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Name != planPath {
						continue
					}
					if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
						continue
					}
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(200*time.Millisecond, func() {
						select {
						case pending <- struct{}{}:
						default:
						}
					})
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					wlog.WithError(err).Warn("watch error")
				}
			}
		},
	}

	cmd.Flags().StringVarP(&flags.limit, "limit", "l", "", "restrict the run to hosts in this group expression")
	cmd.Flags().BoolVar(&flags.check, "check", false, "dry run: check desired state without applying")
	cmd.Flags().BoolVarP(&flags.become, "become", "b", false, "escalate privileges for every task")
	cmd.Flags().IntVarP(&flags.forks, "forks", "f", engine.DefaultForks, "maximum concurrent hosts")
	cmd.Flags().BoolVar(&flags.noHistory, "no-history", true, "do not record watch runs in the history database")

	return cmd
}
