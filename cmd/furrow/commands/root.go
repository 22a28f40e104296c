// Package commands implements the furrow CLI surface.
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	inventoryPath string
	verbose       bool
	jsonOutput    bool
)

// Exit codes: 0 on success, 1 when hosts failed, 2 when the plan or
// inventory is invalid before any host was touched.
const (
	ExitOK          = 0
	ExitHostsFailed = 1
	ExitInvalid     = 2
)

// ExitError carries an explicit process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return ExitHostsFailed
}

func invalid(err error) *ExitError {
	return &ExitError{Code: ExitInvalid, Err: err}
}

func hostsFailed(err error) *ExitError {
	return &ExitError{Code: ExitHostsFailed, Err: err}
}

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "furrow",
		Short: "Furrow - declarative host provisioning",
		Long: `Furrow applies declarative plans to hosts over SSH.

A plan is an ordered list of state assertions (packages, files,
templates, services) targeting an inventory group. Assertions are
checked before they are applied: hosts already in the desired state
are left untouched, and tasks that change state can notify handlers
that fire once per host at the end of the run.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&inventoryPath, "inventory", "i", "inventory.ini", "inventory file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newExecCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newInventoryCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
