package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/furrow-sh/furrow/pkg/engine"
	"github.com/furrow-sh/furrow/pkg/inventory"
	"github.com/furrow-sh/furrow/pkg/telemetry"
	"github.com/furrow-sh/furrow/pkg/transports"
	sshtransport "github.com/furrow-sh/furrow/pkg/transports/ssh"
)

// newLogger builds the CLI logger from the global flags.
func newLogger() (*telemetry.Logger, error) {
	cfg := telemetry.DefaultConfig().Logging
	if verbose {
		cfg.Level = "debug"
	}
	if jsonOutput {
		cfg.Format = "json"
	}
	return telemetry.NewLogger(cfg)
}

// loadInventory parses the inventory file from the global flag.
// Parse failures are invalid-input errors (exit 2).
func loadInventory() (*inventory.Inventory, error) {
	inv, err := inventory.Load(inventoryPath)
	if err != nil {
		return nil, invalid(fmt.Errorf("inventory: %w", err))
	}
	return inv, nil
}

// newDialer builds the default transport: SSH for remote hosts, local
// execution for localhost entries.
func newDialer() transports.Dialer {
	return transports.NewRouter(sshtransport.NewDialer(nil))
}

// classifyRunError maps engine errors onto exit codes: fatal
// resolution problems are invalid input, everything else is a host
// failure.
func classifyRunError(err error) error {
	if engine.IsFatal(err) {
		return invalid(err)
	}
	return hostsFailed(err)
}

// printReport writes the per-host run summary.
func printReport(w io.Writer, report *engine.Report) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	names := make([]string, 0, len(report.Hosts))
	for name := range report.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		h := report.Hosts[name]
		state := "ok"
		switch {
		case h.Unreachable:
			state = "unreachable"
		case h.Failed:
			state = "failed"
		}

		failed := 0
		skipped := 0
		for _, t := range h.Tasks {
			switch t.Outcome {
			case engine.OutcomeFailed:
				failed++
			case engine.OutcomeSkipped:
				skipped++
			}
		}
		fmt.Fprintf(w, "%-20s %-11s changed=%d unchanged=%d failed=%d skipped=%d\n",
			name, state, h.Changed(), h.Unchanged(), failed, skipped)

		for _, t := range h.Tasks {
			if t.Error != "" {
				fmt.Fprintf(w, "    %s: %s\n", t.Task, t.Error)
			}
		}
	}
	return nil
}

// parseKeyValues parses k=v arguments into module params.
func parseKeyValues(args []string) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, errors.New("params must be key=value pairs")
		}
		params[key] = value
	}
	return params, nil
}
