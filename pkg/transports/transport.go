// Package transports defines how the engine reaches target hosts.
// A Connection executes commands and pushes files on one host; a
// Dialer opens Connections from inventory entries. The SSH transport
// lives in the ssh subpackage; Local runs against the current machine
// for ad-hoc diagnostics and tests.
package transports

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/furrow-sh/furrow/pkg/inventory"
)

// ExecOptions controls a single remote command execution.
type ExecOptions struct {
	// Sudo escalates the command with sudo.
	Sudo bool

	// SudoUser is the target user for escalation (default root).
	SudoUser string

	// Timeout bounds connection plus execution time. Zero means the
	// transport default.
	Timeout time.Duration
}

// ExecResult is the outcome of one command execution.
type ExecResult struct {
	// Stdout is the trimmed standard output.
	Stdout string

	// Stderr is the trimmed standard error.
	Stderr string

	// ExitCode is the command's exit code; -1 when the command did
	// not run to completion.
	ExitCode int

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// Connection executes commands and transfers files on a single host.
// Implementations must be safe for sequential use; the engine never
// issues concurrent operations on one Connection.
type Connection interface {
	// Run executes a command and returns its result. A non-zero exit
	// code is returned in ExecResult without an error; errors signal
	// transport-level failures.
	Run(ctx context.Context, cmd string, opts ExecOptions) (ExecResult, error)

	// Upload writes content to a remote path with the given mode.
	Upload(ctx context.Context, content io.Reader, remotePath string, mode os.FileMode) error

	// Close releases the connection.
	Close() error
}

// Dialer opens Connections to inventory hosts.
type Dialer interface {
	Dial(ctx context.Context, host *inventory.Host) (Connection, error)
}

// TransportError wraps transport-level failures with operation context.
type TransportError struct {
	// Op is the operation being performed (connect, execute, upload).
	Op string

	// Host is the host the operation targeted.
	Host string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates the failure may succeed on retry.
	IsTemporary bool

	// IsAuthError indicates an authentication or authorization failure.
	IsAuthError bool
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("transport %s failed for %s: %v", e.Op, e.Host, e.Err)
	}
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}
