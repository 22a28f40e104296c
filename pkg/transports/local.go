package transports

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/furrow-sh/furrow/pkg/inventory"
)

// LocalDialer produces connections that run on the current machine.
// Used by `furrow exec` against localhost and by tests.
type LocalDialer struct{}

// Dial implements the Dialer interface.
func (d *LocalDialer) Dial(_ context.Context, host *inventory.Host) (Connection, error) {
	return &LocalConnection{host: host}, nil
}

// LocalConnection executes commands via the local shell.
type LocalConnection struct {
	host *inventory.Host
}

// Run executes a command locally through sh -c.
func (c *LocalConnection) Run(ctx context.Context, cmd string, opts ExecOptions) (ExecResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	finalCmd := cmd
	if opts.Sudo {
		if opts.SudoUser != "" {
			finalCmd = "sudo -u " + opts.SudoUser + " sh -c " + shellQuote(cmd)
		} else {
			finalCmd = "sudo sh -c " + shellQuote(cmd)
		}
	}

	start := time.Now()
	execCmd := exec.CommandContext(ctx, "sh", "-c", finalCmd)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	result := ExecResult{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		hostName := "localhost"
		if c.host != nil {
			hostName = c.host.Name
		}
		return result, &TransportError{
			Op:          "execute",
			Host:        hostName,
			Err:         err,
			IsTemporary: ctx.Err() != nil,
		}
	}

	return result, nil
}

// Upload writes content to a local path.
func (c *LocalConnection) Upload(_ context.Context, content io.Reader, path string, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	defer f.Close()

	if _, err := io.Copy(f, content); err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	return nil
}

// Close is a no-op for local connections.
func (c *LocalConnection) Close() error {
	return nil
}

// shellQuote wraps a string in single quotes, escaping embedded quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
