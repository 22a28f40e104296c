// Package ssh implements the SSH transport. It adapts inventory host
// entries into authenticated connections and executes assertions over
// exec sessions and SFTP.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/furrow-sh/furrow/pkg/inventory"
	"github.com/furrow-sh/furrow/pkg/transports"
)

// Dialer opens SSH connections for inventory hosts. Connection options
// not present on the host entry fall back to the base config.
type Dialer struct {
	// Base provides defaults (known_hosts path, timeouts, key path)
	// merged under each host's own connection vars.
	Base *Config
}

// NewDialer creates an SSH dialer with the given base configuration.
func NewDialer(base *Config) *Dialer {
	if base == nil {
		base = DefaultConfig("", "")
	}
	return &Dialer{Base: base}
}

// Dial implements the transports.Dialer interface.
func (d *Dialer) Dial(ctx context.Context, host *inventory.Host) (transports.Connection, error) {
	cfg := d.configFor(host)
	if err := cfg.Validate(); err != nil {
		return nil, &transports.TransportError{
			Op:          "connect",
			Host:        host.Name,
			Err:         err,
			IsAuthError: true,
		}
	}

	clientConfig, err := cfg.BuildSSHClientConfig()
	if err != nil {
		return nil, &transports.TransportError{
			Op:          "connect",
			Host:        host.Name,
			Err:         err,
			IsAuthError: true,
		}
	}

	address := cfg.Address()
	log.Debug().Str("host", host.Name).Str("address", address).Msg("establishing SSH connection")

	// Dial in a goroutine so the context deadline is honored.
	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return nil, &transports.TransportError{
			Op:          "connect",
			Host:        host.Name,
			Err:         ctx.Err(),
			IsTemporary: true,
		}
	case err := <-errChan:
		return nil, &transports.TransportError{
			Op:          "connect",
			Host:        host.Name,
			Err:         err,
			IsTemporary: true,
		}
	case client := <-connChan:
		log.Info().Str("host", host.Name).Str("address", address).Msg("SSH connection established")
		return &Connection{
			hostName: host.Name,
			config:   cfg,
			client:   client,
		}, nil
	}
}

// configFor merges host connection vars over the dialer's base config.
func (d *Dialer) configFor(host *inventory.Host) *Config {
	cfg := *d.Base
	cfg.Host = host.Address
	if host.Port != 0 {
		cfg.Port = host.Port
	} else if cfg.Port == 0 {
		cfg.Port = 22
	}
	if host.User != "" {
		cfg.User = host.User
	}
	if host.Password != "" {
		cfg.Password = host.Password
		cfg.AuthMethod = AuthMethodPassword
	}
	if host.KeyPath != "" {
		cfg.PrivateKeyPath = host.KeyPath
		cfg.AuthMethod = AuthMethodKey
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = 30 * time.Second
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 5 * time.Minute
	}
	return &cfg
}

// Connection is an established SSH connection to one host.
type Connection struct {
	hostName string
	config   *Config

	mu     sync.Mutex
	client *ssh.Client
}

// Run executes a command on the remote host.
func (c *Connection) Run(ctx context.Context, cmd string, opts transports.ExecOptions) (transports.ExecResult, error) {
	client, err := c.getClient()
	if err != nil {
		return transports.ExecResult{ExitCode: -1}, err
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.config.CommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := client.NewSession()
	if err != nil {
		return transports.ExecResult{ExitCode: -1}, &transports.TransportError{
			Op:          "execute",
			Host:        c.hostName,
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	finalCmd := cmd
	if opts.Sudo {
		switch {
		case opts.SudoUser != "":
			finalCmd = fmt.Sprintf("sudo -u %s sh -c %s", opts.SudoUser, quote(cmd))
		default:
			finalCmd = fmt.Sprintf("sudo sh -c %s", quote(cmd))
		}
	}

	log.Debug().Str("host", c.hostName).Str("command", cmd).Bool("sudo", opts.Sudo).Msg("executing command")

	start := time.Now()
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(finalCmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	result := transports.ExecResult{
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
		Duration: time.Since(start),
	}

	if execErr != nil {
		if exitErr, ok := execErr.(*ssh.ExitError); ok {
			// Command ran but returned non-zero; not a transport failure.
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		result.ExitCode = -1
		return result, &transports.TransportError{
			Op:          "execute",
			Host:        c.hostName,
			Err:         execErr,
			IsTemporary: true,
		}
	}

	return result, nil
}

// Upload writes content to a remote path via SFTP.
func (c *Connection) Upload(ctx context.Context, content io.Reader, remotePath string, mode os.FileMode) error {
	client, err := c.getClient()
	if err != nil {
		return err
	}

	log.Debug().Str("host", c.hostName).Str("remote", remotePath).Msg("uploading file")

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return &transports.TransportError{
			Op:          "upload",
			Host:        c.hostName,
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return &transports.TransportError{
			Op:   "upload",
			Host: c.hostName,
			Err:  fmt.Errorf("failed to create remote file: %w", err),
		}
	}
	defer remoteFile.Close()

	if _, err := io.Copy(remoteFile, content); err != nil {
		return &transports.TransportError{
			Op:          "upload",
			Host:        c.hostName,
			Err:         fmt.Errorf("failed to write remote file: %w", err),
			IsTemporary: true,
		}
	}

	if err := sftpClient.Chmod(remotePath, mode); err != nil {
		return &transports.TransportError{
			Op:   "upload",
			Host: c.hostName,
			Err:  fmt.Errorf("failed to set mode: %w", err),
		}
	}

	return nil
}

// Close closes the SSH connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	log.Debug().Str("host", c.hostName).Msg("closing SSH connection")
	err := c.client.Close()
	c.client = nil
	if err != nil {
		return &transports.TransportError{
			Op:   "disconnect",
			Host: c.hostName,
			Err:  err,
		}
	}
	return nil
}

// getClient returns the underlying SSH client.
func (c *Connection) getClient() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, &transports.TransportError{
			Op:   "execute",
			Host: c.hostName,
			Err:  fmt.Errorf("not connected"),
		}
	}
	return c.client, nil
}

// quote wraps a string in single quotes for shell embedding.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
