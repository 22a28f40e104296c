package modules

import (
	"context"
	"fmt"
	"strings"
)

// ShellModule runs a command through the remote shell, so pipes,
// redirection and variable expansion work. Like command it is
// imperative and always reports changed on success.
type ShellModule struct{}

type shellParams struct {
	Cmd     string `param:"cmd"`
	Chdir   string `param:"chdir"`
	Creates string `param:"creates"`
}

// Kind implements the Module interface.
func (m *ShellModule) Kind() string { return "shell" }

// Imperative implements the Module interface.
func (m *ShellModule) Imperative() bool { return true }

func (m *ShellModule) params(raw map[string]interface{}) (*shellParams, error) {
	p := &shellParams{}
	if err := decodeParams(raw, p); err != nil {
		return nil, err
	}
	if p.Cmd == "" {
		return nil, fmt.Errorf("shell cmd is required")
	}
	return p, nil
}

// Check implements the Module interface.
func (m *ShellModule) Check(ctx context.Context, mc *Context, raw map[string]interface{}) (Status, error) {
	p, err := m.params(raw)
	if err != nil {
		return Status{}, err
	}
	if p.Creates == "" {
		return Status{Detail: "shell always runs"}, nil
	}

	res, err := runUnprivileged(ctx, mc, "test -e "+shellWord(p.Creates))
	if err != nil {
		return Status{}, err
	}
	if res.ExitCode == 0 {
		return Status{Satisfied: true, Detail: p.Creates + " exists, skipping"}, nil
	}
	return Status{Detail: p.Creates + " missing"}, nil
}

// Apply implements the Module interface.
func (m *ShellModule) Apply(ctx context.Context, mc *Context, raw map[string]interface{}) (Result, error) {
	p, err := m.params(raw)
	if err != nil {
		return Result{}, err
	}

	cmd := p.Cmd
	if p.Chdir != "" {
		cmd = fmt.Sprintf("cd %s && %s", shellWord(p.Chdir), cmd)
	}

	res, err := run(ctx, mc, cmd)
	if err != nil {
		return Result{}, err
	}
	if res.ExitCode != 0 {
		return Result{}, fmt.Errorf("shell exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return Result{Changed: true, Msg: strings.TrimSpace(res.Stdout)}, nil
}
