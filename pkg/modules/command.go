package modules

import (
	"context"
	"fmt"
	"strings"
)

// CommandModule runs a raw command on the host. It is imperative: no
// desired state is probed, a successful run always reports changed.
// The optional creates param restores a measure of idempotence by
// skipping the command when the named path already exists.
type CommandModule struct{}

type commandParams struct {
	Cmd     string `param:"cmd"`
	Chdir   string `param:"chdir"`
	Creates string `param:"creates"`
}

// Kind implements the Module interface.
func (m *CommandModule) Kind() string { return "command" }

// Imperative implements the Module interface.
func (m *CommandModule) Imperative() bool { return true }

func (m *CommandModule) params(raw map[string]interface{}) (*commandParams, error) {
	p := &commandParams{}
	if err := decodeParams(raw, p); err != nil {
		return nil, err
	}
	if p.Cmd == "" {
		return nil, fmt.Errorf("command cmd is required")
	}
	return p, nil
}

// Check implements the Module interface. Without a creates guard the
// command is never satisfied and always runs.
func (m *CommandModule) Check(ctx context.Context, mc *Context, raw map[string]interface{}) (Status, error) {
	p, err := m.params(raw)
	if err != nil {
		return Status{}, err
	}
	if p.Creates == "" {
		return Status{Detail: "command always runs"}, nil
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
func (m *CommandModule) Apply(ctx context.Context, mc *Context, raw map[string]interface{}) (Result, error) {
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
		return Result{}, fmt.Errorf("command exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return Result{Changed: true, Msg: strings.TrimSpace(res.Stdout)}, nil
}
