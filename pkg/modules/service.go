package modules

import (
	"context"
	"fmt"
	"strings"
)

// ServiceModule drives systemd units: started, stopped, restarted,
// reloaded, with optional enablement at boot. Restarted and reloaded
// are action states and never report satisfied at check time.
type ServiceModule struct{}

type serviceParams struct {
	Name    string `param:"name"`
	State   string `param:"state"`
	Enabled *bool  `param:"enabled"`
}

// Kind implements the Module interface.
func (m *ServiceModule) Kind() string { return "service" }

// Imperative implements the Module interface.
func (m *ServiceModule) Imperative() bool { return false }

func (m *ServiceModule) params(raw map[string]interface{}) (*serviceParams, error) {
	p := &serviceParams{}
	if err := decodeParams(raw, p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, fmt.Errorf("service name is required")
	}
	switch p.State {
	case "":
		p.State = "started"
	case "running":
		p.State = "started"
	case "started", "stopped", "restarted", "reloaded":
	default:
		return nil, fmt.Errorf("invalid service state: %s", p.State)
	}
	return p, nil
}

// Check implements the Module interface.
func (m *ServiceModule) Check(ctx context.Context, mc *Context, raw map[string]interface{}) (Status, error) {
	p, err := m.params(raw)
	if err != nil {
		return Status{}, err
	}

	switch p.State {
	case "restarted", "reloaded":
		return Status{Detail: p.Name + " pending " + p.State}, nil
	}

	active, err := m.isActive(ctx, mc, p.Name)
	if err != nil {
		return Status{}, err
	}

	wantActive := p.State == "started"
	if active != wantActive {
		return Status{Detail: fmt.Sprintf("%s active=%t, want %s", p.Name, active, p.State)}, nil
	}

	if p.Enabled != nil {
		enabled, err := m.isEnabled(ctx, mc, p.Name)
		if err != nil {
			return Status{}, err
		}
		if enabled != *p.Enabled {
			return Status{Detail: fmt.Sprintf("%s enabled=%t, want %t", p.Name, enabled, *p.Enabled)}, nil
		}
	}
	return Status{Satisfied: true, Detail: p.Name + " in desired state"}, nil
}

// Apply implements the Module interface.
func (m *ServiceModule) Apply(ctx context.Context, mc *Context, raw map[string]interface{}) (Result, error) {
	p, err := m.params(raw)
	if err != nil {
		return Result{}, err
	}

	changed := false
	var actions []string

	switch p.State {
	case "restarted":
		if err := m.systemctl(ctx, mc, "restart", p.Name); err != nil {
			return Result{}, err
		}
		changed = true
		actions = append(actions, "restarted")

	case "reloaded":
		if err := m.systemctl(ctx, mc, "reload", p.Name); err != nil {
			return Result{}, err
		}
		changed = true
		actions = append(actions, "reloaded")

	default:
		active, err := m.isActive(ctx, mc, p.Name)
		if err != nil {
			return Result{}, err
		}
		wantActive := p.State == "started"
		if active != wantActive {
			verb := "start"
			if !wantActive {
				verb = "stop"
			}
			if err := m.systemctl(ctx, mc, verb, p.Name); err != nil {
				return Result{}, err
			}
			changed = true
			actions = append(actions, verb+"ed")
		}
	}

	if p.Enabled != nil {
		enabled, err := m.isEnabled(ctx, mc, p.Name)
		if err != nil {
			return Result{}, err
		}
		if enabled != *p.Enabled {
			verb := "enable"
			if !*p.Enabled {
				verb = "disable"
			}
			if err := m.systemctl(ctx, mc, verb, p.Name); err != nil {
				return Result{}, err
			}
			changed = true
			actions = append(actions, verb+"d")
		}
	}

	if !changed {
		return Result{Msg: p.Name + " already in desired state"}, nil
	}
	return Result{Changed: true, Msg: p.Name + " " + strings.Join(actions, ", ")}, nil
}

func (m *ServiceModule) isActive(ctx context.Context, mc *Context, name string) (bool, error) {
	res, err := runUnprivileged(ctx, mc, "systemctl is-active "+shellWord(name))
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (m *ServiceModule) isEnabled(ctx context.Context, mc *Context, name string) (bool, error) {
	res, err := runUnprivileged(ctx, mc, "systemctl is-enabled "+shellWord(name))
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (m *ServiceModule) systemctl(ctx context.Context, mc *Context, verb, name string) error {
	res, err := run(ctx, mc, fmt.Sprintf("systemctl %s %s", verb, shellWord(name)))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("systemctl %s %s failed: %s", verb, name, res.Stderr)
	}
	return nil
}
