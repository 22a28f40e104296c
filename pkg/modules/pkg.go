package modules

import (
	"context"
	"fmt"
	"strings"
)

// PackageModule ensures an OS package is present, absent or at the
// latest available version. The package manager is detected on the
// target host unless pinned in params.
type PackageModule struct{}

type packageParams struct {
	Name    string `param:"name"`
	State   string `param:"state"`
	Version string `param:"version"`
	Manager string `param:"manager"`
}

// Kind implements the Module interface.
func (m *PackageModule) Kind() string { return "pkg" }

// Imperative implements the Module interface.
func (m *PackageModule) Imperative() bool { return false }

func (m *PackageModule) params(raw map[string]interface{}) (*packageParams, error) {
	p := &packageParams{}
	if err := decodeParams(raw, p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, fmt.Errorf("package name is required")
	}
	switch p.State {
	case "":
		p.State = "present"
	case "present", "absent", "latest":
	default:
		return nil, fmt.Errorf("invalid package state: %s", p.State)
	}
	return p, nil
}

// Check implements the Module interface.
func (m *PackageModule) Check(ctx context.Context, mc *Context, raw map[string]interface{}) (Status, error) {
	p, err := m.params(raw)
	if err != nil {
		return Status{}, err
	}

	manager, err := m.manager(ctx, mc, p)
	if err != nil {
		return Status{}, err
	}

	installed, version, err := m.installed(ctx, mc, manager, p.Name)
	if err != nil {
		return Status{}, err
	}

	switch p.State {
	case "present":
		if installed && (p.Version == "" || p.Version == version) {
			return Status{Satisfied: true, Detail: fmt.Sprintf("%s %s installed", p.Name, version)}, nil
		}
		return Status{Detail: fmt.Sprintf("%s not installed", p.Name)}, nil
	case "absent":
		if !installed {
			return Status{Satisfied: true, Detail: fmt.Sprintf("%s not installed", p.Name)}, nil
		}
		return Status{Detail: fmt.Sprintf("%s %s installed", p.Name, version)}, nil
	default: // latest: cannot tell without applying; never satisfied
		return Status{Detail: fmt.Sprintf("%s at %s, upgrade pending", p.Name, version)}, nil
	}
}

// Apply implements the Module interface.
func (m *PackageModule) Apply(ctx context.Context, mc *Context, raw map[string]interface{}) (Result, error) {
	p, err := m.params(raw)
	if err != nil {
		return Result{}, err
	}

	manager, err := m.manager(ctx, mc, p)
	if err != nil {
		return Result{}, err
	}

	installed, before, err := m.installed(ctx, mc, manager, p.Name)
	if err != nil {
		return Result{}, err
	}

	switch p.State {
	case "present":
		if installed && (p.Version == "" || p.Version == before) {
			return Result{Msg: fmt.Sprintf("%s already present", p.Name)}, nil
		}
		if err := m.install(ctx, mc, manager, p.Name, p.Version); err != nil {
			return Result{}, err
		}
		return Result{Changed: true, Msg: fmt.Sprintf("installed %s", p.Name)}, nil

	case "absent":
		if !installed {
			return Result{Msg: fmt.Sprintf("%s already absent", p.Name)}, nil
		}
		if err := m.remove(ctx, mc, manager, p.Name); err != nil {
			return Result{}, err
		}
		return Result{Changed: true, Msg: fmt.Sprintf("removed %s", p.Name)}, nil

	default: // latest
		if !installed {
			if err := m.install(ctx, mc, manager, p.Name, ""); err != nil {
				return Result{}, err
			}
			return Result{Changed: true, Msg: fmt.Sprintf("installed %s", p.Name)}, nil
		}
		if err := m.upgrade(ctx, mc, manager, p.Name); err != nil {
			return Result{}, err
		}
		_, after, err := m.installed(ctx, mc, manager, p.Name)
		if err != nil {
			return Result{}, err
		}
		if after == before {
			return Result{Msg: fmt.Sprintf("%s already latest (%s)", p.Name, before)}, nil
		}
		return Result{Changed: true, Msg: fmt.Sprintf("upgraded %s %s -> %s", p.Name, before, after)}, nil
	}
}

// manager returns the package manager to use, probing the host when
// not pinned in params.
func (m *PackageModule) manager(ctx context.Context, mc *Context, p *packageParams) (string, error) {
	if p.Manager != "" {
		switch p.Manager {
		case "apt", "dnf", "yum":
			return p.Manager, nil
		default:
			return "", fmt.Errorf("unsupported package manager: %s", p.Manager)
		}
	}

	for _, candidate := range []string{"apt-get", "dnf", "yum"} {
		res, err := runUnprivileged(ctx, mc, "command -v "+candidate)
		if err != nil {
			return "", err
		}
		if res.ExitCode == 0 {
			if candidate == "apt-get" {
				return "apt", nil
			}
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found")
}

// installed probes whether the package is installed and at what version.
func (m *PackageModule) installed(ctx context.Context, mc *Context, manager, name string) (bool, string, error) {
	var cmd string
	switch manager {
	case "apt":
		cmd = fmt.Sprintf("dpkg-query -W -f='${Version}' %s", name)
	default:
		cmd = fmt.Sprintf("rpm -q --queryformat '%%{VERSION}-%%{RELEASE}' %s", name)
	}

	res, err := runUnprivileged(ctx, mc, cmd)
	if err != nil {
		return false, "", err
	}
	if res.ExitCode != 0 {
		return false, "", nil
	}
	return true, strings.TrimSpace(res.Stdout), nil
}

func (m *PackageModule) install(ctx context.Context, mc *Context, manager, name, version string) error {
	spec := name
	if version != "" {
		switch manager {
		case "apt":
			spec = fmt.Sprintf("%s=%s", name, version)
		default:
			spec = fmt.Sprintf("%s-%s", name, version)
		}
	}

	var cmd string
	switch manager {
	case "apt":
		cmd = fmt.Sprintf("DEBIAN_FRONTEND=noninteractive apt-get install -y %s", spec)
	default:
		cmd = fmt.Sprintf("%s install -y %s", manager, spec)
	}

	res, err := run(ctx, mc, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to install %s: %s", name, res.Stderr)
	}
	return nil
}

func (m *PackageModule) remove(ctx context.Context, mc *Context, manager, name string) error {
	var cmd string
	switch manager {
	case "apt":
		cmd = fmt.Sprintf("DEBIAN_FRONTEND=noninteractive apt-get remove -y %s", name)
	default:
		cmd = fmt.Sprintf("%s remove -y %s", manager, name)
	}

	res, err := run(ctx, mc, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to remove %s: %s", name, res.Stderr)
	}
	return nil
}

func (m *PackageModule) upgrade(ctx context.Context, mc *Context, manager, name string) error {
	var cmd string
	switch manager {
	case "apt":
		cmd = fmt.Sprintf("DEBIAN_FRONTEND=noninteractive apt-get install -y --only-upgrade %s", name)
	default:
		cmd = fmt.Sprintf("%s upgrade -y %s", manager, name)
	}

	res, err := run(ctx, mc, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to upgrade %s: %s", name, res.Stderr)
	}
	return nil
}
