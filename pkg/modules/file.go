package modules

import (
	"context"
	"fmt"
	"strings"
)

// FileModule asserts filesystem state: a path is a directory, exists as
// an empty file, or is absent, with optional mode and ownership.
type FileModule struct{}

type fileParams struct {
	Path  string `param:"path"`
	State string `param:"state"`
	Mode  string `param:"mode"`
	Owner string `param:"owner"`
	Group string `param:"group"`
}

// Kind implements the Module interface.
func (m *FileModule) Kind() string { return "file" }

// Imperative implements the Module interface.
func (m *FileModule) Imperative() bool { return false }

func (m *FileModule) params(raw map[string]interface{}) (*fileParams, error) {
	p := &fileParams{}
	if err := decodeParams(raw, p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	switch p.State {
	case "":
		p.State = "touch"
	case "directory", "touch", "absent":
	default:
		return nil, fmt.Errorf("invalid file state: %s", p.State)
	}
	return p, nil
}

// Check implements the Module interface.
func (m *FileModule) Check(ctx context.Context, mc *Context, raw map[string]interface{}) (Status, error) {
	p, err := m.params(raw)
	if err != nil {
		return Status{}, err
	}

	kind, err := m.pathKind(ctx, mc, p.Path)
	if err != nil {
		return Status{}, err
	}

	switch p.State {
	case "absent":
		if kind == "missing" {
			return Status{Satisfied: true, Detail: p.Path + " absent"}, nil
		}
		return Status{Detail: p.Path + " exists"}, nil

	case "directory":
		if kind != "directory" {
			return Status{Detail: fmt.Sprintf("%s is %s, want directory", p.Path, kind)}, nil
		}

	default: // touch
		if kind != "file" {
			return Status{Detail: fmt.Sprintf("%s is %s, want file", p.Path, kind)}, nil
		}
	}

	ok, detail, err := m.attrsMatch(ctx, mc, p)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{Detail: detail}, nil
	}
	return Status{Satisfied: true, Detail: p.Path + " in desired state"}, nil
}

// Apply implements the Module interface.
func (m *FileModule) Apply(ctx context.Context, mc *Context, raw map[string]interface{}) (Result, error) {
	p, err := m.params(raw)
	if err != nil {
		return Result{}, err
	}

	kind, err := m.pathKind(ctx, mc, p.Path)
	if err != nil {
		return Result{}, err
	}

	changed := false
	switch p.State {
	case "absent":
		if kind == "missing" {
			return Result{Msg: p.Path + " already absent"}, nil
		}
		if err := m.must(ctx, mc, "rm -rf "+shellWord(p.Path)); err != nil {
			return Result{}, err
		}
		return Result{Changed: true, Msg: "removed " + p.Path}, nil

	case "directory":
		if kind != "directory" {
			if kind != "missing" {
				if err := m.must(ctx, mc, "rm -f "+shellWord(p.Path)); err != nil {
					return Result{}, err
				}
			}
			if err := m.must(ctx, mc, "mkdir -p "+shellWord(p.Path)); err != nil {
				return Result{}, err
			}
			changed = true
		}

	default: // touch
		if kind != "file" {
			if err := m.must(ctx, mc, "touch "+shellWord(p.Path)); err != nil {
				return Result{}, err
			}
			changed = true
		}
	}

	attrsChanged, err := m.applyAttrs(ctx, mc, p)
	if err != nil {
		return Result{}, err
	}
	changed = changed || attrsChanged

	if !changed {
		return Result{Msg: p.Path + " already in desired state"}, nil
	}
	return Result{Changed: true, Msg: "updated " + p.Path}, nil
}

// pathKind probes what the path currently is: file, directory, other
// or missing.
func (m *FileModule) pathKind(ctx context.Context, mc *Context, path string) (string, error) {
	res, err := runUnprivileged(ctx, mc, fmt.Sprintf(
		"if [ -d %[1]s ]; then echo directory; elif [ -f %[1]s ]; then echo file; elif [ -e %[1]s ]; then echo other; else echo missing; fi",
		shellWord(path)))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// attrsMatch probes mode and ownership against the desired params.
func (m *FileModule) attrsMatch(ctx context.Context, mc *Context, p *fileParams) (bool, string, error) {
	if p.Mode == "" && p.Owner == "" && p.Group == "" {
		return true, "", nil
	}

	res, err := runUnprivileged(ctx, mc, "stat -c '%a %U %G' "+shellWord(p.Path))
	if err != nil {
		return false, "", err
	}
	if res.ExitCode != 0 {
		return false, "cannot stat " + p.Path, nil
	}

	fields := strings.Fields(strings.TrimSpace(res.Stdout))
	if len(fields) != 3 {
		return false, "unexpected stat output for " + p.Path, nil
	}
	if p.Mode != "" && strings.TrimLeft(p.Mode, "0") != strings.TrimLeft(fields[0], "0") {
		return false, fmt.Sprintf("%s mode %s, want %s", p.Path, fields[0], p.Mode), nil
	}
	if p.Owner != "" && p.Owner != fields[1] {
		return false, fmt.Sprintf("%s owned by %s, want %s", p.Path, fields[1], p.Owner), nil
	}
	if p.Group != "" && p.Group != fields[2] {
		return false, fmt.Sprintf("%s group %s, want %s", p.Path, fields[2], p.Group), nil
	}
	return true, "", nil
}

// applyAttrs enforces mode and ownership, reporting whether anything
// had to change.
func (m *FileModule) applyAttrs(ctx context.Context, mc *Context, p *fileParams) (bool, error) {
	ok, _, err := m.attrsMatch(ctx, mc, p)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}

	if p.Mode != "" {
		if err := m.must(ctx, mc, fmt.Sprintf("chmod %s %s", p.Mode, shellWord(p.Path))); err != nil {
			return false, err
		}
	}
	if p.Owner != "" || p.Group != "" {
		spec := p.Owner
		if p.Group != "" {
			spec += ":" + p.Group
		}
		if err := m.must(ctx, mc, fmt.Sprintf("chown %s %s", spec, shellWord(p.Path))); err != nil {
			return false, err
		}
	}
	return true, nil
}

// must runs a mutating command and converts a non-zero exit into an error.
func (m *FileModule) must(ctx context.Context, mc *Context, cmd string) error {
	res, err := run(ctx, mc, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("command %q failed: %s", cmd, res.Stderr)
	}
	return nil
}

// shellWord single-quotes a value for safe interpolation into sh -c
// command lines.
func shellWord(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
