package modules

import (
	"context"
	"fmt"
	"strings"
)

// GitModule keeps a working copy checked out at the tip of a remote
// ref. Desired state holds when the local HEAD matches the remote
// commit for the requested ref.
type GitModule struct{}

type gitParams struct {
	Repo    string `param:"repo"`
	Dest    string `param:"dest"`
	Version string `param:"version"`
	Depth   int    `param:"depth"`
}

// Kind implements the Module interface.
func (m *GitModule) Kind() string { return "git" }

// Imperative implements the Module interface.
func (m *GitModule) Imperative() bool { return false }

func (m *GitModule) params(raw map[string]interface{}) (*gitParams, error) {
	p := &gitParams{}
	if err := decodeParams(raw, p); err != nil {
		return nil, err
	}
	if p.Repo == "" || p.Dest == "" {
		return nil, fmt.Errorf("git repo and dest are required")
	}
	if p.Version == "" {
		p.Version = "HEAD"
	}
	return p, nil
}

// Check implements the Module interface.
func (m *GitModule) Check(ctx context.Context, mc *Context, raw map[string]interface{}) (Status, error) {
	p, err := m.params(raw)
	if err != nil {
		return Status{}, err
	}

	local, err := m.localHead(ctx, mc, p.Dest)
	if err != nil {
		return Status{}, err
	}
	if local == "" {
		return Status{Detail: p.Dest + " not a checkout"}, nil
	}

	remote, err := m.remoteCommit(ctx, mc, p.Repo, p.Version)
	if err != nil {
		return Status{}, err
	}
	if remote != "" && remote == local {
		return Status{Satisfied: true, Detail: fmt.Sprintf("%s at %s", p.Dest, local[:12])}, nil
	}
	return Status{Detail: fmt.Sprintf("%s at %s, remote %s", p.Dest, short(local), short(remote))}, nil
}

// Apply implements the Module interface.
func (m *GitModule) Apply(ctx context.Context, mc *Context, raw map[string]interface{}) (Result, error) {
	p, err := m.params(raw)
	if err != nil {
		return Result{}, err
	}

	local, err := m.localHead(ctx, mc, p.Dest)
	if err != nil {
		return Result{}, err
	}

	if local == "" {
		cmd := "git clone"
		if p.Depth > 0 {
			cmd += fmt.Sprintf(" --depth %d", p.Depth)
		}
		if p.Version != "HEAD" {
			cmd += " --branch " + shellWord(p.Version)
		}
		cmd += fmt.Sprintf(" %s %s", shellWord(p.Repo), shellWord(p.Dest))
		if err := m.must(ctx, mc, cmd); err != nil {
			return Result{}, err
		}
		return Result{Changed: true, Msg: "cloned " + p.Repo}, nil
	}

	remote, err := m.remoteCommit(ctx, mc, p.Repo, p.Version)
	if err != nil {
		return Result{}, err
	}
	if remote != "" && remote == local {
		return Result{Msg: p.Dest + " already up to date"}, nil
	}

	fetch := fmt.Sprintf("git -C %s fetch origin", shellWord(p.Dest))
	if err := m.must(ctx, mc, fetch); err != nil {
		return Result{}, err
	}
	target := "origin/" + p.Version
	if p.Version == "HEAD" {
		target = "origin/HEAD"
	}
	if err := m.must(ctx, mc, fmt.Sprintf("git -C %s reset --hard %s", shellWord(p.Dest), shellWord(target))); err != nil {
		return Result{}, err
	}
	return Result{Changed: true, Msg: fmt.Sprintf("updated %s %s -> %s", p.Dest, short(local), short(remote))}, nil
}

// localHead returns the checkout's HEAD commit, or empty when dest is
// not a git working copy.
func (m *GitModule) localHead(ctx context.Context, mc *Context, dest string) (string, error) {
	res, err := runUnprivileged(ctx, mc, fmt.Sprintf("git -C %s rev-parse HEAD", shellWord(dest)))
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", nil
	}
	return strings.TrimSpace(res.Stdout), nil
}

// remoteCommit resolves the ref's commit on the remote without
// touching the working copy.
func (m *GitModule) remoteCommit(ctx context.Context, mc *Context, repo, version string) (string, error) {
	res, err := runUnprivileged(ctx, mc, fmt.Sprintf("git ls-remote %s %s", shellWord(repo), shellWord(version)))
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("git ls-remote failed: %s", strings.TrimSpace(res.Stderr))
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}

func (m *GitModule) must(ctx context.Context, mc *Context, cmd string) error {
	res, err := run(ctx, mc, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("command %q failed: %s", cmd, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func short(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	if commit == "" {
		return "unknown"
	}
	return commit
}
