package modules

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// CopyModule places a file at a destination path with the given
// content. Desired state is reached when the destination's SHA-256
// digest matches the source content.
type CopyModule struct{}

type copyParams struct {
	Src     string `param:"src"`
	Content string `param:"content"`
	Dest    string `param:"dest"`
	Mode    string `param:"mode"`
	Owner   string `param:"owner"`
	Group   string `param:"group"`
}

// Kind implements the Module interface.
func (m *CopyModule) Kind() string { return "copy" }

// Imperative implements the Module interface.
func (m *CopyModule) Imperative() bool { return false }

func (m *CopyModule) params(raw map[string]interface{}) (*copyParams, []byte, error) {
	p := &copyParams{}
	if err := decodeParams(raw, p); err != nil {
		return nil, nil, err
	}
	if p.Dest == "" {
		return nil, nil, fmt.Errorf("copy dest is required")
	}
	if (p.Src == "") == (p.Content == "") {
		return nil, nil, fmt.Errorf("copy requires exactly one of src or content")
	}

	content := []byte(p.Content)
	if p.Src != "" {
		data, err := os.ReadFile(p.Src)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot read src %s: %w", p.Src, err)
		}
		content = data
	}
	return p, content, nil
}

// Check implements the Module interface.
func (m *CopyModule) Check(ctx context.Context, mc *Context, raw map[string]interface{}) (Status, error) {
	p, content, err := m.params(raw)
	if err != nil {
		return Status{}, err
	}
	return contentStatus(ctx, mc, p.Dest, content)
}

// Apply implements the Module interface.
func (m *CopyModule) Apply(ctx context.Context, mc *Context, raw map[string]interface{}) (Result, error) {
	p, content, err := m.params(raw)
	if err != nil {
		return Result{}, err
	}

	status, err := contentStatus(ctx, mc, p.Dest, content)
	if err != nil {
		return Result{}, err
	}
	if status.Satisfied {
		return Result{Msg: p.Dest + " already up to date"}, nil
	}

	if err := placeFile(ctx, mc, p.Dest, content, p.Mode, p.Owner, p.Group); err != nil {
		return Result{}, err
	}
	return Result{Changed: true, Msg: "wrote " + p.Dest}, nil
}

// contentStatus compares the destination's digest with the desired
// content's digest.
func contentStatus(ctx context.Context, mc *Context, dest string, content []byte) (Status, error) {
	want := sha256.Sum256(content)
	wantHex := hex.EncodeToString(want[:])

	res, err := runUnprivileged(ctx, mc, "sha256sum "+shellWord(dest))
	if err != nil {
		return Status{}, err
	}
	if res.ExitCode != 0 {
		return Status{Detail: dest + " missing"}, nil
	}

	fields := strings.Fields(res.Stdout)
	if len(fields) > 0 && fields[0] == wantHex {
		return Status{Satisfied: true, Detail: dest + " up to date"}, nil
	}
	return Status{Detail: dest + " content differs"}, nil
}

// placeFile uploads content to a staging path and moves it into place,
// so privileged destinations work when the transport authenticates as
// an unprivileged user.
func placeFile(ctx context.Context, mc *Context, dest string, content []byte, mode, owner, group string) error {
	staging := fmt.Sprintf("/tmp/.furrow-%s", uuid.New().String())
	if err := mc.Conn.Upload(ctx, bytes.NewReader(content), staging, 0600); err != nil {
		return err
	}

	mustRun := func(cmd string) error {
		res, err := run(ctx, mc, cmd)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("command %q failed: %s", cmd, res.Stderr)
		}
		return nil
	}

	if err := mustRun(fmt.Sprintf("mv %s %s", shellWord(staging), shellWord(dest))); err != nil {
		// Clean up the staging file; the run already failed.
		_, _ = runUnprivileged(ctx, mc, "rm -f "+shellWord(staging))
		return err
	}

	if mode == "" {
		mode = "0644"
	}
	if err := mustRun(fmt.Sprintf("chmod %s %s", mode, shellWord(dest))); err != nil {
		return err
	}
	if owner != "" || group != "" {
		spec := owner
		if group != "" {
			spec += ":" + group
		}
		if err := mustRun(fmt.Sprintf("chown %s %s", spec, shellWord(dest))); err != nil {
			return err
		}
	}
	return nil
}
