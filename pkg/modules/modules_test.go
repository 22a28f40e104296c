package modules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/furrow-sh/furrow/pkg/transports"
)

// fakeConn scripts command responses by substring match and records
// everything that ran. Commands with no matching rule exit 0 with no
// output.
type fakeConn struct {
	rules    []fakeRule
	ran      []string
	uploads  map[string][]byte
	uploaded []string
}

type fakeRule struct {
	match  string
	result transports.ExecResult
	err    error
}

func newFakeConn(rules ...fakeRule) *fakeConn {
	return &fakeConn{rules: rules, uploads: make(map[string][]byte)}
}

func (c *fakeConn) Run(_ context.Context, cmd string, _ transports.ExecOptions) (transports.ExecResult, error) {
	c.ran = append(c.ran, cmd)
	for _, r := range c.rules {
		if strings.Contains(cmd, r.match) {
			return r.result, r.err
		}
	}
	return transports.ExecResult{ExitCode: 0}, nil
}

func (c *fakeConn) Upload(_ context.Context, content io.Reader, remotePath string, _ os.FileMode) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	c.uploads[remotePath] = data
	c.uploaded = append(c.uploaded, remotePath)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) ranMatching(substr string) bool {
	for _, cmd := range c.ran {
		if strings.Contains(cmd, substr) {
			return true
		}
	}
	return false
}

func moduleContext(conn *fakeConn) *Context {
	return &Context{Conn: conn, Vars: map[string]string{}}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestDefaultRegistry_Kinds(t *testing.T) {
	r := DefaultRegistry()

	want := []string{"command", "copy", "file", "git", "pkg", "service", "shell", "template"}
	got := r.Kinds()
	if len(got) != len(want) {
		t.Fatalf("Expected %d kinds, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected kind %q at %d, got %q", want[i], i, got[i])
		}
	}

	if _, err := r.Get("firewall"); err == nil {
		t.Error("Expected error for unknown kind")
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&PackageModule{}); err != nil {
		t.Fatalf("First register failed: %v", err)
	}
	if err := r.Register(&PackageModule{}); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}

func TestDecodeParams_UnknownKeyRejected(t *testing.T) {
	m := &PackageModule{}
	_, err := m.Check(context.Background(), moduleContext(newFakeConn()), map[string]interface{}{
		"name": "nginx",
		"stat": "present",
	})
	if err == nil || !strings.Contains(err.Error(), "invalid params") {
		t.Fatalf("Expected invalid params error, got %v", err)
	}
}

func TestPackage_CheckSatisfied(t *testing.T) {
	conn := newFakeConn(
		fakeRule{match: "command -v apt-get", result: transports.ExecResult{ExitCode: 0}},
		fakeRule{match: "dpkg-query", result: transports.ExecResult{ExitCode: 0, Stdout: "1.24.0-1"}},
	)

	status, err := (&PackageModule{}).Check(context.Background(), moduleContext(conn), map[string]interface{}{
		"name": "nginx",
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !status.Satisfied {
		t.Errorf("Expected satisfied, got %+v", status)
	}
}

func TestPackage_ApplyInstallsWhenMissing(t *testing.T) {
	conn := newFakeConn(
		fakeRule{match: "command -v apt-get", result: transports.ExecResult{ExitCode: 0}},
		fakeRule{match: "dpkg-query", result: transports.ExecResult{ExitCode: 1}},
		fakeRule{match: "apt-get install", result: transports.ExecResult{ExitCode: 0}},
	)

	result, err := (&PackageModule{}).Apply(context.Background(), moduleContext(conn), map[string]interface{}{
		"name": "nginx",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Changed {
		t.Error("Expected changed")
	}
	if !conn.ranMatching("apt-get install -y nginx") {
		t.Errorf("Expected install command, ran: %v", conn.ran)
	}
}

func TestPackage_LatestNeverSatisfiedAtCheck(t *testing.T) {
	conn := newFakeConn(
		fakeRule{match: "command -v apt-get", result: transports.ExecResult{ExitCode: 0}},
		fakeRule{match: "dpkg-query", result: transports.ExecResult{ExitCode: 0, Stdout: "1.24.0-1"}},
	)

	status, err := (&PackageModule{}).Check(context.Background(), moduleContext(conn), map[string]interface{}{
		"name":  "nginx",
		"state": "latest",
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if status.Satisfied {
		t.Error("latest must never report satisfied at check time")
	}
}

func TestPackage_LatestUnchangedWhenVersionStable(t *testing.T) {
	conn := newFakeConn(
		fakeRule{match: "command -v apt-get", result: transports.ExecResult{ExitCode: 0}},
		fakeRule{match: "dpkg-query", result: transports.ExecResult{ExitCode: 0, Stdout: "1.24.0-1"}},
		fakeRule{match: "--only-upgrade", result: transports.ExecResult{ExitCode: 0}},
	)

	result, err := (&PackageModule{}).Apply(context.Background(), moduleContext(conn), map[string]interface{}{
		"name":  "nginx",
		"state": "latest",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if result.Changed {
		t.Errorf("Expected unchanged when version did not move, got %+v", result)
	}
}

func TestFile_States(t *testing.T) {
	cases := []struct {
		name      string
		state     string
		kind      string
		satisfied bool
	}{
		{"directory exists", "directory", "directory", true},
		{"directory missing", "directory", "missing", false},
		{"file exists", "touch", "file", true},
		{"absent and missing", "absent", "missing", true},
		{"absent but present", "absent", "file", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := newFakeConn(
				fakeRule{match: "echo missing", result: transports.ExecResult{ExitCode: 0, Stdout: tc.kind}},
			)
			status, err := (&FileModule{}).Check(context.Background(), moduleContext(conn), map[string]interface{}{
				"path":  "/srv/data",
				"state": tc.state,
			})
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if status.Satisfied != tc.satisfied {
				t.Errorf("Expected satisfied=%t, got %+v", tc.satisfied, status)
			}
		})
	}
}

func TestFile_ApplyCreatesDirectory(t *testing.T) {
	conn := newFakeConn(
		fakeRule{match: "echo missing", result: transports.ExecResult{ExitCode: 0, Stdout: "missing"}},
	)

	result, err := (&FileModule{}).Apply(context.Background(), moduleContext(conn), map[string]interface{}{
		"path":  "/srv/data",
		"state": "directory",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Changed {
		t.Error("Expected changed")
	}
	if !conn.ranMatching("mkdir -p '/srv/data'") {
		t.Errorf("Expected mkdir, ran: %v", conn.ran)
	}
}

func TestCopy_CheckDigestMatch(t *testing.T) {
	content := "server_name example.com;\n"
	conn := newFakeConn(
		fakeRule{match: "sha256sum", result: transports.ExecResult{
			ExitCode: 0,
			Stdout:   sha256Hex(content) + "  /etc/nginx/conf.d/site.conf",
		}},
	)

	status, err := (&CopyModule{}).Check(context.Background(), moduleContext(conn), map[string]interface{}{
		"dest":    "/etc/nginx/conf.d/site.conf",
		"content": content,
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !status.Satisfied {
		t.Errorf("Expected digest match, got %+v", status)
	}
}

func TestCopy_ApplyStagesAndMoves(t *testing.T) {
	conn := newFakeConn(
		fakeRule{match: "sha256sum", result: transports.ExecResult{ExitCode: 1}},
	)

	result, err := (&CopyModule{}).Apply(context.Background(), moduleContext(conn), map[string]interface{}{
		"dest":    "/etc/motd",
		"content": "welcome\n",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Changed {
		t.Error("Expected changed")
	}
	if len(conn.uploaded) != 1 || !strings.HasPrefix(conn.uploaded[0], "/tmp/.furrow-") {
		t.Fatalf("Expected staging upload, got %v", conn.uploaded)
	}
	if string(conn.uploads[conn.uploaded[0]]) != "welcome\n" {
		t.Errorf("Uploaded wrong content: %q", conn.uploads[conn.uploaded[0]])
	}
	if !conn.ranMatching("mv '" + conn.uploaded[0] + "' '/etc/motd'") {
		t.Errorf("Expected mv into place, ran: %v", conn.ran)
	}
}

func TestCopy_SrcAndContentExclusive(t *testing.T) {
	_, err := (&CopyModule{}).Check(context.Background(), moduleContext(newFakeConn()), map[string]interface{}{
		"dest":    "/etc/motd",
		"src":     "motd.txt",
		"content": "welcome",
	})
	if err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Fatalf("Expected exclusivity error, got %v", err)
	}
}

func TestTemplate_RendersVars(t *testing.T) {
	rendered := "server_name example.com;"
	conn := newFakeConn(
		fakeRule{match: "sha256sum", result: transports.ExecResult{
			ExitCode: 0,
			Stdout:   sha256Hex(rendered) + "  /etc/nginx/site.conf",
		}},
	)
	mc := moduleContext(conn)
	mc.Vars["domain"] = "example.com"

	status, err := (&TemplateModule{}).Check(context.Background(), mc, map[string]interface{}{
		"dest":    "/etc/nginx/site.conf",
		"content": "server_name {{ .domain }};",
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !status.Satisfied {
		t.Errorf("Expected rendered output to match, got %+v", status)
	}
}

func TestTemplate_UndefinedVarFailsBeforeUpload(t *testing.T) {
	conn := newFakeConn()

	_, err := (&TemplateModule{}).Apply(context.Background(), moduleContext(conn), map[string]interface{}{
		"dest":    "/etc/nginx/site.conf",
		"content": "server_name {{ .domain }};",
	})
	if err == nil {
		t.Fatal("Expected render failure for undefined variable")
	}
	if len(conn.uploaded) != 0 {
		t.Errorf("Nothing should be uploaded on render failure, got %v", conn.uploaded)
	}
}

func TestTemplate_ParseErrorFailsBeforeUpload(t *testing.T) {
	conn := newFakeConn()

	_, err := (&TemplateModule{}).Apply(context.Background(), moduleContext(conn), map[string]interface{}{
		"dest":    "/etc/nginx/site.conf",
		"content": "server_name {{ .domain ;",
	})
	if err == nil {
		t.Fatal("Expected parse failure")
	}
	if len(conn.ran) != 0 || len(conn.uploaded) != 0 {
		t.Error("Host must not be touched when the template is malformed")
	}
}

func TestService_StartedSatisfiedWhenActive(t *testing.T) {
	conn := newFakeConn(
		fakeRule{match: "is-active", result: transports.ExecResult{ExitCode: 0, Stdout: "active"}},
	)

	status, err := (&ServiceModule{}).Check(context.Background(), moduleContext(conn), map[string]interface{}{
		"name":  "nginx",
		"state": "started",
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !status.Satisfied {
		t.Errorf("Expected satisfied, got %+v", status)
	}
}

func TestService_RestartedNeverSatisfied(t *testing.T) {
	conn := newFakeConn(
		fakeRule{match: "is-active", result: transports.ExecResult{ExitCode: 0}},
	)

	status, err := (&ServiceModule{}).Check(context.Background(), moduleContext(conn), map[string]interface{}{
		"name":  "nginx",
		"state": "restarted",
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if status.Satisfied {
		t.Error("restarted must never report satisfied")
	}

	result, err := (&ServiceModule{}).Apply(context.Background(), moduleContext(conn), map[string]interface{}{
		"name":  "nginx",
		"state": "restarted",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Changed {
		t.Error("restart must always report changed")
	}
	if !conn.ranMatching("systemctl restart 'nginx'") {
		t.Errorf("Expected restart command, ran: %v", conn.ran)
	}
}

func TestService_StartsStoppedService(t *testing.T) {
	conn := newFakeConn(
		fakeRule{match: "is-active", result: transports.ExecResult{ExitCode: 3, Stdout: "inactive"}},
		fakeRule{match: "systemctl start", result: transports.ExecResult{ExitCode: 0}},
	)

	result, err := (&ServiceModule{}).Apply(context.Background(), moduleContext(conn), map[string]interface{}{
		"name": "nginx",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Changed {
		t.Error("Expected changed")
	}
}

func TestCommand_ImperativeContract(t *testing.T) {
	m := &CommandModule{}
	if !m.Imperative() {
		t.Fatal("command must be imperative")
	}

	conn := newFakeConn(
		fakeRule{match: "migrate", result: transports.ExecResult{ExitCode: 0, Stdout: "done"}},
	)
	result, err := m.Apply(context.Background(), moduleContext(conn), map[string]interface{}{
		"cmd": "/opt/app/migrate",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Changed {
		t.Error("command success must always report changed")
	}
}

func TestCommand_CreatesGuard(t *testing.T) {
	conn := newFakeConn(
		fakeRule{match: "test -e", result: transports.ExecResult{ExitCode: 0}},
	)

	status, err := (&CommandModule{}).Check(context.Background(), moduleContext(conn), map[string]interface{}{
		"cmd":     "tar xzf /tmp/app.tgz -C /opt",
		"creates": "/opt/app",
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !status.Satisfied {
		t.Errorf("Expected creates guard to satisfy, got %+v", status)
	}
}

func TestCommand_NonZeroExitIsError(t *testing.T) {
	conn := newFakeConn(
		fakeRule{match: "false", result: transports.ExecResult{ExitCode: 1, Stderr: "boom"}},
	)

	_, err := (&CommandModule{}).Apply(context.Background(), moduleContext(conn), map[string]interface{}{
		"cmd": "false",
	})
	if err == nil || !strings.Contains(err.Error(), "exited 1") {
		t.Fatalf("Expected exit error, got %v", err)
	}
}

func TestShell_ChdirPrefix(t *testing.T) {
	conn := newFakeConn()

	_, err := (&ShellModule{}).Apply(context.Background(), moduleContext(conn), map[string]interface{}{
		"cmd":   "make install",
		"chdir": "/srv/app",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !conn.ranMatching("cd '/srv/app' && make install") {
		t.Errorf("Expected chdir prefix, ran: %v", conn.ran)
	}
}

func TestGit_CheckUpToDate(t *testing.T) {
	commit := "a1b2c3d4e5f6a7b8c9d0a1b2c3d4e5f6a7b8c9d0"
	conn := newFakeConn(
		fakeRule{match: "rev-parse HEAD", result: transports.ExecResult{ExitCode: 0, Stdout: commit}},
		fakeRule{match: "ls-remote", result: transports.ExecResult{ExitCode: 0, Stdout: commit + "\tHEAD"}},
	)

	status, err := (&GitModule{}).Check(context.Background(), moduleContext(conn), map[string]interface{}{
		"repo": "https://example.com/app.git",
		"dest": "/srv/app",
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !status.Satisfied {
		t.Errorf("Expected satisfied, got %+v", status)
	}
}

func TestGit_ApplyClonesWhenMissing(t *testing.T) {
	conn := newFakeConn(
		fakeRule{match: "rev-parse HEAD", result: transports.ExecResult{ExitCode: 128}},
		fakeRule{match: "git clone", result: transports.ExecResult{ExitCode: 0}},
	)

	result, err := (&GitModule{}).Apply(context.Background(), moduleContext(conn), map[string]interface{}{
		"repo": "https://example.com/app.git",
		"dest": "/srv/app",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Changed {
		t.Error("Expected changed")
	}
	if !conn.ranMatching("git clone 'https://example.com/app.git' '/srv/app'") {
		t.Errorf("Expected clone, ran: %v", conn.ran)
	}
}
