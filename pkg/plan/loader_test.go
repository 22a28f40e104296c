package plan

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validPlan = `
name: provision web
hosts: web
become: true
vars:
  domain: example.com
tasks:
  - name: install nginx
    kind: pkg
    params:
      name: nginx
      state: present
    notify: [restart nginx]
  - name: push site config
    kind: template
    params:
      dest: /etc/nginx/conf.d/site.conf
      content: "server { listen 80; server_name {{ .domain }}; }"
    notify: [restart nginx]
    timeout: 90s
handlers:
  - name: restart nginx
    kind: service
    params:
      name: nginx
      state: restarted
`

func knownKinds() []string {
	return []string{"pkg", "file", "copy", "template", "service", "command", "shell", "git"}
}

func writePlan(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write plan: %v", err)
	}
	return path
}

func TestLoad_ValidPlan(t *testing.T) {
	path := writePlan(t, t.TempDir(), "web.yml", validPlan)

	p, err := NewLoader(knownKinds()).Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if p.Name != "provision web" {
		t.Errorf("Expected name 'provision web', got %q", p.Name)
	}
	if p.Hosts != "web" {
		t.Errorf("Expected hosts 'web', got %q", p.Hosts)
	}
	if !p.Become {
		t.Error("Expected become true")
	}
	if len(p.Tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(p.Tasks))
	}
	if p.Tasks[1].Timeout.Std() != 90*time.Second {
		t.Errorf("Expected 90s timeout, got %v", p.Tasks[1].Timeout.Std())
	}
	if _, ok := p.Handler("restart nginx"); !ok {
		t.Error("Expected handler 'restart nginx'")
	}
}

func TestLoad_NameDefaultsToFileName(t *testing.T) {
	content := strings.Replace(validPlan, "name: provision web\n", "", 1)
	path := writePlan(t, t.TempDir(), "web.yml", content)

	p, err := NewLoader(knownKinds()).Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.Name != "web.yml" {
		t.Errorf("Expected name to default to file name, got %q", p.Name)
	}
}

func TestLoad_IntegerTimeoutIsSeconds(t *testing.T) {
	content := `
hosts: web
tasks:
  - name: slow step
    kind: command
    params:
      cmd: sleep 5
    timeout: 30
`
	path := writePlan(t, t.TempDir(), "slow.yml", content)

	p, err := NewLoader(knownKinds()).Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.Tasks[0].Timeout.Std() != 30*time.Second {
		t.Errorf("Expected 30s, got %v", p.Tasks[0].Timeout.Std())
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name: "notify unknown handler",
			content: `
hosts: web
tasks:
  - name: install nginx
    kind: pkg
    params: {name: nginx}
    notify: [reload nginx]
`,
			wantMsg: "unknown handler",
		},
		{
			name: "duplicate handler",
			content: `
hosts: web
tasks:
  - name: t
    kind: pkg
    params: {name: nginx}
handlers:
  - name: restart
    kind: service
    params: {name: nginx}
  - name: restart
    kind: service
    params: {name: nginx}
`,
			wantMsg: "duplicate handler",
		},
		{
			name: "unknown kind",
			content: `
hosts: web
tasks:
  - name: t
    kind: firewall
    params: {}
`,
			wantMsg: "unknown kind",
		},
		{
			name: "tasks without hosts",
			content: `
tasks:
  - name: t
    kind: pkg
    params: {name: nginx}
`,
			wantMsg: "must declare hosts",
		},
		{
			name:    "empty plan",
			content: "name: empty\n",
			wantMsg: "neither tasks nor imports",
		},
		{
			name:    "not yaml",
			content: "{{{{",
			wantMsg: "",
		},
	}

	loader := NewLoader(knownKinds())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writePlan(t, t.TempDir(), "bad.yml", tc.content)
			_, err := loader.Load(path)

			var invalid *InvalidError
			if !errors.As(err, &invalid) {
				t.Fatalf("Expected InvalidError, got %v", err)
			}
			if tc.wantMsg != "" && !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("Expected error containing %q, got %q", tc.wantMsg, err.Error())
			}
		})
	}
}

func TestLoadComposite_ImportOrder(t *testing.T) {
	dir := t.TempDir()

	writePlan(t, dir, "db.yml", `
name: db
hosts: db
tasks:
  - name: install mongodb
    kind: pkg
    params: {name: mongodb-org, state: present}
`)
	writePlan(t, dir, "app.yml", `
name: app
hosts: app
imports: [db.yml]
tasks:
  - name: clone app
    kind: git
    params: {repo: "https://example.com/app.git", dest: /srv/app}
`)
	top := writePlan(t, dir, "site.yml", `
name: site
hosts: web
imports: [app.yml]
tasks:
  - name: install nginx
    kind: pkg
    params: {name: nginx, state: present}
`)

	plans, err := NewLoader(knownKinds()).LoadComposite(top)
	if err != nil {
		t.Fatalf("LoadComposite failed: %v", err)
	}

	if len(plans) != 3 {
		t.Fatalf("Expected 3 plans, got %d", len(plans))
	}
	order := []string{plans[0].Name, plans[1].Name, plans[2].Name}
	want := []string{"db", "app", "site"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected plan order %v, got %v", want, order)
		}
	}
}

func TestLoadComposite_CycleRejected(t *testing.T) {
	dir := t.TempDir()

	writePlan(t, dir, "a.yml", `
name: a
hosts: web
imports: [b.yml]
tasks:
  - name: t
    kind: command
    params: {cmd: "true"}
`)
	path := writePlan(t, dir, "b.yml", `
name: b
hosts: web
imports: [a.yml]
tasks:
  - name: t
    kind: command
    params: {cmd: "true"}
`)

	_, err := NewLoader(knownKinds()).LoadComposite(path)
	if err == nil || !strings.Contains(err.Error(), "import cycle") {
		t.Fatalf("Expected import cycle error, got %v", err)
	}
}

func TestLoadComposite_ImportOnlyPlan(t *testing.T) {
	dir := t.TempDir()

	writePlan(t, dir, "web.yml", `
name: web
hosts: web
tasks:
  - name: install nginx
    kind: pkg
    params: {name: nginx}
`)
	top := writePlan(t, dir, "site.yml", `
name: site
imports: [web.yml]
`)

	plans, err := NewLoader(knownKinds()).LoadComposite(top)
	if err != nil {
		t.Fatalf("LoadComposite failed: %v", err)
	}
	if len(plans) != 1 || plans[0].Name != "web" {
		t.Fatalf("Expected single imported plan, got %v", plans)
	}
}
