// Package plan defines the declarative plan format: an ordered list of
// state assertions (tasks) plus named handlers, scoped to an inventory
// group expression. Plans are loaded from YAML and validated before
// any host is touched.
package plan

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Task is a single declarative state assertion.
type Task struct {
	// Name is the human-readable task name.
	Name string `yaml:"name" validate:"required"`

	// Kind selects the assertion module (pkg, file, copy, template,
	// service, command, shell, git).
	Kind string `yaml:"kind" validate:"required"`

	// Params are the module-specific parameters.
	Params map[string]interface{} `yaml:"params"`

	// Notify lists handler names to trigger when this task reports a
	// change.
	Notify []string `yaml:"notify,omitempty"`

	// Become escalates privileges for this task.
	Become bool `yaml:"become,omitempty"`

	// BecomeUser is the escalation target user (default root).
	BecomeUser string `yaml:"become_user,omitempty"`

	// IgnoreErrors continues the host's plan when this task fails.
	IgnoreErrors bool `yaml:"ignore_errors,omitempty"`

	// Timeout bounds the task's remote operations. Zero uses the
	// transport default.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// Handler is a deferred task fired at most once per host per run.
type Handler struct {
	// Name is the handler name referenced by task notify lists.
	Name string `yaml:"name" validate:"required"`

	// Kind selects the assertion module.
	Kind string `yaml:"kind" validate:"required"`

	// Params are the module-specific parameters.
	Params map[string]interface{} `yaml:"params"`

	// Become escalates privileges for this handler.
	Become bool `yaml:"become,omitempty"`

	// BecomeUser is the escalation target user (default root).
	BecomeUser string `yaml:"become_user,omitempty"`
}

// Plan is an ordered sequence of tasks plus handlers, scoped to a
// target group expression.
type Plan struct {
	// Name is the plan name; defaults to the file path when omitted.
	Name string `yaml:"name"`

	// Hosts is the inventory group expression the plan targets.
	// Required unless the plan only imports other plans.
	Hosts string `yaml:"hosts"`

	// Become escalates privileges for every task in the plan.
	Become bool `yaml:"become,omitempty"`

	// Vars are plan-level template variables.
	Vars map[string]string `yaml:"vars,omitempty"`

	// Imports lists plan files to run, in order, before this plan's
	// own tasks.
	Imports []string `yaml:"imports,omitempty"`

	// Tasks is the ordered list of state assertions.
	Tasks []Task `yaml:"tasks,omitempty" validate:"dive"`

	// Handlers are the named deferred tasks.
	Handlers []Handler `yaml:"handlers,omitempty" validate:"dive"`

	// Path is the file the plan was loaded from. Not part of the
	// YAML surface.
	Path string `yaml:"-"`
}

// HandlerNames returns the declared handler names in declaration order.
func (p *Plan) HandlerNames() []string {
	out := make([]string, len(p.Handlers))
	for i, h := range p.Handlers {
		out[i] = h.Name
	}
	return out
}

// Handler returns the handler with the given name.
func (p *Plan) Handler(name string) (*Handler, bool) {
	for i := range p.Handlers {
		if p.Handlers[i].Name == name {
			return &p.Handlers[i], true
		}
	}
	return nil, false
}

// Duration is a time.Duration that unmarshals from YAML strings
// ("30s", "5m") or bare second counts.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var seconds int64
	if err := node.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration: %s", node.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
