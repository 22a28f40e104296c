// Package modules implements the assertion kinds the engine can apply:
// each kind is a check/apply pair where check is a read-only probe and
// apply moves the host to the desired state. Apply is skipped when
// check already reports the desired state; command and shell are
// exempt from that contract and always execute.
package modules

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/furrow-sh/furrow/pkg/transports"
)

// Status is the result of a read-only desired-state probe.
type Status struct {
	// Satisfied is true when the host already matches the desired
	// state and apply can be skipped.
	Satisfied bool

	// Detail describes the observed state, for reporting.
	Detail string
}

// Result is the outcome of applying an assertion.
type Result struct {
	// Changed is true when the host state was modified.
	Changed bool

	// Msg is a short human-readable description of what happened.
	Msg string
}

// Context carries the per-task execution environment into a module:
// the host connection, the resolved privilege options and the
// template variables in scope.
type Context struct {
	// Conn is the connection to the target host.
	Conn transports.Connection

	// Exec holds privilege escalation and timeout options for every
	// command the module runs.
	Exec transports.ExecOptions

	// Vars are the merged plan and host variables.
	Vars map[string]string
}

// Module is a single assertion kind.
type Module interface {
	// Kind returns the module's kind name as used in plan files.
	Kind() string

	// Imperative reports whether the module is exempt from the
	// idempotence contract (command/shell). Imperative modules are
	// applied unconditionally and always report changed on success.
	Imperative() bool

	// Check probes the host read-only and reports whether the
	// desired state already holds.
	Check(ctx context.Context, mc *Context, params map[string]interface{}) (Status, error)

	// Apply moves the host to the desired state.
	Apply(ctx context.Context, mc *Context, params map[string]interface{}) (Result, error)
}

// decodeParams maps a task's params into a module's typed parameter
// struct. Unknown keys are rejected so typos fail at task time rather
// than being silently ignored.
func decodeParams(params map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "param",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// run executes a command on the module's connection with its exec
// options applied.
func run(ctx context.Context, mc *Context, cmd string) (transports.ExecResult, error) {
	return mc.Conn.Run(ctx, cmd, mc.Exec)
}

// runUnprivileged executes a probe command without escalation.
func runUnprivileged(ctx context.Context, mc *Context, cmd string) (transports.ExecResult, error) {
	opts := mc.Exec
	opts.Sudo = false
	opts.SudoUser = ""
	return mc.Conn.Run(ctx, cmd, opts)
}
