// Package engine runs plans against resolved hosts: a bounded worker
// pool fans plays out per host, tasks run strictly in order on each
// host, and notified handlers fire at most once per host after its
// tasks complete.
package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures for reporting and exit-code
// mapping.
type ErrorKind string

const (
	// ErrKindUnknownGroup indicates a plan or limit referenced a group
	// that does not exist in the inventory.
	ErrKindUnknownGroup ErrorKind = "unknown_group"

	// ErrKindCyclicGroup indicates the inventory's group graph has a
	// cycle.
	ErrKindCyclicGroup ErrorKind = "cyclic_group_definition"

	// ErrKindUnreachable indicates a host could not be contacted or a
	// connection failed mid-run.
	ErrKindUnreachable ErrorKind = "unreachable"

	// ErrKindAssertionFailed indicates a task's check or apply failed
	// on a host.
	ErrKindAssertionFailed ErrorKind = "assertion_failed"

	// ErrKindHandlerFailed indicates a notified handler failed on a
	// host.
	ErrKindHandlerFailed ErrorKind = "handler_failed"

	// ErrKindPlanInvalid indicates the plan file set could not be
	// loaded or validated. Fatal before any host is touched.
	ErrKindPlanInvalid ErrorKind = "plan_file_invalid"
)

// Error is a classified engine failure with host and task context.
type Error struct {
	// Kind is the failure classification.
	Kind ErrorKind

	// Host is the host the failure occurred on, when host-scoped.
	Host string

	// Task is the task or handler name, when task-scoped.
	Task string

	// Message describes the failure.
	Message string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		} else {
			msg = e.Err.Error()
		}
	}
	switch {
	case e.Host != "" && e.Task != "":
		return fmt.Sprintf("[%s] host %s, task %q: %s", e.Kind, e.Host, e.Task, msg)
	case e.Host != "":
		return fmt.Sprintf("[%s] host %s: %s", e.Kind, e.Host, msg)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, msg)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the engine error kind, or empty when err is not an
// engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsFatal reports whether the error invalidates the whole run rather
// than a single host.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case ErrKindPlanInvalid, ErrKindUnknownGroup, ErrKindCyclicGroup:
		return true
	}
	return false
}

func unreachableError(host string, err error) *Error {
	return &Error{Kind: ErrKindUnreachable, Host: host, Err: err}
}

func assertionError(host, task string, err error) *Error {
	return &Error{Kind: ErrKindAssertionFailed, Host: host, Task: task, Err: err}
}

func handlerError(host, handler string, err error) *Error {
	return &Error{Kind: ErrKindHandlerFailed, Host: host, Task: handler, Err: err}
}
