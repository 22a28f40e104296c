// Package stores persists run history. Every completed run is
// recorded with its per-host task results so `furrow history` can
// answer what changed, where, and when.
package stores

import (
	"context"
	"time"
)

// RunStatus is the terminal state of a recorded run.
type RunStatus string

const (
	// RunStatusOK means every host completed without failure.
	RunStatusOK RunStatus = "ok"

	// RunStatusFailed means at least one host failed or was
	// unreachable.
	RunStatusFailed RunStatus = "failed"
)

// Run is one recorded engine run.
type Run struct {
	// ID is the run's UUID.
	ID string `json:"id"`

	// PlanName is the top-level plan name.
	PlanName string `json:"plan_name"`

	// PlanPath is the plan file the run was started from.
	PlanPath string `json:"plan_path"`

	// CheckMode marks dry runs.
	CheckMode bool `json:"check_mode"`

	// Status is the terminal run status.
	Status RunStatus `json:"status"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// TaskResult is one task or handler outcome on one host.
type TaskResult struct {
	// ID is the row ID.
	ID int64 `json:"id"`

	// RunID references the owning run.
	RunID string `json:"run_id"`

	// Host is the inventory host name.
	Host string `json:"host"`

	// Plan is the plan the task belongs to.
	Plan string `json:"plan"`

	// Task is the task or handler name.
	Task string `json:"task"`

	// Kind is the assertion kind.
	Kind string `json:"kind"`

	// Handler marks handler executions.
	Handler bool `json:"handler,omitempty"`

	// Outcome is the task outcome (unchanged, changed, failed,
	// skipped, unreachable).
	Outcome string `json:"outcome"`

	// Detail describes what happened.
	Detail string `json:"detail,omitempty"`

	// Error is the failure message, if any.
	Error string `json:"error,omitempty"`

	// Duration is the task's wall-clock time.
	Duration time.Duration `json:"duration"`
}

// Store persists runs and their task results.
type Store interface {
	// Init opens the underlying database.
	Init(ctx context.Context) error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// SaveRun records a run and its task results atomically.
	SaveRun(ctx context.Context, run *Run, results []TaskResult) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// GetRun returns one run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListResults returns a run's task results in insertion order.
	ListResults(ctx context.Context, runID string) ([]*TaskResult, error)

	// Close releases the database.
	Close() error
}
