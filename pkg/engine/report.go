package engine

import (
	"time"
)

// Outcome is the per-task result state.
type Outcome string

const (
	// OutcomeUnchanged means the desired state already held and apply
	// was skipped.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeChanged means apply ran and modified the host. In check
	// mode it means apply would have run.
	OutcomeChanged Outcome = "changed"

	// OutcomeFailed means the task's check or apply returned an error.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped means the task did not run because the host had
	// already failed or become unreachable.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeUnreachable means the host could not be contacted for
	// this task.
	OutcomeUnreachable Outcome = "unreachable"
)

// TaskRecord is the result of one task or handler on one host.
type TaskRecord struct {
	// Plan is the owning plan's name.
	Plan string `json:"plan"`

	// Task is the task or handler name.
	Task string `json:"task"`

	// Kind is the assertion kind.
	Kind string `json:"kind"`

	// Handler marks handler executions.
	Handler bool `json:"handler,omitempty"`

	// Outcome is the task's result state.
	Outcome Outcome `json:"outcome"`

	// Detail describes what happened or what was observed.
	Detail string `json:"detail,omitempty"`

	// Error is the failure message when Outcome is failed or
	// unreachable.
	Error string `json:"error,omitempty"`

	// Duration is the wall-clock task time.
	Duration time.Duration `json:"duration"`
}

// HostReport aggregates all task records for one host across a run.
type HostReport struct {
	// Host is the inventory host name.
	Host string `json:"host"`

	// Tasks are the per-task records in execution order, handlers
	// last.
	Tasks []TaskRecord `json:"tasks"`

	// Failed is true when any task or handler failed on this host.
	Failed bool `json:"failed"`

	// Unreachable is true when the host could not be contacted.
	Unreachable bool `json:"unreachable"`
}

// Changed counts the host's changed tasks.
func (h *HostReport) Changed() int {
	n := 0
	for _, t := range h.Tasks {
		if t.Outcome == OutcomeChanged {
			n++
		}
	}
	return n
}

// Unchanged counts the host's unchanged tasks.
func (h *HostReport) Unchanged() int {
	n := 0
	for _, t := range h.Tasks {
		if t.Outcome == OutcomeUnchanged {
			n++
		}
	}
	return n
}

// Report is the aggregated result of one run.
type Report struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// CheckMode is true when the run was a dry run.
	CheckMode bool `json:"check_mode"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Hosts maps host name to its report.
	Hosts map[string]*HostReport `json:"hosts"`
}

// Failed reports whether any host failed or was unreachable.
func (r *Report) Failed() bool {
	for _, h := range r.Hosts {
		if h.Failed || h.Unreachable {
			return true
		}
	}
	return false
}

// FailedHosts returns the names of failed or unreachable hosts.
func (r *Report) FailedHosts() []string {
	var out []string
	for name, h := range r.Hosts {
		if h.Failed || h.Unreachable {
			out = append(out, name)
		}
	}
	return out
}

func (r *Report) host(name string) *HostReport {
	h, ok := r.Hosts[name]
	if !ok {
		h = &HostReport{Host: name}
		r.Hosts[name] = h
	}
	return h
}
