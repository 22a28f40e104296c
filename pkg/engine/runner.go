package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/furrow-sh/furrow/pkg/inventory"
	"github.com/furrow-sh/furrow/pkg/modules"
	"github.com/furrow-sh/furrow/pkg/plan"
	"github.com/furrow-sh/furrow/pkg/telemetry"
	"github.com/furrow-sh/furrow/pkg/transports"
)

// DefaultForks is the per-plan host concurrency bound when none is
// configured.
const DefaultForks = 5

// Options controls a run.
type Options struct {
	// Forks bounds how many hosts are provisioned concurrently.
	Forks int

	// CheckMode probes desired state without applying anything.
	CheckMode bool

	// Become escalates privileges for every task, as if each plan
	// declared become.
	Become bool

	// Limit narrows each plan's target expression to hosts also in
	// this group expression.
	Limit string
}

// Runner executes plans against inventory hosts.
type Runner struct {
	inv      *inventory.Inventory
	dialer   transports.Dialer
	registry *modules.Registry
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	opts     Options
}

// NewRunner creates a runner. logger and metrics may be nil-safe
// defaults from the telemetry package but must not be nil.
func NewRunner(inv *inventory.Inventory, dialer transports.Dialer, registry *modules.Registry, logger *telemetry.Logger, metrics *telemetry.Metrics, opts Options) *Runner {
	if opts.Forks <= 0 {
		opts.Forks = DefaultForks
	}
	return &Runner{
		inv:      inv,
		dialer:   dialer,
		registry: registry,
		logger:   logger.NewComponentLogger("engine"),
		metrics:  metrics,
		opts:     opts,
	}
}

// Run executes the plans in order. Plans run sequentially; hosts
// within a plan run concurrently up to the forks bound, with each
// host's tasks strictly ordered. A plan with failed hosts halts the
// remaining plans.
//
// The returned error is non-nil only for fatal problems (unknown
// group, cyclic inventory); host-scoped failures are reported through
// the Report.
func (r *Runner) Run(ctx context.Context, plans []*plan.Plan) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		CheckMode: r.opts.CheckMode,
		StartedAt: time.Now(),
		Hosts:     make(map[string]*HostReport),
	}
	log := r.logger.WithRunID(report.RunID)

	for _, p := range plans {
		hosts, err := r.targets(p)
		if err != nil {
			report.FinishedAt = time.Now()
			return report, err
		}

		log.WithPlan(p.Name).Infof("starting plan on %d hosts", len(hosts))
		r.metrics.RecordRunStarted(p.Name)
		start := time.Now()

		r.runPlan(ctx, p, hosts, report, log)

		status := "ok"
		if report.Failed() {
			status = "failed"
		}
		r.metrics.RecordRunCompleted(p.Name, status, time.Since(start))

		if report.Failed() {
			log.WithPlan(p.Name).Warnf("halting: failed hosts %v", report.FailedHosts())
			break
		}
	}

	report.FinishedAt = time.Now()
	return report, nil
}

// targets resolves a plan's host expression, applying the limit when
// set, and maps inventory errors onto the engine taxonomy.
func (r *Runner) targets(p *plan.Plan) ([]*inventory.Host, error) {
	var hosts []*inventory.Host
	var err error
	if r.opts.Limit != "" {
		hosts, err = r.inv.Intersect(p.Hosts, r.opts.Limit)
	} else {
		hosts, err = r.inv.Resolve(p.Hosts)
	}
	if err == nil {
		return hosts, nil
	}

	var unknown *inventory.UnknownGroupError
	if errors.As(err, &unknown) {
		return nil, &Error{Kind: ErrKindUnknownGroup, Message: fmt.Sprintf("plan %q", p.Name), Err: err}
	}
	var cycle *inventory.CycleError
	if errors.As(err, &cycle) {
		return nil, &Error{Kind: ErrKindCyclicGroup, Message: fmt.Sprintf("plan %q", p.Name), Err: err}
	}
	return nil, &Error{Kind: ErrKindPlanInvalid, Message: fmt.Sprintf("plan %q", p.Name), Err: err}
}

// runPlan fans the plan out over a bounded worker pool.
func (r *Runner) runPlan(ctx context.Context, p *plan.Plan, hosts []*inventory.Host, report *Report, log *telemetry.Logger) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	work := make(chan *inventory.Host)

	workers := r.opts.Forks
	if workers > len(hosts) {
		workers = len(hosts)
	}

	r.metrics.SetActiveHosts(len(hosts))
	defer r.metrics.SetActiveHosts(0)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range work {
				hr := r.runHost(ctx, p, host, log)
				mu.Lock()
				merged := report.host(host.Name)
				merged.Tasks = append(merged.Tasks, hr.Tasks...)
				merged.Failed = merged.Failed || hr.Failed
				merged.Unreachable = merged.Unreachable || hr.Unreachable
				mu.Unlock()
			}
		}()
	}

	for _, h := range hosts {
		work <- h
	}
	close(work)
	wg.Wait()
}

// runHost executes the plan's tasks in order on one host, then fires
// the notified handlers in declaration order.
func (r *Runner) runHost(ctx context.Context, p *plan.Plan, host *inventory.Host, log *telemetry.Logger) *HostReport {
	hr := &HostReport{Host: host.Name}
	hlog := log.WithPlan(p.Name).WithHost(host.Name)

	conn, err := r.dialer.Dial(ctx, host)
	if err != nil {
		hlog.WithError(err).Error("host unreachable")
		r.metrics.RecordHostUnreachable(p.Name)
		hr.Unreachable = true
		for i, t := range p.Tasks {
			rec := TaskRecord{Plan: p.Name, Task: t.Name, Kind: t.Kind, Outcome: OutcomeSkipped}
			if i == 0 {
				rec.Outcome = OutcomeUnreachable
				rec.Error = unreachableError(host.Name, err).Error()
			}
			hr.Tasks = append(hr.Tasks, rec)
		}
		return hr
	}
	defer conn.Close()

	vars := mergeVars(p.Vars, host.Vars)
	notified := make(map[string]bool)

	for _, t := range p.Tasks {
		if hr.Failed || hr.Unreachable {
			hr.Tasks = append(hr.Tasks, TaskRecord{Plan: p.Name, Task: t.Name, Kind: t.Kind, Outcome: OutcomeSkipped})
			continue
		}

		rec := r.runTask(ctx, conn, p, &t, vars, hlog)
		hr.Tasks = append(hr.Tasks, rec)
		r.metrics.RecordTask(t.Kind, string(rec.Outcome), rec.Duration)

		switch rec.Outcome {
		case OutcomeUnreachable:
			hr.Unreachable = true
		case OutcomeFailed:
			if !t.IgnoreErrors {
				hr.Failed = true
			}
		case OutcomeChanged:
			for _, name := range t.Notify {
				notified[name] = true
			}
		}
	}

	if hr.Failed || hr.Unreachable || len(notified) == 0 {
		return hr
	}

	for _, h := range p.Handlers {
		if !notified[h.Name] {
			continue
		}
		if hr.Failed {
			hr.Tasks = append(hr.Tasks, TaskRecord{Plan: p.Name, Task: h.Name, Kind: h.Kind, Handler: true, Outcome: OutcomeSkipped})
			continue
		}

		rec := r.runHandler(ctx, conn, p, &h, vars, hlog)
		hr.Tasks = append(hr.Tasks, rec)

		status := string(rec.Outcome)
		r.metrics.RecordHandlerFired(h.Name, status)
		switch rec.Outcome {
		case OutcomeFailed:
			hr.Failed = true
		case OutcomeUnreachable:
			hr.Unreachable = true
		}
	}
	return hr
}

// runTask executes one task: a read-only check followed by apply when
// the desired state does not already hold. In check mode apply is
// never called; an unsatisfied check reports what would change.
func (r *Runner) runTask(ctx context.Context, conn transports.Connection, p *plan.Plan, t *plan.Task, vars map[string]string, log *telemetry.Logger) TaskRecord {
	rec := TaskRecord{Plan: p.Name, Task: t.Name, Kind: t.Kind}
	tlog := log.WithTask(t.Name)
	start := time.Now()
	defer func() { rec.Duration = time.Since(start) }()

	mod, err := r.registry.Get(t.Kind)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = assertionError("", t.Name, err).Error()
		return rec
	}

	mc := &modules.Context{
		Conn: conn,
		Exec: transports.ExecOptions{
			Sudo:     p.Become || t.Become || r.opts.Become,
			SudoUser: t.BecomeUser,
			Timeout:  t.Timeout.Std(),
		},
		Vars: vars,
	}

	tctx := ctx
	if t.Timeout.Std() > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, t.Timeout.Std())
		defer cancel()
	}

	status, err := mod.Check(tctx, mc, t.Params)
	if err != nil {
		return r.classify(rec, t.Name, err, tlog)
	}
	if status.Satisfied {
		tlog.Debugf("already satisfied: %s", status.Detail)
		rec.Outcome = OutcomeUnchanged
		rec.Detail = status.Detail
		return rec
	}

	if r.opts.CheckMode {
		rec.Outcome = OutcomeChanged
		rec.Detail = "would change: " + status.Detail
		return rec
	}

	result, err := mod.Apply(tctx, mc, t.Params)
	if err != nil {
		return r.classify(rec, t.Name, err, tlog)
	}

	if result.Changed {
		tlog.Infof("changed: %s", result.Msg)
		rec.Outcome = OutcomeChanged
	} else {
		rec.Outcome = OutcomeUnchanged
	}
	rec.Detail = result.Msg
	return rec
}

// runHandler executes one notified handler. Handlers are assertions
// like tasks: declarative kinds are checked first and skipped when the
// desired state already holds; imperative kinds apply unconditionally.
func (r *Runner) runHandler(ctx context.Context, conn transports.Connection, p *plan.Plan, h *plan.Handler, vars map[string]string, log *telemetry.Logger) TaskRecord {
	rec := TaskRecord{Plan: p.Name, Task: h.Name, Kind: h.Kind, Handler: true}
	hlog := log.WithTask(h.Name)
	start := time.Now()
	defer func() { rec.Duration = time.Since(start) }()

	mod, err := r.registry.Get(h.Kind)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = handlerError("", h.Name, err).Error()
		return rec
	}

	mc := &modules.Context{
		Conn: conn,
		Exec: transports.ExecOptions{
			Sudo:     p.Become || h.Become || r.opts.Become,
			SudoUser: h.BecomeUser,
		},
		Vars: vars,
	}

	if !mod.Imperative() {
		status, err := mod.Check(ctx, mc, h.Params)
		if err != nil {
			return r.classifyHandler(rec, h.Name, err, hlog)
		}
		if status.Satisfied {
			hlog.Debugf("handler already satisfied: %s", status.Detail)
			rec.Outcome = OutcomeUnchanged
			rec.Detail = status.Detail
			return rec
		}
	}

	if r.opts.CheckMode {
		rec.Outcome = OutcomeChanged
		rec.Detail = "would fire"
		return rec
	}

	result, err := mod.Apply(ctx, mc, h.Params)
	if err != nil {
		return r.classifyHandler(rec, h.Name, err, hlog)
	}

	if result.Changed {
		hlog.Infof("handler fired: %s", result.Msg)
		rec.Outcome = OutcomeChanged
	} else {
		rec.Outcome = OutcomeUnchanged
	}
	rec.Detail = result.Msg
	return rec
}

// classifyHandler maps a handler error onto an outcome: transport
// failures make the host unreachable, anything else fails the handler.
func (r *Runner) classifyHandler(rec TaskRecord, handler string, err error, log *telemetry.Logger) TaskRecord {
	var terr *transports.TransportError
	if errors.As(err, &terr) {
		rec.Outcome = OutcomeUnreachable
	} else {
		rec.Outcome = OutcomeFailed
	}
	rec.Error = handlerError("", handler, err).Error()
	log.WithError(err).Error("handler failed")
	return rec
}

// classify maps a task error onto an outcome: transport failures make
// the host unreachable, anything else is an assertion failure.
func (r *Runner) classify(rec TaskRecord, task string, err error, log *telemetry.Logger) TaskRecord {
	var terr *transports.TransportError
	if errors.As(err, &terr) {
		rec.Outcome = OutcomeUnreachable
		rec.Error = unreachableError(terr.Host, err).Error()
		log.WithError(err).Error("host became unreachable")
		return rec
	}
	rec.Outcome = OutcomeFailed
	rec.Error = assertionError("", task, err).Error()
	log.WithError(err).Error("task failed")
	return rec
}

// mergeVars layers host vars over plan vars; host wins on conflict.
func mergeVars(planVars, hostVars map[string]string) map[string]string {
	out := make(map[string]string, len(planVars)+len(hostVars))
	for k, v := range planVars {
		out[k] = v
	}
	for k, v := range hostVars {
		out[k] = v
	}
	return out
}
