package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for furrow runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Task metrics
	tasksExecuted *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec

	// Handler metrics
	handlersFired *prometheus.CounterVec

	// Host metrics
	hostsUnreachable *prometheus.CounterVec
	activeHosts      prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"plan"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"plan", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		tasksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_executed_total",
				Help:      "Total number of task applications by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task check+apply in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		handlersFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handlers_fired_total",
				Help:      "Total number of handler firings",
			},
			[]string{"handler", "status"},
		),

		hostsUnreachable: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hosts_unreachable_total",
				Help:      "Total number of hosts marked unreachable",
			},
			[]string{"plan"},
		),
		activeHosts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_hosts",
				Help:      "Number of hosts currently being provisioned",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.runsStarted, m.runsCompleted, m.runDuration,
		m.tasksExecuted, m.taskDuration,
		m.handlersFired,
		m.hostsUnreachable, m.activeHosts,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// RecordRunStarted records the start of a run.
func (m *Metrics) RecordRunStarted(plan string) {
	if m.registry == nil {
		return
	}
	m.runsStarted.WithLabelValues(plan).Inc()
}

// RecordRunCompleted records the completion of a run.
func (m *Metrics) RecordRunCompleted(plan, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.runsCompleted.WithLabelValues(plan, status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTask records a task outcome.
func (m *Metrics) RecordTask(kind, outcome string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(kind, outcome).Inc()
	m.taskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordHandlerFired records a handler firing.
func (m *Metrics) RecordHandlerFired(handler, status string) {
	if m.registry == nil {
		return
	}
	m.handlersFired.WithLabelValues(handler, status).Inc()
}

// RecordHostUnreachable records a host-level transport failure.
func (m *Metrics) RecordHostUnreachable(plan string) {
	if m.registry == nil {
		return
	}
	m.hostsUnreachable.WithLabelValues(plan).Inc()
}

// SetActiveHosts sets the number of hosts currently being provisioned.
func (m *Metrics) SetActiveHosts(n int) {
	if m.registry == nil {
		return
	}
	m.activeHosts.Set(float64(n))
}

// Serve starts the metrics HTTP endpoint. It returns immediately; the
// server runs until Shutdown is called. No-op when metrics are disabled
// or no listen address is configured.
func (m *Metrics) Serve() error {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Metrics exposition is best-effort; provisioning continues.
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	return nil
}

// Shutdown stops the metrics HTTP endpoint if one is running.
func (m *Metrics) Shutdown() error {
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}
