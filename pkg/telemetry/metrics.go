package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for convergence runs. When disabled
// every method is a no-op so callers never branch on configuration.
type Metrics struct {
	config MetricsConfig

	resourcesCreated  *prometheus.CounterVec
	resourcesReused   *prometheus.CounterVec
	stepsSkipped      *prometheus.CounterVec
	stepsFailed       *prometheus.CounterVec
	revisionConflicts *prometheus.CounterVec
	configureAttempts *prometheus.HistogramVec
	configureDuration *prometheus.HistogramVec
	runDuration       *prometheus.HistogramVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		resourcesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_created_total",
				Help:      "Total number of remote resources created",
			},
			[]string{"kind"},
		),
		resourcesReused: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_reused_total",
				Help:      "Total number of remote resources found and reused",
			},
			[]string{"kind"},
		),
		stepsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_skipped_total",
				Help:      "Total number of steps skipped due to missing dependencies",
			},
			[]string{"kind"},
		),
		stepsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_failed_total",
				Help:      "Total number of steps that failed",
			},
			[]string{"kind"},
		),
		revisionConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revision_conflicts_total",
				Help:      "Total number of stale-revision rejections that were retried",
			},
			[]string{"kind"},
		),
		configureAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "configure_attempts",
				Help:      "Write attempts needed to configure a resource",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
			[]string{"kind"},
		),
		configureDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "configure_duration_seconds",
				Help:      "Duration of configure-with-retry calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of convergence runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.resourcesCreated,
		m.resourcesReused,
		m.stepsSkipped,
		m.stepsFailed,
		m.revisionConflicts,
		m.configureAttempts,
		m.configureDuration,
		m.runDuration,
	)

	return m, nil
}

// Serve exposes the metrics endpoint. It blocks until the server stops.
func (m *Metrics) Serve() error {
	if !m.config.Enabled {
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
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the metrics endpoint.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// RecordCreated counts a created resource.
func (m *Metrics) RecordCreated(kind string) {
	if m.resourcesCreated != nil {
		m.resourcesCreated.WithLabelValues(kind).Inc()
	}
}

// RecordReused counts a found-and-reused resource.
func (m *Metrics) RecordReused(kind string) {
	if m.resourcesReused != nil {
		m.resourcesReused.WithLabelValues(kind).Inc()
	}
}

// RecordSkipped counts a step skipped for a missing dependency.
func (m *Metrics) RecordSkipped(kind string) {
	if m.stepsSkipped != nil {
		m.stepsSkipped.WithLabelValues(kind).Inc()
	}
}

// RecordFailed counts a failed step.
func (m *Metrics) RecordFailed(kind string) {
	if m.stepsFailed != nil {
		m.stepsFailed.WithLabelValues(kind).Inc()
	}
}

// RecordConflict counts a retried stale-revision rejection.
func (m *Metrics) RecordConflict(kind string) {
	if m.revisionConflicts != nil {
		m.revisionConflicts.WithLabelValues(kind).Inc()
	}
}

// RecordConfigure observes one configure-with-retry call.
func (m *Metrics) RecordConfigure(kind string, attempts int, duration time.Duration) {
	if m.configureAttempts != nil {
		m.configureAttempts.WithLabelValues(kind).Observe(float64(attempts))
	}
	if m.configureDuration != nil {
		m.configureDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// RecordRun observes one complete convergence run.
func (m *Metrics) RecordRun(status string, duration time.Duration) {
	if m.runDuration != nil {
		m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	}
}
