// Package metrics exposes migration and rollback counters for Prometheus.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Record outcomes used as the "outcome" label.
const (
	OutcomeFetched    = "fetched"
	OutcomeMigrated   = "migrated"
	OutcomeSkipped    = "skipped"
	OutcomeFixed      = "fixed"
	OutcomeBackfilled = "backfilled"
	OutcomeCleared    = "cleared"
)

// Recorder owns a private registry so that runs and tests never share state.
// A nil *Recorder records nothing.
type Recorder struct {
	registry      *prometheus.Registry
	records       *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	runDuration   *prometheus.GaugeVec
	runStatus     *prometheus.GaugeVec
}

// New creates a Recorder for the given job (migrate, rollback).
func New(job string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{"job_name": job}

	return &Recorder{
		registry: reg,
		records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "revdal_records_total",
				Help:        "Records processed per entity kind and outcome",
				ConstLabels: constLabels,
			},
			[]string{"kind", "outcome"},
		),
		batchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "revdal_batch_duration_seconds",
				Help:        "Duration of one fetch, transform, reconcile and insert cycle",
				ConstLabels: constLabels,
				Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "revdal_errors_total",
				Help:        "Errors recorded during a run, by error type",
				ConstLabels: constLabels,
			},
			[]string{"type"},
		),
		runDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "revdal_run_duration_seconds",
				Help:        "Wall time of the last run",
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),
		runStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "revdal_run_last_status",
				Help:        "1 for the status of the last run, 0 otherwise",
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),
	}
}

// Registry returns the registry the collectors are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Records adds n records of kind with the given outcome.
func (r *Recorder) Records(kind, outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.records.WithLabelValues(kind, outcome).Add(float64(n))
}

// ObserveBatch records how long one batch of kind took.
func (r *Recorder) ObserveBatch(kind string, d time.Duration) {
	if r == nil {
		return
	}
	r.batchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Error counts one error of the given taxonomy type.
func (r *Recorder) Error(errType string) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(errType).Inc()
}

// Finished records the run outcome.
func (r *Recorder) Finished(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.runStatus.Reset()
	r.runStatus.WithLabelValues(status).Set(1)
	r.runDuration.Reset()
	r.runDuration.WithLabelValues(status).Set(d.Seconds())
}

// Push sends the collected metrics to a Pushgateway. An empty url is a no-op.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if r == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
