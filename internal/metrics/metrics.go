// Package metrics exposes pipeline counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "airq"

// Result label values for StageTotal.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	StageTotal  *prometheus.CounterVec
	RowsLoaded  *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	RunsAborted *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		StageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_total",
				Help:      "Stage executions by entity kind, stage and result",
			},
			[]string{"kind", "stage", "result"},
		),
		RowsLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_loaded_total",
				Help:      "Rows appended per destination table",
			},
			[]string{"table"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of one pipeline run",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"pipeline"},
		),
		RunsAborted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_aborted_total",
				Help:      "Pipeline runs stopped before every entity was attempted",
			},
			[]string{"pipeline"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.StageTotal,
		m.RowsLoaded,
		m.RunDuration,
		m.RunsAborted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveStage counts one stage execution.
func (m *Metrics) ObserveStage(kind, stage string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultFailed
	}
	m.StageTotal.WithLabelValues(kind, stage, result).Inc()
}

// ObserveRows adds loaded rows for table.
func (m *Metrics) ObserveRows(table string, n int64) {
	m.RowsLoaded.WithLabelValues(table).Add(float64(n))
}

// ObserveRun records the duration of a finished run.
func (m *Metrics) ObserveRun(pipeline string, d time.Duration, aborted bool) {
	m.RunDuration.WithLabelValues(pipeline).Observe(d.Seconds())
	if aborted {
		m.RunsAborted.WithLabelValues(pipeline).Inc()
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
