// Package metrics defines the Prometheus collectors for review runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	stageDuration *prometheus.HistogramVec
	toolRuns      *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	findings      *prometheus.CounterVec
	runs          *prometheus.GaugeVec
	runsTotal     *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg interface {
	prometheus.Registerer
	prometheus.Gatherer
}) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reviewfactory_stage_duration_seconds",
			Help:    "Workflow stage duration by stage and outcome",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5.5m
		}, []string{"stage", "outcome"}),
		toolRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewfactory_tool_runs_total",
			Help: "External tool executions by tool and outcome",
		}, []string{"tool", "outcome"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reviewfactory_tool_duration_seconds",
			Help:    "External tool wall time",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"tool"}),
		findings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewfactory_findings_total",
			Help: "Findings produced by adapter",
		}, []string{"adapter"}),
		runs: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reviewfactory_runs",
			Help: "Runs currently in each non-terminal status",
		}, []string{"status"}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewfactory_runs_finished_total",
			Help: "Runs that reached a terminal status",
		}, []string{"status"}),
	}
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// ObserveTool records one tool execution.
func (m *Metrics) ObserveTool(tool string, failed, timedOut bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case timedOut:
		outcome = "timeout"
	case failed:
		outcome = "failed"
	}
	m.toolRuns.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// AddFindings counts findings contributed by an adapter.
func (m *Metrics) AddFindings(adapter string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.findings.WithLabelValues(adapter).Add(float64(n))
}

// RunTransition moves a run between statuses. from may be empty for a new run.
func (m *Metrics) RunTransition(from, to string, terminal bool) {
	if m == nil {
		return
	}
	if from != "" {
		m.runs.WithLabelValues(from).Dec()
	}
	if terminal {
		m.runsTotal.WithLabelValues(to).Inc()
		return
	}
	m.runs.WithLabelValues(to).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
