// Package metrics exposes supervisor state as Prometheus metrics written to a
// node_exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rescale/simwatch/internal/models"
)

// Directory states reported by the simwatch_directories gauge.
const (
	StateQueued   = "queued"
	StateRunning  = "running"
	StateCrashed  = "crashed"
	StateFinished = "finished"
	StateIdle     = "idle"
)

var states = []string{StateQueued, StateRunning, StateCrashed, StateFinished, StateIdle}

// Metrics holds the supervisor's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Directories   *prometheus.GaugeVec
	StageFailures *prometheus.CounterVec
	Submissions   prometheus.Counter
	Passes        prometheus.Counter
	PassDuration  prometheus.Histogram
	LastPass      prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Directories: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "simwatch_directories",
			Help: "Number of job directories by state.",
		}, []string{"state"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simwatch_stage_failures_total",
			Help: "Failed lifecycle stages by stage name.",
		}, []string{"stage"}),
		Submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simwatch_submissions_total",
			Help: "Jobs submitted to the scheduler.",
		}),
		Passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simwatch_passes_total",
			Help: "Completed supervisor passes.",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simwatch_pass_duration_seconds",
			Help:    "Duration of one pass over all directories.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		LastPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simwatch_last_pass_timestamp_seconds",
			Help: "Unix time the last pass finished.",
		}),
	}
	m.registry.MustRegister(m.Directories, m.StageFailures, m.Submissions, m.Passes, m.PassDuration, m.LastPass)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StateOf classifies a record for the directories gauge.
func StateOf(rec *models.SimulationRecord) string {
	switch {
	case rec.Finished:
		return StateFinished
	case rec.Crashed:
		return StateCrashed
	case rec.Running && rec.Status == models.StatusRunning:
		return StateRunning
	case rec.Running:
		return StateQueued
	}
	return StateIdle
}

// ObserveRecords resets the directories gauge from the current records.
func (m *Metrics) ObserveRecords(recs []*models.SimulationRecord) {
	counts := make(map[string]int, len(states))
	for _, r := range recs {
		counts[StateOf(r)]++
	}
	for _, s := range states {
		m.Directories.WithLabelValues(s).Set(float64(counts[s]))
	}
}

// StageFailed counts a failed stage.
func (m *Metrics) StageFailed(stage models.Stage) {
	m.StageFailures.WithLabelValues(stage.String()).Inc()
}

// Submitted counts a submission.
func (m *Metrics) Submitted() {
	m.Submissions.Inc()
}

// PassDone records the end of a pass that started at start.
func (m *Metrics) PassDone(start, end time.Time) {
	m.Passes.Inc()
	m.PassDuration.Observe(end.Sub(start).Seconds())
	m.LastPass.Set(float64(end.Unix()))
}

// WriteTextfile writes the registry to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
