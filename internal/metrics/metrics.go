package metrics

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nlsukhde/ipod-format/internal/models"
)

const (
	namespace = "ipodprep"
	// TextfileName is written next to the manifest.
	TextfileName = "metrics.prom"
)

// RunMetrics is a per-run registry. It is not registered globally so
// consecutive runs in one process start from zero.
type RunMetrics struct {
	registry       *prometheus.Registry
	tracks         *prometheus.CounterVec
	stageDurations *prometheus.HistogramVec
	deleted        prometheus.Counter
	runDuration    prometheus.Gauge
}

func New() *RunMetrics {
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		tracks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracks_total",
			Help:      "Tracks processed, by outcome and action.",
		}, []string{"outcome", "action"}),
		stageDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_deleted_total",
			Help:      "Source files removed after a successful conversion.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the run.",
		}),
	}
	m.registry.MustRegister(m.tracks, m.stageDurations, m.deleted, m.runDuration)
	return m
}

// Registry exposes the underlying registry.
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records one track result.
func (m *RunMetrics) Observe(res models.RunResult) {
	outcome := models.StatusOK
	if !res.Success {
		outcome = models.StatusFailed
	}
	action := res.Action
	if action == "" {
		action = res.Plan.Action()
	}
	m.tracks.WithLabelValues(outcome, action).Inc()

	for _, st := range res.Stages {
		m.stageDurations.WithLabelValues(st.Stage).Observe(float64(st.DurationMs) / 1000)
	}
	if res.SourceDeleted {
		m.deleted.Inc()
	}
}

func (m *RunMetrics) SetRunDuration(d time.Duration) {
	m.runDuration.Set(d.Seconds())
}

// WriteTextfile writes the registry to dir/metrics.prom.
func (m *RunMetrics) WriteTextfile(dir string) (string, error) {
	path := filepath.Join(dir, TextfileName)
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return "", fmt.Errorf("write metrics: %w", err)
	}
	return path, nil
}
