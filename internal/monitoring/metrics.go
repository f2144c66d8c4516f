// Package monitoring records per-run metrics for the estimation commands and
// exports them in Prometheus textfile format for batch scraping.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

// Metrics holds the collectors for a single process run. Each Metrics owns its
// own registry, so separate runs never share counters. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry   *prometheus.Registry
	candidates *prometheus.CounterVec
	duration   prometheus.Histogram
	r2         prometheus.Gauge
	runs       *prometheus.CounterVec
}

// NewMetrics creates and registers the run collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		candidates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmm_calibration_candidates_total",
				Help: "Grid candidates processed by the calibrator, by outcome.",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mmm_calibration_duration_seconds",
			Help:    "Wall time of a full grid search.",
			Buckets: prometheus.DefBuckets,
		}),
		r2: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mmm_incrementality_r2",
			Help: "In-sample coefficient of determination of the last incrementality fit.",
		}),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmm_runs_total",
				Help: "Command runs by command and status.",
			},
			[]string{"command", "status"},
		),
	}
	m.registry.MustRegister(m.candidates, m.duration, m.r2, m.runs)
	return m
}

// CandidateEvaluated counts a scored grid candidate.
func (m *Metrics) CandidateEvaluated() {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues("evaluated").Inc()
}

// CandidateDegenerate counts a grid candidate dropped for a zero-sum base curve.
func (m *Metrics) CandidateDegenerate() {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues("degenerate").Inc()
}

// ObserveCalibration records the duration of one grid search.
func (m *Metrics) ObserveCalibration(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

// SetR2 records the fit quality of an incrementality estimate.
func (m *Metrics) SetR2(v float64) {
	if m == nil {
		return
	}
	m.r2.Set(v)
}

// RunFinished counts a command run as "ok" or "error".
func (m *Metrics) RunFinished(command string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.runs.WithLabelValues(command, status).Inc()
}

// WriteTextfile writes all collectors to path in the node-exporter textfile
// format. The file is written atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return eris.Wrapf(err, "monitoring: write textfile %s", path)
	}
	return nil
}
