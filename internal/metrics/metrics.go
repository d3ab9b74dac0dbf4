// Package metrics exposes job counters and durations to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	progress *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transcoder",
			Name:      "jobs_total",
			Help:      "Finished jobs by kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "transcoder",
			Name:      "job_duration_seconds",
			Help:      "Wall time from job acceptance to terminal event.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"kind", "outcome"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "transcoder",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently running.",
		}, []string{"kind"}),
		progress: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transcoder",
			Name:      "progress_events_total",
			Help:      "Progress events relayed to clients.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.jobs, m.duration, m.inFlight, m.progress)
	return m
}

func (m *Metrics) JobStarted(kind string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(kind).Inc()
}

func (m *Metrics) JobFinished(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(kind).Dec()
	m.jobs.WithLabelValues(kind, outcome).Inc()
	m.duration.WithLabelValues(kind, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) ProgressRelayed(kind string) {
	if m == nil {
		return
	}
	m.progress.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
