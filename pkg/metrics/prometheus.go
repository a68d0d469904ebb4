package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"KSHPull/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	recordsSent  *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	groupStates  *prometheus.CounterVec
	lastForecast *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder on reg. Tests pass a fresh
// prometheus.NewRegistry() so that repeated construction does not panic.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		recordsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kshpull_records_sent_total",
				Help: "Total number of tidy records sent to a backend",
			},
			[]string{"backend", "dataset"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kshpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		groupStates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kshpull_forecast_groups_total",
				Help: "Forecast groups by terminal state",
			},
			[]string{"job", "state"},
		),
		lastForecast: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kshpull_last_forecast",
				Help: "First forecast point of the latest run for a group",
			},
			[]string{"job", "group"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kshpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordRecords counts n records written to backend for dataset.
func (r *Recorder) RecordRecords(backend, dataset string, n int) {
	if n <= 0 {
		return
	}
	r.recordsSent.WithLabelValues(backend, dataset).Add(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordGroupState(job string, state models.FitState) {
	r.groupStates.WithLabelValues(job, string(state)).Inc()
}

func (r *Recorder) RecordLastForecast(job, group string, value float64) {
	r.lastForecast.WithLabelValues(job, group).Set(value)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordRecords(string, string, int)          {}
func (Nop) RecordError(string)                         {}
func (Nop) RecordGroupState(string, models.FitState)   {}
func (Nop) RecordLastForecast(string, string, float64) {}
func (Nop) RecordLatency(string, float64)              {}
