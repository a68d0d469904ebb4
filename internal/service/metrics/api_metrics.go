package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kshpull",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of dataset and forecast endpoints",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kshpull",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kshpull",
			Subsystem: "api",
			Name:      "stream_clients",
			Help:      "Open forecast websocket streams",
		},
	)
)

// Register adds the API collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors, StreamClients)
	})
}
