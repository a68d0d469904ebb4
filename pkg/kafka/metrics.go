package kafka

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type kafkaMetrics struct {
	published  *prometheus.CounterVec
	pubBytes   *prometheus.CounterVec
	pubLatency *prometheus.HistogramVec

	handled    *prometheus.CounterVec
	handleTime *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	km          *kafkaMetrics
)

func clientMetrics() *kafkaMetrics {
	metricsOnce.Do(func() {
		km = &kafkaMetrics{
			published: register(prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "kshpull_kafka_producer_messages_total",
				Help: "Messages written to Kafka by result",
			}, []string{"topic", "result"})).(*prometheus.CounterVec),
			pubBytes: register(prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "kshpull_kafka_producer_bytes_total",
				Help: "Payload bytes written to Kafka",
			}, []string{"topic", "compression"})).(*prometheus.CounterVec),
			pubLatency: register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "kshpull_kafka_producer_write_seconds",
				Help:    "Time spent in one batch write",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"})).(*prometheus.HistogramVec),
			handled: register(prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "kshpull_kafka_consumer_messages_total",
				Help: "Messages handled by outcome: ok, dlq or dropped",
			}, []string{"topic", "outcome"})).(*prometheus.CounterVec),
			handleTime: register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "kshpull_kafka_consumer_handle_seconds",
				Help:    "Handling time per message, retries included",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"})).(*prometheus.HistogramVec),
			queueDepth: register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "kshpull_kafka_consumer_queue_depth",
				Help: "Fetched messages waiting for a worker",
			}, []string{"worker"})).(*prometheus.GaugeVec),
		}
	})
	return km
}

func register(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func (m *kafkaMetrics) observeWrite(topic, codec string, n int, bytes int64, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.published.WithLabelValues(topic, result).Add(float64(n))
	if err == nil {
		m.pubBytes.WithLabelValues(topic, codec).Add(float64(bytes))
	}
	m.pubLatency.WithLabelValues(topic).Observe(took.Seconds())
}
