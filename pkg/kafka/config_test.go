package kafka

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerConfigDefaults(t *testing.T) {
	cfg := ProducerConfig{Brokers: []string{"localhost:9092"}}
	require.NoError(t, cfg.normalize())

	assert.Equal(t, -1, cfg.RequiredAcks)
	assert.Equal(t, "gzip", cfg.Compression)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Equal(t, "hash", cfg.Balancer)

	w := cfg.writer()
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
	assert.Equal(t, kafka.Gzip, w.Compression)
	assert.Equal(t, int64(1048576), w.BatchBytes)
}

func TestProducerConfigRejects(t *testing.T) {
	for name, cfg := range map[string]ProducerConfig{
		"no brokers":  {},
		"compression": {Brokers: []string{"b:9092"}, Compression: "brotli"},
		"balancer":    {Brokers: []string{"b:9092"}, Balancer: "random"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, cfg.normalize())
		})
	}

	_, err := NewProducer(ProducerConfig{})
	assert.Error(t, err)
}

func TestConsumerConfig(t *testing.T) {
	cfg := ConsumerConfig{Brokers: []string{"localhost:9092"}}
	require.NoError(t, cfg.normalize())
	assert.Equal(t, "kshpull", cfg.GroupID)
	assert.Equal(t, kafka.FirstOffset, cfg.StartOffset)
	assert.Equal(t, 1, cfg.Workers)

	bad := ConsumerConfig{Brokers: []string{"b:9092"}, BackoffMin: time.Second, BackoffMax: time.Millisecond}
	assert.Error(t, bad.normalize())

	_, err := NewConsumer(ConsumerConfig{}, nil)
	assert.Error(t, err)
}
