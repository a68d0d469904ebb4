package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is one record to publish. Values that are not bytes or strings
// are sent as JSON.
type Message struct {
	Key     []byte
	Value   interface{}
	Headers map[string]string
}

// Producer writes messages to any topic through one kafka.Writer.
type Producer struct {
	w       *kafka.Writer
	codec   string
	metrics *kafkaMetrics
}

// NewProducer creates a producer. Brokers are required; everything else has
// a default.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &Producer{w: cfg.writer(), codec: cfg.Compression, metrics: clientMetrics()}, nil
}

// PublishMessage sends one unkeyed message. It also serves as the log
// collector's publisher.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Value: payload}})
}

// PublishBatch encodes every message first, so a bad value fails the call
// before anything is written, then writes them in one call.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	now := time.Now().UTC()
	out := make([]kafka.Message, len(messages))
	var size int64
	for i, m := range messages {
		v, err := Encode(m.Value)
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		out[i] = kafka.Message{Topic: topic, Key: m.Key, Value: v, Time: now, Headers: headers(m.Headers)}
		size += int64(len(v))
	}

	start := time.Now()
	err := p.w.WriteMessages(ctx, out...)
	p.metrics.observeWrite(topic, p.codec, len(out), size, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.w == nil {
		return nil
	}
	return p.w.Close()
}

// Encode turns a payload into message bytes; non-byte values become JSON.
func Encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return b, nil
}

func headers(m map[string]string) []kafka.Header {
	if len(m) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(m))
	for k, v := range m {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}
