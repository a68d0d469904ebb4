package kafka

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"
)

var validate = validator.New()

// ProducerConfig describes the writer behind a Producer. Zero fields take
// the defaults below, so RequiredAcks 0 means all replicas.
type ProducerConfig struct {
	Brokers      []string      `validate:"min=1,dive,required"`
	RequiredAcks int           `default:"-1" validate:"oneof=-1 1"`
	Compression  string        `default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
	MaxAttempts  int           `default:"3" validate:"gte=1"`
	WriteTimeout time.Duration `default:"10s"`
	ReadTimeout  time.Duration `default:"10s"`
	BatchSize    int           `default:"100" validate:"gte=1"`
	BatchBytes   int           `default:"1048576" validate:"gte=1"`
	BatchTimeout time.Duration `default:"1s"`
	Async        bool
	// Balancer "hash" keeps every message of a key, e.g. one dataset, on
	// one partition.
	Balancer string `default:"hash" validate:"oneof=hash least_bytes"`
}

func (c *ProducerConfig) normalize() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("producer defaults: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("producer config: %w", err)
	}
	return nil
}

func (c *ProducerConfig) writer() *kafka.Writer {
	var bal kafka.Balancer = &kafka.Hash{}
	if c.Balancer == "least_bytes" {
		bal = &kafka.LeastBytes{}
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Balancer:     bal,
		RequiredAcks: kafka.RequiredAcks(c.RequiredAcks),
		Compression:  compressionCodecs[c.Compression],
		MaxAttempts:  c.MaxAttempts,
		WriteTimeout: c.WriteTimeout,
		ReadTimeout:  c.ReadTimeout,
		BatchSize:    c.BatchSize,
		BatchBytes:   int64(c.BatchBytes),
		BatchTimeout: c.BatchTimeout,
		Async:        c.Async,
	}
}

var compressionCodecs = map[string]kafka.Compression{
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

// ConsumerConfig describes the readers and worker pool of a Consumer.
type ConsumerConfig struct {
	Brokers []string `validate:"min=1,dive,required"`
	GroupID string   `default:"kshpull" validate:"required"`
	// StartOffset applies to a group without committed offsets:
	// kafka.FirstOffset (-2) or kafka.LastOffset (-1).
	StartOffset int64 `default:"-2" validate:"oneof=-2 -1"`
	Workers     int   `default:"1" validate:"gte=1,lte=64"`
	// QueueSize is the per-worker buffer between fetch and handle.
	QueueSize  int           `default:"100" validate:"gte=1"`
	RetryMax   int           `default:"3" validate:"gte=0"`
	BackoffMin time.Duration `default:"50ms"`
	BackoffMax time.Duration `default:"2s" validate:"gtefield=BackoffMin"`
	// DLQTopic receives messages that failed every attempt. Without one a
	// failed message is dropped once a later offset of its partition commits.
	DLQTopic string
	MinBytes int `default:"1" validate:"gte=1"`
	MaxBytes int `default:"10485760" validate:"gtefield=MinBytes"`
}

func (c *ConsumerConfig) normalize() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("consumer defaults: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("consumer config: %w", err)
	}
	return nil
}
