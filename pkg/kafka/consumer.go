package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"KSHPull/pkg/logger"
)

// MessageHandler handles the payloads of one topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, payload []byte) error
}

type fetched struct {
	reader *kafka.Reader
	handle HandlerFunc
	km     kafka.Message
}

// Consumer reads every registered topic in one consumer group. Each
// partition maps to one worker lane, so messages of a partition are handled
// in offset order while different partitions proceed in parallel.
type Consumer struct {
	cfg      ConsumerConfig
	log      *logger.Logger
	metrics  *kafkaMetrics
	mws      []Middleware
	handlers map[string]MessageHandler
	dlq      *kafka.Writer

	readers  []*kafka.Reader
	lanes    []chan fetched
	cancel   context.CancelFunc
	fetchers sync.WaitGroup
	workers  sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer validates cfg. Handlers and middleware are added before Start.
func NewConsumer(cfg ConsumerConfig, l *logger.Logger) (*Consumer, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.NewNop()
	}
	c := &Consumer{
		cfg:      cfg,
		log:      l,
		metrics:  clientMetrics(),
		handlers: make(map[string]MessageHandler),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.Hash{}}
	}
	return c, nil
}

// Use appends middleware around every handler. The first is outermost.
func (c *Consumer) Use(mws ...Middleware) {
	c.mws = append(c.mws, mws...)
}

// RegisterHandler adds the handler for h.Topic().
func (c *Consumer) RegisterHandler(h MessageHandler) error {
	if _, dup := c.handlers[h.Topic()]; dup {
		return fmt.Errorf("handler already registered for topic %s", h.Topic())
	}
	c.handlers[h.Topic()] = h
	return nil
}

// Start opens one reader per topic and the worker lanes.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("no handlers registered")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.lanes = make([]chan fetched, c.cfg.Workers)
	for i := range c.lanes {
		c.lanes[i] = make(chan fetched, c.cfg.QueueSize)
		c.workers.Add(1)
		go c.work(ctx, i)
	}

	chain := Chain(append([]Middleware{Recover()}, c.mws...)...)
	for topic, h := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			StartOffset: c.cfg.StartOffset,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
		})
		c.readers = append(c.readers, r)
		handle := chain(func(ctx context.Context, km kafka.Message) error {
			return h.Handle(ctx, km.Value)
		})
		c.fetchers.Add(1)
		go c.fetch(ctx, r, handle)
	}

	c.log.Info("Kafka consumer started",
		logger.String("group", c.cfg.GroupID),
		logger.Int("topics", len(c.readers)),
		logger.Int("workers", c.cfg.Workers))
	return nil
}

// Stop cancels fetching, lets each worker finish its current message and
// closes the readers. Queued messages stay uncommitted and are redelivered.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()
		c.fetchers.Wait()
		for _, lane := range c.lanes {
			close(lane)
		}

		done := make(chan struct{})
		go func() {
			c.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("waiting for kafka workers: %w", ctx.Err())
		}

		for _, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("Close kafka reader failed", logger.String("topic", r.Config().Topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
		if err == nil {
			c.log.Info("Kafka consumer stopped")
		}
	})
	return err
}

func (c *Consumer) fetch(ctx context.Context, r *kafka.Reader, handle HandlerFunc) {
	defer c.fetchers.Done()
	topic := r.Config().Topic
	for {
		km, err := r.FetchMessage(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.log.Warn("Kafka fetch failed", logger.String("topic", topic), logger.Error(err))
			if sleepCtx(ctx, time.Second) != nil {
				return
			}
			continue
		}

		i := lane(topic, km.Partition, len(c.lanes))
		select {
		case c.lanes[i] <- fetched{reader: r, handle: handle, km: km}:
			c.metrics.queueDepth.WithLabelValues(strconv.Itoa(i)).Set(float64(len(c.lanes[i])))
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(ctx context.Context, id int) {
	defer c.workers.Done()
	for f := range c.lanes[id] {
		if ctx.Err() != nil {
			continue
		}
		c.process(ctx, f)
	}
}

// process commits after success or a DLQ write so a poison message cannot
// block its partition.
func (c *Consumer) process(ctx context.Context, f fetched) {
	topic := f.km.Topic
	start := time.Now()
	err := c.attempt(ctx, f)
	c.metrics.handleTime.WithLabelValues(topic).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		c.log.Error("Kafka message failed",
			logger.String("topic", topic),
			logger.Int("partition", f.km.Partition),
			logger.Int64("offset", f.km.Offset),
			logger.Error(err))
		outcome = "dropped"
		if c.toDLQ(f.km, err) {
			outcome = "dlq"
		}
	}
	c.metrics.handled.WithLabelValues(topic, outcome).Inc()
	if outcome != "dropped" {
		c.commit(f.reader, f.km)
	}
}

// attempt runs the handler up to RetryMax+1 times. The handler context is
// not tied to ctx so a stop lets the current attempt finish; ctx only cuts
// the backoff short.
func (c *Consumer) attempt(ctx context.Context, f fetched) error {
	var err error
	for n := 0; ; n++ {
		err = f.handle(context.Background(), f.km)
		if err == nil || errors.Is(err, ErrPermanent) || n >= c.cfg.RetryMax {
			return err
		}
		if sleepCtx(ctx, backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, n)) != nil {
			return err
		}
	}
}

func (c *Consumer) toDLQ(km kafka.Message, cause error) bool {
	if c.dlq == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Key:   km.Key,
		Value: km.Value,
		Time:  time.Now().UTC(),
		Headers: append([]kafka.Header{
			{Key: "source_topic", Value: []byte(km.Topic)},
			{Key: "source_offset", Value: []byte(strconv.FormatInt(km.Offset, 10))},
			{Key: "error", Value: []byte(cause.Error())},
		}, km.Headers...),
	})
	if err != nil {
		c.log.Error("Write to DLQ failed", logger.String("topic", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(r *kafka.Reader, km kafka.Message) {
	var err error
	for n := 0; n < 3; n++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoff(50*time.Millisecond, 500*time.Millisecond, n))
	}
	c.log.Error("Kafka commit failed",
		logger.String("topic", km.Topic),
		logger.Int64("offset", km.Offset),
		logger.Error(err))
}

// lane maps a partition of topic to one of n workers.
func lane(topic string, partition, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int((h.Sum32() + uint32(partition)) % uint32(n))
}

// backoff doubles lo per retry up to hi and takes off up to half as jitter.
func backoff(lo, hi time.Duration, retry int) time.Duration {
	if lo <= 0 {
		lo = 50 * time.Millisecond
	}
	hi = max(hi, lo)
	d := hi
	if retry < 32 {
		if exp := lo << retry; exp > 0 && exp < hi {
			d = exp
		}
	}
	if half := int64(d / 2); half > 0 {
		d -= time.Duration(rand.Int63n(half))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
