package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships a batch of aggregated log entries, usually to Kafka.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval, 30s when zero
	CountThreshold int           // distinct entries before an early flush, 100 when zero
	Topic          string
	Publisher      Publisher
	// IgnoreFields are left out of the dedup fingerprint, e.g. "elapsed".
	IgnoreFields []string
}

type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogBatch is the payload sent on every flush.
type LogBatch struct {
	Host    string               `json:"host"`
	SentAt  time.Time            `json:"sent_at"`
	Entries []AggregatedLogEntry `json:"entries"`
}

// LogCollector deduplicates warn and error events so that a run with many
// failing groups emits one entry per distinct failure with a count.
// Batches are published in order by a single sender.
type LogCollector struct {
	cfg    CollectionConfig
	ignore map[string]bool
	host   string

	mu      sync.Mutex
	pending map[uint64]*AggregatedLogEntry
	closed  bool

	out  chan LogBatch
	done chan struct{}
	wg   sync.WaitGroup
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	cfg := *config
	if cfg.TimeInterval <= 0 {
		cfg.TimeInterval = 30 * time.Second
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 100
	}
	host, _ := os.Hostname()
	c := &LogCollector{
		cfg:     cfg,
		ignore:  make(map[string]bool, len(cfg.IgnoreFields)),
		host:    host,
		pending: make(map[uint64]*AggregatedLogEntry),
		out:     make(chan LogBatch, 8),
		done:    make(chan struct{}),
	}
	for _, f := range cfg.IgnoreFields {
		c.ignore[f] = true
	}
	c.wg.Add(2)
	go c.tick()
	go c.send()
	return c
}

// AddLog counts one event. Events after Close are dropped.
func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := c.fingerprint(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if e, ok := c.pending[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.pending[key] = &AggregatedLogEntry{
			Level: level, Message: message, Fields: fields, Caller: caller,
			Count: 1, FirstSeen: now, LastSeen: now,
		}
	}
	if len(c.pending) >= c.cfg.CountThreshold {
		c.cutLocked()
	}
}

// Pending reports the number of distinct entries waiting for a flush.
func (c *LogCollector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close flushes what is pending and waits until every batch is sent.
func (c *LogCollector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cutLocked()
	close(c.out)
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
}

// fingerprint hashes everything but the ignored fields. Values are compared
// by their printed form.
func (c *LogCollector) fingerprint(level, message string, fields map[string]interface{}, caller string) uint64 {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !c.ignore[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%s", level, message, caller)
	for _, k := range keys {
		fmt.Fprintf(h, "\x00%s=%v", k, fields[k])
	}
	return h.Sum64()
}

// cutLocked moves pending entries into a batch for the sender. Callers hold
// mu. A full outbox drops the batch rather than block logging.
func (c *LogCollector) cutLocked() {
	if len(c.pending) == 0 {
		return
	}
	entries := make([]AggregatedLogEntry, 0, len(c.pending))
	for _, e := range c.pending {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FirstSeen.Before(entries[j].FirstSeen) })
	c.pending = make(map[uint64]*AggregatedLogEntry)

	select {
	case c.out <- LogBatch{Host: c.host, SentAt: time.Now().UTC(), Entries: entries}:
	default:
		fmt.Fprintf(os.Stderr, "log collector outbox full, dropped %d entries\n", len(entries))
	}
}

func (c *LogCollector) tick() {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.mu.Lock()
			if !c.closed {
				c.cutLocked()
			}
			c.mu.Unlock()
		}
	}
}

func (c *LogCollector) send() {
	defer c.wg.Done()
	for batch := range c.out {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
			fmt.Fprintf(os.Stderr, "failed to send aggregated logs: %v\n", err)
		}
		cancel()
	}
}
