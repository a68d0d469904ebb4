package logger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches []LogBatch
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.(LogBatch))
	return nil
}

func TestCollectorDeduplicatesIgnoringVolatileFields(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 10,
		Topic:          "kshpull.logs",
		Publisher:      pub,
		IgnoreFields:   []string{"elapsed"},
	})

	c.AddLog("warn", "Forecast group failed", map[string]interface{}{"group": "Budapest", "elapsed": 12}, "engine.go:1")
	c.AddLog("warn", "Forecast group failed", map[string]interface{}{"group": "Budapest", "elapsed": 40}, "engine.go:1")
	c.AddLog("warn", "Forecast group failed", map[string]interface{}{"group": "Pest", "elapsed": 3}, "engine.go:1")
	assert.Equal(t, 2, c.Pending())

	c.Close()
	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Equal(t, "kshpull.logs", pub.topic)
	entries := pub.batches[0].Entries
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].Count)
	assert.Equal(t, 1, entries[1].Count)
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	c.AddLog("error", "a", nil, "x")
	c.AddLog("error", "b", nil, "x")
	assert.Equal(t, 0, c.Pending())
	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Len(t, pub.batches[0].Entries, 2)
}
