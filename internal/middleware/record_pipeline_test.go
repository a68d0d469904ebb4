package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KSHPull/internal/domain/models"
	"KSHPull/pkg/metrics"
)

type memSink struct {
	mu      sync.Mutex
	fail    bool
	batches map[string][][]models.TidyRecord
}

func (s *memSink) StoreBatch(_ context.Context, dataset string, records []models.TidyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("clickhouse down")
	}
	if s.batches == nil {
		s.batches = map[string][][]models.TidyRecord{}
	}
	s.batches[dataset] = append(s.batches[dataset], records)
	return nil
}

func (s *memSink) total(dataset string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches[dataset] {
		n += len(b)
	}
	return n
}

func event(dataset, label string, year int) models.TidyEvent {
	return models.TidyEvent{Dataset: dataset, Record: models.TidyRecord{
		Category: models.CategoryPath{label}, Period: models.YearPeriod(year), Value: models.Number(1),
	}}
}

func TestRecordPipelineFlushesFullBatch(t *testing.T) {
	sink := &memSink{}
	p := NewRecordPipeline(sink, metrics.Nop{}, WithBatchSize(2))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, event("lak0012", "Budapest", 2020)))
	assert.Equal(t, 0, sink.total("lak0012"))
	require.NoError(t, p.Process(ctx, event("lak0012", "Budapest", 2021)))
	assert.Equal(t, 2, sink.total("lak0012"))
	assert.Equal(t, 0, p.Pending())
}

func TestRecordPipelineRejectsInvalidEvents(t *testing.T) {
	p := NewRecordPipeline(&memSink{}, metrics.Nop{})
	ctx := context.Background()
	assert.ErrorIs(t, p.Process(ctx, event("", "Budapest", 2020)), ErrInvalidEvent)
	assert.ErrorIs(t, p.Process(ctx, event("lak0012", "", 2020)), ErrInvalidEvent)
	assert.ErrorIs(t, p.Process(ctx, models.TidyEvent{Dataset: "lak0012", Record: models.TidyRecord{Category: models.CategoryPath{"x"}}}), ErrInvalidEvent)
	assert.Equal(t, 0, p.Pending())
}

func TestRecordPipelineKeepsFailedBatchAndBackpressures(t *testing.T) {
	sink := &memSink{fail: true}
	p := NewRecordPipeline(sink, metrics.Nop{}, WithBatchSize(2), WithMaxPending(2))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, event("lak0014", "a", 2020)))
	require.NoError(t, p.Process(ctx, event("lak0014", "a", 2021)), "a failed write keeps the batch buffered")
	assert.Equal(t, 2, p.Pending())
	assert.ErrorIs(t, p.Process(ctx, event("lak0014", "a", 2022)), ErrBackpressure)

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	require.NoError(t, p.Flush(ctx))
	assert.Equal(t, 2, sink.total("lak0014"))
}

func TestRecordPipelineStopFlushesRemainder(t *testing.T) {
	sink := &memSink{}
	p := NewRecordPipeline(sink, metrics.Nop{}, WithBatchSize(100), WithFlushInterval(time.Hour))
	ctx := context.Background()
	p.Start(ctx)

	require.NoError(t, p.Process(ctx, event("lak0020", "Észak-Alföld", 2019)))
	require.NoError(t, p.Stop(ctx))
	assert.Equal(t, 1, sink.total("lak0020"))
}
