package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"KSHPull/internal/domain/models"
	domrepo "KSHPull/internal/domain/repository"
	applogger "KSHPull/pkg/logger"
)

// ErrBackpressure is returned by Process while the buffer is full. The
// consumer retries the message with backoff.
var ErrBackpressure = errors.New("record pipeline buffer full")

// ErrInvalidEvent wraps every validation failure of Process.
var ErrInvalidEvent = errors.New("invalid tidy event")

// Sink is the minimal storage interface the pipeline needs.
type Sink interface {
	StoreBatch(ctx context.Context, dataset string, records []models.TidyRecord) error
}

// RecordPipeline sits between the tidy stream and the column store. It
// validates events, buffers them per dataset and writes a batch once it is
// full or the flush interval elapses. A failed batch stays buffered and is
// retried on the next flush.
type RecordPipeline struct {
	sink       Sink
	metrics    domrepo.Metrics
	l          *applogger.Logger
	batchSize  int
	maxPending int
	interval   time.Duration

	mu      sync.Mutex
	pending map[string][]models.TidyRecord
	count   int

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

type PipelineOption func(*RecordPipeline)

// WithBatchSize sets the number of records per dataset that triggers a write.
func WithBatchSize(n int) PipelineOption {
	return func(p *RecordPipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithFlushInterval sets how often partial batches are written.
func WithFlushInterval(d time.Duration) PipelineOption {
	return func(p *RecordPipeline) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxPending caps buffered records across all datasets.
func WithMaxPending(n int) PipelineOption {
	return func(p *RecordPipeline) {
		if n > 0 {
			p.maxPending = n
		}
	}
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *RecordPipeline) {
		if l != nil {
			p.l = l
		}
	}
}

// NewRecordPipeline creates a new pipeline.
func NewRecordPipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *RecordPipeline {
	p := &RecordPipeline{
		sink:       sink,
		metrics:    metrics,
		l:          applogger.NewNop(),
		batchSize:  500,
		maxPending: 20000,
		interval:   time.Second,
		pending:    make(map[string][]models.TidyRecord),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxPending < p.batchSize {
		p.maxPending = p.batchSize
	}
	return p
}

// Start launches the periodic flush.
func (p *RecordPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go func() {
		defer close(p.doneCh)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.Flush(ctx); err != nil {
					p.l.Warn("record pipeline flush failed", applogger.Error(err))
				}
			}
		}
	}()
}

// Stop ends the periodic flush and writes what is still buffered.
func (p *RecordPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return p.Flush(ctx)
	}
	p.started = false
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.Flush(ctx)
}

// Process validates ev and buffers it. A full dataset batch is written
// before Process returns; if that write fails the records stay buffered
// for the next flush and ev still counts as accepted.
func (p *RecordPipeline) Process(ctx context.Context, ev models.TidyEvent) error {
	if err := validateEvent(ev); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}

	p.mu.Lock()
	if p.count >= p.maxPending {
		p.mu.Unlock()
		p.metrics.RecordError("pipeline_buffer_full")
		return ErrBackpressure
	}
	p.pending[ev.Dataset] = append(p.pending[ev.Dataset], ev.Record)
	p.count++
	full := len(p.pending[ev.Dataset]) >= p.batchSize
	p.mu.Unlock()

	if full {
		if err := p.flushDataset(ctx, ev.Dataset); err != nil {
			p.l.Warn("record pipeline write deferred",
				applogger.String("dataset", ev.Dataset),
				applogger.Error(err))
		}
	}
	return nil
}

// Pending reports the number of buffered records.
func (p *RecordPipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Flush writes every buffered dataset.
func (p *RecordPipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	names := make([]string, 0, len(p.pending))
	for name := range p.pending {
		names = append(names, name)
	}
	p.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := p.flushDataset(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *RecordPipeline) flushDataset(ctx context.Context, dataset string) error {
	p.mu.Lock()
	batch := p.pending[dataset]
	delete(p.pending, dataset)
	p.count -= len(batch)
	p.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := p.sink.StoreBatch(ctx, dataset, batch); err != nil {
		p.metrics.RecordError("pipeline_flush")
		p.mu.Lock()
		// put the batch back in front of anything that arrived meanwhile
		p.pending[dataset] = append(batch, p.pending[dataset]...)
		p.count += len(batch)
		p.mu.Unlock()
		return fmt.Errorf("flush %s: %w", dataset, err)
	}
	p.metrics.RecordRecords("clickhouse", dataset, len(batch))
	p.metrics.RecordLatency("pipeline_flush", time.Since(start).Seconds())
	return nil
}

func validateEvent(ev models.TidyEvent) error {
	if ev.Dataset == "" {
		return fmt.Errorf("%w: no dataset", ErrInvalidEvent)
	}
	if !ev.Record.Category.Resolved() {
		return fmt.Errorf("%w: %s record has an unresolved category", ErrInvalidEvent, ev.Dataset)
	}
	if ev.Record.Period.IsZero() {
		return fmt.Errorf("%w: %s record has no period", ErrInvalidEvent, ev.Dataset)
	}
	return nil
}
