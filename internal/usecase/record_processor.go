package usecase

import (
	"context"
	"fmt"
	"time"

	"KSHPull/internal/domain/models"
	drepo "KSHPull/internal/domain/repository"
)

// Backend names accepted by RecordProcessor.
const (
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	BackendNone       = "none"
)

// RecordProcessor routes tidy datasets to the configured backend.
type RecordProcessor struct {
	pub     drepo.Publisher
	store   drepo.Storage
	metrics drepo.Metrics
	backend string
	batchSz int
}

// NewRecordProcessor creates a new RecordProcessor instance. pub and store
// may be nil when the backend does not use them.
func NewRecordProcessor(
	pub drepo.Publisher,
	store drepo.Storage,
	metrics drepo.Metrics,
	backend string,
	batchSz int,
) *RecordProcessor {
	if batchSz <= 0 {
		batchSz = 500
	}
	return &RecordProcessor{
		pub:     pub,
		store:   store,
		metrics: metrics,
		backend: backend,
		batchSz: batchSz,
	}
}

func (p *RecordProcessor) Backend() string { return p.backend }

// Process sends every record of ds to the backend. The none backend accepts
// and drops them.
func (p *RecordProcessor) Process(ctx context.Context, ds *models.TidyDataset) error {
	if ds == nil {
		return fmt.Errorf("dataset is nil")
	}
	start := time.Now()
	var err error

	switch p.backend {
	case BackendKafka:
		if p.pub == nil {
			return fmt.Errorf("kafka backend without publisher")
		}
		err = p.pub.Publish(ctx, ds)
	case BackendClickHouse:
		if p.store == nil {
			return fmt.Errorf("clickhouse backend without storage")
		}
		err = p.storeChunks(ctx, ds)
	case BackendNone, "":
		return nil
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process %s: %w", ds.Name, err)
	}

	p.metrics.RecordRecords(p.backend, ds.Name, len(ds.Records))
	p.metrics.RecordLatency("process", time.Since(start).Seconds())
	return nil
}

func (p *RecordProcessor) storeChunks(ctx context.Context, ds *models.TidyDataset) error {
	for start := 0; start < len(ds.Records); start += p.batchSz {
		end := min(start+p.batchSz, len(ds.Records))
		if err := p.store.StoreBatch(ctx, ds.Name, ds.Records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// StoreReport persists a forecast report when the backend keeps history.
func (p *RecordProcessor) StoreReport(ctx context.Context, report *models.ForecastReport) error {
	if p.backend != BackendClickHouse || p.store == nil {
		return nil
	}
	if err := p.store.StoreReport(ctx, report); err != nil {
		p.metrics.RecordError("store_report")
		return err
	}
	return nil
}

// Close closes underlying resources if available.
func (p *RecordProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
