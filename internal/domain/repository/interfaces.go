package repository

import (
	"context"

	"KSHPull/internal/domain/models"
)

type TableLoader interface {
	Load(ctx context.Context, src models.TableSource) (*models.RawTable, error)
}

type Publisher interface {
	Publish(ctx context.Context, ds *models.TidyDataset) error
	PublishBatch(ctx context.Context, dataset string, records []models.TidyRecord) error
	Close() error
}

type Storage interface {
	Init(ctx context.Context) error // ensure tables, health checks
	StoreBatch(ctx context.Context, dataset string, records []models.TidyRecord) error
	StoreReport(ctx context.Context, report *models.ForecastReport) error
	Query(ctx context.Context, dataset string, from, to models.Period, limit int) ([]models.TidyRecord, error)
	Health(ctx context.Context) error // ping
	Close() error
}

type Exporter interface {
	ExportDataset(ctx context.Context, ds *models.TidyDataset) (string, error)
	ExportReport(ctx context.Context, report *models.ForecastReport) (string, error)
}

type Metrics interface {
	RecordRecords(backend, dataset string, n int)
	RecordError(kind string)
	RecordGroupState(job string, state models.FitState)
	RecordLastForecast(job, group string, value float64)
	RecordLatency(op string, seconds float64)
}
