package repository

import (
	"context"

	"KSHPull/internal/domain/models"
)

// TidyReader provides read-only access to stored tidy records.
type TidyReader interface {
	Query(ctx context.Context, dataset string, from, to models.Period, limit int) ([]models.TidyRecord, error)
}

// ReportCache keeps finished forecast reports addressable by run id.
type ReportCache interface {
	SaveReport(ctx context.Context, report *models.ForecastReport) error
	GetReport(ctx context.Context, runID string) (*models.ForecastReport, error)
}
