package service

import (
	"context"

	"KSHPull/internal/domain/models"
)

// Model fits a time-series model to one regular, gap-free series.
type Model interface {
	Name() string
	Fit(ctx context.Context, series models.GroupSeries) (FittedModel, error)
}

// FittedModel produces forecasts for the periods following the fitted series.
type FittedModel interface {
	Predict(ctx context.Context, horizon int) ([]models.ForecastPoint, error)
}
