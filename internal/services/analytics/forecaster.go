// Package analytics adapts the external forecasting service to the
// forecast engine's Model interface.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"KSHPull/internal/domain/models"
	domsvc "KSHPull/internal/domain/service"
	xhttp "KSHPull/pkg/http"
)

// HTTPForecaster posts the whole series to {baseURL}/forecast. Fit only
// captures the series; the service call happens in Predict.
type HTTPForecaster struct {
	client  *xhttp.Client
	baseURL string
	model   string
}

// NewHTTPForecaster creates a forecaster that retries transient failures
// up to attempts times within timeout each.
func NewHTTPForecaster(baseURL, model string, timeout time.Duration, attempts int) (*HTTPForecaster, error) {
	if baseURL == "" {
		return nil, errors.New("analytics service url is empty")
	}
	return &HTTPForecaster{
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout), xhttp.WithRetry(attempts, 200*time.Millisecond)),
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
	}, nil
}

func (f *HTTPForecaster) Name() string {
	if f.model == "" {
		return "remote"
	}
	return "remote:" + f.model
}

type forecastReq struct {
	Model       string               `json:"model,omitempty"`
	Group       string               `json:"group"`
	Granularity models.Granularity   `json:"granularity"`
	Series      []models.Observation `json:"series"`
	Horizon     int                  `json:"horizon"`
}

type forecastResp struct {
	Points []struct {
		Period models.Period `json:"period"`
		Point  float64       `json:"point"`
		Lower  *float64      `json:"lower"`
		Upper  *float64      `json:"upper"`
	} `json:"points"`
}

func (f *HTTPForecaster) Fit(ctx context.Context, series models.GroupSeries) (domsvc.FittedModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if series.Len() == 0 {
		return nil, fmt.Errorf("%w: empty series %s", models.ErrInsufficientData, series.Name())
	}
	return &remoteFit{f: f, series: series}, nil
}

type remoteFit struct {
	f      *HTTPForecaster
	series models.GroupSeries
}

func (r *remoteFit) Predict(ctx context.Context, horizon int) ([]models.ForecastPoint, error) {
	req := forecastReq{
		Model:       r.f.model,
		Group:       r.series.Name(),
		Granularity: r.series.Granularity,
		Series:      r.series.Observations,
		Horizon:     horizon,
	}
	var resp forecastResp
	if err := r.f.client.PostJSON(ctx, r.f.baseURL+"/forecast", req, &resp); err != nil {
		return nil, fmt.Errorf("remote forecast %s: %w", r.series.Name(), err)
	}
	if len(resp.Points) != horizon {
		return nil, fmt.Errorf("remote forecast %s: got %d points, want %d", r.series.Name(), len(resp.Points), horizon)
	}
	out := make([]models.ForecastPoint, len(resp.Points))
	for i, p := range resp.Points {
		out[i] = models.ForecastPoint{Period: p.Period, Point: p.Point, Lower: p.Lower, Upper: p.Upper}
	}
	return out, nil
}

var _ domsvc.Model = (*HTTPForecaster)(nil)
