package api

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"KSHPull/internal/service/metrics"
	"KSHPull/internal/service/ratelimit"
	"KSHPull/internal/usecase"
	xhttp "KSHPull/pkg/http"
	xlogger "KSHPull/pkg/logger"
)

// Handler serves the dataset and forecast API.
type Handler struct {
	logger   *xlogger.Logger
	datasets *usecase.DatasetService
	pipeline *usecase.ForecastPipeline
	runner   *usecase.ForecastRunner
	limiter  *ratelimit.Limiter
}

func NewHandler(logger *xlogger.Logger, datasets *usecase.DatasetService, pipeline *usecase.ForecastPipeline, runner *usecase.ForecastRunner, limiter *ratelimit.Limiter) *Handler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	metrics.Register()
	return &Handler{logger: logger, datasets: datasets, pipeline: pipeline, runner: runner, limiter: limiter}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	var limited []echo.MiddlewareFunc
	if h.limiter != nil {
		limited = append(limited, h.limiter.Middleware())
	}

	g := e.Group("/api")
	g.GET("/datasets", h.ListDatasets)
	g.GET("/datasets/:name/records", h.Records)
	g.GET("/jobs", h.ListJobs)
	g.POST("/forecasts", h.RunForecast, limited...)
	g.POST("/forecasts/async", h.SubmitForecast, limited...)
	g.GET("/forecasts/:id", h.Report)

	e.GET("/ws/forecasts", h.StreamForecast, limited...)
}

func observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (h *Handler) fail(c echo.Context, endpoint string, err error) error {
	appErr := xhttp.FromError(err)
	metrics.APIErrors.WithLabelValues(endpoint, strconv.Itoa(appErr.Status)).Inc()
	if appErr.Status >= 500 {
		h.logger.Error(endpoint+" failed", xlogger.Error(err))
	} else {
		h.logger.Debug(endpoint+" rejected", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, err)
}
