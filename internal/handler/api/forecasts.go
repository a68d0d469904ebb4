package api

import (
	"time"

	"github.com/labstack/echo/v4"

	models "KSHPull/internal/domain/models"
	"KSHPull/internal/usecase"
	xhttp "KSHPull/pkg/http"
)

type submitResponse struct {
	RunID     string `json:"run_id"`
	Job       string `json:"job"`
	ReportURL string `json:"report_url"`
}

func (h *Handler) ListJobs(c echo.Context) error {
	jobs := h.pipeline.Jobs()
	return xhttp.ListResponse(c, jobs, int64(len(jobs)))
}

// RunForecast runs a job and answers with the finished report.
func (h *Handler) RunForecast(c echo.Context) error {
	start := time.Now()
	defer observe("forecast", start)

	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	report, err := h.pipeline.Run(c.Request().Context(), usecase.RunRequest{
		Job:     req.Job,
		Horizon: req.Horizon,
		Refresh: req.Refresh,
	}, nil)
	if err != nil {
		return h.fail(c, "forecast", err)
	}
	return xhttp.SuccessResponse(c, report)
}

// SubmitForecast schedules a job and returns where its report will appear.
func (h *Handler) SubmitForecast(c echo.Context) error {
	start := time.Now()
	defer observe("forecast_async", start)

	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	id, err := h.runner.Submit(c.Request().Context(), usecase.RunRequest{
		Job:     req.Job,
		Horizon: req.Horizon,
		Refresh: req.Refresh,
	})
	if err != nil {
		return h.fail(c, "forecast_async", err)
	}
	return xhttp.AcceptedResponse(c, submitResponse{
		RunID:     id,
		Job:       req.Job,
		ReportURL: "/api/forecasts/" + id,
	})
}

// Report returns a finished run, or 404 while it is still running.
func (h *Handler) Report(c echo.Context) error {
	start := time.Now()
	defer observe("report", start)

	req := &models.ReportRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	report, err := h.pipeline.Report(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, "report", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=3600")
	return xhttp.SuccessResponse(c, report)
}
