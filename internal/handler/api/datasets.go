package api

import (
	"time"

	"github.com/labstack/echo/v4"

	models "KSHPull/internal/domain/models"
	xhttp "KSHPull/pkg/http"
)

func (h *Handler) ListDatasets(c echo.Context) error {
	list := h.datasets.List()
	return xhttp.ListResponse(c, list, int64(len(list)))
}

// Records serves a dataset's tidy records, freshly transformed or from the
// store (source=store).
func (h *Handler) Records(c echo.Context) error {
	start := time.Now()
	defer observe("records", start)

	req := &models.RecordsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	recs, err := h.datasets.Records(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "records", err)
	}
	if req.Source != "store" && !req.Refresh {
		c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=300")
	}
	return xhttp.ListResponse(c, recs, int64(len(recs)))
}
