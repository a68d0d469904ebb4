package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	models "KSHPull/internal/domain/models"
	"KSHPull/internal/service/metrics"
	"KSHPull/internal/usecase"
	xhttp "KSHPull/pkg/http"
	xlogger "KSHPull/pkg/logger"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamMessage is one frame of a forecast stream: a group result as it
// finishes, then one report frame, or an error frame.
type streamMessage struct {
	Type   string                 `json:"type"`
	Result *models.ForecastResult `json:"result,omitempty"`
	Report *reportSummary         `json:"report,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

type reportSummary struct {
	RunID     string `json:"run_id"`
	Job       string `json:"job"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// StreamForecast runs a job over a websocket and pushes each group's result
// as soon as it is final. Closing the socket cancels the run.
func (h *Handler) StreamForecast(c echo.Context) error {
	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if _, err := h.pipeline.Job(req.Job); err != nil {
		return h.fail(c, "stream", err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already answered the client
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	defer conn.Close()
	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go func() {
		// drain control frames; any read error means the client left
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	var mu sync.Mutex
	send := func(m streamMessage) {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(m); err != nil {
			cancel()
		}
	}

	report, err := h.pipeline.Run(ctx, usecase.RunRequest{
		Job:     req.Job,
		Horizon: req.Horizon,
		Refresh: req.Refresh,
	}, func(r models.ForecastResult) {
		send(streamMessage{Type: "result", Result: &r})
	})
	if err != nil {
		metrics.APIErrors.WithLabelValues("stream", "ws").Inc()
		send(streamMessage{Type: "error", Error: err.Error()})
	} else {
		send(streamMessage{Type: "report", Report: &reportSummary{
			RunID:     report.RunID,
			Job:       report.Job,
			Succeeded: report.Succeeded,
			Failed:    report.Failed,
		}})
	}

	mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	mu.Unlock()
	return nil
}
