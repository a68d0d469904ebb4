package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestLimiterPerKeyBurst(t *testing.T) {
	l := New(1, 2)
	now := time.Now()

	assert.True(t, l.allowAt("10.0.0.1", now))
	assert.True(t, l.allowAt("10.0.0.1", now))
	assert.False(t, l.allowAt("10.0.0.1", now))
	assert.True(t, l.allowAt("10.0.0.2", now), "keys do not share a bucket")

	assert.True(t, l.allowAt("10.0.0.1", now.Add(1100*time.Millisecond)), "one token refills per second")
}

func TestLimiterDropsIdleKeys(t *testing.T) {
	l := New(1, 1)
	now := time.Now()
	l.allowAt("a", now)
	l.allowAt("b", now)
	assert.Equal(t, 2, l.Len())

	l.allowAt("c", now.Add(time.Hour))
	assert.Equal(t, 1, l.Len())
}

func TestLimiterMiddleware(t *testing.T) {
	e := echo.New()
	l := New(0.001, 1)
	e.POST("/api/forecasts", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, l.Middleware())

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/forecasts", nil)
		req.RemoteAddr = "192.0.2.7:5555"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())
}
