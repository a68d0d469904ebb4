package middleware

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"KSHPull/pkg/logger"
)

type httpMetrics struct {
	latency  *prometheus.HistogramVec
	size     *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

var (
	sharedMetrics *httpMetrics
	metricsOnce   sync.Once
)

// registered returns the process-wide collectors, registering them on
// first use. A second registration of the same names is tolerated.
func registered() *httpMetrics {
	metricsOnce.Do(func() {
		labels := []string{"route", "method", "class"}
		m := &httpMetrics{
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "kshpull_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 180},
			}, labels),
			size: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "kshpull_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(512, 4, 7),
			}, labels),
			inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "kshpull_http_in_flight_requests",
				Help: "Requests currently being served",
			}, []string{"route"}),
		}
		m.latency = registerOrReuse(m.latency).(*prometheus.HistogramVec)
		m.size = registerOrReuse(m.size).(*prometheus.HistogramVec)
		m.inFlight = registerOrReuse(m.inFlight).(*prometheus.GaugeVec)
		sharedMetrics = m
	})
	return sharedMetrics
}

func registerOrReuse(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// Metrics observes every request by route template. It renders handler
// errors itself so the recorded status is the one sent, then logs 5xx
// answers as errors and slow ones as warnings.
func Metrics(l *logger.Logger, slow time.Duration) echo.MiddlewareFunc {
	m := registered()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			gauge := m.inFlight.WithLabelValues(route)
			gauge.Inc()
			defer gauge.Dec()

			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			took := time.Since(start)

			res := c.Response()
			method := c.Request().Method
			class := StatusClass(res.Status)
			m.latency.WithLabelValues(route, method, class).Observe(took.Seconds())
			m.size.WithLabelValues(route, method, class).Observe(float64(res.Size))

			if l == nil {
				return nil
			}
			fields := []logger.Field{
				logger.String("route", route),
				logger.String("method", method),
				logger.Int("status", res.Status),
				logger.Duration("duration_ms", took),
			}
			if res.Status >= 500 {
				l.Error("HTTP request failed", fields...)
			} else if slow > 0 && took >= slow {
				l.Warn("HTTP request slow", fields...)
			}
			return nil
		}
	}
}

// StatusClass buckets a status code as "2xx", "4xx" and so on. Codes
// outside 100-599 count as "5xx".
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return strconv.Itoa(code/100) + "xx"
}
