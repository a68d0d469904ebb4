package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"KSHPull/pkg/http/middleware"
	"KSHPull/pkg/logger"
)

// ServerOption configures Server.
type ServerOption func(*Server)

// Server is the Echo instance serving the API, /healthz and metrics.
type Server struct {
	echo *echo.Echo
	log  *logger.Logger

	host          string
	port          int
	readTimeout   time.Duration
	writeTimeout  time.Duration
	metricsPath   string
	slowThreshold time.Duration
	// health reports readiness on /healthz; nil means always healthy.
	health func(context.Context) error

	listener net.Listener
}

// NewServer builds the middleware chain and mounts handler.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	s := &Server{
		host:          "0.0.0.0",
		port:          8080,
		readTimeout:   15 * time.Second,
		writeTimeout:  2 * time.Minute,
		metricsPath:   "/metrics",
		slowThreshold: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = s.readTimeout
	e.Server.WriteTimeout = s.writeTimeout

	e.Use(echomw.RequestID())
	e.Use(middleware.Recover(s.log))
	e.Use(middleware.Metrics(s.log, s.slowThreshold))
	e.Use(middleware.RequestLogging(s.log))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		MaxAge:       600,
	}))

	if handler != nil {
		handler.RegisterRoutes(e)
	}
	e.GET("/healthz", s.healthz)
	if s.metricsPath != "" {
		e.GET(s.metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	s.echo = e
	return s
}

func (s *Server) healthz(c echo.Context) error {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			return DataResponse(c, http.StatusServiceUnavailable, err.Error())
		}
	}
	return SuccessResponse(c, "ok")
}

// Start binds the port, so address errors surface here, then serves in the
// background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.echo.Listener = ln

	go func() {
		s.log.Info("HTTP server listening", logger.String("addr", ln.Addr().String()))
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server failed", logger.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address, useful with port 0. Empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}

// ServeHTTP lets tests drive the full middleware chain without a socket.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// WithPort sets the listen port; 0 picks a free one.
func WithPort(port int) ServerOption {
	return func(s *Server) { s.port = port }
}

// WithTimeouts sets the read and write timeouts of the underlying server.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
	}
}

// WithMetricsPath sets the Prometheus scrape path; empty disables it.
func WithMetricsPath(path string) ServerOption {
	return func(s *Server) { s.metricsPath = path }
}

// WithSlowThreshold sets the latency above which requests are logged as slow.
func WithSlowThreshold(d time.Duration) ServerOption {
	return func(s *Server) { s.slowThreshold = d }
}

func WithServerLogger(l *logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithHealth sets the readiness check.
func WithHealth(fn func(context.Context) error) ServerOption {
	return func(s *Server) { s.health = fn }
}
