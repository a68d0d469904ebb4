package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"KSHPull/internal/middleware"
	"KSHPull/internal/usecase"
	"KSHPull/pkg/cache"
	pkgch "KSHPull/pkg/clickhouse"
	"KSHPull/pkg/config"
	xhttp "KSHPull/pkg/http"
	pkgkafka "KSHPull/pkg/kafka"
	applogger "KSHPull/pkg/logger"
	"KSHPull/pkg/queue"
)

// Components are the wired parts the App starts and stops. Optional parts
// are nil when their feature is disabled.
type Components struct {
	Handler    xhttp.Handler
	Datasets   *usecase.DatasetService
	Pipeline   *usecase.ForecastPipeline
	Runner     *usecase.ForecastRunner
	Scheduler  *usecase.RefreshScheduler
	Processor  *usecase.RecordProcessor
	RecordPipe *middleware.RecordPipeline
	Consumer   *pkgkafka.Consumer
	TidyKafka  *usecase.KafkaTidyHandler
	Queue      *queue.RedisQueue
	ClickHouse *pkgch.Client
	Cache      cache.Service
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	c          Components
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	if l == nil {
		l = applogger.NewNop()
	}
	return &App{cfg: cfg, l: l, c: c}
}

// Run starts every enabled component and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	a.httpServer = xhttp.NewServer(a.c.Handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout),
		xhttp.WithSlowThreshold(a.cfg.Server.SlowThreshold),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithServerLogger(a.l),
		xhttp.WithHealth(a.health),
	)

	if a.c.Queue != nil {
		if err := a.c.Queue.Start(); err != nil {
			return fmt.Errorf("forecast queue: %w", err)
		}
	}

	if a.c.Consumer != nil && a.c.TidyKafka != nil {
		a.c.RecordPipe.Start(ctx)
		if err := a.c.Consumer.RegisterHandler(a.c.TidyKafka); err != nil {
			return fmt.Errorf("kafka handler: %w", err)
		}
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.c.TidyKafka.Topic()))
	}

	if a.c.Scheduler != nil {
		a.c.Scheduler.Start(ctx)
	}

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}
	a.l.Info("kshpull started",
		applogger.String("backend", a.cfg.Backend.Type),
		applogger.Int("datasets", len(a.cfg.Datasets)),
		applogger.Int("jobs", len(a.cfg.Jobs)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// RunOnce ingests every dataset and runs one job, or all jobs when job is
// empty, then releases resources.
func (a *App) RunOnce(ctx context.Context, job string) error {
	defer func() { _ = a.shutdown(context.WithoutCancel(ctx)) }()

	if err := a.c.Datasets.IngestAll(ctx, false); err != nil {
		a.l.Warn("ingest finished with failures", applogger.Error(err))
	}
	if job == "" {
		reports, err := a.c.Pipeline.RunAll(ctx, false)
		for _, r := range reports {
			a.logReport(r.Job, r.RunID, r.Succeeded, r.Failed)
		}
		return err
	}
	r, err := a.c.Pipeline.Run(ctx, usecase.RunRequest{Job: job}, nil)
	if err != nil {
		return err
	}
	a.logReport(r.Job, r.RunID, r.Succeeded, r.Failed)
	return nil
}

func (a *App) logReport(job, runID string, ok, failed int) {
	a.l.Info("forecast report",
		applogger.String("job", job),
		applogger.String("run_id", runID),
		applogger.Int("succeeded", ok),
		applogger.Int("failed", failed))
}

func (a *App) health(ctx context.Context) error {
	var errs []error
	if a.c.ClickHouse != nil {
		if err := a.c.ClickHouse.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
	}
	if a.c.Cache != nil {
		if _, err := a.c.Cache.Exists(ctx, cache.Key("health")); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// shutdown gracefully stops all services, producers last so that nothing
// still running loses its sink.
func (a *App) shutdown(ctx context.Context) error {
	a.l.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.c.Scheduler != nil {
		if err := a.c.Scheduler.Shutdown(shutdownCtx); err != nil {
			a.l.Warn("scheduler stop error", applogger.Error(err))
		}
	}
	if a.c.Runner != nil {
		if err := a.c.Runner.Shutdown(shutdownCtx); err != nil {
			a.l.Warn("forecast runner stop error", applogger.Error(err))
		}
	}
	if a.c.Queue != nil {
		if err := a.c.Queue.Stop(shutdownCtx); err != nil {
			a.l.Warn("forecast queue stop error", applogger.Error(err))
		}
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(shutdownCtx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.c.RecordPipe != nil {
		if err := a.c.RecordPipe.Stop(shutdownCtx); err != nil {
			a.l.Warn("record pipeline flush error", applogger.Error(err), applogger.Int("pending", a.c.RecordPipe.Pending()))
		}
	}
	// flush collected logs while the producer is still open
	a.l.RemoveCollector()
	if a.c.Processor != nil {
		a.c.Processor.Close()
	}
	if a.c.ClickHouse != nil {
		if err := a.c.ClickHouse.Close(); err != nil {
			a.l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if closer, ok := a.c.Cache.(io.Closer); ok {
		_ = closer.Close()
	}

	a.l.Info("shutdown complete")
	return nil
}
