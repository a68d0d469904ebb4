package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	applogger "KSHPull/pkg/logger"
)

// RefreshScheduler re-ingests every dataset and then runs every job on a
// fixed period.
type RefreshScheduler struct {
	datasets *DatasetService
	pipeline *ForecastPipeline
	interval time.Duration
	runJobs  bool
	l        *applogger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefreshScheduler creates a scheduler. pipeline may be nil when jobs
// are not run.
func NewRefreshScheduler(datasets *DatasetService, pipeline *ForecastPipeline, interval time.Duration, runJobs bool, l *applogger.Logger) *RefreshScheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &RefreshScheduler{
		datasets: datasets,
		pipeline: pipeline,
		interval: interval,
		runJobs:  runJobs && pipeline != nil,
		l:        l,
	}
}

// RunOnce refreshes every dataset, then runs the jobs on the fresh tables.
// Failures of single datasets or jobs are joined, the rest still runs.
func (s *RefreshScheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	ingestErr := s.datasets.IngestAll(ctx, true)
	var jobErr error
	if s.runJobs {
		_, jobErr = s.pipeline.RunAll(ctx, false)
	}
	err := errors.Join(ingestErr, jobErr)
	s.l.Info("scheduled refresh finished",
		applogger.Duration("elapsed", time.Since(start)),
		applogger.Bool("ok", err == nil))
	return err
}

// Start runs the refresh every interval until ctx ends or Shutdown is
// called. The first run happens after one interval.
func (s *RefreshScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.RunOnce(ctx); err != nil {
					s.l.Warn("scheduled refresh had failures", applogger.Error(err))
				}
			}
		}
	}(s.done)
	s.l.Info("refresh scheduler started", applogger.Duration("interval", s.interval))
}

// Shutdown stops the loop and waits for a running refresh to return.
func (s *RefreshScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
