package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"KSHPull/internal/domain/models"
	applogger "KSHPull/pkg/logger"
	"KSHPull/pkg/queue"
)

// ForecastJobType is the queue message type for async forecast runs.
const ForecastJobType = "forecast.run"

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
}

// ForecastJob executes queued runs. The run id travels in the payload so
// the caller can poll the report before the run starts.
type ForecastJob struct {
	pipeline *ForecastPipeline
}

func NewForecastJob(p *ForecastPipeline) *ForecastJob {
	return &ForecastJob{pipeline: p}
}

func (j *ForecastJob) Name() string { return "forecast" }
func (j *ForecastJob) Type() string { return ForecastJobType }

func (j *ForecastJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.ParsePayload[RunRequest](payload)
	if err != nil {
		return err
	}
	_, err = j.pipeline.Run(ctx, *req, nil)
	if errors.Is(err, models.ErrUnknownJob) || errors.Is(err, models.ErrUnknownDataset) {
		// configuration changed since the message was queued; retrying cannot help
		return nil
	}
	return err
}

var _ queue.Job = (*ForecastJob)(nil)

// ForecastRunner starts runs in the background and returns their run id at
// once. With a queue the run goes through Redis; otherwise it runs in this
// process, bounded by a semaphore.
type ForecastRunner struct {
	pipeline *ForecastPipeline
	queue    Enqueuer
	sem      *semaphore.Weighted
	l        *applogger.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewForecastRunner creates a runner. q may be nil.
func NewForecastRunner(p *ForecastPipeline, q Enqueuer, maxInFlight int, l *applogger.Logger) *ForecastRunner {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	if l == nil {
		l = applogger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ForecastRunner{
		pipeline: p,
		queue:    q,
		sem:      semaphore.NewWeighted(int64(maxInFlight)),
		l:        l,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit validates req and schedules it. The returned id addresses the
// report once the run finishes.
func (r *ForecastRunner) Submit(ctx context.Context, req RunRequest) (string, error) {
	if _, err := r.pipeline.Job(req.Job); err != nil {
		return "", err
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	if r.queue != nil {
		if _, err := r.queue.Enqueue(ctx, ForecastJobType, req); err != nil {
			return "", fmt.Errorf("enqueue %s: %w", req.Job, err)
		}
		return req.RunID, nil
	}

	if !r.sem.TryAcquire(1) {
		return "", models.ErrRunnerBusy
	}
	r.mu.Lock()
	runCtx := r.ctx
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)
		if _, err := r.pipeline.Run(runCtx, req, nil); err != nil {
			r.l.Error("async forecast failed",
				applogger.String("job", req.Job),
				applogger.String("run_id", req.RunID),
				applogger.Error(err))
		}
	}()
	return req.RunID, nil
}

// Shutdown cancels in-process runs and waits for them to return.
func (r *ForecastRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
