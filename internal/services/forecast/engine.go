package forecast

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"KSHPull/internal/domain/models"
	"KSHPull/internal/domain/repository"
	"KSHPull/internal/domain/service"
	"KSHPull/pkg/logger"
)

// RemoteBuilder creates the model used for the remote strategy.
type RemoteBuilder func(params RemoteParams) (service.Model, error)

// Engine fits one model per group and produces forecasts. A failing group
// never affects the others.
type Engine struct {
	logger     *logger.Logger
	metrics    repository.Metrics
	workers    int
	fitTimeout time.Duration
	remote     RemoteBuilder
}

type Option func(*Engine)

func WithLogger(l *logger.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithMetrics(m repository.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithWorkers bounds the number of groups fitted concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithFitTimeout caps a single group's fit and predict.
func WithFitTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.fitTimeout = d
		}
	}
}

func WithRemote(b RemoteBuilder) Option { return func(e *Engine) { e.remote = b } }

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:     logger.NewNop(),
		workers:    runtime.NumCPU(),
		fitTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Model builds the model selected by spec.
func (e *Engine) Model(spec ModelSpec) (service.Model, error) {
	switch spec.Strategy {
	case StrategySARIMA:
		return NewSARIMA(spec.SARIMA), nil
	case StrategyLogistic:
		return NewLogistic(spec.Logistic), nil
	case StrategyRemote:
		if e.remote == nil {
			return nil, fmt.Errorf("%w: remote strategy is not configured", models.ErrUnknownModel)
		}
		return e.remote(spec.Remote)
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownModel, spec.Strategy)
	}
}

// ForecastAll forecasts every group on a bounded worker pool. Results are
// sorted by group key. observe, when set, receives each result as soon as
// its group finishes. The error is non-nil only for an invalid spec or
// horizon; group failures are reported in the results.
func (e *Engine) ForecastAll(ctx context.Context, job string, groups map[string]models.GroupSeries, horizon int, spec ModelSpec, observe func(models.ForecastResult)) ([]models.ForecastResult, error) {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}
	model, err := e.Model(spec)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]models.ForecastResult, len(keys))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			res := e.run(ctx, job, key, groups[key], horizon, spec, model)
			results[i] = res
			if observe != nil {
				mu.Lock()
				observe(res)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Forecast fits and predicts a single group.
func (e *Engine) Forecast(ctx context.Context, job string, series models.GroupSeries, horizon int, spec ModelSpec) models.ForecastResult {
	spec = spec.WithDefaults()
	key := series.Key.Key()
	if err := spec.Validate(); err != nil {
		return newGroupRun(job, key, series, string(spec.Strategy)).fail(err)
	}
	model, err := e.Model(spec)
	if err != nil {
		return newGroupRun(job, key, series, string(spec.Strategy)).fail(err)
	}
	return e.run(ctx, job, key, series, horizon, spec, model)
}

func (e *Engine) run(ctx context.Context, job, key string, series models.GroupSeries, horizon int, spec ModelSpec, model service.Model) models.ForecastResult {
	start := time.Now()
	r := newGroupRun(job, key, series, model.Name())
	res := e.fitAndPredict(ctx, r, series, horizon, spec, model)
	res.Elapsed = time.Since(start)

	if e.metrics != nil {
		e.metrics.RecordGroupState(job, res.State)
		e.metrics.RecordLatency("forecast_group", res.Elapsed.Seconds())
		if n := len(res.Forecast); n > 0 {
			e.metrics.RecordLastForecast(job, res.Group.String(), res.Forecast[n-1].Point)
		}
	}
	if res.State == models.StateFailed {
		e.logger.Warn("Forecast group failed",
			logger.String("job", job),
			logger.String("group", res.Group.String()),
			logger.String("model", res.Model),
			logger.String("reason", res.Reason))
	} else {
		e.logger.Debug("Forecast group done",
			logger.String("job", job),
			logger.String("group", res.Group.String()),
			logger.Int("points", len(res.Forecast)),
			logger.Duration("elapsed", res.Elapsed))
	}
	return res
}

func (e *Engine) fitAndPredict(ctx context.Context, r *groupRun, series models.GroupSeries, horizon int, spec ModelSpec, model service.Model) models.ForecastResult {
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	regular, err := regularize(series, spec.Fill)
	if err != nil {
		return r.fail(err)
	}
	r.result.Historical = regular

	fitCtx, cancel := context.WithTimeout(ctx, e.fitTimeout)
	defer cancel()

	fitted, err := callWithTimeout(fitCtx, func(ctx context.Context) (service.FittedModel, error) {
		return model.Fit(ctx, regular)
	})
	if err != nil {
		return r.fail(err)
	}
	if err := r.advance(models.StateFitted); err != nil {
		return r.fail(err)
	}

	points, err := callWithTimeout(fitCtx, func(ctx context.Context) ([]models.ForecastPoint, error) {
		return fitted.Predict(ctx, horizon)
	})
	if err != nil {
		return r.fail(err)
	}
	if err := checkHorizon(regular, points, horizon); err != nil {
		return r.fail(err)
	}
	r.result.Forecast = points
	if err := r.advance(models.StateForecasted); err != nil {
		return r.fail(err)
	}
	return r.result
}

// checkHorizon enforces h points, strictly after the history, without overlap.
func checkHorizon(series models.GroupSeries, points []models.ForecastPoint, horizon int) error {
	if len(points) != horizon {
		return fmt.Errorf("model returned %d points, want %d", len(points), horizon)
	}
	last, _ := series.Last()
	prev := last.Period
	for _, p := range points {
		if !p.Period.After(prev) {
			return fmt.Errorf("forecast period %s does not follow %s", p.Period, prev)
		}
		prev = p.Period
	}
	return nil
}

// callWithTimeout runs fn in its own goroutine so that a model ignoring its
// context still cannot hold the caller past the deadline.
func callWithTimeout[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				var zero T
				ch <- outcome{zero, fmt.Errorf("model panic: %v", p)}
			}
		}()
		v, err := fn(ctx)
		ch <- outcome{v, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			return o.v, fmt.Errorf("%w: %v", models.ErrFitTimeout, o.err)
		}
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, models.ErrFitTimeout
		}
		return zero, ctx.Err()
	}
}

// groupRun tracks one group through Prepared -> Fitted -> Forecasted | Failed.
type groupRun struct {
	result models.ForecastResult
}

func newGroupRun(job, key string, series models.GroupSeries, model string) *groupRun {
	return &groupRun{result: models.ForecastResult{
		Job:        job,
		GroupKey:   key,
		Group:      series.Key,
		Model:      model,
		State:      models.StatePrepared,
		Historical: series,
	}}
}

func (r *groupRun) advance(next models.FitState) error {
	if !r.result.State.CanTransition(next) {
		return fmt.Errorf("invalid state transition %s -> %s", r.result.State, next)
	}
	r.result.State = next
	return nil
}

func (r *groupRun) fail(err error) models.ForecastResult {
	r.result.State = models.StateFailed
	r.result.Reason = err.Error()
	r.result.Forecast = nil
	return r.result
}
