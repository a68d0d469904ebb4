package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"KSHPull/internal/domain/models"
	drepo "KSHPull/internal/domain/repository"
	"KSHPull/internal/services/aggregate"
	"KSHPull/internal/services/features"
	"KSHPull/internal/services/forecast"
	"KSHPull/pkg/cache"
	applogger "KSHPull/pkg/logger"
)

// JobDef is a named forecast: which dataset, how to group it and which model.
type JobDef struct {
	Name      string
	Dataset   string
	Aggregate aggregate.Request
	Model     forecast.ModelSpec
	Horizon   int
}

// JobInfo is the catalogue entry served by the API.
type JobInfo struct {
	Name     string `json:"name"`
	Dataset  string `json:"dataset"`
	Strategy string `json:"strategy"`
	Horizon  int    `json:"horizon"`
}

// RunRequest starts one job run. Zero Horizon uses the job's horizon; an
// empty RunID gets a fresh one.
type RunRequest struct {
	Job     string `json:"job"`
	Horizon int    `json:"horizon,omitempty"`
	Refresh bool   `json:"refresh,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// Locker is the subset of the cache used to keep one run per job.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// ForecastPipeline runs a job end to end: build the dataset, aggregate the
// groups, forecast each group and publish the report.
type ForecastPipeline struct {
	datasets *DatasetService
	engine   *forecast.Engine
	reports  drepo.ReportCache
	proc     *RecordProcessor
	exporter drepo.Exporter
	locker   Locker
	lockTTL  time.Duration
	metrics  drepo.Metrics
	l        *applogger.Logger
	jobs     map[string]JobDef
	names    []string
}

type ForecastOption func(*ForecastPipeline)

// WithReportCache keeps finished reports addressable by run id.
func WithReportCache(r drepo.ReportCache) ForecastOption {
	return func(p *ForecastPipeline) { p.reports = r }
}

// WithReportStore persists reports through the record backend.
func WithReportStore(proc *RecordProcessor) ForecastOption {
	return func(p *ForecastPipeline) { p.proc = proc }
}

func WithReportExporter(e drepo.Exporter) ForecastOption {
	return func(p *ForecastPipeline) { p.exporter = e }
}

// WithJobLock rejects a run while another run of the same job holds the lock.
func WithJobLock(l Locker, ttl time.Duration) ForecastOption {
	return func(p *ForecastPipeline) {
		p.locker = l
		if ttl > 0 {
			p.lockTTL = ttl
		}
	}
}

func WithForecastLogger(l *applogger.Logger) ForecastOption {
	return func(p *ForecastPipeline) {
		if l != nil {
			p.l = l
		}
	}
}

// NewForecastPipeline validates every job against the dataset catalogue.
func NewForecastPipeline(datasets *DatasetService, engine *forecast.Engine, metrics drepo.Metrics, jobs []JobDef, opts ...ForecastOption) (*ForecastPipeline, error) {
	p := &ForecastPipeline{
		datasets: datasets,
		engine:   engine,
		metrics:  metrics,
		lockTTL:  10 * time.Minute,
		l:        applogger.NewNop(),
		jobs:     make(map[string]JobDef, len(jobs)),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, j := range jobs {
		if _, err := datasets.lookup(j.Dataset); err != nil {
			return nil, fmt.Errorf("job %s: %w", j.Name, err)
		}
		if _, dup := p.jobs[j.Name]; dup {
			return nil, fmt.Errorf("duplicate job '%s'", j.Name)
		}
		if err := j.Aggregate.Validate(); err != nil {
			return nil, fmt.Errorf("job %s: %w", j.Name, err)
		}
		if j.Horizon <= 0 {
			j.Horizon = 5
		}
		p.jobs[j.Name] = j
		p.names = append(p.names, j.Name)
	}
	sort.Strings(p.names)
	return p, nil
}

// Jobs returns the job catalogue sorted by name.
func (p *ForecastPipeline) Jobs() []JobInfo {
	out := make([]JobInfo, 0, len(p.names))
	for _, name := range p.names {
		j := p.jobs[name]
		out = append(out, JobInfo{
			Name:     j.Name,
			Dataset:  j.Dataset,
			Strategy: string(j.Model.WithDefaults().Strategy),
			Horizon:  j.Horizon,
		})
	}
	return out
}

// Names lists the configured jobs.
func (p *ForecastPipeline) Names() []string {
	return append([]string(nil), p.names...)
}

// Job looks a job up by name.
func (p *ForecastPipeline) Job(name string) (JobDef, error) {
	j, ok := p.jobs[name]
	if !ok {
		return JobDef{}, fmt.Errorf("%w: %s", models.ErrUnknownJob, name)
	}
	return j, nil
}

// Run executes a job. observe, when set, receives each group result as soon
// as it is final. Per-group failures are part of the report; the error is
// reserved for failures of the run as a whole.
func (p *ForecastPipeline) Run(ctx context.Context, req RunRequest, observe func(models.ForecastResult)) (*models.ForecastReport, error) {
	job, err := p.Job(req.Job)
	if err != nil {
		return nil, err
	}
	horizon := req.Horizon
	if horizon <= 0 {
		horizon = job.Horizon
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	if p.locker != nil {
		key := cache.LockKey(job.Name)
		ok, err := p.locker.TryLock(ctx, key, p.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", job.Name, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrJobRunning, job.Name)
		}
		defer func() {
			// release even if the run context is gone
			if err := p.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
				p.l.Warn("job unlock failed", applogger.String("job", job.Name), applogger.Error(err))
			}
		}()
	}

	start := time.Now()
	ds, err := p.datasets.Build(ctx, job.Dataset, req.Refresh)
	if err != nil {
		return nil, err
	}

	groups, err := aggregate.Aggregate(ds.Records, job.Aggregate)
	if err != nil {
		p.metrics.RecordError("aggregate")
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}

	var annotated func(models.ForecastResult)
	if observe != nil {
		annotated = func(r models.ForecastResult) { observe(annotate(r)) }
	}
	results, err := p.engine.ForecastAll(ctx, job.Name, groups, horizon, job.Model, annotated)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}
	for i := range results {
		results[i] = annotate(results[i])
	}

	report := &models.ForecastReport{
		RunID:     runID,
		Job:       job.Name,
		Dataset:   ds.Name,
		Unit:      ds.Unit,
		CreatedAt: time.Now().UTC(),
		Results:   results,
	}
	for _, r := range results {
		if r.Succeeded() {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	p.metrics.RecordLatency("forecast_run", time.Since(start).Seconds())

	p.l.Info("forecast run finished",
		applogger.String("job", job.Name),
		applogger.String("run_id", runID),
		applogger.Int("groups", len(results)),
		applogger.Int("succeeded", report.Succeeded),
		applogger.Int("failed", report.Failed),
		applogger.Duration("elapsed", time.Since(start)))

	p.publish(ctx, report)
	return report, nil
}

// publish hands the report to every configured sink. Sink failures are
// logged; the report is already complete.
func (p *ForecastPipeline) publish(ctx context.Context, report *models.ForecastReport) {
	if p.reports != nil {
		if err := p.reports.SaveReport(ctx, report); err != nil {
			p.metrics.RecordError("report_cache")
			p.l.Warn("report cache failed", applogger.String("run_id", report.RunID), applogger.Error(err))
		}
	}
	if p.proc != nil {
		if err := p.proc.StoreReport(ctx, report); err != nil {
			p.l.Warn("report store failed", applogger.String("run_id", report.RunID), applogger.Error(err))
		}
	}
	if p.exporter != nil {
		path, err := p.exporter.ExportReport(ctx, report)
		if err != nil {
			p.metrics.RecordError("export")
			p.l.Warn("report export failed", applogger.String("run_id", report.RunID), applogger.Error(err))
			return
		}
		p.l.Info("report exported", applogger.String("run_id", report.RunID), applogger.String("path", path))
	}
}

// Report returns a finished run.
func (p *ForecastPipeline) Report(ctx context.Context, runID string) (*models.ForecastReport, error) {
	if p.reports == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrReportNotFound, runID)
	}
	return p.reports.GetReport(ctx, runID)
}

// RunAll runs every job in name order and returns the reports of those that
// finished.
func (p *ForecastPipeline) RunAll(ctx context.Context, refresh bool) ([]*models.ForecastReport, error) {
	var (
		reports []*models.ForecastReport
		errs    []error
	)
	for _, name := range p.names {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		r, err := p.Run(ctx, RunRequest{Job: name, Refresh: refresh}, nil)
		if err != nil {
			p.l.Error("forecast job failed", applogger.String("job", name), applogger.Error(err))
			errs = append(errs, err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, errors.Join(errs...)
}

// annotate attaches the growth summary of r, if it has any history.
func annotate(r models.ForecastResult) models.ForecastResult {
	if s, ok := features.Summarize(r); ok {
		r.Summary = s.Text
	}
	return r
}
