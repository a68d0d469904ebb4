package usecase

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KSHPull/internal/domain/models"
	"KSHPull/internal/services/aggregate"
	"KSHPull/internal/services/forecast"
	"KSHPull/internal/services/tidy"
	"KSHPull/pkg/metrics"
)

// housingTable is a KSH-style table: one category header row and two
// regions with 28 annual values each.
func housingTable(src models.TableSource) *models.RawTable {
	header := []string{"Terület"}
	for y := 1995; y < 2023; y++ {
		header = append(header, strconv.Itoa(y))
	}
	row := func(label string, base, slope float64) []string {
		out := []string{label}
		for i := 0; i < 28; i++ {
			v := base + slope*float64(i) + 3*math.Sin(float64(i)*1.7)
			out = append(out, strconv.Itoa(int(math.Round(v))))
		}
		return out
	}
	empty := make([]string, len(header))
	empty[0] = "Lakások"
	return &models.RawTable{
		Source:     src.Location(),
		HeaderRows: 1,
		Rows: [][]string{
			header,
			empty,
			row("Budapest", 400, 12),
			row("Vidék", 900, 20),
		},
	}
}

type stubLoader struct {
	calls       atomic.Int32
	invalidated atomic.Int32
	fail        map[string]error
	block       chan struct{}
}

func (l *stubLoader) Load(ctx context.Context, src models.TableSource) (*models.RawTable, error) {
	l.calls.Add(1)
	if l.block != nil {
		select {
		case <-l.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := l.fail[src.Dataset]; err != nil {
		return nil, err
	}
	return housingTable(src), nil
}

func (l *stubLoader) Invalidate(_ context.Context, _ models.TableSource) error {
	l.invalidated.Add(1)
	return nil
}

type memStorage struct {
	mu      sync.Mutex
	records map[string][]models.TidyRecord
	reports []*models.ForecastReport
}

func (s *memStorage) Init(context.Context) error { return nil }

func (s *memStorage) StoreBatch(_ context.Context, dataset string, records []models.TidyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = map[string][]models.TidyRecord{}
	}
	s.records[dataset] = append(s.records[dataset], records...)
	return nil
}

func (s *memStorage) StoreReport(_ context.Context, r *models.ForecastReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func (s *memStorage) Query(_ context.Context, dataset string, _, _ models.Period, limit int) ([]models.TidyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.records[dataset]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStorage) Health(context.Context) error { return nil }
func (s *memStorage) Close() error                 { return nil }

type memReports struct {
	mu      sync.Mutex
	reports map[string]*models.ForecastReport
}

func (m *memReports) SaveReport(_ context.Context, r *models.ForecastReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reports == nil {
		m.reports = map[string]*models.ForecastReport{}
	}
	m.reports[r.RunID] = r
	return nil
}

func (m *memReports) GetReport(_ context.Context, id string) (*models.ForecastReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, models.ErrReportNotFound
	}
	return r, nil
}

type stubExporter struct {
	datasets atomic.Int32
	reports  atomic.Int32
}

func (e *stubExporter) ExportDataset(context.Context, *models.TidyDataset) (string, error) {
	e.datasets.Add(1)
	return "out/dataset.xlsx", nil
}

func (e *stubExporter) ExportReport(context.Context, *models.ForecastReport) (string, error) {
	e.reports.Add(1)
	return "out/report.xlsx", nil
}

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string, time.Duration) (bool, error) { return false, nil }
func (busyLocker) Unlock(context.Context, string) error                         { return nil }

func defs(names ...string) []DatasetDef {
	out := make([]DatasetDef, 0, len(names))
	for _, n := range names {
		out = append(out, DatasetDef{
			Source: models.TableSource{URL: "https://www.ksh.hu/stadat_files/lak/hu/" + n + ".html", HeaderRows: 1},
			Tidy:   tidy.Config{Name: n, Unit: "db"},
		})
	}
	return out
}

func newDatasets(t *testing.T, loader *stubLoader, proc *RecordProcessor, opts ...DatasetOption) *DatasetService {
	t.Helper()
	s, err := NewDatasetService(loader, proc, metrics.Nop{}, defs("lak0012", "lak0014"), opts...)
	require.NoError(t, err)
	return s
}

func regionJob() JobDef {
	return JobDef{
		Name:      "regions",
		Dataset:   "lak0012",
		Aggregate: aggregate.Request{GroupBy: aggregate.GroupBy{Slots: []int{1}}},
		Model:     forecast.ModelSpec{Strategy: forecast.StrategySARIMA, SARIMA: forecast.SARIMAParams{Order: forecast.Order{P: 1, D: 1, Q: 1}}},
		Horizon:   3,
	}
}

func TestDatasetServiceRejectsDuplicates(t *testing.T) {
	_, err := NewDatasetService(&stubLoader{}, nil, metrics.Nop{}, defs("lak0012", "LAK0012"))
	assert.Error(t, err)
}

func TestDatasetServiceBuild(t *testing.T) {
	loader := &stubLoader{}
	s := newDatasets(t, loader, nil)

	ds, err := s.Build(context.Background(), "LAK0012", false)
	require.NoError(t, err)
	assert.Equal(t, "lak0012", ds.Name)
	assert.Len(t, ds.Records, 56)
	assert.Equal(t, "https://www.ksh.hu/stadat_files/lak/hu/lak0012.html", ds.Source)
	assert.Zero(t, loader.invalidated.Load())

	_, err = s.Build(context.Background(), "lak0012", true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.invalidated.Load())

	_, err = s.Build(context.Background(), "lak9999", false)
	assert.ErrorIs(t, err, models.ErrUnknownDataset)
}

func TestDatasetServiceList(t *testing.T) {
	s := newDatasets(t, &stubLoader{}, nil)
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "lak0012", list[0].Name)
	assert.Equal(t, "db", list[0].Unit)
	assert.Equal(t, "lak0014", list[1].Name)
}

func TestDatasetServiceRecordsFiltersYears(t *testing.T) {
	s := newDatasets(t, &stubLoader{}, nil)
	ctx := context.Background()

	recs, err := s.Records(ctx, models.RecordsRequest{Name: "lak0012", From: 2020, To: 2021})
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for _, r := range recs {
		assert.GreaterOrEqual(t, r.Period.Year, 2020)
		assert.LessOrEqual(t, r.Period.Year, 2021)
	}

	recs, err = s.Records(ctx, models.RecordsRequest{Name: "lak0012", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, recs, 5)

	_, err = s.Records(ctx, models.RecordsRequest{Name: "lak0012", Source: "store"})
	assert.Error(t, err, "store source needs a reader")
}

func TestDatasetServiceIngestStoresAndExports(t *testing.T) {
	store := &memStorage{}
	exp := &stubExporter{}
	proc := NewRecordProcessor(nil, store, metrics.Nop{}, BackendClickHouse, 10)
	s := newDatasets(t, &stubLoader{}, proc, WithExporter(exp), WithReader(store))
	ctx := context.Background()

	_, err := s.Ingest(ctx, "lak0014", false)
	require.NoError(t, err)
	assert.Len(t, store.records["lak0014"], 56)
	assert.EqualValues(t, 1, exp.datasets.Load())

	recs, err := s.Records(ctx, models.RecordsRequest{Name: "lak0014", Source: "store", Limit: 7})
	require.NoError(t, err)
	assert.Len(t, recs, 7)
}

func TestDatasetServiceIngestAllJoinsFailures(t *testing.T) {
	loader := &stubLoader{fail: map[string]error{"lak0014": errors.New("ksh.hu unreachable")}}
	store := &memStorage{}
	proc := NewRecordProcessor(nil, store, metrics.Nop{}, BackendClickHouse, 100)
	s := newDatasets(t, loader, proc)

	err := s.IngestAll(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lak0014")
	assert.Len(t, store.records["lak0012"], 56, "a failing dataset does not stop the others")
}

func TestForecastPipelineRun(t *testing.T) {
	store := &memStorage{}
	reports := &memReports{}
	exp := &stubExporter{}
	proc := NewRecordProcessor(nil, store, metrics.Nop{}, BackendClickHouse, 100)
	ds := newDatasets(t, &stubLoader{}, proc)
	p, err := NewForecastPipeline(ds, forecast.NewEngine(forecast.WithWorkers(2)), metrics.Nop{}, []JobDef{regionJob()},
		WithReportCache(reports), WithReportStore(proc), WithReportExporter(exp))
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		observed []string
	)
	report, err := p.Run(context.Background(), RunRequest{Job: "regions"}, func(r models.ForecastResult) {
		assert.NotEmpty(t, r.Summary, "streamed results carry their summary")
		mu.Lock()
		observed = append(observed, r.GroupKey)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "lak0012", report.Dataset)
	assert.Equal(t, 2, report.Succeeded, "%+v", report.Results)
	assert.Zero(t, report.Failed)
	assert.Len(t, observed, 2)
	for _, r := range report.Results {
		assert.Len(t, r.Forecast, 3)
		assert.Contains(t, r.Summary, "mean growth")
		assert.Contains(t, r.Summary, "2025 forecast")
	}

	got, err := p.Report(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, got.RunID)
	assert.Len(t, store.reports, 1)
	assert.EqualValues(t, 1, exp.reports.Load())

	_, err = p.Run(context.Background(), RunRequest{Job: "nope"}, nil)
	assert.ErrorIs(t, err, models.ErrUnknownJob)
}

func TestForecastPipelineHonoursHorizonOverride(t *testing.T) {
	ds := newDatasets(t, &stubLoader{}, nil)
	p, err := NewForecastPipeline(ds, forecast.NewEngine(), metrics.Nop{}, []JobDef{regionJob()})
	require.NoError(t, err)

	report, err := p.Run(context.Background(), RunRequest{Job: "regions", Horizon: 6, RunID: "fixed"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed", report.RunID)
	for _, r := range report.Results {
		if r.Succeeded() {
			assert.Len(t, r.Forecast, 6)
		}
	}
}

func TestForecastPipelineRejectsUnknownDataset(t *testing.T) {
	ds := newDatasets(t, &stubLoader{}, nil)
	job := regionJob()
	job.Dataset = "lak0099"
	_, err := NewForecastPipeline(ds, forecast.NewEngine(), metrics.Nop{}, []JobDef{job})
	assert.ErrorIs(t, err, models.ErrUnknownDataset)
}

func TestForecastPipelineJobLock(t *testing.T) {
	ds := newDatasets(t, &stubLoader{}, nil)
	p, err := NewForecastPipeline(ds, forecast.NewEngine(), metrics.Nop{}, []JobDef{regionJob()}, WithJobLock(busyLocker{}, time.Minute))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), RunRequest{Job: "regions"}, nil)
	assert.ErrorIs(t, err, models.ErrJobRunning)
}

func TestForecastRunnerInProcess(t *testing.T) {
	loader := &stubLoader{block: make(chan struct{})}
	reports := &memReports{}
	ds := newDatasets(t, loader, nil)
	p, err := NewForecastPipeline(ds, forecast.NewEngine(), metrics.Nop{}, []JobDef{regionJob()}, WithReportCache(reports))
	require.NoError(t, err)
	r := NewForecastRunner(p, nil, 1, nil)
	ctx := context.Background()

	id, err := r.Submit(ctx, RunRequest{Job: "regions"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = r.Submit(ctx, RunRequest{Job: "regions"})
	assert.ErrorIs(t, err, models.ErrRunnerBusy)

	_, err = r.Submit(ctx, RunRequest{Job: "missing"})
	assert.ErrorIs(t, err, models.ErrUnknownJob)

	close(loader.block)
	require.Eventually(t, func() bool {
		_, err := p.Report(ctx, id)
		return err == nil
	}, 10*time.Second, 20*time.Millisecond)
	require.NoError(t, r.Shutdown(ctx))
}

type recordingQueue struct {
	msgType string
	payload interface{}
}

func (q *recordingQueue) Enqueue(_ context.Context, msgType string, payload interface{}) (string, error) {
	q.msgType, q.payload = msgType, payload
	return "msg-1", nil
}

func TestForecastRunnerEnqueues(t *testing.T) {
	ds := newDatasets(t, &stubLoader{}, nil)
	p, err := NewForecastPipeline(ds, forecast.NewEngine(), metrics.Nop{}, []JobDef{regionJob()})
	require.NoError(t, err)
	q := &recordingQueue{}
	r := NewForecastRunner(p, q, 1, nil)

	id, err := r.Submit(context.Background(), RunRequest{Job: "regions", Horizon: 2})
	require.NoError(t, err)
	assert.Equal(t, ForecastJobType, q.msgType)
	req, ok := q.payload.(RunRequest)
	require.True(t, ok)
	assert.Equal(t, id, req.RunID)
	assert.Equal(t, 2, req.Horizon)
}

func TestForecastJobHandle(t *testing.T) {
	reports := &memReports{}
	ds := newDatasets(t, &stubLoader{}, nil)
	p, err := NewForecastPipeline(ds, forecast.NewEngine(), metrics.Nop{}, []JobDef{regionJob()}, WithReportCache(reports))
	require.NoError(t, err)
	job := NewForecastJob(p)

	require.NoError(t, job.Handle(context.Background(), []byte(`{"job":"regions","run_id":"queued-1"}`)))
	_, err = p.Report(context.Background(), "queued-1")
	assert.NoError(t, err)

	assert.NoError(t, job.Handle(context.Background(), []byte(`{"job":"gone"}`)), "unknown jobs are dropped, not retried")
	assert.Error(t, job.Handle(context.Background(), nil))
}

func TestRefreshSchedulerRunOnce(t *testing.T) {
	loader := &stubLoader{}
	reports := &memReports{}
	ds := newDatasets(t, loader, nil)
	p, err := NewForecastPipeline(ds, forecast.NewEngine(), metrics.Nop{}, []JobDef{regionJob()}, WithReportCache(reports))
	require.NoError(t, err)

	s := NewRefreshScheduler(ds, p, time.Hour, true, nil)
	require.NoError(t, s.RunOnce(context.Background()))
	assert.EqualValues(t, 2, loader.invalidated.Load(), "every dataset is refreshed")
	assert.Len(t, reports.reports, 1)

	s.Start(context.Background())
	require.NoError(t, s.Shutdown(context.Background()))
}
