package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"KSHPull/internal/domain/models"
	drepo "KSHPull/internal/domain/repository"
	"KSHPull/internal/services/tidy"
	applogger "KSHPull/pkg/logger"
)

// DatasetDef binds a table source to the transformer that reshapes it.
type DatasetDef struct {
	Source models.TableSource
	Tidy   tidy.Config
}

// DatasetInfo is the catalogue entry served by the API.
type DatasetInfo struct {
	Name       string   `json:"name"`
	Source     string   `json:"source"`
	Format     string   `json:"format"`
	Unit       string   `json:"unit,omitempty"`
	Dimensions []string `json:"dimensions,omitempty"`
}

// invalidator is implemented by caching loaders.
type invalidator interface {
	Invalidate(ctx context.Context, src models.TableSource) error
}

type dataset struct {
	src models.TableSource
	tr  *tidy.Transformer
}

// DatasetService loads, reshapes and ships the configured KSH tables.
type DatasetService struct {
	loader   drepo.TableLoader
	proc     *RecordProcessor
	reader   drepo.TidyReader
	exporter drepo.Exporter
	metrics  drepo.Metrics
	l        *applogger.Logger
	sets     map[string]dataset
	names    []string
	parallel int
}

type DatasetOption func(*DatasetService)

// WithReader enables reading records back from the store.
func WithReader(r drepo.TidyReader) DatasetOption {
	return func(s *DatasetService) { s.reader = r }
}

// WithExporter writes a workbook after every ingest.
func WithExporter(e drepo.Exporter) DatasetOption {
	return func(s *DatasetService) { s.exporter = e }
}

func WithDatasetLogger(l *applogger.Logger) DatasetOption {
	return func(s *DatasetService) {
		if l != nil {
			s.l = l
		}
	}
}

// WithIngestParallelism bounds concurrent datasets in IngestAll.
func WithIngestParallelism(n int) DatasetOption {
	return func(s *DatasetService) {
		if n > 0 {
			s.parallel = n
		}
	}
}

// NewDatasetService builds a transformer per definition. Names are matched
// case-insensitively.
func NewDatasetService(loader drepo.TableLoader, proc *RecordProcessor, metrics drepo.Metrics, defs []DatasetDef, opts ...DatasetOption) (*DatasetService, error) {
	s := &DatasetService{
		loader:   loader,
		proc:     proc,
		metrics:  metrics,
		l:        applogger.NewNop(),
		sets:     make(map[string]dataset, len(defs)),
		parallel: 2,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, d := range defs {
		tr, err := tidy.New(d.Tidy)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", d.Tidy.Name, err)
		}
		key := strings.ToLower(d.Tidy.Name)
		if _, dup := s.sets[key]; dup {
			return nil, fmt.Errorf("duplicate dataset '%s'", d.Tidy.Name)
		}
		src := d.Source
		src.Dataset = d.Tidy.Name
		s.sets[key] = dataset{src: src, tr: tr}
		s.names = append(s.names, d.Tidy.Name)
	}
	sort.Strings(s.names)
	return s, nil
}

func (s *DatasetService) lookup(name string) (dataset, error) {
	d, ok := s.sets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return dataset{}, fmt.Errorf("%w: %s", models.ErrUnknownDataset, name)
	}
	return d, nil
}

// List returns the catalogue sorted by name.
func (s *DatasetService) List() []DatasetInfo {
	out := make([]DatasetInfo, 0, len(s.names))
	for _, name := range s.names {
		d := s.sets[strings.ToLower(name)]
		cfg := d.tr.Config()
		out = append(out, DatasetInfo{
			Name:       cfg.Name,
			Source:     d.src.Location(),
			Format:     d.src.Format,
			Unit:       cfg.Unit,
			Dimensions: cfg.Dimensions,
		})
	}
	return out
}

// Build fetches and reshapes one dataset. refresh bypasses the table cache.
func (s *DatasetService) Build(ctx context.Context, name string, refresh bool) (*models.TidyDataset, error) {
	d, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if refresh {
		if inv, ok := s.loader.(invalidator); ok {
			if err := inv.Invalidate(ctx, d.src); err != nil {
				s.l.Warn("table cache invalidation failed", applogger.String("dataset", d.src.Dataset), applogger.Error(err))
			}
		}
	}

	start := time.Now()
	raw, err := s.loader.Load(ctx, d.src)
	if err != nil {
		s.metrics.RecordError("load")
		return nil, fmt.Errorf("load %s: %w", d.src.Dataset, err)
	}
	s.metrics.RecordLatency("load", time.Since(start).Seconds())

	start = time.Now()
	ds, err := d.tr.Transform(*raw)
	if err != nil {
		s.metrics.RecordError("transform")
		return nil, fmt.Errorf("transform %s: %w", d.src.Dataset, err)
	}
	s.metrics.RecordLatency("transform", time.Since(start).Seconds())
	ds.Source = d.src.Location()

	s.l.Info("dataset transformed",
		applogger.String("dataset", ds.Name),
		applogger.Int("records", len(ds.Records)),
		applogger.Int("unresolved", ds.Stats.Unresolved),
		applogger.Int("aggregates_dropped", ds.Stats.Aggregates),
		applogger.Int("rescaled", ds.Stats.Rescaled))
	return ds, nil
}

// Ingest builds a dataset, routes it to the backend and exports it.
func (s *DatasetService) Ingest(ctx context.Context, name string, refresh bool) (*models.TidyDataset, error) {
	ds, err := s.Build(ctx, name, refresh)
	if err != nil {
		return nil, err
	}
	if s.proc != nil {
		if err := s.proc.Process(ctx, ds); err != nil {
			return nil, err
		}
	}
	if s.exporter != nil {
		if _, err := s.exporter.ExportDataset(ctx, ds); err != nil {
			s.metrics.RecordError("export")
			return nil, fmt.Errorf("export %s: %w", ds.Name, err)
		}
	}
	return ds, nil
}

// IngestAll ingests every dataset. A failing dataset does not stop the
// others; their errors are joined.
func (s *DatasetService) IngestAll(ctx context.Context, refresh bool) error {
	var (
		g    errgroup.Group
		errs = make([]error, len(s.names))
	)
	g.SetLimit(s.parallel)
	for i, name := range s.names {
		i, name := i, name
		g.Go(func() error {
			if _, err := s.Ingest(ctx, name, refresh); err != nil {
				s.l.Error("dataset ingest failed", applogger.String("dataset", name), applogger.Error(err))
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Records returns a dataset's records between two years, either freshly
// transformed or from the store.
func (s *DatasetService) Records(ctx context.Context, req models.RecordsRequest) ([]models.TidyRecord, error) {
	d, err := s.lookup(req.Name)
	if err != nil {
		return nil, err
	}
	var from, to models.Period
	if req.From > 0 {
		from = models.YearPeriod(req.From)
	}
	if req.To > 0 {
		// through December of the last year
		to = models.MonthPeriod(req.To, 12)
	}

	if req.Source == "store" {
		if s.reader == nil {
			return nil, fmt.Errorf("records store is not configured")
		}
		return s.reader.Query(ctx, d.src.Dataset, from, to, req.Limit)
	}

	ds, err := s.Build(ctx, d.src.Dataset, req.Refresh)
	if err != nil {
		return nil, err
	}
	out := make([]models.TidyRecord, 0, len(ds.Records))
	for _, r := range ds.Records {
		if !from.IsZero() && r.Period.Year < from.Year {
			continue
		}
		if !to.IsZero() && r.Period.Year > to.Year {
			continue
		}
		out = append(out, r)
		if req.Limit > 0 && len(out) == req.Limit {
			break
		}
	}
	return out, nil
}
