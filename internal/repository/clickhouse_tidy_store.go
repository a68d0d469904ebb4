package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"KSHPull/internal/domain/models"
	"KSHPull/internal/domain/repository"
	pkgch "KSHPull/pkg/clickhouse"
	applogger "KSHPull/pkg/logger"
)

const (
	tidyTable   = "tidy_records"
	pointsTable = "forecast_points"
)

// ClickHouseTidyStore implements Storage for ClickHouse. Records are kept in
// a ReplacingMergeTree so re-ingesting a table overwrites earlier values.
type ClickHouseTidyStore struct {
	client *pkgch.Client
	db     string
	l      *applogger.Logger
	now    func() time.Time
}

// NewClickHouseTidyStore creates ClickHouse storage.
func NewClickHouseTidyStore(client *pkgch.Client, l *applogger.Logger) repository.Storage {
	if l == nil {
		l = applogger.NewNop()
	}
	return &ClickHouseTidyStore{client: client, db: client.Database(), l: l, now: time.Now}
}

// SchemaStatements returns the DDL for database db.
func SchemaStatements(db string) []string {
	q := pkgch.QuoteIdent(db)
	return []string{
		"CREATE DATABASE IF NOT EXISTS " + q,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    dataset      LowCardinality(String),
    category_key String,
    category     Array(String),
    period       String,
    period_date  Date32,
    value        Nullable(Float64),
    rescaled     LowCardinality(String),
    ingested_at  DateTime
) ENGINE = ReplacingMergeTree(ingested_at)
ORDER BY (dataset, category_key, period_date)`, q, tidyTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    run_id     String,
    job        LowCardinality(String),
    dataset    LowCardinality(String),
    group_key  String,
    model      LowCardinality(String),
    state      LowCardinality(String),
    reason     String,
    period     String,
    point      Nullable(Float64),
    lower      Nullable(Float64),
    upper      Nullable(Float64),
    forecast   UInt8,
    created_at DateTime
) ENGINE = MergeTree
ORDER BY (job, created_at, group_key, period)`, q, pointsTable),
	}
}

func (s *ClickHouseTidyStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, SchemaStatements(s.db))
}

func (s *ClickHouseTidyStore) table(name string) string {
	return pkgch.QuoteIdent(s.db) + "." + pkgch.QuoteIdent(name)
}

func (s *ClickHouseTidyStore) StoreBatch(ctx context.Context, dataset string, records []models.TidyRecord) error {
	if len(records) == 0 {
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (dataset, category_key, category, period, period_date, value, rescaled, ingested_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", s.table(tidyTable))
	if err := s.client.InsertBatch(ctx, q, tidyRows(dataset, records, s.now().UTC())); err != nil {
		s.l.Error("clickhouse store tidy batch error",
			applogger.String("dataset", dataset),
			applogger.Int("records", len(records)),
			applogger.Error(err))
		return fmt.Errorf("store %s: %w", dataset, err)
	}
	return nil
}

func tidyRows(dataset string, records []models.TidyRecord, at time.Time) [][]any {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			dataset,
			r.Category.Key(),
			[]string(r.Category),
			r.Period.String(),
			r.Period.Date(),
			nullable(r.Value),
			r.Rescaled,
			at,
		})
	}
	return rows
}

func nullable(v models.Value) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float
	return &f
}

func (s *ClickHouseTidyStore) StoreReport(ctx context.Context, report *models.ForecastReport) error {
	if report == nil || len(report.Results) == 0 {
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (run_id, job, dataset, group_key, model, state, reason, period, point, lower, upper, forecast, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table(pointsTable))
	if err := s.client.InsertBatch(ctx, q, reportRows(report)); err != nil {
		return fmt.Errorf("store report %s: %w", report.RunID, err)
	}
	return nil
}

// reportRows flattens a report into one row per fused point. Failed groups
// keep a single row carrying the reason.
func reportRows(report *models.ForecastReport) [][]any {
	var rows [][]any
	created := report.CreatedAt.UTC()
	for _, res := range report.Results {
		base := []any{report.RunID, report.Job, report.Dataset, res.Group.String(), res.Model, string(res.State), res.Reason}
		if !res.Succeeded() {
			rows = append(rows, append(base, "", (*float64)(nil), (*float64)(nil), (*float64)(nil), uint8(0), created))
			continue
		}
		for _, p := range res.Fused() {
			var flag uint8
			if p.Forecast {
				flag = 1
			}
			row := append(append([]any{}, base...), p.Period.String(), nullable(p.Value), p.Lower, p.Upper, flag, created)
			rows = append(rows, row)
		}
	}
	return rows
}

// buildQuery renders the records query; zero periods leave that bound open.
func buildQuery(table, dataset string, from, to models.Period, limit int) (string, []any) {
	var (
		where = []string{"dataset = ?"}
		args  = []any{dataset}
	)
	if !from.IsZero() {
		where = append(where, "period_date >= ?")
		args = append(args, from.Date())
	}
	if !to.IsZero() {
		where = append(where, "period_date <= ?")
		args = append(args, to.Date())
	}
	q := fmt.Sprintf("SELECT category, period, value, rescaled FROM %s FINAL WHERE %s ORDER BY category_key, period_date",
		table, strings.Join(where, " AND "))
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return q, args
}

func (s *ClickHouseTidyStore) Query(ctx context.Context, dataset string, from, to models.Period, limit int) ([]models.TidyRecord, error) {
	q, args := buildQuery(s.table(tidyTable), dataset, from, to, limit)
	rows, err := s.client.DB().QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse query tidy error", applogger.String("dataset", dataset), applogger.Error(err))
		return nil, fmt.Errorf("query %s: %w", dataset, err)
	}
	defer rows.Close()

	var out []models.TidyRecord
	for rows.Next() {
		var (
			r        models.TidyRecord
			category []string
			period   string
			value    *float64
		)
		if err := rows.Scan(&category, &period, &value, &r.Rescaled); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		p, ok := models.ParsePeriod(period)
		if !ok {
			return nil, fmt.Errorf("stored period %q of %s is invalid", period, dataset)
		}
		r.Category = models.CategoryPath(category)
		r.Period = p
		if value != nil {
			r.Value = models.Number(*value)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ClickHouseTidyStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *ClickHouseTidyStore) Close() error {
	return nil // client is owned by the DI container
}
