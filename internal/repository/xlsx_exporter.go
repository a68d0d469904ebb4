package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"KSHPull/internal/domain/models"
	"KSHPull/internal/domain/repository"
	"KSHPull/internal/services/features"
	applogger "KSHPull/pkg/logger"
	"KSHPull/pkg/util"
)

// XLSXExporter writes tidy datasets and forecast reports as workbooks that
// spreadsheet and BI tools can open directly.
type XLSXExporter struct {
	dir string
	l   *applogger.Logger
}

func NewXLSXExporter(dir string, l *applogger.Logger) repository.Exporter {
	if l == nil {
		l = applogger.NewNop()
	}
	return &XLSXExporter{dir: dir, l: l}
}

// ExportDataset writes <dir>/<dataset>.xlsx with a records and a stats sheet.
func (x *XLSXExporter) ExportDataset(_ context.Context, ds *models.TidyDataset) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	header := append(append([]string{}, ds.Dimensions...), "period", "date", ds.ValueName)
	rows := make([][]any, 0, len(ds.Records))
	for _, r := range ds.Records {
		row := make([]any, 0, len(header))
		for i := range ds.Dimensions {
			row = append(row, r.Category.Slot(i))
		}
		row = append(row, r.Period.String(), r.Period.Date(), cellValue(r.Value))
		rows = append(rows, row)
	}
	if err := writeSheet(f, "records", header, rows); err != nil {
		return "", err
	}

	st := ds.Stats
	if err := writeSheet(f, "stats", []string{"metric", "count"}, [][]any{
		{"data_rows", st.DataRows},
		{"category_headers", st.Headers},
		{"aggregates_dropped", st.Aggregates},
		{"excluded", st.Excluded},
		{"unresolved", st.Unresolved},
		{"missing_values", st.Missing},
		{"rescaled", st.Rescaled},
	}); err != nil {
		return "", err
	}
	return x.save(f, ds.Name)
}

// ExportReport writes <dir>/<job>-<run>.xlsx: the fused historical and
// forecast series per group, plus one summary line per group.
func (x *XLSXExporter) ExportReport(_ context.Context, report *models.ForecastReport) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	var points [][]any
	summary := make([][]any, 0, len(report.Results))
	for _, res := range report.Results {
		text := res.Summary
		if text == "" {
			if s, ok := features.Summarize(res); ok {
				text = s.Text
			}
		}
		summary = append(summary, []any{res.Group.String(), res.Model, string(res.State), res.Reason, len(res.Forecast), text})
		if !res.Succeeded() {
			continue
		}
		for _, p := range res.Fused() {
			kind := "historical"
			if p.Forecast {
				kind = "forecast"
			}
			points = append(points, []any{res.Group.String(), p.Period.String(), p.Period.Date(), cellValue(p.Value), deref(p.Lower), deref(p.Upper), kind})
		}
	}

	if err := writeSheet(f, "forecast", []string{"group", "period", "date", "value", "lower", "upper", "kind"}, points); err != nil {
		return "", err
	}
	if err := writeSheet(f, "summary", []string{"group", "model", "state", "reason", "horizon", "summary"}, summary); err != nil {
		return "", err
	}
	return x.save(f, report.Job+"-"+shortID(report.RunID))
}

func (x *XLSXExporter) save(f *excelize.File, name string) (string, error) {
	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(x.dir, util.Slug(name)+".xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	x.l.Info("workbook exported", applogger.String("path", path))
	return path, nil
}

// writeSheet creates sheet with a header row followed by rows. The default
// "Sheet1" is renamed by the first call.
func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any) error {
	if list := f.GetSheetList(); len(list) == 1 && list[0] == "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	} else if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("new sheet %s: %w", sheet, err)
	}

	hdr := make([]any, len(header))
	for i, h := range header {
		hdr[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &hdr); err != nil {
		return fmt.Errorf("write header of %s: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d of %s: %w", i+2, sheet, err)
		}
	}
	return nil
}

func cellValue(v models.Value) any {
	if !v.Valid {
		return nil
	}
	return v.Float
}

func deref(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
