package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"KSHPull/internal/domain/models"
)

func TestXLSXExporterDatasetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ex := NewXLSXExporter(dir, nil)

	ds := &models.TidyDataset{
		Name:       "lak0027",
		Dimensions: []string{"region", "settlement"},
		ValueName:  "price",
		Records: []models.TidyRecord{
			{Category: models.CategoryPath{"Közép-Magyarország", "Budapest"}, Period: models.YearPeriod(2020), Value: models.Number(52.5)},
			{Category: models.CategoryPath{"Közép-Magyarország", "Pest"}, Period: models.YearPeriod(2020), Value: models.Missing},
		},
		Stats: models.TransformStats{DataRows: 2, Missing: 1},
	}
	path, err := ex.ExportDataset(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "lak0027.xlsx"), path)

	// the exported workbook is itself a valid loader input
	raw, err := NewXLSXTableLoader(nil, nil).Load(context.Background(), models.TableSource{Path: path, Sheet: "records", HeaderRows: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "settlement", "period", "date", "price"}, raw.Rows[0])
	assert.Equal(t, "Budapest", raw.Rows[1][1])
	assert.Equal(t, "52.5", raw.Rows[1][4])
	assert.Equal(t, "", raw.Rows[2][4])

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"records", "stats"}, f.GetSheetList())
}

func TestXLSXExporterReport(t *testing.T) {
	dir := t.TempDir()
	report := &models.ForecastReport{
		RunID: "3f1c2a9e-0000-4000-8000-000000000000",
		Job:   "sarimax_groups",
		Results: []models.ForecastResult{
			{
				Group: models.CategoryPath{"Budapest és Pest"}, Model: "sarima", State: models.StateForecasted,
				Historical: models.GroupSeries{Observations: []models.Observation{{Period: models.YearPeriod(2020), Value: models.Number(8)}}},
				Forecast:   []models.ForecastPoint{{Period: models.YearPeriod(2021), Point: 10}},
				Summary:    "Budapest és Pest: 2020 8.00",
			},
			{Group: models.CategoryPath{"x"}, State: models.StateFailed, Reason: "boom"},
		},
	}
	path, err := NewXLSXExporter(dir, nil).ExportReport(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sarimax_groups_3f1c2a9e.xlsx"), path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("forecast")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "forecast", rows[2][6])

	summary, err := f.GetRows("summary")
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, "Budapest és Pest: 2020 8.00", summary[1][5])
	assert.Equal(t, "failed", summary[2][2])
	assert.Equal(t, "boom", summary[2][3])
}
