package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KSHPull/internal/domain/models"
)

func TestTidyRows(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := tidyRows("lak0014", []models.TidyRecord{
		{Category: models.CategoryPath{"Új lakás", "Budapest"}, Period: models.MonthPeriod(2020, 3), Value: models.Number(41.2), Rescaled: "price_unit_fix"},
		{Category: models.CategoryPath{"Új lakás", "Pest"}, Period: models.YearPeriod(2021), Value: models.Missing},
	}, at)

	require.Len(t, rows, 2)
	assert.Equal(t, "lak0014", rows[0][0])
	assert.Equal(t, models.CategoryPath{"Új lakás", "Budapest"}.Key(), rows[0][1])
	assert.Equal(t, []string{"Új lakás", "Budapest"}, rows[0][2])
	assert.Equal(t, "2020-03", rows[0][3])
	assert.Equal(t, time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC), rows[0][4])
	assert.Equal(t, 41.2, *rows[0][5].(*float64))
	assert.Equal(t, "price_unit_fix", rows[0][6])
	assert.Equal(t, at, rows[0][7])
	assert.Nil(t, rows[1][5].(*float64))
}

func TestReportRows(t *testing.T) {
	lo, hi := 9.0, 11.0
	report := &models.ForecastReport{
		RunID: "run", Job: "sarimax_groups", Dataset: "lak0027",
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Results: []models.ForecastResult{
			{
				Group: models.CategoryPath{"Budapest és Pest"}, Model: "sarima", State: models.StateForecasted,
				Historical: models.GroupSeries{Observations: []models.Observation{{Period: models.YearPeriod(2020), Value: models.Number(8)}}},
				Forecast:   []models.ForecastPoint{{Period: models.YearPeriod(2021), Point: 10, Lower: &lo, Upper: &hi}},
			},
			{Group: models.CategoryPath{"Többi város"}, Model: "sarima", State: models.StateFailed, Reason: "insufficient data"},
		},
	}

	rows := reportRows(report)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Len(t, r, 13)
	}
	assert.Equal(t, uint8(0), rows[0][11])
	assert.Equal(t, "2021", rows[1][7])
	assert.Equal(t, uint8(1), rows[1][11])
	assert.Equal(t, &lo, rows[1][9])
	assert.Equal(t, "failed", rows[2][5])
	assert.Equal(t, "insufficient data", rows[2][6])
}

func TestBuildQuery(t *testing.T) {
	q, args := buildQuery("`ksh`.`tidy_records`", "lak0012", models.Period{}, models.Period{}, 0)
	assert.Equal(t, "SELECT category, period, value, rescaled FROM `ksh`.`tidy_records` FINAL WHERE dataset = ? ORDER BY category_key, period_date", q)
	assert.Equal(t, []any{"lak0012"}, args)

	q, args = buildQuery("t", "lak0012", models.YearPeriod(2010), models.YearPeriod(2020), 100)
	assert.Contains(t, q, "dataset = ? AND period_date >= ? AND period_date <= ?")
	assert.Contains(t, q, "LIMIT ?")
	require.Len(t, args, 4)
	assert.Equal(t, models.YearPeriod(2010).Date(), args[1])
	assert.Equal(t, 100, args[3])
}

func TestSchemaStatementsQuoteDatabase(t *testing.T) {
	stmts := SchemaStatements("ksh")
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS `ksh`", stmts[0])
	assert.Contains(t, stmts[1], "`ksh`.tidy_records")
	assert.Contains(t, stmts[2], "`ksh`.forecast_points")
}
