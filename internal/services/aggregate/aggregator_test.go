package aggregate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KSHPull/internal/domain/models"
)

func rec(region, kind string, year int, v models.Value) models.TidyRecord {
	return models.TidyRecord{
		Category: models.CategoryPath{region, kind},
		Period:   models.YearPeriod(year),
		Value:    v,
	}
}

func sample() []models.TidyRecord {
	return []models.TidyRecord{
		rec("Budapest", "városok", 2020, models.Number(10)),
		rec("Budapest", "városok", 2021, models.Number(12)),
		rec("Pest", "városok", 2020, models.Number(4)),
		rec("Pest", "községek", 2020, models.Number(2)),
		rec("Pest", "városok", 2021, models.Missing),
		rec("Pest", "községek", 2021, models.Number(3)),
		rec("Baranya", "városok", 2020, models.Number(7)),
		rec("Baranya", "községek", 2020, models.Missing),
		rec("Baranya", "városok", 2021, models.Missing),
		rec("Baranya", "községek", 2021, models.Missing),
	}
}

func TestAggregateBySlotSum(t *testing.T) {
	groups, err := Aggregate(sample(), Request{GroupBy: GroupBy{Slots: []int{0}}})
	require.NoError(t, err)
	require.Len(t, groups, 3)

	pest := groups[models.CategoryPath{"Pest"}.Key()]
	require.Len(t, pest.Observations, 2)
	assert.Equal(t, models.YearPeriod(2020), pest.Observations[0].Period)
	assert.Equal(t, models.Number(6), pest.Observations[0].Value)
	assert.Equal(t, models.Number(3), pest.Observations[1].Value, "missing excluded, not zero")

	baranya := groups[models.CategoryPath{"Baranya"}.Key()]
	assert.Equal(t, models.Number(7), baranya.Observations[0].Value)
	assert.True(t, baranya.Observations[1].Value.IsMissing(), "all-missing period stays missing")
	assert.Equal(t, models.Annual, baranya.Granularity)
}

func TestAggregateMean(t *testing.T) {
	groups, err := Aggregate(sample(), Request{GroupBy: GroupBy{Slots: []int{0}}, Reducer: ReduceMean})
	require.NoError(t, err)
	pest := groups[models.CategoryPath{"Pest"}.Key()]
	assert.Equal(t, models.Number(3), pest.Observations[0].Value)
}

func TestAggregateMissingAsZero(t *testing.T) {
	groups, err := Aggregate(sample(), Request{GroupBy: GroupBy{Slots: []int{0}}, Reducer: ReduceMean, Missing: MissingZero})
	require.NoError(t, err)
	pest := groups[models.CategoryPath{"Pest"}.Key()]
	assert.Equal(t, models.Number(1.5), pest.Observations[1].Value)
}

func TestAggregateTotal(t *testing.T) {
	groups, err := Aggregate(sample(), Request{})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	total := groups[""]
	assert.Equal(t, models.Number(23), total.Observations[0].Value)
	assert.Equal(t, models.Number(15), total.Observations[1].Value)
	assert.Equal(t, "all", total.Name())
}

func TestAggregateClassifier(t *testing.T) {
	req := Request{
		GroupBy: GroupBy{Classify: &Classifier{
			Rules: []Rule{
				{Group: "Budapest és Pest", Slot: 0, In: []string{"Budapest", "Pest"}},
				{Group: "Többi város", Slot: 1, In: []string{"városok"}},
			},
			Default: "Egyéb",
		}},
		Keep: []string{"Budapest és Pest", "Többi város"},
	}

	groups, err := Aggregate(sample(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"Budapest és Pest", "Többi város"}, SortedKeys(groups))

	bp := groups["Budapest és Pest"]
	assert.Equal(t, models.Number(16), bp.Observations[0].Value)
	assert.Equal(t, models.Number(15), bp.Observations[1].Value)

	other := groups["Többi város"]
	assert.Equal(t, models.Number(7), other.Observations[0].Value)
}

func TestAggregateFilter(t *testing.T) {
	req := Request{Filter: []Filter{{Slot: 1, In: []string{"községek"}}}}
	groups, err := Aggregate(sample(), req)
	require.NoError(t, err)
	total := groups[""]
	assert.Equal(t, models.Number(2), total.Observations[0].Value)
}

func TestAggregateEmptyGroup(t *testing.T) {
	req := Request{Filter: []Filter{{Slot: 0, In: []string{"Tolna"}}}}
	_, err := Aggregate(sample(), req)
	var eg *models.EmptyGroupError
	require.True(t, errors.As(err, &eg))
	assert.Contains(t, eg.Error(), "Tolna")
}

func TestAggregateMonthlyToAnnual(t *testing.T) {
	records := []models.TidyRecord{
		{Category: models.CategoryPath{"a"}, Period: models.MonthPeriod(2020, 1), Value: models.Number(1)},
		{Category: models.CategoryPath{"a"}, Period: models.MonthPeriod(2020, 2), Value: models.Number(2)},
		{Category: models.CategoryPath{"a"}, Period: models.MonthPeriod(2021, 1), Value: models.Number(5)},
	}
	groups, err := Aggregate(records, Request{Granularity: models.Annual})
	require.NoError(t, err)
	total := groups[""]
	require.Len(t, total.Observations, 2)
	assert.Equal(t, models.Number(3), total.Observations[0].Value)
	assert.Equal(t, models.Annual, total.Granularity)
}

func TestRequestValidate(t *testing.T) {
	assert.Error(t, Request{Reducer: "mode"}.Validate())
	assert.Error(t, Request{GroupBy: GroupBy{Slots: []int{0}, Classify: &Classifier{Rules: []Rule{{Group: "x", In: []string{"y"}}}}}}.Validate())
	assert.NoError(t, Request{GroupBy: GroupBy{Slots: []int{1}}}.Validate())
}
