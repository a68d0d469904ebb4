package tidy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KSHPull/internal/domain/models"
)

func byKey(records []models.TidyRecord) map[string]models.TidyRecord {
	out := make(map[string]models.TidyRecord, len(records))
	for _, r := range records {
		out[r.Category.String()+"@"+r.Period.String()] = r
	}
	return out
}

func mustNew(t *testing.T, cfg Config) *Transformer {
	t.Helper()
	tr, err := New(cfg)
	require.NoError(t, err)
	return tr
}

func TestTransformRoundTrip(t *testing.T) {
	tr := mustNew(t, Config{Name: "roundtrip"})
	raw := models.RawTable{
		Source:     "test",
		HeaderRows: 1,
		Rows: [][]string{
			{"Terület", "2020", "2021"},
			{"Lakások", "", ""},
			{"Budapest", "1.234", "1 300"},
			{"Vidék", "..", "900"},
		},
	}

	ds, err := tr.Transform(raw)
	require.NoError(t, err)
	require.Len(t, ds.Records, 4)

	got := byKey(ds.Records)
	assert.Equal(t, models.Number(1234), got["Lakások / Budapest@2020"].Value)
	assert.Equal(t, models.Number(1300), got["Lakások / Budapest@2021"].Value)
	assert.True(t, got["Lakások / Vidék@2020"].Value.IsMissing())
	assert.Equal(t, models.Number(900), got["Lakások / Vidék@2021"].Value)

	assert.Equal(t, models.CategoryPath{"Lakások", "Budapest"}, got["Lakások / Budapest@2020"].Category)
	assert.Equal(t, models.Annual, ds.Granularity)
	assert.Equal(t, []string{"Kategória", "Terület"}, ds.Dimensions)
	assert.Equal(t, 1, ds.Stats.Headers)
	assert.Equal(t, 1, ds.Stats.Missing)
}

func TestTransformDropsAggregateRows(t *testing.T) {
	tr := mustNew(t, Config{Name: "agg", AggregateLabels: []string{"összesen"}})
	raw := models.RawTable{
		HeaderRows: 1,
		Rows: [][]string{
			{"Terület", "2020"},
			{"Lakások", ""},
			{"Budapest", "10"},
			{"Összesen", "10"},
		},
	}

	ds, err := tr.Transform(raw)
	require.NoError(t, err)
	require.Len(t, ds.Records, 1)
	assert.Equal(t, "Budapest", ds.Records[0].Category.Slot(1))
	assert.Equal(t, 1, ds.Stats.Aggregates)
}

func TestTransformRecordsAreUniqueAndResolved(t *testing.T) {
	tr := mustNew(t, Config{Name: "unique", AggregateLabels: []string{"összesen"}})
	raw := models.RawTable{
		HeaderRows: 1,
		Rows: [][]string{
			{"Megnevezés", "2019", "2020", "2021"},
			{"Épített lakások", "", "", ""},
			{"Természetes személy", "1", "2", "3"},
			{"Jogi személy", "4", "5", "6"},
			{"Épített lakások összesen", "5", "7", "9"},
			{"Megszűnt lakások", "", "", ""},
			{"Természetes személy", "7", "8", "9"},
		},
	}

	ds, err := tr.Transform(raw)
	require.NoError(t, err)
	assert.Len(t, ds.Records, 9)

	seen := map[string]bool{}
	for _, r := range ds.Records {
		assert.True(t, r.Category.Resolved(), "unresolved path %v", r.Category)
		key := r.ObservationKey()
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true
	}
}

func TestTransformDuplicateObservation(t *testing.T) {
	tr := mustNew(t, Config{Name: "dup"})
	raw := models.RawTable{
		HeaderRows: 1,
		Rows: [][]string{
			{"Terület", "2020"},
			{"Lakások", ""},
			{"Budapest", "1"},
			{"Budapest", "2"},
		},
	}

	_, err := tr.Transform(raw)
	var dup *models.DuplicateObservationError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, models.YearPeriod(2020), dup.Period)
}

func TestTransformSchemaError(t *testing.T) {
	tr := mustNew(t, Config{Name: "schema"})
	raw := models.RawTable{
		HeaderRows: 1,
		Rows: [][]string{
			{"Terület", "2020", "2021"},
			{"Budapest", "1"},
		},
	}

	_, err := tr.Transform(raw)
	var se *models.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 3, se.Want)
	assert.Equal(t, 2, se.Got)
}

func TestTransformTruncation(t *testing.T) {
	rows := [][]string{
		{"Megnevezés", "2020"},
		{"Lakások", ""},
		{"Budapest", "1"},
		{"A lakás nagysága", ""},
		{"1 szoba", "5"},
	}

	t.Run("cutoff", func(t *testing.T) {
		tr := mustNew(t, Config{Name: "cut", Truncate: Truncation{Marker: "A lakás nagysága", Required: true}})
		ds, err := tr.Transform(models.RawTable{HeaderRows: 1, Rows: rows})
		require.NoError(t, err)
		require.Len(t, ds.Records, 1)
		assert.Equal(t, "Budapest", ds.Records[0].Category.Slot(1))
	})

	t.Run("required marker missing", func(t *testing.T) {
		tr := mustNew(t, Config{Name: "cut", Truncate: Truncation{Marker: "Nincs ilyen", Required: true}})
		_, err := tr.Transform(models.RawTable{HeaderRows: 1, Rows: rows})
		var mt *models.MalformedTableError
		assert.True(t, errors.As(err, &mt))
	})

	t.Run("optional marker missing", func(t *testing.T) {
		tr := mustNew(t, Config{Name: "cut", Truncate: Truncation{Marker: "Nincs ilyen"}})
		ds, err := tr.Transform(models.RawTable{HeaderRows: 1, Rows: rows})
		require.NoError(t, err)
		assert.Len(t, ds.Records, 2)
	})

	t.Run("max rows", func(t *testing.T) {
		tr := mustNew(t, Config{Name: "cut", Truncate: Truncation{MaxRows: 2}})
		ds, err := tr.Transform(models.RawTable{HeaderRows: 1, Rows: rows})
		require.NoError(t, err)
		assert.Len(t, ds.Records, 1)
	})

	t.Run("required max rows met", func(t *testing.T) {
		tr := mustNew(t, Config{Name: "cut", Truncate: Truncation{MaxRows: 2, Required: true}})
		ds, err := tr.Transform(models.RawTable{HeaderRows: 1, Rows: rows})
		require.NoError(t, err)
		assert.Len(t, ds.Records, 1)
	})

	t.Run("required max rows missing", func(t *testing.T) {
		tr := mustNew(t, Config{Name: "lak0020", Truncate: Truncation{MaxRows: 32, Required: true}})
		_, err := tr.Transform(models.RawTable{HeaderRows: 1, Rows: rows})
		var mt *models.MalformedTableError
		require.True(t, errors.As(err, &mt), "got %v", err)
		assert.Contains(t, mt.Reason, "32")
	})
}

func TestTransformListedCategoriesWithRescale(t *testing.T) {
	threshold := 20.0
	cfg := Config{
		Name:          "lak0014",
		Dimensions:    []string{"Fő kategória", "Épülettípus"},
		Category:      CategoryRule{Mode: ModeListed, Labels: []string{"Új lakások ára, millió forint", "Új lakások átlagos négyzetméterára, ezer forint"}},
		ExcludeLabels: []string{"Összesen"},
		Rescale: []RescaleRule{{
			Name:       "price_unit_fix",
			Categories: []string{"Új lakások ára, millió forint"},
			Threshold:  &threshold,
			Divisor:    10,
		}},
	}
	tr := mustNew(t, cfg)
	raw := models.RawTable{
		HeaderRows: 1,
		Rows: [][]string{
			{"Épülettípus", "2020", "2021"},
			{"Új lakások ára, millió forint", "", ""},
			{"Családi ház", "35,2", "18,4"},
			{"Összesen", "30,0", "31,0"},
			{"Új lakások átlagos négyzetméterára, ezer forint", "", ""},
			{"Családi ház", "450", "520"},
		},
	}

	ds, err := tr.Transform(raw)
	require.NoError(t, err)
	got := byKey(ds.Records)
	require.Len(t, got, 4)

	high := got["Új lakások ára, millió forint / Családi ház@2020"]
	assert.InDelta(t, 3.52, high.Value.Float, 1e-9)
	assert.Equal(t, "price_unit_fix", high.Rescaled)

	low := got["Új lakások ára, millió forint / Családi ház@2021"]
	assert.InDelta(t, 18.4, low.Value.Float, 1e-9)
	assert.Empty(t, low.Rescaled)

	other := got["Új lakások átlagos négyzetméterára, ezer forint / Családi ház@2020"]
	assert.InDelta(t, 450, other.Value.Float, 1e-9)
	assert.Equal(t, 1, ds.Stats.Excluded)
}

func TestRescaleRuleAppliesOnce(t *testing.T) {
	threshold := 20.0
	rule := RescaleRule{Name: "fix", Threshold: &threshold, Divisor: 10}
	rec := models.TidyRecord{Category: models.CategoryPath{"a"}, Value: models.Number(250)}

	once, ok := rule.Apply(rec)
	require.True(t, ok)
	assert.InDelta(t, 25, once.Value.Float, 1e-9)

	twice, ok := rule.Apply(once)
	assert.False(t, ok)
	assert.Equal(t, once, twice)
}

func TestTransformMarkerBackwardFill(t *testing.T) {
	cfg := Config{
		Name:          "lak0020",
		LabelColumns:  2,
		Dimensions:    []string{"Régió", "Területi egység"},
		Category:      CategoryRule{Mode: ModeMarker, Fill: FillBackward, MarkerColumn: 1, Markers: []string{"régió", "nagyrégióc"}},
		ExcludeLabels: []string{"Ország összesen"},
	}
	tr := mustNew(t, cfg)
	raw := models.RawTable{
		HeaderRows: 2,
		Rows: [][]string{
			{"Területi egység", "Területi egység", "2022", "2023"},
			{"", "", "db", "db"},
			{"Budapest", "főváros", "1 200", "1 100"},
			{"Pest", "megye", "900", "850"},
			{"Közép-Magyarország", "régió", "2 100", "1 950"},
			{"Győr-Moson-Sopron", "megye", "300", "310"},
			{"Nyugat-Dunántúl", "régió", "300", "310"},
			{"Ország összesen", "", "2 400", "2 260"},
		},
	}

	ds, err := tr.Transform(raw)
	require.NoError(t, err)
	got := byKey(ds.Records)
	require.Len(t, got, 6)
	assert.Equal(t, models.Number(1200), got["Közép-Magyarország / Budapest@2022"].Value)
	assert.Equal(t, models.Number(310), got["Nyugat-Dunántúl / Győr-Moson-Sopron@2023"].Value)
	assert.Equal(t, 2, ds.Stats.Headers)
	assert.Equal(t, 1, ds.Stats.Unresolved)
}

func TestTransformColumnsMode(t *testing.T) {
	cfg := Config{
		Name:            "lak0027",
		LabelColumns:    2,
		SkipRows:        1,
		Category:        CategoryRule{Mode: ModeColumns},
		Truncate:        Truncation{Marker: "Ország", Match: MatchEquals},
		AggregateLabels: []string{"együtt"},
		Rescale:         []RescaleRule{{Name: "tenth", Divisor: 10}},
	}
	tr := mustNew(t, cfg)
	raw := models.RawTable{
		HeaderRows: 1,
		Rows: [][]string{
			{"Régió", "Épülettípus", "2021", "2022"},
			{"", "", "millió Ft", "millió Ft"},
			{"Budapest", "Társasházi lakás", "420", "460"},
			{"", "Családi ház", "610", "650"},
			{"", "együtt", "450", "490"},
			{"Ország", "Társasházi lakás", "300", "330"},
		},
	}

	ds, err := tr.Transform(raw)
	require.NoError(t, err)
	got := byKey(ds.Records)
	require.Len(t, got, 4)
	assert.InDelta(t, 42, got["Budapest / Társasházi lakás@2021"].Value.Float, 1e-9)
	assert.InDelta(t, 65, got["Budapest / Családi ház@2022"].Value.Float, 1e-9)
	assert.Equal(t, []string{"Régió", "Épülettípus"}, ds.Dimensions)
	assert.Equal(t, 1, ds.Stats.Aggregates)
}

func TestTransformMultiLevelHeader(t *testing.T) {
	tr := mustNew(t, Config{Name: "multi"})
	raw := models.RawTable{
		HeaderRows: 2,
		Rows: [][]string{
			{"Megnevezés", "2020", "2021", "Változás"},
			{"", "db", "db", "%"},
			{"Lakások", "", "", ""},
			{"Budapest", "1", "2", "100"},
		},
	}

	ds, err := tr.Transform(raw)
	require.NoError(t, err)
	assert.Len(t, ds.Records, 2)
}

func TestTransformNoPeriodColumns(t *testing.T) {
	tr := mustNew(t, Config{Name: "none"})
	_, err := tr.Transform(models.RawTable{HeaderRows: 1, Rows: [][]string{{"a", "b"}, {"c", "d"}}})
	var mt *models.MalformedTableError
	assert.True(t, errors.As(err, &mt))
}

func TestConfigValidate(t *testing.T) {
	_, err := New(Config{Name: "x", Category: CategoryRule{Mode: ModeListed}})
	assert.Error(t, err)

	_, err = New(Config{Name: "x", Category: CategoryRule{Mode: ModeMarker, Markers: []string{"régió"}, MarkerColumn: 1}})
	assert.Error(t, err, "marker column outside label columns")

	_, err = New(Config{Name: "x", Rescale: []RescaleRule{{Name: "r"}}})
	assert.Error(t, err, "zero divisor")

	_, err = New(Config{Name: "x", Dimensions: []string{"only one"}})
	assert.Error(t, err, "path has two levels")
}
