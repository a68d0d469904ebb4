package tidy

import (
	"fmt"
	"strings"

	"KSHPull/internal/domain/models"
)

// Transformer reshapes raw KSH tables into tidy records according to a
// per-dataset Config. It holds no state between calls.
type Transformer struct {
	cfg      Config
	excluded map[string]struct{}
	aggLower []string
}

// New validates cfg and returns a Transformer for it.
func New(cfg Config) (*Transformer, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	agg := make([]string, 0, len(cfg.AggregateLabels))
	for _, a := range cfg.AggregateLabels {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			agg = append(agg, a)
		}
	}
	return &Transformer{
		cfg:      cfg,
		excluded: lowerSet(cfg.ExcludeLabels),
		aggLower: agg,
	}, nil
}

func (t *Transformer) Config() Config { return t.cfg }

// Transform runs truncation, header normalization, category resolution,
// filtering, reshaping, numeric normalization and rescaling, in that order.
func (t *Transformer) Transform(raw models.RawTable) (*models.TidyDataset, error) {
	labels, err := collapseHeader(raw)
	if err != nil {
		return nil, err
	}
	width := len(labels)
	if width <= t.cfg.LabelColumns {
		return nil, &models.MalformedTableError{Source: raw.Source, Reason: fmt.Sprintf("header has %d columns, need more than %d label columns", width, t.cfg.LabelColumns)}
	}
	periods := periodColumns(labels, t.cfg.LabelColumns)
	if len(periods) == 0 {
		return nil, &models.MalformedTableError{Source: raw.Source, Reason: "no period columns in header"}
	}

	data, err := t.truncate(raw)
	if err != nil {
		return nil, err
	}

	ds := &models.TidyDataset{
		Name:        t.cfg.Name,
		Source:      raw.Source,
		Dimensions:  t.dimensions(labels),
		ValueName:   t.cfg.ValueName,
		Unit:        t.cfg.Unit,
		Granularity: periods[0].period.Granularity(),
	}

	fold := newCategoryFold(&t.cfg, periods)
	seen := make(map[string]struct{})
	for i, cells := range data {
		if len(cells) != width {
			return nil, &models.SchemaError{Row: raw.HeaderRows + t.cfg.SkipRows + i, Want: width, Got: len(cells)}
		}
		ds.Stats.DataRows++
		for _, row := range fold.step(sourceRow{index: i, cells: cells}) {
			if err := t.emit(ds, row, periods, seen); err != nil {
				return nil, err
			}
		}
	}
	fold.finish()
	ds.Stats.Headers = fold.headers
	ds.Stats.Unresolved = fold.unresolved
	return ds, nil
}

func (t *Transformer) truncate(raw models.RawTable) ([][]string, error) {
	data := raw.Data()
	if t.cfg.SkipRows > 0 {
		if t.cfg.SkipRows >= len(data) {
			return nil, &models.MalformedTableError{Source: raw.Source, Reason: fmt.Sprintf("cannot skip %d of %d data rows", t.cfg.SkipRows, len(data))}
		}
		data = data[t.cfg.SkipRows:]
	}

	tr := t.cfg.Truncate
	if tr.Marker != "" {
		cut := -1
		for i, row := range data {
			if tr.Column < len(row) && matches(row[tr.Column], tr.Marker, tr.Match) {
				cut = i
				break
			}
		}
		switch {
		case cut >= 0:
			data = data[:cut]
		case tr.Required:
			return nil, &models.MalformedTableError{Source: raw.Source, Reason: fmt.Sprintf("cutoff marker %q not found", tr.Marker)}
		}
	}
	if tr.MaxRows > 0 {
		if len(data) > tr.MaxRows {
			data = data[:tr.MaxRows]
		} else if tr.Required && len(data) < tr.MaxRows {
			return nil, &models.MalformedTableError{Source: raw.Source, Reason: fmt.Sprintf("expected %d data rows, table has %d", tr.MaxRows, len(data))}
		}
	}
	return data, nil
}

func (t *Transformer) emit(ds *models.TidyDataset, row sourceRow, periods []periodColumn, seen map[string]struct{}) error {
	if t.isAggregate(row) {
		ds.Stats.Aggregates++
		return nil
	}
	if t.isExcluded(row.path) {
		ds.Stats.Excluded++
		return nil
	}

	for _, pc := range periods {
		rec := models.TidyRecord{
			Category: row.path,
			Period:   pc.period,
			Value:    ParseValue(row.cells[pc.index], t.cfg.MissingTokens),
		}
		key := rec.ObservationKey()
		if _, dup := seen[key]; dup {
			return &models.DuplicateObservationError{Category: rec.Category, Period: rec.Period}
		}
		seen[key] = struct{}{}

		if rec.Value.IsMissing() {
			ds.Stats.Missing++
		}
		for _, rule := range t.cfg.Rescale {
			var applied bool
			if rec, applied = rule.Apply(rec); applied {
				ds.Stats.Rescaled++
				break
			}
		}
		ds.Records = append(ds.Records, rec)
	}
	return nil
}

// isAggregate reports whether one of the row's own label cells is a total.
func (t *Transformer) isAggregate(row sourceRow) bool {
	if len(t.aggLower) == 0 {
		return false
	}
	for i := 0; i < t.cfg.LabelColumns; i++ {
		cell := strings.ToLower(row.cells[i])
		for _, a := range t.aggLower {
			if strings.Contains(cell, a) {
				return true
			}
		}
	}
	return false
}

func (t *Transformer) isExcluded(path models.CategoryPath) bool {
	if len(t.excluded) == 0 {
		return false
	}
	for _, label := range path {
		if _, ok := t.excluded[strings.ToLower(label)]; ok {
			return true
		}
	}
	return false
}

func (t *Transformer) dimensions(labels []string) []string {
	if len(t.cfg.Dimensions) > 0 {
		return t.cfg.Dimensions
	}
	dims := make([]string, 0, t.cfg.pathLength())
	if t.cfg.Category.Mode != ModeColumns {
		dims = append(dims, "Kategória")
	}
	for _, c := range t.cfg.pathColumns() {
		name := labels[c]
		if name == "" {
			name = fmt.Sprintf("Szint %d", len(dims)+1)
		}
		dims = append(dims, name)
	}
	return dims
}

func matches(cell, marker string, mode MatchMode) bool {
	cell = strings.TrimSpace(cell)
	if mode == MatchEquals {
		return cell == marker
	}
	return strings.Contains(cell, marker)
}
