package tidy

import (
	"strings"

	"KSHPull/internal/domain/models"
)

type sourceRow struct {
	index int
	cells []string
	path  models.CategoryPath
}

// categoryFold resolves the category path of every data row. It walks the
// rows once, carrying the current category (forward fill) or the rows still
// waiting for their header (backward fill).
type categoryFold struct {
	cfg      *Config
	periods  []periodColumn
	pathCols []int
	labels   map[string]struct{}
	markers  map[string]struct{}

	current    string
	seen       bool
	pending    []sourceRow
	lastLabels []string

	headers    int
	unresolved int
}

func newCategoryFold(cfg *Config, periods []periodColumn) *categoryFold {
	return &categoryFold{
		cfg:        cfg,
		periods:    periods,
		pathCols:   cfg.pathColumns(),
		labels:     lowerSet(cfg.Category.Labels),
		markers:    lowerSet(cfg.Category.Markers),
		lastLabels: make([]string, cfg.LabelColumns),
	}
}

// step consumes one row and returns the data rows resolved by it.
func (f *categoryFold) step(row sourceRow) []sourceRow {
	if f.cfg.Category.Mode == ModeColumns {
		return f.resolveColumns(row)
	}

	if label, ok := f.headerLabel(row.cells); ok {
		f.headers++
		if f.cfg.Category.Fill == FillBackward {
			out := make([]sourceRow, 0, len(f.pending))
			for _, p := range f.pending {
				if r, ok := f.withCategory(p, label); ok {
					out = append(out, r)
				}
			}
			f.pending = f.pending[:0]
			return out
		}
		f.current = label
		f.seen = true
		return nil
	}

	if f.cfg.Category.Fill == FillBackward {
		f.pending = append(f.pending, row)
		return nil
	}
	if !f.seen {
		f.unresolved++
		return nil
	}
	if r, ok := f.withCategory(row, f.current); ok {
		return []sourceRow{r}
	}
	return nil
}

// finish reports rows left without a category.
func (f *categoryFold) finish() {
	f.unresolved += len(f.pending)
	f.pending = nil
}

func (f *categoryFold) headerLabel(cells []string) (string, bool) {
	switch f.cfg.Category.Mode {
	case ModeEmptyRow:
		for _, pc := range f.periods {
			if strings.TrimSpace(cells[pc.index]) != "" {
				return "", false
			}
		}
		label := firstNonEmpty(cells[:f.cfg.LabelColumns])
		return label, label != ""
	case ModeListed:
		label := strings.TrimSpace(cells[0])
		_, ok := f.labels[strings.ToLower(label)]
		return label, ok
	case ModeMarker:
		marker := strings.ToLower(strings.TrimSpace(cells[f.cfg.Category.MarkerColumn]))
		if _, ok := f.markers[marker]; !ok {
			return "", false
		}
		label := strings.TrimSpace(cells[0])
		if f.cfg.Category.MarkerColumn == 0 && f.cfg.LabelColumns > 1 {
			label = strings.TrimSpace(cells[1])
		}
		return label, label != ""
	}
	return "", false
}

func (f *categoryFold) withCategory(row sourceRow, category string) (sourceRow, bool) {
	path := make(models.CategoryPath, 0, len(f.pathCols)+1)
	path = append(path, category)
	for _, c := range f.pathCols {
		path = append(path, strings.TrimSpace(row.cells[c]))
	}
	if !path.Resolved() {
		f.unresolved++
		return row, false
	}
	row.path = path
	return row, true
}

func (f *categoryFold) resolveColumns(row sourceRow) []sourceRow {
	path := make(models.CategoryPath, 0, len(f.pathCols))
	for _, c := range f.pathCols {
		cell := strings.TrimSpace(row.cells[c])
		if cell == "" {
			cell = f.lastLabels[c]
		} else {
			f.lastLabels[c] = cell
			// a new outer label starts a new block for the inner levels
			for inner := c + 1; inner < len(f.lastLabels); inner++ {
				f.lastLabels[inner] = ""
			}
		}
		path = append(path, cell)
	}
	if !path.Resolved() {
		f.unresolved++
		return nil
	}
	row.path = path
	return []sourceRow{row}
}

func firstNonEmpty(cells []string) string {
	for _, c := range cells {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return ""
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}
