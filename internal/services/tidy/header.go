package tidy

import (
	"strings"

	"KSHPull/internal/domain/models"
)

type periodColumn struct {
	index  int
	period models.Period
}

// collapseHeader reduces the header rows to one label per column. For every
// column the innermost level that parses as a period wins; otherwise the
// innermost non-empty level is used.
func collapseHeader(raw models.RawTable) ([]string, error) {
	header := raw.Header()
	if len(header) == 0 {
		return nil, &models.MalformedTableError{Source: raw.Source, Reason: "table has no header rows"}
	}
	width := raw.Width()
	for i, row := range header {
		if len(row) != width {
			return nil, &models.SchemaError{Row: i, Want: width, Got: len(row)}
		}
	}

	labels := make([]string, width)
	for col := 0; col < width; col++ {
		labels[col] = collapseColumn(header, col)
	}
	return labels, nil
}

func collapseColumn(header [][]string, col int) string {
	fallback := ""
	for level := len(header) - 1; level >= 0; level-- {
		cell := strings.TrimSpace(header[level][col])
		if cell == "" {
			continue
		}
		if _, ok := models.ParsePeriod(cell); ok {
			return cell
		}
		if fallback == "" {
			fallback = cell
		}
	}
	return fallback
}

// periodColumns returns the value columns whose label is a period.
func periodColumns(labels []string, labelColumns int) []periodColumn {
	var cols []periodColumn
	for i := labelColumns; i < len(labels); i++ {
		if p, ok := models.ParsePeriod(labels[i]); ok {
			cols = append(cols, periodColumn{index: i, period: p})
		}
	}
	return cols
}
