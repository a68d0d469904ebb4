package repository

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"KSHPull/internal/domain/models"
	"KSHPull/internal/domain/repository"
	xhttp "KSHPull/pkg/http"
	applogger "KSHPull/pkg/logger"
)

// XLSXTableLoader reads a worksheet of an .xlsx workbook. Merged ranges are
// expanded like HTML spans.
type XLSXTableLoader struct {
	client *xhttp.Client
	l      *applogger.Logger
}

func NewXLSXTableLoader(client *xhttp.Client, l *applogger.Logger) repository.TableLoader {
	if l == nil {
		l = applogger.NewNop()
	}
	return &XLSXTableLoader{client: client, l: l}
}

func (x *XLSXTableLoader) Load(ctx context.Context, src models.TableSource) (*models.RawTable, error) {
	body, _, err := readSource(ctx, x.client, src)
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", src.Location(), err)
	}
	defer f.Close()

	sheet, err := pickSheet(f, src)
	if err != nil {
		return nil, err
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, &models.MalformedTableError{Source: src.Location(), Reason: fmt.Sprintf("sheet %s is empty", sheet)}
	}
	for i, r := range rows {
		for j, c := range r {
			rows[i][j] = strings.Join(strings.Fields(c), " ")
		}
	}
	rows = padRows(rows)

	merged, err := f.GetMergeCells(sheet)
	if err != nil {
		return nil, fmt.Errorf("merged cells of %s: %w", sheet, err)
	}
	if err := expandMerged(rows, merged); err != nil {
		return nil, err
	}

	headerRows := src.HeaderRows
	if headerRows <= 0 {
		headerRows = 1
	}
	x.l.Debug("xlsx table loaded",
		applogger.String("dataset", src.Dataset),
		applogger.String("sheet", sheet),
		applogger.Int("rows", len(rows)))

	return &models.RawTable{Source: sourceName(src), HeaderRows: headerRows, Rows: rows}, nil
}

func pickSheet(f *excelize.File, src models.TableSource) (string, error) {
	sheets := f.GetSheetList()
	if src.Sheet != "" {
		for _, s := range sheets {
			if strings.EqualFold(s, src.Sheet) {
				return s, nil
			}
		}
		return "", &models.MalformedTableError{Source: src.Location(), Reason: fmt.Sprintf("no sheet %q", src.Sheet)}
	}
	if src.TableIndex < 0 || src.TableIndex >= len(sheets) {
		return "", &models.MalformedTableError{
			Source: src.Location(),
			Reason: fmt.Sprintf("sheet index %d out of range, workbook has %d sheets", src.TableIndex, len(sheets)),
		}
	}
	return sheets[src.TableIndex], nil
}

// expandMerged copies the value of every merged range into all its cells.
// rows must already be rectangular.
func expandMerged(rows [][]string, merged []excelize.MergeCell) error {
	for _, mc := range merged {
		c1, r1, err := excelize.CellNameToCoordinates(mc.GetStartAxis())
		if err != nil {
			return fmt.Errorf("merge start %s: %w", mc.GetStartAxis(), err)
		}
		c2, r2, err := excelize.CellNameToCoordinates(mc.GetEndAxis())
		if err != nil {
			return fmt.Errorf("merge end %s: %w", mc.GetEndAxis(), err)
		}
		value := strings.Join(strings.Fields(mc.GetCellValue()), " ")
		for r := r1 - 1; r < r2 && r < len(rows); r++ {
			for c := c1 - 1; c < c2 && c < len(rows[r]); c++ {
				rows[r][c] = value
			}
		}
	}
	return nil
}

// FormatLoader routes a source to the HTML or XLSX loader by its format.
type FormatLoader struct {
	html repository.TableLoader
	xlsx repository.TableLoader
}

func NewFormatLoader(html, xlsx repository.TableLoader) *FormatLoader {
	return &FormatLoader{html: html, xlsx: xlsx}
}

func (f *FormatLoader) Load(ctx context.Context, src models.TableSource) (*models.RawTable, error) {
	switch strings.ToLower(src.Format) {
	case "", "html":
		return f.html.Load(ctx, src)
	case "xlsx":
		return f.xlsx.Load(ctx, src)
	default:
		return nil, fmt.Errorf("unsupported table format %q", src.Format)
	}
}
