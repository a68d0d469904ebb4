package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"

	"KSHPull/internal/domain/models"
	"KSHPull/internal/domain/repository"
	xhttp "KSHPull/pkg/http"
	applogger "KSHPull/pkg/logger"
)

// HTMLTableLoader reads the n-th <table> of an HTML page into a string grid.
// Cells spanning several columns or rows are repeated into every slot they
// cover, so multi-level headers line up with the data columns.
type HTMLTableLoader struct {
	client *xhttp.Client
	l      *applogger.Logger
}

// NewHTMLTableLoader creates a loader fetching remote pages through client.
func NewHTMLTableLoader(client *xhttp.Client, l *applogger.Logger) repository.TableLoader {
	if l == nil {
		l = applogger.NewNop()
	}
	return &HTMLTableLoader{client: client, l: l}
}

func (h *HTMLTableLoader) Load(ctx context.Context, src models.TableSource) (*models.RawTable, error) {
	body, contentType, err := readSource(ctx, h.client, src)
	if err != nil {
		return nil, err
	}
	r, err := decodeHTML(body, contentType, src.Encoding)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", src.Location(), err)
	}

	tables := doc.Find("table")
	if src.TableIndex < 0 || src.TableIndex >= tables.Length() {
		return nil, &models.MalformedTableError{
			Source: src.Location(),
			Reason: fmt.Sprintf("table index %d out of range, page has %d tables", src.TableIndex, tables.Length()),
		}
	}
	table := tables.Eq(src.TableIndex)
	rows := tableGrid(table)
	if len(rows) == 0 {
		return nil, &models.MalformedTableError{Source: src.Location(), Reason: "table has no rows"}
	}

	headerRows := src.HeaderRows
	if headerRows <= 0 {
		headerRows = table.Find("thead tr").Length()
	}
	if headerRows <= 0 {
		headerRows = 1
	}

	h.l.Debug("html table loaded",
		applogger.String("dataset", src.Dataset),
		applogger.String("source", src.Location()),
		applogger.Int("rows", len(rows)),
		applogger.Int("header_rows", headerRows))

	return &models.RawTable{Source: sourceName(src), HeaderRows: headerRows, Rows: rows}, nil
}

// decodeHTML converts body to UTF-8. An explicit label wins; otherwise the
// charset is taken from the Content-Type header or the page's meta tag.
func decodeHTML(body []byte, contentType, label string) (io.Reader, error) {
	if label != "" {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, fmt.Errorf("unknown encoding %q: %w", label, err)
		}
		return enc.NewDecoder().Reader(bytes.NewReader(body)), nil
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}
	return r, nil
}

type span struct {
	text string
	left int
}

// tableGrid expands a table's rows, honoring colspan and rowspan. Nested
// tables are not descended into.
func tableGrid(table *goquery.Selection) [][]string {
	var (
		out     [][]string
		pending = map[int]*span{}
	)
	table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.ParentsFiltered("table").First().IsSelection(table)
	}).Each(func(_ int, tr *goquery.Selection) {
		var row []string
		col := 0
		fill := func() {
			for {
				sp, ok := pending[col]
				if !ok {
					return
				}
				row = append(row, sp.text)
				sp.left--
				if sp.left == 0 {
					delete(pending, col)
				}
				col++
			}
		}

		tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			fill()
			text := cellText(cell)
			cs := spanAttr(cell, "colspan")
			rs := spanAttr(cell, "rowspan")
			for i := 0; i < cs; i++ {
				row = append(row, text)
				if rs > 1 {
					pending[col] = &span{text: text, left: rs - 1}
				}
				col++
			}
		})
		fill()
		// spans below a short row still occupy their columns
		for len(pending) > 0 && hasPendingBeyond(pending, col) {
			if _, ok := pending[col]; !ok {
				row = append(row, "")
				col++
				continue
			}
			fill()
		}
		if len(row) > 0 {
			out = append(out, row)
		}
	})
	return padRows(out)
}

func hasPendingBeyond(pending map[int]*span, col int) bool {
	for c := range pending {
		if c >= col {
			return true
		}
	}
	return false
}

func cellText(cell *goquery.Selection) string {
	cell.Find("br").ReplaceWithHtml(" ")
	cell.Find("sup").Remove()
	return strings.Join(strings.Fields(cell.Text()), " ")
}

func spanAttr(cell *goquery.Selection, name string) int {
	v, ok := cell.Attr(name)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func padRows(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	for i, r := range rows {
		for len(r) < width {
			r = append(r, "")
		}
		rows[i] = r
	}
	return rows
}

// readSource fetches the raw bytes from the URL or reads the local file.
func readSource(ctx context.Context, client *xhttp.Client, src models.TableSource) ([]byte, string, error) {
	if src.URL != "" {
		if client == nil {
			return nil, "", fmt.Errorf("no http client for %s", src.URL)
		}
		body, ct, err := client.Fetch(ctx, src.URL)
		if err != nil {
			return nil, "", fmt.Errorf("fetch %s: %w", src.URL, err)
		}
		return body, ct, nil
	}
	if src.Path == "" {
		return nil, "", fmt.Errorf("dataset %s has neither url nor path", src.Dataset)
	}
	body, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", src.Path, err)
	}
	return body, "", nil
}

func sourceName(src models.TableSource) string {
	if src.Dataset != "" {
		return src.Dataset
	}
	return src.Location()
}
