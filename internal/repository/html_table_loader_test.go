package repository

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"KSHPull/internal/domain/models"
	"KSHPull/pkg/cache"
	xhttp "KSHPull/pkg/http"
)

const page = `<html><head><meta charset="utf-8"></head><body>
<table><tr><td>navigation</td></tr></table>
<table>
 <thead>
  <tr><th rowspan="2">Megnevezés</th><th colspan="2">Lakás</th></tr>
  <tr><th>2020</th><th>2021<sup>a)</sup></th></tr>
 </thead>
 <tbody>
  <tr><td>Budapest</td><td>1&nbsp;234</td><td>1 300</td></tr>
  <tr><td>Pest<br>megye</td><td>–</td><td>..</td></tr>
 </tbody>
</table>
</body></html>`

func TestHTMLTableLoaderExpandsSpans(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	l := NewHTMLTableLoader(xhttp.NewClient(xhttp.WithTimeout(5*time.Second)), nil)
	raw, err := l.Load(context.Background(), models.TableSource{Dataset: "lak0012", URL: srv.URL, TableIndex: 1})
	require.NoError(t, err)

	assert.Equal(t, "lak0012", raw.Source)
	assert.Equal(t, 2, raw.HeaderRows, "thead rows are used when no header count is configured")
	assert.Equal(t, [][]string{
		{"Megnevezés", "Lakás", "Lakás"},
		{"Megnevezés", "2020", "2021"},
		{"Budapest", "1 234", "1 300"},
		{"Pest megye", "–", ".."},
	}, raw.Rows)
}

func TestHTMLTableLoaderDecodesLatin2(t *testing.T) {
	enc, err := charmap.ISO8859_2.NewEncoder().String(`<table><tr><th></th><th>2020</th></tr><tr><td>Győr</td><td>5</td></tr></table>`)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "lak.html")
	require.NoError(t, os.WriteFile(path, []byte(enc), 0o644))

	raw, err := NewHTMLTableLoader(nil, nil).Load(context.Background(),
		models.TableSource{Path: path, Encoding: "iso-8859-2", HeaderRows: 1})
	require.NoError(t, err)
	assert.Equal(t, "Győr", raw.Rows[1][0])
	assert.Equal(t, path, raw.Source)
}

func TestHTMLTableLoaderTableIndexOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.html")
	require.NoError(t, os.WriteFile(path, []byte("<p>no tables</p>"), 0o644))

	_, err := NewHTMLTableLoader(nil, nil).Load(context.Background(), models.TableSource{Path: path})
	var mt *models.MalformedTableError
	assert.ErrorAs(t, err, &mt)
}

type countingLoader struct{ calls atomic.Int32 }

func (c *countingLoader) Load(_ context.Context, src models.TableSource) (*models.RawTable, error) {
	c.calls.Add(1)
	return &models.RawTable{Source: src.Dataset, HeaderRows: 1, Rows: [][]string{{"", "2020"}, {"a", "1"}}}, nil
}

func TestCachedTableLoader(t *testing.T) {
	ctx := context.Background()
	next := &countingLoader{}
	mem := cache.NewMemoryCache()
	defer mem.Close()
	l := NewCachedTableLoader(next, mem, time.Minute, nil)
	src := models.TableSource{Dataset: "lak0014", URL: "http://example/lak0014.html", HeaderRows: 1}

	first, err := l.Load(ctx, src)
	require.NoError(t, err)
	second, err := l.Load(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), next.calls.Load())

	require.NoError(t, l.Invalidate(ctx, src))
	_, err = l.Load(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestFormatLoaderRejectsUnknownFormat(t *testing.T) {
	f := NewFormatLoader(&countingLoader{}, &countingLoader{})
	_, err := f.Load(context.Background(), models.TableSource{Format: "csv"})
	assert.Error(t, err)

	raw, err := f.Load(context.Background(), models.TableSource{Format: "XLSX", Dataset: "d"})
	require.NoError(t, err)
	assert.Equal(t, "d", raw.Source)
}
