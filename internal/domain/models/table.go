package models

// RawTable is a fetched table as a grid of strings. The first HeaderRows
// rows are header rows, the rest are data rows.
type RawTable struct {
	Source     string     `json:"source"`
	HeaderRows int        `json:"header_rows"`
	Rows       [][]string `json:"rows"`
}

// Header returns the header rows.
func (t RawTable) Header() [][]string {
	if t.HeaderRows > len(t.Rows) {
		return t.Rows
	}
	return t.Rows[:t.HeaderRows]
}

// Data returns the data rows.
func (t RawTable) Data() [][]string {
	if t.HeaderRows > len(t.Rows) {
		return nil
	}
	return t.Rows[t.HeaderRows:]
}

// Width returns the widest header row.
func (t RawTable) Width() int {
	w := 0
	for _, row := range t.Header() {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

// TableSource describes where a dataset's table is fetched from.
type TableSource struct {
	Dataset    string
	URL        string
	Path       string
	Format     string // html or xlsx
	Encoding   string // charset label, e.g. iso-8859-2
	TableIndex int
	Sheet      string
	HeaderRows int
}

// Location returns the URL or file path the table is read from.
func (s TableSource) Location() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Path
}
