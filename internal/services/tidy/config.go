package tidy

import (
	"fmt"
	"strings"

	"KSHPull/internal/domain/models"
)

type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchEquals   MatchMode = "equals"
)

type CategoryMode string

const (
	// ModeEmptyRow treats rows whose value cells are all empty as category headers.
	ModeEmptyRow CategoryMode = "empty_row"
	// ModeListed treats rows whose label is in a configured list as category headers.
	ModeListed CategoryMode = "listed"
	// ModeMarker treats rows carrying a level marker in a label column as category headers.
	ModeMarker CategoryMode = "marker"
	// ModeColumns uses each label column as a category level.
	ModeColumns CategoryMode = "columns"
)

type FillDirection string

const (
	FillForward  FillDirection = "forward"
	FillBackward FillDirection = "backward"
)

// Truncation cuts trailing sections (footnotes, secondary tables) off the data rows.
type Truncation struct {
	Marker   string    `yaml:"marker" json:"marker"`
	Match    MatchMode `yaml:"match" json:"match" default:"contains" validate:"omitempty,oneof=contains equals"`
	Column   int       `yaml:"column" json:"column" validate:"gte=0"`
	Required bool      `yaml:"required" json:"required"`
	// MaxRows keeps only the first MaxRows data rows.
	MaxRows int `yaml:"max_rows" json:"max_rows" validate:"gte=0"`
}

type CategoryRule struct {
	Mode         CategoryMode  `yaml:"mode" json:"mode" default:"empty_row" validate:"oneof=empty_row listed marker columns"`
	Fill         FillDirection `yaml:"fill" json:"fill" default:"forward" validate:"oneof=forward backward"`
	Labels       []string      `yaml:"labels" json:"labels"`
	MarkerColumn int           `yaml:"marker_column" json:"marker_column" validate:"gte=0"`
	Markers      []string      `yaml:"markers" json:"markers"`
}

// RescaleRule divides values of matching records by Divisor, once.
// With a Threshold only values strictly above it are rescaled.
type RescaleRule struct {
	Name       string   `yaml:"name" json:"name" validate:"required"`
	Slot       int      `yaml:"slot" json:"slot" validate:"gte=0"`
	Categories []string `yaml:"categories" json:"categories"`
	Threshold  *float64 `yaml:"threshold" json:"threshold,omitempty"`
	Divisor    float64  `yaml:"divisor" json:"divisor" validate:"required"`
}

// Config describes how one dataset's table is reshaped.
type Config struct {
	Name            string        `yaml:"name" json:"name" validate:"required"`
	Dimensions      []string      `yaml:"dimensions" json:"dimensions"`
	ValueName       string        `yaml:"value_name" json:"value_name" default:"Érték"`
	Unit            string        `yaml:"unit" json:"unit"`
	LabelColumns    int           `yaml:"label_columns" json:"label_columns" default:"1" validate:"gte=1"`
	SkipRows        int           `yaml:"skip_rows" json:"skip_rows" validate:"gte=0"`
	Truncate        Truncation    `yaml:"truncate" json:"truncate"`
	Category        CategoryRule  `yaml:"category" json:"category"`
	AggregateLabels []string      `yaml:"aggregate_labels" json:"aggregate_labels"`
	ExcludeLabels   []string      `yaml:"exclude_labels" json:"exclude_labels"`
	MissingTokens   []string      `yaml:"missing_tokens" json:"missing_tokens"`
	Rescale         []RescaleRule `yaml:"rescale" json:"rescale" validate:"dive"`
}

// DefaultMissingTokens are the cell contents KSH uses for absent data.
var DefaultMissingTokens = []string{"", "..", "…", "-", "–", "x", "X"}

func (c *Config) applyDefaults() {
	if c.LabelColumns == 0 {
		c.LabelColumns = 1
	}
	if c.Truncate.Match == "" {
		c.Truncate.Match = MatchContains
	}
	if c.Category.Mode == "" {
		c.Category.Mode = ModeEmptyRow
	}
	if c.Category.Fill == "" {
		c.Category.Fill = FillForward
	}
	if c.ValueName == "" {
		c.ValueName = "Érték"
	}
	if c.MissingTokens == nil {
		c.MissingTokens = DefaultMissingTokens
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("dataset name is required")
	}
	if c.LabelColumns < 1 {
		return fmt.Errorf("%s: label_columns must be >= 1", c.Name)
	}
	switch c.Truncate.Match {
	case MatchContains, MatchEquals:
	default:
		return fmt.Errorf("%s: truncate.match must be 'contains' or 'equals', got '%s'", c.Name, c.Truncate.Match)
	}
	if c.Truncate.Required && c.Truncate.Marker == "" && c.Truncate.MaxRows == 0 {
		return fmt.Errorf("%s: truncate.required needs a marker or max_rows", c.Name)
	}
	switch c.Category.Mode {
	case ModeEmptyRow, ModeColumns:
	case ModeListed:
		if len(c.Category.Labels) == 0 {
			return fmt.Errorf("%s: category.labels cannot be empty in listed mode", c.Name)
		}
	case ModeMarker:
		if len(c.Category.Markers) == 0 {
			return fmt.Errorf("%s: category.markers cannot be empty in marker mode", c.Name)
		}
		if c.Category.MarkerColumn >= c.LabelColumns {
			return fmt.Errorf("%s: category.marker_column must be a label column", c.Name)
		}
	default:
		return fmt.Errorf("%s: unknown category mode '%s'", c.Name, c.Category.Mode)
	}
	if c.Category.Fill != FillForward && c.Category.Fill != FillBackward {
		return fmt.Errorf("%s: category.fill must be 'forward' or 'backward', got '%s'", c.Name, c.Category.Fill)
	}
	if n := len(c.Dimensions); n > 0 && n != c.pathLength() {
		return fmt.Errorf("%s: %d dimensions configured, category path has %d levels", c.Name, n, c.pathLength())
	}
	seen := make(map[string]struct{}, len(c.Rescale))
	for _, r := range c.Rescale {
		if r.Name == "" {
			return fmt.Errorf("%s: rescale rule name is required", c.Name)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("%s: duplicate rescale rule '%s'", c.Name, r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.Divisor == 0 {
			return fmt.Errorf("%s: rescale rule '%s' needs a non-zero divisor", c.Name, r.Name)
		}
		if r.Slot >= c.pathLength() {
			return fmt.Errorf("%s: rescale rule '%s' slot %d out of range", c.Name, r.Name, r.Slot)
		}
	}
	return nil
}

// pathColumns are the label columns copied into the category path.
func (c *Config) pathColumns() []int {
	cols := make([]int, 0, c.LabelColumns)
	for i := 0; i < c.LabelColumns; i++ {
		if c.Category.Mode == ModeMarker && i == c.Category.MarkerColumn {
			continue
		}
		cols = append(cols, i)
	}
	return cols
}

func (c *Config) pathLength() int {
	n := len(c.pathColumns())
	if c.Category.Mode != ModeColumns {
		n++
	}
	return n
}

// Matches reports whether rec falls under the rule's category predicate.
func (r RescaleRule) Matches(rec models.TidyRecord) bool {
	if len(r.Categories) == 0 {
		return true
	}
	label := rec.Category.Slot(r.Slot)
	for _, c := range r.Categories {
		if strings.EqualFold(strings.TrimSpace(c), label) {
			return true
		}
	}
	return false
}

// Apply rescales rec when the rule matches and rec has not been rescaled yet.
func (r RescaleRule) Apply(rec models.TidyRecord) (models.TidyRecord, bool) {
	if rec.Rescaled != "" || !rec.Value.Valid || !r.Matches(rec) {
		return rec, false
	}
	if r.Threshold != nil && !(rec.Value.Float > *r.Threshold) {
		return rec, false
	}
	rec.Value = models.Number(rec.Value.Float / r.Divisor)
	rec.Rescaled = r.Name
	return rec, true
}
