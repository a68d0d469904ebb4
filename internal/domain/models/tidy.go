package models

import (
	"encoding/json"
	"strings"
)

const keySeparator = "\x1f"

// CategoryPath is the ordered list of category labels identifying a row,
// e.g. ["Budapest", "Lakások"].
type CategoryPath []string

// Key returns a stable map key for the path.
func (p CategoryPath) Key() string { return strings.Join(p, keySeparator) }

func (p CategoryPath) String() string {
	if len(p) == 0 {
		return "all"
	}
	return strings.Join(p, " / ")
}

// Slot returns the label at level i, or "" when the path is shorter.
func (p CategoryPath) Slot(i int) string {
	if i < 0 || i >= len(p) {
		return ""
	}
	return p[i]
}

// Resolved reports whether every level carries a non-empty label.
func (p CategoryPath) Resolved() bool {
	if len(p) == 0 {
		return false
	}
	for _, l := range p {
		if strings.TrimSpace(l) == "" {
			return false
		}
	}
	return true
}

// Value is a numeric observation that may be Missing.
type Value struct {
	Float float64
	Valid bool
}

// Missing marks an absent observation.
var Missing = Value{}

// Number wraps a present observation.
func Number(f float64) Value { return Value{Float: f, Valid: true} }

func (v Value) IsMissing() bool { return !v.Valid }

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Float)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Missing
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Number(f)
	return nil
}

// TidyRecord is one observation in long format. (Category, Period) is unique
// within a dataset.
type TidyRecord struct {
	Category CategoryPath `json:"category"`
	Period   Period       `json:"period"`
	Value    Value        `json:"value"`
	// Rescaled names the unit rescale rule already applied to Value.
	Rescaled string `json:"rescaled,omitempty"`
}

// ObservationKey identifies a record within its dataset.
func (r TidyRecord) ObservationKey() string {
	return r.Category.Key() + keySeparator + r.Period.String()
}

// TransformStats summarizes what the transformer discarded.
type TransformStats struct {
	DataRows   int `json:"data_rows"`
	Headers    int `json:"category_headers"`
	Aggregates int `json:"aggregates_dropped"`
	Excluded   int `json:"excluded"`
	Unresolved int `json:"unresolved"`
	Missing    int `json:"missing_values"`
	Rescaled   int `json:"rescaled"`
}

// TidyDataset is the output of one transformation run.
type TidyDataset struct {
	Name        string         `json:"name"`
	Source      string         `json:"source,omitempty"`
	Dimensions  []string       `json:"dimensions"`
	ValueName   string         `json:"value_name"`
	Unit        string         `json:"unit,omitempty"`
	Granularity Granularity    `json:"granularity"`
	Records     []TidyRecord   `json:"records"`
	Stats       TransformStats `json:"stats"`
}

// TidyEvent is the stream form of a record: one message per observation.
type TidyEvent struct {
	Dataset string     `json:"dataset"`
	Unit    string     `json:"unit,omitempty"`
	Record  TidyRecord `json:"record"`
}
