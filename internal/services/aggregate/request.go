package aggregate

import (
	"fmt"
	"strings"

	"KSHPull/internal/domain/models"
)

type Reducer string

const (
	ReduceSum    Reducer = "sum"
	ReduceMean   Reducer = "mean"
	ReduceMedian Reducer = "median"
	ReduceMax    Reducer = "max"
)

// MissingPolicy decides how Missing values enter a reduction.
type MissingPolicy string

const (
	MissingSkip MissingPolicy = "skip"
	MissingZero MissingPolicy = "zero"
)

// Filter keeps only records whose category slot is one of In.
type Filter struct {
	Slot int      `yaml:"slot" json:"slot" validate:"gte=0"`
	In   []string `yaml:"in" json:"in" validate:"min=1"`
}

// Rule assigns Group to records whose category slot is one of In.
type Rule struct {
	Group string   `yaml:"group" json:"group" validate:"required"`
	Slot  int      `yaml:"slot" json:"slot" validate:"gte=0"`
	In    []string `yaml:"in" json:"in" validate:"min=1"`
}

// Classifier maps category values to coarser group labels. Rules are tried
// in order; records matching none get Default, or are dropped when Default
// is empty.
type Classifier struct {
	Rules   []Rule `yaml:"rules" json:"rules" validate:"min=1,dive"`
	Default string `yaml:"default" json:"default"`
}

// GroupBy projects a record onto its group: either the listed category
// slots or a classifier. No slots and no classifier yields a single group.
type GroupBy struct {
	Slots    []int       `yaml:"slots" json:"slots"`
	Classify *Classifier `yaml:"classify" json:"classify,omitempty"`
}

type Request struct {
	Filter      []Filter           `yaml:"filter" json:"filter" validate:"dive"`
	GroupBy     GroupBy            `yaml:"group_by" json:"group_by"`
	Keep        []string           `yaml:"keep" json:"keep"`
	Reducer     Reducer            `yaml:"reducer" json:"reducer" default:"sum" validate:"oneof=sum mean median max"`
	Granularity models.Granularity `yaml:"granularity" json:"granularity" validate:"omitempty,oneof=year month"`
	Missing     MissingPolicy      `yaml:"missing" json:"missing" default:"skip" validate:"oneof=skip zero"`
}

func (r *Request) applyDefaults() {
	if r.Reducer == "" {
		r.Reducer = ReduceSum
	}
	if r.Missing == "" {
		r.Missing = MissingSkip
	}
}

func (r Request) Validate() error {
	switch r.Reducer {
	case ReduceSum, ReduceMean, ReduceMedian, ReduceMax, "":
	default:
		return fmt.Errorf("unknown reducer '%s'", r.Reducer)
	}
	switch r.Missing {
	case MissingSkip, MissingZero, "":
	default:
		return fmt.Errorf("unknown missing policy '%s'", r.Missing)
	}
	if r.Granularity != "" && !models.IsValidGranularity(r.Granularity) {
		return fmt.Errorf("unknown granularity '%s'", r.Granularity)
	}
	if r.GroupBy.Classify != nil {
		if len(r.GroupBy.Slots) > 0 {
			return fmt.Errorf("group_by accepts slots or classify, not both")
		}
		if len(r.GroupBy.Classify.Rules) == 0 {
			return fmt.Errorf("classifier needs at least one rule")
		}
	}
	for _, s := range r.GroupBy.Slots {
		if s < 0 {
			return fmt.Errorf("negative group_by slot %d", s)
		}
	}
	return nil
}

// Selector describes the request in error messages.
func (r Request) Selector() string {
	var parts []string
	for _, f := range r.Filter {
		parts = append(parts, fmt.Sprintf("slot%d in [%s]", f.Slot, strings.Join(f.In, ",")))
	}
	switch {
	case r.GroupBy.Classify != nil:
		parts = append(parts, fmt.Sprintf("classify(%d rules)", len(r.GroupBy.Classify.Rules)))
	case len(r.GroupBy.Slots) > 0:
		parts = append(parts, fmt.Sprintf("slots%v", r.GroupBy.Slots))
	default:
		parts = append(parts, "total")
	}
	if len(r.Keep) > 0 {
		parts = append(parts, "keep ["+strings.Join(r.Keep, ",")+"]")
	}
	return fmt.Sprintf("%s(%s)", r.Reducer, strings.Join(parts, "; "))
}
