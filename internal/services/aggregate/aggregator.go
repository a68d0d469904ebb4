package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"KSHPull/internal/domain/models"
)

type cell struct {
	values  stats.Float64Data
	missing int
}

// Aggregate partitions records into groups and reduces each (group, period)
// to one observation. Missing values are left out of the reduction unless
// the request fills them with zero; a (group, period) holding only Missing
// values stays Missing.
func Aggregate(records []models.TidyRecord, req Request) (map[string]models.GroupSeries, error) {
	req.applyDefaults()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	keep := lowerSet(req.Keep)

	groups := make(map[string]map[models.Period]*cell)
	paths := make(map[string]models.CategoryPath)
	for _, rec := range records {
		if !passes(rec, req.Filter) {
			continue
		}
		path, ok := project(rec.Category, req.GroupBy)
		if !ok {
			continue
		}
		if len(keep) > 0 {
			if _, ok := keep[strings.ToLower(path.String())]; !ok {
				continue
			}
		}

		key := path.Key()
		periods, ok := groups[key]
		if !ok {
			periods = make(map[models.Period]*cell)
			groups[key] = periods
			paths[key] = path
		}
		period := rec.Period
		if req.Granularity != "" {
			period = period.Truncate(req.Granularity)
		}
		c, ok := periods[period]
		if !ok {
			c = &cell{}
			periods[period] = c
		}
		switch {
		case rec.Value.Valid:
			c.values = append(c.values, rec.Value.Float)
		case req.Missing == MissingZero:
			c.values = append(c.values, 0)
		default:
			c.missing++
		}
	}

	if len(groups) == 0 {
		return nil, &models.EmptyGroupError{Selector: req.Selector()}
	}

	out := make(map[string]models.GroupSeries, len(groups))
	for key, periods := range groups {
		series := models.GroupSeries{Key: paths[key]}
		for p, c := range periods {
			v, err := reduce(req.Reducer, c.values)
			if err != nil {
				return nil, fmt.Errorf("aggregate %s at %s: %w", paths[key], p, err)
			}
			series.Observations = append(series.Observations, models.Observation{Period: p, Value: v})
		}
		sort.Slice(series.Observations, func(i, j int) bool {
			return series.Observations[i].Period.Before(series.Observations[j].Period)
		})
		series.Granularity = series.Observations[0].Period.Granularity()
		out[key] = series
	}
	return out, nil
}

// SortedKeys returns the group keys in a stable order.
func SortedKeys(groups map[string]models.GroupSeries) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func reduce(r Reducer, values stats.Float64Data) (models.Value, error) {
	if len(values) == 0 {
		return models.Missing, nil
	}
	var (
		v   float64
		err error
	)
	switch r {
	case ReduceMean:
		v, err = stats.Mean(values)
	case ReduceMedian:
		v, err = stats.Median(values)
	case ReduceMax:
		v, err = stats.Max(values)
	default:
		v, err = stats.Sum(values)
	}
	if err != nil {
		return models.Missing, err
	}
	return models.Number(v), nil
}

func passes(rec models.TidyRecord, filters []Filter) bool {
	for _, f := range filters {
		if !containsFold(f.In, rec.Category.Slot(f.Slot)) {
			return false
		}
	}
	return true
}

// project maps a category path to its group path.
func project(path models.CategoryPath, by GroupBy) (models.CategoryPath, bool) {
	if by.Classify != nil {
		for _, rule := range by.Classify.Rules {
			if containsFold(rule.In, path.Slot(rule.Slot)) {
				return models.CategoryPath{rule.Group}, true
			}
		}
		if by.Classify.Default == "" {
			return nil, false
		}
		return models.CategoryPath{by.Classify.Default}, true
	}

	out := make(models.CategoryPath, 0, len(by.Slots))
	for _, s := range by.Slots {
		label := path.Slot(s)
		if label == "" {
			return nil, false
		}
		out = append(out, label)
	}
	return out, true
}

func containsFold(values []string, s string) bool {
	s = strings.TrimSpace(s)
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}
