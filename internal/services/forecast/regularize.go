package forecast

import (
	"fmt"
	"sort"

	"KSHPull/internal/domain/models"
)

// regularize returns a gap-free copy of s on its own frequency grid.
// Leading Missing observations are dropped; inner gaps (absent periods or
// Missing values) are filled according to fill, or rejected with an
// IrregularSeriesError when fill is FillNone.
func regularize(s models.GroupSeries, fill FillPolicy) (models.GroupSeries, error) {
	obs := make([]models.Observation, len(s.Observations))
	copy(obs, s.Observations)
	sort.Slice(obs, func(i, j int) bool { return obs[i].Period.Before(obs[j].Period) })

	for len(obs) > 0 && obs[0].Value.IsMissing() {
		obs = obs[1:]
	}
	if len(obs) == 0 {
		return s, fmt.Errorf("%w: series %s has no observations", models.ErrInsufficientData, s.Name())
	}

	g := obs[0].Period.Granularity()
	byPeriod := make(map[models.Period]models.Value, len(obs))
	for _, o := range obs {
		if o.Period.Granularity() != g {
			return s, fmt.Errorf("series %s mixes %s and %s periods", s.Name(), g, o.Period.Granularity())
		}
		if _, dup := byPeriod[o.Period]; dup {
			return s, &models.DuplicateObservationError{Category: s.Key, Period: o.Period}
		}
		byPeriod[o.Period] = o.Value
	}

	first, last := obs[0].Period, obs[len(obs)-1].Period
	steps := first.Steps(last)
	out := models.GroupSeries{Key: s.Key, Granularity: g, Observations: make([]models.Observation, 0, steps+1)}
	var gaps []models.Period
	prev := 0.0
	for i := 0; i <= steps; i++ {
		p := first.Add(i)
		v, ok := byPeriod[p]
		if !ok || v.IsMissing() {
			gaps = append(gaps, p)
			switch fill {
			case FillZero:
				v = models.Number(0)
			case FillForward:
				v = models.Number(prev)
			}
		}
		prev = v.Float
		out.Observations = append(out.Observations, models.Observation{Period: p, Value: v})
	}

	if len(gaps) > 0 && fill == FillNone {
		return s, &models.IrregularSeriesError{Group: s.Name(), Gaps: gaps}
	}
	return out, nil
}

func values(s models.GroupSeries) []float64 {
	out := make([]float64, len(s.Observations))
	for i, o := range s.Observations {
		out[i] = o.Value.Float
	}
	return out
}

// futurePeriods returns the h periods following the last observation of s.
func futurePeriods(s models.GroupSeries, h int) []models.Period {
	last, _ := s.Last()
	out := make([]models.Period, h)
	for i := range out {
		out[i] = last.Period.Add(i + 1)
	}
	return out
}
