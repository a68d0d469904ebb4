package features

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"KSHPull/internal/domain/models"
)

// Summary is the short numeric description attached to a group's chart.
type Summary struct {
	Group            string  `json:"group"`
	Last             float64 `json:"last"`
	LastPeriod       string  `json:"last_period"`
	MeanGrowth       float64 `json:"mean_growth"`
	GrowthVolatility float64 `json:"growth_volatility"`
	ForecastEnd      float64 `json:"forecast_end,omitempty"`
	ForecastChange   float64 `json:"forecast_change,omitempty"`
	Text             string  `json:"text"`
}

// ComputeGrowth computes period-over-period relative changes
// g_t = (x_t - x_{t-1}) / |x_{t-1}|. Pairs with a zero base are skipped.
// It returns nil if fewer than two values are given.
func ComputeGrowth(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		if prev == 0 {
			continue
		}
		out = append(out, (values[i]-prev)/math.Abs(prev))
	}
	return out
}

// GrowthVolatility is the sample standard deviation of the growth rates
// over the trailing window. A window <= 0 uses every rate.
func GrowthVolatility(growth []float64, window int) float64 {
	if window > 0 && len(growth) > window {
		growth = growth[len(growth)-window:]
	}
	if len(growth) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(growth)
	if err != nil {
		return 0
	}
	return sd
}

// Summarize describes the historical part of a result and, when the group
// was forecast, the change from the last observation to the horizon end.
func Summarize(r models.ForecastResult) (Summary, bool) {
	last, ok := lastPresent(r.Historical)
	if !ok {
		return Summary{}, false
	}
	values := r.Historical.Floats()
	growth := ComputeGrowth(values)
	mean, _ := stats.Mean(growth)

	s := Summary{
		Group:            r.Group.String(),
		Last:             last.Value.Float,
		LastPeriod:       last.Period.String(),
		MeanGrowth:       mean,
		GrowthVolatility: GrowthVolatility(growth, 0),
	}
	s.Text = fmt.Sprintf("%s: %s %.2f, mean growth %+.1f%%, volatility %.1f%%",
		s.Group, s.LastPeriod, s.Last, 100*s.MeanGrowth, 100*s.GrowthVolatility)

	if r.Succeeded() && len(r.Forecast) > 0 {
		end := r.Forecast[len(r.Forecast)-1]
		s.ForecastEnd = end.Point
		if s.Last != 0 {
			s.ForecastChange = (end.Point - s.Last) / math.Abs(s.Last)
		}
		s.Text += fmt.Sprintf(", %s forecast %.2f (%+.1f%%)", end.Period, end.Point, 100*s.ForecastChange)
	}
	return s, true
}

func lastPresent(s models.GroupSeries) (models.Observation, bool) {
	for i := len(s.Observations) - 1; i >= 0; i-- {
		if s.Observations[i].Value.Valid {
			return s.Observations[i], true
		}
	}
	return models.Observation{}, false
}
