package models

// Observation is one (period, value) point of a series.
type Observation struct {
	Period Period `json:"period"`
	Value  Value  `json:"value"`
}

// GroupSeries is the aggregated series of one group, sorted by period.
// Gaps (absent periods or Missing values) are kept as they are.
type GroupSeries struct {
	Key          CategoryPath  `json:"key"`
	Granularity  Granularity   `json:"granularity"`
	Observations []Observation `json:"observations"`
}

func (s GroupSeries) Name() string { return s.Key.String() }

func (s GroupSeries) Len() int { return len(s.Observations) }

// Last returns the latest observation.
func (s GroupSeries) Last() (Observation, bool) {
	if len(s.Observations) == 0 {
		return Observation{}, false
	}
	return s.Observations[len(s.Observations)-1], true
}

// Floats returns the present values in period order.
func (s GroupSeries) Floats() []float64 {
	out := make([]float64, 0, len(s.Observations))
	for _, o := range s.Observations {
		if o.Value.Valid {
			out = append(out, o.Value.Float)
		}
	}
	return out
}
