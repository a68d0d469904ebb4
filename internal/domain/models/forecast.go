package models

import "time"

// FitState is the lifecycle state of a per-group forecast.
type FitState string

const (
	StatePrepared   FitState = "prepared"
	StateFitted     FitState = "fitted"
	StateForecasted FitState = "forecasted"
	StateFailed     FitState = "failed"
)

// CanTransition reports whether s may move to next.
// Prepared -> Fitted -> Forecasted, any non-terminal state -> Failed.
func (s FitState) CanTransition(next FitState) bool {
	switch s {
	case StatePrepared:
		return next == StateFitted || next == StateFailed
	case StateFitted:
		return next == StateForecasted || next == StateFailed
	default:
		return false
	}
}

func (s FitState) Terminal() bool {
	return s == StateForecasted || s == StateFailed
}

// ForecastPoint is one predicted period. Bounds are nil when the model
// does not produce an interval.
type ForecastPoint struct {
	Period Period   `json:"period"`
	Point  float64  `json:"point"`
	Lower  *float64 `json:"lower,omitempty"`
	Upper  *float64 `json:"upper,omitempty"`
}

// ForecastResult is the outcome for one group.
type ForecastResult struct {
	Job        string          `json:"job"`
	GroupKey   string          `json:"group_key"`
	Group      CategoryPath    `json:"group"`
	Model      string          `json:"model"`
	State      FitState        `json:"state"`
	Reason     string          `json:"reason,omitempty"`
	Historical GroupSeries     `json:"historical"`
	Forecast   []ForecastPoint `json:"forecast,omitempty"`
	// Summary is a one-line annotation of the history and forecast.
	Summary string        `json:"summary,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

func (r ForecastResult) Succeeded() bool { return r.State == StateForecasted }

// FusedPoint is a historical or forecast point on a shared time axis.
type FusedPoint struct {
	Period   Period   `json:"period"`
	Value    Value    `json:"value"`
	Lower    *float64 `json:"lower,omitempty"`
	Upper    *float64 `json:"upper,omitempty"`
	Forecast bool     `json:"forecast"`
}

// Fused returns the historical observations followed by the forecast.
func (r ForecastResult) Fused() []FusedPoint {
	out := make([]FusedPoint, 0, len(r.Historical.Observations)+len(r.Forecast))
	for _, o := range r.Historical.Observations {
		out = append(out, FusedPoint{Period: o.Period, Value: o.Value})
	}
	for _, f := range r.Forecast {
		out = append(out, FusedPoint{
			Period:   f.Period,
			Value:    Number(f.Point),
			Lower:    f.Lower,
			Upper:    f.Upper,
			Forecast: true,
		})
	}
	return out
}

// ForecastReport collects the results of one job run.
type ForecastReport struct {
	RunID     string           `json:"run_id"`
	Job       string           `json:"job"`
	Dataset   string           `json:"dataset"`
	Unit      string           `json:"unit,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Results   []ForecastResult `json:"results"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}
