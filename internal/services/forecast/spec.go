package forecast

import (
	"fmt"
)

// FillPolicy decides how gaps inside a series are handled before fitting.
type FillPolicy string

const (
	FillNone    FillPolicy = "none"
	FillZero    FillPolicy = "zero"
	FillForward FillPolicy = "ffill"
)

type Strategy string

const (
	StrategySARIMA   Strategy = "sarima"
	StrategyLogistic Strategy = "logistic"
	StrategyRemote   Strategy = "remote"
)

type Order struct {
	P int `yaml:"p" json:"p" validate:"gte=0,lte=12"`
	D int `yaml:"d" json:"d" validate:"gte=0,lte=2"`
	Q int `yaml:"q" json:"q" validate:"gte=0,lte=12"`
}

type SeasonalOrder struct {
	P int `yaml:"p" json:"p" validate:"gte=0,lte=4"`
	D int `yaml:"d" json:"d" validate:"gte=0,lte=1"`
	Q int `yaml:"q" json:"q" validate:"gte=0,lte=4"`
	M int `yaml:"m" json:"m" validate:"gte=0"`
}

// Active reports whether the seasonal part contributes to the model.
func (s SeasonalOrder) Active() bool {
	return s.M > 1 && (s.P > 0 || s.D > 0 || s.Q > 0)
}

type SARIMAParams struct {
	Order         Order         `yaml:"order" json:"order"`
	Seasonal      SeasonalOrder `yaml:"seasonal" json:"seasonal"`
	Confidence    float64       `yaml:"confidence" json:"confidence" default:"0.95" validate:"gt=0,lt=1"`
	MaxIterations int           `yaml:"max_iterations" json:"max_iterations" default:"4000" validate:"gte=1"`
}

type LogisticParams struct {
	// Capacity is the historical maximum times CapacityFactor.
	CapacityFactor        float64 `yaml:"capacity_factor" json:"capacity_factor" default:"1" validate:"gt=0"`
	ChangepointPriorScale float64 `yaml:"changepoint_prior_scale" json:"changepoint_prior_scale" default:"0.05" validate:"gt=0"`
	SeasonalityPriorScale float64 `yaml:"seasonality_prior_scale" json:"seasonality_prior_scale" default:"10" validate:"gt=0"`
	Changepoints          int     `yaml:"changepoints" json:"changepoints" default:"25" validate:"gte=0"`
	ChangepointRange      float64 `yaml:"changepoint_range" json:"changepoint_range" default:"0.8" validate:"gt=0,lte=1"`
	SeasonalPeriod        int     `yaml:"seasonal_period" json:"seasonal_period" validate:"gte=0"`
	FourierOrder          int     `yaml:"fourier_order" json:"fourier_order" default:"3" validate:"gte=0"`
	// IntervalWidth of 0 disables bounds.
	IntervalWidth float64 `yaml:"interval_width" json:"interval_width" validate:"gte=0,lt=1"`
	MaxIterations int     `yaml:"max_iterations" json:"max_iterations" default:"500" validate:"gte=1"`
}

type RemoteParams struct {
	Model    string `yaml:"model" json:"model"`
	Attempts int    `yaml:"attempts" json:"attempts" default:"3" validate:"gte=1"`
}

// ModelSpec selects and parameterizes the model used for every group of a job.
type ModelSpec struct {
	Strategy Strategy       `yaml:"strategy" json:"strategy" default:"sarima" validate:"oneof=sarima logistic remote"`
	Fill     FillPolicy     `yaml:"fill" json:"fill" default:"none" validate:"oneof=none zero ffill"`
	SARIMA   SARIMAParams   `yaml:"sarima" json:"sarima"`
	Logistic LogisticParams `yaml:"logistic" json:"logistic"`
	Remote   RemoteParams   `yaml:"remote" json:"remote"`
}

// WithDefaults fills zero-valued parameters.
func (s ModelSpec) WithDefaults() ModelSpec {
	if s.Strategy == "" {
		s.Strategy = StrategySARIMA
	}
	if s.Fill == "" {
		s.Fill = FillNone
	}
	if s.SARIMA.Confidence == 0 {
		s.SARIMA.Confidence = 0.95
	}
	if s.SARIMA.MaxIterations == 0 {
		s.SARIMA.MaxIterations = 4000
	}
	l := &s.Logistic
	if l.CapacityFactor == 0 {
		l.CapacityFactor = 1
	}
	if l.ChangepointPriorScale == 0 {
		l.ChangepointPriorScale = 0.05
	}
	if l.SeasonalityPriorScale == 0 {
		l.SeasonalityPriorScale = 10
	}
	if l.ChangepointRange == 0 {
		l.ChangepointRange = 0.8
	}
	if l.MaxIterations == 0 {
		l.MaxIterations = 500
	}
	if s.Remote.Attempts == 0 {
		s.Remote.Attempts = 3
	}
	return s
}

func (s ModelSpec) Validate() error {
	switch s.Strategy {
	case StrategySARIMA, StrategyLogistic, StrategyRemote:
	default:
		return fmt.Errorf("unknown model strategy '%s'", s.Strategy)
	}
	switch s.Fill {
	case FillNone, FillZero, FillForward:
	default:
		return fmt.Errorf("unknown fill policy '%s'", s.Fill)
	}
	if s.Strategy == StrategySARIMA {
		if s.SARIMA.Confidence <= 0 || s.SARIMA.Confidence >= 1 {
			return fmt.Errorf("sarima.confidence must be in (0, 1), got %v", s.SARIMA.Confidence)
		}
		o := s.SARIMA.Order
		if o.P < 0 || o.D < 0 || o.Q < 0 {
			return fmt.Errorf("sarima order must be non-negative")
		}
		so := s.SARIMA.Seasonal
		if so.P < 0 || so.D < 0 || so.Q < 0 || so.M < 0 {
			return fmt.Errorf("sarima seasonal order must be non-negative")
		}
		if (so.P > 0 || so.D > 0 || so.Q > 0) && so.M < 2 {
			return fmt.Errorf("sarima seasonal order needs a period m >= 2")
		}
	}
	if s.Strategy == StrategyLogistic {
		if s.Logistic.IntervalWidth < 0 || s.Logistic.IntervalWidth >= 1 {
			return fmt.Errorf("logistic.interval_width must be in [0, 1)")
		}
		if s.Logistic.CapacityFactor <= 0 {
			return fmt.Errorf("logistic.capacity_factor must be positive")
		}
	}
	return nil
}
