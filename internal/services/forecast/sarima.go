package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"KSHPull/internal/domain/models"
	"KSHPull/internal/domain/service"
)

// SARIMA is a seasonal ARIMA (p,d,q)(P,D,Q,m) model estimated by
// conditional sum of squares.
type SARIMA struct {
	params SARIMAParams
}

func NewSARIMA(params SARIMAParams) *SARIMA {
	return &SARIMA{params: params}
}

func (m *SARIMA) Name() string {
	o, s := m.params.Order, m.params.Seasonal
	if !s.Active() {
		return fmt.Sprintf("arima(%d,%d,%d)", o.P, o.D, o.Q)
	}
	return fmt.Sprintf("sarima(%d,%d,%d)(%d,%d,%d,%d)", o.P, o.D, o.Q, s.P, s.D, s.Q, s.M)
}

func (m *SARIMA) numParams() int {
	o, s := m.params.Order, m.params.Seasonal
	n := o.P + o.Q
	if s.Active() {
		n += s.P + s.Q
	}
	return n
}

// arLags is the span of the expanded AR polynomial, p + P*m.
func (m *SARIMA) arLags() int {
	o, s := m.params.Order, m.params.Seasonal
	n := o.P
	if s.Active() {
		n += s.P * s.M
	}
	return n
}

// MinObservations is the shortest series the model accepts. After
// differencing and the AR lag span there must be at least numParams+3
// residuals left; seasonal models also need two full cycles.
func (m *SARIMA) MinObservations() int {
	o, s := m.params.Order, m.params.Seasonal
	n := o.D + m.arLags() + m.numParams() + 3
	if s.Active() {
		n += s.D * s.M
		if 2*s.M > n {
			n = 2 * s.M
		}
	}
	return n
}

// polys expands the AR and MA lag polynomials for coefficient vector x.
func (m *SARIMA) polys(x []float64) (ar, ma []float64) {
	o, s := m.params.Order, m.params.Seasonal
	i := 0
	next := func(n int) []float64 {
		c := make([]float64, n)
		for j := range c {
			c[j] = math.Tanh(x[i])
			i++
		}
		return c
	}
	phi := next(o.P)
	theta := next(o.Q)
	ar = lagPoly(phi, 1, -1)
	ma = lagPoly(theta, 1, 1)
	if s.Active() {
		sphi := next(s.P)
		stheta := next(s.Q)
		ar = polyMul(ar, lagPoly(sphi, s.M, -1))
		ma = polyMul(ma, lagPoly(stheta, s.M, 1))
	}
	return ar, ma
}

// residuals computes the conditional innovations of w given the polynomials.
func residuals(w []float64, mu float64, ar, ma []float64) (e []float64, start int) {
	start = len(ar) - 1
	e = make([]float64, len(w))
	for t := start; t < len(w); t++ {
		v := 0.0
		for k, c := range ar {
			v += c * (w[t-k] - mu)
		}
		for j := 1; j < len(ma) && j <= t; j++ {
			v -= ma[j] * e[t-j]
		}
		e[t] = v
	}
	return e, start
}

func (m *SARIMA) Fit(ctx context.Context, series models.GroupSeries) (service.FittedModel, error) {
	y := values(series)
	if len(y) < m.MinObservations() {
		return nil, fmt.Errorf("%w: %s needs %d observations, series %s has %d",
			models.ErrInsufficientData, m.Name(), m.MinObservations(), series.Name(), len(y))
	}

	o, s := m.params.Order, m.params.Seasonal
	sd := 0
	if s.Active() {
		sd = s.D
	}
	delta := diffPoly(o.D, sd, s.M)
	w := applyPoly(delta, y)
	if len(w)-m.arLags() < m.numParams()+1 {
		return nil, fmt.Errorf("%w: %s leaves %d residuals for %d parameters in series %s",
			models.ErrInsufficientData, m.Name(), len(w)-m.arLags(), m.numParams(), series.Name())
	}

	mu := 0.0
	if o.D+sd == 0 {
		mu = stat.Mean(w, nil)
	}

	css := func(x []float64) float64 {
		ar, ma := m.polys(x)
		e, start := residuals(w, mu, ar, ma)
		var sum float64
		for _, v := range e[start:] {
			sum += v * v
		}
		if !finite(sum) {
			return math.MaxFloat64
		}
		return sum
	}

	k := m.numParams()
	x := make([]float64, k)
	if k > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		settings := &optimize.Settings{
			MajorIterations: m.params.MaxIterations,
			Converger:       &optimize.FunctionConverge{Absolute: 1e-10, Relative: 1e-10, Iterations: 200},
		}
		if dl, ok := ctx.Deadline(); ok {
			settings.Runtime = time.Until(dl)
		}
		initial := css(x)
		res, err := optimize.Minimize(optimize.Problem{Func: css}, x, settings, &optimize.NelderMead{SimplexSize: 0.5})
		if res == nil || !finite(res.F) || res.F > initial {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrNotConverged, m.Name(), err)
		}
		x = res.X
	}

	ar, ma := m.polys(x)
	e, start := residuals(w, mu, ar, ma)
	dof := len(w) - start - k
	if dof < 1 {
		dof = 1
	}
	var sse float64
	for _, v := range e[start:] {
		sse += v * v
	}

	return &fittedSARIMA{
		name:       m.Name(),
		series:     series,
		y:          y,
		w:          w,
		e:          e,
		mu:         mu,
		ar:         ar,
		ma:         ma,
		delta:      delta,
		sigma2:     sse / float64(dof),
		confidence: m.params.Confidence,
	}, nil
}

type fittedSARIMA struct {
	name       string
	series     models.GroupSeries
	y, w, e    []float64
	mu         float64
	ar, ma     []float64
	delta      []float64
	sigma2     float64
	confidence float64
}

func (f *fittedSARIMA) Predict(ctx context.Context, horizon int) ([]models.ForecastPoint, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := len(f.w)
	w := append(append(make([]float64, 0, n+horizon), f.w...), make([]float64, horizon)...)
	e := append(append(make([]float64, 0, n+horizon), f.e...), make([]float64, horizon)...)
	for t := n; t < n+horizon; t++ {
		v := 0.0
		for k := 1; k < len(f.ar); k++ {
			if t-k >= 0 {
				v -= f.ar[k] * (w[t-k] - f.mu)
			}
		}
		for j := 1; j < len(f.ma); j++ {
			if t-j >= 0 {
				v += f.ma[j] * e[t-j]
			}
		}
		w[t] = f.mu + v
	}

	// undo differencing: y_t = w_t - sum_{k>=1} delta_k y_{t-k}
	ny := len(f.y)
	y := append(append(make([]float64, 0, ny+horizon), f.y...), make([]float64, horizon)...)
	for i := 0; i < horizon; i++ {
		t := ny + i
		v := w[n+i]
		for k := 1; k < len(f.delta); k++ {
			v -= f.delta[k] * y[t-k]
		}
		y[t] = v
	}

	psi := psiWeights(polyMul(f.ar, f.delta), f.ma, horizon)
	z := distuv.UnitNormal.Quantile(0.5 + f.confidence/2)
	periods := futurePeriods(f.series, horizon)
	out := make([]models.ForecastPoint, horizon)
	var acc float64
	for i := 0; i < horizon; i++ {
		acc += psi[i] * psi[i]
		se := math.Sqrt(f.sigma2 * acc)
		point := y[ny+i]
		lower, upper := point-z*se, point+z*se
		out[i] = models.ForecastPoint{Period: periods[i], Point: point, Lower: &lower, Upper: &upper}
	}
	return out, nil
}
