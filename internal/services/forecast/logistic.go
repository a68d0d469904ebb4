package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"KSHPull/internal/domain/models"
	"KSHPull/internal/domain/service"
)

// Logistic decomposes a series into a saturating logistic trend with
// changepoints plus Fourier seasonality, and extrapolates both. The
// capacity is the historical maximum times CapacityFactor.
type Logistic struct {
	params LogisticParams
}

func NewLogistic(params LogisticParams) *Logistic {
	return &Logistic{params: params}
}

func (l *Logistic) Name() string { return "logistic" }

func (l *Logistic) seasonal() (period, order int) {
	period, order = l.params.SeasonalPeriod, l.params.FourierOrder
	if period < 2 || order < 1 {
		return 0, 0
	}
	if order > period/2 {
		order = period / 2
	}
	return period, order
}

// MinObservations requires two seasonal cycles when seasonality is on.
func (l *Logistic) MinObservations() int {
	if p, _ := l.seasonal(); p > 0 && 2*p > 3 {
		return 2 * p
	}
	return 3
}

// logisticDesign holds everything the loss and the forecast share.
type logisticDesign struct {
	n         int
	cpT       []float64
	capS      float64
	yScale    float64
	period    int
	order     int
	nCP       int
	nBeta     int
	changeTau float64
	seasonTau float64
}

func (d *logisticDesign) fourier(i, k int) (sin, cos float64) {
	arg := 2 * math.Pi * float64(k+1) * float64(i) / float64(d.period)
	return math.Sin(arg), math.Cos(arg)
}

func (d *logisticDesign) tAt(i int) float64 { return float64(i) / float64(d.n-1) }

// trend evaluates the piecewise logistic curve at t.
func (d *logisticDesign) trend(t, k, m float64, deltas []float64) float64 {
	kCur, mCur := k, m
	var gammaSum float64
	for j, s := range d.cpT {
		kNext := kCur + deltas[j]
		gamma := 0.0
		if math.Abs(kNext) > 1e-10 {
			gamma = (s - m - gammaSum) * (1 - kCur/kNext)
		}
		gammaSum += gamma
		if t >= s {
			kCur = kNext
			mCur = m + gammaSum
		} else {
			break
		}
	}
	return d.capS / (1 + math.Exp(-kCur*(t-mCur)))
}

func (d *logisticDesign) predict(i int, x []float64) float64 {
	k, m := x[0], x[1]
	deltas := x[2 : 2+d.nCP]
	betas := x[2+d.nCP : 2+d.nCP+d.nBeta]
	v := d.trend(d.tAt(i), k, m, deltas)
	for j := 0; j < d.order; j++ {
		sin, cos := d.fourier(i, j)
		v += betas[2*j]*sin + betas[2*j+1]*cos
	}
	return v
}

func (l *Logistic) design(n int, yScale, capS float64) *logisticDesign {
	period, order := l.seasonal()
	d := &logisticDesign{
		n:         n,
		capS:      capS,
		yScale:    yScale,
		period:    period,
		order:     order,
		nBeta:     2 * order,
		changeTau: l.params.ChangepointPriorScale,
		seasonTau: l.params.SeasonalityPriorScale,
	}
	histSize := int(math.Floor(float64(n) * l.params.ChangepointRange))
	nCP := l.params.Changepoints
	if nCP+1 > histSize {
		nCP = histSize - 1
	}
	if nCP > 0 {
		idx := make([]float64, nCP+1)
		floats.Span(idx, 0, float64(histSize-1))
		for _, v := range idx[1:] {
			d.cpT = append(d.cpT, d.tAt(int(math.Round(v))))
		}
		d.nCP = nCP
	}
	return d
}

// initialGrowth derives k and m from the first and last points.
func initialGrowth(y []float64, capS float64) (k, m float64) {
	clip := func(v float64) float64 { return math.Max(0.01*capS, math.Min(0.99*capS, v)) }
	y0, y1 := clip(y[0]), clip(y[len(y)-1])
	r0, r1 := capS/y0, capS/y1
	if math.Abs(r0-r1) <= 0.01 {
		r0 = 1.05 * r0
	}
	l0, l1 := math.Log(r0-1), math.Log(r1-1)
	m = l0 / (l0 - l1)
	k = l0 - l1
	return k, m
}

func (l *Logistic) Fit(ctx context.Context, series models.GroupSeries) (service.FittedModel, error) {
	y := values(series)
	if len(y) < l.MinObservations() {
		return nil, fmt.Errorf("%w: logistic needs %d observations, series %s has %d",
			models.ErrInsufficientData, l.MinObservations(), series.Name(), len(y))
	}

	yMax := floats.Max(y)
	capacity := yMax * l.params.CapacityFactor
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: non-positive capacity %v for series %s", models.ErrInsufficientData, capacity, series.Name())
	}
	yScale := math.Max(math.Abs(yMax), math.Abs(floats.Min(y)))
	yS := make([]float64, len(y))
	floats.ScaleTo(yS, 1/yScale, y)
	d := l.design(len(y), yScale, capacity/yScale)

	nParams := 2 + d.nCP + d.nBeta + 1
	x0 := make([]float64, nParams)
	x0[0], x0[1] = initialGrowth(yS, d.capS)
	x0[nParams-1] = math.Log(0.1)

	loss := func(x []float64) float64 {
		logSigma := x[nParams-1]
		sigma := math.Exp(logSigma)
		var sse float64
		for i, v := range yS {
			r := v - d.predict(i, x)
			sse += r * r
		}
		v := float64(d.n)*logSigma + sse/(2*sigma*sigma) + sigma*sigma/(2*0.25)
		v += (x[0]*x[0] + x[1]*x[1]) / (2 * 25)
		for _, delta := range x[2 : 2+d.nCP] {
			v += math.Sqrt(delta*delta+1e-8) / d.changeTau
		}
		for _, b := range x[2+d.nCP : 2+d.nCP+d.nBeta] {
			v += b * b / (2 * d.seasonTau * d.seasonTau)
		}
		if !finite(v) {
			return math.MaxFloat64
		}
		return v
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	settings := &optimize.Settings{
		MajorIterations: l.params.MaxIterations,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-9, Relative: 1e-9, Iterations: 50},
	}
	if dl, ok := ctx.Deadline(); ok {
		settings.Runtime = time.Until(dl)
	}
	problem := optimize.Problem{
		Func: loss,
		Grad: func(grad, x []float64) { fd.Gradient(grad, loss, x, nil) },
	}
	initial := loss(x0)
	res, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if res == nil || !finite(res.F) || res.F > initial {
		return nil, fmt.Errorf("%w: logistic: %v", models.ErrNotConverged, err)
	}

	return &fittedLogistic{
		design:   d,
		series:   series,
		x:        res.X,
		sigma:    math.Exp(res.X[nParams-1]) * yScale,
		interval: l.params.IntervalWidth,
	}, nil
}

type fittedLogistic struct {
	design   *logisticDesign
	series   models.GroupSeries
	x        []float64
	sigma    float64
	interval float64
}

func (f *fittedLogistic) Predict(ctx context.Context, horizon int) ([]models.ForecastPoint, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	periods := futurePeriods(f.series, horizon)
	out := make([]models.ForecastPoint, horizon)
	var z float64
	if f.interval > 0 {
		z = distuv.UnitNormal.Quantile(0.5 + f.interval/2)
	}
	for h := 0; h < horizon; h++ {
		point := f.design.predict(f.design.n+h, f.x) * f.design.yScale
		out[h] = models.ForecastPoint{Period: periods[h], Point: point}
		if f.interval > 0 {
			lower, upper := point-z*f.sigma, point+z*f.sigma
			out[h].Lower, out[h].Upper = &lower, &upper
		}
	}
	return out, nil
}
