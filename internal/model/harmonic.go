package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/miradorstack/mirador-forecast/internal/utils"
)

// Options controls the harmonic regression design matrix and interval.
type Options struct {
	// SeasonalOrder is the number of annual Fourier sin/cos pairs.
	SeasonalOrder int
	// Period is the seasonal period in days.
	Period float64
	// RegressorDegree is the highest power of each centred regressor.
	RegressorDegree int
	// IntervalWidth is the central probability mass covered by the bounds.
	IntervalWidth float64
}

// DefaultOptions returns yearly seasonality, quadratic regressors and an 80% interval.
func DefaultOptions() Options {
	return Options{
		SeasonalOrder:   3,
		Period:          365.25,
		RegressorDegree: 2,
		IntervalWidth:   0.8,
	}
}

func (o Options) normalised() Options {
	def := DefaultOptions()
	if o.SeasonalOrder < 0 {
		o.SeasonalOrder = def.SeasonalOrder
	}
	if o.Period <= 0 {
		o.Period = def.Period
	}
	if o.RegressorDegree <= 0 {
		o.RegressorDegree = def.RegressorDegree
	}
	if o.IntervalWidth <= 0 || o.IntervalWidth >= 1 {
		o.IntervalWidth = def.IntervalWidth
	}
	return o
}

// HarmonicRegression fits y ~ trend + Fourier(annual) + poly(regressors) by
// least squares and forms intervals from the residual standard error.
type HarmonicRegression struct {
	opts Options
}

// NewHarmonicRegression constructs the model with opts; invalid fields fall back to defaults.
func NewHarmonicRegression(opts Options) *HarmonicRegression {
	return &HarmonicRegression{opts: opts.normalised()}
}

// Fitted is the Handle produced by HarmonicRegression.Fit.
type Fitted struct {
	opts       Options
	origin     time.Time
	regressors []string
	centres    []float64
	labels     []string
	coef       []float64
	sigma      float64
	z          float64
}

var _ Capability = (*HarmonicRegression)(nil)

// Fit implements Capability.
func (h *HarmonicRegression) Fit(ctx context.Context, observations []Observation, regressors []string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, fmt.Errorf("fit: no observations: %w", utils.ErrInsufficientHistory)
	}

	f := &Fitted{
		opts:       h.opts,
		origin:     observations[0].Timestamp,
		regressors: append([]string(nil), regressors...),
		centres:    make([]float64, len(regressors)),
	}
	f.labels = f.featureLabels()

	n, p := len(observations), len(f.labels)
	if n <= p {
		return nil, fmt.Errorf("fit: %d observations for %d parameters: %w", n, p, utils.ErrNonConvergence)
	}

	y := make([]float64, n)
	for i, obs := range observations {
		if math.IsNaN(obs.Value) || math.IsInf(obs.Value, 0) {
			return nil, fmt.Errorf("fit: non-finite value at %s: %w", obs.Timestamp.Format(utils.DateLayout), utils.ErrNonConvergence)
		}
		y[i] = obs.Value
	}
	for j, name := range f.regressors {
		col := make([]float64, n)
		for i, obs := range observations {
			v, ok := obs.Exogenous[name]
			if !ok {
				return nil, fmt.Errorf("fit: observation %d missing regressor %q", i, name)
			}
			col[i] = v
		}
		f.centres[j] = stat.Mean(col, nil)
	}

	x := mat.NewDense(n, p, nil)
	for i, obs := range observations {
		x.SetRow(i, f.row(obs.Timestamp, obs.Exogenous))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var qr mat.QR
	qr.Factorize(x)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, mat.NewVecDense(n, y)); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return nil, fmt.Errorf("fit: design matrix ill-conditioned (%g): %w", float64(cond), utils.ErrNonConvergence)
		}
		return nil, fmt.Errorf("fit: solve: %w", err)
	}
	f.coef = mat.Col(nil, 0, &beta)

	var fittedY mat.VecDense
	fittedY.MulVec(x, &beta)
	resid := make([]float64, n)
	floats.SubTo(resid, y, fittedY.RawVector().Data)
	f.sigma = math.Sqrt(floats.Dot(resid, resid) / float64(n-p))
	if math.IsNaN(f.sigma) || math.IsInf(f.sigma, 0) {
		return nil, fmt.Errorf("fit: residual error not finite: %w", utils.ErrNonConvergence)
	}
	f.z = distuv.UnitNormal.Quantile(0.5 + f.opts.IntervalWidth/2)
	return f, nil
}

// Predict implements Capability.
func (h *HarmonicRegression) Predict(ctx context.Context, handle Handle, future []FuturePoint) ([]Estimate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, ok := handle.(*Fitted)
	if !ok || f == nil {
		return nil, fmt.Errorf("predict: unexpected model handle %T", handle)
	}

	out := make([]Estimate, len(future))
	for i, pt := range future {
		for _, name := range f.regressors {
			if _, ok := pt.Exogenous[name]; !ok {
				return nil, fmt.Errorf("predict: future point %d missing regressor %q", i, name)
			}
		}
		point := floats.Dot(f.row(pt.Timestamp, pt.Exogenous), f.coef)
		half := f.z * f.sigma
		out[i] = Estimate{Point: point, Lower: point - half, Upper: point + half}
	}
	return out, nil
}

// Coefficients returns the fitted weight for every design column.
func (f *Fitted) Coefficients() map[string]float64 {
	coef := make(map[string]float64, len(f.labels))
	for i, label := range f.labels {
		coef[label] = f.coef[i]
	}
	return coef
}

// Sigma is the residual standard error of the fit.
func (f *Fitted) Sigma() float64 {
	return f.sigma
}

func (f *Fitted) featureLabels() []string {
	labels := []string{"intercept", "trend"}
	for k := 1; k <= f.opts.SeasonalOrder; k++ {
		order := strconv.Itoa(k)
		labels = append(labels, "sin"+order, "cos"+order)
	}
	for _, name := range f.regressors {
		for d := 1; d <= f.opts.RegressorDegree; d++ {
			labels = append(labels, name+"^"+strconv.Itoa(d))
		}
	}
	return labels
}

// row builds the design row for one day. Trend is measured in years from the
// first training day to keep columns on comparable scales.
func (f *Fitted) row(ts time.Time, exo map[string]float64) []float64 {
	days := ts.Sub(f.origin).Hours() / 24
	row := make([]float64, 0, len(f.labels))
	row = append(row, 1, days/f.opts.Period)
	for k := 1; k <= f.opts.SeasonalOrder; k++ {
		angle := 2 * math.Pi * float64(k) * days / f.opts.Period
		row = append(row, math.Sin(angle), math.Cos(angle))
	}
	for j, name := range f.regressors {
		centred := exo[name] - f.centres[j]
		term := 1.0
		for d := 1; d <= f.opts.RegressorDegree; d++ {
			term *= centred
			row = append(row, term)
		}
	}
	return row
}
