// Package regressor synthesizes future values of the exogenous regressor for
// the forecast horizon.
//
// The default policy is persistence of the recent mean plus Gaussian noise. It
// is not a forecast of the regressor: forecast quality is bounded by it, and a
// real deployment would plug in a weather forecast or an external feed through
// the Extrapolator interface.
package regressor

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-forecast/internal/models"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

const (
	// DefaultLookback is the number of trailing days averaged.
	DefaultLookback = 30
	// DefaultNoiseStd is the standard deviation of each synthesized draw.
	DefaultNoiseStd = 1.5
)

// Extrapolator produces horizon future regressor values for a series.
type Extrapolator interface {
	Extrapolate(series models.EntitySeries, horizon int, rng *rand.Rand) ([]float64, error)
}

// MeanPersistence draws mean(last Lookback values) + N(0, NoiseStd) for every
// future day. Zero fields take DefaultLookback and DefaultNoiseStd.
type MeanPersistence struct {
	Lookback int
	NoiseStd float64
}

// NewMeanPersistence returns the default policy for the given lookback.
func NewMeanPersistence(lookback int) MeanPersistence {
	return MeanPersistence{Lookback: lookback, NoiseStd: DefaultNoiseStd}
}

// Extrapolate implements Extrapolator.
func (m MeanPersistence) Extrapolate(series models.EntitySeries, horizon int, rng *rand.Rand) ([]float64, error) {
	noise := m.NoiseStd
	if noise <= 0 {
		noise = DefaultNoiseStd
	}
	return extrapolate(series, horizon, m.Lookback, noise, rng)
}

// Extrapolate applies the default mean-persistence policy with lookback days.
// Fewer than lookback observations uses all of them; lookback <= 0 means DefaultLookback.
func Extrapolate(series models.EntitySeries, horizon, lookback int, rng *rand.Rand) ([]float64, error) {
	return extrapolate(series, horizon, lookback, DefaultNoiseStd, rng)
}

// WindowMean returns the mean of the last lookback regressor values.
func WindowMean(series models.EntitySeries, lookback int) (float64, error) {
	if len(series.Regressor) == 0 {
		return 0, utils.NewAppError("regressor.WindowMean", fmt.Sprintf("entity %s has no regressor history", series.EntityID), utils.ErrInsufficientHistory)
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	window := series.Regressor
	if len(window) > lookback {
		window = window[len(window)-lookback:]
	}
	return stat.Mean(window, nil), nil
}

func extrapolate(series models.EntitySeries, horizon, lookback int, noiseStd float64, rng *rand.Rand) ([]float64, error) {
	const op = "regressor.Extrapolate"
	if horizon <= 0 {
		return nil, utils.NewAppError(op, fmt.Sprintf("horizon must be positive, got %d", horizon), utils.ErrInvalidParameter)
	}
	if rng == nil {
		return nil, utils.NewAppError(op, "random source is nil", utils.ErrInvalidParameter)
	}
	mean, err := WindowMean(series, lookback)
	if err != nil {
		return nil, err
	}

	out := make([]float64, horizon)
	for i := range out {
		out[i] = mean + rng.NormFloat64()*noiseStd
	}
	return out, nil
}
