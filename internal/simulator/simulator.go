// Package simulator produces synthetic daily demand series driven by a
// temperature-like regressor with a dual-threshold (heating/cooling) response.
package simulator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/miradorstack/mirador-forecast/internal/models"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

const (
	daysPerYear = 365

	driverBase      = 15.0
	driverAmplitude = 10.0
	driverNoiseStd  = 1.5

	// Demand is flat for drivers inside [HeatingThreshold, CoolingThreshold].
	HeatingThreshold = 18.0
	CoolingThreshold = 24.0

	trendPerDay       = 0.05
	seasonalAmplitude = 10.0
	valueNoiseStd     = 3.0
)

// DegreeDayContribution is the demand added by a driver value: it grows
// linearly below HeatingThreshold and above CoolingThreshold and is zero in between.
func DegreeDayContribution(driver, sensitivity float64) float64 {
	low := math.Max(0, HeatingThreshold-driver)
	high := math.Max(0, driver-CoolingThreshold)
	return sensitivity * (low + high)
}

// Generate builds one entity's series starting at start. Noise comes only from rng,
// so the same generator state and parameters always produce the same series.
func Generate(params models.EntityParams, start time.Time, rng *rand.Rand) (models.EntitySeries, error) {
	const op = "simulator.Generate"
	if params.ID == "" {
		return models.EntitySeries{}, utils.NewAppError(op, "entity id is empty", utils.ErrInvalidParameter)
	}
	if params.Years <= 0 {
		return models.EntitySeries{}, utils.NewAppError(op, fmt.Sprintf("entity %s: years must be positive, got %d", params.ID, params.Years), utils.ErrInvalidParameter)
	}
	if rng == nil {
		return models.EntitySeries{}, utils.NewAppError(op, "random source is nil", utils.ErrInvalidParameter)
	}

	n := daysPerYear * params.Years
	day := utils.Day(start)

	cycle := make([]float64, n)
	driver := make([]float64, n)
	for i := range driver {
		cycle[i] = math.Sin(2 * math.Pi * float64(i) / daysPerYear)
		driver[i] = driverBase + driverAmplitude*cycle[i] + rng.NormFloat64()*driverNoiseStd + params.ClimateOffset
	}

	series := models.EntitySeries{
		EntityID:   params.ID,
		Timestamps: make([]time.Time, n),
		Values:     make([]float64, n),
		Regressor:  driver,
	}
	for i := 0; i < n; i++ {
		series.Timestamps[i] = day.AddDate(0, 0, i)
		series.Values[i] = params.BaseLevel +
			trendPerDay*float64(i) +
			seasonalAmplitude*cycle[i] +
			DegreeDayContribution(driver[i], params.RegressorSensitivity) +
			rng.NormFloat64()*valueNoiseStd
	}
	return series, nil
}

// GenerateAll simulates every entity from its own stream derived from seed.
// Results are returned in input order.
func GenerateAll(entities []models.EntityParams, start time.Time, seed uint64) ([]models.EntitySeries, error) {
	seen := make(map[string]struct{}, len(entities))
	out := make([]models.EntitySeries, 0, len(entities))
	for _, params := range entities {
		if _, dup := seen[params.ID]; dup {
			return nil, utils.NewAppError("simulator.GenerateAll", fmt.Sprintf("duplicate entity %q", params.ID), utils.ErrInvalidParameter)
		}
		seen[params.ID] = struct{}{}

		series, err := Generate(params, start, utils.EntityRand(seed, params.ID, utils.StreamSimulation))
		if err != nil {
			return nil, err
		}
		out = append(out, series)
	}
	return out, nil
}
