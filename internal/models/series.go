package models

import (
	"fmt"
	"time"
)

// RegressorName is the exogenous variable carried by every EntitySeries.
const RegressorName = "temperature"

// EntityParams describes how one entity's synthetic series is generated.
type EntityParams struct {
	ID                   string  `yaml:"id" json:"id" validate:"required"`
	Years                int     `yaml:"years" json:"years" validate:"gt=0"`
	BaseLevel            float64 `yaml:"baseLevel" json:"base_level"`
	RegressorSensitivity float64 `yaml:"regressorSensitivity" json:"regressor_sensitivity" validate:"gte=0"`
	ClimateOffset        float64 `yaml:"climateOffset" json:"climate_offset"`
}

// EntitySeries is a daily target series with its aligned regressor.
type EntitySeries struct {
	EntityID   string
	Timestamps []time.Time
	Values     []float64
	Regressor  []float64
}

// Len returns the number of observations.
func (s EntitySeries) Len() int {
	return len(s.Timestamps)
}

// Last returns the final timestamp, or the zero time for an empty series.
func (s EntitySeries) Last() time.Time {
	if len(s.Timestamps) == 0 {
		return time.Time{}
	}
	return s.Timestamps[len(s.Timestamps)-1]
}

// Validate checks alignment and uniform one-day spacing.
func (s EntitySeries) Validate() error {
	if s.EntityID == "" {
		return fmt.Errorf("series has empty entity id")
	}
	n := len(s.Timestamps)
	if n == 0 {
		return fmt.Errorf("series %s is empty", s.EntityID)
	}
	if len(s.Values) != n || len(s.Regressor) != n {
		return fmt.Errorf("series %s misaligned: %d timestamps, %d values, %d regressor", s.EntityID, n, len(s.Values), len(s.Regressor))
	}
	for i := 1; i < n; i++ {
		if !s.Timestamps[i-1].AddDate(0, 0, 1).Equal(s.Timestamps[i]) {
			return fmt.Errorf("series %s not daily at index %d", s.EntityID, i)
		}
	}
	return nil
}

// Tail returns a view over the last n observations. n <= 0 or n >= Len keeps all.
func (s EntitySeries) Tail(n int) EntitySeries {
	if n <= 0 || n >= s.Len() {
		return s
	}
	start := s.Len() - n
	return EntitySeries{
		EntityID:   s.EntityID,
		Timestamps: s.Timestamps[start:],
		Values:     s.Values[start:],
		Regressor:  s.Regressor[start:],
	}
}

// ForecastPoint is one bounded prediction for a future day.
type ForecastPoint struct {
	EntityID      string    `json:"entity_id"`
	Timestamp     time.Time `json:"timestamp"`
	PointEstimate float64   `json:"point_estimate"`
	LowerBound    float64   `json:"lower_bound"`
	UpperBound    float64   `json:"upper_bound"`
}

// Ordered reports whether lower <= point <= upper.
func (p ForecastPoint) Ordered() bool {
	return p.LowerBound <= p.PointEstimate && p.PointEstimate <= p.UpperBound
}

// Observation is a historical (timestamp, value) pair for one entity.
type Observation struct {
	EntityID  string    `json:"entity_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}
