// Package model defines the fit/predict contract the orchestrator depends on
// and ships a default harmonic regression implementation.
package model

import (
	"context"
	"time"
)

// Observation is one historical training row.
type Observation struct {
	Timestamp time.Time
	Value     float64
	Exogenous map[string]float64
}

// FuturePoint is one day to predict with its exogenous inputs.
type FuturePoint struct {
	Timestamp time.Time
	Exogenous map[string]float64
}

// Estimate is a point prediction with its interval.
type Estimate struct {
	Point float64
	Lower float64
	Upper float64
}

// Handle is an opaque trained model returned by Fit and consumed by Predict.
type Handle any

// Capability trains a model on history and predicts future points with it.
// Regressors names the exogenous inputs the model must use as predictors.
type Capability interface {
	Fit(ctx context.Context, observations []Observation, regressors []string) (Handle, error)
	Predict(ctx context.Context, handle Handle, future []FuturePoint) ([]Estimate, error)
}
