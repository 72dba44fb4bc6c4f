package engine

import (
	"context"
	"testing"
	"time"

	"github.com/miradorstack/mirador-forecast/internal/model"
	"github.com/miradorstack/mirador-forecast/internal/models"
	"github.com/miradorstack/mirador-forecast/internal/regressor"
	"github.com/miradorstack/mirador-forecast/internal/simulator"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

func TestTwoEntityScenario(t *testing.T) {
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	series, err := simulator.GenerateAll([]models.EntityParams{
		{ID: "A", Years: 1, BaseLevel: 100, RegressorSensitivity: 2},
		{ID: "B", Years: 1, BaseLevel: 200, RegressorSensitivity: 3, ClimateOffset: -3},
	}, start, 42)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	o := NewOrchestrator(nil, model.NewHarmonicRegression(model.DefaultOptions()), regressor.NewMeanPersistence(30), Options{
		Seed:       42,
		FitTimeout: 10 * time.Second,
		Workers:    2,
	})
	const horizon = 5
	result := o.RunBatch(context.Background(), series, horizon)
	if len(result.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", result.Failures)
	}

	historical := make(map[string]models.EntitySeries, len(series))
	for _, s := range series {
		historical[s.EntityID] = s
	}
	rows, err := Assemble(historical, result.Forecasts, DefaultHistoricalWindow)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	for _, s := range series {
		var hist, fc []models.AnnotatedObservation
		for _, row := range rows {
			if row.EntityID != s.EntityID {
				continue
			}
			if row.Provenance == models.ProvenanceForecast {
				fc = append(fc, row)
			} else {
				hist = append(hist, row)
			}
		}
		if len(fc) != horizon {
			t.Fatalf("%s: expected %d forecast rows, got %d", s.EntityID, horizon, len(fc))
		}
		if len(hist) > DefaultHistoricalWindow {
			t.Fatalf("%s: expected at most %d historical rows, got %d", s.EntityID, DefaultHistoricalWindow, len(hist))
		}
		if !utils.IsNextDay(s.Last(), fc[0].Timestamp) {
			t.Fatalf("%s: first forecast %v does not follow last history %v", s.EntityID, fc[0].Timestamp, s.Last())
		}
		for _, row := range fc {
			if *row.LowerBound > row.Value || row.Value > *row.UpperBound {
				t.Fatalf("%s: bounds out of order: %+v", s.EntityID, row)
			}
		}
	}

	// B runs at roughly twice A's level; the forecasts should reflect it.
	if result.Forecasts["B"][0].PointEstimate <= result.Forecasts["A"][0].PointEstimate {
		t.Fatalf("expected B forecast above A forecast")
	}
}
