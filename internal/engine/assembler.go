package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/miradorstack/mirador-forecast/internal/models"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

// DefaultHistoricalWindow is the number of trailing history days kept for display.
const DefaultHistoricalWindow = 180

// Assemble merges history and forecasts into provenance-tagged rows grouped by
// entity id and ordered by timestamp. Only the last historicalWindow days of
// history are kept (<= 0 keeps everything); the truncation is a presentation
// choice and does not affect the forecasts.
func Assemble(historical map[string]models.EntitySeries, forecasts map[string][]models.ForecastPoint, historicalWindow int) ([]models.AnnotatedObservation, error) {
	ids := make([]string, 0, len(historical))
	for id := range historical {
		ids = append(ids, id)
	}
	for id := range forecasts {
		if _, ok := historical[id]; !ok {
			return nil, schemaError("forecast for %q has no history", id)
		}
	}
	sort.Strings(ids)

	var rows []models.AnnotatedObservation
	for _, id := range ids {
		series := historical[id]
		if series.EntityID != id {
			return nil, schemaError("history keyed %q belongs to %q", id, series.EntityID)
		}
		if err := series.Validate(); err != nil {
			return nil, schemaError("history for %q: %v", id, err)
		}

		shown := series.Tail(historicalWindow)
		for i, ts := range shown.Timestamps {
			rows = append(rows, models.AnnotatedObservation{
				EntityID:   id,
				Timestamp:  ts,
				Value:      shown.Values[i],
				Provenance: models.ProvenanceHistorical,
			})
		}

		prev := series.Last()
		for _, p := range forecasts[id] {
			if err := checkForecastRow(id, prev, p); err != nil {
				return nil, err
			}
			prev = p.Timestamp
			lower, upper := p.LowerBound, p.UpperBound
			rows = append(rows, models.AnnotatedObservation{
				EntityID:   id,
				Timestamp:  p.Timestamp,
				Value:      p.PointEstimate,
				LowerBound: &lower,
				UpperBound: &upper,
				Provenance: models.ProvenanceForecast,
			})
		}
	}
	return rows, nil
}

func checkForecastRow(id string, prev time.Time, p models.ForecastPoint) error {
	if p.EntityID != id {
		return schemaError("forecast keyed %q belongs to %q", id, p.EntityID)
	}
	if !utils.IsNextDay(prev, p.Timestamp) {
		return schemaError("forecast for %q at %s does not follow %s", id, p.Timestamp.Format(utils.DateLayout), prev.Format(utils.DateLayout))
	}
	for _, v := range []float64{p.PointEstimate, p.LowerBound, p.UpperBound} {
		if math.IsNaN(v) {
			return schemaError("forecast for %q at %s has NaN fields", id, p.Timestamp.Format(utils.DateLayout))
		}
	}
	if !p.Ordered() {
		return schemaError("forecast for %q at %s has unordered bounds", id, p.Timestamp.Format(utils.DateLayout))
	}
	return nil
}

// SplitByProvenance reverses Assemble: it returns the historical observations
// and the forecast points of every entity, each in row order.
func SplitByProvenance(rows []models.AnnotatedObservation) (map[string][]models.Observation, map[string][]models.ForecastPoint, error) {
	history := make(map[string][]models.Observation)
	forecasts := make(map[string][]models.ForecastPoint)
	for _, row := range rows {
		switch row.Provenance {
		case models.ProvenanceHistorical:
			history[row.EntityID] = append(history[row.EntityID], models.Observation{
				EntityID:  row.EntityID,
				Timestamp: row.Timestamp,
				Value:     row.Value,
			})
		case models.ProvenanceForecast:
			if row.LowerBound == nil || row.UpperBound == nil {
				return nil, nil, schemaError("forecast row for %q at %s has no bounds", row.EntityID, row.Timestamp.Format(utils.DateLayout))
			}
			forecasts[row.EntityID] = append(forecasts[row.EntityID], models.ForecastPoint{
				EntityID:      row.EntityID,
				Timestamp:     row.Timestamp,
				PointEstimate: row.Value,
				LowerBound:    *row.LowerBound,
				UpperBound:    *row.UpperBound,
			})
		default:
			return nil, nil, schemaError("row for %q has unknown provenance %q", row.EntityID, row.Provenance)
		}
	}
	return history, forecasts, nil
}

func schemaError(format string, args ...any) error {
	return utils.NewAppError("engine.Assemble", fmt.Sprintf(format, args...), utils.ErrSchemaMismatch)
}
