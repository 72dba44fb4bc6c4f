package models

import "time"

// Provenance distinguishes observed rows from model output.
type Provenance string

const (
	ProvenanceHistorical Provenance = "Historical"
	ProvenanceForecast   Provenance = "Forecast"
)

// AnnotatedObservation is the uniform row handed to report consumers.
// Historical rows have nil bounds.
type AnnotatedObservation struct {
	EntityID   string     `json:"entity_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Value      float64    `json:"value"`
	LowerBound *float64   `json:"lower_bound"`
	UpperBound *float64   `json:"upper_bound"`
	Provenance Provenance `json:"provenance"`
}

// Stage names the pipeline step an entity failed in.
type Stage string

const (
	StageSimulate    Stage = "simulate"
	StageValidate    Stage = "validate"
	StageFit         Stage = "fit"
	StageExtrapolate Stage = "extrapolate"
	StagePredict     Stage = "predict"
)

// CauseCanceled marks entities that never ran because the batch was cancelled.
const CauseCanceled = "Canceled"

// EntityFailure records why an entity produced no forecast.
type EntityFailure struct {
	EntityID string `json:"entity_id"`
	Stage    Stage  `json:"stage"`
	Cause    string `json:"cause"`
	Message  string `json:"message"`
	Err      error  `json:"-"`
}

// BatchResult collects per-entity outcomes of one orchestrator pass.
type BatchResult struct {
	Forecasts map[string][]ForecastPoint
	Failures  []EntityFailure
}

// Report is the output of a complete forecasting run.
type Report struct {
	RunID        string                 `json:"run_id"`
	GeneratedAt  time.Time              `json:"generated_at"`
	Seed         uint64                 `json:"seed"`
	Horizon      int                    `json:"horizon"`
	Succeeded    []string               `json:"succeeded"`
	Failures     []EntityFailure        `json:"failures"`
	Observations []AnnotatedObservation `json:"observations"`
}

// ForEntity returns the observations belonging to entityID, in order.
func (r Report) ForEntity(entityID string) []AnnotatedObservation {
	var rows []AnnotatedObservation
	for _, row := range r.Observations {
		if row.EntityID == entityID {
			rows = append(rows, row)
		}
	}
	return rows
}
