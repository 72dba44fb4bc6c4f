package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels entities that produced a forecast.
	OutcomeSuccess = "success"
	// OutcomeError labels entities that failed at any stage.
	OutcomeError = "error"

	// RunCompleted labels runs that produced a report, including partial ones.
	RunCompleted = "completed"
	// RunAborted labels runs stopped by a structural error.
	RunAborted = "aborted"
	// RunCached labels runs served from the report cache.
	RunCached = "cached"
)

var (
	entityForecastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_forecast",
			Name:      "entity_forecasts_total",
			Help:      "Per-entity forecast attempts, partitioned by outcome and failure cause.",
		},
		[]string{"outcome", "cause"},
	)

	fitDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_forecast",
			Name:      "fit_seconds",
			Help:      "Model fit latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_forecast",
			Name:      "runs_total",
			Help:      "Forecast runs, partitioned by result.",
		},
		[]string{"result"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_forecast",
			Name:      "run_seconds",
			Help:      "End-to-end run latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	forecastPoints = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_forecast",
			Name:      "forecast_points",
			Help:      "Forecast rows produced by the most recent run.",
		},
	)
)

// Register attaches mirador-forecast collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		entityForecastsTotal,
		fitDurationSeconds,
		runsTotal,
		runDurationSeconds,
		forecastPoints,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEntity counts one entity outcome. cause is ignored for successes.
func ObserveEntity(outcome, cause string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
		cause = ""
	}
	entityForecastsTotal.WithLabelValues(outcome, cause).Inc()
}

// ObserveFit records a model fit duration.
func ObserveFit(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	fitDurationSeconds.Observe(duration.Seconds())
}

// ObserveRun records a run duration, result label and forecast row count.
func ObserveRun(duration time.Duration, result string, points int) {
	runsTotal.WithLabelValues(result).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
	if result != RunAborted {
		forecastPoints.Set(float64(points))
	}
}
