package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/mirador-forecast/internal/cache"
	"github.com/miradorstack/mirador-forecast/internal/config"
	"github.com/miradorstack/mirador-forecast/internal/engine"
	"github.com/miradorstack/mirador-forecast/internal/metrics"
	"github.com/miradorstack/mirador-forecast/internal/model"
	"github.com/miradorstack/mirador-forecast/internal/models"
	"github.com/miradorstack/mirador-forecast/internal/regressor"
	"github.com/miradorstack/mirador-forecast/internal/simulator"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

// Settings is everything that determines the content of a report.
type Settings struct {
	Seed             uint64                `json:"seed"`
	StartDate        time.Time             `json:"start_date"`
	Entities         []models.EntityParams `json:"entities"`
	Horizon          int                   `json:"horizon"`
	HistoricalWindow int                   `json:"historical_window"`
	LookbackWindow   int                   `json:"lookback_window"`
	FitTimeout       time.Duration         `json:"fit_timeout"`
	Model            model.Options         `json:"model"`

	Workers   int           `json:"-"`
	ReportTTL time.Duration `json:"-"`
}

// SettingsFromConfig derives run settings from a validated configuration.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	start, err := cfg.Simulation.Start()
	if err != nil {
		return Settings{}, err
	}
	opts := model.DefaultOptions()
	opts.SeasonalOrder = cfg.Forecast.SeasonalOrder
	opts.RegressorDegree = cfg.Forecast.RegressorDegree
	opts.IntervalWidth = cfg.Forecast.IntervalWidth

	return Settings{
		Seed:             cfg.Simulation.Seed,
		StartDate:        start,
		Entities:         cfg.Simulation.Entities,
		Horizon:          cfg.Forecast.Horizon,
		HistoricalWindow: cfg.Forecast.HistoricalWindow,
		LookbackWindow:   cfg.Forecast.LookbackWindow,
		FitTimeout:       cfg.Forecast.FitTimeout,
		Model:            opts,
		Workers:          cfg.Forecast.Workers,
		ReportTTL:        cfg.Cache.ReportTTL,
	}, nil
}

// Validate rejects settings that cannot describe a run: each entity id must be
// present and distinct.
func (s Settings) Validate() error {
	seen := make(map[string]struct{}, len(s.Entities))
	for _, params := range s.Entities {
		if params.ID == "" {
			return utils.NewAppError("services.Validate", "entity id is empty", utils.ErrInvalidParameter)
		}
		if _, dup := seen[params.ID]; dup {
			return utils.NewAppError("services.Validate", fmt.Sprintf("duplicate entity %q", params.ID), utils.ErrInvalidParameter)
		}
		seen[params.ID] = struct{}{}
	}
	return nil
}

// Fingerprint hashes the settings that influence report content. Worker count
// and cache TTL are excluded.
func (s Settings) Fingerprint() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("fingerprint settings: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ForecastService runs simulation, per-entity forecasting and assembly, and
// caches finished reports.
type ForecastService struct {
	logger     *slog.Logger
	settings   Settings
	capability model.Capability
	cache      cache.Provider
	latencies  *utils.LatencyTracker
	now        func() time.Time
}

// NewForecastService constructs the service. A nil capability uses harmonic
// regression with settings.Model; a nil cache disables caching.
func NewForecastService(logger *slog.Logger, settings Settings, capability model.Capability, provider cache.Provider) *ForecastService {
	if logger == nil {
		logger = slog.Default()
	}
	if capability == nil {
		capability = model.NewHarmonicRegression(settings.Model)
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &ForecastService{
		logger:     logger,
		settings:   settings,
		capability: capability,
		cache:      provider,
		latencies:  utils.NewLatencyTracker(1024),
		now:        time.Now,
	}
}

// Run produces the report for the configured seed.
func (s *ForecastService) Run(ctx context.Context) (models.Report, error) {
	return s.RunSeed(ctx, s.settings.Seed)
}

// RunSeed produces the report for the configured entities under seed. Entity
// failures are recorded in the report; only invalid settings and structural
// errors are returned.
func (s *ForecastService) RunSeed(ctx context.Context, seed uint64) (models.Report, error) {
	start := time.Now()
	settings := s.settings
	settings.Seed = seed
	if err := settings.Validate(); err != nil {
		metrics.ObserveRun(time.Since(start), metrics.RunAborted, 0)
		return models.Report{}, err
	}

	fingerprint, err := settings.Fingerprint()
	if err != nil {
		return models.Report{}, err
	}
	key := cache.ReportKey(fingerprint)

	if report, ok := s.cachedReport(ctx, key); ok {
		metrics.ObserveRun(time.Since(start), metrics.RunCached, countForecastRows(report))
		s.logger.Info("forecast report served from cache", slog.String("run_id", report.RunID))
		return report, nil
	}

	historical, failures := s.simulate(settings)
	series := make([]models.EntitySeries, 0, len(historical))
	for _, params := range settings.Entities {
		if hs, ok := historical[params.ID]; ok {
			series = append(series, hs)
		}
	}

	orchestrator := engine.NewOrchestrator(s.logger, s.capability, regressor.NewMeanPersistence(settings.LookbackWindow), engine.Options{
		Seed:       seed,
		FitTimeout: settings.FitTimeout,
		Workers:    settings.Workers,
		Latencies:  s.latencies,
	})
	batch := orchestrator.RunBatch(ctx, series, settings.Horizon)
	batch.Failures = append(failures, batch.Failures...)
	sort.SliceStable(batch.Failures, func(i, j int) bool {
		return batch.Failures[i].EntityID < batch.Failures[j].EntityID
	})

	report, err := s.buildReport(fingerprint, settings, historical, batch)
	if err != nil {
		metrics.ObserveRun(time.Since(start), metrics.RunAborted, 0)
		s.logger.Error("forecast run aborted", slog.Any("error", err))
		return models.Report{}, err
	}

	rows := countForecastRows(report)
	metrics.ObserveRun(time.Since(start), metrics.RunCompleted, rows)
	s.logger.Info("forecast run completed",
		slog.String("run_id", report.RunID),
		slog.Int("succeeded", len(report.Succeeded)),
		slog.Int("failed", len(report.Failures)),
		slog.Int("forecast_rows", rows),
		slog.Duration("elapsed", time.Since(start)),
	)
	if count := s.latencies.Count(); count > 0 {
		s.logger.Info("fit latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	// Cancelled runs are incomplete and never cached.
	if ctx.Err() == nil {
		s.storeReport(ctx, key, report, settings.ReportTTL)
	}
	return report, nil
}

// LatencyP95 returns the p95 fit latency over recent entities.
func (s *ForecastService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func (s *ForecastService) simulate(settings Settings) (map[string]models.EntitySeries, []models.EntityFailure) {
	historical := make(map[string]models.EntitySeries, len(settings.Entities))
	var failures []models.EntityFailure
	for _, params := range settings.Entities {
		rng := utils.EntityRand(settings.Seed, params.ID, utils.StreamSimulation)
		series, err := simulator.Generate(params, settings.StartDate, rng)
		if err != nil {
			s.logger.Warn("entity simulation failed", slog.String("entity", params.ID), slog.Any("error", err))
			failures = append(failures, simulateFailure(params.ID, err))
			metrics.ObserveEntity(metrics.OutcomeError, utils.Kind(err))
			continue
		}
		historical[params.ID] = series
	}
	return historical, failures
}

func simulateFailure(entityID string, err error) models.EntityFailure {
	return models.EntityFailure{
		EntityID: entityID,
		Stage:    models.StageSimulate,
		Cause:    utils.Kind(err),
		Message:  err.Error(),
		Err:      err,
	}
}

// buildReport assembles successful entities only; history of failed entities
// is left out of the observations.
func (s *ForecastService) buildReport(fingerprint string, settings Settings, historical map[string]models.EntitySeries, batch models.BatchResult) (models.Report, error) {
	succeeded := make(map[string]models.EntitySeries, len(batch.Forecasts))
	for id := range batch.Forecasts {
		hs, ok := historical[id]
		if !ok {
			return models.Report{}, utils.NewAppError("services.buildReport", fmt.Sprintf("forecast for %q has no simulated history", id), utils.ErrSchemaMismatch)
		}
		succeeded[id] = hs
	}

	rows, err := engine.Assemble(succeeded, batch.Forecasts, settings.HistoricalWindow)
	if err != nil {
		return models.Report{}, err
	}

	ids := make([]string, 0, len(succeeded))
	for _, params := range settings.Entities {
		if _, ok := succeeded[params.ID]; ok {
			ids = append(ids, params.ID)
		}
	}
	failures := batch.Failures
	if failures == nil {
		failures = []models.EntityFailure{}
	}

	return models.Report{
		RunID:        fingerprint[:16],
		GeneratedAt:  s.now().UTC(),
		Seed:         settings.Seed,
		Horizon:      settings.Horizon,
		Succeeded:    ids,
		Failures:     failures,
		Observations: rows,
	}, nil
}

func (s *ForecastService) cachedReport(ctx context.Context, key string) (models.Report, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("report cache read failed", slog.Any("error", err))
		}
		return models.Report{}, false
	}
	var report models.Report
	if err := json.Unmarshal(data, &report); err != nil {
		s.logger.Warn("discarding corrupt cached report", slog.String("key", key), slog.Any("error", err))
		if delErr := s.cache.Del(ctx, key); delErr != nil {
			s.logger.Warn("report cache delete failed", slog.Any("error", delErr))
		}
		return models.Report{}, false
	}
	return report, true
}

func (s *ForecastService) storeReport(ctx context.Context, key string, report models.Report, ttl time.Duration) {
	data, err := json.Marshal(report)
	if err != nil {
		s.logger.Warn("report encode failed", slog.Any("error", err))
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		s.logger.Warn("report cache write failed", slog.Any("error", err))
	}
}

func countForecastRows(report models.Report) int {
	n := 0
	for _, row := range report.Observations {
		if row.Provenance == models.ProvenanceForecast {
			n++
		}
	}
	return n
}
