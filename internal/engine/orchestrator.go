package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-forecast/internal/metrics"
	"github.com/miradorstack/mirador-forecast/internal/model"
	"github.com/miradorstack/mirador-forecast/internal/models"
	"github.com/miradorstack/mirador-forecast/internal/regressor"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

// Options are the run-wide settings shared by every entity.
type Options struct {
	Seed       uint64
	FitTimeout time.Duration
	Workers    int
	// Latencies receives completed fit durations; nil allocates a private tracker.
	Latencies *utils.LatencyTracker
}

// StageError ties an entity failure to the pipeline stage that produced it.
type StageError struct {
	EntityID string
	Stage    models.Stage
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.EntityID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Orchestrator trains one model per entity and produces bounded forecasts.
type Orchestrator struct {
	logger       *slog.Logger
	capability   model.Capability
	extrapolator regressor.Extrapolator
	opts         Options
	latencies    *utils.LatencyTracker
}

// NewOrchestrator constructs an orchestrator. A nil extrapolator uses mean persistence
// over regressor.DefaultLookback days.
func NewOrchestrator(logger *slog.Logger, capability model.Capability, extrapolator regressor.Extrapolator, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if extrapolator == nil {
		extrapolator = regressor.NewMeanPersistence(regressor.DefaultLookback)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Latencies == nil {
		opts.Latencies = utils.NewLatencyTracker(1024)
	}
	return &Orchestrator{
		logger:       logger,
		capability:   capability,
		extrapolator: extrapolator,
		opts:         opts,
		latencies:    opts.Latencies,
	}
}

// FitLatencies exposes the tracker of completed fit durations.
func (o *Orchestrator) FitLatencies() *utils.LatencyTracker {
	return o.latencies
}

// Run forecasts horizon days after the end of series: fit, synthesize the future
// regressor, predict. Cancellation is checked between stages, never during a fit.
func (o *Orchestrator) Run(ctx context.Context, series models.EntitySeries, horizon int) ([]models.ForecastPoint, error) {
	id := series.EntityID
	if o.capability == nil {
		return nil, &StageError{EntityID: id, Stage: models.StageValidate, Err: fmt.Errorf("model capability not configured")}
	}
	if horizon <= 0 {
		return nil, &StageError{EntityID: id, Stage: models.StageValidate, Err: utils.NewAppError("engine.Run", fmt.Sprintf("horizon must be positive, got %d", horizon), utils.ErrInvalidParameter)}
	}
	if series.Len() == 0 {
		return nil, &StageError{EntityID: id, Stage: models.StageValidate, Err: utils.NewAppError("engine.Run", "empty series", utils.ErrInsufficientHistory)}
	}
	if err := series.Validate(); err != nil {
		return nil, &StageError{EntityID: id, Stage: models.StageValidate, Err: utils.NewAppError("engine.Run", err.Error(), utils.ErrInvalidParameter)}
	}

	if err := ctx.Err(); err != nil {
		return nil, &StageError{EntityID: id, Stage: models.StageFit, Err: err}
	}
	handle, err := o.fit(ctx, series)
	if err != nil {
		return nil, &StageError{EntityID: id, Stage: models.StageFit, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, &StageError{EntityID: id, Stage: models.StageExtrapolate, Err: err}
	}
	rng := utils.EntityRand(o.opts.Seed, id, utils.StreamRegressor)
	futureRegressor, err := o.extrapolator.Extrapolate(series, horizon, rng)
	if err != nil {
		return nil, &StageError{EntityID: id, Stage: models.StageExtrapolate, Err: err}
	}
	if len(futureRegressor) != horizon {
		return nil, &StageError{EntityID: id, Stage: models.StageExtrapolate, Err: fmt.Errorf("extrapolator returned %d values for horizon %d", len(futureRegressor), horizon)}
	}

	days := utils.NextDays(series.Last(), horizon)
	future := make([]model.FuturePoint, horizon)
	for i, day := range days {
		future[i] = model.FuturePoint{
			Timestamp: day,
			Exogenous: map[string]float64{models.RegressorName: futureRegressor[i]},
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, &StageError{EntityID: id, Stage: models.StagePredict, Err: err}
	}
	estimates, err := o.capability.Predict(ctx, handle, future)
	if err != nil {
		return nil, &StageError{EntityID: id, Stage: models.StagePredict, Err: err}
	}
	if len(estimates) != horizon {
		return nil, &StageError{EntityID: id, Stage: models.StagePredict, Err: fmt.Errorf("model returned %d estimates for horizon %d", len(estimates), horizon)}
	}

	points := make([]models.ForecastPoint, horizon)
	for i, est := range estimates {
		points[i] = models.ForecastPoint{
			EntityID:      id,
			Timestamp:     days[i],
			PointEstimate: est.Point,
			LowerBound:    est.Lower,
			UpperBound:    est.Upper,
		}
		if !points[i].Ordered() {
			return nil, &StageError{EntityID: id, Stage: models.StagePredict, Err: fmt.Errorf("estimate for %s has unordered bounds [%g, %g, %g]", days[i].Format(utils.DateLayout), est.Lower, est.Point, est.Upper)}
		}
	}
	return points, nil
}

type fitResult struct {
	handle model.Handle
	err    error
}

// fit calls the model capability with the full history and the temperature
// regressor registered. A fit still running at FitTimeout is abandoned.
func (o *Orchestrator) fit(ctx context.Context, series models.EntitySeries) (model.Handle, error) {
	observations := make([]model.Observation, series.Len())
	for i := range observations {
		observations[i] = model.Observation{
			Timestamp: series.Timestamps[i],
			Value:     series.Values[i],
			Exogenous: map[string]float64{models.RegressorName: series.Regressor[i]},
		}
	}

	fitCtx := ctx
	var timeout <-chan time.Time
	if o.opts.FitTimeout > 0 {
		var cancel context.CancelFunc
		fitCtx, cancel = context.WithTimeout(ctx, o.opts.FitTimeout)
		defer cancel()
		timer := time.NewTimer(o.opts.FitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	done := make(chan fitResult, 1)
	start := time.Now()
	go func() {
		handle, err := o.capability.Fit(fitCtx, observations, []string{models.RegressorName})
		done <- fitResult{handle: handle, err: err}
	}()

	select {
	case res := <-done:
		elapsed := time.Since(start)
		o.latencies.Observe(elapsed)
		metrics.ObserveFit(elapsed)
		if res.err == nil {
			return res.handle, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			return nil, utils.NewModelFitError(series.EntityID, fmt.Errorf("%w: %v", utils.ErrFitTimeout, res.err))
		}
		return nil, utils.NewModelFitError(series.EntityID, res.err)
	case <-timeout:
		metrics.ObserveFit(o.opts.FitTimeout)
		return nil, utils.NewModelFitError(series.EntityID, fmt.Errorf("%w after %s", utils.ErrFitTimeout, o.opts.FitTimeout))
	}
}

type outcome struct {
	points  []models.ForecastPoint
	failure *models.EntityFailure
}

// RunBatch forecasts every series independently on up to Workers goroutines.
// Failures are isolated per entity and reported sorted by entity id; entities
// not started before ctx is cancelled are reported with cause Canceled.
func (o *Orchestrator) RunBatch(ctx context.Context, series []models.EntitySeries, horizon int) models.BatchResult {
	outcomes := make([]outcome, len(series))
	seen := make(map[string]struct{}, len(series))

	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, s := range series {
		if _, dup := seen[s.EntityID]; dup {
			err := utils.NewAppError("engine.RunBatch", fmt.Sprintf("duplicate entity %q", s.EntityID), utils.ErrInvalidParameter)
			outcomes[i].failure = newFailure(s.EntityID, models.StageValidate, err)
			continue
		}
		seen[s.EntityID] = struct{}{}

		if err := ctx.Err(); err != nil {
			outcomes[i].failure = canceledFailure(s.EntityID, models.StageFit, err)
			continue
		}
		g.Go(func() error {
			outcomes[i] = o.runEntity(ctx, s, horizon)
			return nil
		})
	}
	_ = g.Wait()

	result := models.BatchResult{Forecasts: make(map[string][]models.ForecastPoint, len(series))}
	for i, out := range outcomes {
		if out.failure != nil {
			result.Failures = append(result.Failures, *out.failure)
			metrics.ObserveEntity(metrics.OutcomeError, out.failure.Cause)
			continue
		}
		result.Forecasts[series[i].EntityID] = out.points
		metrics.ObserveEntity(metrics.OutcomeSuccess, "")
	}
	sort.SliceStable(result.Failures, func(i, j int) bool {
		return result.Failures[i].EntityID < result.Failures[j].EntityID
	})
	return result
}

func (o *Orchestrator) runEntity(ctx context.Context, series models.EntitySeries, horizon int) outcome {
	points, err := o.Run(ctx, series, horizon)
	if err == nil {
		o.logger.Debug("entity forecast produced", slog.String("entity", series.EntityID), slog.Int("points", len(points)))
		return outcome{points: points}
	}

	stage := models.StageFit
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		stage = stageErr.Stage
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return outcome{failure: canceledFailure(series.EntityID, stage, err)}
	}

	failure := newFailure(series.EntityID, stage, err)
	o.logger.Warn("entity forecast failed",
		slog.String("entity", series.EntityID),
		slog.String("stage", string(stage)),
		slog.String("cause", failure.Cause),
		slog.Any("error", err),
	)
	return outcome{failure: failure}
}

func newFailure(entityID string, stage models.Stage, err error) *models.EntityFailure {
	return &models.EntityFailure{
		EntityID: entityID,
		Stage:    stage,
		Cause:    utils.Kind(err),
		Message:  err.Error(),
		Err:      err,
	}
}

func canceledFailure(entityID string, stage models.Stage, err error) *models.EntityFailure {
	return &models.EntityFailure{
		EntityID: entityID,
		Stage:    stage,
		Cause:    models.CauseCanceled,
		Message:  err.Error(),
		Err:      err,
	}
}
