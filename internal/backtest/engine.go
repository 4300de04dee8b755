package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/features"
	"economy-forecaster/internal/logging"
	"economy-forecaster/internal/models"
	"economy-forecaster/internal/performance"
)

// RunStatus is the lifecycle state of a backtest run.
type RunStatus string

const (
	StatusConfigured RunStatus = "CONFIGURED"
	StatusSplitting  RunStatus = "SPLITTING"
	StatusEvaluating RunStatus = "EVALUATING"
	StatusAggregated RunStatus = "AGGREGATED"
	StatusIncomplete RunStatus = "INCOMPLETE"
	StatusFailed     RunStatus = "FAILED"
)

var transitions = map[RunStatus][]RunStatus{
	StatusConfigured: {StatusSplitting, StatusFailed},
	StatusSplitting:  {StatusEvaluating, StatusFailed},
	StatusEvaluating: {StatusAggregated, StatusIncomplete, StatusFailed},
}

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Config parameterizes a backtest run.
type Config struct {
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	WindowDays      int       `json:"window_days"`
	StepDays        int       `json:"step_days"`
	Horizons        []int     `json:"horizons"`
	MinTrainRows    int       `json:"min_train_rows"`
	ProductionModel string    `json:"production_model"`
	Workers         int       `json:"workers"`
}

// Validate checks the run parameters.
func (c Config) Validate() error {
	if c.WindowDays < 1 {
		return apperrors.NewValidationError("backtest", "window_days", c.WindowDays, "must be >= 1")
	}
	if c.StepDays < 1 {
		return apperrors.NewValidationError("backtest", "step_days", c.StepDays, "must be >= 1")
	}
	if len(c.Horizons) == 0 {
		return apperrors.NewValidationError("backtest", "horizons", c.Horizons, "at least one horizon is required")
	}
	seen := make(map[int]bool, len(c.Horizons))
	for _, h := range c.Horizons {
		if h < 1 {
			return apperrors.NewValidationError("backtest", "horizons", h, "must be >= 1")
		}
		if seen[h] {
			return apperrors.NewValidationError("backtest", "horizons", h, "duplicate horizon")
		}
		seen[h] = true
	}
	if c.MinTrainRows < 1 {
		return apperrors.NewValidationError("backtest", "min_train_rows", c.MinTrainRows, "must be >= 1")
	}
	if c.ProductionModel == "" {
		return apperrors.NewValidationError("backtest", "production_model", c.ProductionModel, "must be set")
	}
	if c.EndDate.Before(c.StartDate) {
		return apperrors.NewValidationError("backtest", "end_date", c.EndDate.Format(models.DateLayout), "must not be before start_date")
	}
	return nil
}

// Prediction is one model forecast evaluated against the realized price.
type Prediction struct {
	FoldIndex   int       `json:"fold_index"`
	Horizon     int       `json:"horizon"`
	EntityID    string    `json:"entity_id"`
	Realm       string    `json:"realm"`
	Category    string    `json:"category"`
	Model       string    `json:"model"`
	TrainEnd    time.Time `json:"train_end"`
	TestDate    time.Time `json:"test_date"`
	Actual      *float64  `json:"actual"`
	Predicted   float64   `json:"predicted"`
	LastKnown   *float64  `json:"last_known"`
	EventActive bool      `json:"event_active"`
}

// ModelFailure records a fit or predict failure for one series in one fold.
type ModelFailure struct {
	Series string
	Model  string
	Err    error
}

// FoldResult is the outcome of evaluating one fold.
type FoldResult struct {
	Fold          Fold
	Predictions   []Prediction
	SkippedSeries []string
	Failures      []ModelFailure
	Skipped       bool
	SkipReason    string
}

// Run is a backtest execution and its aggregate.
type Run struct {
	ID             string
	Config         Config
	Status         RunStatus
	StartedAt      time.Time
	FinishedAt     time.Time
	Folds          []FoldResult
	Metrics        []Metrics
	BaselineErrors map[int]*float64
	Err            error
}

func (r *Run) transition(to RunStatus) error {
	for _, allowed := range transitions[r.Status] {
		if allowed == to {
			r.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, r.Status, to)
}

func (r *Run) fail(err error) (*Run, error) {
	r.Err = err
	if r.Status.Terminal() {
		return r, err
	}
	r.Status = StatusFailed
	r.FinishedAt = time.Now().UTC()
	return r, err
}

// Predictions returns every prediction of the run in fold order.
func (r *Run) Predictions() []Prediction {
	var out []Prediction
	for _, f := range r.Folds {
		out = append(out, f.Predictions...)
	}
	return out
}

// Baseline returns the production model MAE for horizon, or
// BaselineUnavailable when no fold for that horizon was evaluated.
func (r *Run) Baseline(horizon int) (float64, error) {
	mae, ok := r.BaselineErrors[horizon]
	if !ok || mae == nil {
		return 0, apperrors.NewBaselineUnavailable(horizon, fmt.Sprintf("run %s has no %s error", r.ID, r.Config.ProductionModel))
	}
	return *mae, nil
}

// MetricsFor returns the aggregate for one model and horizon.
func (r *Run) MetricsFor(model string, horizon int) (Metrics, bool) {
	for _, m := range r.Metrics {
		if m.Model == model && m.Horizon == horizon {
			return m, true
		}
	}
	return Metrics{}, false
}

// Engine runs walk-forward backtests over feature rows.
type Engine struct {
	regressors []Regressor
	pool       *performance.WorkerPool
	logger     zerolog.Logger
}

// NewEngine creates an engine evaluating the given regressors. A nil pool
// makes each run create its own pool sized by Config.Workers.
func NewEngine(regressors []Regressor, pool *performance.WorkerPool, logger zerolog.Logger) *Engine {
	return &Engine{
		regressors: regressors,
		pool:       pool,
		logger:     logger.With().Str("component", "backtest").Logger(),
	}
}

// seriesData is the per-series input shared read-only by all folds.
type seriesData struct {
	key    string
	rows   []models.FeatureRow
	prices map[string]*float64
}

// Run executes a backtest. Cancellation is observed between folds: folds
// already evaluated are aggregated and the run ends INCOMPLETE. A leakage
// violation fails the whole run.
func (e *Engine) Run(ctx context.Context, runID string, cfg Config, rows []models.FeatureRow) (*Run, error) {
	run := &Run{
		ID:             runID,
		Config:         cfg,
		Status:         StatusConfigured,
		StartedAt:      time.Now().UTC(),
		BaselineErrors: make(map[int]*float64),
	}
	logger := logging.WithRun(e.logger, runID)

	if err := cfg.Validate(); err != nil {
		return run.fail(err)
	}
	if len(e.regressors) == 0 {
		return run.fail(apperrors.NewValidationError("backtest", "regressors", 0, "at least one regressor is required"))
	}

	if err := run.transition(StatusSplitting); err != nil {
		return run.fail(err)
	}
	splitStart := time.Now()
	var folds []Fold
	for _, h := range cfg.Horizons {
		hf, err := GenerateFolds(cfg.StartDate, cfg.EndDate, cfg.WindowDays, cfg.StepDays, h, len(folds))
		if err != nil {
			return run.fail(err)
		}
		for _, f := range hf {
			if err := ValidateFold(f, nil); err != nil {
				return run.fail(err)
			}
		}
		folds = append(folds, hf...)
	}
	logging.LogStage(logger, "split", time.Since(splitStart), nil)

	if err := run.transition(StatusEvaluating); err != nil {
		return run.fail(err)
	}

	pool := e.pool
	if pool == nil {
		p, err := performance.NewWorkerPool(cfg.Workers, logger)
		if err != nil {
			return run.fail(err)
		}
		defer p.Stop(5 * time.Second)
		pool = p
	}

	series := prepareSeries(rows)
	results := make([]FoldResult, len(folds))
	tasks := make([]performance.Task, len(folds))
	for i, f := range folds {
		i, f := i, f
		tasks[i] = func(ctx context.Context) error {
			res, err := e.evaluateFold(ctx, f, series, cfg.MinTrainRows, logger)
			results[i] = res
			return err
		}
	}

	evalStart := time.Now()
	errs := pool.RunAll(ctx, tasks)
	cancelled := false
	for i, err := range errs {
		switch {
		case err == nil:
			run.Folds = append(run.Folds, results[i])
		case apperrors.Is(err, apperrors.ErrLeakage):
			logging.LogStage(logger, "evaluate", time.Since(evalStart), err)
			return run.fail(err)
		case ctx.Err() != nil && apperrors.Is(err, ctx.Err()):
			cancelled = true
		default:
			return run.fail(apperrors.Wrapf(err, "fold %d", folds[i].Index))
		}
	}
	logging.LogStage(logger, "evaluate", time.Since(evalStart), nil)

	run.Metrics = AggregateMetrics(run.Predictions())
	for _, h := range cfg.Horizons {
		run.BaselineErrors[h] = nil
		if m, ok := run.MetricsFor(cfg.ProductionModel, h); ok && m.MAE != nil {
			run.BaselineErrors[h] = m.MAE
		}
	}

	final := StatusAggregated
	if cancelled {
		final = StatusIncomplete
		run.Err = apperrors.Wrap(apperrors.ErrCancelled, ctx.Err().Error())
	}
	if err := run.transition(final); err != nil {
		return run.fail(err)
	}
	run.FinishedAt = time.Now().UTC()

	logger.Info().
		Str("status", string(run.Status)).
		Int("folds", len(folds)).
		Int("evaluated", len(run.Folds)).
		Int("predictions", len(run.Predictions())).
		Msg("backtest finished")
	return run, nil
}

func prepareSeries(rows []models.FeatureRow) []seriesData {
	grouped := features.GroupBySeries(rows)
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]seriesData, 0, len(keys))
	for _, k := range keys {
		sr := grouped[k]
		sort.Slice(sr, func(i, j int) bool { return sr[i].ObsDate.Before(sr[j].ObsDate) })
		prices := make(map[string]*float64, len(sr))
		for _, r := range sr {
			prices[r.ObsDate.Format(models.DateLayout)] = r.PriceMean
		}
		out = append(out, seriesData{key: k, rows: sr, prices: prices})
	}
	return out
}

func (e *Engine) evaluateFold(ctx context.Context, f Fold, series []seriesData, minTrainRows int, logger zerolog.Logger) (FoldResult, error) {
	res := FoldResult{Fold: f}
	eligible := 0

	for _, s := range series {
		set := BuildTrainingSet(s.rows, f.TrainStart, f.TrainEnd, f.HorizonDays)
		if have := set.PricedRows(); have < minTrainRows {
			res.SkippedSeries = append(res.SkippedSeries, s.key)
			continue
		}
		if err := ValidateFold(f, &set); err != nil {
			return res, err
		}
		eligible++

		origin := set.Rows[len(set.Rows)-1]
		actual := s.prices[f.TestDate.Format(models.DateLayout)]
		lastKnown := s.prices[f.TrainEnd.Format(models.DateLayout)]
		if lastKnown == nil {
			for i := len(set.Rows) - 1; i >= 0; i-- {
				if set.Rows[i].PriceMean != nil {
					lastKnown = set.Rows[i].PriceMean
					break
				}
			}
		}

		for _, reg := range e.regressors {
			model, err := reg.Fit(ctx, set)
			if err != nil {
				res.Failures = append(res.Failures, ModelFailure{
					Series: s.key, Model: reg.Name(),
					Err: apperrors.NewModelError(reg.Name(), "fit", f.Index, err),
				})
				continue
			}
			preds, err := model.Predict([]models.FeatureRow{origin})
			if err == nil && len(preds) != 1 {
				err = fmt.Errorf("expected 1 prediction, got %d", len(preds))
			}
			if err != nil {
				res.Failures = append(res.Failures, ModelFailure{
					Series: s.key, Model: reg.Name(),
					Err: apperrors.NewModelError(reg.Name(), "predict", f.Index, err),
				})
				continue
			}
			res.Predictions = append(res.Predictions, Prediction{
				FoldIndex:   f.Index,
				Horizon:     f.HorizonDays,
				EntityID:    origin.EntityID,
				Realm:       origin.Realm,
				Category:    string(origin.Category),
				Model:       reg.Name(),
				TrainEnd:    f.TrainEnd,
				TestDate:    f.TestDate,
				Actual:      actual,
				Predicted:   preds[0],
				LastKnown:   lastKnown,
				EventActive: origin.Events.Active,
			})
		}
	}

	if eligible == 0 {
		res.Skipped = true
		res.SkipReason = fmt.Sprintf("no series with at least %d priced training rows", minTrainRows)
	}
	for _, fail := range res.Failures {
		logger.Debug().Err(fail.Err).Str("series", fail.Series).Msg("model failed")
	}
	logging.LogFold(logger, f.Index, f.HorizonDays, f.TestDate, len(res.Predictions), res.Skipped, res.SkipReason)
	return res, nil
}

// SeriesSummary counts how often each series was skipped across folds.
func (r *Run) SeriesSummary() map[string]int {
	out := make(map[string]int)
	for _, f := range r.Folds {
		for _, s := range f.SkippedSeries {
			out[s]++
		}
	}
	return out
}
