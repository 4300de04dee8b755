package forecast

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"economy-forecaster/internal/backtest"
	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/features"
	"economy-forecaster/internal/logging"
	"economy-forecaster/internal/models"
	"economy-forecaster/internal/performance"
)

// PooledSuffix marks the model name of a forecast served by a pooled model.
const PooledSuffix = "_pooled"

// MultiplierFunc returns the drift multiplier to apply for a horizon.
type MultiplierFunc func(horizon int) float64

// Request describes one forecast generation pass.
type Request struct {
	RunID    string
	AsOf     time.Time
	Horizons []int
	// MinRows is the minimum number of priced rows a series needs.
	MinRows    int
	Multiplier MultiplierFunc
	// Pooled holds a model per horizon fit across all series. A series whose
	// own fit fails is predicted with it instead.
	Pooled map[int]backtest.Model
}

// Result carries the forecasts and the per-series failures of a pass.
type Result struct {
	Forecasts []models.ForecastOutput
	Failures  []error
	Skipped   []string
}

// Forecaster fits the production regressor per series and horizon and
// calibrates the interval of each prediction.
type Forecaster struct {
	regressor backtest.Regressor
	interval  IntervalConfig
	pool      *performance.WorkerPool
	loc       *time.Location
	logger    zerolog.Logger
	now       func() time.Time
}

// NewForecaster creates a forecaster. pool may be nil, in which case series
// are processed sequentially.
func NewForecaster(regressor backtest.Regressor, interval IntervalConfig, pool *performance.WorkerPool, loc *time.Location, logger zerolog.Logger) (*Forecaster, error) {
	if err := interval.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Forecaster{
		regressor: regressor,
		interval:  interval,
		pool:      pool,
		loc:       loc,
		logger:    logger.With().Str("component", "forecast").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Generate produces one forecast per series and horizon from rows dated on
// or before req.AsOf's day. The origin is each series' last priced row.
func (f *Forecaster) Generate(ctx context.Context, rows []models.FeatureRow, req Request) (*Result, error) {
	if len(req.Horizons) == 0 {
		return nil, apperrors.NewValidationError("forecast", "horizons", req.Horizons, "at least one horizon is required")
	}
	for _, h := range req.Horizons {
		if h < 1 {
			return nil, apperrors.NewValidationError("forecast", "horizons", h, "must be >= 1")
		}
	}
	if req.Multiplier == nil {
		req.Multiplier = func(int) float64 { return 1 }
	}
	asOfDay := models.Day(req.AsOf, f.loc)
	generatedAt := f.now()

	grouped := features.GroupBySeries(rows)
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		mu  sync.Mutex
		res = &Result{}
	)
	var tasks []performance.Task
	for _, key := range keys {
		series := eligible(grouped[key], asOfDay)
		priced := 0
		for _, r := range series {
			if r.HasPrice() {
				priced++
			}
		}
		if priced == 0 || priced < req.MinRows {
			res.Skipped = append(res.Skipped, key)
			res.Failures = append(res.Failures, apperrors.NewInsufficientHistoryError(key, priced, req.MinRows))
			continue
		}
		origin := series[len(series)-1]

		for _, h := range req.Horizons {
			tasks = append(tasks, func(ctx context.Context) error {
				out, err := f.forecastOne(ctx, series, origin, h, req, generatedAt)
				if err != nil {
					return err
				}
				mu.Lock()
				res.Forecasts = append(res.Forecasts, out)
				mu.Unlock()
				return nil
			})
		}
	}

	var errs []error
	if f.pool != nil {
		errs = f.pool.RunAll(ctx, tasks)
	} else {
		errs = make([]error, len(tasks))
		for i, task := range tasks {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				continue
			}
			errs[i] = task(ctx)
		}
	}
	for _, err := range errs {
		if err != nil {
			res.Failures = append(res.Failures, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return res, apperrors.Wrap(apperrors.ErrCancelled, "forecast generation")
	}

	sort.Slice(res.Forecasts, func(i, j int) bool {
		a, b := res.Forecasts[i], res.Forecasts[j]
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		if a.Realm != b.Realm {
			return a.Realm < b.Realm
		}
		return a.Horizon < b.Horizon
	})

	f.logger.Info().
		Str("run_id", req.RunID).
		Int("forecasts", len(res.Forecasts)).
		Int("failures", len(res.Failures)).
		Int("skipped", len(res.Skipped)).
		Msg("Forecasts generated")
	return res, nil
}

// eligible returns the series rows up to asOfDay, ending at the last priced
// row.
func eligible(rows []models.FeatureRow, asOfDay time.Time) []models.FeatureRow {
	rows = append([]models.FeatureRow(nil), rows...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ObsDate.Before(rows[j].ObsDate) })

	last := -1
	for i, r := range rows {
		if models.DaysBetween(r.ObsDate, asOfDay) < 0 {
			break
		}
		if r.HasPrice() {
			last = i
		}
	}
	return rows[:last+1]
}

func (f *Forecaster) forecastOne(ctx context.Context, series []models.FeatureRow, origin models.FeatureRow, h int, req Request, generatedAt time.Time) (models.ForecastOutput, error) {
	logger := logging.WithHorizon(logging.WithEntity(f.logger, origin.EntityID, origin.Realm), h)
	set := backtest.BuildTrainingSet(series, series[0].ObsDate, origin.ObsDate, h)

	name := f.regressor.Name()
	model, err := f.regressor.Fit(ctx, set)
	if err != nil {
		pooled, ok := req.Pooled[h]
		if !ok {
			logger.Debug().Err(err).Msg("Fit failed")
			return models.ForecastOutput{}, apperrors.NewModelError(name, "fit", -1, err)
		}
		logger.Debug().Err(err).Msg("Fit failed, using pooled model")
		model, name = pooled, name+PooledSuffix
	}
	preds, err := model.Predict([]models.FeatureRow{origin})
	if err == nil && len(preds) != 1 {
		err = fmt.Errorf("expected 1 prediction, got %d", len(preds))
	}
	if err != nil {
		return models.ForecastOutput{}, apperrors.NewModelError(name, "predict", -1, err)
	}

	point := preds[0]
	mult := req.Multiplier(h)
	widening := 1.0
	if origin.ColdStart {
		widening = f.interval.ColdStartFactor(origin.TransferConfidence)
	}
	lower, upper := f.interval.WidenedInterval(point, origin.RollingStd[7], widening, mult)

	inputsAsOf := origin.AsOf
	if inputsAsOf.IsZero() {
		inputsAsOf = features.EndOfDay(origin.ObsDate, f.loc)
	}
	return models.ForecastOutput{
		ID:                uuid.NewString(),
		RunID:             req.RunID,
		EntityID:          origin.EntityID,
		Realm:             origin.Realm,
		Category:          origin.Category,
		Horizon:           h,
		TargetDate:        models.AddDays(origin.ObsDate, h),
		Point:             point,
		CILower:           lower,
		CIUpper:           upper,
		ConfidencePct:     f.interval.ConfidenceLevel * 100,
		MultiplierApplied: mult,
		ColdStart:         origin.ColdStart,
		ModelName:         name,
		GeneratedAt:       generatedAt,
		InputsAsOf:        inputsAsOf,
	}, nil
}
