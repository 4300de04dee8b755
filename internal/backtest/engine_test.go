package backtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/models"
	"economy-forecaster/internal/performance"
)

func linearSeries(entity string, days int, start, slope float64) []models.FeatureRow {
	prices := make([]float64, days)
	for i := range prices {
		prices[i] = start + slope*float64(i)
	}
	return dailyRows(entity, epoch, prices...)
}

func testConfig() Config {
	return Config{
		StartDate:       epoch,
		EndDate:         epoch.AddDate(0, 0, 59),
		WindowDays:      30,
		StepDays:        7,
		Horizons:        []int{1, 7},
		MinTrainRows:    14,
		ProductionModel: ModelLastValue,
		Workers:         2,
	}
}

func TestRunAggregatesBaselines(t *testing.T) {
	rows := append(linearSeries("ore", 60, 100, 1), linearSeries("herb", 60, 50, 0)...)
	engine := NewEngine([]Regressor{LastValue{}, RollingMean{Window: 7, MinRows: 3}}, nil, zerolog.Nop())

	run, err := engine.Run(context.Background(), "run-1", testConfig(), rows)
	require.NoError(t, err)
	assert.Equal(t, StatusAggregated, run.Status)
	assert.NoError(t, run.Err)
	assert.False(t, run.FinishedAt.IsZero())

	// h=1: floor((59-29-1)/7)+1 = 5 folds, h=7: floor((59-29-7)/7)+1 = 4 folds.
	require.Len(t, run.Folds, 9)

	lv, ok := run.MetricsFor(ModelLastValue, 7)
	require.True(t, ok)
	require.NotNil(t, lv.MAE)
	// ore drifts by 7 over the horizon, herb is flat.
	assert.InDelta(t, 3.5, *lv.MAE, 1e-9)
	assert.Equal(t, 8, lv.NEvaluated)
	require.NotNil(t, lv.DirectionalAccuracy)
	assert.Equal(t, 0.0, *lv.DirectionalAccuracy)

	mae, err := run.Baseline(7)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, mae, 1e-9)
	require.NotNil(t, run.BaselineErrors[1])
	assert.InDelta(t, 0.5, *run.BaselineErrors[1], 1e-9)
}

func TestRunSkipsShortSeries(t *testing.T) {
	cfg := testConfig()
	cfg.MinTrainRows = 40
	engine := NewEngine(DefaultBaselines(), nil, zerolog.Nop())

	run, err := engine.Run(context.Background(), "run-skip", cfg, linearSeries("ore", 60, 10, 1))
	require.NoError(t, err)
	assert.Equal(t, StatusAggregated, run.Status)
	for _, f := range run.Folds {
		assert.True(t, f.Skipped)
		assert.Equal(t, []string{"ore/eu"}, f.SkippedSeries)
		assert.Empty(t, f.Predictions)
	}
	assert.Empty(t, run.Metrics)
	assert.Nil(t, run.BaselineErrors[7])

	_, err = run.Baseline(7)
	assert.ErrorIs(t, err, apperrors.ErrBaselineUnavailable)
	assert.Equal(t, 9, run.SeriesSummary()["ore/eu"])
}

type failingRegressor struct{}

func (failingRegressor) Name() string { return "broken" }

func (failingRegressor) Fit(context.Context, TrainingSet) (Model, error) {
	return nil, errors.New("singular matrix")
}

func TestRunRecordsModelFailures(t *testing.T) {
	engine := NewEngine([]Regressor{failingRegressor{}, LastValue{}}, nil, zerolog.Nop())
	run, err := engine.Run(context.Background(), "run-fail", testConfig(), linearSeries("ore", 60, 10, 1))
	require.NoError(t, err)
	assert.Equal(t, StatusAggregated, run.Status)

	for _, f := range run.Folds {
		require.Len(t, f.Failures, 1)
		assert.Equal(t, "broken", f.Failures[0].Model)
		assert.ErrorIs(t, f.Failures[0].Err, apperrors.ErrModelFit)
		require.Len(t, f.Predictions, 1)
		assert.Equal(t, ModelLastValue, f.Predictions[0].Model)
	}
	_, ok := run.MetricsFor("broken", 1)
	assert.False(t, ok)
}

// spyRegressor records the latest row and target dates it was trained on.
type spyRegressor struct {
	mu        sync.Mutex
	violation bool
}

func (s *spyRegressor) Name() string { return "spy" }

func (s *spyRegressor) Fit(_ context.Context, set TrainingSet) (Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range set.Rows {
		if r.ObsDate.After(set.TrainEnd) {
			s.violation = true
		}
		if set.Targets[i] != nil && set.TargetDates[i].After(set.TrainEnd) {
			s.violation = true
		}
	}
	return constantModel(0), nil
}

func TestRegressorsNeverSeePastTrainEnd(t *testing.T) {
	spy := &spyRegressor{}
	cfg := testConfig()
	cfg.Horizons = []int{1, 7, 28}
	cfg.EndDate = epoch.AddDate(0, 0, 119)
	engine := NewEngine([]Regressor{spy, LastValue{}}, nil, zerolog.Nop())

	run, err := engine.Run(context.Background(), "run-spy", cfg, linearSeries("ore", 120, 10, 0.5))
	require.NoError(t, err)
	assert.NotEmpty(t, run.Predictions())
	assert.False(t, spy.violation)
}

// cancellingRegressor cancels the run the first time it is fitted.
type cancellingRegressor struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (c *cancellingRegressor) Name() string { return "canceller" }

func (c *cancellingRegressor) Fit(context.Context, TrainingSet) (Model, error) {
	c.once.Do(c.cancel)
	return constantModel(1), nil
}

func TestRunCancelledBetweenFolds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := performance.NewWorkerPool(1, zerolog.Nop())
	require.NoError(t, err)
	defer pool.Stop(time.Second)

	engine := NewEngine([]Regressor{&cancellingRegressor{cancel: cancel}, LastValue{}}, pool, zerolog.Nop())
	run, err := engine.Run(ctx, "run-cancel", testConfig(), linearSeries("ore", 60, 10, 1))
	require.NoError(t, err)

	assert.Equal(t, StatusIncomplete, run.Status)
	assert.ErrorIs(t, run.Err, apperrors.ErrCancelled)
	require.Len(t, run.Folds, 1, "the in-flight fold completes")
	assert.Len(t, run.Folds[0].Predictions, 2)
	assert.NotEmpty(t, run.Metrics)
}

func TestRunRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Horizons = []int{7, 7}
	engine := NewEngine(DefaultBaselines(), nil, zerolog.Nop())

	run, err := engine.Run(context.Background(), "run-bad", cfg, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, StatusFailed, run.Status)
	assert.True(t, run.Status.Terminal())
}

func TestRunTransitions(t *testing.T) {
	run := &Run{Status: StatusConfigured}
	assert.ErrorIs(t, run.transition(StatusAggregated), apperrors.ErrInvalidTransition)
	require.NoError(t, run.transition(StatusSplitting))
	require.NoError(t, run.transition(StatusEvaluating))
	require.NoError(t, run.transition(StatusIncomplete))
	assert.ErrorIs(t, run.transition(StatusEvaluating), apperrors.ErrInvalidTransition)
}
