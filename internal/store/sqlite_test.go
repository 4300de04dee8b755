package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"economy-forecaster/internal/backtest"
	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/events"
	"economy-forecaster/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "forecaster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const calendar = `
events:
  - slug: tww-launch
    name: The War Within launch
    type: expansion_launch
    scope: global
    severity: critical
    start_date: 2024-08-26
    end_date: 2024-09-09
    announced_at: 2023-11-03T19:00:00Z
    impacts:
      - category: consumable
        direction: spike
        magnitude: 0.45
        lag_days: -3
        duration_days: 21
  - slug: secret-hotfix
    name: Unannounced hotfix
    type: hotfix
    scope: global
    severity: minor
    start_date: 2024-09-02
`

func TestEventsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	reg, err := events.Parse([]byte(calendar))
	require.NoError(t, err)
	require.NoError(t, s.SaveEvents(ctx, reg))
	// saving twice replaces rather than duplicates
	require.NoError(t, s.SaveEvents(ctx, reg))

	loaded, err := s.LoadRegistry(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Len())

	launch, ok := loaded.BySlug("tww-launch")
	require.True(t, ok)
	assert.Equal(t, models.SeverityCritical, launch.Severity)
	assert.Equal(t, day(2024, 8, 26), launch.StartDate)
	require.NotNil(t, launch.EndDate)
	assert.Equal(t, day(2024, 9, 9), *launch.EndDate)
	require.NotNil(t, launch.AnnouncedAt)
	assert.True(t, launch.AnnouncedAt.Equal(time.Date(2023, 11, 3, 19, 0, 0, 0, time.UTC)))

	hotfix, ok := loaded.BySlug("secret-hotfix")
	require.True(t, ok)
	assert.Nil(t, hotfix.AnnouncedAt)
	assert.False(t, events.IsKnownAt(hotfix, day(2025, 1, 1)))

	imp, ok := loaded.Impact(launch.ID, models.CategoryConsumable)
	require.True(t, ok)
	assert.Equal(t, models.ImpactSpike, imp.Direction)
	assert.Equal(t, -3, imp.LagDays)
	require.NotNil(t, imp.DurationDays)
	assert.Equal(t, 21, *imp.DurationDays)
}

func sampleRun(id string, status backtest.RunStatus, finished time.Time, h1 *float64) *backtest.Run {
	fold := backtest.Fold{Index: 0, HorizonDays: 1, TrainStart: day(2024, 6, 1), TrainEnd: day(2024, 7, 1), TestDate: day(2024, 7, 2)}
	return &backtest.Run{
		ID:     id,
		Status: status,
		Config: backtest.Config{
			StartDate: day(2024, 6, 1), EndDate: day(2024, 7, 31), WindowDays: 30, StepDays: 7,
			Horizons: []int{1, 7}, MinTrainRows: 5, ProductionModel: "linear",
		},
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
		Folds: []backtest.FoldResult{
			{
				Fold: fold,
				Predictions: []backtest.Prediction{
					{FoldIndex: 0, Horizon: 1, EntityID: "ore", Realm: "eu", Category: "mat", Model: "linear",
						TrainEnd: fold.TrainEnd, TestDate: fold.TestDate, Actual: models.Float(10), Predicted: 11, LastKnown: models.Float(9.5)},
					{FoldIndex: 0, Horizon: 1, EntityID: "herb", Realm: "eu", Category: "mat", Model: "linear",
						TrainEnd: fold.TrainEnd, TestDate: fold.TestDate, Predicted: 4, EventActive: true},
				},
				SkippedSeries: []string{"gem/eu"},
			},
			{Fold: backtest.Fold{Index: 0, HorizonDays: 7, TrainStart: day(2024, 6, 1), TrainEnd: day(2024, 7, 1), TestDate: day(2024, 7, 8)},
				Skipped: true, SkipReason: "no test rows"},
		},
		Metrics: []backtest.Metrics{
			{Model: "linear", Horizon: 1, NPredictions: 2, NEvaluated: 1, MAE: models.Float(1), RMSE: models.Float(1)},
		},
		BaselineErrors: map[int]*float64{1: h1, 7: nil},
	}
}

func TestBacktestRunPersistence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	finished := time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveBacktestRun(ctx, sampleRun("run-a", backtest.StatusAggregated, finished, models.Float(1))))
	// re-saving replaces child rows
	require.NoError(t, s.SaveBacktestRun(ctx, sampleRun("run-a", backtest.StatusAggregated, finished, models.Float(1))))

	rec, err := s.GetBacktestRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, backtest.StatusAggregated, rec.Status)
	assert.Equal(t, 2, rec.Folds)
	assert.Equal(t, 1, rec.SkippedFolds)
	assert.Equal(t, 2, rec.Predictions)
	assert.Equal(t, []int{1, 7}, rec.Config.Horizons)
	assert.True(t, rec.FinishedAt.Equal(finished))
	require.Len(t, rec.Metrics, 1)
	assert.Equal(t, 1.0, *rec.Metrics[0].MAE)
	assert.Nil(t, rec.Metrics[0].MAPE)
	assert.Equal(t, 1.0, *rec.BaselineErrors[1])
	assert.Nil(t, rec.BaselineErrors[7])

	preds, err := s.GetBacktestPredictions(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, "herb", preds[0].EntityID)
	assert.Nil(t, preds[0].Actual)
	assert.True(t, preds[0].EventActive)
	assert.Equal(t, day(2024, 7, 2), preds[1].TestDate)
	assert.Equal(t, 10.0, *preds[1].Actual)

	_, err = s.GetBacktestRun(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)
}

func TestLatestBaselinesUsesNewestAggregatedRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.LatestBaselines(ctx)
	assert.ErrorIs(t, err, apperrors.ErrBaselineUnavailable)

	base := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveBacktestRun(ctx, sampleRun("old", backtest.StatusAggregated, base, models.Float(1))))
	require.NoError(t, s.SaveBacktestRun(ctx, sampleRun("new", backtest.StatusAggregated, base.Add(24*time.Hour), models.Float(2))))

	failed := sampleRun("broken", backtest.StatusFailed, base.Add(48*time.Hour), models.Float(9))
	failed.Err = errors.New("boom")
	require.NoError(t, s.SaveBacktestRun(ctx, failed))

	runID, baselines, err := s.LatestBaselines(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", runID)
	assert.Equal(t, 2.0, *baselines[1])

	runs, err := s.ListBacktestRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "broken", runs[0].ID)
	assert.Equal(t, "boom", runs[0].Error)
}

func TestDriftChecksRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asOf := time.Date(2024, 9, 30, 12, 0, 0, 0, time.UTC)

	checks := []models.DriftCheckResult{
		{AsOf: asOf, Horizon: 1, LiveMAE: models.Float(3), BaselineMAE: models.Float(1), Ratio: models.Float(3),
			Level: models.DriftCritical, UncertaintyMultiplier: 3, RetrainRecommended: true, NLive: 12, CheckedAt: asOf},
		{AsOf: asOf, Horizon: 7, Level: models.DriftUnknown, UncertaintyMultiplier: 3, CheckedAt: asOf},
	}
	require.NoError(t, s.SaveDriftChecks(ctx, checks))
	require.NoError(t, s.SaveDriftChecks(ctx, checks[:1]))

	got, err := s.GetDriftChecks(ctx, DateRange{Start: asOf.Add(-time.Hour), End: asOf})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.DriftCritical, got[0].Level)
	assert.True(t, got[0].RetrainRecommended)
	assert.Equal(t, 3.0, *got[0].Ratio)
	assert.Equal(t, models.DriftUnknown, got[1].Level)
	assert.Nil(t, got[1].BaselineMAE)

	none, err := s.GetDriftChecks(ctx, DateRange{Start: asOf.Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestForecastsAndRecommendations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gen := time.Date(2024, 9, 1, 6, 0, 0, 0, time.UTC)

	fc := []models.ForecastOutput{
		{ID: "f1", RunID: "r1", EntityID: "ore", Realm: "eu", Category: models.CategoryMat, Horizon: 1,
			TargetDate: day(2024, 9, 2), Point: 10, CILower: 9, CIUpper: 11, ConfidencePct: 80, MultiplierApplied: 1,
			ModelName: "linear", GeneratedAt: gen, InputsAsOf: gen.Add(-time.Hour)},
		{ID: "f2", RunID: "r1", EntityID: "ore", Realm: "eu", Category: models.CategoryMat, Horizon: 7,
			TargetDate: day(2024, 9, 8), Point: 12, CILower: 9, CIUpper: 15, ConfidencePct: 80, MultiplierApplied: 1.5,
			ModelName: "linear", GeneratedAt: gen, InputsAsOf: gen.Add(-time.Hour)},
	}
	require.NoError(t, s.SaveForecasts(ctx, fc))

	got, err := s.GetForecasts(ctx, ForecastFilter{RunID: "r1", TargetFrom: day(2024, 9, 3)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "f2", got[0].ID)
	assert.Equal(t, day(2024, 9, 8), got[0].TargetDate)
	assert.Equal(t, 1.5, got[0].MultiplierApplied)
	assert.True(t, got[0].InputsAsOf.Equal(gen.Add(-time.Hour)))

	all, err := s.GetForecasts(ctx, ForecastFilter{EntityID: "ore", Horizon: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)

	recs := []models.RecommendationOutput{
		{ForecastID: "f2", EntityID: "ore", Realm: "eu", Category: models.CategoryMat, Horizon: 7, Action: models.ActionBuy,
			Score: 15, Rank: 1, ROI: 0.2, Components: models.ScoreComponents{Opportunity: 40, Liquidity: 10},
			Reasoning: "Strong upward forecast", GeneratedAt: gen, InputsAsOf: gen.Add(-time.Hour), ExpiresAt: gen.Add(7 * 24 * time.Hour)},
	}
	require.NoError(t, s.SaveRecommendations(ctx, "r1", recs))

	out, err := s.GetRecommendations(ctx, RecommendationFilter{RunID: "r1", Action: models.ActionBuy})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 40.0, out[0].Components.Opportunity)
	assert.Equal(t, models.CategoryMat, out[0].Category)
	assert.True(t, out[0].ExpiresAt.Equal(gen.Add(7*24*time.Hour)))

	out, err = s.GetRecommendations(ctx, RecommendationFilter{Action: models.ActionSell})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestModelArtifacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetModelArtifact(ctx, "linear", 1)
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)

	require.NoError(t, s.SaveModelArtifact(ctx, &ModelArtifact{Name: "linear", Horizon: 1, RunID: "r1", Data: []byte{1, 2, 3}}))
	require.NoError(t, s.SaveModelArtifact(ctx, &ModelArtifact{Name: "linear", Horizon: 1, RunID: "r2", Data: []byte{4}}))

	a, err := s.GetModelArtifact(ctx, "linear", 1)
	require.NoError(t, err)
	assert.Equal(t, "r2", a.RunID)
	assert.Equal(t, []byte{4}, a.Data)
}

func TestFreshnessTracking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	now := time.Date(2024, 9, 30, 12, 0, 0, 0, time.UTC)
	ft := NewFreshnessTracker(s, nil)
	ft.now = func() time.Time { return now }

	f := ft.GetDataFreshness(SyncTypeObservations)
	assert.False(t, f.IsFresh)
	assert.Equal(t, "observations: never updated", FormatFreshness(f))

	require.NoError(t, ft.MarkSynced(SyncTypeObservations))
	ft.now = func() time.Time { return now.Add(30 * time.Minute) }
	f = ft.GetDataFreshness(SyncTypeObservations)
	assert.True(t, f.IsFresh)
	assert.Equal(t, "observations: updated 30 minutes ago", FormatFreshness(f))

	ft.now = func() time.Time { return now.Add(3 * time.Hour) }
	assert.True(t, ft.IsDataStale(SyncTypeObservations))
	assert.Len(t, ft.GetAllDataFreshness(), 5)

	latest, err := s.ObservationsFreshness(ctx)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())
}
