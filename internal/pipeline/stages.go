package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"economy-forecaster/internal/backtest"
	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/features"
	"economy-forecaster/internal/forecast"
	"economy-forecaster/internal/logging"
	"economy-forecaster/internal/ml"
	"economy-forecaster/internal/models"
	"economy-forecaster/internal/monitoring"
	"economy-forecaster/internal/notify"
	"economy-forecaster/internal/recommend"
	"economy-forecaster/internal/store"
)

// BacktestRequest bounds a backtest. Zero dates default to the first and
// last feature row dates.
type BacktestRequest struct {
	Start time.Time
	End   time.Time
}

// RunBacktest builds features, evaluates every regressor with walk-forward
// folds and persists the run. An AGGREGATED run also snapshots the
// production model per horizon.
func (p *Pipeline) RunBacktest(ctx context.Context, req BacktestRequest) (*backtest.Run, error) {
	start := time.Now()
	through := req.End
	if through.IsZero() {
		through = p.now()
	}
	rows, _, err := p.BuildFeatures(ctx, through)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		err := apperrors.NewInsufficientHistoryError("all series", 0, 1)
		p.observe("backtest", start, err)
		return nil, err
	}

	first, last := rows[0].ObsDate, rows[0].ObsDate
	for _, r := range rows {
		if r.ObsDate.Before(first) {
			first = r.ObsDate
		}
		if r.ObsDate.After(last) {
			last = r.ObsDate
		}
	}
	if req.Start.IsZero() {
		req.Start = first
	}
	if req.End.IsZero() {
		req.End = last
	}

	regressors, err := p.Regressors()
	if err != nil {
		p.observe("backtest", start, err)
		return nil, err
	}
	cfg := backtest.Config{
		StartDate:       models.Day(req.Start, p.loc),
		EndDate:         models.Day(req.End, p.loc),
		WindowDays:      p.cfg.Backtest.WindowDays,
		StepDays:        p.cfg.Backtest.StepDays,
		Horizons:        p.cfg.Backtest.Horizons,
		MinTrainRows:    p.cfg.Backtest.MinTrainRows,
		ProductionModel: p.cfg.Backtest.ProductionModel,
		Workers:         p.cfg.Backtest.Workers,
	}

	engine := backtest.NewEngine(regressors, p.pool, p.logger)
	run, runErr := engine.Run(ctx, uuid.NewString(), cfg, rows)
	if run != nil {
		saveCtx := context.WithoutCancel(ctx)
		if err := p.retry(saveCtx, func() error { return p.store.SaveBacktestRun(saveCtx, run) }); err != nil {
			p.observe("backtest", start, err)
			return run, apperrors.Wrap(err, "store backtest run")
		}
	}
	if runErr != nil {
		p.observe("backtest", start, runErr)
		return run, runErr
	}

	if run.Status == backtest.StatusAggregated {
		if _, err := p.SnapshotModels(ctx, run.ID, rows, cfg.EndDate); err != nil {
			p.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Model snapshot failed")
		}
		if err := p.freshness.MarkSynced(store.SyncTypeBacktest); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to record backtest freshness")
		}
	}
	p.observe("backtest", start, nil)
	return run, nil
}

// SnapshotModels fits the production linear model on every series pooled,
// one model per horizon trained through trainEnd, and stores the encoded
// models. Horizons without enough supervised rows are skipped. It returns
// the number of stored snapshots.
func (p *Pipeline) SnapshotModels(ctx context.Context, runID string, rows []models.FeatureRow, trainEnd time.Time) (int, error) {
	if p.cfg.Backtest.ProductionModel != ml.ModelName {
		return 0, nil
	}
	regressor := ml.NewLinearRegressor()
	grouped := features.GroupBySeries(rows)
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	saved := 0
	for _, h := range p.cfg.Backtest.Horizons {
		pooled := backtest.TrainingSet{HorizonDays: h, TrainEnd: trainEnd}
		for _, k := range keys {
			series := grouped[k]
			set := backtest.BuildTrainingSet(series, series[0].ObsDate, trainEnd, h)
			pooled.Rows = append(pooled.Rows, set.Rows...)
			pooled.Targets = append(pooled.Targets, set.Targets...)
			pooled.TargetDates = append(pooled.TargetDates, set.TargetDates...)
		}

		fitted, err := regressor.Fit(ctx, pooled)
		if err != nil {
			p.logger.Debug().Err(err).Int("horizon", h).Msg("Skipping model snapshot")
			continue
		}
		lm, ok := fitted.(*ml.LinearModel)
		if !ok {
			continue
		}
		data, err := ml.EncodeModel(lm)
		if err != nil {
			return saved, err
		}
		artifact := &store.ModelArtifact{Name: ml.ModelName, Horizon: h, RunID: runID, Data: data, CreatedAt: p.now()}
		if err := p.retry(ctx, func() error { return p.store.SaveModelArtifact(ctx, artifact) }); err != nil {
			return saved, apperrors.Wrap(err, "store model artifact")
		}
		saved++
	}
	return saved, nil
}

// LoadModel restores the stored production model for a horizon.
func (p *Pipeline) LoadModel(ctx context.Context, horizon int) (*ml.LinearModel, error) {
	m, _, err := p.loadModel(ctx, horizon)
	return m, err
}

func (p *Pipeline) loadModel(ctx context.Context, horizon int) (*ml.LinearModel, *store.ModelArtifact, error) {
	a, err := p.store.GetModelArtifact(ctx, ml.ModelName, horizon)
	if err != nil {
		return nil, nil, err
	}
	m, err := ml.DecodeModel(a.Data)
	if err != nil {
		return nil, nil, err
	}
	return m, a, nil
}

// pooledModels returns the stored snapshot per horizon whose training window
// ended on or before asOfDay. Missing or unreadable snapshots are skipped.
func (p *Pipeline) pooledModels(ctx context.Context, asOfDay time.Time) map[int]backtest.Model {
	if p.cfg.Backtest.ProductionModel != ml.ModelName {
		return nil
	}
	out := make(map[int]backtest.Model)
	for _, h := range p.cfg.Backtest.Horizons {
		m, a, err := p.loadModel(ctx, h)
		if err != nil {
			if !apperrors.Is(err, apperrors.ErrDataNotFound) {
				p.logger.Warn().Err(err).Int("horizon", h).Msg("Failed to load model snapshot")
			}
			continue
		}
		run, err := p.store.GetBacktestRun(ctx, a.RunID)
		if err != nil {
			p.logger.Warn().Err(err).Str("run_id", a.RunID).Msg("Failed to load snapshot run")
			continue
		}
		if models.DaysBetween(models.Day(run.Config.EndDate, p.loc), asOfDay) < 0 {
			continue
		}
		out[h] = m
	}
	return out
}

// DriftReport is the outcome of one drift evaluation pass.
type DriftReport struct {
	AsOf        time.Time
	BaselineRun string
	Checks      []models.DriftCheckResult
	DataDrift   monitoring.DataDriftReport
	Shock       monitoring.ShockReport
	Composite   monitoring.CompositeResult
}

// Multiplier returns the multiplier to apply at horizon h.
func (r *DriftReport) Multiplier(h int, policy monitoring.Policy) float64 {
	return monitoring.MultiplierFor(r.Checks, h, policy)
}

// ErrorLevel returns the most severe known per-horizon level, or UNKNOWN when
// no horizon has a baseline.
func ErrorLevel(checks []models.DriftCheckResult) models.DriftLevel {
	level := models.DriftUnknown
	for _, c := range checks {
		if c.Level.Known() && c.Level > level {
			level = c.Level
		}
	}
	return level
}

// CheckDrift pairs stored forecasts whose target date falls in the window
// ending at asOf with the realized daily price, compares live MAE per
// horizon against the latest aggregated backtest, and adds the data-drift
// and event-shock checks.
func (p *Pipeline) CheckDrift(ctx context.Context, asOf time.Time) (*DriftReport, error) {
	start := time.Now()
	report := &DriftReport{AsOf: asOf}

	runID, baselines, err := p.store.LatestBaselines(ctx)
	switch {
	case err == nil:
		report.BaselineRun = runID
	case apperrors.Is(err, apperrors.ErrBaselineUnavailable):
		p.logger.Warn().Msg("No aggregated backtest; drift levels are UNKNOWN")
		baselines = make(map[int]*float64)
	default:
		p.observe("drift", start, err)
		return nil, apperrors.Wrap(err, "load baselines")
	}
	for _, h := range p.cfg.Backtest.Horizons {
		if _, ok := baselines[h]; !ok {
			baselines[h] = nil
		}
	}

	mon, err := monitoring.NewMonitor(p.policy, p.cfg.Drift.WindowDays, baselines, p.logger)
	if err != nil {
		p.observe("drift", start, err)
		return nil, err
	}
	mon.SetMetrics(p.metrics)

	rows, _, err := p.BuildFeatures(ctx, asOf)
	if err != nil {
		p.observe("drift", start, err)
		return nil, err
	}
	actual := make(map[string]float64, len(rows))
	for _, r := range rows {
		if r.HasPrice() {
			actual[r.Key()] = *r.PriceMean
		}
	}

	asOfDay := models.Day(asOf, p.loc)
	fcs, err := p.store.GetForecasts(ctx, store.ForecastFilter{
		TargetFrom: models.AddDays(asOfDay, -(p.cfg.Drift.WindowDays - 1)),
		TargetTo:   asOfDay,
	})
	if err != nil {
		p.observe("drift", start, err)
		return nil, apperrors.Wrap(err, "load forecasts")
	}
	// latest generation wins for a repeated series, horizon and target
	latest := make(map[string]models.ForecastOutput, len(fcs))
	for _, f := range fcs {
		pk := fmt.Sprintf("%s/%s/%d", models.SeriesKey(f.EntityID, f.Realm), f.TargetDate.Format(models.DateLayout), f.Horizon)
		if cur, ok := latest[pk]; !ok || !f.GeneratedAt.Before(cur.GeneratedAt) {
			latest[pk] = f
		}
	}
	for _, f := range latest {
		a, ok := actual[models.SeriesKey(f.EntityID, f.Realm)+"/"+f.TargetDate.Format(models.DateLayout)]
		if !ok {
			continue
		}
		if err := mon.Observe(monitoring.LivePair{
			EntityID: f.EntityID, Realm: f.Realm, Horizon: f.Horizon,
			TargetDate: f.TargetDate, Actual: a, Predicted: f.Point,
		}); err != nil {
			p.logger.Debug().Err(err).Str("forecast_id", f.ID).Msg("Skipping live pair")
		}
	}

	if report.Checks, err = mon.Check(ctx, asOf); err != nil {
		p.observe("drift", start, err)
		return nil, apperrors.Wrap(err, "drift check")
	}

	obs, err := p.store.GetObservations(ctx, time.Time{}, asOf)
	if err != nil {
		p.observe("drift", start, err)
		return nil, apperrors.Wrap(err, "load observations")
	}
	ddCfg := monitoring.DefaultDataDriftConfig()
	ddCfg.ZThreshold = p.cfg.Drift.DataDriftZ
	report.DataDrift = monitoring.CheckDataDrift(features.Normalize(obs, p.loc, p.cfg.Features.OutlierZThreshold), asOf, ddCfg)
	report.Shock = monitoring.CheckEventShock(p.registry, asOf, p.cfg.Drift.ShockWindowDays, p.loc)
	report.Composite = monitoring.Composite(p.policy, ErrorLevel(report.Checks), report.DataDrift.Level, report.Shock.ShockActive)
	if p.metrics != nil {
		p.metrics.ObserveDataDrift(report.DataDrift)
		p.metrics.ObserveShock(report.Shock)
	}

	if err := p.retry(ctx, func() error { return p.store.SaveDriftChecks(ctx, report.Checks) }); err != nil {
		p.observe("drift", start, err)
		return nil, apperrors.Wrap(err, "store drift checks")
	}
	if err := p.freshness.MarkSynced(store.SyncTypeDrift); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to record drift freshness")
	}

	p.lastDrift.Store(report)
	if err := p.notifier.Send(ctx, notify.DriftAlert(asOf, report.Composite, report.Checks)); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to send drift alert")
	}
	p.logger.Info().
		Str("composite", report.Composite.Level.String()).
		Str("data_drift", report.DataDrift.Level.String()).
		Bool("shock", report.Shock.ShockActive).
		Bool("auto_retrain", report.Composite.AutoRetrain).
		Msg("Drift check complete")
	p.observe("drift", start, nil)
	return report, nil
}

// latestChecks returns the newest stored check per horizon with as_of on or
// before asOf.
func (p *Pipeline) latestChecks(ctx context.Context, asOf time.Time) ([]models.DriftCheckResult, error) {
	window := time.Duration(p.cfg.Drift.WindowDays) * 24 * time.Hour
	checks, err := p.store.GetDriftChecks(ctx, store.DateRange{Start: asOf.Add(-window), End: asOf})
	if err != nil {
		return nil, err
	}
	byHorizon := make(map[int]models.DriftCheckResult)
	for _, c := range checks {
		byHorizon[c.Horizon] = c
	}
	out := make([]models.DriftCheckResult, 0, len(byHorizon))
	for _, c := range byHorizon {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Horizon < out[j].Horizon })
	return out, nil
}

// ForecastReport carries a forecast pass and the rows it was built from.
type ForecastReport struct {
	RunID  string
	AsOf   time.Time
	Result *forecast.Result
	Rows   []models.FeatureRow
}

// Forecast generates calibrated forecasts for every series at asOf. The
// interval multiplier per horizon comes from the newest stored drift check
// inside the drift window; a horizon with none gets the unknown multiplier.
func (p *Pipeline) Forecast(ctx context.Context, asOf time.Time) (*ForecastReport, error) {
	start := time.Now()
	rows, _, err := p.BuildFeatures(ctx, asOf)
	if err != nil {
		p.observe("forecast", start, err)
		return nil, err
	}
	checks, err := p.latestChecks(ctx, asOf)
	if err != nil {
		p.observe("forecast", start, err)
		return nil, apperrors.Wrap(err, "load drift checks")
	}
	prod, err := p.productionRegressor()
	if err != nil {
		p.observe("forecast", start, err)
		return nil, err
	}
	f, err := forecast.NewForecaster(prod, p.interval, p.pool, p.loc, p.logger)
	if err != nil {
		p.observe("forecast", start, err)
		return nil, err
	}

	runID := uuid.NewString()
	res, err := f.Generate(ctx, rows, forecast.Request{
		RunID:    runID,
		AsOf:     asOf,
		Horizons: p.cfg.Backtest.Horizons,
		MinRows:  p.cfg.Backtest.MinTrainRows,
		Multiplier: func(h int) float64 {
			return monitoring.MultiplierFor(checks, h, p.policy)
		},
		Pooled: p.pooledModels(ctx, models.Day(asOf, p.loc)),
	})
	if err != nil {
		p.observe("forecast", start, err)
		return nil, err
	}
	if err := p.retry(ctx, func() error { return p.store.SaveForecasts(ctx, res.Forecasts) }); err != nil {
		p.observe("forecast", start, err)
		return nil, apperrors.Wrap(err, "store forecasts")
	}
	if err := p.freshness.MarkSynced(store.SyncTypeForecasts); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to record forecast freshness")
	}
	p.observe("forecast", start, nil)
	return &ForecastReport{RunID: runID, AsOf: asOf, Result: res, Rows: rows}, nil
}

// originRows returns each series' last priced row on or before asOf's day.
func originRows(rows []models.FeatureRow, asOfDay time.Time) map[string]models.FeatureRow {
	out := make(map[string]models.FeatureRow)
	for _, r := range rows {
		if !r.HasPrice() || models.DaysBetween(r.ObsDate, asOfDay) < 0 {
			continue
		}
		if cur, ok := out[r.SeriesKey()]; !ok || r.ObsDate.After(cur.ObsDate) {
			out[r.SeriesKey()] = r
		}
	}
	return out
}

// Recommend forecasts at asOf, scores each forecast against its origin row
// and stores the ranked recommendations.
func (p *Pipeline) Recommend(ctx context.Context, asOf time.Time, opts recommend.RankOptions) ([]models.RecommendationOutput, error) {
	fr, err := p.Forecast(ctx, asOf)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	origins := originRows(fr.Rows, models.Day(asOf, p.loc))
	scored := make([]recommend.Scored, 0, len(fr.Result.Forecasts))
	for _, f := range fr.Result.Forecasts {
		sig := recommend.Signals{}
		if row, ok := origins[models.SeriesKey(f.EntityID, f.Realm)]; ok {
			sig = recommend.SignalsFromRow(row)
		}
		scored = append(scored, p.scorer.Score(f, sig))
	}
	if opts.TopN == 0 {
		opts.TopN = p.cfg.Scoring.TopN
	}
	recs := recommend.Rank(scored, opts, p.logger)

	if err := p.retry(ctx, func() error { return p.store.SaveRecommendations(ctx, fr.RunID, recs) }); err != nil {
		p.observe("recommend", start, err)
		return nil, apperrors.Wrap(err, "store recommendations")
	}
	p.observe("recommend", start, nil)
	return recs, nil
}

// CycleReport is the outcome of one scheduled monitor cycle.
type CycleReport struct {
	Drift           *DriftReport
	Recommendations []models.RecommendationOutput
	Retrained       *backtest.Run
}

// RunCycle checks drift, retrains when the policy signals auto-retrain, and
// refreshes recommendations.
func (p *Pipeline) RunCycle(ctx context.Context, asOf time.Time) (*CycleReport, error) {
	drift, err := p.CheckDrift(ctx, asOf)
	if err != nil {
		return nil, err
	}
	out := &CycleReport{Drift: drift}
	log := logging.WithOperation(p.logger, "cycle")

	if drift.Composite.AutoRetrain {
		log.Warn().Str("level", drift.Composite.Level.String()).Msg("Auto-retrain triggered")
		run, err := p.RunBacktest(ctx, BacktestRequest{End: asOf})
		if err != nil {
			return out, apperrors.Wrap(err, "auto-retrain")
		}
		out.Retrained = run
		if drift, err = p.CheckDrift(ctx, asOf); err != nil {
			return out, err
		}
		out.Drift = drift
	}

	recs, err := p.Recommend(ctx, asOf, recommend.RankOptions{})
	if err != nil {
		return out, err
	}
	out.Recommendations = recs
	log.Info().
		Str("level", out.Drift.Composite.Level.String()).
		Int("recommendations", len(recs)).
		Bool("retrained", out.Retrained != nil).
		Msg("Cycle complete")
	return out, nil
}
