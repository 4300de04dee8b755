// Package pipeline wires the forecasting stages to storage: observation
// import, feature builds, backtests, drift checks, forecasts and
// recommendations.
package pipeline

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"economy-forecaster/internal/backtest"
	"economy-forecaster/internal/config"
	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/events"
	"economy-forecaster/internal/features"
	"economy-forecaster/internal/forecast"
	"economy-forecaster/internal/logging"
	"economy-forecaster/internal/ml"
	"economy-forecaster/internal/models"
	"economy-forecaster/internal/monitoring"
	"economy-forecaster/internal/notify"
	"economy-forecaster/internal/performance"
	"economy-forecaster/internal/recommend"
	"economy-forecaster/internal/store"
	"economy-forecaster/pkg/utils"
)

// Pipeline runs the forecasting stages against a data store.
type Pipeline struct {
	cfg       *config.Config
	store     store.DataStore
	registry  *events.Registry
	features  *features.Engine
	pool      *performance.WorkerPool
	metrics   *monitoring.Metrics
	notifier  notify.Notifier
	freshness *store.FreshnessTracker
	policy    monitoring.Policy
	interval  forecast.IntervalConfig
	scorer    *recommend.Scorer
	loc       *time.Location
	retryCfg  utils.RetryConfig
	batchSize int
	logger    zerolog.Logger
	now       func() time.Time

	lastDrift atomic.Pointer[DriftReport]
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records stage and drift metrics on m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithNotifier sends drift alerts through n.
func WithNotifier(n notify.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithRegistry uses reg instead of the stored event calendar.
func WithRegistry(reg *events.Registry) Option {
	return func(p *Pipeline) { p.registry = reg }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRetry overrides the store retry policy.
func WithRetry(cfg utils.RetryConfig) Option {
	return func(p *Pipeline) { p.retryCfg = cfg }
}

// PolicyFromConfig builds the drift policy table from configuration.
func PolicyFromConfig(cfg config.DriftConfig) (monitoring.Policy, error) {
	level, err := models.ParseDriftLevel(cfg.RetrainLevel)
	if err != nil {
		return monitoring.Policy{}, apperrors.NewValidationError("config", "drift.retrain_level", cfg.RetrainLevel, err.Error())
	}
	p := monitoring.Policy{
		Thresholds:        append([]float64(nil), cfg.Thresholds...),
		Multipliers:       append([]float64(nil), cfg.Multipliers...),
		UnknownMultiplier: cfg.UnknownMultiplier,
		RetrainLevel:      level,
		AllowAutoRetrain:  cfg.AllowAutoRetrain,
	}
	return p, p.Validate()
}

// New creates a pipeline. Without WithRegistry the event calendar is read
// from the store.
func New(cfg *config.Config, st store.DataStore, logger zerolog.Logger, opts ...Option) (*Pipeline, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, apperrors.NewValidationError("config", "features.timezone", cfg.Features.Timezone, err.Error())
	}
	policy, err := PolicyFromConfig(cfg.Drift)
	if err != nil {
		return nil, err
	}
	interval := forecast.IntervalConfig{
		ConfidenceLevel:      cfg.Forecast.ConfidenceLevel,
		FallbackPct:          cfg.Forecast.FallbackStdPct,
		MinHalfWidthPct:      cfg.Forecast.MinHalfWidthPct,
		ColdStartWidening:    cfg.Forecast.ColdStartWidening,
		ColdStartMaxWidening: cfg.Forecast.ColdStartMaxWidening,
	}
	if err := interval.Validate(); err != nil {
		return nil, err
	}
	scorer, err := recommend.NewScorerWithWeights(
		recommend.Weights{
			Opportunity: cfg.Scoring.Opportunity,
			Liquidity:   cfg.Scoring.Liquidity,
			Volatility:  cfg.Scoring.Volatility,
			EventBoost:  cfg.Scoring.EventBoost,
			Uncertainty: cfg.Scoring.Uncertainty,
		},
		recommend.Thresholds{
			BuyROI:           cfg.Scoring.BuyROI,
			SellROI:          cfg.Scoring.SellROI,
			AvoidUncertainty: cfg.Scoring.AvoidUncertainty,
			AvoidCV:          cfg.Scoring.AvoidCV,
		},
	)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:       cfg,
		store:     st,
		notifier:  notify.NoOpNotifier{},
		freshness: store.NewFreshnessTracker(st, nil),
		policy:    policy,
		interval:  interval,
		scorer:    scorer,
		loc:       loc,
		retryCfg:  defaultRetryConfig(),
		batchSize: 500,
		logger:    logger.With().Str("component", "pipeline").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.registry == nil {
		reg, err := st.LoadRegistry(context.Background())
		if err != nil {
			return nil, apperrors.Wrap(err, "load event calendar")
		}
		p.registry = reg
	}
	p.features = features.NewEngine(p.featureConfig(), p.registry, p.logger)

	pool, err := performance.NewWorkerPool(cfg.Backtest.Workers, p.logger)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// Close releases the worker pool. The store is owned by the caller.
func (p *Pipeline) Close() error {
	return p.pool.Stop(5 * time.Second)
}

// Registry returns the event calendar in use.
func (p *Pipeline) Registry() *events.Registry {
	return p.registry
}

// Policy returns the drift policy table.
func (p *Pipeline) Policy() monitoring.Policy {
	return p.policy
}

// Location returns the reference zone for day boundaries.
func (p *Pipeline) Location() *time.Location {
	return p.loc
}

// LastDrift returns the most recent drift report, or nil before the first
// check.
func (p *Pipeline) LastDrift() *DriftReport {
	return p.lastDrift.Load()
}

// Freshness returns the data freshness tracker.
func (p *Pipeline) Freshness() *store.FreshnessTracker {
	return p.freshness
}

func (p *Pipeline) featureConfig() features.Config {
	return features.Config{
		Location:           p.loc,
		Lags:               p.cfg.Features.Lags,
		RollingWindows:     p.cfg.Features.RollingWindows,
		OutlierZThreshold:  p.cfg.Features.OutlierZThreshold,
		PreEventWindowDays: p.cfg.Features.PreEventWindowDays,
		ColdStartThreshold: p.cfg.Features.ColdStartThreshold,
		TransferConfidence: transferConfidence(p.cfg.Features.TransferConfidence),
	}
}

func transferConfidence(m map[string]float64) map[models.Category]float64 {
	out := make(map[models.Category]float64, len(m))
	for k, v := range m {
		out[models.Category(strings.ToLower(k)).Root()] = v
	}
	return out
}

// defaultRetryConfig retries transient store failures only.
func defaultRetryConfig() utils.RetryConfig {
	cfg := utils.DefaultRetryConfig()
	cfg.PermanentErrors = []error{
		apperrors.ErrValidation,
		apperrors.ErrLeakage,
		apperrors.ErrDataNotFound,
		apperrors.ErrBaselineUnavailable,
		apperrors.ErrConfigInvalid,
	}
	return cfg
}

func (p *Pipeline) retry(ctx context.Context, fn func() error) error {
	return utils.Retry(ctx, p.retryCfg, fn)
}

func (p *Pipeline) observe(stage string, start time.Time, err error) {
	d := time.Since(start)
	logging.LogStage(p.logger, stage, d, err)
	if p.metrics != nil {
		p.metrics.ObserveStage(stage, d, err)
	}
}

// LoadEvents reads a seed file, replaces the stored calendar and switches the
// feature engine to it.
func (p *Pipeline) LoadEvents(ctx context.Context, path string) (*events.Registry, error) {
	start := time.Now()
	reg, err := events.Load(path)
	if err != nil {
		p.observe("events", start, err)
		return nil, err
	}
	if err := p.retry(ctx, func() error { return p.store.SaveEvents(ctx, reg) }); err != nil {
		p.observe("events", start, err)
		return nil, apperrors.Wrap(err, "store events")
	}
	p.registry = reg
	p.features = features.NewEngine(p.featureConfig(), reg, p.logger)
	if err := p.freshness.MarkSynced(store.SyncTypeEvents); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to record events freshness")
	}
	p.observe("events", start, nil)
	return reg, nil
}

// BuildFeatures builds feature rows from every stored observation up to the
// end of through's day.
func (p *Pipeline) BuildFeatures(ctx context.Context, through time.Time) ([]models.FeatureRow, features.QualityReport, error) {
	start := time.Now()
	var obs []models.Observation
	err := p.retry(ctx, func() error {
		var err error
		obs, err = p.store.GetObservations(ctx, time.Time{}, features.EndOfDay(through, p.loc))
		return err
	})
	if err != nil {
		p.observe("features", start, err)
		return nil, features.QualityReport{}, apperrors.Wrap(err, "load observations")
	}

	rows, err := p.features.Build(ctx, obs, through)
	if err != nil {
		p.observe("features", start, err)
		return nil, features.QualityReport{}, err
	}
	report := features.BuildQualityReport(rows)
	p.observe("features", start, nil)
	return rows, report, nil
}

// Regressors returns the configured baselines plus the production model.
func (p *Pipeline) Regressors() ([]backtest.Regressor, error) {
	prod, err := p.productionRegressor()
	if err != nil {
		return nil, err
	}
	out := []backtest.Regressor{prod}
	for _, name := range p.cfg.Backtest.Models {
		if name == prod.Name() {
			continue
		}
		r, err := backtest.NewBaseline(name)
		if err != nil {
			return nil, apperrors.NewValidationError("config", "backtest.models", name, err.Error())
		}
		out = append(out, r)
	}
	return out, nil
}

func (p *Pipeline) productionRegressor() (backtest.Regressor, error) {
	name := p.cfg.Backtest.ProductionModel
	if name == ml.ModelName {
		return ml.NewLinearRegressor(), nil
	}
	r, err := backtest.NewBaseline(name)
	if err != nil {
		return nil, apperrors.NewValidationError("config", "backtest.production_model", name, err.Error())
	}
	return r, nil
}
