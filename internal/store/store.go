// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"economy-forecaster/internal/backtest"
	"economy-forecaster/internal/events"
	"economy-forecaster/internal/models"
)

// Sink is the append-only destination for pipeline outputs.
type Sink interface {
	// Backtest runs
	SaveBacktestRun(ctx context.Context, run *backtest.Run) error
	GetBacktestRun(ctx context.Context, id string) (*RunRecord, error)
	ListBacktestRuns(ctx context.Context, limit int) ([]RunRecord, error)
	GetBacktestPredictions(ctx context.Context, runID string) ([]backtest.Prediction, error)
	LatestBaselines(ctx context.Context) (runID string, baselines map[int]*float64, err error)

	// Drift
	SaveDriftChecks(ctx context.Context, checks []models.DriftCheckResult) error
	GetDriftChecks(ctx context.Context, r DateRange) ([]models.DriftCheckResult, error)

	// Forecasts & recommendations
	SaveForecasts(ctx context.Context, forecasts []models.ForecastOutput) error
	GetForecasts(ctx context.Context, filter ForecastFilter) ([]models.ForecastOutput, error)
	SaveRecommendations(ctx context.Context, runID string, recs []models.RecommendationOutput) error
	GetRecommendations(ctx context.Context, filter RecommendationFilter) ([]models.RecommendationOutput, error)
}

// DataStore defines the interface for data persistence.
type DataStore interface {
	Sink

	// Observations
	SaveObservations(ctx context.Context, obs []models.Observation) (int, error)
	GetObservations(ctx context.Context, from, to time.Time) ([]models.Observation, error)
	ObservationsFreshness(ctx context.Context) (time.Time, error)

	// Events calendar
	SaveEvents(ctx context.Context, reg *events.Registry) error
	LoadRegistry(ctx context.Context) (*events.Registry, error)

	// Model artifacts
	SaveModelArtifact(ctx context.Context, a *ModelArtifact) error
	GetModelArtifact(ctx context.Context, name string, horizon int) (*ModelArtifact, error)

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// RunRecord is the persisted summary of a backtest run.
type RunRecord struct {
	ID             string
	Status         backtest.RunStatus
	Config         backtest.Config
	StartedAt      time.Time
	FinishedAt     time.Time
	Error          string
	Folds          int
	SkippedFolds   int
	Predictions    int
	Metrics        []backtest.Metrics
	BaselineErrors map[int]*float64
}

// ModelArtifact is a serialized fitted model.
type ModelArtifact struct {
	Name      string
	Horizon   int
	RunID     string
	Data      []byte
	CreatedAt time.Time
}

// DateRange represents a date range for queries. A zero bound is open.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ForecastFilter represents filters for querying forecasts.
type ForecastFilter struct {
	RunID    string
	EntityID string
	Realm    string
	Horizon  int
	// TargetFrom and TargetTo bound the target date, inclusive.
	TargetFrom time.Time
	TargetTo   time.Time
	Limit      int
}

// RecommendationFilter represents filters for querying recommendations.
type RecommendationFilter struct {
	RunID    string
	Category models.Category
	Action   models.Action
	Limit    int
}
