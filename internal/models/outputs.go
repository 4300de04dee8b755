package models

import "time"

// DriftCheckResult is the outcome of one drift evaluation for one horizon.
type DriftCheckResult struct {
	AsOf                  time.Time
	Horizon               int
	LiveMAE               *float64
	BaselineMAE           *float64
	Ratio                 *float64
	Level                 DriftLevel
	UncertaintyMultiplier float64
	RetrainRecommended    bool
	NLive                 int
	CheckedAt             time.Time
}

// ForecastOutput is a point forecast with a calibrated confidence interval.
type ForecastOutput struct {
	ID                string
	RunID             string
	EntityID          string
	Realm             string
	Category          Category
	Horizon           int
	TargetDate        time.Time
	Point             float64
	CILower           float64
	CIUpper           float64
	ConfidencePct     float64
	MultiplierApplied float64
	ModelName         string
	GeneratedAt       time.Time
	InputsAsOf        time.Time
	// ColdStart marks a forecast whose interval carries cold-start widening.
	ColdStart bool
}

// CIWidthPct returns the interval width relative to the point forecast.
func (f ForecastOutput) CIWidthPct() float64 {
	if f.Point <= 0 {
		return 1
	}
	return (f.CIUpper - f.CILower) / f.Point
}

// ScoreComponents are the individual 0-100 inputs to a recommendation score.
type ScoreComponents struct {
	Opportunity float64 `json:"opportunity"`
	Liquidity   float64 `json:"liquidity"`
	Volatility  float64 `json:"volatility"`
	EventBoost  float64 `json:"event_boost"`
	Uncertainty float64 `json:"uncertainty"`
}

// RecommendationOutput is a ranked action for one entity.
type RecommendationOutput struct {
	ForecastID  string
	EntityID    string
	Realm       string
	Category    Category
	Horizon     int
	Action      Action
	Score       float64
	Rank        int
	ROI         float64
	Components  ScoreComponents
	Reasoning   string
	GeneratedAt time.Time
	InputsAsOf  time.Time
	ExpiresAt   time.Time
}
