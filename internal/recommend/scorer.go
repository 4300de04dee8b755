// Package recommend scores calibrated forecasts and ranks them into actions.
package recommend

import (
	"fmt"
	"math"
	"strings"

	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/models"
)

// Weights defines the weight of each component in the composite score.
// Volatility and Uncertainty are subtracted.
type Weights struct {
	Opportunity float64
	Liquidity   float64
	Volatility  float64
	EventBoost  float64
	Uncertainty float64
}

// DefaultWeights returns the default component weights.
func DefaultWeights() Weights {
	return Weights{
		Opportunity: 0.35,
		Liquidity:   0.20,
		Volatility:  0.20,
		EventBoost:  0.15,
		Uncertainty: 0.10,
	}
}

// Thresholds drive action classification.
type Thresholds struct {
	BuyROI           float64
	SellROI          float64
	AvoidUncertainty float64
	AvoidCV          float64
}

// DefaultThresholds returns the default action thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{BuyROI: 0.10, SellROI: 0.10, AvoidUncertainty: 0.80, AvoidCV: 0.80}
}

// Signals is the market and event context of a forecast's origin row.
type Signals struct {
	CurrentPrice *float64
	Volume       *float64
	RollingStd   *float64
	Events       models.EventColumns

	ColdStart          bool
	TransferConfidence *float64
}

// SignalsFromRow extracts scoring signals from a feature row.
func SignalsFromRow(r models.FeatureRow) Signals {
	return Signals{
		CurrentPrice: r.PriceMean,
		Volume:       r.Volume,
		RollingStd:   r.RollingStd[7],
		Events:       r.Events,

		ColdStart:          r.ColdStart,
		TransferConfidence: r.TransferConfidence,
	}
}

// Scored is a forecast with its components, raw ratios and action.
type Scored struct {
	Forecast       models.ForecastOutput
	Components     models.ScoreComponents
	ROI            float64
	CV             float64
	UncertaintyPct float64
	Score          float64
	Action         models.Action
	Reasoning      string
}

// Scorer combines forecast and signal components into a score and action.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
}

// NewScorer creates a scorer with default weights and thresholds.
func NewScorer() *Scorer {
	return &Scorer{weights: DefaultWeights(), thresholds: DefaultThresholds()}
}

// NewScorerWithWeights creates a scorer with custom weights and thresholds.
func NewScorerWithWeights(w Weights, t Thresholds) (*Scorer, error) {
	for name, v := range map[string]float64{
		"opportunity": w.Opportunity, "liquidity": w.Liquidity, "volatility": w.Volatility,
		"event_boost": w.EventBoost, "uncertainty": w.Uncertainty,
	} {
		if v < 0 || math.IsNaN(v) {
			return nil, apperrors.NewValidationError("scoring", name+"_weight", v, "must be >= 0")
		}
	}
	if t.BuyROI <= 0 || t.SellROI <= 0 || t.AvoidUncertainty <= 0 || t.AvoidCV <= 0 {
		return nil, apperrors.NewValidationError("scoring", "thresholds", t, "must be positive")
	}
	return &Scorer{weights: w, thresholds: t}, nil
}

// weakTransfer is the transfer confidence below which a cold-start series'
// volatility penalty is raised by coldStartPenalty.
const (
	weakTransfer     = 0.3
	coldStartPenalty = 1.5
)

var severityBoost = map[models.Severity]float64{
	models.SeverityNegligible: 2,
	models.SeverityMinor:      5,
	models.SeverityModerate:   15,
	models.SeverityMajor:      30,
	models.SeverityCritical:   50,
}

// Score computes the components, composite score and action for f.
func (s *Scorer) Score(f models.ForecastOutput, sig Signals) Scored {
	out := Scored{Forecast: f}

	current := f.Point
	if sig.CurrentPrice != nil && *sig.CurrentPrice > 0 {
		current = *sig.CurrentPrice
	}
	if current > 0 {
		out.ROI = (f.Point - current) / current
	}
	if f.Point > 0 {
		out.UncertaintyPct = (f.CIUpper - f.CILower) / f.Point
	} else {
		out.UncertaintyPct = 1
	}
	if sig.RollingStd != nil && current > 0 {
		out.CV = *sig.RollingStd / current
	}

	liquidity := 10.0
	if sig.Volume != nil && *sig.Volume > 0 {
		liquidity = clamp(*sig.Volume / 10)
	}
	mult := f.MultiplierApplied
	if mult < 1 {
		mult = 1
	}

	volatility := 100 * out.UncertaintyPct
	if sig.ColdStart && (sig.TransferConfidence == nil || *sig.TransferConfidence < weakTransfer) {
		volatility *= coldStartPenalty
	}

	out.Components = models.ScoreComponents{
		Opportunity: clamp(200 * out.ROI),
		Liquidity:   liquidity,
		Volatility:  clamp(volatility),
		EventBoost:  clamp(eventBoost(sig.Events)),
		Uncertainty: clamp(50 * (mult - 1)),
	}
	c, w := out.Components, s.weights
	out.Score = w.Opportunity*c.Opportunity + w.Liquidity*c.Liquidity - w.Volatility*c.Volatility +
		w.EventBoost*c.EventBoost - w.Uncertainty*c.Uncertainty
	out.Action = s.action(out)
	out.Reasoning = reasoning(out, sig)
	return out
}

// action applies avoid > buy > sell > hold.
func (s *Scorer) action(sc Scored) models.Action {
	switch {
	case sc.UncertaintyPct >= s.thresholds.AvoidUncertainty || sc.CV >= s.thresholds.AvoidCV:
		return models.ActionAvoid
	case sc.ROI >= s.thresholds.BuyROI:
		return models.ActionBuy
	case sc.ROI <= -s.thresholds.SellROI:
		return models.ActionSell
	default:
		return models.ActionHold
	}
}

// eventBoost is the severity boost of an active event, signed by the
// expected impact, or a linear anticipation ramp for an event within a week.
func eventBoost(ev models.EventColumns) float64 {
	if ev.Active {
		base := 10.0
		if ev.SeverityMax != nil {
			if b, ok := severityBoost[*ev.SeverityMax]; ok {
				base = b
			}
		}
		switch {
		case ev.ArchetypeImpact == nil:
			return 0.3 * base
		case *ev.ArchetypeImpact == models.ImpactSpike:
			return base
		case *ev.ArchetypeImpact == models.ImpactCrash:
			return -0.5 * base
		default:
			return 0.3 * base
		}
	}
	if ev.DaysToNext != nil && *ev.DaysToNext <= 7 {
		return 15 * (1 - float64(*ev.DaysToNext)/7)
	}
	return 0
}

func reasoning(sc Scored, sig Signals) string {
	var parts []string
	ev := sig.Events
	h := sc.Forecast.Horizon
	switch {
	case sc.ROI >= 0.20:
		parts = append(parts, fmt.Sprintf("Strong upward forecast: %+.1f%% expected %dd return", sc.ROI*100, h))
	case sc.ROI >= 0.10:
		parts = append(parts, fmt.Sprintf("Moderate upward forecast: %+.1f%% expected %dd return", sc.ROI*100, h))
	case sc.ROI <= -0.10:
		parts = append(parts, fmt.Sprintf("Downward forecast: %+.1f%% expected %dd return", sc.ROI*100, h))
	default:
		parts = append(parts, fmt.Sprintf("Flat forecast: %+.1f%% expected %dd return", sc.ROI*100, h))
	}

	if sc.CV < 0.05 {
		parts = append(parts, fmt.Sprintf("Very stable market (CV %.1f%%)", sc.CV*100))
	} else if sc.CV > 0.40 {
		parts = append(parts, fmt.Sprintf("High volatility risk (CV %.1f%%)", sc.CV*100))
	}

	if ev.Active && ev.SeverityMax != nil {
		parts = append(parts, fmt.Sprintf("Active %s event affects demand", *ev.SeverityMax))
	} else if ev.DaysToNext != nil && *ev.DaysToNext <= 7 {
		parts = append(parts, fmt.Sprintf("Event in %dd, consider positioning early", *ev.DaysToNext))
	}

	if sc.UncertaintyPct < 0.15 {
		parts = append(parts, fmt.Sprintf("Narrow CI (%.1f%% width)", sc.UncertaintyPct*100))
	} else if sc.UncertaintyPct > 0.60 {
		parts = append(parts, fmt.Sprintf("Wide CI (%.1f%% width)", sc.UncertaintyPct*100))
	}
	if sc.Forecast.MultiplierApplied > 1 {
		parts = append(parts, fmt.Sprintf("Interval widened %.1fx for drift", sc.Forecast.MultiplierApplied))
	}
	if sig.ColdStart {
		if sig.TransferConfidence != nil {
			parts = append(parts, fmt.Sprintf("Cold-start item: transfer prior applied (confidence %.0f%%)", *sig.TransferConfidence*100))
		} else {
			parts = append(parts, "Cold-start item: no transfer prior, use caution")
		}
	}
	return strings.Join(parts, "; ")
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
