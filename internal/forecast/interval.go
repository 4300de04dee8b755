// Package forecast turns fitted models into point forecasts with confidence
// intervals calibrated against observed drift.
package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	apperrors "economy-forecaster/internal/errors"
)

// IntervalConfig controls the heuristic confidence interval.
type IntervalConfig struct {
	// ConfidenceLevel is the two-sided coverage, e.g. 0.80.
	ConfidenceLevel float64
	// FallbackPct is the half-width as a fraction of the point when no
	// rolling std is available.
	FallbackPct float64
	// MinHalfWidthPct floors the half-width as a fraction of the point.
	MinHalfWidthPct float64
	// ColdStartWidening over the transfer confidence widens cold-start
	// intervals; ColdStartMaxWidening caps it and applies when no transfer
	// prior exists. A zero cap disables widening.
	ColdStartWidening    float64
	ColdStartMaxWidening float64
}

// DefaultIntervalConfig returns an 80% interval with a 20% fallback, a 5%
// floor and cold-start widening of 1.5/confidence capped at 3x.
func DefaultIntervalConfig() IntervalConfig {
	return IntervalConfig{
		ConfidenceLevel:      0.80,
		FallbackPct:          0.20,
		MinHalfWidthPct:      0.05,
		ColdStartWidening:    1.5,
		ColdStartMaxWidening: 3.0,
	}
}

// Validate checks the interval settings.
func (c IntervalConfig) Validate() error {
	if c.ConfidenceLevel <= 0 || c.ConfidenceLevel >= 1 {
		return apperrors.NewValidationError("forecast", "confidence_level", c.ConfidenceLevel, "must be in (0, 1)")
	}
	if c.FallbackPct <= 0 {
		return apperrors.NewValidationError("forecast", "fallback_std_pct", c.FallbackPct, "must be positive")
	}
	if c.MinHalfWidthPct < 0 {
		return apperrors.NewValidationError("forecast", "min_half_width_pct", c.MinHalfWidthPct, "must not be negative")
	}
	if c.ColdStartMaxWidening != 0 && (c.ColdStartMaxWidening < 1 || c.ColdStartWidening <= 0) {
		return apperrors.NewValidationError("forecast", "cold_start_widening", c.ColdStartWidening,
			"needs a positive widening and a cap of at least 1")
	}
	return nil
}

// Z returns the two-sided standard normal quantile for the confidence level.
func (c IntervalConfig) Z() float64 {
	return distuv.UnitNormal.Quantile(0.5 + c.ConfidenceLevel/2)
}

// ColdStartFactor returns the half-width factor for a cold-start series:
// ColdStartWidening over the transfer confidence, or the cap without a
// transfer prior. The factor stays within [1, ColdStartMaxWidening].
func (c IntervalConfig) ColdStartFactor(transferConfidence *float64) float64 {
	if c.ColdStartMaxWidening <= 0 {
		return 1
	}
	factor := c.ColdStartMaxWidening
	if transferConfidence != nil && *transferConfidence > 0 {
		factor = c.ColdStartWidening / *transferConfidence
	}
	return math.Max(1, math.Min(factor, c.ColdStartMaxWidening))
}

// Interval returns the bounds around point for a series with enough
// history. See WidenedInterval.
func (c IntervalConfig) Interval(point float64, rollingStd *float64, multiplier float64) (lower, upper float64) {
	return c.WidenedInterval(point, rollingStd, 1, multiplier)
}

// WidenedInterval returns the bounds around point. The base half-width is z
// times the 7-day rolling std, or FallbackPct of the point without one. It is
// scaled by the cold-start widening, floored at MinHalfWidthPct of the point
// and then scaled by the drift multiplier. The lower bound never goes below
// zero.
func (c IntervalConfig) WidenedInterval(point float64, rollingStd *float64, widening, multiplier float64) (lower, upper float64) {
	var half float64
	if rollingStd != nil && *rollingStd > 0 {
		half = c.Z() * *rollingStd
	} else {
		half = c.FallbackPct * math.Abs(point)
	}
	if widening > 1 {
		half *= widening
	}
	half = math.Max(half, c.MinHalfWidthPct*math.Abs(point))
	if multiplier > 1 {
		half *= multiplier
	}
	return math.Max(0, point-half), point + half
}
