// Package monitoring detects forecast drift against backtest baselines and
// maps it to uncertainty multipliers and retrain signals.
package monitoring

import (
	"fmt"

	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/models"
)

// Policy maps MAE ratios to drift levels and levels to CI multipliers.
// Thresholds[i] is the lowest ratio at level i+1 (LOW..CRITICAL);
// Multipliers[i] applies at level i (NONE..CRITICAL).
type Policy struct {
	Thresholds        []float64
	Multipliers       []float64
	UnknownMultiplier float64
	RetrainLevel      models.DriftLevel
	AllowAutoRetrain  bool
}

// DefaultPolicy returns the default policy table.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds:        []float64{1.2, 1.5, 2.0, 3.0},
		Multipliers:       []float64{1.0, 1.2, 1.5, 2.0, 3.0},
		UnknownMultiplier: 3.0,
		RetrainLevel:      models.DriftHigh,
	}
}

// Validate checks the table is well-formed: thresholds strictly increasing
// and positive, multipliers non-decreasing and at least 1, and the unknown
// multiplier no narrower than the widest level.
func (p Policy) Validate() error {
	levels := int(models.DriftCritical) + 1
	if len(p.Thresholds) != levels-1 {
		return apperrors.NewValidationError("drift_policy", "thresholds", p.Thresholds,
			fmt.Sprintf("want %d thresholds", levels-1))
	}
	if len(p.Multipliers) != levels {
		return apperrors.NewValidationError("drift_policy", "multipliers", p.Multipliers,
			fmt.Sprintf("want %d multipliers", levels))
	}
	for i, t := range p.Thresholds {
		if t <= 0 || (i > 0 && t <= p.Thresholds[i-1]) {
			return apperrors.NewValidationError("drift_policy", "thresholds", p.Thresholds, "must be positive and strictly increasing")
		}
	}
	for i, m := range p.Multipliers {
		if m < 1 || (i > 0 && m < p.Multipliers[i-1]) {
			return apperrors.NewValidationError("drift_policy", "multipliers", p.Multipliers, "must be >= 1 and non-decreasing")
		}
	}
	if p.UnknownMultiplier < p.Multipliers[len(p.Multipliers)-1] {
		return apperrors.NewValidationError("drift_policy", "unknown_multiplier", p.UnknownMultiplier,
			"must not be narrower than the widest level multiplier")
	}
	if !p.RetrainLevel.Known() {
		return apperrors.NewValidationError("drift_policy", "retrain_level", p.RetrainLevel.String(), "must be a known level")
	}
	return nil
}

// Classify maps a live/baseline MAE ratio to a known level.
func (p Policy) Classify(ratio float64) models.DriftLevel {
	level := models.DriftNone
	for i, t := range p.Thresholds {
		if ratio >= t {
			level = models.DriftLevel(i + 1)
		}
	}
	return level
}

// Multiplier returns the CI multiplier for level. Unknown levels get the
// widest multiplier.
func (p Policy) Multiplier(level models.DriftLevel) float64 {
	if !level.Known() || int(level) >= len(p.Multipliers) {
		return p.UnknownMultiplier
	}
	return p.Multipliers[level]
}

// Decision is the policy outcome for one drift level.
type Decision struct {
	Level              models.DriftLevel
	Multiplier         float64
	RetrainRecommended bool
	AutoRetrain        bool
}

// Evaluate returns the multiplier and retrain flags for level. Auto-retrain
// is only signalled when allowed and the level is critical.
func (p Policy) Evaluate(level models.DriftLevel) Decision {
	return Decision{
		Level:              level,
		Multiplier:         p.Multiplier(level),
		RetrainRecommended: level.Known() && level >= p.RetrainLevel,
		AutoRetrain:        p.AllowAutoRetrain && level == models.DriftCritical,
	}
}
