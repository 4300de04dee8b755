package recommend

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"economy-forecaster/internal/models"
)

var generated = time.Date(2024, 9, 1, 6, 0, 0, 0, time.UTC)

func forecast(entity string, cat models.Category, h int, point, lo, hi, mult float64) models.ForecastOutput {
	return models.ForecastOutput{
		ID: entity + "-" + string(rune('0'+h)), EntityID: entity, Realm: "eu", Category: cat,
		Horizon: h, Point: point, CILower: lo, CIUpper: hi, MultiplierApplied: mult,
		GeneratedAt: generated, InputsAsOf: generated.Add(-6 * time.Hour),
	}
}

func current(p float64) Signals { return Signals{CurrentPrice: models.Float(p)} }

func TestWideIntervalAvoidsRegardlessOfROI(t *testing.T) {
	sc := NewScorer().Score(forecast("ore", models.CategoryMat, 7, 100, 40, 140, 1), current(50))
	assert.Equal(t, models.ActionAvoid, sc.Action)
	assert.InDelta(t, 1.0, sc.ROI, 1e-9)
	assert.Equal(t, 100.0, sc.Components.Volatility)
}

func TestModestUpsideWithNarrowIntervalBuys(t *testing.T) {
	sc := NewScorer().Score(forecast("ore", models.CategoryMat, 7, 112, 103.6, 120.4, 1), current(100))
	assert.Equal(t, models.ActionBuy, sc.Action)
	assert.InDelta(t, 0.12, sc.ROI, 1e-9)
	assert.InDelta(t, 0.15, sc.UncertaintyPct, 1e-9)
}

func TestActionPrecedence(t *testing.T) {
	s := NewScorer()
	cases := []struct {
		name   string
		point  float64
		cur    float64
		std    *float64
		action models.Action
	}{
		{"sell", 85, 100, nil, models.ActionSell},
		{"hold", 105, 100, nil, models.ActionHold},
		{"high cv avoids", 150, 100, models.Float(85), models.ActionAvoid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := current(tc.cur)
			sig.RollingStd = tc.std
			f := forecast("x", models.CategoryMat, 1, tc.point, tc.point*0.95, tc.point*1.05, 1)
			assert.Equal(t, tc.action, s.Score(f, sig).Action)
		})
	}
}

func TestComponentsAndWeightedScore(t *testing.T) {
	sev, impact := models.SeverityMajor, models.ImpactSpike
	sig := Signals{
		CurrentPrice: models.Float(100),
		Volume:       models.Float(400),
		RollingStd:   models.Float(2),
		Events:       models.EventColumns{Active: true, SeverityMax: &sev, ArchetypeImpact: &impact},
	}
	sc := NewScorer().Score(forecast("ore", models.CategoryMat, 7, 110, 104.5, 115.5, 1.5), sig)

	assert.InDelta(t, 20, sc.Components.Opportunity, 1e-9)
	assert.InDelta(t, 40, sc.Components.Liquidity, 1e-9)
	assert.InDelta(t, 10, sc.Components.Volatility, 1e-9)
	assert.InDelta(t, 30, sc.Components.EventBoost, 1e-9)
	assert.InDelta(t, 25, sc.Components.Uncertainty, 1e-9)
	assert.InDelta(t, 15, sc.Score, 1e-9)
	assert.InDelta(t, 0.02, sc.CV, 1e-9)
	assert.Equal(t, models.ActionBuy, sc.Action)
	assert.Contains(t, sc.Reasoning, "Active major event")
	assert.Contains(t, sc.Reasoning, "widened 1.5x")
}

func TestEventBoost(t *testing.T) {
	crash, minor := models.ImpactCrash, models.SeverityMinor
	assert.Equal(t, 0.0, clamp(eventBoost(models.EventColumns{Active: true, SeverityMax: &minor, ArchetypeImpact: &crash})))
	assert.InDelta(t, 1.5, eventBoost(models.EventColumns{Active: true, SeverityMax: &minor}), 1e-9)
	assert.InDelta(t, 3.0, eventBoost(models.EventColumns{Active: true}), 1e-9)
	assert.InDelta(t, 15.0, eventBoost(models.EventColumns{DaysToNext: models.Int(0)}), 1e-9)
	assert.InDelta(t, 0.0, eventBoost(models.EventColumns{DaysToNext: models.Int(7)}), 1e-9)
	assert.Equal(t, 0.0, eventBoost(models.EventColumns{DaysToNext: models.Int(9)}))
}

func TestUnknownLiquidityBaseline(t *testing.T) {
	sc := NewScorer().Score(forecast("ore", models.CategoryMat, 1, 10, 9, 11, 1), Signals{})
	assert.Equal(t, 10.0, sc.Components.Liquidity)
	assert.Equal(t, 0.0, sc.ROI)
}

func TestCustomWeightsValidated(t *testing.T) {
	w := DefaultWeights()
	w.Liquidity = -1
	_, err := NewScorerWithWeights(w, DefaultThresholds())
	assert.Error(t, err)

	_, err = NewScorerWithWeights(DefaultWeights(), Thresholds{})
	assert.Error(t, err)
}

func scored(entity string, cat models.Category, h int, score, unc float64, action models.Action) Scored {
	return Scored{
		Forecast:   forecast(entity, cat, h, 10, 9, 11, 1),
		Score:      score,
		Components: models.ScoreComponents{Uncertainty: unc},
		Action:     action,
	}
}

func TestRankOrdersWithinCategory(t *testing.T) {
	in := []Scored{
		scored("b", models.CategoryMat, 7, 20, 5, models.ActionBuy),
		scored("a", models.CategoryMat, 7, 20, 5, models.ActionBuy),
		scored("c", models.CategoryMat, 7, 20, 1, models.ActionHold),
		scored("d", models.CategoryMat, 1, 30, 0, models.ActionBuy),
		scored("z", models.CategoryConsumable, 1, 5, 0, models.ActionSell),
	}
	out := Rank(in, RankOptions{}, zerolog.Nop())
	require.Len(t, out, 5)

	assert.Equal(t, "z", out[0].EntityID)
	assert.Equal(t, 1, out[0].Rank)

	var order []string
	for _, r := range out[1:] {
		order = append(order, r.EntityID)
	}
	assert.Equal(t, []string{"d", "c", "a", "b"}, order)
	assert.Equal(t, 4, out[4].Rank)
	assert.Equal(t, generated.Add(7*24*time.Hour), out[4].ExpiresAt)
	assert.Equal(t, "b-7", out[4].ForecastID)
}

func TestRankKeepsBestHorizonPerEntity(t *testing.T) {
	in := []Scored{
		scored("ore", models.CategoryMat, 7, 10, 0, models.ActionBuy),
		scored("ore", models.CategoryMat, 1, 10, 0, models.ActionBuy),
		scored("ore", models.CategoryMat, 28, 9, 0, models.ActionBuy),
		scored("herb", models.CategoryMat, 28, 12, 0, models.ActionBuy),
		scored("herb", models.CategoryMat, 7, 14, 0, models.ActionHold),
	}
	out := Rank(in, RankOptions{}, zerolog.Nop())
	require.Len(t, out, 2)
	assert.Equal(t, "herb", out[0].EntityID)
	assert.Equal(t, 7, out[0].Horizon)
	assert.Equal(t, 1, out[1].Horizon)

	filtered := Rank(in, RankOptions{TopN: 1, Actions: []models.Action{models.ActionBuy}}, zerolog.Nop())
	require.Len(t, filtered, 1)
	assert.Equal(t, "herb", filtered[0].EntityID)
	assert.Equal(t, 28, filtered[0].Horizon)
}

// Property: scoring is a pure function of its inputs, every component stays
// within [0, 100], and the action follows avoid > buy > sell > hold.
func TestScoreDeterministicAndBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)
	s := NewScorer()

	properties.Property("score is reproducible and action respects precedence", prop.ForAll(
		func(point, cur, widthPct, std, mult, volume float64) bool {
			half := point * widthPct / 2
			f := forecast("x", models.CategoryGem, 7, point, point-half, point+half, mult)
			sig := Signals{CurrentPrice: &cur, RollingStd: &std, Volume: &volume}

			a, b := s.Score(f, sig), s.Score(f, sig)
			if a.Score != b.Score || a.Action != b.Action || a.Components != b.Components {
				return false
			}
			c := a.Components
			for _, v := range []float64{c.Opportunity, c.Liquidity, c.Volatility, c.EventBoost, c.Uncertainty} {
				if v < 0 || v > 100 {
					return false
				}
			}
			switch {
			case a.UncertaintyPct >= 0.80 || a.CV >= 0.80:
				return a.Action == models.ActionAvoid
			case a.ROI >= 0.10:
				return a.Action == models.ActionBuy
			case a.ROI <= -0.10:
				return a.Action == models.ActionSell
			default:
				return a.Action == models.ActionHold
			}
		},
		gen.Float64Range(1, 1000),
		gen.Float64Range(1, 1000),
		gen.Float64Range(0, 2),
		gen.Float64Range(0, 300),
		gen.Float64Range(1, 3),
		gen.Float64Range(0, 5000),
	))

	properties.TestingRun(t)
}

func TestColdStartRaisesVolatilityPenalty(t *testing.T) {
	f := forecast("ore", models.CategoryMat, 7, 100, 90, 110, 1)
	s := NewScorer()

	warm := s.Score(f, current(100))
	assert.InDelta(t, 20, warm.Components.Volatility, 1e-9)
	assert.NotContains(t, warm.Reasoning, "Cold-start")

	sig := current(100)
	sig.ColdStart = true
	bare := s.Score(f, sig)
	assert.InDelta(t, 30, bare.Components.Volatility, 1e-9)
	assert.Less(t, bare.Score, warm.Score)
	assert.Contains(t, bare.Reasoning, "no transfer prior")

	sig.TransferConfidence = models.Float(0.2)
	assert.InDelta(t, 30, s.Score(f, sig).Components.Volatility, 1e-9)

	sig.TransferConfidence = models.Float(0.8)
	strong := s.Score(f, sig)
	assert.InDelta(t, 20, strong.Components.Volatility, 1e-9)
	assert.Contains(t, strong.Reasoning, "confidence 80%")

	wide := forecast("ore", models.CategoryMat, 7, 100, 50, 130, 1)
	sig.TransferConfidence = nil
	assert.Equal(t, 100.0, s.Score(wide, sig).Components.Volatility)
}

func TestSignalsFromRowCarryColdStart(t *testing.T) {
	row := models.FeatureRow{ColdStart: true, TransferConfidence: models.Float(0.6), PriceMean: models.Float(12)}
	sig := SignalsFromRow(row)
	assert.True(t, sig.ColdStart)
	require.NotNil(t, sig.TransferConfidence)
	assert.Equal(t, 0.6, *sig.TransferConfidence)
}
