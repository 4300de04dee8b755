package monitoring

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"economy-forecaster/internal/models"
)

var asOf = time.Date(2024, 9, 30, 12, 0, 0, 0, time.UTC)

func baselines(pairs ...float64) map[int]*float64 {
	out := make(map[int]*float64)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[int(pairs[i])] = models.Float(pairs[i+1])
	}
	return out
}

func newMonitor(t *testing.T, b map[int]*float64) *Monitor {
	t.Helper()
	m, err := NewMonitor(DefaultPolicy(), 7, b, zerolog.Nop())
	require.NoError(t, err)
	return m
}

func observeErrors(t *testing.T, m *Monitor, h int, errs ...float64) {
	t.Helper()
	for i, e := range errs {
		require.NoError(t, m.Observe(LivePair{
			EntityID: "ore", Realm: "eu", Horizon: h,
			TargetDate: asOf.AddDate(0, 0, -(i % 7)),
			Actual:     100 + e, Predicted: 100,
		}))
	}
}

func TestDriftLevelFromRatio(t *testing.T) {
	cases := []struct {
		name       string
		liveErr    float64
		level      models.DriftLevel
		multiplier float64
		retrain    bool
	}{
		{"within baseline", 10, models.DriftNone, 1.0, false},
		{"low", 13, models.DriftLow, 1.2, false},
		{"moderate", 17, models.DriftModerate, 1.5, false},
		{"high", 22, models.DriftHigh, 2.0, true},
		{"critical", 31, models.DriftCritical, 3.0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newMonitor(t, baselines(7, 10))
			observeErrors(t, m, 7, tc.liveErr, tc.liveErr, tc.liveErr)

			res := m.CheckHorizon(7, asOf)
			assert.Equal(t, tc.level, res.Level)
			assert.Equal(t, tc.multiplier, res.UncertaintyMultiplier)
			assert.Equal(t, tc.retrain, res.RetrainRecommended)
			require.NotNil(t, res.Ratio)
			assert.InDelta(t, tc.liveErr/10, *res.Ratio, 1e-9)
			assert.Equal(t, 3, res.NLive)
		})
	}
}

func TestClassifyBandEdges(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		ratio float64
		level models.DriftLevel
	}{
		{0, models.DriftNone},
		{math.Nextafter(1.2, 0), models.DriftNone},
		{1.2, models.DriftLow},
		{math.Nextafter(1.5, 0), models.DriftLow},
		{1.5, models.DriftModerate},
		{math.Nextafter(2.0, 0), models.DriftModerate},
		{2.0, models.DriftHigh},
		{math.Nextafter(3.0, 0), models.DriftHigh},
		{3.0, models.DriftCritical},
		{50, models.DriftCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.level, p.Classify(tc.ratio), "ratio %v", tc.ratio)
	}
}

func TestModerateDriftFromLiveAndBaselineMAE(t *testing.T) {
	m := newMonitor(t, baselines(1, 2.0))
	observeErrors(t, m, 1, 3.6, 3.6, 3.6, 3.6)

	res := m.CheckHorizon(1, asOf)
	require.NotNil(t, res.Ratio)
	assert.InDelta(t, 1.8, *res.Ratio, 1e-9)
	assert.Equal(t, models.DriftModerate, res.Level)
	assert.Equal(t, 1.5, res.UncertaintyMultiplier)
	assert.False(t, res.RetrainRecommended)
}

func TestMissingBaselineIsUnknownAndWidest(t *testing.T) {
	m := newMonitor(t, map[int]*float64{7: nil, 14: models.Float(0)})
	observeErrors(t, m, 7, 1, 1)

	for _, h := range []int{7, 14} {
		res := m.CheckHorizon(h, asOf)
		assert.Equal(t, models.DriftUnknown, res.Level)
		assert.Equal(t, 3.0, res.UncertaintyMultiplier)
		assert.Nil(t, res.Ratio)
		assert.False(t, res.RetrainRecommended)
	}
}

func TestNoLivePairsIsNone(t *testing.T) {
	m := newMonitor(t, baselines(1, 4.5))
	res := m.CheckHorizon(1, asOf)
	assert.Equal(t, models.DriftNone, res.Level)
	assert.Nil(t, res.LiveMAE)
	assert.Equal(t, 1.0, res.UncertaintyMultiplier)
}

func TestWindowExcludesOldAndFuturePairs(t *testing.T) {
	m := newMonitor(t, baselines(1, 1))
	require.NoError(t, m.Observe(LivePair{Horizon: 1, TargetDate: asOf, Actual: 11, Predicted: 10}))
	require.NoError(t, m.Observe(LivePair{Horizon: 1, TargetDate: asOf.AddDate(0, 0, -6), Actual: 11, Predicted: 10}))
	// outside (asOf-7d, asOf]
	require.NoError(t, m.Observe(LivePair{Horizon: 1, TargetDate: asOf.AddDate(0, 0, -7), Actual: 100, Predicted: 10}))
	require.NoError(t, m.Observe(LivePair{Horizon: 1, TargetDate: asOf.AddDate(0, 0, 1), Actual: 100, Predicted: 10}))

	res := m.CheckHorizon(1, asOf)
	assert.Equal(t, 2, res.NLive)
	assert.InDelta(t, 1.0, *res.LiveMAE, 1e-9)

	assert.Equal(t, 1, m.Prune(asOf))
}

func TestObserveRejectsBadPairs(t *testing.T) {
	m := newMonitor(t, nil)
	assert.Error(t, m.Observe(LivePair{Horizon: 0, Actual: 1, Predicted: 1}))
}

func TestCheckOrdersHorizonsAndUpdatesMetrics(t *testing.T) {
	m := newMonitor(t, baselines(14, 2, 1, 2, 7, 2))
	metrics := NewMetrics()
	m.SetMetrics(metrics)
	observeErrors(t, m, 7, 7, 7)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Observe(LivePair{Horizon: 1, TargetDate: asOf, Actual: 2, Predicted: 1})
		}()
	}
	wg.Wait()

	results, err := m.Check(context.Background(), asOf)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []int{1, 7, 14}, []int{results[0].Horizon, results[1].Horizon, results[2].Horizon})
	assert.Equal(t, 8, results[0].NLive)
	assert.Equal(t, models.DriftCritical, results[1].Level)

	assert.Equal(t, float64(models.DriftCritical), testutil.ToFloat64(metrics.DriftLevel.WithLabelValues("7")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RetrainSignals.WithLabelValues("7")))
	assert.Equal(t, 3.0, MultiplierFor(results, 7, m.Policy()))
	assert.Equal(t, 3.0, MultiplierFor(results, 28, m.Policy()))
}

func TestPolicyValidation(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.Thresholds = []float64{1.2, 1.1, 2.0, 3.0}
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.Multipliers = []float64{1.0, 1.5, 1.2, 2.0, 3.0}
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.UnknownMultiplier = 2.0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.Thresholds = p.Thresholds[:3]
	assert.Error(t, p.Validate())
}

func TestAutoRetrainOnlyWhenAllowedAndCritical(t *testing.T) {
	p := DefaultPolicy()
	assert.False(t, p.Evaluate(models.DriftCritical).AutoRetrain)

	p.AllowAutoRetrain = true
	assert.True(t, p.Evaluate(models.DriftCritical).AutoRetrain)
	assert.False(t, p.Evaluate(models.DriftHigh).AutoRetrain)
	assert.True(t, p.Evaluate(models.DriftHigh).RetrainRecommended)
	assert.False(t, p.Evaluate(models.DriftUnknown).RetrainRecommended)
}

// Property: the multiplier never decreases as the error ratio grows, and is
// never narrower than 1.
func TestMultiplierMonotoneInRatio(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	p := DefaultPolicy()

	properties.Property("ratio a <= b implies multiplier(a) <= multiplier(b)", prop.ForAll(
		func(a, b float64) bool {
			if a > b {
				a, b = b, a
			}
			ma := p.Multiplier(p.Classify(a))
			mb := p.Multiplier(p.Classify(b))
			return ma >= 1 && ma <= mb && mb <= p.UnknownMultiplier
		},
		gen.Float64Range(0, 10),
		gen.Float64Range(0, 10),
	))

	properties.TestingRun(t)
}
