package backtest

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "economy-forecaster/internal/errors"
)

func pred(actual *float64, predicted float64, last *float64) Prediction {
	return Prediction{Model: "m", Horizon: 1, Actual: actual, Predicted: predicted, LastKnown: last}
}

func f(v float64) *float64 { return &v }

func TestComputeMetrics(t *testing.T) {
	preds := []Prediction{
		pred(f(10), 12, f(9)),    // up, predicted up
		pred(f(8), 9, f(9)),      // down, predicted flat
		pred(f(0.001), 1, f(1)),  // excluded from MAPE
		pred(nil, 100, f(1)),     // not evaluated
		pred(f(5), 5, f(5)),      // unchanged, excluded from direction
	}
	m := ComputeMetrics("m", 1, preds)

	assert.Equal(t, 5, m.NPredictions)
	assert.Equal(t, 4, m.NEvaluated)
	require.NotNil(t, m.MAE)
	assert.InDelta(t, (2+1+0.999+0)/4.0, *m.MAE, 1e-9)
	require.NotNil(t, m.RMSE)
	assert.InDelta(t, math.Sqrt((4+1+0.999*0.999)/4), *m.RMSE, 1e-9)
	require.NotNil(t, m.MAPE)
	assert.InDelta(t, (0.2+0.125+0)/3, *m.MAPE, 1e-9)
	require.NotNil(t, m.DirectionalAccuracy)
	assert.InDelta(t, 1.0/3, *m.DirectionalAccuracy, 1e-9)
	assert.InDelta(t, (10+8+0.001+5)/4, *m.MeanActual, 1e-9)
}

func TestComputeMetricsWithoutActuals(t *testing.T) {
	m := ComputeMetrics("m", 7, []Prediction{pred(nil, 1, nil)})
	assert.Equal(t, 1, m.NPredictions)
	assert.Equal(t, 0, m.NEvaluated)
	assert.Nil(t, m.MAE)
	assert.Nil(t, m.DirectionalAccuracy)
}

func TestAggregateMetricsOrdering(t *testing.T) {
	preds := []Prediction{
		{Model: "b", Horizon: 7, Actual: f(1), Predicted: 1},
		{Model: "a", Horizon: 7, Actual: f(1), Predicted: 2},
		{Model: "b", Horizon: 1, Actual: f(1), Predicted: 3},
	}
	out := AggregateMetrics(preds)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"b", "a", "b"}, []string{out[0].Model, out[1].Model, out[2].Model})
	assert.Equal(t, []int{1, 7, 7}, []int{out[0].Horizon, out[1].Horizon, out[2].Horizon})
}

func fitPredict(t *testing.T, r Regressor, horizon int, prices ...float64) float64 {
	t.Helper()
	set := TrainingSet{Rows: dailyRows("x", epoch, prices...), HorizonDays: horizon}
	model, err := r.Fit(context.Background(), set)
	require.NoError(t, err)
	out, err := model.Predict(set.Rows[len(set.Rows)-1:])
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func TestBaselines(t *testing.T) {
	assert.Equal(t, 7.0, fitPredict(t, LastValue{}, 3, 1, 4, 7, -1))
	assert.InDelta(t, 5.0, fitPredict(t, RollingMean{Window: 7, MinRows: 3}, 1, 100, 2, 4, 6, 8, 3, 5, 7), 1e-9)
	assert.InDelta(t, 15.0, fitPredict(t, LinearTrend{Window: 14, MinRows: 5}, 5, 6, 7, 8, 9, 10), 1e-9)
	assert.Equal(t, 0.0, fitPredict(t, LinearTrend{Window: 14, MinRows: 2}, 10, 5, 4, 3))

	vol := Volatility{Window: 7, MinRows: 3}
	set := TrainingSet{Rows: dailyRows("x", epoch, 8, 12, 8, 12), HorizonDays: 1}
	model, err := vol.Fit(context.Background(), set)
	require.NoError(t, err)
	vm := model.(VolatilityModel)
	assert.InDelta(t, 10.0, vm.Mean, 1e-9)
	require.NotNil(t, vm.VolatilityPct)
	assert.InDelta(t, 0.2, *vm.VolatilityPct, 1e-9)
}

func TestSeasonalNaive(t *testing.T) {
	// epoch is a Monday; two weeks of prices equal to the weekday index.
	var prices []float64
	for i := 0; i < 14; i++ {
		prices = append(prices, float64(i%7))
	}
	// Origin is day 13 (Sunday); h=1 targets Monday.
	assert.Equal(t, 0.0, fitPredict(t, SeasonalNaive{MinRows: 2}, 1, prices...))
	assert.Equal(t, 3.0, fitPredict(t, SeasonalNaive{MinRows: 2}, 4, prices...))

	// With one week only, no weekday has two prices: fall back to the mean.
	assert.InDelta(t, 3.0, fitPredict(t, SeasonalNaive{MinRows: 2}, 1, prices[:7]...), 1e-9)
}

func TestBaselinesInsufficientHistory(t *testing.T) {
	set := TrainingSet{Rows: dailyRows("x", epoch, -1, 5, -1), HorizonDays: 1}
	for _, r := range DefaultBaselines() {
		if r.Name() == ModelLastValue || r.Name() == ModelSeasonalNaive {
			continue
		}
		_, err := r.Fit(context.Background(), set)
		assert.ErrorIs(t, err, apperrors.ErrInsufficientHistory, r.Name())
	}
	_, err := LastValue{}.Fit(context.Background(), TrainingSet{Rows: dailyRows("x", epoch, -1, -1)})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientHistory)
}

func slicePreds() []Prediction {
	return []Prediction{
		{Model: "linear", Horizon: 1, Category: "consumable.flask", Actual: f(10), Predicted: 12, EventActive: true},
		{Model: "linear", Horizon: 1, Category: "consumable.potion", Actual: f(10), Predicted: 11},
		{Model: "linear", Horizon: 1, Category: "mat", Actual: f(10), Predicted: 14, EventActive: true},
		{Model: "last_value", Horizon: 1, Category: "mat", Actual: f(10), Predicted: 10},
		{Model: "linear", Horizon: 7, Category: "", Actual: f(10), Predicted: 13},
	}
}

func TestSliceByCategory(t *testing.T) {
	out := SliceByCategory(slicePreds())
	require.Len(t, out, 4)

	assert.Equal(t, "consumable", out[0].Key)
	assert.Equal(t, "linear", out[0].Model)
	assert.Equal(t, 2, out[0].NEvaluated)
	assert.InDelta(t, 1.5, *out[0].MAE, 1e-9)

	assert.Equal(t, []string{"mat", "mat"}, []string{out[1].Key, out[2].Key})
	assert.Equal(t, []string{"last_value", "linear"}, []string{out[1].Model, out[2].Model})
	assert.InDelta(t, 4, *out[2].MAE, 1e-9)

	assert.Equal(t, "unknown", out[3].Key)
	assert.Equal(t, 7, out[3].Horizon)
}

func TestSliceByEventWindow(t *testing.T) {
	out := SliceByEventWindow(slicePreds())
	require.Len(t, out, 4)

	event := out[0]
	assert.Equal(t, SliceEventWindow, event.Key)
	assert.Equal(t, "linear", event.Model)
	assert.Equal(t, 2, event.NEvaluated)
	assert.InDelta(t, 3, *event.MAE, 1e-9)

	for _, s := range out[1:] {
		assert.Equal(t, SliceNonEventWindow, s.Key)
	}
	assert.Empty(t, SliceByEventWindow(nil))
}
