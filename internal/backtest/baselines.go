package backtest

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/models"
)

// Baseline model names.
const (
	ModelLastValue     = "last_value"
	ModelRollingMean   = "rolling_mean"
	ModelLinearTrend   = "linear_trend"
	ModelSeasonalNaive = "seasonal_naive"
	ModelVolatility    = "volatility"
)

// constantModel predicts the same value for every origin row.
type constantModel float64

func (m constantModel) Predict(rows []models.FeatureRow) ([]float64, error) {
	out := make([]float64, len(rows))
	for i := range out {
		out[i] = float64(m)
	}
	return out, nil
}

// tailPrices returns the non-nil prices among the last window rows.
func tailPrices(rows []models.FeatureRow, window int) []float64 {
	if window > 0 && len(rows) > window {
		rows = rows[len(rows)-window:]
	}
	var out []float64
	for _, r := range rows {
		if r.PriceMean != nil {
			out = append(out, *r.PriceMean)
		}
	}
	return out
}

// LastValue predicts the most recent observed price.
type LastValue struct{}

func (LastValue) Name() string { return ModelLastValue }

func (LastValue) Fit(_ context.Context, set TrainingSet) (Model, error) {
	for i := len(set.Rows) - 1; i >= 0; i-- {
		if p := set.Rows[i].PriceMean; p != nil {
			return constantModel(*p), nil
		}
	}
	return nil, apperrors.NewInsufficientHistoryError(ModelLastValue, 0, 1)
}

// RollingMean predicts the simple moving average of the last Window days.
type RollingMean struct {
	Window  int
	MinRows int
}

func (m RollingMean) Name() string { return ModelRollingMean }

func (m RollingMean) Fit(_ context.Context, set TrainingSet) (Model, error) {
	prices := tailPrices(set.Rows, m.Window)
	if len(prices) < m.MinRows || len(prices) == 0 {
		return nil, apperrors.NewInsufficientHistoryError(ModelRollingMean, len(prices), m.MinRows)
	}
	sma := talib.Sma(prices, len(prices))
	return constantModel(sma[len(sma)-1]), nil
}

// LinearTrend extrapolates the least-squares line through the last Window
// priced days by HorizonDays steps. Forecasts are floored at zero.
type LinearTrend struct {
	Window  int
	MinRows int
}

func (m LinearTrend) Name() string { return ModelLinearTrend }

func (m LinearTrend) Fit(_ context.Context, set TrainingSet) (Model, error) {
	prices := tailPrices(set.Rows, m.Window)
	n := len(prices)
	if n < m.MinRows || n < 2 {
		return nil, apperrors.NewInsufficientHistoryError(ModelLinearTrend, n, max(m.MinRows, 2))
	}
	end := talib.LinearReg(prices, n)[n-1]
	slope := talib.LinearRegSlope(prices, n)[n-1]
	return constantModel(math.Max(0, end+slope*float64(set.HorizonDays))), nil
}

// SeasonalNaive predicts the training mean for the target's weekday, falling
// back to the overall mean when that weekday has fewer than MinRows prices.
type SeasonalNaive struct {
	MinRows int
}

func (m SeasonalNaive) Name() string { return ModelSeasonalNaive }

type seasonalModel struct {
	byWeekday map[int][]float64
	overall   float64
	horizon   int
	minRows   int
}

func (s seasonalModel) Predict(rows []models.FeatureRow) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, r := range rows {
		dow := int(models.AddDays(r.ObsDate, s.horizon).Weekday())
		if prices := s.byWeekday[dow]; len(prices) >= s.minRows && len(prices) > 0 {
			out[i] = stat.Mean(prices, nil)
		} else {
			out[i] = s.overall
		}
	}
	return out, nil
}

func (m SeasonalNaive) Fit(_ context.Context, set TrainingSet) (Model, error) {
	byWeekday := make(map[int][]float64)
	var all []float64
	for _, r := range set.Rows {
		if r.PriceMean == nil {
			continue
		}
		dow := int(r.ObsDate.Weekday())
		byWeekday[dow] = append(byWeekday[dow], *r.PriceMean)
		all = append(all, *r.PriceMean)
	}
	if len(all) == 0 {
		return nil, apperrors.NewInsufficientHistoryError(ModelSeasonalNaive, 0, 1)
	}
	return seasonalModel{
		byWeekday: byWeekday,
		overall:   stat.Mean(all, nil),
		horizon:   set.HorizonDays,
		minRows:   m.MinRows,
	}, nil
}

// Volatility predicts the rolling mean and exposes the rolling coefficient
// of variation as its volatility estimate.
type Volatility struct {
	Window  int
	MinRows int
}

func (m Volatility) Name() string { return ModelVolatility }

// VolatilityModel is a fitted Volatility baseline.
type VolatilityModel struct {
	Mean          float64
	VolatilityPct *float64
}

func (v VolatilityModel) Predict(rows []models.FeatureRow) ([]float64, error) {
	return constantModel(v.Mean).Predict(rows)
}

func (m Volatility) Fit(_ context.Context, set TrainingSet) (Model, error) {
	prices := tailPrices(set.Rows, m.Window)
	if len(prices) < m.MinRows || len(prices) == 0 {
		return nil, apperrors.NewInsufficientHistoryError(ModelVolatility, len(prices), m.MinRows)
	}
	n := len(prices)
	mean := talib.Sma(prices, n)[n-1]
	std := talib.StdDev(prices, n, 1.0)[n-1]
	fitted := VolatilityModel{Mean: mean}
	if mean > 0 {
		fitted.VolatilityPct = models.Float(std / mean)
	}
	return fitted, nil
}

// NewBaseline returns the baseline regressor registered under name.
func NewBaseline(name string) (Regressor, error) {
	switch name {
	case ModelLastValue:
		return LastValue{}, nil
	case ModelRollingMean:
		return RollingMean{Window: 7, MinRows: 3}, nil
	case ModelLinearTrend:
		return LinearTrend{Window: 14, MinRows: 5}, nil
	case ModelSeasonalNaive:
		return SeasonalNaive{MinRows: 2}, nil
	case ModelVolatility:
		return Volatility{Window: 7, MinRows: 3}, nil
	default:
		return nil, fmt.Errorf("unknown baseline model %q", name)
	}
}

// DefaultBaselines returns every baseline regressor.
func DefaultBaselines() []Regressor {
	names := []string{ModelLastValue, ModelRollingMean, ModelLinearTrend, ModelSeasonalNaive, ModelVolatility}
	out := make([]Regressor, 0, len(names))
	for _, n := range names {
		r, _ := NewBaseline(n)
		out = append(out, r)
	}
	return out
}
