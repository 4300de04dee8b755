// Package ml provides the production regressor: a ridge-regularized linear
// model over the temporal feature row, solved with gonum.
package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"economy-forecaster/internal/backtest"
	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/models"
)

// ModelName is the name the production regressor registers under.
const ModelName = "linear"

// FeatureNames lists the design matrix columns in order.
var FeatureNames = []string{
	"intercept",
	"price",
	"lag_1",
	"lag_7",
	"rolling_mean_7",
	"rolling_std_7",
	"pct_change_7",
	"event_active",
	"pre_event_window",
	"impact",
}

// LinearRegressor fits a ridge regression of the h-day-ahead price on the
// feature row.
type LinearRegressor struct {
	// Lambda is the ridge penalty, scaled by the number of training rows.
	Lambda float64
	// MinRows is the minimum number of supervised rows.
	MinRows int
}

// NewLinearRegressor returns a regressor with default settings.
func NewLinearRegressor() *LinearRegressor {
	return &LinearRegressor{Lambda: 1e-4, MinRows: 10}
}

func (r *LinearRegressor) Name() string { return ModelName }

// Fit solves (XᵀX + λnI)β = Xᵀy over the rows that have a target.
func (r *LinearRegressor) Fit(ctx context.Context, set backtest.TrainingSet) (backtest.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, ys := set.Supervised()

	var data []float64
	var targets []float64
	for i, row := range rows {
		x, ok := FeatureVector(row)
		if !ok {
			continue
		}
		data = append(data, x...)
		targets = append(targets, ys[i])
	}
	n, p := len(targets), len(FeatureNames)
	if n < r.MinRows || n == 0 {
		return nil, apperrors.NewInsufficientHistoryError(ModelName, n, r.MinRows)
	}

	X := mat.NewDense(n, p, data)
	y := mat.NewVecDense(n, targets)

	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	for j := 1; j < p; j++ {
		xtx.Set(j, j, xtx.At(j, j)+r.Lambda*float64(n))
	}
	var xty mat.VecDense
	xty.MulVec(X.T(), y)

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("solve normal equations: %w", err)
		}
	}

	coef := make([]float64, p)
	for j := range coef {
		coef[j] = beta.AtVec(j)
	}
	return &LinearModel{
		Features:  append([]string(nil), FeatureNames...),
		Coef:      coef,
		Horizon:   set.HorizonDays,
		NTrain:    n,
		TrainEnd:  set.TrainEnd,
		TrainedAt: time.Now().UTC(),
	}, nil
}

// LinearModel is a fitted LinearRegressor.
type LinearModel struct {
	Features  []string  `msgpack:"features"`
	Coef      []float64 `msgpack:"coef"`
	Horizon   int       `msgpack:"horizon"`
	NTrain    int       `msgpack:"n_train"`
	TrainEnd  time.Time `msgpack:"train_end"`
	TrainedAt time.Time `msgpack:"trained_at"`
}

// Predict returns the forecast for each origin row, floored at zero.
func (m *LinearModel) Predict(rows []models.FeatureRow) ([]float64, error) {
	if len(m.Coef) != len(FeatureNames) {
		return nil, fmt.Errorf("model has %d coefficients, want %d", len(m.Coef), len(FeatureNames))
	}
	out := make([]float64, len(rows))
	for i, row := range rows {
		x, ok := FeatureVector(row)
		if !ok {
			return nil, fmt.Errorf("row %s has no price or price proxy", row.Key())
		}
		v := 0.0
		for j := range x {
			v += m.Coef[j] * x[j]
		}
		if v < 0 {
			v = 0
		}
		out[i] = v
	}
	return out, nil
}

// FeatureVector builds the design row for r. Missing lags and rolling means
// fall back to the row's base price; it reports false when no base price
// exists.
func FeatureVector(r models.FeatureRow) ([]float64, bool) {
	base, ok := basePrice(r)
	if !ok {
		return nil, false
	}
	or := func(v *float64, fallback float64) float64 {
		if v == nil {
			return fallback
		}
		return *v
	}
	flag := func(b bool) float64 {
		if b {
			return 1
		}
		return 0
	}
	impact := 0.0
	if r.Events.ImpactMagnitude != nil {
		impact = *r.Events.ImpactMagnitude * base
	}
	return []float64{
		1,
		base,
		or(r.Lags[1], base),
		or(r.Lags[7], base),
		or(r.RollingMean[7], base),
		or(r.RollingStd[7], 0),
		or(r.PctChange[7], 0) * base,
		flag(r.Events.Active),
		flag(r.Events.PreEventWindow),
		impact,
	}, true
}

func basePrice(r models.FeatureRow) (float64, bool) {
	for _, v := range []*float64{r.PriceMean, r.Lags[1], r.RollingMean[7]} {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}
