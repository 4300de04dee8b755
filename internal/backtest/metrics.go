package backtest

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"economy-forecaster/internal/models"
)

// Slice keys for the event-window breakdown.
const (
	SliceEventWindow    = "event_window"
	SliceNonEventWindow = "non_event_window"
)

// mapeFloor excludes near-zero actuals from MAPE.
const mapeFloor = 0.01

// Metrics aggregates the error of one model at one horizon.
type Metrics struct {
	Model               string   `json:"model"`
	Horizon             int      `json:"horizon"`
	NPredictions        int      `json:"n_predictions"`
	NEvaluated          int      `json:"n_evaluated"`
	MAE                 *float64 `json:"mae"`
	RMSE                *float64 `json:"rmse"`
	MAPE                *float64 `json:"mape"`
	DirectionalAccuracy *float64 `json:"directional_accuracy"`
	MeanActual          *float64 `json:"mean_actual"`
	MeanPredicted       *float64 `json:"mean_predicted"`
}

// ComputeMetrics aggregates predictions for one model and horizon. Only
// predictions with an actual value are evaluated.
func ComputeMetrics(model string, horizon int, preds []Prediction) Metrics {
	m := Metrics{Model: model, Horizon: horizon, NPredictions: len(preds)}

	var actual, predicted, absErr, sqErr, pctErr []float64
	var dirTotal, dirHits int
	for _, p := range preds {
		if p.Actual == nil {
			continue
		}
		a, f := *p.Actual, p.Predicted
		actual = append(actual, a)
		predicted = append(predicted, f)
		absErr = append(absErr, math.Abs(a-f))
		sqErr = append(sqErr, (a-f)*(a-f))
		if math.Abs(a) >= mapeFloor {
			pctErr = append(pctErr, math.Abs(a-f)/math.Abs(a))
		}
		if p.LastKnown != nil && a != *p.LastKnown {
			dirTotal++
			da := sign(a - *p.LastKnown)
			if dp := sign(f - *p.LastKnown); dp != 0 && dp == da {
				dirHits++
			}
		}
	}

	m.NEvaluated = len(actual)
	if m.NEvaluated == 0 {
		return m
	}
	m.MAE = ptr(stat.Mean(absErr, nil))
	m.RMSE = ptr(math.Sqrt(floats.Sum(sqErr) / float64(len(sqErr))))
	if len(pctErr) > 0 {
		m.MAPE = ptr(stat.Mean(pctErr, nil))
	}
	if dirTotal > 0 {
		m.DirectionalAccuracy = ptr(float64(dirHits) / float64(dirTotal))
	}
	m.MeanActual = ptr(stat.Mean(actual, nil))
	m.MeanPredicted = ptr(stat.Mean(predicted, nil))
	return m
}

// AggregateMetrics groups predictions by model and horizon, ordered by
// horizon then model name.
func AggregateMetrics(preds []Prediction) []Metrics {
	type key struct {
		model   string
		horizon int
	}
	groups := make(map[key][]Prediction)
	for _, p := range preds {
		k := key{p.Model, p.Horizon}
		groups[k] = append(groups[k], p)
	}
	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].horizon != keys[j].horizon {
			return keys[i].horizon < keys[j].horizon
		}
		return keys[i].model < keys[j].model
	})

	out := make([]Metrics, 0, len(keys))
	for _, k := range keys {
		out = append(out, ComputeMetrics(k.model, k.horizon, groups[k]))
	}
	return out
}

// Slice is the error of one model at one horizon within a subset of a run's
// predictions.
type Slice struct {
	Key string `json:"key"`
	Metrics
}

// SliceByCategory breaks metrics down by root category. Predictions without
// a category are grouped under "unknown".
func SliceByCategory(preds []Prediction) []Slice {
	return sliceBy(preds, func(p Prediction) string {
		if p.Category == "" {
			return "unknown"
		}
		return string(models.Category(p.Category).Root())
	})
}

// SliceByEventWindow splits metrics into predictions whose test day fell in
// an active event window and those that did not.
func SliceByEventWindow(preds []Prediction) []Slice {
	return sliceBy(preds, func(p Prediction) string {
		if p.EventActive {
			return SliceEventWindow
		}
		return SliceNonEventWindow
	})
}

// sliceBy groups predictions by key, then by model and horizon, ordered by
// key, horizon and model name.
func sliceBy(preds []Prediction, keyOf func(Prediction) string) []Slice {
	groups := make(map[string][]Prediction)
	for _, p := range preds {
		k := keyOf(p)
		groups[k] = append(groups[k], p)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Slice
	for _, k := range keys {
		for _, m := range AggregateMetrics(groups[k]) {
			out = append(out, Slice{Key: k, Metrics: m})
		}
	}
	return out
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func ptr(v float64) *float64 { return &v }
