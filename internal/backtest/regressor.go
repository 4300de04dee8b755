// Package backtest evaluates regressors with walk-forward folds and
// aggregates their error per horizon.
package backtest

import (
	"context"
	"time"

	"economy-forecaster/internal/models"
)

// TrainingSet is the supervised input for one series in one fold. Targets[i]
// is the price HorizonDays after Rows[i], present only when that date is on
// or before TrainEnd.
type TrainingSet struct {
	Rows        []models.FeatureRow
	Targets     []*float64
	TargetDates []time.Time
	HorizonDays int
	TrainEnd    time.Time
}

// Model is a fitted regressor.
type Model interface {
	// Predict returns one forecast per origin row, HorizonDays ahead.
	Predict(rows []models.FeatureRow) ([]float64, error)
}

// Regressor fits models. Implementations must not retain the training set.
type Regressor interface {
	Name() string
	Fit(ctx context.Context, set TrainingSet) (Model, error)
}

// BuildTrainingSet assembles a training set from a series' rows. Rows must be
// in ascending date order; rows outside [trainStart, trainEnd] are dropped and
// targets that would fall after trainEnd are left absent.
func BuildTrainingSet(rows []models.FeatureRow, trainStart, trainEnd time.Time, horizonDays int) TrainingSet {
	byDate := make(map[string]*float64, len(rows))
	for _, r := range rows {
		byDate[r.ObsDate.Format(models.DateLayout)] = r.PriceMean
	}

	set := TrainingSet{HorizonDays: horizonDays, TrainEnd: trainEnd}
	for _, r := range rows {
		if models.DaysBetween(trainStart, r.ObsDate) < 0 || models.DaysBetween(r.ObsDate, trainEnd) < 0 {
			continue
		}
		targetDate := models.AddDays(r.ObsDate, horizonDays)
		var target *float64
		if models.DaysBetween(targetDate, trainEnd) >= 0 {
			target = byDate[targetDate.Format(models.DateLayout)]
		}
		set.Rows = append(set.Rows, r)
		set.Targets = append(set.Targets, target)
		set.TargetDates = append(set.TargetDates, targetDate)
	}
	return set
}

// PricedRows counts rows carrying a price.
func (s TrainingSet) PricedRows() int {
	n := 0
	for _, r := range s.Rows {
		if r.PriceMean != nil {
			n++
		}
	}
	return n
}

// Prices returns the non-nil prices of the training rows in order.
func (s TrainingSet) Prices() []float64 {
	out := make([]float64, 0, len(s.Rows))
	for _, r := range s.Rows {
		if r.PriceMean != nil {
			out = append(out, *r.PriceMean)
		}
	}
	return out
}

// Supervised returns the rows and targets that have a known target.
func (s TrainingSet) Supervised() ([]models.FeatureRow, []float64) {
	var rows []models.FeatureRow
	var ys []float64
	for i, t := range s.Targets {
		if t == nil {
			continue
		}
		rows = append(rows, s.Rows[i])
		ys = append(ys, *t)
	}
	return rows, ys
}
