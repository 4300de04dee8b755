package backtest

import (
	"fmt"
	"time"

	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/models"
)

// Fold is one walk-forward split: train on [TrainStart, TrainEnd], evaluate
// on TestDate = TrainEnd + HorizonDays.
type Fold struct {
	Index       int
	HorizonDays int
	TrainStart  time.Time
	TrainEnd    time.Time
	TestDate    time.Time
}

func (f Fold) String() string {
	return fmt.Sprintf("fold %d h=%d train=[%s..%s] test=%s", f.Index, f.HorizonDays,
		f.TrainStart.Format(models.DateLayout), f.TrainEnd.Format(models.DateLayout), f.TestDate.Format(models.DateLayout))
}

// GenerateFolds produces the folds for one horizon. The first cutoff is
// start + window - 1 and cutoffs advance by step until cutoff + horizon
// passes end. Fold indices start at firstIndex.
func GenerateFolds(start, end time.Time, windowDays, stepDays, horizonDays, firstIndex int) ([]Fold, error) {
	if windowDays < 1 {
		return nil, apperrors.NewValidationError("backtest", "window_days", windowDays, "must be >= 1")
	}
	if stepDays < 1 {
		return nil, apperrors.NewValidationError("backtest", "step_days", stepDays, "must be >= 1")
	}
	if horizonDays < 1 {
		return nil, apperrors.NewValidationError("backtest", "horizon_days", horizonDays, "must be >= 1")
	}
	if models.DaysBetween(start, end) <= 0 {
		return nil, nil
	}

	var folds []Fold
	cutoff := models.AddDays(start, windowDays-1)
	for {
		test := models.AddDays(cutoff, horizonDays)
		if models.DaysBetween(test, end) < 0 {
			break
		}
		folds = append(folds, Fold{
			Index:       firstIndex + len(folds),
			HorizonDays: horizonDays,
			TrainStart:  models.AddDays(cutoff, -(windowDays - 1)),
			TrainEnd:    cutoff,
			TestDate:    test,
		})
		cutoff = models.AddDays(cutoff, stepDays)
	}
	return folds, nil
}

// ValidateFold checks the temporal separation of a fold and, when given, of
// the training set built for it.
func ValidateFold(f Fold, set *TrainingSet) error {
	record := f.String()
	if models.DaysBetween(f.TrainEnd, f.TestDate) <= 0 {
		return apperrors.NewLeakageViolation("fold_separation", record, "train_end is not strictly before test_date")
	}
	if set == nil {
		return nil
	}
	for _, r := range set.Rows {
		if models.DaysBetween(r.ObsDate, f.TrainEnd) < 0 || models.DaysBetween(f.TrainStart, r.ObsDate) < 0 {
			return apperrors.NewLeakageViolation("train_window", record,
				fmt.Sprintf("row %s lies outside the training window", r.Key()))
		}
	}
	for i, target := range set.TargetDates {
		if set.Targets[i] == nil {
			continue
		}
		if models.DaysBetween(target, f.TrainEnd) < 0 {
			return apperrors.NewLeakageViolation("train_target", record,
				fmt.Sprintf("target dated %s is after train_end", target.Format(models.DateLayout)))
		}
	}
	return nil
}
