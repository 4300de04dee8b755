package features

import (
	"fmt"
	"sort"
	"time"

	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/models"
)

// QualityReport summarizes an assembled feature set.
type QualityReport struct {
	TotalRows       int
	Series          int
	DateStart       *time.Time
	DateEnd         *time.Time
	Missingness     map[string]float64
	DuplicateKeys   int
	GapSeries       int
	LeakageWarnings []string
	Clean           bool
}

// CheckQuality fails on the first row whose event or as-of columns would
// imply future information, or on duplicate row keys. It never repairs rows.
func CheckQuality(rows []models.FeatureRow) error {
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		key := r.Key()
		if seen[key] {
			return apperrors.NewValidationError(key, "row_key", key, "duplicate feature row")
		}
		seen[key] = true

		if r.Events.DaysToNext != nil && *r.Events.DaysToNext < 0 {
			return apperrors.NewLeakageViolation("event_days_to_next", key,
				fmt.Sprintf("negative distance %d to next event", *r.Events.DaysToNext))
		}
		if r.Events.DaysUntilMajor != nil && *r.Events.DaysUntilMajor < 0 {
			return apperrors.NewLeakageViolation("days_until_major_event", key,
				fmt.Sprintf("negative distance %d to major event", *r.Events.DaysUntilMajor))
		}
		if !r.AsOf.IsZero() && models.DaysBetween(r.ObsDate, r.AsOf) != 0 {
			return apperrors.NewLeakageViolation("as_of", key,
				fmt.Sprintf("as_of %s is not on the observation day", r.AsOf.Format(time.RFC3339)))
		}
	}
	return nil
}

// BuildQualityReport inspects rows without failing. Missingness in lag and
// rolling columns is expected at the start of each series and does not make
// the report unclean.
func BuildQualityReport(rows []models.FeatureRow) QualityReport {
	report := QualityReport{
		TotalRows:   len(rows),
		Missingness: make(map[string]float64),
	}
	if len(rows) == 0 {
		report.Clean = true
		return report
	}

	nulls := make(map[string]int)
	count := func(name string, isNil bool) {
		if isNil {
			nulls[name]++
		} else if _, ok := nulls[name]; !ok {
			nulls[name] = 0
		}
	}

	seen := make(map[string]bool, len(rows))
	lastDay := make(map[string]time.Time)
	gapped := make(map[string]bool)

	for _, r := range rows {
		key := r.Key()
		if seen[key] {
			report.DuplicateKeys++
		}
		seen[key] = true

		if report.DateStart == nil || r.ObsDate.Before(*report.DateStart) {
			d := r.ObsDate
			report.DateStart = &d
		}
		if report.DateEnd == nil || r.ObsDate.After(*report.DateEnd) {
			d := r.ObsDate
			report.DateEnd = &d
		}

		series := r.SeriesKey()
		if prev, ok := lastDay[series]; ok && models.DaysBetween(prev, r.ObsDate) > 1 {
			gapped[series] = true
		}
		lastDay[series] = r.ObsDate

		count("price_mean", r.PriceMean == nil)
		for n, v := range r.Lags {
			count(fmt.Sprintf("price_lag_%dd", n), v == nil)
		}
		for n, v := range r.RollingMean {
			count(fmt.Sprintf("price_roll_mean_%dd", n), v == nil)
		}
		for n, v := range r.RollingStd {
			count(fmt.Sprintf("price_roll_std_%dd", n), v == nil)
		}
		for n, v := range r.PctChange {
			count(fmt.Sprintf("price_pct_change_%dd", n), v == nil)
		}
		count("event_days_to_next", r.Events.DaysToNext == nil)
		count("event_days_since_last", r.Events.DaysSinceLast == nil)
		count("days_until_major_event", r.Events.DaysUntilMajor == nil)

		if r.Events.DaysToNext != nil && *r.Events.DaysToNext < 0 {
			report.LeakageWarnings = append(report.LeakageWarnings,
				fmt.Sprintf("%s: event_days_to_next=%d", key, *r.Events.DaysToNext))
		}
	}

	for name, n := range nulls {
		report.Missingness[name] = float64(n) / float64(len(rows))
	}
	report.Series = len(lastDay)
	report.GapSeries = len(gapped)
	sort.Strings(report.LeakageWarnings)
	report.Clean = report.DuplicateKeys == 0 && len(report.LeakageWarnings) == 0
	return report
}
