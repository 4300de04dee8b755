package monitoring

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"economy-forecaster/internal/models"
)

// DataDriftConfig configures the distribution-shift check.
type DataDriftConfig struct {
	RecentWindow time.Duration
	BaselineDays int
	ZThreshold   float64
	// Bands are the drifted-series fractions at which LOW..CRITICAL start.
	Bands []float64
}

// DefaultDataDriftConfig returns the default data drift settings.
func DefaultDataDriftConfig() DataDriftConfig {
	return DataDriftConfig{
		RecentWindow: 25 * time.Hour,
		BaselineDays: 30,
		ZThreshold:   2.0,
		Bands:        []float64{0.10, 0.25, 0.40, 0.60},
	}
}

// SeriesDrift is the mean-shift statistic for one series.
type SeriesDrift struct {
	Series       string
	RecentMean   *float64
	BaselineMean *float64
	BaselineStd  *float64
	Z            *float64
	RecentN      int
	BaselineN    int
	Drifted      bool
}

// DataDriftReport aggregates series mean shifts into a level.
type DataDriftReport struct {
	AsOf          time.Time
	SeriesChecked int
	SeriesDrifted int
	Fraction      float64
	Level         models.DriftLevel
	Series        []SeriesDrift
}

// CheckDataDrift compares each series' recent mean price with its baseline
// window. Outliers and observations after asOf are ignored.
func CheckDataDrift(obs []models.NormalizedObservation, asOf time.Time, cfg DataDriftConfig) DataDriftReport {
	recentFrom := asOf.Add(-cfg.RecentWindow)
	baselineFrom := asOf.AddDate(0, 0, -cfg.BaselineDays)

	recent := make(map[string][]float64)
	baseline := make(map[string][]float64)
	for _, o := range obs {
		if o.IsOutlier || o.ObservedAt.After(asOf) {
			continue
		}
		key := o.SeriesKey()
		switch {
		case !o.ObservedAt.Before(recentFrom):
			recent[key] = append(recent[key], o.Price)
		case !o.ObservedAt.Before(baselineFrom):
			baseline[key] = append(baseline[key], o.Price)
		}
	}

	keys := make(map[string]bool)
	for k := range recent {
		keys[k] = true
	}
	for k := range baseline {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	report := DataDriftReport{AsOf: asOf}
	for _, k := range sorted {
		sd := SeriesDrift{Series: k, RecentN: len(recent[k]), BaselineN: len(baseline[k])}
		if sd.RecentN > 0 {
			sd.RecentMean = models.Float(stat.Mean(recent[k], nil))
		}
		if sd.BaselineN > 0 {
			mean, std := stat.PopMeanStdDev(baseline[k], nil)
			sd.BaselineMean = models.Float(mean)
			sd.BaselineStd = models.Float(std)
			report.SeriesChecked++
		}
		if sd.RecentMean != nil && sd.BaselineMean != nil && *sd.BaselineStd > 1e-6 {
			z := (*sd.RecentMean - *sd.BaselineMean) / *sd.BaselineStd
			sd.Z = &z
			sd.Drifted = math.Abs(z) > cfg.ZThreshold
		}
		if sd.Drifted {
			report.SeriesDrifted++
		}
		report.Series = append(report.Series, sd)
	}

	if report.SeriesChecked > 0 {
		report.Fraction = float64(report.SeriesDrifted) / float64(report.SeriesChecked)
	}
	report.Level = classifyFraction(report.Fraction, cfg.Bands)
	return report
}

func classifyFraction(fraction float64, bands []float64) models.DriftLevel {
	level := models.DriftNone
	for i, b := range bands {
		if fraction >= b {
			level = models.DriftLevel(i + 1)
		}
	}
	if level > models.DriftCritical {
		level = models.DriftCritical
	}
	return level
}
