package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"economy-forecaster/internal/events"
	"economy-forecaster/internal/models"
)

func obs(entity string, at time.Time, price float64, outlier bool) models.NormalizedObservation {
	return models.NormalizedObservation{
		Observation: models.Observation{EntityID: entity, Realm: "eu", Category: models.CategoryMat, ObservedAt: at, Price: price},
		IsOutlier:   outlier,
	}
}

func TestDataDriftFlagsShiftedSeries(t *testing.T) {
	var in []models.NormalizedObservation
	for i := 2; i < 12; i++ {
		p := 99.0
		if i%2 == 0 {
			p = 101
		}
		at := asOf.AddDate(0, 0, -i)
		in = append(in, obs("ore", at, p, false), obs("herb", at, p, false))
	}
	in = append(in,
		obs("ore", asOf.Add(-time.Hour), 110, false),
		obs("herb", asOf.Add(-time.Hour), 100.5, false),
		obs("herb", asOf.Add(-2*time.Hour), 500, true),
		obs("herb", asOf.Add(time.Hour), 500, false),
	)

	report := CheckDataDrift(in, asOf, DefaultDataDriftConfig())
	require.Len(t, report.Series, 2)
	assert.Equal(t, 2, report.SeriesChecked)
	assert.Equal(t, 1, report.SeriesDrifted)
	assert.InDelta(t, 0.5, report.Fraction, 1e-9)
	assert.Equal(t, models.DriftHigh, report.Level)

	herb, ore := report.Series[0], report.Series[1]
	assert.Equal(t, "herb/eu", herb.Series)
	assert.False(t, herb.Drifted)
	assert.Equal(t, 1, herb.RecentN)
	assert.InDelta(t, 0.5, *herb.Z, 1e-9)
	assert.True(t, ore.Drifted)
	assert.InDelta(t, 10.0, *ore.Z, 1e-9)
}

func TestDataDriftWithoutBaseline(t *testing.T) {
	report := CheckDataDrift([]models.NormalizedObservation{obs("ore", asOf, 5, false)}, asOf, DefaultDataDriftConfig())
	assert.Equal(t, 0, report.SeriesChecked)
	assert.Equal(t, models.DriftNone, report.Level)
	assert.Nil(t, report.Series[0].Z)
}

func TestClassifyFractionBands(t *testing.T) {
	bands := DefaultDataDriftConfig().Bands
	assert.Equal(t, models.DriftNone, classifyFraction(0.05, bands))
	assert.Equal(t, models.DriftLow, classifyFraction(0.10, bands))
	assert.Equal(t, models.DriftModerate, classifyFraction(0.3, bands))
	assert.Equal(t, models.DriftCritical, classifyFraction(0.9, bands))
}

func shockRegistry(t *testing.T) *events.Registry {
	t.Helper()
	announced := asOf.AddDate(0, -1, 0)
	late := time.Date(2024, 10, 1, 0, 0, 1, 0, time.UTC)
	day := models.Day(asOf, time.UTC)
	end := day.AddDate(0, 0, 2)
	reg, err := events.NewRegistry([]models.Event{
		{Slug: "faire", Name: "Faire", Type: models.EventHoliday, Scope: models.ScopeGlobal,
			Severity: models.SeverityMinor, StartDate: day.AddDate(0, 0, -1), EndDate: &end, AnnouncedAt: &announced},
		{Slug: "patch", Name: "Patch", Type: models.EventMajorPatch, Scope: models.ScopeGlobal,
			Severity: models.SeverityMajor, StartDate: day.AddDate(0, 0, 3), AnnouncedAt: &announced},
		{Slug: "secret", Name: "Secret", Type: models.EventMajorPatch, Scope: models.ScopeGlobal,
			Severity: models.SeverityCritical, StartDate: day, AnnouncedAt: &late},
		{Slug: "far", Name: "Far", Type: models.EventMajorPatch, Scope: models.ScopeGlobal,
			Severity: models.SeverityCritical, StartDate: day.AddDate(0, 0, 20), AnnouncedAt: &announced},
	}, nil)
	require.NoError(t, err)
	return reg
}

func TestEventShockUsesKnownEventsOnly(t *testing.T) {
	report := CheckEventShock(shockRegistry(t), asOf, 7, time.UTC)

	require.Len(t, report.Active, 1)
	assert.Equal(t, "faire", report.Active[0].Slug)
	require.Len(t, report.Upcoming, 1)
	assert.Equal(t, "patch", report.Upcoming[0].Slug)
	assert.True(t, report.ShockActive)

	quiet := CheckEventShock(shockRegistry(t), asOf, 2, time.UTC)
	assert.False(t, quiet.ShockActive)
	assert.False(t, CheckEventShock(nil, asOf, 7, nil).ShockActive)
}

func TestCompositeLevel(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, models.DriftHigh, Composite(p, models.DriftLow, models.DriftHigh, false).Level)
	assert.Equal(t, models.DriftModerate, Composite(p, models.DriftLow, models.DriftNone, true).Level)
	assert.Equal(t, models.DriftCritical, Composite(p, models.DriftCritical, models.DriftNone, true).Level)

	unknown := Composite(p, models.DriftUnknown, models.DriftCritical, true)
	assert.Equal(t, models.DriftUnknown, unknown.Level)
	assert.Equal(t, 3.0, unknown.Multiplier)
}
