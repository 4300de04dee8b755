package features

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/events"
	"economy-forecaster/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func newEngine(t *testing.T, evs []models.Event, impacts []models.EventImpact) *Engine {
	t.Helper()
	reg, err := events.NewRegistry(evs, impacts)
	require.NoError(t, err)
	return NewEngine(DefaultConfig(), reg, zerolog.Nop())
}

func TestEndOfDay(t *testing.T) {
	eod := EndOfDay(*at("2024-07-10T03:00:00Z"), time.UTC)
	assert.Equal(t, 2024, eod.Year())
	assert.Equal(t, 10, eod.Day())
	assert.Equal(t, 23, eod.Hour())
	assert.True(t, eod.Before(day(2024, 7, 11)))
	assert.True(t, eod.After(*at("2024-07-10T23:59:59Z")))
}

func TestAnnouncementSameDayIsVisible(t *testing.T) {
	e := newEngine(t, []models.Event{{
		Slug: "patch", Name: "Patch", Type: models.EventMajorPatch, Scope: models.ScopeGlobal,
		Severity: models.SeverityMajor, StartDate: day(2024, 7, 20), AnnouncedAt: at("2024-07-10T17:00:00Z"),
	}}, nil)

	cols := e.EventColumnsAt(day(2024, 7, 10), models.CategoryConsumable)
	require.NotNil(t, cols.DaysToNext)
	assert.Equal(t, 10, *cols.DaysToNext)
	require.NotNil(t, cols.DaysUntilMajor)
	assert.Equal(t, 10, *cols.DaysUntilMajor)
	assert.False(t, cols.PreEventWindow)

	before := e.EventColumnsAt(day(2024, 7, 9), models.CategoryConsumable)
	assert.Nil(t, before.DaysToNext)
	assert.Nil(t, before.DaysUntilMajor)
}

func TestUnannouncedEventNeverAffectsFeatures(t *testing.T) {
	end := day(2024, 7, 25)
	e := newEngine(t, []models.Event{{
		Slug: "ghost", Name: "Ghost", Type: models.EventHotfix, Scope: models.ScopeGlobal,
		Severity: models.SeverityCritical, StartDate: day(2024, 7, 20), EndDate: &end,
	}}, nil)

	for d := day(2024, 7, 1); d.Before(day(2024, 8, 10)); d = d.AddDate(0, 0, 1) {
		assert.Equal(t, models.EventColumns{}, e.EventColumnsAt(d, models.CategoryGem), d.Format(models.DateLayout))
	}
}

func TestPreEventWindow(t *testing.T) {
	d := day(2024, 8, 1)
	mk := func(offset int, sev models.Severity) models.Event {
		return models.Event{
			Slug: "e", Name: "E", Type: models.EventMajorPatch, Scope: models.ScopeGlobal,
			Severity: sev, StartDate: d.AddDate(0, 0, offset), AnnouncedAt: at("2024-01-01T00:00:00Z"),
		}
	}

	cases := []struct {
		name     string
		event    models.Event
		days     *int
		inWindow bool
	}{
		{"major in five days", mk(5, models.SeverityMajor), models.Int(5), true},
		{"critical tomorrow", mk(1, models.SeverityCritical), models.Int(1), true},
		{"major in ten days", mk(10, models.SeverityMajor), models.Int(10), false},
		{"major today", mk(0, models.SeverityMajor), models.Int(0), false},
		{"moderate in three days", mk(3, models.SeverityModerate), nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t, []models.Event{tc.event}, nil)
			cols := e.EventColumnsAt(d, models.CategoryMat)
			assert.Equal(t, tc.days, cols.DaysUntilMajor)
			assert.Equal(t, tc.inWindow, cols.PreEventWindow)
		})
	}
}

func TestActiveEventColumns(t *testing.T) {
	end1 := day(2024, 8, 10)
	end2 := day(2024, 8, 5)
	past := day(2024, 7, 20)
	evs := []models.Event{
		{Slug: "older", Name: "Older", Type: models.EventHoliday, Scope: models.ScopeGlobal,
			Severity: models.SeverityModerate, StartDate: day(2024, 7, 28), EndDate: &end1, AnnouncedAt: at("2024-06-01T00:00:00Z")},
		{Slug: "newer", Name: "Newer", Type: models.EventBonusWeek, Scope: models.ScopeGlobal,
			Severity: models.SeverityMinor, StartDate: day(2024, 8, 1), EndDate: &end2, AnnouncedAt: at("2024-06-01T00:00:00Z")},
		{Slug: "done", Name: "Done", Type: models.EventHotfix, Scope: models.ScopeGlobal,
			Severity: models.SeverityMinor, StartDate: day(2024, 7, 18), EndDate: &past, AnnouncedAt: at("2024-06-01T00:00:00Z")},
	}
	impacts := []models.EventImpact{
		{EventSlug: "older", Category: models.CategoryConsumable, Direction: models.ImpactSpike, Magnitude: 0.3},
		{EventSlug: "newer", Category: models.CategoryConsumable, Direction: models.ImpactCrash, Magnitude: -0.1},
		{EventSlug: "older", Category: models.CategoryGear, Direction: models.ImpactMixed, Magnitude: 0.05},
	}
	e := newEngine(t, evs, impacts)

	cols := e.EventColumnsAt(day(2024, 8, 3), models.CategoryConsumable)
	assert.True(t, cols.Active)
	require.NotNil(t, cols.SeverityMax)
	assert.Equal(t, models.SeverityModerate, *cols.SeverityMax)
	require.NotNil(t, cols.ArchetypeImpact)
	assert.Equal(t, models.ImpactCrash, *cols.ArchetypeImpact, "most recently started active event wins")
	assert.InDelta(t, -0.1, *cols.ImpactMagnitude, 1e-12)
	require.NotNil(t, cols.DaysSinceLast)
	assert.Equal(t, 14, *cols.DaysSinceLast)

	gear := e.EventColumnsAt(day(2024, 8, 3), models.CategoryGear)
	require.NotNil(t, gear.ArchetypeImpact)
	assert.Equal(t, models.ImpactMixed, *gear.ArchetypeImpact)

	gem := e.EventColumnsAt(day(2024, 8, 3), models.CategoryGem)
	assert.Nil(t, gem.ArchetypeImpact)
	assert.Nil(t, gem.ImpactMagnitude)
}

func series(entity string, start time.Time, prices ...float64) []models.Observation {
	var obs []models.Observation
	for i, p := range prices {
		if p < 0 {
			continue
		}
		obs = append(obs, models.Observation{
			EntityID: entity, Realm: "eu", Category: models.CategoryMat,
			ObservedAt: start.AddDate(0, 0, i).Add(12 * time.Hour), Price: p,
		})
	}
	return obs
}

func TestBuildLagAndRolling(t *testing.T) {
	e := newEngine(t, nil, nil)
	start := day(2024, 1, 1)
	// -1 marks a day without observations.
	obs := series("ore", start, 10, 12, -1, 16, 18, 20, 22, 24)

	rows, err := e.Build(context.Background(), obs, start.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, rows, 8)

	gap := rows[2]
	assert.Nil(t, gap.PriceMean)
	assert.Equal(t, 0, gap.ObsCount)

	last := rows[7]
	require.NotNil(t, last.PriceMean)
	assert.Equal(t, 24.0, *last.PriceMean)
	require.NotNil(t, last.Lags[1])
	assert.Equal(t, 22.0, *last.Lags[1])
	assert.Nil(t, last.Lags[14])
	require.NotNil(t, last.Lags[7])
	assert.Equal(t, 10.0, *last.Lags[7])

	// Window of 7 ending on day 7 covers days 1..7, skipping the gap.
	require.NotNil(t, last.RollingMean[7])
	assert.InDelta(t, (12.0+16+18+20+22+24)/6, *last.RollingMean[7], 1e-9)
	require.NotNil(t, last.PctChange[7])
	assert.InDelta(t, 1.4, *last.PctChange[7], 1e-9)

	first := rows[0]
	require.NotNil(t, first.RollingStd[7])
	assert.Equal(t, 0.0, *first.RollingStd[7])
	assert.Equal(t, first.ObsDate.Format(models.DateLayout), "2024-01-01")
}

func TestBuildDropsOutliers(t *testing.T) {
	e := newEngine(t, nil, nil)
	d := day(2024, 2, 1)
	var obs []models.Observation
	for i := 0; i < 20; i++ {
		obs = append(obs, models.Observation{EntityID: "herb", Realm: "us", Category: models.CategoryMat,
			ObservedAt: d.Add(time.Duration(i) * time.Minute), Price: 100})
	}
	obs = append(obs, models.Observation{EntityID: "herb", Realm: "us", Category: models.CategoryMat,
		ObservedAt: d.Add(time.Hour), Price: 10000})

	norm := Normalize(obs, time.UTC, 3.0)
	assert.True(t, norm[len(norm)-1].IsOutlier)
	assert.False(t, norm[0].IsOutlier)

	rows, err := e.Build(context.Background(), obs, d)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 100.0, *rows[0].PriceMean)
	assert.Equal(t, 20, rows[0].ObsCount)
}

func TestBuildIgnoresLaterObservations(t *testing.T) {
	e := newEngine(t, nil, nil)
	start := day(2024, 3, 1)
	full := series("cloth", start, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14)
	cut := series("cloth", start, 5, 6, 7, 8, 9)

	all, err := e.Build(context.Background(), full, start.AddDate(0, 0, 9))
	require.NoError(t, err)
	partial, err := e.Build(context.Background(), cut, start.AddDate(0, 0, 4))
	require.NoError(t, err)

	for i := range partial {
		assert.Equal(t, partial[i], all[i], partial[i].Key())
	}
}

func TestCheckQualityRejectsNegativeDistance(t *testing.T) {
	row := models.FeatureRow{EntityID: "x", Realm: "eu", ObsDate: day(2024, 1, 1)}
	row.Events.DaysToNext = models.Int(-2)

	err := CheckQuality([]models.FeatureRow{row})
	require.Error(t, err)
	var lv *apperrors.LeakageViolation
	require.True(t, apperrors.As(err, &lv))
	assert.Equal(t, "x/eu/2024-01-01", lv.Record)

	report := BuildQualityReport([]models.FeatureRow{row, row})
	assert.False(t, report.Clean)
	assert.Equal(t, 1, report.DuplicateKeys)
	assert.Len(t, report.LeakageWarnings, 2)
}

func TestOpenEndedEventCoversStartDayOnly(t *testing.T) {
	e := newEngine(t, []models.Event{{
		Slug: "launch", Name: "Launch", Type: models.EventMajorPatch, Scope: models.ScopeGlobal,
		Severity: models.SeverityMajor, StartDate: day(2024, 7, 1), AnnouncedAt: at("2024-06-01T00:00:00Z"),
	}}, []models.EventImpact{
		{EventSlug: "launch", Category: models.CategoryConsumable, Direction: models.ImpactSpike, Magnitude: 0.4},
	})

	start := e.EventColumnsAt(day(2024, 7, 1), models.CategoryConsumable)
	assert.True(t, start.Active)
	require.NotNil(t, start.SeverityMax)
	assert.Nil(t, start.DaysSinceLast)

	next := e.EventColumnsAt(day(2024, 7, 2), models.CategoryConsumable)
	assert.False(t, next.Active)
	assert.Nil(t, next.SeverityMax)
	assert.Nil(t, next.ArchetypeImpact)
	assert.Nil(t, next.ImpactMagnitude)
	require.NotNil(t, next.DaysSinceLast)
	assert.Equal(t, 1, *next.DaysSinceLast)

	later := e.EventColumnsAt(day(2024, 7, 20), models.CategoryConsumable)
	assert.False(t, later.Active)
	assert.Equal(t, 19, *later.DaysSinceLast)
}

func TestBuildMarksColdStartUntilThreshold(t *testing.T) {
	reg, err := events.NewRegistry(nil, nil)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.ColdStartThreshold = 3
	cfg.TransferConfidence = map[models.Category]float64{models.CategoryMat: 0.6}
	e := NewEngine(cfg, reg, zerolog.Nop())

	start := day(2024, 4, 1)
	obs := series("ore", start, 10, -1, 11, 12, 13)
	potion := series("potion", start, 5, 5)
	for i := range potion {
		potion[i].Category = models.CategoryConsumable
	}

	rows, err := e.Build(context.Background(), append(obs, potion...), start.AddDate(0, 0, 4))
	require.NoError(t, err)

	byKey := map[string]models.FeatureRow{}
	for _, r := range rows {
		byKey[r.EntityID+"/"+r.ObsDate.Format(models.DateLayout)] = r
	}

	cases := []struct {
		key     string
		history int
		cold    bool
	}{
		{"ore/2024-04-01", 1, true},
		{"ore/2024-04-02", 1, true},
		{"ore/2024-04-03", 2, true},
		{"ore/2024-04-04", 3, false},
		{"ore/2024-04-05", 4, false},
	}
	for _, tc := range cases {
		r, ok := byKey[tc.key]
		require.True(t, ok, tc.key)
		assert.Equal(t, tc.history, r.HistoryObs, tc.key)
		assert.Equal(t, tc.cold, r.ColdStart, tc.key)
		if tc.cold {
			require.NotNil(t, r.TransferConfidence, tc.key)
			assert.Equal(t, 0.6, *r.TransferConfidence)
		} else {
			assert.Nil(t, r.TransferConfidence, tc.key)
		}
	}

	p := byKey["potion/2024-04-02"]
	assert.True(t, p.ColdStart)
	assert.Nil(t, p.TransferConfidence)

	cfg.ColdStartThreshold = 0
	none := NewEngine(cfg, reg, zerolog.Nop())
	rows, err = none.Build(context.Background(), obs, start.AddDate(0, 0, 4))
	require.NoError(t, err)
	for _, r := range rows {
		assert.False(t, r.ColdStart)
	}
}
