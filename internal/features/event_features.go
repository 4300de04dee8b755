package features

import (
	"sort"
	"time"

	"economy-forecaster/internal/models"
)

// ImpactLookup resolves the impact record of an event on a category.
type ImpactLookup func(eventID int64, category models.Category) (models.EventImpact, bool)

// ComputeEventColumns derives the event columns for calendar day d. known
// must already be filtered to events visible at the end of d; nothing here
// re-checks visibility.
func ComputeEventColumns(d time.Time, category models.Category, known []models.Event, impact ImpactLookup, preWindowDays int) models.EventColumns {
	var cols models.EventColumns

	var (
		active      []models.Event
		lastEnd     *time.Time
		maxSeverity models.Severity
	)

	for _, e := range known {
		delta := models.DaysBetween(d, e.StartDate)

		if delta > 0 && (cols.DaysToNext == nil || delta < *cols.DaysToNext) {
			cols.DaysToNext = models.Int(delta)
		}

		if e.Severity >= models.SeverityMajor && delta >= 0 &&
			(cols.DaysUntilMajor == nil || delta < *cols.DaysUntilMajor) {
			cols.DaysUntilMajor = models.Int(delta)
		}

		if e.ActiveOn(d) {
			active = append(active, e)
			if e.Severity > maxSeverity {
				maxSeverity = e.Severity
			}
		}

		last := e.LastDay()
		if models.DaysBetween(last, d) > 0 && (lastEnd == nil || last.After(*lastEnd)) {
			l := last
			lastEnd = &l
		}
	}

	cols.Active = len(active) > 0
	if cols.Active {
		sev := maxSeverity
		cols.SeverityMax = &sev
	}
	if lastEnd != nil {
		cols.DaysSinceLast = models.Int(models.DaysBetween(*lastEnd, d))
	}
	if cols.DaysUntilMajor != nil {
		days := *cols.DaysUntilMajor
		cols.PreEventWindow = days >= 1 && days <= preWindowDays
	}

	// Most recently started active event with an impact record wins.
	sort.SliceStable(active, func(i, j int) bool {
		if !active[i].StartDate.Equal(active[j].StartDate) {
			return active[i].StartDate.After(active[j].StartDate)
		}
		return active[i].Slug < active[j].Slug
	})
	if impact != nil {
		for _, e := range active {
			if imp, ok := impact(e.ID, category); ok {
				dir := imp.Direction
				cols.ArchetypeImpact = &dir
				cols.ImpactMagnitude = models.Float(imp.Magnitude)
				break
			}
		}
	}

	return cols
}
