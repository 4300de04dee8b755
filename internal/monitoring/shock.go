package monitoring

import (
	"time"

	"economy-forecaster/internal/events"
	"economy-forecaster/internal/features"
	"economy-forecaster/internal/models"
)

// ShockReport lists known events active on, or starting shortly after, a day.
type ShockReport struct {
	Day         time.Time
	Active      []models.Event
	Upcoming    []models.Event
	ShockActive bool
}

// CheckEventShock reports events visible at the end of asOf's day that are
// active that day or start within windowDays. A shock is any such event of
// major severity or above.
func CheckEventShock(reg *events.Registry, asOf time.Time, windowDays int, loc *time.Location) ShockReport {
	if loc == nil {
		loc = time.UTC
	}
	day := models.Day(asOf, loc)
	report := ShockReport{Day: day}
	if reg == nil {
		return report
	}

	for _, e := range reg.KnownAt(features.EndOfDay(day, loc)) {
		switch ahead := models.DaysBetween(day, e.StartDate); {
		case e.ActiveOn(day):
			report.Active = append(report.Active, e)
		case ahead > 0 && ahead <= windowDays:
			report.Upcoming = append(report.Upcoming, e)
		default:
			continue
		}
		if e.Severity >= models.SeverityMajor {
			report.ShockActive = true
		}
	}
	return report
}

// CompositeResult combines error drift, data drift and event shock into one
// level and policy decision.
type CompositeResult struct {
	ErrorLevel models.DriftLevel
	DataLevel  models.DriftLevel
	Shock      bool
	Decision
}

// Composite takes the more severe of the error and data levels and bumps it
// one tier on an event shock. An unknown error level stays unknown so the
// widest multiplier is never narrowed.
func Composite(policy Policy, errorLevel, dataLevel models.DriftLevel, shock bool) CompositeResult {
	res := CompositeResult{ErrorLevel: errorLevel, DataLevel: dataLevel, Shock: shock}
	level := errorLevel
	if level.Known() {
		if dataLevel.Known() && dataLevel > level {
			level = dataLevel
		}
		if shock {
			level = level.Bump()
		}
	}
	res.Decision = policy.Evaluate(level)
	return res
}
