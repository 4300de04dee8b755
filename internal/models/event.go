package models

import "time"

// Event is a dated occurrence that may move prices. StartDate and EndDate are
// calendar dates. AnnouncedAt is nil when the announcement time is unknown,
// which keeps the event out of every feature computation.
type Event struct {
	ID          int64
	Slug        string
	Name        string
	Type        EventType
	Scope       EventScope
	Severity    Severity
	StartDate   time.Time
	EndDate     *time.Time
	AnnouncedAt *time.Time
	Recurring   bool
	Notes       string
}

// ActiveOn reports whether the event covers calendar day d. An event with
// no end date covers its start day only.
func (e Event) ActiveOn(d time.Time) bool {
	if DaysBetween(e.StartDate, d) < 0 {
		return false
	}
	return DaysBetween(d, e.LastDay()) >= 0
}

// LastDay returns the end date, or the start date for open-ended events.
func (e Event) LastDay() time.Time {
	if e.EndDate != nil {
		return *e.EndDate
	}
	return e.StartDate
}

// EventImpact is the expected effect of one event on one category.
type EventImpact struct {
	EventID      int64
	EventSlug    string
	Category     Category
	Direction    ImpactDirection
	Magnitude    float64
	LagDays      int
	DurationDays *int
	Notes        string
}
