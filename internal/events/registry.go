// Package events holds the immutable event registry and the leakage guard
// that decides which events are visible at a given instant.
package events

import (
	"fmt"
	"sort"
	"time"

	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/models"
)

// IsKnownAt reports whether an event had been announced by asOf. Events with
// no announcement timestamp are never known.
func IsKnownAt(e models.Event, asOf time.Time) bool {
	if e.AnnouncedAt == nil {
		return false
	}
	return !e.AnnouncedAt.After(asOf)
}

type impactKey struct {
	eventID  int64
	category models.Category
}

// Registry is a validated, read-only snapshot of events and their impacts.
// It is safe for concurrent readers without locking.
type Registry struct {
	events  []models.Event
	bySlug  map[string]int
	impacts map[impactKey]models.EventImpact
}

// NewRegistry validates events and impacts and builds a snapshot. Events with
// a zero ID are numbered in input order after the highest explicit ID. Impacts may reference their event by
// ID or by slug.
func NewRegistry(events []models.Event, impacts []models.EventImpact) (*Registry, error) {
	r := &Registry{
		events:  make([]models.Event, 0, len(events)),
		bySlug:  make(map[string]int, len(events)),
		impacts: make(map[impactKey]models.EventImpact, len(impacts)),
	}

	var nextID int64
	for _, e := range events {
		if e.ID > nextID {
			nextID = e.ID
		}
	}
	byID := make(map[int64]string, len(events))
	for _, e := range events {
		if e.ID == 0 {
			nextID++
			e.ID = nextID
		}
		if err := validateEvent(e); err != nil {
			return nil, err
		}
		if _, dup := r.bySlug[e.Slug]; dup {
			return nil, apperrors.NewValidationError(e.Slug, "slug", e.Slug, "duplicate event slug")
		}
		if other, dup := byID[e.ID]; dup {
			return nil, apperrors.NewValidationError(e.Slug, "id", e.ID, fmt.Sprintf("id already used by %s", other))
		}
		byID[e.ID] = e.Slug
		r.bySlug[e.Slug] = -1
		r.events = append(r.events, cloneEvent(e))
	}

	sort.SliceStable(r.events, func(i, j int) bool {
		if !r.events[i].StartDate.Equal(r.events[j].StartDate) {
			return r.events[i].StartDate.Before(r.events[j].StartDate)
		}
		return r.events[i].Slug < r.events[j].Slug
	})
	for i, e := range r.events {
		r.bySlug[e.Slug] = i
	}

	for _, imp := range impacts {
		if imp.EventID == 0 {
			idx, ok := r.bySlug[imp.EventSlug]
			if !ok {
				return nil, apperrors.NewValidationError(imp.EventSlug, "event", imp.EventSlug, "impact references unknown event")
			}
			imp.EventID = r.events[idx].ID
		}
		slug, ok := byID[imp.EventID]
		if !ok {
			return nil, apperrors.NewValidationError(imp.EventSlug, "event_id", imp.EventID, "impact references unknown event")
		}
		imp.EventSlug = slug
		record := slug + "/" + string(imp.Category)
		if !imp.Category.Valid() {
			return nil, apperrors.NewValidationError(record, "category", imp.Category, "unknown category")
		}
		if !imp.Direction.Valid() {
			return nil, apperrors.NewValidationError(record, "direction", imp.Direction, "unknown impact direction")
		}
		if imp.DurationDays != nil && *imp.DurationDays < 0 {
			return nil, apperrors.NewValidationError(record, "duration_days", *imp.DurationDays, "must be non-negative")
		}
		key := impactKey{eventID: imp.EventID, category: imp.Category.Root()}
		if _, dup := r.impacts[key]; dup {
			return nil, apperrors.NewValidationError(record, "category", imp.Category, "duplicate impact for event and category")
		}
		if imp.DurationDays != nil {
			imp.DurationDays = models.Int(*imp.DurationDays)
		}
		r.impacts[key] = imp
	}

	return r, nil
}

func validateEvent(e models.Event) error {
	if e.Slug == "" {
		return apperrors.NewValidationError(e.Name, "slug", e.Slug, "slug is required")
	}
	if !e.Type.Valid() {
		return apperrors.NewValidationError(e.Slug, "event_type", e.Type, "unknown event type")
	}
	if !e.Scope.Valid() {
		return apperrors.NewValidationError(e.Slug, "scope", e.Scope, "unknown scope")
	}
	if !e.Severity.Valid() {
		return apperrors.NewValidationError(e.Slug, "severity", e.Severity, "unknown severity")
	}
	if e.StartDate.IsZero() {
		return apperrors.NewValidationError(e.Slug, "start_date", e.StartDate, "start_date is required")
	}
	if e.EndDate != nil && models.DaysBetween(e.StartDate, *e.EndDate) < 0 {
		return apperrors.NewValidationError(e.Slug, "end_date", e.EndDate.Format(models.DateLayout),
			"end_date precedes start_date "+e.StartDate.Format(models.DateLayout))
	}
	return nil
}

func cloneEvent(e models.Event) models.Event {
	if e.EndDate != nil {
		end := *e.EndDate
		e.EndDate = &end
	}
	if e.AnnouncedAt != nil {
		at := *e.AnnouncedAt
		e.AnnouncedAt = &at
	}
	return e
}

// Len returns the number of events in the registry.
func (r *Registry) Len() int {
	return len(r.events)
}

// Events returns every event ordered by start date, known or not.
func (r *Registry) Events() []models.Event {
	out := make([]models.Event, len(r.events))
	for i, e := range r.events {
		out[i] = cloneEvent(e)
	}
	return out
}

// KnownAt returns the events visible at asOf, ordered by start date.
func (r *Registry) KnownAt(asOf time.Time) []models.Event {
	var out []models.Event
	for _, e := range r.events {
		if IsKnownAt(e, asOf) {
			out = append(out, cloneEvent(e))
		}
	}
	return out
}

// BySlug looks up an event by slug.
func (r *Registry) BySlug(slug string) (models.Event, bool) {
	idx, ok := r.bySlug[slug]
	if !ok {
		return models.Event{}, false
	}
	return cloneEvent(r.events[idx]), true
}

// Impact returns the impact record for an event on a category's root archetype.
func (r *Registry) Impact(eventID int64, category models.Category) (models.EventImpact, bool) {
	imp, ok := r.impacts[impactKey{eventID: eventID, category: category.Root()}]
	return imp, ok
}

// Impacts returns every impact record, ordered by event then category.
func (r *Registry) Impacts() []models.EventImpact {
	out := make([]models.EventImpact, 0, len(r.impacts))
	for _, imp := range r.impacts {
		out = append(out, imp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventID != out[j].EventID {
			return out[i].EventID < out[j].EventID
		}
		return out[i].Category < out[j].Category
	})
	return out
}
