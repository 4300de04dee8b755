package models

import "time"

// Observation is a single raw price snapshot. Observations are append-only.
type Observation struct {
	EntityID   string
	Realm      string
	Category   Category
	ObservedAt time.Time
	Price      float64
	Volume     *float64
}

// SeriesKey identifies the (entity, realm) series an observation belongs to.
func (o Observation) SeriesKey() string {
	return SeriesKey(o.EntityID, o.Realm)
}

// NormalizedObservation carries the per-day z-score and outlier flag.
type NormalizedObservation struct {
	Observation
	ZScore    *float64
	IsOutlier bool
}

// SeriesKey joins an entity and realm into a stable key.
func SeriesKey(entityID, realm string) string {
	return entityID + "/" + realm
}

// EventColumns are the event-derived features of a row. Every column is
// computed only from events known at the end of the row's day.
type EventColumns struct {
	Active          bool
	DaysToNext      *int
	DaysSinceLast   *int
	SeverityMax     *Severity
	ArchetypeImpact *ImpactDirection
	ImpactMagnitude *float64
	DaysUntilMajor  *int
	PreEventWindow  bool
}

// FeatureRow is the leakage-safe feature vector for one series on one day.
// Nil pointers mean the value is absent, never zero.
type FeatureRow struct {
	EntityID  string
	Realm     string
	Category  Category
	ObsDate   time.Time
	AsOf      time.Time
	DayOfWeek int

	PriceMean *float64
	PriceMin  *float64
	PriceMax  *float64
	Volume    *float64
	ObsCount  int

	// HistoryObs counts the series' non-outlier observations through
	// ObsDate. ColdStart is set while it is below the cold-start threshold.
	HistoryObs         int
	ColdStart          bool
	TransferConfidence *float64

	Lags        map[int]*float64
	RollingMean map[int]*float64
	RollingStd  map[int]*float64
	PctChange   map[int]*float64

	Events EventColumns
}

// SeriesKey identifies the row's (entity, realm) series.
func (r FeatureRow) SeriesKey() string {
	return SeriesKey(r.EntityID, r.Realm)
}

// Key identifies the row uniquely.
func (r FeatureRow) Key() string {
	return r.SeriesKey() + "/" + r.ObsDate.Format(DateLayout)
}

// HasPrice reports whether the row carries an aggregated price.
func (r FeatureRow) HasPrice() bool {
	return r.PriceMean != nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
