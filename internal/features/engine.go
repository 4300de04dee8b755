// Package features builds leakage-safe feature rows from observations and
// the event registry. A row for day D depends only on observations dated on
// or before D and on events announced by the end of D.
package features

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"economy-forecaster/internal/events"
	"economy-forecaster/internal/models"
)

// Config holds feature engine settings.
type Config struct {
	Location           *time.Location
	Lags               []int
	RollingWindows     []int
	OutlierZThreshold  float64
	PreEventWindowDays int
	// ColdStartThreshold is the history size below which a row is marked
	// cold-start. Zero disables the flag.
	ColdStartThreshold int
	// TransferConfidence is the confidence, in (0, 1], of the prior
	// borrowed for a root category when its series start cold.
	TransferConfidence map[models.Category]float64
}

// DefaultConfig returns the default feature configuration.
func DefaultConfig() Config {
	return Config{
		Location:           time.UTC,
		Lags:               []int{1, 3, 7, 14, 28},
		RollingWindows:     []int{7, 14, 28},
		OutlierZThreshold:  3.0,
		PreEventWindowDays: 7,
		ColdStartThreshold: 30,
	}
}

// EndOfDay returns the last representable instant of d's calendar day in loc.
func EndOfDay(d time.Time, loc *time.Location) time.Time {
	return models.AddDays(models.Day(d, loc), 1).Add(-time.Nanosecond)
}

// Engine computes feature rows.
type Engine struct {
	cfg      Config
	registry *events.Registry
	logger   zerolog.Logger
}

// NewEngine creates a feature engine. A nil registry behaves as empty.
func NewEngine(cfg Config, registry *events.Registry, logger zerolog.Logger) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if registry == nil {
		registry, _ = events.NewRegistry(nil, nil)
	}
	return &Engine{cfg: cfg, registry: registry, logger: logger}
}

// Location returns the reference zone for day boundaries.
func (e *Engine) Location() *time.Location {
	return e.cfg.Location
}

// Registry returns the event snapshot the engine reads from.
func (e *Engine) Registry() *events.Registry {
	return e.registry
}

// EventColumnsAt computes the event columns for a category on day d, using
// only events known at the end of d.
func (e *Engine) EventColumnsAt(d time.Time, category models.Category) models.EventColumns {
	day := models.Day(d, e.cfg.Location)
	known := e.registry.KnownAt(EndOfDay(day, e.cfg.Location))
	return ComputeEventColumns(day, category, known, e.registry.Impact, e.cfg.PreEventWindowDays)
}

// Build aggregates observations and produces one row per series per calendar
// day, from each series' first observed day through the given day. The result
// is sorted by series then date and has passed CheckQuality.
func (e *Engine) Build(ctx context.Context, obs []models.Observation, through time.Time) ([]models.FeatureRow, error) {
	start := time.Now()
	loc := e.cfg.Location
	through = models.Day(through, loc)

	normalized := Normalize(obs, loc, e.cfg.OutlierZThreshold)
	outliers := 0
	for _, n := range normalized {
		if n.IsOutlier {
			outliers++
		}
	}

	daily := aggregateDaily(normalized, loc, through)
	knownCache := make(map[string][]models.Event)

	var rows []models.FeatureRow
	for _, key := range sortedKeys(daily) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		points := daily[key]
		history := 0
		for i, p := range points {
			history += p.count
			dayKey := p.day.Format(models.DateLayout)
			known, ok := knownCache[dayKey]
			if !ok {
				known = e.registry.KnownAt(EndOfDay(p.day, loc))
				knownCache[dayKey] = known
			}

			lag, rollMean, rollStd, pct := seriesFeatures(points, i, e.cfg.Lags, e.cfg.RollingWindows)
			coldStart := history < e.cfg.ColdStartThreshold
			var transfer *float64
			if coldStart {
				if c, ok := e.cfg.TransferConfidence[p.category.Root()]; ok {
					transfer = models.Float(c)
				}
			}
			rows = append(rows, models.FeatureRow{
				EntityID:           p.entityID,
				Realm:              p.realm,
				Category:           p.category,
				ObsDate:            p.day,
				AsOf:               EndOfDay(p.day, loc),
				DayOfWeek:          int(p.day.Weekday()),
				PriceMean:          p.mean,
				PriceMin:           p.min,
				PriceMax:           p.max,
				Volume:             p.volume,
				ObsCount:           p.count,
				HistoryObs:         history,
				ColdStart:          coldStart,
				TransferConfidence: transfer,
				Lags:               lag,
				RollingMean:        rollMean,
				RollingStd:         rollStd,
				PctChange:          pct,
				Events:             ComputeEventColumns(p.day, p.category, known, e.registry.Impact, e.cfg.PreEventWindowDays),
			})
		}
	}

	if err := CheckQuality(rows); err != nil {
		return nil, fmt.Errorf("feature quality check: %w", err)
	}

	e.logger.Debug().
		Int("observations", len(obs)).
		Int("outliers", outliers).
		Int("series", len(daily)).
		Int("rows", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("Feature rows built")

	return rows, nil
}

// GroupBySeries splits rows into per-series slices, preserving order.
func GroupBySeries(rows []models.FeatureRow) map[string][]models.FeatureRow {
	out := make(map[string][]models.FeatureRow)
	for _, r := range rows {
		out[r.SeriesKey()] = append(out[r.SeriesKey()], r)
	}
	return out
}
