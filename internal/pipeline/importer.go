package pipeline

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/models"
	"economy-forecaster/internal/performance"
	"economy-forecaster/internal/store"
)

// observationRecord is one CSV row. Volume may be blank.
type observationRecord struct {
	EntityID   string `csv:"entity_id"`
	Realm      string `csv:"realm"`
	Category   string `csv:"category"`
	ObservedAt string `csv:"observed_at"`
	Price      string `csv:"price"`
	Volume     string `csv:"volume"`
}

// ImportResult summarizes a CSV import.
type ImportResult struct {
	Rows     int
	Inserted int
	Latest   time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	models.DateLayout,
}

// ParseObservationsCSV decodes and validates observations. Timestamps without
// a zone are read in loc. The first invalid row aborts the parse.
func ParseObservationsCSV(r io.Reader, loc *time.Location) ([]models.Observation, error) {
	if loc == nil {
		loc = time.UTC
	}
	var records []*observationRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, apperrors.NewDataError("observations_csv", "", "malformed csv", err)
	}

	out := make([]models.Observation, 0, len(records))
	for i, rec := range records {
		o, err := rec.toObservation(loc)
		if err != nil {
			// header is line 1
			return nil, apperrors.Wrapf(err, "line %d", i+2)
		}
		out = append(out, o)
	}
	return out, nil
}

func (rec *observationRecord) toObservation(loc *time.Location) (models.Observation, error) {
	record := models.SeriesKey(rec.EntityID, rec.Realm)
	o := models.Observation{
		EntityID: strings.TrimSpace(rec.EntityID),
		Realm:    strings.TrimSpace(rec.Realm),
		Category: models.Category(strings.TrimSpace(rec.Category)),
	}
	if o.EntityID == "" {
		return o, apperrors.NewValidationError(record, "entity_id", rec.EntityID, "entity_id is required")
	}
	if o.Realm == "" {
		return o, apperrors.NewValidationError(record, "realm", rec.Realm, "realm is required")
	}
	if !o.Category.Valid() {
		return o, apperrors.NewValidationError(record, "category", rec.Category, "unknown category")
	}

	at, err := parseTimestamp(strings.TrimSpace(rec.ObservedAt), loc)
	if err != nil {
		return o, apperrors.NewValidationError(record, "observed_at", rec.ObservedAt, err.Error())
	}
	o.ObservedAt = at

	price, err := strconv.ParseFloat(strings.TrimSpace(rec.Price), 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return o, apperrors.NewValidationError(record, "price", rec.Price, "price must be a positive number")
	}
	o.Price = price

	if v := strings.TrimSpace(rec.Volume); v != "" {
		vol, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(vol) || vol < 0 {
			return o, apperrors.NewValidationError(record, "volume", rec.Volume, "volume must be a non-negative number")
		}
		o.Volume = &vol
	}
	return o, nil
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ImportObservationsCSV parses a CSV stream and stores it in batches.
// Duplicate (entity, realm, observed_at) rows are ignored by the store.
func (p *Pipeline) ImportObservationsCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	start := time.Now()
	obs, err := ParseObservationsCSV(r, p.loc)
	if err != nil {
		p.observe("import", start, err)
		return nil, err
	}

	res := &ImportResult{Rows: len(obs)}
	batch := performance.NewBatchProcessor(p.batchSize, func(items []models.Observation) error {
		return p.retry(ctx, func() error {
			n, err := p.store.SaveObservations(ctx, items)
			if err == nil {
				res.Inserted += n
			}
			return err
		})
	})
	for _, o := range obs {
		if o.ObservedAt.After(res.Latest) {
			res.Latest = o.ObservedAt
		}
		if err := batch.Add(o); err != nil {
			p.observe("import", start, err)
			return nil, apperrors.Wrap(err, "store observations")
		}
	}
	if err := batch.Flush(); err != nil {
		p.observe("import", start, err)
		return nil, apperrors.Wrap(err, "store observations")
	}

	if err := p.freshness.MarkSynced(store.SyncTypeObservations); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to record import freshness")
	}
	p.observe("import", start, nil)
	p.logger.Info().
		Int("rows", res.Rows).
		Int("inserted", res.Inserted).
		Time("latest", res.Latest).
		Msg("Observations imported")
	return res, nil
}
