package events

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/models"
)

// seedFile is the on-disk event seed. JSON seeds parse through the same path.
type seedFile struct {
	Events []seedEvent `yaml:"events" validate:"dive"`
}

type seedEvent struct {
	ID          int64        `yaml:"id"`
	Slug        string       `yaml:"slug" validate:"required"`
	Name        string       `yaml:"name" validate:"required"`
	Type        string       `yaml:"type" validate:"required"`
	Scope       string       `yaml:"scope"`
	Severity    string       `yaml:"severity" validate:"required"`
	StartDate   string       `yaml:"start_date" validate:"required"`
	EndDate     string       `yaml:"end_date"`
	AnnouncedAt string       `yaml:"announced_at"`
	Recurring   bool         `yaml:"recurring"`
	Notes       string       `yaml:"notes"`
	Impacts     []seedImpact `yaml:"impacts" validate:"dive"`
}

type seedImpact struct {
	Category     string  `yaml:"category" validate:"required"`
	Direction    string  `yaml:"direction" validate:"required"`
	Magnitude    float64 `yaml:"magnitude"`
	LagDays      int     `yaml:"lag_days"`
	DurationDays *int    `yaml:"duration_days"`
	Notes        string  `yaml:"notes"`
}

var validate = validator.New()

// Load reads a YAML or JSON seed file and builds a registry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading event seed: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from seed bytes.
func Parse(data []byte) (*Registry, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, apperrors.NewValidationError("event seed", "document", nil, err.Error())
	}

	var (
		evs     []models.Event
		impacts []models.EventImpact
	)
	for i, raw := range seed.Events {
		if err := validate.Struct(raw); err != nil {
			return nil, seedError(raw, i, err)
		}
		e, err := raw.toEvent()
		if err != nil {
			return nil, err
		}
		evs = append(evs, e)
		for _, ri := range raw.Impacts {
			impacts = append(impacts, models.EventImpact{
				EventID:      raw.ID,
				EventSlug:    raw.Slug,
				Category:     models.Category(strings.ToLower(ri.Category)),
				Direction:    models.ImpactDirection(strings.ToLower(ri.Direction)),
				Magnitude:    ri.Magnitude,
				LagDays:      ri.LagDays,
				DurationDays: ri.DurationDays,
				Notes:        ri.Notes,
			})
		}
	}

	return NewRegistry(evs, impacts)
}

func seedError(raw seedEvent, idx int, err error) error {
	record := raw.Slug
	if record == "" {
		record = fmt.Sprintf("events[%d]", idx)
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apperrors.NewValidationError(record, strings.ToLower(verrs[0].Field()), verrs[0].Value(),
			fmt.Sprintf("failed %q constraint", verrs[0].Tag()))
	}
	return apperrors.NewValidationError(record, "event", nil, err.Error())
}

func (raw seedEvent) toEvent() (models.Event, error) {
	sev, err := models.ParseSeverity(raw.Severity)
	if err != nil {
		return models.Event{}, apperrors.NewValidationError(raw.Slug, "severity", raw.Severity, err.Error())
	}

	scope := models.ScopeGlobal
	if raw.Scope != "" {
		scope = models.EventScope(strings.ToLower(raw.Scope))
	}

	start, err := parseSeedDate(raw.StartDate)
	if err != nil {
		return models.Event{}, apperrors.NewValidationError(raw.Slug, "start_date", raw.StartDate, err.Error())
	}

	e := models.Event{
		ID:        raw.ID,
		Slug:      raw.Slug,
		Name:      raw.Name,
		Type:      models.EventType(strings.ToLower(raw.Type)),
		Scope:     scope,
		Severity:  sev,
		StartDate: start,
		Recurring: raw.Recurring,
		Notes:     raw.Notes,
	}

	if raw.EndDate != "" {
		end, err := parseSeedDate(raw.EndDate)
		if err != nil {
			return models.Event{}, apperrors.NewValidationError(raw.Slug, "end_date", raw.EndDate, err.Error())
		}
		e.EndDate = &end
	}

	if raw.AnnouncedAt != "" {
		at, err := parseSeedTimestamp(raw.AnnouncedAt)
		if err != nil {
			return models.Event{}, apperrors.NewValidationError(raw.Slug, "announced_at", raw.AnnouncedAt, err.Error())
		}
		e.AnnouncedAt = &at
	}

	return e, nil
}

// parseSeedDate accepts a calendar date, or a timestamp whose date part is used.
func parseSeedDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(models.DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD")
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// parseSeedTimestamp accepts RFC 3339 or a bare date (midnight UTC).
func parseSeedTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07:00", "2006-01-02T15:04:05", models.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("expected RFC 3339 timestamp")
}
