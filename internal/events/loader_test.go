package events

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/models"
)

const seedYAML = `
events:
  - slug: tww-launch
    name: The War Within launch
    type: expansion_launch
    scope: global
    severity: critical
    start_date: 2024-08-26
    end_date: 2024-09-09
    announced_at: 2023-11-03T19:00:00Z
    impacts:
      - category: consumable
        direction: spike
        magnitude: 0.45
        lag_days: -3
        duration_days: 21
      - category: mat
        direction: mixed
        magnitude: 0.2
  - slug: secret-hotfix
    name: Unannounced hotfix
    type: hotfix
    severity: minor
    start_date: 2024-09-02
`

func TestParseSeed(t *testing.T) {
	reg, err := Parse([]byte(seedYAML))
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	launch, ok := reg.BySlug("tww-launch")
	require.True(t, ok)
	assert.Equal(t, models.SeverityCritical, launch.Severity)
	assert.Equal(t, date(2024, 8, 26), launch.StartDate)
	require.NotNil(t, launch.EndDate)
	require.NotNil(t, launch.AnnouncedAt)

	imp, ok := reg.Impact(launch.ID, models.CategoryConsumable)
	require.True(t, ok)
	assert.Equal(t, -3, imp.LagDays)
	require.NotNil(t, imp.DurationDays)
	assert.Equal(t, 21, *imp.DurationDays)

	hotfix, ok := reg.BySlug("secret-hotfix")
	require.True(t, ok)
	assert.Nil(t, hotfix.AnnouncedAt)
	assert.Equal(t, models.ScopeGlobal, hotfix.Scope)
}

func TestParseJSONSeed(t *testing.T) {
	doc := `{"events": [{"slug": "brewfest", "name": "Brewfest", "type": "holiday_event", "severity": "moderate", "start_date": "2024-09-20", "announced_at": "2024-01-01"}]}`
	reg, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
}

func TestParseSeedRejectsBadRecords(t *testing.T) {
	cases := map[string]string{
		"missing name": `
events:
  - slug: x
    type: hotfix
    severity: minor
    start_date: 2024-01-01
`,
		"end before start": `
events:
  - slug: x
    name: X
    type: hotfix
    severity: minor
    start_date: 2024-01-05
    end_date: 2024-01-01
`,
		"bad severity": `
events:
  - slug: x
    name: X
    type: hotfix
    severity: colossal
    start_date: 2024-01-05
`,
		"bad timestamp": `
events:
  - slug: x
    name: X
    type: hotfix
    severity: minor
    start_date: 2024-01-05
    announced_at: last tuesday
`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
			assert.Contains(t, err.Error(), "[x]")
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0644))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
