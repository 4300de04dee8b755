package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"economy-forecaster/internal/models"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestModelHealthBands(t *testing.T) {
	cfg := DefaultHealthConfig()
	assert.Equal(t, HealthUnknown, ModelHealth(nil, cfg))
	assert.Equal(t, HealthOK, ModelHealth(models.Float(1.49), cfg))
	assert.Equal(t, HealthDegraded, ModelHealth(models.Float(1.5), cfg))
	assert.Equal(t, HealthDegraded, ModelHealth(models.Float(2.99), cfg))
	assert.Equal(t, HealthCritical, ModelHealth(models.Float(3.0), cfg))
}

func TestModelComponentTakesWorstKnownHorizon(t *testing.T) {
	cfg := DefaultHealthConfig()
	c := modelComponent([]models.DriftCheckResult{
		{Horizon: 1, Ratio: models.Float(1.0)},
		{Horizon: 7, Ratio: models.Float(2.0)},
		{Horizon: 14},
	}, cfg)
	assert.Equal(t, HealthDegraded, c.Status)
	assert.Equal(t, "unknown", c.Details["h14"])

	assert.Equal(t, HealthUnknown, modelComponent([]models.DriftCheckResult{{Horizon: 1}}, cfg).Status)
	assert.Equal(t, HealthUnknown, modelComponent(nil, cfg).Status)
}

func TestDriftResultsHealthCheckUsesLatest(t *testing.T) {
	var latest []models.DriftCheckResult
	check := DriftResultsHealthCheck(func() []models.DriftCheckResult { return latest }, DefaultHealthConfig())
	assert.Equal(t, HealthUnknown, check(context.Background()).Status)

	latest = []models.DriftCheckResult{{Horizon: 1, Ratio: models.Float(3.5)}}
	assert.Equal(t, HealthCritical, check(context.Background()).Status)
}

func TestHealthMonitorAggregates(t *testing.T) {
	hm := NewHealthMonitor(DefaultHealthConfig())
	hm.RegisterComponent("database", DatabaseHealthCheck(fakePinger{}))

	h := hm.Run(context.Background())
	assert.Equal(t, HealthOK, h.Status)
	require.Len(t, h.Components, 2)
	assert.Equal(t, "database", h.Components[0].Name)

	hm.RegisterComponent("database", DatabaseHealthCheck(fakePinger{err: errors.New("locked")}))
	hm.RegisterComponent("broken", func(context.Context) ComponentHealth { panic("boom") })
	h = hm.Run(context.Background())
	assert.Equal(t, HealthCritical, h.Status)
	assert.Len(t, h.Components, 3)
}

func TestHealthHandler(t *testing.T) {
	mon, err := NewMonitor(DefaultPolicy(), 7, baselines(1, 1), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, mon.Observe(LivePair{Horizon: 1, TargetDate: asOf, Actual: 5, Predicted: 1}))

	hm := NewHealthMonitor(DefaultHealthConfig())
	hm.RegisterComponent("model", ModelHealthCheck(mon, DefaultHealthConfig(), func() time.Time { return asOf }))

	rec := httptest.NewRecorder()
	hm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body SystemHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, HealthCritical, body.Status)
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	m := NewMetrics()
	m.ObserveStage("features", 20*time.Millisecond, nil)
	m.ObserveShock(ShockReport{ShockActive: true})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "forecaster_event_shock 1")
	assert.Contains(t, rec.Body.String(), `forecaster_stage_duration_seconds_count{stage="features"} 1`)
}
