package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"economy-forecaster/internal/models"
)

// Metrics holds the Prometheus collectors exported by the monitor.
type Metrics struct {
	registry *prometheus.Registry

	DriftLevel        *prometheus.GaugeVec
	DriftRatio        *prometheus.GaugeVec
	DriftMultiplier   *prometheus.GaugeVec
	LivePairs         *prometheus.GaugeVec
	RetrainSignals    *prometheus.CounterVec
	DataDriftFraction prometheus.Gauge
	EventShock        prometheus.Gauge
	StageDuration     *prometheus.HistogramVec
	StageErrors       *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DriftLevel: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forecaster_drift_level",
			Help: "Drift level per horizon (-1 unknown, 0 none .. 4 critical)",
		}, []string{"horizon"}),
		DriftRatio: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forecaster_drift_mae_ratio",
			Help: "Live MAE divided by backtest MAE per horizon",
		}, []string{"horizon"}),
		DriftMultiplier: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forecaster_uncertainty_multiplier",
			Help: "Confidence interval multiplier applied per horizon",
		}, []string{"horizon"}),
		LivePairs: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forecaster_live_pairs",
			Help: "Live pairs inside the drift window per horizon",
		}, []string{"horizon"}),
		RetrainSignals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "forecaster_retrain_signals_total",
			Help: "Drift checks that recommended retraining",
		}, []string{"horizon"}),
		DataDriftFraction: f.NewGauge(prometheus.GaugeOpts{
			Name: "forecaster_data_drift_fraction",
			Help: "Fraction of series whose recent mean drifted",
		}),
		EventShock: f.NewGauge(prometheus.GaugeOpts{
			Name: "forecaster_event_shock",
			Help: "1 when a major known event is active or imminent",
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forecaster_stage_duration_seconds",
			Help:    "Pipeline stage duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		StageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "forecaster_stage_errors_total",
			Help: "Pipeline stage failures",
		}, []string{"stage"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveDrift records one horizon check.
func (m *Metrics) ObserveDrift(r models.DriftCheckResult) {
	h := strconv.Itoa(r.Horizon)
	m.DriftLevel.WithLabelValues(h).Set(float64(r.Level))
	m.DriftMultiplier.WithLabelValues(h).Set(r.UncertaintyMultiplier)
	m.LivePairs.WithLabelValues(h).Set(float64(r.NLive))
	if r.Ratio != nil {
		m.DriftRatio.WithLabelValues(h).Set(*r.Ratio)
	}
	if r.RetrainRecommended {
		m.RetrainSignals.WithLabelValues(h).Inc()
	}
}

// ObserveDataDrift records a data drift report.
func (m *Metrics) ObserveDataDrift(r DataDriftReport) {
	m.DataDriftFraction.Set(r.Fraction)
}

// ObserveShock records an event shock report.
func (m *Metrics) ObserveShock(r ShockReport) {
	if r.ShockActive {
		m.EventShock.Set(1)
	} else {
		m.EventShock.Set(0)
	}
}

// ObserveStage records a pipeline stage timing.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.StageErrors.WithLabelValues(stage).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
