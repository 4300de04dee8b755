package monitoring

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	apperrors "economy-forecaster/internal/errors"
	"economy-forecaster/internal/logging"
	"economy-forecaster/internal/models"
)

// LivePair is a realized (actual, predicted) pair for one forecast.
type LivePair struct {
	EntityID   string
	Realm      string
	Horizon    int
	TargetDate time.Time
	Actual     float64
	Predicted  float64
}

type horizonBuffer struct {
	mu    sync.Mutex
	pairs []LivePair
}

// Monitor tracks live forecast error per horizon and compares it with the
// backtest baseline.
type Monitor struct {
	policy     Policy
	windowDays int
	logger     zerolog.Logger
	metrics    *Metrics

	mu        sync.RWMutex
	baselines map[int]*float64
	buffers   map[int]*horizonBuffer
}

// NewMonitor creates a monitor. baselines maps horizon to backtest MAE; a nil
// entry marks the baseline as unavailable.
func NewMonitor(policy Policy, windowDays int, baselines map[int]*float64, logger zerolog.Logger) (*Monitor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if windowDays < 1 {
		return nil, apperrors.NewValidationError("drift_monitor", "window_days", windowDays, "must be >= 1")
	}
	m := &Monitor{
		policy:     policy,
		windowDays: windowDays,
		logger:     logger.With().Str("component", "drift").Logger(),
		baselines:  make(map[int]*float64),
		buffers:    make(map[int]*horizonBuffer),
	}
	m.SetBaselines(baselines)
	return m, nil
}

// SetMetrics attaches Prometheus collectors updated on every check.
func (m *Monitor) SetMetrics(metrics *Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

// SetBaselines replaces the baseline table.
func (m *Monitor) SetBaselines(baselines map[int]*float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines = make(map[int]*float64, len(baselines))
	for h, v := range baselines {
		if v != nil {
			c := *v
			m.baselines[h] = &c
		} else {
			m.baselines[h] = nil
		}
	}
}

// Policy returns the policy in use.
func (m *Monitor) Policy() Policy {
	return m.policy
}

func (m *Monitor) buffer(h int) *horizonBuffer {
	m.mu.RLock()
	buf, ok := m.buffers[h]
	m.mu.RUnlock()
	if ok {
		return buf
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if buf, ok = m.buffers[h]; !ok {
		buf = &horizonBuffer{}
		m.buffers[h] = buf
	}
	return buf
}

// Observe appends a live pair to its horizon in arrival order.
func (m *Monitor) Observe(p LivePair) error {
	if p.Horizon < 1 {
		return apperrors.NewValidationError(models.SeriesKey(p.EntityID, p.Realm), "horizon", p.Horizon, "must be >= 1")
	}
	if math.IsNaN(p.Actual) || math.IsInf(p.Actual, 0) || math.IsNaN(p.Predicted) || math.IsInf(p.Predicted, 0) {
		return apperrors.NewValidationError(models.SeriesKey(p.EntityID, p.Realm), "pair", p, "actual and predicted must be finite")
	}
	buf := m.buffer(p.Horizon)
	buf.mu.Lock()
	buf.pairs = append(buf.pairs, p)
	buf.mu.Unlock()
	return nil
}

// Prune drops pairs that fall before the window ending at asOf.
func (m *Monitor) Prune(asOf time.Time) int {
	m.mu.RLock()
	bufs := make([]*horizonBuffer, 0, len(m.buffers))
	for _, b := range m.buffers {
		bufs = append(bufs, b)
	}
	m.mu.RUnlock()

	dropped := 0
	for _, b := range bufs {
		b.mu.Lock()
		kept := b.pairs[:0]
		for _, p := range b.pairs {
			if models.DaysBetween(p.TargetDate, asOf) < m.windowDays {
				kept = append(kept, p)
			} else {
				dropped++
			}
		}
		b.pairs = kept
		b.mu.Unlock()
	}
	return dropped
}

// Horizons returns every horizon with a baseline entry or live pairs.
func (m *Monitor) Horizons() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[int]bool)
	for h := range m.baselines {
		set[h] = true
	}
	for h := range m.buffers {
		set[h] = true
	}
	out := make([]int, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Ints(out)
	return out
}

// Check evaluates every horizon concurrently at asOf. Results are ordered by
// horizon.
func (m *Monitor) Check(ctx context.Context, asOf time.Time) ([]models.DriftCheckResult, error) {
	horizons := m.Horizons()
	results := make([]models.DriftCheckResult, len(horizons))

	var wg sync.WaitGroup
	for i, h := range horizons {
		wg.Add(1)
		go func(i, h int) {
			defer wg.Done()
			results[i] = m.CheckHorizon(h, asOf)
		}(i, h)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// CheckHorizon evaluates one horizon using pairs whose target date lies in
// (asOf - window, asOf].
func (m *Monitor) CheckHorizon(h int, asOf time.Time) models.DriftCheckResult {
	m.mu.RLock()
	baseline := m.baselines[h]
	buf := m.buffers[h]
	metrics := m.metrics
	m.mu.RUnlock()

	var errs []float64
	if buf != nil {
		buf.mu.Lock()
		for _, p := range buf.pairs {
			age := models.DaysBetween(p.TargetDate, asOf)
			if age >= 0 && age < m.windowDays {
				errs = append(errs, math.Abs(p.Actual-p.Predicted))
			}
		}
		buf.mu.Unlock()
	}

	res := models.DriftCheckResult{
		AsOf:        asOf,
		Horizon:     h,
		BaselineMAE: baseline,
		NLive:       len(errs),
		CheckedAt:   time.Now().UTC(),
	}
	if len(errs) > 0 {
		res.LiveMAE = models.Float(stat.Mean(errs, nil))
	}

	switch {
	case baseline == nil || *baseline <= 0:
		res.Level = models.DriftUnknown
	case res.LiveMAE == nil:
		res.Level = models.DriftNone
	default:
		ratio := *res.LiveMAE / *baseline
		res.Ratio = &ratio
		res.Level = m.policy.Classify(ratio)
	}

	decision := m.policy.Evaluate(res.Level)
	res.UncertaintyMultiplier = decision.Multiplier
	res.RetrainRecommended = decision.RetrainRecommended

	logging.LogDriftCheck(logging.WithHorizon(m.logger, h), h, res.Level.String(), res.Ratio,
		res.UncertaintyMultiplier, res.RetrainRecommended)
	if metrics != nil {
		metrics.ObserveDrift(res)
	}
	return res
}

// MultiplierFor returns the multiplier to apply for horizon h from a set of
// check results, defaulting to the unknown multiplier.
func MultiplierFor(results []models.DriftCheckResult, h int, policy Policy) float64 {
	for _, r := range results {
		if r.Horizon == h {
			return r.UncertaintyMultiplier
		}
	}
	return policy.UnknownMultiplier
}
