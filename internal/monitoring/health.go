package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"economy-forecaster/internal/models"
	"economy-forecaster/internal/performance"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

var healthRank = map[HealthStatus]int{
	HealthOK:       0,
	HealthUnknown:  1,
	HealthDegraded: 2,
	HealthCritical: 3,
}

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	LastCheck time.Time              `json:"last_check"`
	Latency   time.Duration          `json:"latency"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck reports one component's health.
type HealthCheck func(ctx context.Context) ComponentHealth

// Pinger is satisfied by the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthConfig holds health check thresholds.
type HealthConfig struct {
	DegradedRatio      float64
	CriticalRatio      float64
	MemoryThresholdMB  uint64
	GoroutineThreshold int
	CheckTimeout       time.Duration
}

// DefaultHealthConfig returns default thresholds.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		DegradedRatio:      1.5,
		CriticalRatio:      3.0,
		MemoryThresholdMB:  500,
		GoroutineThreshold: 1000,
		CheckTimeout:       10 * time.Second,
	}
}

// SystemHealth represents overall system health.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Uptime     time.Duration     `json:"uptime"`
	Components []ComponentHealth `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// HealthMonitor runs registered checks concurrently and keeps the latest
// result per component.
type HealthMonitor struct {
	cfg       HealthConfig
	startTime time.Time

	mu         sync.RWMutex
	components map[string]HealthCheck
	latest     SystemHealth
}

// NewHealthMonitor creates a health monitor with the memory check installed.
func NewHealthMonitor(cfg HealthConfig) *HealthMonitor {
	m := &HealthMonitor{
		cfg:        cfg,
		startTime:  time.Now(),
		components: make(map[string]HealthCheck),
		latest:     SystemHealth{Status: HealthUnknown},
	}
	m.RegisterComponent("memory", m.checkMemory)
	return m
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
}

// Run executes every check and returns the aggregate. A panicking check is
// reported as critical.
func (m *HealthMonitor) Run(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.components))
	for k, v := range m.components {
		checks[k] = v
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(checks))
	for name, check := range checks {
		wg.Add(1)
		go func(n string, c HealthCheck) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- ComponentHealth{Name: n, Status: HealthCritical,
						Message: fmt.Sprintf("panic recovered: %v", r), LastCheck: time.Now()}
				}
			}()

			start := time.Now()
			h := c(ctx)
			h.Name = n
			h.LastCheck = time.Now()
			h.Latency = time.Since(start)
			results <- h
		}(name, check)
	}
	wg.Wait()
	close(results)

	out := SystemHealth{Status: HealthOK, Uptime: time.Since(m.startTime), CheckedAt: time.Now().UTC()}
	for h := range results {
		out.Components = append(out.Components, h)
		if healthRank[h.Status] > healthRank[out.Status] {
			out.Status = h.Status
		}
	}
	sort.Slice(out.Components, func(i, j int) bool { return out.Components[i].Name < out.Components[j].Name })

	m.mu.Lock()
	m.latest = out
	m.mu.Unlock()
	return out
}

// Latest returns the last aggregate without running checks.
func (m *HealthMonitor) Latest() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

func (m *HealthMonitor) checkMemory(_ context.Context) ComponentHealth {
	stats := performance.MemoryStats()
	allocMB := stats.HeapAlloc / 1024 / 1024

	h := ComponentHealth{
		Name: "memory",
		Details: map[string]interface{}{
			"heap_alloc_mb": allocMB,
			"heap_inuse_mb": stats.HeapInuse / 1024 / 1024,
			"num_gc":        stats.NumGC,
			"goroutines":    stats.Goroutines,
		},
	}
	switch {
	case allocMB > m.cfg.MemoryThresholdMB:
		h.Status = HealthDegraded
		h.Message = fmt.Sprintf("memory usage high: %d MB", allocMB)
	case stats.Goroutines > m.cfg.GoroutineThreshold:
		h.Status = HealthDegraded
		h.Message = fmt.Sprintf("high goroutine count: %d", stats.Goroutines)
	default:
		h.Status = HealthOK
		h.Message = fmt.Sprintf("memory usage: %d MB", allocMB)
	}
	return h
}

// DatabaseHealthCheck pings the store.
func DatabaseHealthCheck(db Pinger) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := db.Ping(ctx); err != nil {
			return ComponentHealth{Status: HealthCritical, Message: fmt.Sprintf("database unreachable: %v", err)}
		}
		return ComponentHealth{Status: HealthOK, Message: "database reachable"}
	}
}

// ModelHealth classifies a live/baseline MAE ratio. No pairs means unknown.
func ModelHealth(ratio *float64, cfg HealthConfig) HealthStatus {
	switch {
	case ratio == nil:
		return HealthUnknown
	case *ratio >= cfg.CriticalRatio:
		return HealthCritical
	case *ratio >= cfg.DegradedRatio:
		return HealthDegraded
	default:
		return HealthOK
	}
}

// ModelHealthCheck reports the worst horizon of the monitor's latest checks.
func ModelHealthCheck(mon *Monitor, cfg HealthConfig, now func() time.Time) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		results, err := mon.Check(ctx, now())
		if err != nil {
			return ComponentHealth{Status: HealthUnknown, Message: err.Error()}
		}
		return modelComponent(results, cfg)
	}
}

// DriftResultsHealthCheck reports the worst horizon of the most recent drift
// results supplied by latest. Nil results mean no check has run yet.
func DriftResultsHealthCheck(latest func() []models.DriftCheckResult, cfg HealthConfig) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		return modelComponent(latest(), cfg)
	}
}

func modelComponent(results []models.DriftCheckResult, cfg HealthConfig) ComponentHealth {
	h := ComponentHealth{Status: HealthOK, Details: map[string]interface{}{}}
	if len(results) == 0 {
		h.Status = HealthUnknown
		h.Message = "no horizons monitored"
		return h
	}
	worst := HealthOK
	anyKnown := false
	for _, r := range results {
		s := ModelHealth(r.Ratio, cfg)
		h.Details[fmt.Sprintf("h%d", r.Horizon)] = string(s)
		if s != HealthUnknown {
			anyKnown = true
			if healthRank[s] > healthRank[worst] {
				worst = s
			}
		}
	}
	if !anyKnown {
		worst = HealthUnknown
	}
	h.Status = worst
	h.Message = fmt.Sprintf("%d horizons, worst %s", len(results), worst)
	return h
}

// Handler serves the latest health as JSON, running checks when none have
// been run yet. Critical health answers 503.
func (m *HealthMonitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := m.Latest()
		if h.CheckedAt.IsZero() {
			h = m.Run(r.Context())
		}
		w.Header().Set("Content-Type", "application/json")
		if h.Status == HealthCritical {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	})
}
