package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Economy Forecaster Configuration

[storage]
# SQLite database (defaults to <config dir>/forecaster.db)
# db_path = ""
# Event registry seed file, YAML or JSON
# events_file = ""

[logging]
level = "info"
console = true
file = false

[features]
# Reference zone for calendar-day boundaries
timezone = "UTC"
lags = [1, 3, 7, 14, 28]
rolling_windows = [7, 14, 28]
# Observations with |z| above this are dropped from daily aggregates
outlier_z_threshold = 3.0
pre_event_window_days = 7
# Series with fewer non-outlier observations are cold-start
cold_start_threshold = 30

# Confidence (0-1] of the prior borrowed by cold-start series, per category
# [features.transfer_confidence]
# consumable = 0.9

[backtest]
window_days = 30
step_days = 7
horizons = [1, 7, 28]
# Folds whose series have fewer priced rows are skipped
min_train_rows = 14
production_model = "linear"
models = ["last_value", "rolling_mean", "linear_trend", "seasonal_naive", "volatility"]
# 0 = number of CPUs
workers = 0

[forecast]
confidence_level = 0.80
fallback_std_pct = 0.20
min_half_width_pct = 0.05
# Cold-start widening: cold_start_widening / transfer confidence, capped
cold_start_widening = 1.5
cold_start_max_widening = 3.0

[drift]
window_days = 7
# live/baseline MAE ratio bands: NONE < 1.2 <= LOW < 1.5 <= MODERATE < 2.0 <= HIGH < 3.0 <= CRITICAL
thresholds = [1.2, 1.5, 2.0, 3.0]
multipliers = [1.0, 1.2, 1.5, 2.0, 3.0]
# Applied when no backtest baseline exists for a horizon
unknown_multiplier = 3.0
retrain_level = "HIGH"
allow_auto_retrain = false
data_drift_z = 2.0
shock_window_days = 7

[scoring]
opportunity_weight = 0.35
liquidity_weight = 0.20
volatility_weight = 0.20
event_boost_weight = 0.15
uncertainty_weight = 0.10
buy_roi = 0.10
sell_roi = 0.10
avoid_uncertainty = 0.80
avoid_cv = 0.80
top_n = 0

[monitor]
# cron expression with seconds field
schedule = "0 0 * * * *"
metrics_addr = ":9464"
# Skip scheduled cycles for cooldown after this many consecutive failures
failure_threshold = 3
cooldown = "30m"

[notify]
# POST drift alerts here; FORECASTER_WEBHOOK_URL in .env overrides it
# webhook_url = ""
min_level = "HIGH"
timeout = "10s"
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
