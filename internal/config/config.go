// Package config provides configuration management for the forecaster.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "economy-forecaster/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Features FeaturesConfig `mapstructure:"features"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Drift    DriftConfig    `mapstructure:"drift"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// StorageConfig holds persistence paths.
type StorageConfig struct {
	DBPath     string `mapstructure:"db_path"`
	EventsFile string `mapstructure:"events_file"`
}

// LoggingConfig mirrors logging.LogConfig in file form.
type LoggingConfig struct {
	Level      string `mapstructure:"level" default:"info" validate:"oneof=debug info warn error"`
	Console    bool   `mapstructure:"console" default:"true"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size" default:"50" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" default:"5" validate:"min=0"`
	MaxAge     int    `mapstructure:"max_age" default:"14" validate:"min=0"`
}

// FeaturesConfig holds temporal feature engine settings.
type FeaturesConfig struct {
	Timezone           string  `mapstructure:"timezone" default:"UTC" validate:"required"`
	Lags               []int   `mapstructure:"lags" default:"[1,3,7,14,28]" validate:"required,dive,min=1"`
	RollingWindows     []int   `mapstructure:"rolling_windows" default:"[7,14,28]" validate:"required,dive,min=2"`
	OutlierZThreshold  float64 `mapstructure:"outlier_z_threshold" default:"3.0" validate:"gt=0"`
	PreEventWindowDays int     `mapstructure:"pre_event_window_days" default:"7" validate:"min=1"`
	ColdStartThreshold int     `mapstructure:"cold_start_threshold" default:"30" validate:"min=0"`

	// TransferConfidence maps a root category to the confidence of the
	// prior its cold-start series borrow.
	TransferConfidence map[string]float64 `mapstructure:"transfer_confidence" validate:"dive,keys,required,endkeys,gt=0,lte=1"`
}

// BacktestConfig holds walk-forward backtest settings.
type BacktestConfig struct {
	WindowDays      int      `mapstructure:"window_days" default:"30" validate:"min=1"`
	StepDays        int      `mapstructure:"step_days" default:"7" validate:"min=1"`
	Horizons        []int    `mapstructure:"horizons" default:"[1,7,28]" validate:"required,dive,min=1"`
	MinTrainRows    int      `mapstructure:"min_train_rows" default:"14" validate:"min=1"`
	ProductionModel string   `mapstructure:"production_model" default:"linear" validate:"required"`
	Models          []string `mapstructure:"models" default:"[\"last_value\",\"rolling_mean\",\"linear_trend\",\"seasonal_naive\",\"volatility\"]"`
	Workers         int      `mapstructure:"workers" validate:"min=0"`
}

// ForecastConfig holds confidence-interval calibration settings.
type ForecastConfig struct {
	ConfidenceLevel float64 `mapstructure:"confidence_level" default:"0.80" validate:"gt=0,lt=1"`
	FallbackStdPct  float64 `mapstructure:"fallback_std_pct" default:"0.20" validate:"gt=0"`
	MinHalfWidthPct float64 `mapstructure:"min_half_width_pct" default:"0.05" validate:"gte=0"`

	// Cold-start series widen the half-width by cold_start_widening over
	// the transfer confidence, capped at cold_start_max_widening.
	ColdStartWidening    float64 `mapstructure:"cold_start_widening" default:"1.5" validate:"gt=0"`
	ColdStartMaxWidening float64 `mapstructure:"cold_start_max_widening" default:"3.0" validate:"gte=1"`
}

// DriftConfig holds the drift policy table.
type DriftConfig struct {
	WindowDays        int       `mapstructure:"window_days" default:"7" validate:"min=1"`
	Thresholds        []float64 `mapstructure:"thresholds" default:"[1.2,1.5,2.0,3.0]" validate:"len=4"`
	Multipliers       []float64 `mapstructure:"multipliers" default:"[1.0,1.2,1.5,2.0,3.0]" validate:"len=5,dive,gte=1"`
	UnknownMultiplier float64   `mapstructure:"unknown_multiplier" default:"3.0" validate:"gte=1"`
	RetrainLevel      string    `mapstructure:"retrain_level" default:"HIGH" validate:"oneof=LOW MODERATE HIGH CRITICAL"`
	AllowAutoRetrain  bool      `mapstructure:"allow_auto_retrain"`
	DataDriftZ        float64   `mapstructure:"data_drift_z" default:"2.0" validate:"gt=0"`
	ShockWindowDays   int       `mapstructure:"shock_window_days" default:"7" validate:"min=0"`
}

// ScoringConfig holds recommendation weights and action thresholds.
type ScoringConfig struct {
	Opportunity      float64 `mapstructure:"opportunity_weight" default:"0.35" validate:"gte=0"`
	Liquidity        float64 `mapstructure:"liquidity_weight" default:"0.20" validate:"gte=0"`
	Volatility       float64 `mapstructure:"volatility_weight" default:"0.20" validate:"gte=0"`
	EventBoost       float64 `mapstructure:"event_boost_weight" default:"0.15" validate:"gte=0"`
	Uncertainty      float64 `mapstructure:"uncertainty_weight" default:"0.10" validate:"gte=0"`
	BuyROI           float64 `mapstructure:"buy_roi" default:"0.10" validate:"gt=0"`
	SellROI          float64 `mapstructure:"sell_roi" default:"0.10" validate:"gt=0"`
	AvoidUncertainty float64 `mapstructure:"avoid_uncertainty" default:"0.80" validate:"gt=0"`
	AvoidCV          float64 `mapstructure:"avoid_cv" default:"0.80" validate:"gt=0"`
	TopN             int     `mapstructure:"top_n" validate:"min=0"`
}

// MonitorConfig holds scheduled monitoring settings.
type MonitorConfig struct {
	Schedule    string `mapstructure:"schedule" default:"0 0 * * * *" validate:"required"`
	MetricsAddr string `mapstructure:"metrics_addr" default:":9464"`

	// Consecutive failed cycles before scheduled cycles are skipped for Cooldown.
	FailureThreshold int           `mapstructure:"failure_threshold" default:"3" validate:"min=1"`
	Cooldown         time.Duration `mapstructure:"cooldown" default:"30m"`
}

// NotifyConfig holds drift alert delivery settings.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	MinLevel   string        `mapstructure:"min_level" default:"HIGH" validate:"oneof=LOW MODERATE HIGH CRITICAL"`
	Timeout    time.Duration `mapstructure:"timeout" default:"10s"`
}

var validate = validator.New()

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/economy-forecaster"
	}
	return filepath.Join(home, ".config", "economy-forecaster")
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.fillPaths(DefaultConfigDir())
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env is optional
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	cfg.fillPaths(configDir)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Defaults are usable; leave a template behind for the operator.
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func (c *Config) fillPaths(configDir string) {
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(configDir, "forecaster.db")
	}
	if c.Storage.EventsFile == "" {
		c.Storage.EventsFile = filepath.Join(configDir, "events.yaml")
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(configDir, "logs", "forecaster.log")
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORECASTER_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("FORECASTER_EVENTS_FILE"); v != "" {
		cfg.Storage.EventsFile = v
	}
	if v := os.Getenv("FORECASTER_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("FORECASTER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperrors.NewValidationError("config", fe.Namespace(), fe.Value(),
				fmt.Sprintf("failed %q constraint", fe.Tag()))
		}
		return err
	}

	th := c.Drift.Thresholds
	for i := 1; i < len(th); i++ {
		if th[i] <= th[i-1] {
			return apperrors.NewValidationError("config", "drift.thresholds", th, "must be strictly increasing")
		}
	}
	if len(th) > 0 && th[0] <= 0 {
		return apperrors.NewValidationError("config", "drift.thresholds", th, "must be positive")
	}
	m := c.Drift.Multipliers
	for i := 1; i < len(m); i++ {
		if m[i] < m[i-1] {
			return apperrors.NewValidationError("config", "drift.multipliers", m, "must be non-decreasing")
		}
	}
	if len(m) > 0 && c.Drift.UnknownMultiplier < m[len(m)-1] {
		return apperrors.NewValidationError("config", "drift.unknown_multiplier", c.Drift.UnknownMultiplier,
			"must not be narrower than the widest level multiplier")
	}

	sum := c.Scoring.Opportunity + c.Scoring.Liquidity + c.Scoring.Volatility + c.Scoring.EventBoost + c.Scoring.Uncertainty
	if sum <= 0 {
		return apperrors.NewValidationError("config", "scoring", sum, "weights must not all be zero")
	}

	if _, err := c.Location(); err != nil {
		return apperrors.NewValidationError("config", "features.timezone", c.Features.Timezone, err.Error())
	}

	seen := make(map[int]bool, len(c.Backtest.Horizons))
	for _, h := range c.Backtest.Horizons {
		if seen[h] {
			return apperrors.NewValidationError("config", "backtest.horizons", h, "duplicate horizon")
		}
		seen[h] = true
	}

	return nil
}

// Location returns the reference time zone used for day boundaries.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Features.Timezone)
}

// ConfigPath returns the config file path for a directory.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}
