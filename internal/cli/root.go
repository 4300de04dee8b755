// Package cli provides the command-line interface for the forecaster.
package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"economy-forecaster/internal/config"
	"economy-forecaster/internal/logging"
	"economy-forecaster/internal/models"
	"economy-forecaster/internal/monitoring"
	"economy-forecaster/internal/notify"
	"economy-forecaster/internal/pipeline"
	"economy-forecaster/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies. The store and pipeline are opened
// on first use so that commands like version never touch the database.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	Store     store.DataStore
	Metrics   *monitoring.Metrics
	Notifier  *notify.MultiNotifier

	pipeline *pipeline.Pipeline
}

// Pipeline returns the pipeline, opening the store if needed.
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	if a.pipeline != nil {
		return a.pipeline, nil
	}
	if a.Store == nil {
		st, err := store.NewSQLiteStore(a.Config.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.Store = st
		a.Logger.Debug().Str("path", a.Config.Storage.DBPath).Msg("SQLite store initialized")
	}
	if a.Notifier == nil {
		n, err := notify.NewMultiNotifier(a.Config.Notify, a.Logger)
		if err != nil {
			return nil, err
		}
		a.Notifier = n
	}
	p, err := pipeline.New(a.Config, a.Store, a.Logger,
		pipeline.WithMetrics(a.Metrics),
		pipeline.WithNotifier(a.Notifier),
	)
	if err != nil {
		return nil, err
	}
	a.pipeline = p
	return p, nil
}

// Close releases the pipeline and store.
func (a *App) Close() {
	if a.pipeline != nil {
		if err := a.pipeline.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Worker pool did not stop cleanly")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close store")
		}
	}
}

// asOf reads the --as-of flag as a calendar day in the configured zone,
// defaulting to now.
func (a *App) asOf(cmd *cobra.Command) (time.Time, error) {
	s, _ := cmd.Flags().GetString("as-of")
	if s == "" {
		return time.Now().UTC(), nil
	}
	loc, err := a.Config.Location()
	if err != nil {
		return time.Time{}, err
	}
	d, err := models.ParseDate(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of: %w", err)
	}
	return d, nil
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: monitoring.NewMetrics(),
	}

	rootCmd := &cobra.Command{
		Use:   "forecaster",
		Short: "Economy Forecaster - leakage-safe item price forecasting",
		Long: `Economy Forecaster learns item-price behaviour from historical auction data,
backtests it with walk-forward folds, and serves calibrated forecasts whose
confidence intervals widen automatically when live accuracy drifts.

Use 'forecaster help <command>' for more information about a command.
Use 'forecaster examples' to see common workflows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dir, _ := cmd.Flags().GetString("config"); dir != "" {
				loaded, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = loaded
				app.ConfigDir = dir
				app.Logger = NewLogger(loaded.Logging)
			}
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/economy-forecaster)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addDataCommands(rootCmd, app)
	addForecastCommands(rootCmd, app)
	addMonitoringCommands(rootCmd, app)
	addHelpCommands(rootCmd, app)

	return rootCmd
}

// NewLogger builds the application logger from the logging section.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	return logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      cfg.Level,
		Console:    cfg.Console,
		File:       cfg.File,
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	})
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Economy Forecaster v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			path := config.ConfigPath(app.ConfigDir)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if _, err := pipeline.PolicyFromConfig(app.Config.Drift); err != nil {
				output.Error("Drift policy is invalid: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Storage")
	output.Printf("  Database:        %s\n", cfg.Storage.DBPath)
	output.Printf("  Event calendar:  %s\n", cfg.Storage.EventsFile)
	output.Println()

	output.Bold("Features")
	output.Printf("  Timezone:        %s\n", cfg.Features.Timezone)
	output.Printf("  Lags:            %v\n", cfg.Features.Lags)
	output.Printf("  Rolling windows: %v\n", cfg.Features.RollingWindows)
	output.Printf("  Outlier z:       %.1f\n", cfg.Features.OutlierZThreshold)
	output.Println()

	output.Bold("Backtest")
	output.Printf("  Window / step:   %d / %d days\n", cfg.Backtest.WindowDays, cfg.Backtest.StepDays)
	output.Printf("  Horizons:        %v\n", cfg.Backtest.Horizons)
	output.Printf("  Production:      %s\n", cfg.Backtest.ProductionModel)
	output.Printf("  Baselines:       %v\n", cfg.Backtest.Models)
	output.Println()

	output.Bold("Drift")
	output.Printf("  Window:          %d days\n", cfg.Drift.WindowDays)
	output.Printf("  Thresholds:      %v\n", cfg.Drift.Thresholds)
	output.Printf("  Multipliers:     %v (unknown %.1f)\n", cfg.Drift.Multipliers, cfg.Drift.UnknownMultiplier)
	output.Printf("  Retrain at:      %s (auto: %v)\n", cfg.Drift.RetrainLevel, cfg.Drift.AllowAutoRetrain)
	output.Println()

	output.Bold("Monitor")
	output.Printf("  Schedule:        %s\n", cfg.Monitor.Schedule)
	output.Printf("  Metrics addr:    %s\n", cfg.Monitor.MetricsAddr)

	return nil
}
