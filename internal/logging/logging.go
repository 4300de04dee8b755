// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       false,
		FilePath:   filepath.Join(home, ".config", "economy-forecaster", "logs", "forecaster.log"),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:         os.Stderr,
			TimeFormat:  time.RFC3339,
			FormatLevel: formatLevel,
		})
	}

	if cfg.File {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(writer).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

func formatLevel(i interface{}) string {
	ll, ok := i.(string)
	if !ok {
		return "???"
	}
	switch ll {
	case "debug":
		return "\033[36mDBG\033[0m"
	case "info":
		return "\033[32mINF\033[0m"
	case "warn":
		return "\033[33mWRN\033[0m"
	case "error":
		return "\033[31mERR\033[0m"
	default:
		return ll
	}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ContextKey is the type for context keys.
type ContextKey string

// LoggerKey is the context key for the logger.
const LoggerKey ContextKey = "logger"

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithRun adds a backtest or forecast run ID to the logger context.
func WithRun(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// WithHorizon adds a forecast horizon to the logger context.
func WithHorizon(logger zerolog.Logger, horizon int) zerolog.Logger {
	return logger.With().Int("horizon", horizon).Logger()
}

// WithEntity adds an entity/realm pair to the logger context.
func WithEntity(logger zerolog.Logger, entityID, realm string) zerolog.Logger {
	return logger.With().Str("entity", entityID).Str("realm", realm).Logger()
}

// WithOperation adds an operation name to the logger context.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogFold logs the outcome of a single backtest fold.
func LogFold(logger zerolog.Logger, fold, horizon int, testDate time.Time, predictions int, skipped bool, reason string) {
	event := logger.Info()
	if skipped {
		event = logger.Warn().Str("reason", reason)
	}
	event.
		Str("event", "fold").
		Int("fold", fold).
		Int("horizon", horizon).
		Str("test_date", testDate.Format("2006-01-02")).
		Int("predictions", predictions).
		Bool("skipped", skipped).
		Msg("Fold evaluated")
}

// LogDriftCheck logs a drift check result.
func LogDriftCheck(logger zerolog.Logger, horizon int, level string, ratio *float64, multiplier float64, retrain bool) {
	event := logger.Info().
		Str("event", "drift_check").
		Int("horizon", horizon).
		Str("level", level).
		Float64("multiplier", multiplier).
		Bool("retrain", retrain)
	if ratio != nil {
		event = event.Float64("ratio", *ratio)
	}
	event.Msg("Drift checked")
}

// LogRecommendation logs a scored recommendation.
func LogRecommendation(logger zerolog.Logger, entityID, action string, score float64, rank int) {
	logger.Debug().
		Str("event", "recommendation").
		Str("entity", entityID).
		Str("action", action).
		Float64("score", score).
		Int("rank", rank).
		Msg("Recommendation scored")
}

// LogStage logs completion of a pipeline stage.
func LogStage(logger zerolog.Logger, stage string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "stage").
		Str("stage", stage).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("Stage failed")
	} else {
		event.Msg("Stage completed")
	}
}
