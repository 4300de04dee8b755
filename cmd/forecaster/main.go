// Command forecaster imports auction history, backtests price models and
// serves drift-aware forecasts and recommendations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"economy-forecaster/internal/cli"
	"economy-forecaster/internal/config"
	"economy-forecaster/internal/logging"
)

func main() {
	cfg, err := config.Load(os.Getenv("FORECASTER_CONFIG_DIR"))
	if err != nil {
		logger := logging.NewLogger()
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	log := cli.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(cfg, log).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
