package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"economy-forecaster/internal/logging"
	"economy-forecaster/internal/models"
	"economy-forecaster/internal/monitoring"
	"economy-forecaster/internal/notify"
	"economy-forecaster/internal/pipeline"
	"economy-forecaster/internal/resilience"
	"economy-forecaster/internal/scheduler"
	"economy-forecaster/internal/server"
)

const (
	defaultPingTimeout = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
	healthSchedule     = "0 * * * * *"
)

// addMonitoringCommands adds the long-running monitor and health commands.
func addMonitoringCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newMonitorCmd(app))
	rootCmd.AddCommand(newHealthCmd(app))
}

// newHealthMonitor wires the store and the latest drift checks into a
// health monitor.
func newHealthMonitor(app *App, p *pipeline.Pipeline) *monitoring.HealthMonitor {
	cfg := monitoring.DefaultHealthConfig()
	hm := monitoring.NewHealthMonitor(cfg)
	hm.RegisterComponent("database", monitoring.DatabaseHealthCheck(app.Store))
	hm.RegisterComponent("model", monitoring.DriftResultsHealthCheck(latestDrift(p), cfg))
	return hm
}

func latestDrift(p *pipeline.Pipeline) func() []models.DriftCheckResult {
	return func() []models.DriftCheckResult {
		if r := p.LastDrift(); r != nil {
			return r.Checks
		}
		return nil
	}
}

func newMonitorCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run scheduled drift checks and serve metrics",
		Long: `Run the monitoring cycle on the configured cron schedule. Each cycle checks
drift, retrains when the policy allows it, and refreshes recommendations.

While running, an HTTP server on monitor.metrics_addr serves:
  /metrics              Prometheus metrics
  /healthz              component health (503 when critical)
  /api/drift            latest drift checks
  /api/runs[/{id}]      backtest runs
  /api/recommendations  stored recommendations

Stop with Ctrl+C.`,
		Example: `  forecaster monitor
  forecaster monitor --once
  forecaster monitor --addr :9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := app.Pipeline()
			if err != nil {
				return err
			}

			once, _ := cmd.Flags().GetBool("once")
			if once {
				report, err := p.RunCycle(cmd.Context(), time.Now().UTC())
				if err != nil {
					output.Error("Cycle failed: %v", err)
					return err
				}
				if output.IsJSON() {
					return output.JSON(report)
				}
				return showCycle(output, report)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			breaker := resilience.NewCircuitBreaker("cycle", resilience.CircuitBreakerConfig{
				FailureThreshold: app.Config.Monitor.FailureThreshold,
				SuccessThreshold: 1,
				Cooldown:         app.Config.Monitor.Cooldown,
			})
			health := newHealthMonitor(app, p)
			health.RegisterComponent("cycle", breaker.HealthCheck())
			sched := scheduler.New(app.Logger, app.Metrics)

			cycle := scheduler.FuncJob("cycle", func(ctx context.Context) error {
				err := breaker.Execute(ctx, func(ctx context.Context) error {
					_, err := p.RunCycle(ctx, time.Now().UTC())
					return err
				})
				if errors.Is(err, resilience.ErrCircuitOpen) {
					logger := logging.FromContext(ctx)
					logger.Warn().Msg("Cycle skipped while circuit is open")
					return nil
				}
				if err != nil {
					if nerr := app.Notifier.Send(ctx, notify.ErrorAlert(err, "cycle")); nerr != nil {
						app.Logger.Warn().Err(nerr).Msg("Failed to send error alert")
					}
				}
				return err
			})
			if err := sched.AddJob(app.Config.Monitor.Schedule, cycle); err != nil {
				return err
			}
			if err := sched.AddJob(healthSchedule, scheduler.FuncJob("health", func(ctx context.Context) error {
				health.Run(ctx)
				return nil
			})); err != nil {
				return err
			}

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.Config.Monitor.MetricsAddr
			}
			srv := server.New(server.Config{
				Addr:    addr,
				Log:     app.Logger,
				Store:   app.Store,
				Metrics: app.Metrics,
				Health:  health,
				Drift:   latestDrift(p),
			})

			sched.Start()
			defer sched.Stop()

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			if next, ok := sched.Next("cycle"); ok {
				output.Success("Monitoring on %s, next cycle %s", addr, FormatDateTime(next))
			}

			var runErr error
			select {
			case <-ctx.Done():
				app.Logger.Info().Msg("Shutting down monitor")
			case runErr = <-errCh:
				app.Logger.Error().Err(runErr).Msg("HTTP server failed")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				app.Logger.Error().Err(err).Msg("Server forced to shutdown")
			}
			return runErr
		},
	}
	cmd.Flags().Bool("once", false, "run a single cycle now and exit")
	cmd.Flags().String("addr", "", "listen address (default: monitor.metrics_addr)")
	return cmd
}

func showCycle(output *Output, r *pipeline.CycleReport) error {
	if r.Drift != nil {
		showDrift(output, r.Drift)
		output.Println()
	}
	if r.Retrained != nil {
		output.Warning("Retrained: run %s (%s)", r.Retrained.ID, r.Retrained.Status)
		output.Println()
	}
	showRecommendations(output, r.Recommendations)
	return nil
}

func newHealthCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run health checks once",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := app.Pipeline()
			if err != nil {
				return err
			}
			if _, err := p.CheckDrift(cmd.Context(), time.Now().UTC()); err != nil {
				output.Warning("Drift check failed: %v", err)
			}

			h := newHealthMonitor(app, p).Run(cmd.Context())
			if output.IsJSON() {
				return output.JSON(h)
			}

			output.Printf("Status: %s  (uptime %s)\n", healthColor(output, h.Status), FormatDuration(h.Uptime))
			table := NewTable(output, "COMPONENT", "STATUS", "LATENCY", "MESSAGE")
			for _, c := range h.Components {
				table.AddRow(c.Name, healthColor(output, c.Status), FormatDuration(c.Latency), TruncateString(c.Message, 60))
			}
			table.Render()
			return nil
		},
	}
}

func healthColor(output *Output, s monitoring.HealthStatus) string {
	switch s {
	case monitoring.HealthOK:
		return output.ColoredString(ColorGreen, string(s))
	case monitoring.HealthDegraded:
		return output.ColoredString(ColorYellow, string(s))
	case monitoring.HealthCritical:
		return output.ColoredString(ColorRed, string(s))
	default:
		return output.ColoredString(ColorMagenta, string(s))
	}
}
