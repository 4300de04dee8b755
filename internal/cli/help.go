package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

// addHelpCommands adds help and documentation commands.
func addHelpCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newCommandsCmd(app))
	rootCmd.AddCommand(newExamplesCmd(app))
	rootCmd.AddCommand(newQuickstartCmd(app))
}

type helpEntry struct {
	cmd  string
	desc string
}

func newCommandsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List all commands by category",
		Long:  "Display all available commands organized by category.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("Economy Forecaster Commands")
			output.Println()

			categories := []struct {
				name     string
				commands []helpEntry
			}{
				{
					name: "Data",
					commands: []helpEntry{
						{"import observations <file|->", "Import price observations from CSV"},
						{"events validate [file]", "Validate an event seed file"},
						{"events load [file]", "Store the event calendar"},
						{"events list [--as-of]", "List events known at a date"},
						{"features [--as-of]", "Build features and report quality"},
						{"status", "Data freshness"},
					},
				},
				{
					name: "Forecasting",
					commands: []helpEntry{
						{"backtest [--start] [--end]", "Walk-forward backtest of all models"},
						{"runs list/show", "Stored backtest runs"},
						{"forecast [--as-of]", "Forecasts with drift-aware intervals"},
						{"recommend [--top] [--action]", "Ranked buy/sell/hold/avoid list"},
					},
				},
				{
					name: "Monitoring",
					commands: []helpEntry{
						{"check-drift [--as-of]", "Compare live error to the backtest"},
						{"monitor", "Scheduled cycle plus metrics server"},
						{"monitor --once", "Run one cycle and exit"},
						{"health", "Component health"},
					},
				},
				{
					name: "Utilities",
					commands: []helpEntry{
						{"config show/path/validate", "Configuration"},
						{"commands", "List all commands"},
						{"examples", "Common workflows"},
						{"quickstart", "New user guide"},
						{"version", "Version information"},
					},
				},
			}

			for _, cat := range categories {
				output.Bold(cat.name)
				for _, c := range cat.commands {
					output.Printf("  %s %s\n", output.ColoredString(ColorCyan, PadRight(c.cmd, 32)), c.desc)
				}
				output.Println()
			}

			output.Dim("Use 'forecaster help <command>' for detailed help on any command")
			return nil
		},
	}
}

func newExamplesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Show common workflow examples",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("Common Workflow Examples")
			output.Println()

			examples := []struct {
				title    string
				commands []string
			}{
				{
					title: "Load History",
					commands: []string{
						"forecaster import observations prices.csv  # Import auction snapshots",
						"forecaster events load events.yaml         # Store the patch calendar",
						"forecaster features                        # Check feature quality",
					},
				},
				{
					title: "Backtest",
					commands: []string{
						"forecaster backtest                        # All available history",
						"forecaster backtest --start 2024-01-01 --end 2024-06-30",
						"forecaster runs list                       # Compare runs",
						"forecaster runs show <run-id>              # Per-model metrics",
					},
				},
				{
					title: "Daily Review",
					commands: []string{
						"forecaster check-drift                     # Live vs backtest error",
						"forecaster recommend --top 5               # Best opportunities",
						"forecaster recommend --action buy --category consumable",
					},
				},
				{
					title: "Unattended",
					commands: []string{
						"forecaster monitor                         # Cron cycle + /metrics",
						"curl localhost:9464/healthz                # Health probe",
						"curl localhost:9464/api/drift              # Latest drift checks",
					},
				},
			}

			for _, ex := range examples {
				output.Bold(ex.title)
				for _, c := range ex.commands {
					parts := strings.SplitN(c, "#", 2)
					if len(parts) == 2 {
						output.Printf("  %s %s\n",
							output.ColoredString(ColorCyan, strings.TrimSpace(parts[0])),
							output.ColoredString(ColorDim, strings.TrimSpace(parts[1])))
					} else {
						output.Printf("  %s\n", output.ColoredString(ColorCyan, c))
					}
				}
				output.Println()
			}
			return nil
		},
	}
}

func newQuickstartCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quickstart",
		Short: "New user guide",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("Economy Forecaster - Quick Start Guide")
			output.Println()

			steps := []struct {
				title string
				desc  string
				cmd   string
			}{
				{"Review Configuration", "Defaults are written on first run.", "forecaster config show"},
				{"Import Observations", "CSV with entity_id,realm,category,observed_at,price,volume.", "forecaster import observations prices.csv"},
				{"Load the Event Calendar", "Patches, holidays and launches with their announcement time.", "forecaster events load events.yaml"},
				{"Backtest", "Produces the baseline error every drift check compares against.", "forecaster backtest"},
				{"Forecast and Recommend", "Intervals widen when live error drifts.", "forecaster recommend"},
				{"Monitor", "Run the cycle on a schedule and scrape /metrics.", "forecaster monitor"},
			}

			for i, s := range steps {
				output.Printf("%s Step %d: %s\n", output.ColoredString(ColorCyan, "→"), i+1, output.ColoredString(ColorBold, s.title))
				output.Printf("  %s\n", s.desc)
				output.Printf("  %s\n\n", output.ColoredString(ColorDim, s.cmd))
			}

			output.Bold("Notes")
			output.Printf("  %s Forecasts before the first backtest use the widest interval\n", output.ColoredString(ColorYellow, "⚠"))
			output.Printf("  %s Events only count once they were announced\n", output.ColoredString(ColorYellow, "⚠"))
			return nil
		},
	}
}
