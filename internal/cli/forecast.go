package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"economy-forecaster/internal/backtest"
	"economy-forecaster/internal/models"
	"economy-forecaster/internal/pipeline"
	"economy-forecaster/internal/recommend"
	"economy-forecaster/pkg/utils"
)

// addForecastCommands adds backtest, forecast, drift and recommendation
// commands.
func addForecastCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newRunsCmd(app))
	rootCmd.AddCommand(newForecastCmd(app))
	rootCmd.AddCommand(newCheckDriftCmd(app))
	rootCmd.AddCommand(newRecommendCmd(app))
}

func dateFlag(app *App, cmd *cobra.Command, name string) (time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return time.Time{}, nil
	}
	loc, err := app.Config.Location()
	if err != nil {
		return time.Time{}, err
	}
	d, err := models.ParseDate(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return d, nil
}

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a walk-forward backtest of the production model and baselines",
		Long: `Run a walk-forward backtest. Each fold trains on a fixed window that ends
at its cutoff and is scored on the day one horizon later. The production
model's MAE per horizon becomes the drift baseline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := app.Pipeline()
			if err != nil {
				return err
			}
			var req pipeline.BacktestRequest
			if req.Start, err = dateFlag(app, cmd, "start"); err != nil {
				return err
			}
			if req.End, err = dateFlag(app, cmd, "end"); err != nil {
				return err
			}

			run, err := p.RunBacktest(cmd.Context(), req)
			if err != nil && run == nil {
				output.Error("Backtest failed: %v", err)
				return err
			}
			if output.IsJSON() {
				if jerr := output.JSON(runSummary(run)); jerr != nil {
					return jerr
				}
				return err
			}
			showRun(output, run.ID, run.Status, run.Config, run.Metrics, run.BaselineErrors)
			if err != nil {
				output.Error("Backtest ended %s: %v", run.Status, err)
			}
			return err
		},
	}
	cmd.Flags().String("start", "", "first day of data (YYYY-MM-DD, default first observation)")
	cmd.Flags().String("end", "", "last day of data (YYYY-MM-DD, default today)")
	return cmd
}

func runSummary(run *backtest.Run) map[string]interface{} {
	out := map[string]interface{}{
		"id":              run.ID,
		"status":          run.Status,
		"config":          run.Config,
		"folds":           len(run.Folds),
		"metrics":         run.Metrics,
		"baseline_errors": run.BaselineErrors,
	}
	if run.Err != nil {
		out["error"] = run.Err.Error()
	}
	return out
}

func showRun(output *Output, id string, status backtest.RunStatus, cfg backtest.Config, metrics []backtest.Metrics, baselines map[int]*float64) {
	output.Bold("Backtest %s", id)
	output.Printf("  Status:   %s\n", status)
	output.Printf("  Period:   %s to %s\n", FormatDate(cfg.StartDate), FormatDate(cfg.EndDate))
	output.Printf("  Window:   %d days, step %d\n", cfg.WindowDays, cfg.StepDays)
	output.Println()

	table := NewTable(output, "MODEL", "H", "N", "MAE", "RMSE", "MAPE", "DIR")
	for _, m := range metrics {
		name := m.Model
		if m.Model == cfg.ProductionModel {
			name = output.ColoredString(ColorBold, m.Model+" *")
		}
		table.AddRow(
			name,
			fmt.Sprintf("%d", m.Horizon),
			fmt.Sprintf("%d", m.NEvaluated),
			utils.FormatOptional(m.MAE, utils.FormatPrice),
			utils.FormatOptional(m.RMSE, utils.FormatPrice),
			utils.FormatOptional(m.MAPE, func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) }),
			utils.FormatOptional(m.DirectionalAccuracy, func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) }),
		)
	}
	table.Render()
	output.Println()

	for _, h := range cfg.Horizons {
		if b := baselines[h]; b != nil {
			output.Printf("  Baseline h=%d: %s\n", h, utils.FormatPrice(*b))
		} else {
			output.Warning("  Baseline h=%d: unavailable", h)
		}
	}
}

// showSlices renders the production model's slice metrics.
func showSlices(output *Output, label, model string, slices []backtest.Slice) {
	table := NewTable(output, label, "H", "N", "MAE", "MAPE")
	rows := 0
	for _, sl := range slices {
		if sl.Model != model {
			continue
		}
		rows++
		table.AddRow(
			sl.Key,
			fmt.Sprintf("%d", sl.Horizon),
			fmt.Sprintf("%d", sl.NEvaluated),
			utils.FormatOptional(sl.MAE, utils.FormatPrice),
			utils.FormatOptional(sl.MAPE, func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) }),
		)
	}
	if rows == 0 {
		return
	}
	output.Println()
	table.Render()
}

func newRunsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored backtest runs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent backtest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if _, err := app.Pipeline(); err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := app.Store.ListBacktestRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(runs)
			}
			table := NewTable(output, "ID", "STATUS", "STARTED", "FOLDS", "SKIPPED", "PREDICTIONS")
			for _, r := range runs {
				table.AddRow(r.ID, string(r.Status), FormatDateTime(r.StartedAt),
					fmt.Sprintf("%d", r.Folds), fmt.Sprintf("%d", r.SkippedFolds), utils.FormatCompact(float64(r.Predictions)))
			}
			table.Render()
			return nil
		},
	}
	listCmd.Flags().Int("limit", 20, "maximum runs to list")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a backtest run and its metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if _, err := app.Pipeline(); err != nil {
				return err
			}
			rec, err := app.Store.GetBacktestRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			preds, err := app.Store.GetBacktestPredictions(cmd.Context(), rec.ID)
			if err != nil {
				return err
			}
			byCategory := backtest.SliceByCategory(preds)
			byWindow := backtest.SliceByEventWindow(preds)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"run":             rec,
					"slices_category": byCategory,
					"slices_event":    byWindow,
				})
			}
			showRun(output, rec.ID, rec.Status, rec.Config, rec.Metrics, rec.BaselineErrors)
			showSlices(output, "CATEGORY", rec.Config.ProductionModel, byCategory)
			showSlices(output, "WINDOW", rec.Config.ProductionModel, byWindow)
			if rec.Error != "" {
				output.Error("Error: %s", rec.Error)
			}
			return nil
		},
	})

	return cmd
}

func newForecastCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Generate calibrated forecasts for every series",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := app.Pipeline()
			if err != nil {
				return err
			}
			asOf, err := app.asOf(cmd)
			if err != nil {
				return err
			}
			fr, err := p.Forecast(cmd.Context(), asOf)
			if err != nil {
				output.Error("Forecast failed: %v", err)
				return err
			}
			entity, _ := cmd.Flags().GetString("entity")
			var shown []models.ForecastOutput
			for _, f := range fr.Result.Forecasts {
				if entity == "" || f.EntityID == entity {
					shown = append(shown, f)
				}
			}
			if output.IsJSON() {
				return output.JSON(shown)
			}

			table := NewTable(output, "ENTITY", "REALM", "H", "TARGET", "POINT", "LOWER", "UPPER", "MULT")
			for _, f := range shown {
				table.AddRow(TruncateString(f.EntityID, 28), f.Realm, fmt.Sprintf("%d", f.Horizon), FormatDate(f.TargetDate),
					utils.FormatPrice(f.Point), utils.FormatPrice(f.CILower), utils.FormatPrice(f.CIUpper),
					fmt.Sprintf("%.1fx", f.MultiplierApplied))
			}
			table.Render()
			output.Println()
			output.Dim("Run %s: %d forecasts, %d series skipped, %d failures", fr.RunID, len(fr.Result.Forecasts), len(fr.Result.Skipped), len(fr.Result.Failures))
			return nil
		},
	}
	cmd.Flags().String("as-of", "", "forecast origin day (YYYY-MM-DD, default today)")
	cmd.Flags().String("entity", "", "only show one entity")
	return cmd
}

func newCheckDriftCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-drift",
		Short: "Compare live forecast error with the backtest baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := app.Pipeline()
			if err != nil {
				return err
			}
			asOf, err := app.asOf(cmd)
			if err != nil {
				return err
			}
			report, err := p.CheckDrift(cmd.Context(), asOf)
			if err != nil {
				output.Error("Drift check failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(report)
			}
			showDrift(output, report)
			return nil
		},
	}
	cmd.Flags().String("as-of", "", "evaluation day (YYYY-MM-DD, default today)")
	return cmd
}

func showDrift(output *Output, r *pipeline.DriftReport) {
	output.Bold("Drift at %s", FormatDateTime(r.AsOf))
	if r.BaselineRun == "" {
		output.Warning("No aggregated backtest; run 'forecaster backtest' to set baselines")
	} else {
		output.Dim("Baseline run: %s", r.BaselineRun)
	}
	output.Println()

	table := NewTable(output, "H", "LIVE MAE", "BASELINE", "RATIO", "N", "LEVEL", "MULT", "RETRAIN")
	for _, c := range r.Checks {
		retrain := ""
		if c.RetrainRecommended {
			retrain = "yes"
		}
		table.AddRow(
			fmt.Sprintf("%d", c.Horizon),
			utils.FormatOptional(c.LiveMAE, utils.FormatPrice),
			utils.FormatOptional(c.BaselineMAE, utils.FormatPrice),
			FormatRatio(c.Ratio),
			fmt.Sprintf("%d", c.NLive),
			output.DriftLevel(c.Level),
			fmt.Sprintf("%.1fx", c.UncertaintyMultiplier),
			retrain,
		)
	}
	table.Render()
	output.Println()

	output.Printf("  Data drift:  %s (%d of %d series shifted)\n", output.DriftLevel(r.DataDrift.Level), r.DataDrift.SeriesDrifted, r.DataDrift.SeriesChecked)
	if r.Shock.ShockActive {
		names := make([]string, 0, len(r.Shock.Active)+len(r.Shock.Upcoming))
		for _, e := range append(append([]models.Event(nil), r.Shock.Active...), r.Shock.Upcoming...) {
			names = append(names, e.Slug)
		}
		output.Warning("  Event shock: %s", strings.Join(names, ", "))
	}
	output.Printf("  Composite:   %s, multiplier %.1fx\n", output.DriftLevel(r.Composite.Level), r.Composite.Multiplier)
	if r.Composite.AutoRetrain {
		output.Warning("  Auto-retrain signalled")
	} else if r.Composite.RetrainRecommended {
		output.Warning("  Retrain recommended")
	}
}

func newRecommendCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Forecast and rank buy/sell/hold/avoid recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := app.Pipeline()
			if err != nil {
				return err
			}
			asOf, err := app.asOf(cmd)
			if err != nil {
				return err
			}
			opts := recommend.RankOptions{}
			opts.TopN, _ = cmd.Flags().GetInt("top")
			actions, _ := cmd.Flags().GetStringSlice("action")
			for _, a := range actions {
				act := models.Action(strings.ToLower(a))
				switch act {
				case models.ActionBuy, models.ActionSell, models.ActionHold, models.ActionAvoid:
					opts.Actions = append(opts.Actions, act)
				default:
					return fmt.Errorf("unknown action %q", a)
				}
			}

			recs, err := p.Recommend(cmd.Context(), asOf, opts)
			if err != nil {
				output.Error("Recommendation failed: %v", err)
				return err
			}
			category, _ := cmd.Flags().GetString("category")
			var shown []models.RecommendationOutput
			for _, r := range recs {
				if category == "" || string(r.Category) == category {
					shown = append(shown, r)
				}
			}
			if output.IsJSON() {
				return output.JSON(shown)
			}
			showRecommendations(output, shown)
			return nil
		},
	}
	cmd.Flags().String("as-of", "", "forecast origin day (YYYY-MM-DD, default today)")
	cmd.Flags().Int("top", 0, "keep the best N per category (default from config)")
	cmd.Flags().StringSlice("action", nil, "only these actions (buy,sell,hold,avoid)")
	cmd.Flags().String("category", "", "only one category")
	return cmd
}

func showRecommendations(output *Output, recs []models.RecommendationOutput) {
	if len(recs) == 0 {
		output.Warning("No recommendations")
		return
	}
	var current models.Category
	var table *Table
	for _, r := range recs {
		if table == nil || r.Category != current {
			if table != nil {
				table.Render()
				output.Println()
			}
			current = r.Category
			output.Bold("%s", strings.ToUpper(string(current)))
			table = NewTable(output, "#", "ENTITY", "REALM", "H", "ACTION", "SCORE", "ROI", "REASON")
		}
		table.AddRow(fmt.Sprintf("%d", r.Rank), TruncateString(r.EntityID, 28), r.Realm, fmt.Sprintf("%d", r.Horizon),
			output.Action(r.Action), FormatScore(r.Score), utils.FormatPercent(r.ROI), TruncateString(r.Reasoning, 60))
	}
	table.Render()
}
