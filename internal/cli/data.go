package cli

import (
	"context"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"economy-forecaster/internal/events"
	"economy-forecaster/internal/features"
	"economy-forecaster/internal/store"
	"economy-forecaster/pkg/utils"
)

// addDataCommands adds data ingestion and inspection commands.
func addDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newImportCmd(app))
	rootCmd.AddCommand(newEventsCmd(app))
	rootCmd.AddCommand(newFeaturesCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
}

func newImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import market data",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "observations <file.csv|->",
		Short: "Import price observations from CSV",
		Long: `Import price observations from a CSV file with the header
entity_id,realm,category,observed_at,price,volume

Rows already stored for the same entity, realm and timestamp are skipped.
Use '-' to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := app.Pipeline()
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			res, err := p.ImportObservationsCSV(cmd.Context(), r)
			if err != nil {
				output.Error("Import failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(res)
			}
			output.Success("Imported %s rows (%s new)", utils.FormatQuantity(int64(res.Rows)), utils.FormatQuantity(int64(res.Inserted)))
			output.Dim("Latest observation: %s", FormatDateTime(res.Latest))
			return nil
		},
	})

	return cmd
}

func newEventsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Event calendar management",
	}

	eventsFile := func(args []string) string {
		if len(args) > 0 {
			return args[0]
		}
		return app.Config.Storage.EventsFile
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Validate an event seed file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			reg, err := events.Load(eventsFile(args))
			if err != nil {
				output.Error("Event calendar is invalid: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"valid": true, "events": reg.Len(), "impacts": len(reg.Impacts())})
			}
			output.Success("%d events, %d impacts", reg.Len(), len(reg.Impacts()))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "load [file]",
		Short: "Replace the stored event calendar with a seed file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := app.Pipeline()
			if err != nil {
				return err
			}
			reg, err := p.LoadEvents(cmd.Context(), eventsFile(args))
			if err != nil {
				output.Error("Failed to load events: %v", err)
				return err
			}
			output.Success("Loaded %d events", reg.Len())
			return nil
		},
	})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored events, optionally only those known at a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := app.Pipeline()
			if err != nil {
				return err
			}
			evs := p.Registry().Events()
			if s, _ := cmd.Flags().GetString("as-of"); s != "" {
				asOf, err := app.asOf(cmd)
				if err != nil {
					return err
				}
				evs = p.Registry().KnownAt(features.EndOfDay(asOf, p.Location()))
			}
			if output.IsJSON() {
				return output.JSON(evs)
			}

			table := NewTable(output, "SLUG", "TYPE", "SEVERITY", "START", "END", "ANNOUNCED")
			for _, e := range evs {
				end := "-"
				if e.EndDate != nil {
					end = FormatDate(*e.EndDate)
				}
				announced := "unknown"
				if e.AnnouncedAt != nil {
					announced = FormatDateTime(*e.AnnouncedAt)
				}
				table.AddRow(TruncateString(e.Slug, 32), string(e.Type), e.Severity.String(), FormatDate(e.StartDate), end, announced)
			}
			table.Render()
			return nil
		},
	}
	listCmd.Flags().String("as-of", "", "only events known at the end of this day (YYYY-MM-DD)")
	cmd.AddCommand(listCmd)

	return cmd
}

func newFeaturesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Build feature rows and report their quality",
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
			_, report, err := p.BuildFeatures(cmd.Context(), asOf)
			if err != nil {
				output.Error("Feature build failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(report)
			}
			return showQuality(output, report)
		},
	}
	cmd.Flags().String("as-of", "", "build through this day (YYYY-MM-DD, default today)")
	return cmd
}

func showQuality(output *Output, r features.QualityReport) error {
	output.Bold("Feature Quality")
	output.Printf("  Rows:            %s\n", utils.FormatQuantity(int64(r.TotalRows)))
	output.Printf("  Series:          %d\n", r.Series)
	if r.DateStart != nil && r.DateEnd != nil {
		output.Printf("  Dates:           %s to %s\n", FormatDate(*r.DateStart), FormatDate(*r.DateEnd))
	}
	output.Printf("  Duplicate keys:  %d\n", r.DuplicateKeys)
	output.Printf("  Series w/ gaps:  %d\n", r.GapSeries)
	output.Println()

	if len(r.Missingness) > 0 {
		cols := make([]string, 0, len(r.Missingness))
		for c := range r.Missingness {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		table := NewTable(output, "COLUMN", "MISSING")
		for _, c := range cols {
			table.AddRow(c, utils.FormatPercent(r.Missingness[c]))
		}
		table.Render()
		output.Println()
	}

	for _, w := range r.LeakageWarnings {
		output.Warning("Leakage: %s", w)
	}
	if r.Clean {
		output.Success("Feature set is clean")
	} else {
		output.Warning("Feature set has quality issues")
	}
	return nil
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show data freshness",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := app.Pipeline()
			if err != nil {
				return err
			}
			all := p.Freshness().GetAllDataFreshness()
			if output.IsJSON() {
				return output.JSON(all)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultPingTimeout)
			defer cancel()
			if err := app.Store.Ping(ctx); err != nil {
				output.Error("Database unreachable: %v", err)
			} else {
				output.Success("Database: %s", app.Config.Storage.DBPath)
			}
			for _, t := range []store.SyncDataType{
				store.SyncTypeObservations, store.SyncTypeEvents, store.SyncTypeBacktest,
				store.SyncTypeForecasts, store.SyncTypeDrift,
			} {
				if f, ok := all[t]; ok {
					if f.IsFresh {
						output.Printf("  %s\n", store.FormatFreshness(f))
					} else {
						output.Printf("  %s\n", output.ColoredString(ColorYellow, store.FormatFreshness(f)))
					}
				}
			}
			return nil
		},
	}
}
