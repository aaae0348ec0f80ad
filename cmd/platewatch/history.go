package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/plates/platewatch"
	"github.com/hazyhaar/plates/platewatch/detection"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		plate  string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent dispatches, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			h, err := platewatch.OpenHistory(cfg.Storage.DBPath)
			if err != nil {
				return err
			}
			defer h.Close()

			dispatches, err := h.RecentDispatches(context.Background(), plate, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(dispatches)
			}
			if len(dispatches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dispatches recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDispatches(dispatches))
			return nil
		},
	}

	cmd.Flags().StringVar(&plate, "plate", "", "Restrict to one plate")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	return cmd
}

func newSnapshotsCommand(ctx *commandContext) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "snapshots [id]",
		Short: "List accepted snapshots, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			h, err := platewatch.OpenHistory(cfg.Storage.DBPath)
			if err != nil {
				return err
			}
			defer h.Close()

			if len(args) == 1 {
				snap, err := h.GetSnapshot(context.Background(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(snap)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderSnapshot(snap))
				return nil
			}

			sums, err := h.RecentSnapshots(context.Background(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(sums)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSnapshots(sums))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	return cmd
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row(header))
	return tw
}

func renderDispatches(ds []detection.Dispatch) string {
	tw := newTable("At", "Plate", "Make", "Model", "Enrichment", "Delivered", "Error")
	for _, d := range ds {
		tw.AppendRow(table.Row{
			d.At.Local().Format(time.DateTime),
			d.Record.Plate,
			d.Record.Make.String(),
			d.Record.Model.String(),
			string(d.Enrichment),
			strconv.FormatBool(d.Delivered),
			d.Error,
		})
	}
	return tw.Render()
}

func renderSnapshots(sums []platewatch.SnapshotSummary) string {
	tw := newTable("ID", "Captured", "Rows")
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	for _, s := range sums {
		tw.AppendRow(table.Row{s.ID, s.CapturedAt.Local().Format(time.DateTime), s.Rows})
	}
	return tw.Render()
}

func renderSnapshot(snap *detection.Snapshot) string {
	tw := newTable("#", "Plate", "Make", "Model")
	tw.SetTitle("%s  %s", snap.ID, snap.CapturedAt.Local().Format(time.DateTime))
	for i, d := range snap.Detections {
		tw.AppendRow(table.Row{i + 1, d.Plate, d.Make.String(), d.Model.String()})
	}
	return tw.Render()
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
