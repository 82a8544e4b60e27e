package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/banshee-data/asteroid.report/internal/db"
)

var (
	framesLimit int
	framesRun   string
)

var framesCmd = &cobra.Command{
	Use:   "frames",
	Short: "List staged frames from the catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := openCatalog()
		if err != nil {
			return err
		}
		defer catalog.Close()

		records, err := catalog.ListFrames(cmd.Context(), framesRun, framesLimit)
		if err != nil {
			return err
		}
		printFrames(cmd.OutOrStdout(), records)
		return nil
	},
}

func init() {
	framesCmd.Flags().IntVar(&framesLimit, "limit", 20, "maximum rows")
	framesCmd.Flags().StringVar(&framesRun, "run", "", "only frames from this run ID")
}

func printFrames(w io.Writer, records []db.FrameRecord) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Run", "Frame", "Captured", "Size", "Objects", "Bytes", "Path"})
	for _, r := range records {
		path := r.Path
		if r.PrunedAt != nil {
			path += " (pruned)"
		}
		tw.AppendRow(table.Row{
			shortID(r.RunID), r.FrameID,
			r.CapturedAt.UTC().Format("2006-01-02 15:04:05.000"),
			formatSize(r.Width, r.Height), r.Injected, r.SizeBytes, path,
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "Total", len(records)})
	tw.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatSize(w, h int) string {
	return fmt.Sprintf("%dx%d", w, h)
}
