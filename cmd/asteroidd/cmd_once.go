package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/banshee-data/asteroid.report/internal/fsutil"
	"github.com/banshee-data/asteroid.report/internal/pipeline"
	"github.com/banshee-data/asteroid.report/internal/security"
	"github.com/banshee-data/asteroid.report/internal/timeutil"
)

var (
	onceReplay string
	onceImage  string
	onceCycles int
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a fixed number of cycles and print each result",
	RunE:  runOnce,
}

func init() {
	onceCmd.Flags().StringVar(&onceReplay, "replay", "", "replay FITS frames from this directory instead of generating them")
	onceCmd.Flags().StringVar(&onceImage, "image", "", "write the last rendered PNG to this path")
	onceCmd.Flags().IntVarP(&onceCycles, "cycles", "n", 1, "number of cycles to run")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	setLogWriters(os.Stderr, false)
	fs := fsutil.OSFileSystem{}
	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, fs, timeutil.RealClock{}, sourceOptions{replayDir: onceReplay})
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.cycles(cmd.Context(), onceCycles)
	if err != nil {
		return err
	}
	printResults(cmd.OutOrStdout(), results)

	if onceImage != "" && len(results) > 0 {
		if err := security.ValidateOutputPath(onceImage); err != nil {
			return err
		}
		last := results[len(results)-1]
		if last.Image == "" {
			return fmt.Errorf("%s has no rendered image", last.FrameID)
		}
		png, err := base64.StdEncoding.DecodeString(last.Image)
		if err != nil {
			return err
		}
		if err := fs.WriteFile(onceImage, png, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// cycles runs n traversals back to back, then flushes staging. Source
// failures end the run; stage failures are results like any other.
func (a *app) cycles(ctx context.Context, n int) ([]pipeline.Result, error) {
	var results []pipeline.Result
	for i := 0; i < n; i++ {
		res, err := a.orch.RunOnce(ctx)
		var srcErr *pipeline.SourceError
		if errors.As(err, &srcErr) {
			if len(results) == 0 {
				return nil, err
			}
			break
		}
		results = append(results, res)
	}
	if a.stager != nil {
		flush, cancel := context.WithCancel(ctx)
		cancel()
		_ = a.stager.Run(flush)
	}
	return results, nil
}

func printResults(w io.Writer, results []pipeline.Result) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Frame", "Status", "Detections", "Orbits", "Failed stage", "Error"})
	for _, r := range results {
		tw.AppendRow(table.Row{r.FrameID, r.Status, len(r.Detections), len(r.Orbits), r.FailedStage, r.Error})
	}
	tw.Render()

	for _, r := range results {
		if len(r.Orbits) == 0 {
			continue
		}
		ot := table.NewWriter()
		ot.SetOutputMirror(w)
		ot.SetStyle(table.StyleLight)
		ot.SetTitle(r.FrameID + " orbits")
		ot.AppendHeader(table.Row{"#", "RA (deg)", "Dec (deg)", "Confidence", "Epoch"})
		for _, o := range r.Orbits {
			ot.AppendRow(table.Row{
				o.Detection,
				fmt.Sprintf("%.5f", o.RA),
				fmt.Sprintf("%.5f", o.Dec),
				fmt.Sprintf("%.3f", o.Confidence),
				o.Epoch.UTC().Format("2006-01-02T15:04:05.000Z"),
			})
		}
		ot.Render()
	}
}
