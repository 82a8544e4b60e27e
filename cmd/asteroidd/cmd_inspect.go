package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/asteroid.report/internal/fits"
	"github.com/banshee-data/asteroid.report/internal/fsutil"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.fits>",
	Short: "Print the header and pixel statistics of a staged frame",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspectFile(cmd.OutOrStdout(), fsutil.OSFileSystem{}, args[0])
	},
}

func inspectFile(w io.Writer, fs fsutil.FileSystem, path string) error {
	data, err := fs.ReadFile(path)
	if err != nil {
		return err
	}
	h, img, err := fits.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(path)
	tw.AppendHeader(table.Row{"Keyword", "Value", "Comment"})
	for _, c := range h.Cards() {
		tw.AppendRow(table.Row{c.Key, c.Value, c.Comment})
	}
	tw.Render()

	if len(img.Pixels) == 0 {
		return nil
	}
	mean, std := stat.MeanStdDev(img.Pixels, nil)
	st := table.NewWriter()
	st.SetOutputMirror(w)
	st.SetStyle(table.StyleLight)
	st.AppendHeader(table.Row{"Size", "Min", "Max", "Mean", "StdDev"})
	st.AppendRow(table.Row{
		fmt.Sprintf("%dx%d", img.Width, img.Height),
		fmt.Sprintf("%.2f", floats.Min(img.Pixels)),
		fmt.Sprintf("%.2f", floats.Max(img.Pixels)),
		fmt.Sprintf("%.2f", mean),
		fmt.Sprintf("%.2f", std),
	})
	st.Render()
	return nil
}
