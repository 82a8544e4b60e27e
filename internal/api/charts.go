package api

import (
	"bytes"
	"fmt"
	"log"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/asteroid.report/internal/httputil"
	"github.com/banshee-data/asteroid.report/internal/pipeline"
)

// chartExtent is the default axis range when the latest result has no
// detections to size the plot from.
const chartExtent = 100.0

// handleDetectionChart renders the latest detections as an interactive
// scatter plot in frame pixel coordinates, coloured by confidence.
func (s *Server) handleDetectionChart(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	res := s.latest.Latest()
	scatter := detectionChart(res)

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		log.Printf("render detection chart: %v", err)
		http.Error(w, "failed to render chart", http.StatusInternalServerError)
		return
	}
	httputil.NoStore(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func detectionChart(res pipeline.Result) *charts.Scatter {
	maxX, maxY := chartExtent, chartExtent
	pts := make([]opts.ScatterData, 0, len(res.Detections))
	for _, d := range res.Detections {
		if d.X > maxX {
			maxX = d.X
		}
		if d.Y > maxY {
			maxY = d.Y
		}
		pts = append(pts, opts.ScatterData{Value: []interface{}{d.X, d.Y, d.Confidence}})
	}

	title := fmt.Sprintf("%s: %d detections (%s)", res.FrameID, len(res.Detections), res.Status)
	if res.FrameID == "" {
		title = "no frame processed yet"
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "asteroid.report detections",
			Theme:     "dark",
			Width:     "720px",
			Height:    "720px",
		}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{
			Name:         "x (px)",
			NameLocation: "middle",
			NameGap:      25,
			Min:          0,
			Max:          maxX,
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name:         "y (px)",
			NameLocation: "middle",
			NameGap:      30,
			Min:          0,
			Max:          maxY,
		}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			Dimension:  "2",
			InRange: &opts.VisualMapInRange{
				Color: []string{"#313695", "#4575b4", "#fee090", "#f46d43", "#a50026"},
			},
		}),
	)
	scatter.AddSeries("detections", pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}
