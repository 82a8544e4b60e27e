package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/asteroid.report/internal/httputil"
	"github.com/banshee-data/asteroid.report/internal/pipeline"
)

var (
	latestAddr  string
	latestWatch time.Duration
)

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Fetch the latest result from a running server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := &http.Client{Timeout: 10 * time.Second}
		ctx := cmd.Context()
		seen := ""
		for {
			res, err := fetchLatest(ctx, client, latestAddr)
			if err != nil {
				return err
			}
			if key := res.FrameID + string(res.Status); key != seen {
				printResults(cmd.OutOrStdout(), []pipeline.Result{res})
				seen = key
			}
			if latestWatch <= 0 {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(latestWatch):
			}
		}
	},
}

func init() {
	latestCmd.Flags().StringVar(&latestAddr, "addr", "http://localhost:8080", "server base URL")
	latestCmd.Flags().DurationVar(&latestWatch, "watch", 0, "keep polling at this interval and print each new result")
}

func fetchLatest(ctx context.Context, c httputil.HTTPClient, addr string) (pipeline.Result, error) {
	var res pipeline.Result
	err := httputil.GetJSON(ctx, c, strings.TrimRight(addr, "/")+"/api/latest", &res)
	return res, err
}
