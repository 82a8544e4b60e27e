// asteroidd runs the frame pipeline and its read API.
//
// Usage:
//
//	asteroidd serve [--config=<path>] [--listen=:8080] [--grpc-listen=:9090] [--replay=<dir>]
//	asteroidd once [--config=<path>] [--replay=<dir>]
//	asteroidd inspect <file.fits>
//	asteroidd frames [--limit=20] [--run=<id>]
//	asteroidd migrate up|down|status
//	asteroidd latest [--addr=http://localhost:8080]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/asteroid.report/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "asteroidd",
	Short: "Perpetual asteroid frame pipeline",
	Long: "asteroidd generates or replays telescope frames, runs each through\n" +
		"ingest, calibration, detection and orbit stages, and serves the most\n" +
		"recent outcome over HTTP.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "pipeline config file (.json or .yaml); defaults to "+defaultConfigHint)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(framesCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(latestCmd)
	rootCmd.Version = version.String()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
