package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/asteroid.report/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the frame catalog schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// NewDB migrates up on open.
		catalog, err := openCatalog()
		if err != nil {
			return err
		}
		defer catalog.Close()
		return printMigrationStatus(cmd, catalog)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := openCatalog()
		if err != nil {
			return err
		}
		defer catalog.Close()
		if err := catalog.MigrateDown(); err != nil {
			return err
		}
		return printMigrationStatus(cmd, catalog)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the applied and latest schema versions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := openCatalog()
		if err != nil {
			return err
		}
		defer catalog.Close()
		return printMigrationStatus(cmd, catalog)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

type versioner interface {
	MigrateVersion() (uint, bool, error)
}

func printMigrationStatus(cmd *cobra.Command, v versioner) error {
	current, dirty, err := v.MigrateVersion()
	if err != nil {
		return err
	}
	latest, err := db.LatestMigration()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "schema version %d (latest %d)", current, latest)
	if dirty {
		fmt.Fprint(out, " DIRTY")
	}
	fmt.Fprintln(out)
	return nil
}
