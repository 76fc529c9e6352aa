package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateVacuum bool

func init() {
	migrateCmd.Flags().BoolVar(&migrateVacuum, "vacuum", false, "Compact the database file after migrating")
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(migrateCmd)
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Process due enrollments once",
	Long:  "Claim and process every due enrollment once, then print the tick result as JSON.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.engine.Tick(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Opening the app applies pending migrations.
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		a.logger.Info("database migrated", "db", cfg.DBPath)

		if migrateVacuum {
			if err := a.store.Vacuum(cmd.Context()); err != nil {
				return fmt.Errorf("vacuum: %w", err)
			}
			a.logger.Info("database vacuumed", "db", cfg.DBPath)
		}
		return nil
	},
}
