package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"complylaw/internal/adapters/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDatabase(); err != nil {
			return err
		}
		db, err := postgres.Connect(cmd.Context(), cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Printf("%s schema is up to date\n", colorSuccess("✓"))
		return nil
	},
}
