package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"complylaw/internal/adapters/postgres"
	"complylaw/internal/domain"
)

var firmCmd = &cobra.Command{
	Use:   "firm <tenant-id>",
	Short: "Register a firm or change its subscription tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDatabase(); err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		tier, _ := cmd.Flags().GetString("tier")
		t := domain.Tier(tier)
		if t != domain.TierFree && t != domain.TierPro && t != domain.TierEnterprise {
			return fmt.Errorf("unknown tier %q", tier)
		}

		db, err := postgres.Connect(cmd.Context(), cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.UpsertFirm(cmd.Context(), domain.Firm{ID: args[0], Name: name, Tier: t}); err != nil {
			return err
		}
		fmt.Printf("%s firm %s is on the %s tier\n", colorSuccess("✓"), args[0], t)
		return nil
	},
}

func init() {
	firmCmd.Flags().String("name", "", "display name")
	firmCmd.Flags().String("tier", string(domain.TierFree), "free, pro or enterprise")
}
