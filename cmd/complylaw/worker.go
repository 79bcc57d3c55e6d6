package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Claim and run queued scans without serving HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDatabase(); err != nil {
			return err
		}
		if cmd.Flags().Changed("workers") {
			cfg.Scan.Workers, _ = cmd.Flags().GetInt("workers")
		}
		cfg.Scan.Workers = max(cfg.Scan.Workers, 1)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		a.runner.Run(ctx)
		return nil
	},
}

func init() {
	workerCmd.Flags().Int("workers", 0, "number of scan workers (overrides scan.workers)")
}
