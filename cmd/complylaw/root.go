package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"complylaw/internal/config"
)

var (
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "complylaw",
	Short:         "Compliance scan orchestration service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil && !errors.Is(err, config.ErrNoDatabase) {
			return err
		}
		logger, err = newLogger(cfg)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd, firmCmd, scanCmd)
}

func newLogger(c config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development() {
		zc = zap.NewDevelopmentConfig()
	}
	if c.LogLevel != "" {
		lvl, err := zap.ParseAtomicLevel(c.LogLevel)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}

// requireDatabase fails commands that cannot run on the in-memory store.
func requireDatabase() error {
	if cfg.DatabaseURL == "" {
		return config.ErrNoDatabase
	}
	return nil
}
