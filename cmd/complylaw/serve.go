package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpadapter "complylaw/internal/adapters/http"
	"complylaw/internal/live"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, live streams and, optionally, scan workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.ListenAddr = addr
		}
		if cmd.Flags().Changed("workers") {
			cfg.Scan.Workers, _ = cmd.Flags().GetInt("workers")
		}
		shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
		if cfg.DatabaseURL == "" {
			logger.Warn("DATABASE_URL not set, scans are kept in memory")
			cfg.Scan.Workers = max(cfg.Scan.Workers, 1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		// Background goroutines stop with ctx and are awaited before the pool closes.
		bg := make(chan struct{})
		pending := 0
		if cfg.Scan.Workers > 0 {
			pending++
			go func() {
				a.runner.Run(ctx)
				bg <- struct{}{}
			}()
		}
		if a.db != nil {
			pending++
			go func() {
				if err := live.Listen(ctx, a.db.Pool, cfg.Live.PGChannel, a.hub, logger); err != nil {
					logger.Error("live listener stopped", zap.Error(err))
				}
				bg <- struct{}{}
			}()
		}

		srv := httpadapter.New(httpadapter.Config{
			Scanner:  a.scans,
			Profiles: a.posture,
			Inline:   a.runner,
			Hub:      a.hub,
			WS:       live.WSOptions{OriginPatterns: cfg.Live.OriginPatterns},
			Logger:   logger,
		})
		httpServer := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.Int("workers", cfg.Scan.Workers))
			fmt.Printf("%s API server listening on %s\n", colorInfo("→"), cfg.ListenAddr)
			serverErrors <- httpServer.ListenAndServe()
		}()

		var runErr error
		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				runErr = fmt.Errorf("server error: %w", err)
			}
			stop()
		case <-ctx.Done():
			fmt.Printf("\n%s Shutting down...\n", colorInfo("→"))
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(sctx); err != nil {
				_ = httpServer.Close()
				runErr = fmt.Errorf("failed to gracefully shutdown server: %w", err)
			}
		}
		for range pending {
			<-bg
		}
		return runErr
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides listen_addr)")
	serveCmd.Flags().Int("workers", 0, "scan workers in this process (overrides scan.workers)")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "graceful shutdown timeout")
}
