package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tenantd/tenantd/internal/actor"
	"github.com/tenantd/tenantd/internal/api"
	"github.com/tenantd/tenantd/internal/deploy"
	"github.com/tenantd/tenantd/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	pf := deploy.NewPIDFile(cfg.DataDir)
	if err := pf.Guard(); err != nil {
		return err
	}
	defer pf.Remove()

	log := observability.NewLogger("daemon", os.Stderr)
	log.Info("starting", "version", version, "data_dir", cfg.DataDir, "addr", cfg.ListenAddr)

	manager := actor.NewManager(cfg.DataDir, actor.Options{
		QueueMaxAttempts: cfg.QueueMaxAttempts,
	}, log)

	srv := api.NewServer(cfg.ListenAddr, manager, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start blocks until the context is cancelled, then shuts the
	// listener down gracefully. Actors drain after that.
	serveErr := srv.Start(ctx)

	log.Info("shutting down", "tenants", manager.Count())
	closeErr := manager.Close()

	if serveErr != nil {
		return serveErr
	}
	if closeErr != nil {
		return closeErr
	}
	log.Info("shutdown complete")
	return nil
}
