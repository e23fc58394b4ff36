package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/appguard/appguard/internal/metrics"
	appsync "github.com/appguard/appguard/internal/sync"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background sync loop and serve Prometheus metrics.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

func runWorker() error {
	a, err := buildApp("worker")
	if err != nil {
		return err
	}
	if a.cfg.SyncInterval <= 0 && a.cfg.SyncCronSpec == "" {
		return errors.New("SYNC_INTERVAL must be > 0 to run the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.seedProviders(ctx); err != nil {
		return err
	}

	scheduler, err := appsync.NewScheduler(a.runner, a.cfg.SyncCronSpec, a.cfg.SyncInterval, a.logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	_, metricsErr := metrics.StartServer(ctx, a.cfg.MetricsAddr)

	a.logger.Info("sync worker started", "interval", a.cfg.SyncInterval, "cron", a.cfg.SyncCronSpec)

	select {
	case <-ctx.Done():
		return nil
	case err := <-metricsErr:
		return err
	}
}
