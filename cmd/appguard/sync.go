package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/appguard/appguard/internal/store"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a one-off discovery sync against every enabled provider.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync()
	},
}

func runSync() error {
	a, err := buildApp("sync")
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.seedProviders(ctx); err != nil {
		return err
	}
	if err := a.runner.SyncAll(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return &exitError{code: 130, err: err, silent: true}
		}
		return err
	}

	configs, err := a.store.ListProviderConfigs(ctx)
	if err != nil {
		return err
	}
	failed := 0
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if cfg.SyncStatus == store.SyncStatusError {
			failed++
			a.logger.Error("provider sync failed",
				"tenant", cfg.TenantID,
				"provider", cfg.Provider,
				"error", cfg.LastSyncError)
			continue
		}
		a.logger.Info("provider sync finished",
			"tenant", cfg.TenantID,
			"provider", cfg.Provider,
			"apps", cfg.AppsDiscovered,
			"users", cfg.UsersProcessed,
			"tokens", cfg.TokensFound)
	}
	if failed > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d provider sync(s) failed", failed), silent: false}
	}
	return nil
}
