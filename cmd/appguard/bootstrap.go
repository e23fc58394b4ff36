package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/appguard/appguard/internal/config"
	"github.com/appguard/appguard/internal/connectors"
	"github.com/appguard/appguard/internal/connectors/azuread"
	"github.com/appguard/appguard/internal/connectors/configstore"
	"github.com/appguard/appguard/internal/connectors/googleworkspace"
	"github.com/appguard/appguard/internal/connectors/okta"
	"github.com/appguard/appguard/internal/connectors/registry"
	"github.com/appguard/appguard/internal/events"
	"github.com/appguard/appguard/internal/logging"
	"github.com/appguard/appguard/internal/offboarding"
	"github.com/appguard/appguard/internal/playbook"
	"github.com/appguard/appguard/internal/revocation"
	"github.com/appguard/appguard/internal/risk"
	"github.com/appguard/appguard/internal/secrets"
	"github.com/appguard/appguard/internal/shadowit"
	"github.com/appguard/appguard/internal/ssrf"
	"github.com/appguard/appguard/internal/store"
	appsync "github.com/appguard/appguard/internal/sync"
	"github.com/google/uuid"
)

// app wires the store, connectors, sync runner, and offboarding
// orchestrator for one CLI invocation. State lives in the in-memory store
// for the lifetime of the process; durable storage is provided by the
// deployment embedding this core.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Memory
	codec  *secrets.Codec
	runner *appsync.Runner
	orch   *offboarding.Orchestrator
}

func buildApp(command string) (*app, error) {
	logger, err := logging.BootstrapFromEnv(logging.BootstrapOptions{Command: command})
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	codec, err := secrets.NewCodec(cfg.SecretsPassphrase)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	for _, def := range []registry.Definition{okta.Definition{}, azuread.Definition{}, googleworkspace.Definition{}} {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}

	mem := store.NewMemory()
	emitter := &events.LogEmitter{Logger: logger}
	detector := shadowit.NewDetector(mem, risk.NewAnalyzer(), emitter, logger)

	opts := connectors.Options{
		TokenTimeout:    cfg.TokenTimeout,
		DataCallTimeout: cfg.DataCallTimeout,
		MaxRetries:      cfg.MaxRetries,
		RetryBaseDelay:  cfg.RetryBaseDelay,
		MaxPages:        cfg.MaxSyncPages,
	}
	runner := appsync.NewRunner(mem, reg, codec, detector, opts, logger)

	revoker := revocation.NewService(mem, emitter, logger, cfg.RevokeEndpoints, revokeAllowlist(cfg.RevokeEndpoints), revocation.Options{
		Timeout:    cfg.RevokeCallTimeout,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
	})
	orch := offboarding.NewOrchestrator(mem, playbook.NewEngine(mem), revoker, emitter, logger)

	return &app{cfg: cfg, logger: logger, store: mem, codec: codec, runner: runner, orch: orch}, nil
}

// revokeAllowlist permits exactly the hosts of the configured revoke
// endpoints.
func revokeAllowlist(endpoints map[string]string) *ssrf.Allowlist {
	var hosts []string
	for _, endpoint := range endpoints {
		if u, err := url.Parse(endpoint); err == nil && u.Hostname() != "" {
			hosts = append(hosts, u.Hostname())
		}
	}
	return ssrf.NewAllowlist(hosts, nil)
}

// seedProviders loads the providers file and upserts each entry into the
// store with sealed credentials.
func (a *app) seedProviders(ctx context.Context) error {
	file, err := configstore.LoadFile(a.cfg.ProvidersFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("providers file %s not found (set PROVIDERS_FILE)", a.cfg.ProvidersFile)
		}
		return err
	}

	for _, entry := range file.Providers {
		creds, err := entry.Credentials()
		if err != nil {
			return err
		}
		raw, err := json.Marshal(creds)
		if err != nil {
			return err
		}
		sealed, err := a.codec.Seal(raw)
		if err != nil {
			return err
		}
		cfg := store.ProviderConfig{
			ID:                uuid.NewString(),
			TenantID:          entry.TenantID,
			Provider:          entry.Provider,
			Enabled:           entry.IsEnabled(),
			SealedCredentials: sealed,
			SyncStatus:        store.SyncStatusIdle,
		}
		if err := a.store.UpdateProviderConfig(ctx, cfg); err != nil {
			return err
		}
	}
	a.logger.Info("providers loaded", "file", a.cfg.ProvidersFile, "count", len(file.Providers))
	return nil
}
