package config

import (
	"testing"
	"time"
)

func TestLoadWithOptions_Defaults(t *testing.T) {
	t.Setenv("SECRETS_PASSPHRASE", "test-passphrase")
	t.Setenv("SYNC_INTERVAL", "")
	t.Setenv("CONNECTOR_MAX_RETRIES", "")
	t.Setenv("CONNECTOR_MAX_PAGES", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SyncInterval != 15*time.Minute {
		t.Fatalf("SyncInterval = %v, want 15m", cfg.SyncInterval)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.MaxSyncPages != 50 {
		t.Fatalf("MaxSyncPages = %d, want 50", cfg.MaxSyncPages)
	}
	if cfg.TokenTimeout >= cfg.DataCallTimeout {
		t.Fatalf("token timeout %v should be tighter than data timeout %v", cfg.TokenTimeout, cfg.DataCallTimeout)
	}
}

func TestLoadWithOptions_Overrides(t *testing.T) {
	t.Setenv("SECRETS_PASSPHRASE", "test-passphrase")
	t.Setenv("SYNC_INTERVAL", "5m")
	t.Setenv("CONNECTOR_TOKEN_TIMEOUT", "10s")
	t.Setenv("CONNECTOR_MAX_RETRIES", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Fatalf("SyncInterval = %v, want 5m", cfg.SyncInterval)
	}
	if cfg.TokenTimeout != 10*time.Second {
		t.Fatalf("TokenTimeout = %v, want 10s", cfg.TokenTimeout)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
}

func TestLoadWithOptions_RequiresPassphrase(t *testing.T) {
	t.Setenv("SECRETS_PASSPHRASE", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing SECRETS_PASSPHRASE error")
	}
	if _, err := LoadOptionalSecrets(); err != nil {
		t.Fatalf("LoadOptionalSecrets() error = %v", err)
	}
}

func TestLoadWithOptions_IgnoresInvalidDurations(t *testing.T) {
	t.Setenv("SECRETS_PASSPHRASE", "test-passphrase")
	t.Setenv("SYNC_INTERVAL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SyncInterval != 15*time.Minute {
		t.Fatalf("SyncInterval = %v, want default 15m", cfg.SyncInterval)
	}
}

func TestParseRevokeEndpoints(t *testing.T) {
	t.Parallel()

	got := parseRevokeEndpoints("okta=https://acme.okta.com/oauth2/v1/revoke, google_workspace=")
	if got["okta"] != "https://acme.okta.com/oauth2/v1/revoke" {
		t.Errorf("okta endpoint = %q", got["okta"])
	}
	if _, ok := got["google_workspace"]; ok {
		t.Error("empty value should remove the default google endpoint")
	}

	defaults := parseRevokeEndpoints("")
	if defaults["google_workspace"] != "https://oauth2.googleapis.com/revoke" {
		t.Errorf("default google endpoint = %q", defaults["google_workspace"])
	}
}
