package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultSyncInterval      = 15 * time.Minute
	defaultMetricsAddr       = ":9464"
	defaultTokenTimeout      = 30 * time.Second
	defaultDataCallTimeout   = 120 * time.Second
	defaultRevokeCallTimeout = 30 * time.Second
	defaultMaxRetries        = 3
	defaultRetryBaseDelay    = time.Second
	defaultMaxSyncPages      = 50
)

type Config struct {
	SyncInterval      time.Duration
	SyncCronSpec      string
	MetricsAddr       string
	SecretsPassphrase string
	ProvidersFile     string

	// RevokeEndpoints maps a provider kind to its OAuth revoke endpoint.
	// Providers without one get local-only revocation.
	RevokeEndpoints map[string]string

	TokenTimeout      time.Duration
	DataCallTimeout   time.Duration
	RevokeCallTimeout time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	MaxSyncPages      int
}

type LoadOptions struct {
	RequireSecretsPassphrase bool
}

func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireSecretsPassphrase: true})
}

func LoadOptionalSecrets() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireSecretsPassphrase: false})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		SyncInterval:      defaultSyncInterval,
		SyncCronSpec:      strings.TrimSpace(os.Getenv("SYNC_CRON")),
		MetricsAddr:       getenvDefault("METRICS_ADDR", defaultMetricsAddr),
		SecretsPassphrase: os.Getenv("SECRETS_PASSPHRASE"),
		ProvidersFile:     getenvDefault("PROVIDERS_FILE", "providers.json"),
		RevokeEndpoints:   parseRevokeEndpoints(os.Getenv("REVOKE_ENDPOINTS")),
		TokenTimeout:      defaultTokenTimeout,
		DataCallTimeout:   defaultDataCallTimeout,
		RevokeCallTimeout: defaultRevokeCallTimeout,
		MaxRetries:        getenvIntDefault("CONNECTOR_MAX_RETRIES", defaultMaxRetries),
		RetryBaseDelay:    defaultRetryBaseDelay,
		MaxSyncPages:      getenvIntDefault("CONNECTOR_MAX_PAGES", defaultMaxSyncPages),
	}

	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SyncInterval = d
		}
	}
	if v := os.Getenv("CONNECTOR_TOKEN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TokenTimeout = d
		}
	}
	if v := os.Getenv("CONNECTOR_DATA_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.DataCallTimeout = d
		}
	}
	if v := os.Getenv("REVOKE_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RevokeCallTimeout = d
		}
	}
	if v := os.Getenv("CONNECTOR_RETRY_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RetryBaseDelay = d
		}
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxSyncPages <= 0 {
		cfg.MaxSyncPages = defaultMaxSyncPages
	}

	if opts.RequireSecretsPassphrase && strings.TrimSpace(cfg.SecretsPassphrase) == "" {
		return cfg, errors.New("SECRETS_PASSPHRASE is required")
	}

	return cfg, nil
}

// parseRevokeEndpoints reads "provider=url" pairs separated by commas, e.g.
// "google_workspace=https://oauth2.googleapis.com/revoke". Google's public
// revoke endpoint is wired by default.
func parseRevokeEndpoints(raw string) map[string]string {
	endpoints := map[string]string{
		"google_workspace": "https://oauth2.googleapis.com/revoke",
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kind, url, ok := strings.Cut(pair, "=")
		kind = strings.ToLower(strings.TrimSpace(kind))
		url = strings.TrimSpace(url)
		if !ok || kind == "" {
			continue
		}
		if url == "" {
			delete(endpoints, kind)
			continue
		}
		endpoints[kind] = url
	}
	return endpoints
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
