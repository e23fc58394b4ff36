// Package sync runs provider discovery on a schedule, one flight per
// (tenant, provider) pair, and feeds results into the Shadow IT detector.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/appguard/appguard/internal/connectors"
	"github.com/appguard/appguard/internal/connectors/registry"
	"github.com/appguard/appguard/internal/metrics"
	"github.com/appguard/appguard/internal/secrets"
	"github.com/appguard/appguard/internal/shadowit"
	"github.com/appguard/appguard/internal/store"
)

// maxConcurrentSyncs bounds the fan-out across distinct (tenant, provider)
// pairs; within a pair the guard already serializes.
const maxConcurrentSyncs = 4

// Runner executes one full sync per provider config.
type Runner struct {
	store    store.Store
	registry *registry.Registry
	codec    *secrets.Codec
	detector *shadowit.Detector
	logger   *slog.Logger
	guard    *Guard

	// baseOptions carries the timeout and retry budgets from config; the
	// per-tenant user sink is attached per run.
	baseOptions connectors.Options
}

func NewRunner(st store.Store, reg *registry.Registry, codec *secrets.Codec, detector *shadowit.Detector, opts connectors.Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:       st,
		registry:    reg,
		codec:       codec,
		detector:    detector,
		logger:      logger,
		guard:       NewGuard(),
		baseOptions: opts.WithDefaults(),
	}
}

func guardKey(tenantID, provider string) string {
	return strings.TrimSpace(tenantID) + "/" + strings.ToLower(strings.TrimSpace(provider))
}

// SyncProvider runs one full sync for a tenant's provider config. A second
// call for the same pair while one is in flight is a skip, not an error.
// Sync failures are persisted on the config, never returned; the error
// return covers infrastructure problems only.
func (r *Runner) SyncProvider(ctx context.Context, cfg store.ProviderConfig) error {
	key := guardKey(cfg.TenantID, cfg.Provider)
	if !r.guard.TryAcquire(key) {
		metrics.SyncSkippedTotal.WithLabelValues(cfg.Provider, cfg.TenantID).Inc()
		r.logger.InfoContext(ctx, "sync already running, skipping",
			"tenant_id", cfg.TenantID, "provider", cfg.Provider)
		return nil
	}
	defer r.guard.Release(key)

	cfg.SyncStatus = store.SyncStatusSyncing
	cfg.LastSyncError = ""
	if err := r.store.UpdateProviderConfig(ctx, cfg); err != nil {
		return fmt.Errorf("mark provider config syncing: %w", err)
	}

	result, runErr := r.runSync(ctx, cfg)

	cfg.LastSyncAt = time.Now().UTC()
	status := "success"
	switch {
	case runErr != nil:
		cfg.SyncStatus = store.SyncStatusError
		cfg.LastSyncError = runErr.Error()
		status = "error"
	case !result.Success:
		cfg.SyncStatus = store.SyncStatusError
		cfg.LastSyncError = strings.Join(result.Errors, "; ")
		status = "error"
	default:
		cfg.SyncStatus = store.SyncStatusIdle
		cfg.AppsDiscovered = result.AppsDiscovered
		cfg.UsersProcessed = result.UsersProcessed
		cfg.TokensFound = result.TokensDiscovered
		metrics.SyncLastSuccessTimestamp.WithLabelValues(cfg.Provider, cfg.TenantID).SetToCurrentTime()
		metrics.AppsDiscoveredTotal.WithLabelValues(cfg.Provider).Add(float64(result.AppsDiscovered))
	}
	metrics.SyncRunsTotal.WithLabelValues(cfg.Provider, cfg.TenantID, status).Inc()
	metrics.SyncDuration.WithLabelValues(cfg.Provider, cfg.TenantID).Observe(result.SyncDuration.Seconds())

	if err := r.store.UpdateProviderConfig(ctx, cfg); err != nil {
		return fmt.Errorf("persist provider config after sync: %w", err)
	}

	r.logger.InfoContext(ctx, "provider sync finished",
		"tenant_id", cfg.TenantID,
		"provider", cfg.Provider,
		"status", cfg.SyncStatus,
		"apps", result.AppsDiscovered,
		"users", result.UsersProcessed,
		"tokens", result.TokensDiscovered,
		"duration", result.SyncDuration)
	return nil
}

// runSync builds the connector, performs the full sync, and persists a
// successful result. Returned errors are setup or persistence failures.
func (r *Runner) runSync(ctx context.Context, cfg store.ProviderConfig) (connectors.SyncResult, error) {
	var result connectors.SyncResult

	def, ok := r.registry.Get(cfg.Provider)
	if !ok {
		return result, fmt.Errorf("no connector registered for provider %q", cfg.Provider)
	}

	creds, err := r.openCredentials(cfg.SealedCredentials)
	if err != nil {
		return result, fmt.Errorf("open credentials for %s/%s: %w", cfg.TenantID, cfg.Provider, err)
	}

	opts := r.baseOptions
	opts.UserSink = &storeUserSink{
		store:    r.store,
		tenantID: cfg.TenantID,
		provider: cfg.Provider,
	}

	conn, err := def.New(creds, opts)
	if err != nil {
		return result, fmt.Errorf("build %s connector: %w", cfg.Provider, err)
	}

	result = connectors.FullSync(ctx, conn)
	if !result.Success {
		return result, nil
	}

	if err := r.detector.ProcessBatch(ctx, cfg.TenantID, cfg.Provider, result.Apps); err != nil {
		return result, fmt.Errorf("process discovery batch: %w", err)
	}
	if err := r.persistAccess(ctx, cfg.TenantID, cfg.Provider, result); err != nil {
		return result, err
	}
	return result, nil
}

func (r *Runner) openCredentials(sealed string) (connectors.Credentials, error) {
	var creds connectors.Credentials
	plaintext, err := r.codec.Open(sealed)
	if err != nil {
		return creds, err
	}
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return creds, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}

// persistAccess writes discovered SSO assignments and OAuth grants, mapping
// provider-side user IDs onto local users. A grant's identity is the
// (user, provider, external app, kind) tuple, so a re-sync updates the
// existing row instead of minting a duplicate. Rows for users the directory
// sync never produced are dropped rather than orphaned.
func (r *Runner) persistAccess(ctx context.Context, tenantID, provider string, result connectors.SyncResult) error {
	users, err := r.store.ListUsers(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	byExternal := make(map[string]string, len(users))
	byEmail := make(map[string]string, len(users))
	for _, u := range users {
		if ext := u.ExternalIDs[provider]; ext != "" {
			byExternal[ext] = u.ID
		}
		if u.Email != "" {
			byEmail[strings.ToLower(u.Email)] = u.ID
		}
	}
	resolve := func(externalID, email string) string {
		if id, ok := byExternal[externalID]; ok {
			return id
		}
		return byEmail[strings.ToLower(email)]
	}

	apps, err := r.store.ListCatalogApps(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list catalog apps: %w", err)
	}
	appsByExternal := make(map[string]store.CatalogApp, len(apps))
	for _, app := range apps {
		if app.Provider == provider && app.ExternalID != "" {
			appsByExternal[app.ExternalID] = app
		}
	}

	rows := newExistingRows(r.store, tenantID, provider)

	for _, a := range result.Access {
		userID := resolve(a.UserID, a.UserEmail)
		if userID == "" {
			continue
		}
		rec := store.UserAppAccess{
			ID:            uuid.NewString(),
			TenantID:      tenantID,
			UserID:        userID,
			Provider:      provider,
			ExternalAppID: a.AppExternalID,
			Kind:          store.AccessKindSSO,
			Scopes:        a.Permissions,
			GrantedAt:     a.GrantedAt,
			LastAccessAt:  a.LastAccessAt,
		}
		if app, ok := appsByExternal[a.AppExternalID]; ok {
			rec.AppID = app.ID
			rec.AppName = app.Name
		}
		existingID, err := rows.accessID(ctx, userID, a.AppExternalID, store.AccessKindSSO)
		if err != nil {
			return err
		}
		if existingID != "" {
			rec.ID = existingID
		}
		if err := r.store.UpsertUserAccess(ctx, rec); err != nil {
			return fmt.Errorf("upsert user access: %w", err)
		}
	}

	for _, tok := range result.Tokens {
		userID := resolve(tok.UserID, tok.UserEmail)
		if userID == "" {
			continue
		}
		rec := store.OAuthToken{
			ID:            uuid.NewString(),
			TenantID:      tenantID,
			UserID:        userID,
			Provider:      provider,
			ExternalAppID: tok.AppExternalID,
			AppName:       tok.AppName,
			Scopes:        tok.Scopes,
			GrantedAt:     tok.GrantedAt,
			ExpiresAt:     tok.ExpiresAt,
		}
		existingID, err := rows.tokenID(ctx, userID, tok.AppExternalID)
		if err != nil {
			return err
		}
		if existingID != "" {
			rec.ID = existingID
		}
		if err := r.store.UpsertOAuthToken(ctx, rec); err != nil {
			return fmt.Errorf("upsert oauth token: %w", err)
		}
	}
	return nil
}

// existingRows resolves persisted access and token row IDs by their natural
// grant identity, loading each user's rows at most once per sync.
type existingRows struct {
	store    store.Access
	tenantID string
	provider string

	loaded map[string]bool
	access map[string]string // user/externalApp/kind -> row ID
	tokens map[string]string // user/externalApp -> row ID
}

func newExistingRows(st store.Access, tenantID, provider string) *existingRows {
	return &existingRows{
		store:    st,
		tenantID: tenantID,
		provider: provider,
		loaded:   make(map[string]bool),
		access:   make(map[string]string),
		tokens:   make(map[string]string),
	}
}

func (e *existingRows) load(ctx context.Context, userID string) error {
	if e.loaded[userID] {
		return nil
	}
	e.loaded[userID] = true

	access, err := e.store.ListUserAccess(ctx, e.tenantID, userID)
	if err != nil {
		return fmt.Errorf("list user access: %w", err)
	}
	for _, a := range access {
		if a.Provider == e.provider {
			e.access[userID+"/"+a.ExternalAppID+"/"+a.Kind] = a.ID
		}
	}

	tokens, err := e.store.ListOAuthTokens(ctx, e.tenantID, userID)
	if err != nil {
		return fmt.Errorf("list oauth tokens: %w", err)
	}
	for _, tok := range tokens {
		if tok.Provider == e.provider {
			e.tokens[userID+"/"+tok.ExternalAppID] = tok.ID
		}
	}
	return nil
}

func (e *existingRows) accessID(ctx context.Context, userID, externalAppID, kind string) (string, error) {
	if err := e.load(ctx, userID); err != nil {
		return "", err
	}
	return e.access[userID+"/"+externalAppID+"/"+kind], nil
}

func (e *existingRows) tokenID(ctx context.Context, userID, externalAppID string) (string, error) {
	if err := e.load(ctx, userID); err != nil {
		return "", err
	}
	return e.tokens[userID+"/"+externalAppID], nil
}

// SyncAll runs every enabled provider config, fanning out across pairs.
func (r *Runner) SyncAll(ctx context.Context) error {
	configs, err := r.store.ListProviderConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list provider configs: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSyncs)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		cfg := cfg
		g.Go(func() error {
			return r.SyncProvider(ctx, cfg)
		})
	}
	return g.Wait()
}

// storeUserSink maps directory users from a provider onto local user
// records, matching by provider external ID first, then email.
type storeUserSink struct {
	store    store.Store
	tenantID string
	provider string
}

func (s *storeUserSink) ApplyUser(ctx context.Context, du connectors.DiscoveredUser) (bool, error) {
	email := strings.ToLower(strings.TrimSpace(du.Email))
	if email == "" {
		return false, nil
	}

	users, err := s.store.ListUsers(ctx, s.tenantID)
	if err != nil {
		return false, err
	}

	var existing *store.User
	for i := range users {
		if users[i].ExternalIDs[s.provider] == du.ExternalID {
			existing = &users[i]
			break
		}
	}
	if existing == nil {
		for i := range users {
			if strings.ToLower(users[i].Email) == email {
				existing = &users[i]
				break
			}
		}
	}

	status := store.UserStatusActive
	if du.Suspended {
		status = store.UserStatusSuspended
	}

	u := store.User{
		ID:          uuid.NewString(),
		TenantID:    s.tenantID,
		Email:       email,
		DisplayName: du.DisplayName,
		Status:      status,
		ExternalIDs: map[string]string{s.provider: du.ExternalID},
	}
	if existing != nil {
		u.ID = existing.ID
		if u.DisplayName == "" {
			u.DisplayName = existing.DisplayName
		}
		for k, v := range existing.ExternalIDs {
			if _, ok := u.ExternalIDs[k]; !ok {
				u.ExternalIDs[k] = v
			}
		}
	}

	return s.store.UpsertUser(ctx, u)
}
