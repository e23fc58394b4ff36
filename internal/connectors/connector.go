// Package connectors defines the contract every IdP integration satisfies
// and the shared full-sync orchestration built on top of it.
package connectors

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// DiscoveredApp is one third-party application visible through a provider,
// keyed downstream by (provider, ExternalID).
type DiscoveredApp struct {
	ExternalID  string
	Name        string
	Vendor      string
	LogoURL     string
	WebsiteURL  string
	Permissions []string
	Metadata    map[string]string
}

// DiscoveredUserAccess is one user's SSO-style assignment to an app.
type DiscoveredUserAccess struct {
	UserID        string
	UserEmail     string
	AppExternalID string
	Permissions   []string
	GrantedAt     time.Time
	LastAccessAt  *time.Time
}

// DiscoveredOAuthToken is one granted OAuth consent.
type DiscoveredOAuthToken struct {
	UserID        string
	UserEmail     string
	AppExternalID string
	AppName       string
	Scopes        []string
	GrantedAt     time.Time
	ExpiresAt     *time.Time
}

// DiscoveredUser is a directory user row for best-effort user sync.
type DiscoveredUser struct {
	ExternalID  string
	Email       string
	DisplayName string
	Suspended   bool
}

// UserSyncStats summarizes the best-effort user sync stage.
type UserSyncStats struct {
	UsersAdded   int
	UsersUpdated int
}

// SyncResult is the immutable outcome of one full sync. A hard stage
// failure yields Success=false with the counts gathered so far; errors are
// folded in rather than thrown.
type SyncResult struct {
	Success          bool
	AppsDiscovered   int
	UsersProcessed   int
	TokensDiscovered int
	Errors           []string
	SyncDuration     time.Duration
	RawMetadata      map[string]string

	Apps   []DiscoveredApp
	Access []DiscoveredUserAccess
	Tokens []DiscoveredOAuthToken
	Users  UserSyncStats
}

// Connector is the provider contract. Implementations own token
// acquisition, pagination, backoff, and URL validation; FullSync owns the
// stage sequence.
type Connector interface {
	Provider() string
	TestConnection(ctx context.Context) error
	DiscoverApps(ctx context.Context) ([]DiscoveredApp, error)
	DiscoverUserAccess(ctx context.Context) ([]DiscoveredUserAccess, error)
	DiscoverOAuthTokens(ctx context.Context) ([]DiscoveredOAuthToken, error)
	SyncUsers(ctx context.Context) (UserSyncStats, error)
}

// Credentials are the decrypted IdP credentials handed to a connector
// constructor.
type Credentials struct {
	ClientID     string            `json:"clientId"`
	ClientSecret string            `json:"clientSecret"`
	TenantDomain string            `json:"tenantDomain,omitempty"`
	Scopes       []string          `json:"scopes,omitempty"`
	CustomConfig map[string]string `json:"customConfig,omitempty"`
}

func (c Credentials) Normalized() Credentials {
	out := c
	out.ClientID = strings.TrimSpace(out.ClientID)
	out.ClientSecret = strings.TrimSpace(out.ClientSecret)
	out.TenantDomain = strings.TrimSpace(out.TenantDomain)
	return out
}

// UserSink receives directory users during the best-effort user sync
// stage. The scheduler wires it to the tenant's user records.
type UserSink interface {
	ApplyUser(ctx context.Context, u DiscoveredUser) (created bool, err error)
}

// Options tune a connector's HTTP behavior. Zero values fall back to the
// contract defaults.
type Options struct {
	HTTPClient      *http.Client
	TokenTimeout    time.Duration
	DataCallTimeout time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	MaxPages        int
	UserSink        UserSink
}

const (
	DefaultTokenTimeout    = 30 * time.Second
	DefaultDataCallTimeout = 120 * time.Second
	DefaultMaxRetries      = 3
	DefaultRetryBaseDelay  = time.Second
	DefaultMaxPages        = 50

	// TokenExpiryBuffer is how early a cached bearer token is refreshed
	// ahead of its reported expiry.
	TokenExpiryBuffer = 5 * time.Minute
)

func (o Options) WithDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: DefaultDataCallTimeout}
	}
	if o.TokenTimeout <= 0 {
		o.TokenTimeout = DefaultTokenTimeout
	}
	if o.DataCallTimeout <= 0 {
		o.DataCallTimeout = DefaultDataCallTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	return o
}

// MergeScopes folds newScopes into scopes, deduplicating case-insensitively
// while preserving first-seen order. Used when the same external app ID
// appears across multiple raw records.
func MergeScopes(scopes, newScopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := scopes
	for _, s := range scopes {
		seen[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	for _, s := range newScopes {
		norm := strings.ToLower(strings.TrimSpace(s))
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, strings.TrimSpace(s))
	}
	return out
}
