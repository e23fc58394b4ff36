package store

import "time"

// Catalog app approval states.
const (
	AppStatusApproved = "approved"
	AppStatusPending  = "pending"
	AppStatusDenied   = "denied"
)

// Access record kinds.
const (
	AccessKindSSO   = "sso"
	AccessKindOAuth = "oauth"
)

// Offboarding request states.
const (
	RequestStatusPending    = "pending"
	RequestStatusInProgress = "in_progress"
	RequestStatusCompleted  = "completed"
	RequestStatusPartial    = "partial"
	RequestStatusFailed     = "failed"
	RequestStatusCancelled  = "cancelled"
)

// Offboarding task states.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusSkipped    = "skipped"
)

// User directory states.
const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
)

// Provider sync states persisted on a provider config.
const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
)

type Tenant struct {
	ID   string
	Name string
}

type User struct {
	ID          string
	TenantID    string
	Email       string
	DisplayName string
	Status      string
	ExternalIDs map[string]string // provider -> provider-side user id
}

// CatalogApp is a sanctioned-catalog entry, created either by an admin or by
// the Shadow IT detector when an unknown app is first discovered.
type CatalogApp struct {
	ID          string
	TenantID    string
	Name        string
	Vendor      string
	WebsiteURL  string
	LogoURL     string
	Status      string
	RiskScore   int
	RiskFactors []string
	Provider    string
	ExternalID  string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// UserAppAccess is one user's access to one app through one provider.
type UserAppAccess struct {
	ID            string
	TenantID      string
	UserID        string
	AppID         string
	AppName       string
	Provider      string
	ExternalAppID string
	Kind          string // sso or oauth
	Scopes        []string
	GrantedAt     time.Time
	LastAccessAt  *time.Time
}

// OAuthToken is a granted OAuth token/consent discovered from a provider.
type OAuthToken struct {
	ID            string
	TenantID      string
	UserID        string
	Provider      string
	ExternalAppID string
	AppName       string
	Scopes        []string
	GrantedAt     time.Time
	ExpiresAt     *time.Time
}

// ProviderConfig is a tenant's configured IdP integration. Credentials is an
// opaque sealed blob; internal/secrets opens it before connector use.
type ProviderConfig struct {
	ID                string
	TenantID          string
	Provider          string
	Enabled           bool
	SealedCredentials string

	SyncStatus     string
	LastSyncError  string
	LastSyncAt     time.Time
	AppsDiscovered int
	UsersProcessed int
	TokensFound    int
}

type PlaybookStep struct {
	Type        string
	Priority    int
	Enabled     bool
	Description string
}

type Playbook struct {
	ID        string
	TenantID  string
	Name      string
	Type      string
	IsDefault bool
	Steps     []PlaybookStep
}

type OffboardingRequest struct {
	ID               string
	TenantID         string
	UserID           string
	PlaybookID       string
	Status           string
	TotalTasks       int
	CompletedTasks   int
	FailedTasks      int
	TransferToUserID string
	CreatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

type OffboardingTask struct {
	ID           string
	RequestID    string
	TaskType     string
	AppID        string
	AppName      string
	Provider     string
	Status       string
	Priority     int
	Result       string
	ErrorMessage string
	RetryCount   int
}
