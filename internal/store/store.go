// Package store defines the keyed-record contract this core expects from
// the persistence layer. The real implementation lives outside this module;
// Memory backs tests and the local runner.
package store

import "context"

type Users interface {
	UpsertUser(ctx context.Context, u User) (created bool, err error)
	GetUser(ctx context.Context, tenantID, userID string) (User, error)
	ListUsers(ctx context.Context, tenantID string) ([]User, error)
}

type Catalog interface {
	ListCatalogApps(ctx context.Context, tenantID string) ([]CatalogApp, error)
	GetCatalogApp(ctx context.Context, tenantID, appID string) (CatalogApp, error)
	CreateCatalogApp(ctx context.Context, app CatalogApp) error
	UpdateCatalogApp(ctx context.Context, app CatalogApp) error
}

type Access interface {
	UpsertUserAccess(ctx context.Context, a UserAppAccess) error
	ListUserAccess(ctx context.Context, tenantID, userID string) ([]UserAppAccess, error)
	DeleteUserAccess(ctx context.Context, tenantID, accessID string) error

	UpsertOAuthToken(ctx context.Context, tok OAuthToken) error
	ListOAuthTokens(ctx context.Context, tenantID, userID string) ([]OAuthToken, error)
	DeleteOAuthToken(ctx context.Context, tenantID, tokenID string) error
}

type ProviderConfigs interface {
	ListProviderConfigs(ctx context.Context) ([]ProviderConfig, error)
	GetProviderConfig(ctx context.Context, tenantID, provider string) (ProviderConfig, error)
	UpdateProviderConfig(ctx context.Context, cfg ProviderConfig) error
}

type Playbooks interface {
	ListPlaybooks(ctx context.Context, tenantID string) ([]Playbook, error)
	GetPlaybook(ctx context.Context, tenantID, playbookID string) (Playbook, error)
	SavePlaybook(ctx context.Context, pb Playbook) error
	DeletePlaybook(ctx context.Context, tenantID, playbookID string) error
}

type Offboarding interface {
	CreateOffboardingRequest(ctx context.Context, req OffboardingRequest) error
	UpdateOffboardingRequest(ctx context.Context, req OffboardingRequest) error
	GetOffboardingRequest(ctx context.Context, requestID string) (OffboardingRequest, error)

	CreateOffboardingTask(ctx context.Context, task OffboardingTask) error
	UpdateOffboardingTask(ctx context.Context, task OffboardingTask) error
	ListOffboardingTasks(ctx context.Context, requestID string) ([]OffboardingTask, error)
}

// Store is the full record API the core consumes.
type Store interface {
	Users
	Catalog
	Access
	ProviderConfigs
	Playbooks
	Offboarding
}

// NotFoundError is returned for lookups of records that do not exist.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return e.Kind + " " + e.Key + " not found"
}
