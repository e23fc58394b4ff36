package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is a mutex-guarded in-memory Store used by tests and the local
// runner. Keys follow the same (tenant, id) shape the external store uses.
type Memory struct {
	mu sync.RWMutex

	users     map[string]User           // tenant/id
	apps      map[string]CatalogApp     // tenant/id
	access    map[string]UserAppAccess  // tenant/id
	tokens    map[string]OAuthToken     // tenant/id
	providers map[string]ProviderConfig // tenant/provider
	playbooks map[string]Playbook       // tenant/id
	requests  map[string]OffboardingRequest
	tasks     map[string]OffboardingTask
}

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[string]User),
		apps:      make(map[string]CatalogApp),
		access:    make(map[string]UserAppAccess),
		tokens:    make(map[string]OAuthToken),
		providers: make(map[string]ProviderConfig),
		playbooks: make(map[string]Playbook),
		requests:  make(map[string]OffboardingRequest),
		tasks:     make(map[string]OffboardingTask),
	}
}

func key(tenantID, id string) string {
	return strings.TrimSpace(tenantID) + "/" + strings.TrimSpace(id)
}

func (m *Memory) UpsertUser(_ context.Context, u User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(u.TenantID, u.ID)
	_, exists := m.users[k]
	m.users[k] = u
	return !exists, nil
}

func (m *Memory) GetUser(_ context.Context, tenantID, userID string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[key(tenantID, userID)]
	if !ok {
		return User{}, &NotFoundError{Kind: "user", Key: userID}
	}
	return u, nil
}

func (m *Memory) ListUsers(_ context.Context, tenantID string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []User
	for _, u := range m.users {
		if u.TenantID == tenantID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListCatalogApps(_ context.Context, tenantID string) ([]CatalogApp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []CatalogApp
	for _, a := range m.apps {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetCatalogApp(_ context.Context, tenantID, appID string) (CatalogApp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.apps[key(tenantID, appID)]
	if !ok {
		return CatalogApp{}, &NotFoundError{Kind: "catalog app", Key: appID}
	}
	return a, nil
}

func (m *Memory) CreateCatalogApp(_ context.Context, app CatalogApp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[key(app.TenantID, app.ID)] = app
	return nil
}

func (m *Memory) UpdateCatalogApp(_ context.Context, app CatalogApp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(app.TenantID, app.ID)
	if _, ok := m.apps[k]; !ok {
		return &NotFoundError{Kind: "catalog app", Key: app.ID}
	}
	m.apps[k] = app
	return nil
}

func (m *Memory) UpsertUserAccess(_ context.Context, a UserAppAccess) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access[key(a.TenantID, a.ID)] = a
	return nil
}

func (m *Memory) ListUserAccess(_ context.Context, tenantID, userID string) ([]UserAppAccess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []UserAppAccess
	for _, a := range m.access {
		if a.TenantID == tenantID && a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteUserAccess(_ context.Context, tenantID, accessID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.access, key(tenantID, accessID))
	return nil
}

func (m *Memory) UpsertOAuthToken(_ context.Context, tok OAuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key(tok.TenantID, tok.ID)] = tok
	return nil
}

func (m *Memory) ListOAuthTokens(_ context.Context, tenantID, userID string) ([]OAuthToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []OAuthToken
	for _, tok := range m.tokens {
		if tok.TenantID == tenantID && tok.UserID == userID {
			out = append(out, tok)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteOAuthToken(_ context.Context, tenantID, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key(tenantID, tokenID))
	return nil
}

func (m *Memory) ListProviderConfigs(_ context.Context) ([]ProviderConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ProviderConfig, 0, len(m.providers))
	for _, cfg := range m.providers {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].Provider < out[j].Provider
	})
	return out, nil
}

func (m *Memory) GetProviderConfig(_ context.Context, tenantID, provider string) (ProviderConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.providers[key(tenantID, provider)]
	if !ok {
		return ProviderConfig{}, &NotFoundError{Kind: "provider config", Key: provider}
	}
	return cfg, nil
}

func (m *Memory) UpdateProviderConfig(_ context.Context, cfg ProviderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[key(cfg.TenantID, cfg.Provider)] = cfg
	return nil
}

func (m *Memory) ListPlaybooks(_ context.Context, tenantID string) ([]Playbook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Playbook
	for _, pb := range m.playbooks {
		if pb.TenantID == tenantID {
			out = append(out, pb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetPlaybook(_ context.Context, tenantID, playbookID string) (Playbook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pb, ok := m.playbooks[key(tenantID, playbookID)]
	if !ok {
		return Playbook{}, &NotFoundError{Kind: "playbook", Key: playbookID}
	}
	return pb, nil
}

func (m *Memory) SavePlaybook(_ context.Context, pb Playbook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playbooks[key(pb.TenantID, pb.ID)] = pb
	return nil
}

func (m *Memory) DeletePlaybook(_ context.Context, tenantID, playbookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.playbooks, key(tenantID, playbookID))
	return nil
}

func (m *Memory) CreateOffboardingRequest(_ context.Context, req OffboardingRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = req
	return nil
}

func (m *Memory) UpdateOffboardingRequest(_ context.Context, req OffboardingRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.ID]; !ok {
		return &NotFoundError{Kind: "offboarding request", Key: req.ID}
	}
	m.requests[req.ID] = req
	return nil
}

func (m *Memory) GetOffboardingRequest(_ context.Context, requestID string) (OffboardingRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[requestID]
	if !ok {
		return OffboardingRequest{}, &NotFoundError{Kind: "offboarding request", Key: requestID}
	}
	return req, nil
}

func (m *Memory) CreateOffboardingTask(_ context.Context, task OffboardingTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
	return nil
}

func (m *Memory) UpdateOffboardingTask(_ context.Context, task OffboardingTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return &NotFoundError{Kind: "offboarding task", Key: task.ID}
	}
	m.tasks[task.ID] = task
	return nil
}

func (m *Memory) ListOffboardingTasks(_ context.Context, requestID string) ([]OffboardingTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []OffboardingTask
	for _, task := range m.tasks {
		if task.RequestID == requestID {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
