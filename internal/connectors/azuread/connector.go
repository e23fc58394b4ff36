// Package azuread discovers application access through the Microsoft Graph
// API: service principals, app role assignments, and OAuth2 permission
// grants.
package azuread

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/appguard/appguard/internal/connectors"
)

const providerKind = "azure_ad"

// orgWidePrincipal marks admin-consented grants that apply to every user in
// the tenant rather than one principal.
const orgWidePrincipal = "org-wide"

type Definition struct{}

func (Definition) Provider() string    { return providerKind }
func (Definition) DisplayName() string { return "Azure AD" }

func (Definition) New(creds connectors.Credentials, opts connectors.Options) (connectors.Connector, error) {
	client, err := newClient(creds, opts, clientOptions{})
	if err != nil {
		return nil, err
	}
	return &Connector{client: client, opts: opts.WithDefaults()}, nil
}

// Connector implements the provider contract against Microsoft Graph.
type Connector struct {
	client *Client
	opts   connectors.Options

	mu       sync.Mutex
	appNames map[string]string // service principal id -> display name
}

func (c *Connector) Provider() string { return providerKind }

func (c *Connector) TestConnection(ctx context.Context) error {
	_, err := c.client.token(ctx)
	return err
}

func (c *Connector) DiscoverApps(ctx context.Context) ([]connectors.DiscoveredApp, error) {
	sps, err := c.client.listServicePrincipals(ctx, false)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(sps))
	byID := make(map[string]struct{}, len(sps))
	var out []connectors.DiscoveredApp
	for _, sp := range sps {
		id := strings.TrimSpace(sp.AppID)
		if id == "" {
			id = strings.TrimSpace(sp.ID)
		}
		if id == "" {
			continue
		}
		names[sp.ID] = sp.DisplayName

		if _, ok := byID[id]; ok {
			continue
		}
		app := connectors.DiscoveredApp{
			ExternalID: id,
			Name:       strings.TrimSpace(sp.DisplayName),
			Vendor:     strings.TrimSpace(sp.PublisherName),
			WebsiteURL: strings.TrimSpace(sp.Homepage),
			Metadata: map[string]string{
				"servicePrincipalId":   sp.ID,
				"servicePrincipalType": sp.ServicePrincipalType,
			},
		}
		if sp.Info != nil {
			app.LogoURL = strings.TrimSpace(sp.Info.LogoURL)
		}
		out = append(out, app)
		byID[id] = struct{}{}
	}

	c.mu.Lock()
	c.appNames = names
	c.mu.Unlock()
	return out, nil
}

func (c *Connector) DiscoverUserAccess(ctx context.Context) ([]connectors.DiscoveredUserAccess, error) {
	sps, err := c.client.listServicePrincipals(ctx, true)
	if err != nil {
		return nil, err
	}

	var out []connectors.DiscoveredUserAccess
	for _, sp := range sps {
		appID := strings.TrimSpace(sp.AppID)
		if appID == "" {
			appID = strings.TrimSpace(sp.ID)
		}
		for _, assignment := range sp.AppRoleAssignedTo {
			if !strings.EqualFold(assignment.PrincipalType, "User") {
				continue
			}
			out = append(out, connectors.DiscoveredUserAccess{
				UserID:        strings.TrimSpace(assignment.PrincipalID),
				AppExternalID: appID,
				GrantedAt:     parseGraphTime(assignment.CreatedDateTimeRaw),
			})
		}
	}
	return out, nil
}

func (c *Connector) DiscoverOAuthTokens(ctx context.Context) ([]connectors.DiscoveredOAuthToken, error) {
	grants, err := c.client.listOAuth2PermissionGrants(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	names := c.appNames
	c.mu.Unlock()

	// Merge scopes per (principal, client): Graph stores one grant row per
	// resource the client was consented for.
	type grantKey struct{ principal, client string }
	merged := make(map[grantKey]*connectors.DiscoveredOAuthToken)
	var order []grantKey

	for _, grant := range grants {
		principal := strings.TrimSpace(grant.PrincipalID)
		if strings.EqualFold(grant.ConsentType, "AllPrincipals") {
			principal = orgWidePrincipal
		}
		if principal == "" {
			continue
		}
		key := grantKey{principal: principal, client: strings.TrimSpace(grant.ClientID)}
		scopes := strings.Fields(grant.Scope)

		if tok, ok := merged[key]; ok {
			tok.Scopes = connectors.MergeScopes(tok.Scopes, scopes)
			continue
		}
		merged[key] = &connectors.DiscoveredOAuthToken{
			UserID:        principal,
			AppExternalID: key.client,
			AppName:       names[key.client],
			Scopes:        connectors.MergeScopes(nil, scopes),
		}
		order = append(order, key)
	}

	out := make([]connectors.DiscoveredOAuthToken, 0, len(order))
	for _, key := range order {
		out = append(out, *merged[key])
	}
	return out, nil
}

func (c *Connector) SyncUsers(ctx context.Context) (connectors.UserSyncStats, error) {
	var stats connectors.UserSyncStats
	if c.opts.UserSink == nil {
		return stats, nil
	}

	users, err := c.client.listUsers(ctx)
	if err != nil {
		return stats, err
	}
	for _, u := range users {
		email := strings.TrimSpace(u.Mail)
		if email == "" {
			email = strings.TrimSpace(u.UserPrincipalName)
		}
		created, err := c.opts.UserSink.ApplyUser(ctx, connectors.DiscoveredUser{
			ExternalID:  u.ID,
			Email:       email,
			DisplayName: strings.TrimSpace(u.DisplayName),
			Suspended:   u.AccountEnabled != nil && !*u.AccountEnabled,
		})
		if err != nil {
			return stats, err
		}
		if created {
			stats.UsersAdded++
		} else {
			stats.UsersUpdated++
		}
	}
	return stats, nil
}

func parseGraphTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
