// Package okta discovers applications, assignments, and OAuth grants from an
// Okta org via the management API.
package okta

import (
	"context"
	"strings"
	"time"

	"github.com/appguard/appguard/internal/connectors"
)

const providerKind = "okta"

// Definition registers the Okta connector.
type Definition struct{}

func (Definition) Provider() string    { return providerKind }
func (Definition) DisplayName() string { return "Okta" }

func (Definition) New(creds connectors.Credentials, opts connectors.Options) (connectors.Connector, error) {
	return New(creds, opts)
}

// Connector implements the provider contract against the Okta management API.
type Connector struct {
	client *Client
	opts   connectors.Options
}

func New(creds connectors.Credentials, opts connectors.Options) (*Connector, error) {
	opts = opts.WithDefaults()
	client, err := newClient(creds, opts)
	if err != nil {
		return nil, err
	}
	return &Connector{client: client, opts: opts}, nil
}

func (c *Connector) Provider() string { return providerKind }

// TestConnection fetches a single page of apps, which exercises both the
// tenant URL and the API token.
func (c *Connector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.TokenTimeout)
	defer cancel()
	_, _, err := c.client.get(ctx, "test connection", c.client.baseURL+"/api/v1/apps?limit=1")
	return err
}

func (c *Connector) DiscoverApps(ctx context.Context) ([]connectors.DiscoveredApp, error) {
	raw, err := c.client.listApps(ctx)
	if err != nil {
		return nil, err
	}

	apps := make([]connectors.DiscoveredApp, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, app := range raw {
		if app.ID == "" {
			continue
		}
		if _, ok := seen[app.ID]; ok {
			continue
		}
		seen[app.ID] = struct{}{}

		var logo string
		if len(app.Links.Logo) > 0 {
			logo = app.Links.Logo[0].Href
		}
		apps = append(apps, connectors.DiscoveredApp{
			ExternalID: app.ID,
			Name:       app.Label,
			LogoURL:    logo,
			Metadata: map[string]string{
				"name":       app.Name,
				"status":     app.Status,
				"signOnMode": app.SignOnMode,
			},
		})
	}
	return apps, nil
}

// DiscoverUserAccess lists every app and then the users assigned to each.
func (c *Connector) DiscoverUserAccess(ctx context.Context) ([]connectors.DiscoveredUserAccess, error) {
	apps, err := c.client.listApps(ctx)
	if err != nil {
		return nil, err
	}

	var access []connectors.DiscoveredUserAccess
	for _, app := range apps {
		if app.ID == "" {
			continue
		}
		users, err := c.client.listAppUsers(ctx, app.ID)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if u.ID == "" {
				continue
			}
			var perms []string
			if u.Scope != "" {
				perms = []string{u.Scope}
			}
			access = append(access, connectors.DiscoveredUserAccess{
				UserID:        u.ID,
				UserEmail:     strings.ToLower(u.Profile.Email),
				AppExternalID: app.ID,
				Permissions:   perms,
				GrantedAt:     parseOktaTime(u.Created),
			})
		}
	}
	return access, nil
}

// DiscoverOAuthTokens lists per-user OAuth grants, merged per (user, client)
// pair so one row carries the union of granted scopes.
func (c *Connector) DiscoverOAuthTokens(ctx context.Context) ([]connectors.DiscoveredOAuthToken, error) {
	users, err := c.client.listUsers(ctx)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*connectors.DiscoveredOAuthToken)
	var order []string
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		grants, err := c.client.listUserGrants(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			if g.ClientID == "" {
				continue
			}
			key := u.ID + "|" + g.ClientID
			tok, ok := merged[key]
			if !ok {
				tok = &connectors.DiscoveredOAuthToken{
					UserID:        u.ID,
					UserEmail:     strings.ToLower(u.Profile.Email),
					AppExternalID: g.ClientID,
					AppName:       g.Links.App.Title,
					GrantedAt:     parseOktaTime(g.Created),
				}
				merged[key] = tok
				order = append(order, key)
			}
			if g.ScopeID != "" {
				tok.Scopes = connectors.MergeScopes(tok.Scopes, []string{g.ScopeID})
			}
		}
	}

	tokens := make([]connectors.DiscoveredOAuthToken, 0, len(order))
	for _, key := range order {
		tokens = append(tokens, *merged[key])
	}
	return tokens, nil
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
		if u.ID == "" || u.Profile.Email == "" {
			continue
		}
		name := u.Profile.DisplayName
		if name == "" {
			name = strings.TrimSpace(u.Profile.FirstName + " " + u.Profile.LastName)
		}
		created, err := c.opts.UserSink.ApplyUser(ctx, connectors.DiscoveredUser{
			ExternalID:  u.ID,
			Email:       strings.ToLower(u.Profile.Email),
			DisplayName: name,
			Suspended:   !strings.EqualFold(u.Status, "ACTIVE"),
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

func parseOktaTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
