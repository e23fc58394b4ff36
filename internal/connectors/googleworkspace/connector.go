// Package googleworkspace discovers third-party OAuth grants and directory
// users from a Google Workspace tenant via the Admin SDK.
package googleworkspace

import (
	"context"
	"strings"

	"github.com/appguard/appguard/internal/connectors"
)

const providerKind = "google_workspace"

// Definition registers the Google Workspace connector.
type Definition struct{}

func (Definition) Provider() string    { return providerKind }
func (Definition) DisplayName() string { return "Google Workspace" }

func (Definition) New(creds connectors.Credentials, opts connectors.Options) (connectors.Connector, error) {
	client, err := newClient(creds, opts, clientOptions{})
	if err != nil {
		return nil, err
	}
	return &Connector{client: client, opts: opts.WithDefaults()}, nil
}

// Connector implements the provider contract against the Admin SDK
// Directory API. Third-party apps surface through the per-user token grants;
// there is no separate app catalog endpoint.
type Connector struct {
	client *Client
	opts   connectors.Options
}

func (c *Connector) Provider() string { return providerKind }

// TestConnection lists a single user page, which exercises token minting,
// domain-wide delegation, and the customer ID in one call.
func (c *Connector) TestConnection(ctx context.Context) error {
	_, err := c.client.listPaged(ctx, "test connection",
		c.client.directoryBase+"/users", "users",
		map[string][]string{
			"customer":   {c.client.customerID},
			"maxResults": {"1"},
		})
	return err
}

func (c *Connector) DiscoverApps(ctx context.Context) ([]connectors.DiscoveredApp, error) {
	grants, err := c.allGrants(ctx)
	if err != nil {
		return nil, err
	}

	var apps []connectors.DiscoveredApp
	byID := make(map[string]int)
	for _, g := range grants {
		if g.ClientID == "" || g.Anonymous {
			continue
		}
		if idx, ok := byID[g.ClientID]; ok {
			apps[idx].Permissions = connectors.MergeScopes(apps[idx].Permissions, g.Scopes)
			continue
		}
		name := strings.TrimSpace(g.DisplayText)
		if name == "" {
			name = g.ClientID
		}
		byID[g.ClientID] = len(apps)
		apps = append(apps, connectors.DiscoveredApp{
			ExternalID:  g.ClientID,
			Name:        name,
			Permissions: append([]string(nil), g.Scopes...),
			Metadata: map[string]string{
				"nativeApp": boolString(g.NativeApp),
			},
		})
	}
	return apps, nil
}

// DiscoverUserAccess returns nothing: the Admin SDK has no SSO-assignment
// surface, so all Google-side app access arrives as OAuth token grants.
func (c *Connector) DiscoverUserAccess(context.Context) ([]connectors.DiscoveredUserAccess, error) {
	return nil, nil
}

func (c *Connector) DiscoverOAuthTokens(ctx context.Context) ([]connectors.DiscoveredOAuthToken, error) {
	grants, err := c.allGrants(ctx)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*connectors.DiscoveredOAuthToken)
	var order []string
	for _, g := range grants {
		if g.ClientID == "" || g.Anonymous {
			continue
		}
		key := g.UserKey + "|" + g.ClientID
		tok, ok := merged[key]
		if !ok {
			name := strings.TrimSpace(g.DisplayText)
			if name == "" {
				name = g.ClientID
			}
			tok = &connectors.DiscoveredOAuthToken{
				UserID:        g.UserKey,
				UserEmail:     strings.ToLower(g.userEmail),
				AppExternalID: g.ClientID,
				AppName:       name,
			}
			merged[key] = tok
			order = append(order, key)
		}
		tok.Scopes = connectors.MergeScopes(tok.Scopes, g.Scopes)
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
		if u.ID == "" || u.PrimaryEmail == "" {
			continue
		}
		created, err := c.opts.UserSink.ApplyUser(ctx, connectors.DiscoveredUser{
			ExternalID:  u.ID,
			Email:       strings.ToLower(u.PrimaryEmail),
			DisplayName: strings.TrimSpace(u.Name.FullName),
			Suspended:   u.Suspended,
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

// allGrants walks every directory user and collects their token grants.
func (c *Connector) allGrants(ctx context.Context) ([]tokenGrant, error) {
	users, err := c.client.listUsers(ctx)
	if err != nil {
		return nil, err
	}

	var all []tokenGrant
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		grants, err := c.client.listUserTokens(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			if g.UserKey == "" {
				g.UserKey = u.ID
			}
			g.userEmail = u.PrimaryEmail
			all = append(all, g)
		}
	}
	return all, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
