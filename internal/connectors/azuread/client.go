package azuread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/appguard/appguard/internal/connectors"
	"github.com/appguard/appguard/internal/retry"
	"github.com/appguard/appguard/internal/ssrf"
)

const (
	defaultGraphBase = "https://graph.microsoft.com/v1.0"
	defaultAuthority = "https://login.microsoftonline.com"
	defaultScope     = "https://graph.microsoft.com/.default"

	maxErrorBodySize = 1 << 20 // 1 MiB
	pageSize         = "999"
)

// Client is a minimal Microsoft Graph REST client with bearer-token
// caching, shared retry/backoff, and allow-list URL validation.
type Client struct {
	tenantID     string
	clientID     string
	clientSecret string

	http          *http.Client
	graphBase     string
	authorityBase string
	allow         ssrf.Validator
	opts          connectors.Options

	mu          sync.Mutex
	cachedToken string
	tokenExpiry time.Time
}

type clientOptions struct {
	GraphBaseURL     string
	AuthorityBaseURL string
}

func newClient(creds connectors.Credentials, opts connectors.Options, clientOpts clientOptions) (*Client, error) {
	creds = creds.Normalized()
	if creds.TenantDomain == "" {
		return nil, errors.New("azure ad tenant id is required")
	}
	if creds.ClientID == "" {
		return nil, errors.New("azure ad client id is required")
	}
	if creds.ClientSecret == "" {
		return nil, errors.New("azure ad client secret is required")
	}

	opts = opts.WithDefaults()

	graphBase := strings.TrimRight(strings.TrimSpace(clientOpts.GraphBaseURL), "/")
	if graphBase == "" {
		graphBase = defaultGraphBase
	}
	authorityBase := strings.TrimRight(strings.TrimSpace(clientOpts.AuthorityBaseURL), "/")
	if authorityBase == "" {
		authorityBase = defaultAuthority
	}

	allowed := []string{"graph.microsoft.com", "login.microsoftonline.com"}
	for _, base := range []string{graphBase, authorityBase} {
		if u, err := url.Parse(base); err == nil && u.Hostname() != "" {
			allowed = append(allowed, u.Hostname())
		}
	}

	return &Client{
		tenantID:      creds.TenantDomain,
		clientID:      creds.ClientID,
		clientSecret:  creds.ClientSecret,
		http:          opts.HTTPClient,
		graphBase:     graphBase,
		authorityBase: authorityBase,
		allow:         ssrf.NewAllowlist(allowed, nil),
		opts:          opts,
	}, nil
}

type servicePrincipal struct {
	ID                   string `json:"id"`
	AppID                string `json:"appId"`
	DisplayName          string `json:"displayName"`
	PublisherName        string `json:"publisherName"`
	Homepage             string `json:"homepage"`
	ServicePrincipalType string `json:"servicePrincipalType"`
	AppRoleAssignedTo    []struct {
		PrincipalID          string `json:"principalId"`
		PrincipalDisplayName string `json:"principalDisplayName"`
		PrincipalType        string `json:"principalType"`
		CreatedDateTimeRaw   string `json:"createdDateTime"`
	} `json:"appRoleAssignedTo"`
	Info *struct {
		LogoURL string `json:"logoUrl"`
	} `json:"info"`
}

type oauth2PermissionGrant struct {
	ID          string `json:"id"`
	ClientID    string `json:"clientId"`
	ConsentType string `json:"consentType"`
	PrincipalID string `json:"principalId"`
	Scope       string `json:"scope"`
}

type graphUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	AccountEnabled    *bool  `json:"accountEnabled"`
}

func (c *Client) listServicePrincipals(ctx context.Context, expandAssignments bool) ([]servicePrincipal, error) {
	query := url.Values{
		"$select": []string{"id,appId,displayName,publisherName,homepage,servicePrincipalType,info"},
		"$top":    []string{pageSize},
	}
	if expandAssignments {
		query.Set("$expand", "appRoleAssignedTo")
	}
	endpoint, err := c.graphURL("/servicePrincipals", query)
	if err != nil {
		return nil, err
	}

	rawItems, err := c.listPagedRaw(ctx, "list service principals", endpoint)
	if err != nil {
		return nil, err
	}
	out := make([]servicePrincipal, 0, len(rawItems))
	for _, raw := range rawItems {
		var sp servicePrincipal
		if err := json.Unmarshal(raw, &sp); err != nil {
			return nil, connectors.NewValidationError(providerKind, "decode service principal", err)
		}
		out = append(out, sp)
	}
	return out, nil
}

func (c *Client) listOAuth2PermissionGrants(ctx context.Context) ([]oauth2PermissionGrant, error) {
	endpoint, err := c.graphURL("/oauth2PermissionGrants", url.Values{"$top": []string{pageSize}})
	if err != nil {
		return nil, err
	}
	rawItems, err := c.listPagedRaw(ctx, "list oauth2 permission grants", endpoint)
	if err != nil {
		return nil, err
	}
	out := make([]oauth2PermissionGrant, 0, len(rawItems))
	for _, raw := range rawItems {
		var grant oauth2PermissionGrant
		if err := json.Unmarshal(raw, &grant); err != nil {
			return nil, connectors.NewValidationError(providerKind, "decode permission grant", err)
		}
		out = append(out, grant)
	}
	return out, nil
}

func (c *Client) listUsers(ctx context.Context) ([]graphUser, error) {
	endpoint, err := c.graphURL("/users", url.Values{
		"$select": []string{"id,displayName,mail,userPrincipalName,accountEnabled"},
		"$top":    []string{pageSize},
	})
	if err != nil {
		return nil, err
	}
	rawItems, err := c.listPagedRaw(ctx, "list users", endpoint)
	if err != nil {
		return nil, err
	}
	out := make([]graphUser, 0, len(rawItems))
	for _, raw := range rawItems {
		var u graphUser
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, connectors.NewValidationError(providerKind, "decode user", err)
		}
		out = append(out, u)
	}
	return out, nil
}

// listPagedRaw follows @odata.nextLink up to the page cap. Every link,
// including vendor-supplied next links, is validated first.
func (c *Client) listPagedRaw(ctx context.Context, op, endpoint string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for page := 0; page < c.opts.MaxPages; page++ {
		body, err := c.get(ctx, op, endpoint)
		if err != nil {
			return nil, err
		}
		var parsed struct {
			Value    []json.RawMessage `json:"value"`
			NextLink string            `json:"@odata.nextLink"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, connectors.NewValidationError(providerKind, op, err)
		}
		out = append(out, parsed.Value...)

		next := strings.TrimSpace(parsed.NextLink)
		if next == "" {
			return out, nil
		}
		endpoint = next
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, op, endpoint string) ([]byte, error) {
	if err := c.allow.Validate(endpoint); err != nil {
		return nil, connectors.NewValidationError(providerKind, op, err)
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = retry.Do(ctx, retry.Policy{
		MaxAttempts: c.opts.MaxRetries,
		BaseDelay:   c.opts.RetryBaseDelay,
		Retryable:   connectors.IsRetryable,
	}, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.DataCallTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
		if err != nil {
			return connectors.NewValidationError(providerKind, op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "appguard")

		resp, err := c.http.Do(req)
		if err != nil {
			return connectors.NewConnectionError(providerKind, op, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return connectors.NewConnectionError(providerKind, op, err)
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return connectors.NewAuthenticationError(providerKind, op, graphError(resp))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return connectors.NewConnectionError(providerKind, op, graphError(resp))
		default:
			return connectors.NewValidationError(providerKind, op, graphError(resp))
		}
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// token returns the cached bearer token, refreshing when inside the expiry
// buffer.
func (c *Client) token(ctx context.Context) (string, error) {
	now := time.Now()

	c.mu.Lock()
	cached := c.cachedToken
	exp := c.tokenExpiry
	c.mu.Unlock()

	if cached != "" && exp.After(now.Add(connectors.TokenExpiryBuffer)) {
		return cached, nil
	}

	token, expiresAt, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cachedToken = token
	c.tokenExpiry = expiresAt
	c.mu.Unlock()
	return token, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Time, error) {
	endpoint := c.authorityBase + "/" + url.PathEscape(c.tenantID) + "/oauth2/v2.0/token"
	if err := c.allow.Validate(endpoint); err != nil {
		return "", time.Time{}, connectors.NewValidationError(providerKind, "token", err)
	}

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("scope", defaultScope)
	form.Set("grant_type", "client_credentials")

	var accessToken string
	var expiresAt time.Time

	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: c.opts.MaxRetries,
		BaseDelay:   c.opts.RetryBaseDelay,
		Retryable:   connectors.IsRetryable,
	}, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.TokenTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return connectors.NewValidationError(providerKind, "token", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return connectors.NewConnectionError(providerKind, "token", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return connectors.NewAuthenticationError(providerKind, "token", graphError(resp))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return connectors.NewConnectionError(providerKind, "token", graphError(resp))
		}

		var payload struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   any    `json:"expires_in"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBodySize)).Decode(&payload); err != nil {
			return connectors.NewConnectionError(providerKind, "token", err)
		}
		accessToken = strings.TrimSpace(payload.AccessToken)
		if accessToken == "" {
			return connectors.NewAuthenticationError(providerKind, "token", errors.New("token response missing access_token"))
		}
		expiresIn, ok := parseExpiresIn(payload.ExpiresIn)
		if !ok {
			expiresIn = 3600
		}
		expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
		return nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return accessToken, expiresAt, nil
}

func (c *Client) graphURL(path string, query url.Values) (string, error) {
	u, err := url.Parse(c.graphBase)
	if err != nil {
		return "", connectors.NewValidationError(providerKind, "build url", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	u.Fragment = ""
	return u.String(), nil
}

func parseExpiresIn(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func graphError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		code := strings.TrimSpace(payload.Error.Code)
		msg := strings.TrimSpace(payload.Error.Message)
		if code != "" || msg != "" {
			return fmt.Errorf("%s: %s: %s", resp.Status, code, msg)
		}
	}
	msg := strings.Join(strings.Fields(string(body)), " ")
	const maxLen = 300
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "…"
	}
	if msg == "" {
		return errors.New(resp.Status)
	}
	return fmt.Errorf("%s: %s", resp.Status, msg)
}
