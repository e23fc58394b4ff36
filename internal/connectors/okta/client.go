package okta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/appguard/appguard/internal/connectors"
	"github.com/appguard/appguard/internal/retry"
	"github.com/appguard/appguard/internal/ssrf"
)

const maxErrorBodySize = 1 << 20

// oktaDomainSuffixes are the multi-tenant Okta cells a tenant host may live
// under.
var oktaDomainSuffixes = []string{"okta.com", "oktapreview.com", "okta-emea.com"}

// Client calls the Okta management API with a static SSWS token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	allow   ssrf.Validator
	opts    connectors.Options
}

func newClient(creds connectors.Credentials, opts connectors.Options) (*Client, error) {
	creds = creds.Normalized()
	if creds.TenantDomain == "" {
		return nil, errors.New("okta tenant domain is required")
	}
	if creds.ClientSecret == "" {
		return nil, errors.New("okta api token is required")
	}

	base := creds.TenantDomain
	if !strings.HasPrefix(base, "https://") && !strings.HasPrefix(base, "http://") {
		base = "https://" + base
	}
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(base)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid okta tenant domain %q", creds.TenantDomain)
	}

	opts = opts.WithDefaults()
	return &Client{
		baseURL: base,
		token:   creds.ClientSecret,
		http:    opts.HTTPClient,
		allow:   ssrf.NewAllowlist([]string{u.Hostname()}, oktaDomainSuffixes),
		opts:    opts,
	}, nil
}

type apiApp struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	SignOnMode string `json:"signOnMode"`
	Visibility struct {
		AppLinks map[string]bool `json:"appLinks"`
	} `json:"visibility"`
	Links struct {
		Logo []struct {
			Href string `json:"href"`
		} `json:"logo"`
	} `json:"_links"`
}

type apiAppUser struct {
	ID      string `json:"id"`
	Scope   string `json:"scope"`
	Status  string `json:"status"`
	Created string `json:"created"`
	Profile struct {
		Email string `json:"email"`
	} `json:"profile"`
}

type apiUser struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Profile struct {
		Email       string `json:"email"`
		FirstName   string `json:"firstName"`
		LastName    string `json:"lastName"`
		DisplayName string `json:"displayName"`
	} `json:"profile"`
}

type apiGrant struct {
	ID       string `json:"id"`
	ScopeID  string `json:"scopeId"`
	ClientID string `json:"clientId"`
	Status   string `json:"status"`
	Created  string `json:"created"`
	Links    struct {
		App struct {
			Title string `json:"title"`
		} `json:"app"`
	} `json:"_links"`
}

func (c *Client) listApps(ctx context.Context) ([]apiApp, error) {
	return listPaged[apiApp](ctx, c, "list apps", c.baseURL+"/api/v1/apps?limit=200")
}

func (c *Client) listAppUsers(ctx context.Context, appID string) ([]apiAppUser, error) {
	appID = url.PathEscape(strings.TrimSpace(appID))
	return listPaged[apiAppUser](ctx, c, "list app users", c.baseURL+"/api/v1/apps/"+appID+"/users?limit=500")
}

func (c *Client) listUsers(ctx context.Context) ([]apiUser, error) {
	return listPaged[apiUser](ctx, c, "list users", c.baseURL+"/api/v1/users?limit=200")
}

func (c *Client) listUserGrants(ctx context.Context, userID string) ([]apiGrant, error) {
	userID = url.PathEscape(strings.TrimSpace(userID))
	return listPaged[apiGrant](ctx, c, "list user grants", c.baseURL+"/api/v1/users/"+userID+"/grants?limit=200")
}

// listPaged follows Link: rel="next" headers up to the page cap.
func listPaged[T any](ctx context.Context, c *Client, op, endpoint string) ([]T, error) {
	var out []T
	for page := 0; page < c.opts.MaxPages && endpoint != ""; page++ {
		body, next, err := c.get(ctx, op, endpoint)
		if err != nil {
			return nil, err
		}
		var items []T
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, connectors.NewValidationError(providerKind, op, err)
		}
		out = append(out, items...)
		endpoint = next
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, op, endpoint string) (body []byte, next string, err error) {
	if err := c.allow.Validate(endpoint); err != nil {
		return nil, "", connectors.NewValidationError(providerKind, op, err)
	}

	err = retry.Do(ctx, retry.Policy{
		MaxAttempts: c.opts.MaxRetries,
		BaseDelay:   c.opts.RetryBaseDelay,
		Retryable:   connectors.IsRetryable,
	}, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.DataCallTimeout)
		defer cancel()

		req, reqErr := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
		if reqErr != nil {
			return connectors.NewValidationError(providerKind, op, reqErr)
		}
		req.Header.Set("Authorization", "SSWS "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "appguard")

		resp, doErr := c.http.Do(req)
		if doErr != nil {
			return connectors.NewConnectionError(providerKind, op, doErr)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			b, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return connectors.NewConnectionError(providerKind, op, readErr)
			}
			body = b
			next = nextLink(resp.Header)
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return connectors.NewAuthenticationError(providerKind, op, oktaError(resp))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return connectors.NewConnectionError(providerKind, op, oktaError(resp))
		default:
			return connectors.NewValidationError(providerKind, op, oktaError(resp))
		}
	})
	if err != nil {
		return nil, "", err
	}
	return body, next, nil
}

// nextLink extracts the rel="next" cursor from Okta's Link headers.
func nextLink(h http.Header) string {
	for _, link := range h.Values("Link") {
		parts := strings.Split(link, ";")
		if len(parts) < 2 {
			continue
		}
		if !strings.Contains(parts[1], `rel="next"`) {
			continue
		}
		target := strings.TrimSpace(parts[0])
		target = strings.TrimPrefix(target, "<")
		return strings.TrimSuffix(target, ">")
	}
	return ""
}

func oktaError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var payload struct {
		ErrorCode    string `json:"errorCode"`
		ErrorSummary string `json:"errorSummary"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.ErrorSummary != "" {
		return fmt.Errorf("%s: %s: %s", resp.Status, payload.ErrorCode, payload.ErrorSummary)
	}
	return errors.New(resp.Status)
}
