package googleworkspace

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
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"

	"github.com/appguard/appguard/internal/connectors"
	"github.com/appguard/appguard/internal/retry"
	"github.com/appguard/appguard/internal/ssrf"
)

const (
	defaultDirectoryBase = "https://admin.googleapis.com/admin/directory/v1"
	defaultTokenURL      = "https://oauth2.googleapis.com/token"
	maxErrorBodySize     = 1 << 20
)

// directoryScopes are the read-only Admin SDK scopes the connector needs.
var directoryScopes = []string{
	"https://www.googleapis.com/auth/admin.directory.user.readonly",
	"https://www.googleapis.com/auth/admin.directory.user.security",
}

// Client calls the Admin SDK Directory API with a domain-wide-delegated
// service account. Token minting, refresh, and caching are handled by the
// jwt token source.
type Client struct {
	directoryBase string
	customerID    string
	tokens        oauth2.TokenSource
	http          *http.Client
	allow         ssrf.Validator
	opts          connectors.Options
}

type clientOptions struct {
	DirectoryBaseURL string
	TokenURL         string
	TokenSource      oauth2.TokenSource
}

func newClient(creds connectors.Credentials, opts connectors.Options, clientOpts clientOptions) (*Client, error) {
	creds = creds.Normalized()
	opts = opts.WithDefaults()

	customerID := creds.TenantDomain
	if customerID == "" {
		customerID = "my_customer"
	}

	directoryBase := strings.TrimRight(strings.TrimSpace(clientOpts.DirectoryBaseURL), "/")
	if directoryBase == "" {
		directoryBase = defaultDirectoryBase
	}
	tokenURL := strings.TrimSpace(clientOpts.TokenURL)
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}

	allowed := []string{"admin.googleapis.com", "oauth2.googleapis.com"}
	for _, base := range []string{directoryBase, tokenURL} {
		if u, err := url.Parse(base); err == nil && u.Hostname() != "" {
			allowed = append(allowed, u.Hostname())
		}
	}

	tokens := clientOpts.TokenSource
	if tokens == nil {
		if creds.ClientSecret == "" {
			return nil, errors.New("google workspace service account json is required")
		}
		if creds.ClientID == "" {
			return nil, errors.New("google workspace delegated admin email is required")
		}
		var sa struct {
			ClientEmail string `json:"client_email"`
			PrivateKey  string `json:"private_key"`
			TokenURI    string `json:"token_uri"`
		}
		if err := json.Unmarshal([]byte(creds.ClientSecret), &sa); err != nil {
			return nil, fmt.Errorf("decode service account json: %w", err)
		}
		if sa.ClientEmail == "" || sa.PrivateKey == "" {
			return nil, errors.New("service account json missing client_email or private_key")
		}
		if sa.TokenURI != "" {
			tokenURL = sa.TokenURI
		}
		cfg := &jwt.Config{
			Email:      sa.ClientEmail,
			PrivateKey: []byte(sa.PrivateKey),
			// Impersonate the delegated admin; the Directory API rejects
			// bare service-account identities.
			Subject:  creds.ClientID,
			Scopes:   directoryScopes,
			TokenURL: tokenURL,
			Expires:  time.Hour,
		}
		// Token minting gets its own client so the token timeout applies
		// instead of the data-call client's.
		tokenHTTP := &http.Client{Timeout: opts.TokenTimeout}
		if opts.HTTPClient != nil {
			tokenHTTP.Transport = opts.HTTPClient.Transport
		}
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, tokenHTTP)
		tokens = cfg.TokenSource(tokenCtx)
	}

	return &Client{
		directoryBase: directoryBase,
		customerID:    customerID,
		tokens:        oauth2.ReuseTokenSource(nil, tokens),
		http:          opts.HTTPClient,
		allow:         ssrf.NewAllowlist(allowed, []string{"googleapis.com"}),
		opts:          opts,
	}, nil
}

type directoryUser struct {
	ID           string `json:"id"`
	PrimaryEmail string `json:"primaryEmail"`
	Suspended    bool   `json:"suspended"`
	IsAdmin      bool   `json:"isAdmin"`
	Name         struct {
		FullName string `json:"fullName"`
	} `json:"name"`
}

type tokenGrant struct {
	ClientID    string   `json:"clientId"`
	DisplayText string   `json:"displayText"`
	NativeApp   bool     `json:"nativeApp"`
	Anonymous   bool     `json:"anonymous"`
	Scopes      []string `json:"scopes"`
	UserKey     string   `json:"userKey"`

	// userEmail is filled in by the caller from the owning directory user.
	userEmail string
}

func (c *Client) listUsers(ctx context.Context) ([]directoryUser, error) {
	values := url.Values{
		"customer":   []string{c.customerID},
		"maxResults": []string{"500"},
		"orderBy":    []string{"email"},
	}
	pages, err := c.listPaged(ctx, "list users", c.directoryBase+"/users", "users", values)
	if err != nil {
		return nil, err
	}

	users := make([]directoryUser, 0, len(pages))
	for _, raw := range pages {
		var u directoryUser
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, connectors.NewValidationError(providerKind, "list users", err)
		}
		users = append(users, u)
	}
	return users, nil
}

// listUserTokens lists the OAuth grants one user has issued to third-party
// clients.
func (c *Client) listUserTokens(ctx context.Context, userKey string) ([]tokenGrant, error) {
	endpoint := c.directoryBase + "/users/" + url.PathEscape(strings.TrimSpace(userKey)) + "/tokens"
	pages, err := c.listPaged(ctx, "list user tokens", endpoint, "items", nil)
	if err != nil {
		return nil, err
	}

	grants := make([]tokenGrant, 0, len(pages))
	for _, raw := range pages {
		var g tokenGrant
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, connectors.NewValidationError(providerKind, "list user tokens", err)
		}
		grants = append(grants, g)
	}
	return grants, nil
}

// listPaged follows nextPageToken cursors up to the page cap.
func (c *Client) listPaged(ctx context.Context, op, endpoint, key string, values url.Values) ([]json.RawMessage, error) {
	var all []json.RawMessage
	pageToken := ""

	for page := 0; page < c.opts.MaxPages; page++ {
		query := url.Values{}
		for k, items := range values {
			query[k] = append([]string(nil), items...)
		}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		requestURL := endpoint
		if encoded := query.Encode(); encoded != "" {
			requestURL += "?" + encoded
		}

		body, err := c.get(ctx, op, requestURL)
		if err != nil {
			return nil, err
		}

		var payload struct {
			NextPageToken string            `json:"nextPageToken"`
			Items         []json.RawMessage `json:"items"`
			Users         []json.RawMessage `json:"users"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, connectors.NewValidationError(providerKind, op, err)
		}
		switch key {
		case "users":
			all = append(all, payload.Users...)
		default:
			all = append(all, payload.Items...)
		}

		pageToken = strings.TrimSpace(payload.NextPageToken)
		if pageToken == "" {
			break
		}
	}
	return all, nil
}

func (c *Client) get(ctx context.Context, op, endpoint string) ([]byte, error) {
	if err := c.allow.Validate(endpoint); err != nil {
		return nil, connectors.NewValidationError(providerKind, op, err)
	}

	var body []byte
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: c.opts.MaxRetries,
		BaseDelay:   c.opts.RetryBaseDelay,
		Retryable:   connectors.IsRetryable,
	}, func(ctx context.Context) error {
		tok, tokErr := c.token(ctx)
		if tokErr != nil {
			return tokErr
		}

		callCtx, cancel := context.WithTimeout(ctx, c.opts.DataCallTimeout)
		defer cancel()

		req, reqErr := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
		if reqErr != nil {
			return connectors.NewValidationError(providerKind, op, reqErr)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Accept", "application/json")

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
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return connectors.NewAuthenticationError(providerKind, op, googleError(resp))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return connectors.NewConnectionError(providerKind, op, googleError(resp))
		default:
			return connectors.NewValidationError(providerKind, op, googleError(resp))
		}
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// token mints or reuses an access token. The jwt token source caches the
// token and re-mints past expiry; its HTTP client carries the token timeout.
func (c *Client) token(_ context.Context) (string, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return "", connectors.NewConnectionError(providerKind, "acquire token", err)
		}
		return "", connectors.NewAuthenticationError(providerKind, "acquire token", err)
	}
	return tok.AccessToken, nil
}

func googleError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var payload struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return fmt.Errorf("%s: %s: %s", resp.Status, payload.Error.Status, payload.Error.Message)
	}
	return errors.New(resp.Status)
}

func parseGoogleTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC()
	}
	if unixMS, err := strconv.ParseInt(raw, 10, 64); err == nil && unixMS > 0 {
		return time.UnixMilli(unixMS).UTC()
	}
	return time.Time{}
}
