package okta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/appguard/appguard/internal/connectors"
	"github.com/appguard/appguard/internal/ssrf"
)

type permissiveValidator struct{}

func (permissiveValidator) Validate(string) error { return nil }

func allowAllForTest() ssrf.Validator { return permissiveValidator{} }

func testCreds(domain string) connectors.Credentials {
	return connectors.Credentials{
		TenantDomain: domain,
		ClientSecret: "00sskt-test-token",
	}
}

func testOptions(srv *httptest.Server) connectors.Options {
	return connectors.Options{
		HTTPClient:     srv.Client(),
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		MaxPages:       10,
	}
}

func newTestConnector(t *testing.T, srv *httptest.Server) *Connector {
	t.Helper()
	c, err := New(testCreds(srv.URL), testOptions(srv))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.client.allow = allowAllForTest()
	return c
}

func TestNewClientRequiresDomainAndToken(t *testing.T) {
	t.Parallel()

	if _, err := New(connectors.Credentials{ClientSecret: "tok"}, connectors.Options{}); err == nil {
		t.Fatal("New() with no tenant domain: want error, got nil")
	}
	if _, err := New(connectors.Credentials{TenantDomain: "acme.okta.com"}, connectors.Options{}); err == nil {
		t.Fatal("New() with no api token: want error, got nil")
	}
}

func TestDiscoverAppsMapsAndDedups(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "SSWS 00sskt-test-token" {
			t.Errorf("Authorization = %q, want SSWS token", got)
		}
		if r.URL.Path != "/api/v1/apps" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `[
			{"id":"app1","label":"Slack","name":"slack","status":"ACTIVE","signOnMode":"SAML_2_0",
			 "_links":{"logo":[{"href":"https://logo.example/slack.png"}]}},
			{"id":"app1","label":"Slack duplicate","name":"slack","status":"ACTIVE","signOnMode":"SAML_2_0"},
			{"id":"app2","label":"Notion","name":"notion","status":"INACTIVE","signOnMode":"OPENID_CONNECT"}
		]`)
	}))
	defer srv.Close()

	apps, err := newTestConnector(t, srv).DiscoverApps(context.Background())
	if err != nil {
		t.Fatalf("DiscoverApps() error = %v", err)
	}
	if len(apps) != 2 {
		t.Fatalf("DiscoverApps() returned %d apps, want 2", len(apps))
	}
	if apps[0].ExternalID != "app1" || apps[0].Name != "Slack" {
		t.Errorf("apps[0] = %+v, want app1/Slack", apps[0])
	}
	if apps[0].LogoURL != "https://logo.example/slack.png" {
		t.Errorf("apps[0].LogoURL = %q", apps[0].LogoURL)
	}
	if apps[1].Metadata["signOnMode"] != "OPENID_CONNECT" {
		t.Errorf("apps[1].Metadata[signOnMode] = %q", apps[1].Metadata["signOnMode"])
	}
}

func TestDiscoverUserAccessJoinsAppsAndAssignments(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/apps":
			fmt.Fprint(w, `[{"id":"app1","label":"Slack"}]`)
		case "/api/v1/apps/app1/users":
			fmt.Fprint(w, `[
				{"id":"u1","scope":"USER","status":"PROVISIONED","created":"2026-01-02T03:04:05Z",
				 "profile":{"email":"Ada@Example.com"}},
				{"id":"u2","scope":"GROUP","status":"PROVISIONED","profile":{"email":"bob@example.com"}}
			]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	access, err := newTestConnector(t, srv).DiscoverUserAccess(context.Background())
	if err != nil {
		t.Fatalf("DiscoverUserAccess() error = %v", err)
	}
	if len(access) != 2 {
		t.Fatalf("DiscoverUserAccess() returned %d rows, want 2", len(access))
	}
	if access[0].UserID != "u1" || access[0].AppExternalID != "app1" {
		t.Errorf("access[0] = %+v", access[0])
	}
	if access[0].UserEmail != "ada@example.com" {
		t.Errorf("access[0].UserEmail = %q, want lowercased", access[0].UserEmail)
	}
	if want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC); !access[0].GrantedAt.Equal(want) {
		t.Errorf("access[0].GrantedAt = %v, want %v", access[0].GrantedAt, want)
	}
	if len(access[1].Permissions) != 1 || access[1].Permissions[0] != "GROUP" {
		t.Errorf("access[1].Permissions = %v", access[1].Permissions)
	}
}

func TestDiscoverOAuthTokensMergesGrantsPerClient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/users":
			fmt.Fprint(w, `[{"id":"u1","status":"ACTIVE","profile":{"email":"ada@example.com"}}]`)
		case "/api/v1/users/u1/grants":
			fmt.Fprint(w, `[
				{"id":"g1","scopeId":"okta.users.read","clientId":"client-a","created":"2026-02-01T00:00:00Z",
				 "_links":{"app":{"title":"Reporting Tool"}}},
				{"id":"g2","scopeId":"okta.apps.read","clientId":"client-a"},
				{"id":"g3","scopeId":"okta.users.read","clientId":"client-a"},
				{"id":"g4","scopeId":"okta.logs.read","clientId":"client-b"}
			]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tokens, err := newTestConnector(t, srv).DiscoverOAuthTokens(context.Background())
	if err != nil {
		t.Fatalf("DiscoverOAuthTokens() error = %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("DiscoverOAuthTokens() returned %d tokens, want 2", len(tokens))
	}
	if tokens[0].AppExternalID != "client-a" || tokens[0].AppName != "Reporting Tool" {
		t.Errorf("tokens[0] = %+v", tokens[0])
	}
	if got, want := len(tokens[0].Scopes), 2; got != want {
		t.Errorf("tokens[0].Scopes = %v, want %d merged scopes", tokens[0].Scopes, want)
	}
	if tokens[1].AppExternalID != "client-b" {
		t.Errorf("tokens[1].AppExternalID = %q", tokens[1].AppExternalID)
	}
}

func TestSyncUsersAppliesDirectoryRows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/users" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `[
			{"id":"u1","status":"ACTIVE","profile":{"email":"ada@example.com","displayName":"Ada Lovelace"}},
			{"id":"u2","status":"DEPROVISIONED","profile":{"email":"bob@example.com","firstName":"Bob","lastName":"Stone"}},
			{"id":"u3","status":"ACTIVE","profile":{}}
		]`)
	}))
	defer srv.Close()

	sink := &fakeSink{createdIDs: map[string]bool{"u1": true}}
	opts := testOptions(srv)
	opts.UserSink = sink
	c, err := New(testCreds(srv.URL), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.client.allow = allowAllForTest()

	stats, err := c.SyncUsers(context.Background())
	if err != nil {
		t.Fatalf("SyncUsers() error = %v", err)
	}
	if stats.UsersAdded != 1 || stats.UsersUpdated != 1 {
		t.Errorf("stats = %+v, want 1 added / 1 updated", stats)
	}
	if len(sink.applied) != 2 {
		t.Fatalf("sink received %d users, want 2 (no-email user skipped)", len(sink.applied))
	}
	if sink.applied[1].DisplayName != "Bob Stone" {
		t.Errorf("applied[1].DisplayName = %q", sink.applied[1].DisplayName)
	}
	if !sink.applied[1].Suspended {
		t.Error("deprovisioned user should be marked suspended")
	}
}

type fakeSink struct {
	createdIDs map[string]bool
	applied    []connectors.DiscoveredUser
}

func (f *fakeSink) ApplyUser(_ context.Context, u connectors.DiscoveredUser) (bool, error) {
	f.applied = append(f.applied, u)
	return f.createdIDs[u.ExternalID], nil
}

func TestLinkHeaderPaginationIsCapped(t *testing.T) {
	t.Parallel()

	var pages atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := pages.Add(1)
		// Every page points at a next page forever.
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/apps?after=%d>; rel="next"`, srv.URL, n))
		fmt.Fprintf(w, `[{"id":"app%d","label":"App %d"}]`, n, n)
	}))
	defer srv.Close()

	opts := testOptions(srv)
	opts.MaxPages = 4
	c, err := New(testCreds(srv.URL), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.client.allow = allowAllForTest()

	apps, err := c.DiscoverApps(context.Background())
	if err != nil {
		t.Fatalf("DiscoverApps() error = %v", err)
	}
	if len(apps) != 4 {
		t.Errorf("DiscoverApps() returned %d apps, want cap of 4", len(apps))
	}
	if got := pages.Load(); got != 4 {
		t.Errorf("server saw %d requests, want 4", got)
	}
}

func TestGetClassifiesStatuses(t *testing.T) {
	t.Parallel()

	var serverErrCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{
				"errorCode": "E0000006", "errorSummary": "You do not have permission",
			})
		case "/bad":
			w.WriteHeader(http.StatusBadRequest)
		case "/flaky":
			serverErrCalls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestConnector(t, srv)

	_, _, err := c.client.get(context.Background(), "test", srv.URL+"/forbidden")
	var authErr *connectors.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Errorf("403: got %v, want AuthenticationError", err)
	}

	_, _, err = c.client.get(context.Background(), "test", srv.URL+"/bad")
	var valErr *connectors.ValidationError
	if !errors.As(err, &valErr) {
		t.Errorf("400: got %v, want ValidationError", err)
	}

	_, _, err = c.client.get(context.Background(), "test", srv.URL+"/flaky")
	var connErr *connectors.ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("502: got %v, want ConnectionError", err)
	}
	if got := serverErrCalls.Load(); got != 3 {
		t.Errorf("502 endpoint saw %d calls, want 3 retries", got)
	}
}

func TestTenantHostMustBeAllowed(t *testing.T) {
	t.Parallel()

	c, err := New(testCreds("acme.okta.com"), connectors.Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, _, err = c.client.get(context.Background(), "test", "https://attacker.example/api/v1/apps")
	var valErr *connectors.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("off-allowlist host: got %v, want ValidationError", err)
	}
}
