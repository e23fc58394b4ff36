package revocation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/appguard/appguard/internal/events"
	"github.com/appguard/appguard/internal/store"
)

type permissiveValidator struct{}

func (permissiveValidator) Validate(string) error { return nil }

func newTestService(t *testing.T, srv *httptest.Server, provider string) (*Service, *store.Memory, *events.Recorder) {
	t.Helper()
	mem := store.NewMemory()
	rec := &events.Recorder{}
	endpoints := map[string]string{}
	if srv != nil {
		endpoints[provider] = srv.URL + "/revoke"
	}
	var client *http.Client
	if srv != nil {
		client = srv.Client()
	}
	svc := NewService(mem, rec, nil, endpoints, permissiveValidator{}, Options{
		HTTPClient: client,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Timeout:    time.Second,
	})
	return svc, mem, rec
}

func seedToken(t *testing.T, mem *store.Memory) store.OAuthToken {
	t.Helper()
	tok := store.OAuthToken{
		ID:            "tok1",
		TenantID:      "t1",
		UserID:        "u1",
		Provider:      "okta",
		ExternalAppID: "client-a",
		AppName:       "Reporting Tool",
	}
	if err := mem.UpsertOAuthToken(context.Background(), tok); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	return tok
}

func seedAccess(t *testing.T, mem *store.Memory) store.UserAppAccess {
	t.Helper()
	access := store.UserAppAccess{
		ID:            "acc1",
		TenantID:      "t1",
		UserID:        "u1",
		AppID:         "app1",
		AppName:       "Slack",
		Provider:      "okta",
		ExternalAppID: "sp-slack",
		Kind:          store.AccessKindSSO,
	}
	if err := mem.UpsertUserAccess(context.Background(), access); err != nil {
		t.Fatalf("seed access: %v", err)
	}
	return access
}

func TestRevokeOAuthTokenDeletesLocalRecordOnRemoteSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc, mem, rec := newTestService(t, srv, "okta")
	tok := seedToken(t, mem)

	result, err := svc.RevokeOAuthToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("RevokeOAuthToken() error = %v", err)
	}
	if !result.RemoteRevoked {
		t.Errorf("result = %+v, want remote revocation", result)
	}

	tokens, err := mem.ListOAuthTokens(context.Background(), "t1", "u1")
	if err != nil {
		t.Fatalf("ListOAuthTokens() error = %v", err)
	}
	if len(tokens) != 0 {
		t.Errorf("local tokens remaining = %d, want 0", len(tokens))
	}
	if got := len(rec.Named(events.AccessRevoked)); got != 1 {
		t.Errorf("access.revoked events = %d, want 1", got)
	}
}

func TestRevokeDeletesLocalRecordEvenAfterExhaustedRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, mem, _ := newTestService(t, srv, "okta")
	tok := seedToken(t, mem)

	result, err := svc.RevokeOAuthToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("RevokeOAuthToken() error = %v, remote failure must stay non-fatal", err)
	}
	if result.RemoteRevoked {
		t.Error("result claims remote success on a 500")
	}
	if !strings.Contains(result.Note, "remote revocation failed") {
		t.Errorf("result note = %q", result.Note)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("remote endpoint saw %d calls, want 3 retries", got)
	}

	tokens, err := mem.ListOAuthTokens(context.Background(), "t1", "u1")
	if err != nil {
		t.Fatalf("ListOAuthTokens() error = %v", err)
	}
	if len(tokens) != 0 {
		t.Error("local token survived a failed remote revocation")
	}
}

func TestRevokeTreatsBadRequestAsNoOp(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	svc, mem, _ := newTestService(t, srv, "okta")
	tok := seedToken(t, mem)

	result, err := svc.RevokeOAuthToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("RevokeOAuthToken() error = %v", err)
	}
	if !result.RemoteRevoked {
		t.Errorf("400 must count as a successful no-op, got %+v", result)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("400 was retried: %d calls", got)
	}
}

func TestRevokeSSOAccessWithoutEndpointIsLocalOnly(t *testing.T) {
	t.Parallel()

	svc, mem, rec := newTestService(t, nil, "okta")
	access := seedAccess(t, mem)

	result, err := svc.RevokeSSOAccess(context.Background(), access)
	if err != nil {
		t.Fatalf("RevokeSSOAccess() error = %v", err)
	}
	if result.RemoteRevoked {
		t.Error("no endpoint configured but result claims remote revocation")
	}

	remaining, err := mem.ListUserAccess(context.Background(), "t1", "u1")
	if err != nil {
		t.Fatalf("ListUserAccess() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Error("local access record survived")
	}
	if got := len(rec.Named(events.AccessRevoked)); got != 1 {
		t.Errorf("access.revoked events = %d, want 1", got)
	}
}
