// Package revocation performs provider-side access revocation with a
// fail-safe posture: the local record is always deleted, even when the
// remote provider call fails after exhausting retries.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/appguard/appguard/internal/connectors"
	"github.com/appguard/appguard/internal/events"
	"github.com/appguard/appguard/internal/metrics"
	"github.com/appguard/appguard/internal/retry"
	"github.com/appguard/appguard/internal/ssrf"
	"github.com/appguard/appguard/internal/store"
)

// Result describes one revocation. RemoteRevoked is false when the provider
// call was skipped or failed; the local record is deleted either way.
type Result struct {
	RemoteRevoked bool
	Note          string
}

// Options tunes a Service. Zero values fall back to the connector-level
// defaults.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// Service revokes SSO assignments and OAuth tokens. Endpoints maps a
// provider kind to its HTTPS revoke endpoint; providers without one get a
// local-only revocation.
type Service struct {
	store     store.Access
	emitter   events.Emitter
	logger    *slog.Logger
	endpoints map[string]string
	allow     ssrf.Validator
	http      *http.Client
	policy    retry.Policy
	timeout   time.Duration
}

func NewService(st store.Access, emitter events.Emitter, logger *slog.Logger, endpoints map[string]string, allow ssrf.Validator, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: connectors.DefaultDataCallTimeout}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = connectors.DefaultTokenTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = connectors.DefaultMaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = connectors.DefaultRetryBaseDelay
	}
	if endpoints == nil {
		endpoints = map[string]string{}
	}
	return &Service{
		store:     st,
		emitter:   emitter,
		logger:    logger,
		endpoints: endpoints,
		allow:     allow,
		http:      opts.HTTPClient,
		policy: retry.Policy{
			MaxAttempts: opts.MaxRetries,
			BaseDelay:   opts.BaseDelay,
			Retryable:   connectors.IsRetryable,
		},
		timeout: opts.Timeout,
	}
}

// RevokeSSOAccess revokes one SSO assignment. The error return covers only
// the local record deletion; a failed remote call is folded into the Result.
func (s *Service) RevokeSSOAccess(ctx context.Context, access store.UserAppAccess) (Result, error) {
	result := s.revokeRemote(ctx, access.Provider, url.Values{
		"user":   []string{access.UserID},
		"app_id": []string{access.ExternalAppID},
	})

	status := revocationStatus(result)
	metrics.RevocationsTotal.WithLabelValues(access.Provider, store.AccessKindSSO, status).Inc()

	if err := s.store.DeleteUserAccess(ctx, access.TenantID, access.ID); err != nil {
		return result, fmt.Errorf("delete local access record %s: %w", access.ID, err)
	}

	s.emitter.Emit(ctx, events.AccessRevoked, map[string]any{
		"tenantId": access.TenantID,
		"userId":   access.UserID,
		"appName":  access.AppName,
		"provider": access.Provider,
		"kind":     store.AccessKindSSO,
		"remote":   result.RemoteRevoked,
	})
	return result, nil
}

// RevokeOAuthToken revokes one granted OAuth token, with the same fail-safe
// local deletion.
func (s *Service) RevokeOAuthToken(ctx context.Context, tok store.OAuthToken) (Result, error) {
	result := s.revokeRemote(ctx, tok.Provider, url.Values{
		"user":      []string{tok.UserID},
		"client_id": []string{tok.ExternalAppID},
	})

	status := revocationStatus(result)
	metrics.RevocationsTotal.WithLabelValues(tok.Provider, store.AccessKindOAuth, status).Inc()

	if err := s.store.DeleteOAuthToken(ctx, tok.TenantID, tok.ID); err != nil {
		return result, fmt.Errorf("delete local token record %s: %w", tok.ID, err)
	}

	s.emitter.Emit(ctx, events.AccessRevoked, map[string]any{
		"tenantId": tok.TenantID,
		"userId":   tok.UserID,
		"appName":  tok.AppName,
		"provider": tok.Provider,
		"kind":     store.AccessKindOAuth,
		"remote":   result.RemoteRevoked,
	})
	return result, nil
}

func revocationStatus(r Result) string {
	if r.RemoteRevoked {
		return "revoked"
	}
	return "local_only"
}

// revokeRemote posts the revocation to the provider endpoint. HTTP 400 is a
// successful no-op: the token is already invalid. Exhausted retries degrade
// to a local-only revocation instead of failing the call.
func (s *Service) revokeRemote(ctx context.Context, provider string, form url.Values) Result {
	endpoint := s.endpoints[strings.ToLower(strings.TrimSpace(provider))]
	if endpoint == "" {
		return Result{Note: "no remote revocation endpoint configured"}
	}

	if s.allow != nil {
		if err := s.allow.Validate(endpoint); err != nil {
			s.logger.WarnContext(ctx, "revocation endpoint rejected",
				"provider", provider, "endpoint", endpoint, "error", err)
			return Result{Note: "revocation endpoint rejected: " + err.Error()}
		}
	}

	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		req, reqErr := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if reqErr != nil {
			return connectors.NewValidationError(provider, "revoke", reqErr)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, doErr := s.http.Do(req)
		if doErr != nil {
			return connectors.NewConnectionError(provider, "revoke", doErr)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusBadRequest:
			// Already invalid on the provider side.
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return connectors.NewAuthenticationError(provider, "revoke", errors.New(resp.Status))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return connectors.NewConnectionError(provider, "revoke", errors.New(resp.Status))
		default:
			return connectors.NewValidationError(provider, "revoke", errors.New(resp.Status))
		}
	})
	if err != nil {
		s.logger.WarnContext(ctx, "remote revocation failed, deleting local record anyway",
			"provider", provider, "error", err)
		return Result{Note: "remote revocation failed: " + err.Error()}
	}
	return Result{RemoteRevoked: true, Note: "remote revocation succeeded"}
}
