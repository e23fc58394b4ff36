package connectors

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// FullSync runs the fixed five-stage discovery sequence against a
// connector: connection test (hard fail), apps, user access, OAuth tokens,
// then best-effort user sync. It never returns an error; failures are
// folded into the SyncResult so callers see partial counts instead of
// partial objects mixed with thrown errors.
func FullSync(ctx context.Context, c Connector) SyncResult {
	start := time.Now()
	result := SyncResult{
		RawMetadata: map[string]string{"provider": c.Provider()},
	}

	finish := func() SyncResult {
		result.SyncDuration = time.Since(start)
		result.RawMetadata["sync_duration_ms"] = fmt.Sprintf("%d", result.SyncDuration.Milliseconds())
		return result
	}

	if err := c.TestConnection(ctx); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("connection test: %v", err))
		return finish()
	}

	apps, err := c.DiscoverApps(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("discover apps: %v", err))
		return finish()
	}
	result.Apps = apps
	result.AppsDiscovered = len(apps)

	access, err := c.DiscoverUserAccess(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("discover user access: %v", err))
		return finish()
	}
	result.Access = access
	result.UsersProcessed = countDistinctUsers(access)

	tokens, err := c.DiscoverOAuthTokens(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("discover oauth tokens: %v", err))
		return finish()
	}
	result.Tokens = tokens
	result.TokensDiscovered = len(tokens)

	// User sync is best-effort: a failure is recorded as a warning but does
	// not fail the sync.
	stats, err := c.SyncUsers(ctx)
	if err != nil {
		slog.Warn("user sync stage failed", "provider", c.Provider(), "err", err)
		result.Errors = append(result.Errors, fmt.Sprintf("sync users (non-fatal): %v", err))
	} else {
		result.Users = stats
	}

	result.Success = true
	return finish()
}

func countDistinctUsers(access []DiscoveredUserAccess) int {
	seen := make(map[string]struct{}, len(access))
	for _, a := range access {
		if a.UserID == "" {
			continue
		}
		seen[a.UserID] = struct{}{}
	}
	return len(seen)
}
