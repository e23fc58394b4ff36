// Package shadowit matches discovered applications against the sanctioned
// catalog and classifies what falls outside it.
package shadowit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/appguard/appguard/internal/connectors"
	"github.com/appguard/appguard/internal/events"
	"github.com/appguard/appguard/internal/metrics"
	"github.com/appguard/appguard/internal/normalize"
	"github.com/appguard/appguard/internal/risk"
	"github.com/appguard/appguard/internal/store"
)

// Recommended actions for a discovered app.
const (
	ActionApprove     = "approve"
	ActionReview      = "review"
	ActionDeny        = "deny"
	ActionInvestigate = "investigate"
)

// Substring matches below this normalized length are ignored; short names
// like "Box" collide with too much.
const minSubstringMatchLen = 5

// Risk penalties layered on top of the scope score.
const (
	penaltyUnknownVendor  = 15
	penaltyMissingWebsite = 10
	penaltyManyScopes     = 10
	manyScopesThreshold   = 10
	riskyEventThreshold   = 50
	deniedFloorScore      = 75
)

// AnalysisResult is the derived classification for one discovered app. The
// catalog entry is updated from it; the result itself is not persisted.
type AnalysisResult struct {
	IsUnapproved      bool
	IsNewDiscovery    bool
	RiskScore         int
	RiskFactors       []string
	MatchedAppID      string
	RecommendedAction string
}

// Detector classifies one provider's discovery batch against the catalog.
type Detector struct {
	catalog  store.Catalog
	analyzer *risk.Analyzer
	emitter  events.Emitter
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewDetector(catalog store.Catalog, analyzer *risk.Analyzer, emitter events.Emitter, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		catalog:  catalog,
		analyzer: analyzer,
		emitter:  emitter,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// AnalyzeApp classifies one discovered app against the current catalog.
func (d *Detector) AnalyzeApp(ctx context.Context, tenantID string, app connectors.DiscoveredApp) (AnalysisResult, error) {
	catalog, err := d.catalog.ListCatalogApps(ctx, tenantID)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("list catalog apps: %w", err)
	}
	return d.analyze(app, catalog), nil
}

func (d *Detector) analyze(app connectors.DiscoveredApp, catalog []store.CatalogApp) AnalysisResult {
	matched, ok := matchCatalog(app, catalog)

	score, factors := d.scoreApp(app)

	result := AnalysisResult{
		RiskScore:   score,
		RiskFactors: factors,
	}

	if !ok {
		result.IsUnapproved = true
		result.IsNewDiscovery = true
		switch {
		case score >= 75:
			result.RecommendedAction = ActionInvestigate
		case score >= riskyEventThreshold:
			result.RecommendedAction = ActionReview
		default:
			result.RecommendedAction = ActionApprove
		}
		return result
	}

	result.MatchedAppID = matched.ID
	switch matched.Status {
	case store.AppStatusDenied:
		result.IsUnapproved = true
		if result.RiskScore < deniedFloorScore {
			result.RiskScore = deniedFloorScore
		}
		result.RiskFactors = append(result.RiskFactors, "Application is denied in the catalog")
		result.RecommendedAction = ActionDeny
	case store.AppStatusPending:
		result.RecommendedAction = ActionReview
	default:
		result.RecommendedAction = ActionApprove
	}
	return result
}

// scoreApp combines the scope assessment with catalog-quality penalties.
func (d *Detector) scoreApp(app connectors.DiscoveredApp) (int, []string) {
	assessment := d.analyzer.Assess(app.Permissions)
	score := assessment.Score
	factors := append([]string(nil), assessment.Reasons...)

	if strings.TrimSpace(app.Vendor) == "" {
		score += penaltyUnknownVendor
		factors = append(factors, "Unknown vendor")
	}
	if strings.TrimSpace(app.WebsiteURL) == "" {
		score += penaltyMissingWebsite
		factors = append(factors, "No published website")
	}
	if len(app.Permissions) > manyScopesThreshold {
		score += penaltyManyScopes
		factors = append(factors, fmt.Sprintf("Excessive permission scopes (%d)", len(app.Permissions)))
	}
	if score > 100 {
		score = 100
	}
	return score, factors
}

// matchCatalog tries, in order: exact normalized name, normalized vendor,
// then bidirectional substring gated by a minimum length. First hit wins.
func matchCatalog(app connectors.DiscoveredApp, catalog []store.CatalogApp) (store.CatalogApp, bool) {
	name := normalizeName(app.Name)
	vendor := normalizeName(app.Vendor)

	if name != "" {
		for _, entry := range catalog {
			if normalizeName(entry.Name) == name {
				return entry, true
			}
		}
	}
	if vendor != "" {
		for _, entry := range catalog {
			if normalizeName(entry.Vendor) == vendor {
				return entry, true
			}
		}
	}
	if len(name) >= minSubstringMatchLen {
		for _, entry := range catalog {
			entryName := normalizeName(entry.Name)
			if len(entryName) < minSubstringMatchLen {
				continue
			}
			if strings.Contains(name, entryName) || strings.Contains(entryName, name) {
				return entry, true
			}
		}
	}
	return store.CatalogApp{}, false
}

// Corporate suffixes stripped before comparison, so "Slack, Inc." and
// "Slack" normalize to the same key.
var corporateSuffixes = []string{"incorporated", "corporation", "limited", "gmbh", "corp", "inc", "llc", "ltd"}

func normalizeName(s string) string {
	key := normalize.Key(s)
	for _, suffix := range corporateSuffixes {
		if strings.HasSuffix(key, suffix) && len(key)-len(suffix) >= 3 {
			return key[:len(key)-len(suffix)]
		}
	}
	return key
}

// ProcessBatch upserts every app in a sync result: matched apps get their
// last-seen and risk refreshed, unknown apps become pending catalog entries
// with a discovery event.
func (d *Detector) ProcessBatch(ctx context.Context, tenantID, provider string, apps []connectors.DiscoveredApp) error {
	catalog, err := d.catalog.ListCatalogApps(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list catalog apps: %w", err)
	}

	for _, app := range apps {
		result := d.analyze(app, catalog)
		now := d.now().UTC()

		if result.MatchedAppID != "" {
			entry, findErr := d.catalog.GetCatalogApp(ctx, tenantID, result.MatchedAppID)
			if findErr != nil {
				return fmt.Errorf("get catalog app %s: %w", result.MatchedAppID, findErr)
			}
			entry.LastSeenAt = now
			entry.RiskScore = result.RiskScore
			entry.RiskFactors = result.RiskFactors
			if entry.Provider == "" {
				entry.Provider = provider
				entry.ExternalID = app.ExternalID
			}
			if err := d.catalog.UpdateCatalogApp(ctx, entry); err != nil {
				return fmt.Errorf("update catalog app %s: %w", entry.ID, err)
			}
		} else {
			entry := store.CatalogApp{
				ID:          d.newID(),
				TenantID:    tenantID,
				Name:        app.Name,
				Vendor:      app.Vendor,
				WebsiteURL:  app.WebsiteURL,
				LogoURL:     app.LogoURL,
				Status:      store.AppStatusPending,
				RiskScore:   result.RiskScore,
				RiskFactors: result.RiskFactors,
				Provider:    provider,
				ExternalID:  app.ExternalID,
				FirstSeenAt: now,
				LastSeenAt:  now,
			}
			if err := d.catalog.CreateCatalogApp(ctx, entry); err != nil {
				return fmt.Errorf("create catalog app %q: %w", app.Name, err)
			}
			catalog = append(catalog, entry)
			metrics.ShadowAppsTotal.WithLabelValues(provider, result.RecommendedAction).Inc()

			d.emitter.Emit(ctx, events.AppDiscovered, map[string]any{
				"tenantId":   tenantID,
				"provider":   provider,
				"appId":      entry.ID,
				"appName":    entry.Name,
				"riskScore":  result.RiskScore,
				"action":     result.RecommendedAction,
				"unapproved": result.IsUnapproved,
			})
		}

		if result.RiskScore >= riskyEventThreshold {
			d.emitter.Emit(ctx, events.OAuthRiskyPermission, map[string]any{
				"tenantId":    tenantID,
				"provider":    provider,
				"appName":     app.Name,
				"riskScore":   result.RiskScore,
				"riskFactors": result.RiskFactors,
			})
		}

		d.logger.DebugContext(ctx, "analyzed discovered app",
			"tenant_id", tenantID,
			"provider", provider,
			"app", app.Name,
			"risk_score", result.RiskScore,
			"action", result.RecommendedAction,
			"new_discovery", result.IsNewDiscovery)
	}
	return nil
}
