// Package risk scores OAuth scope sets. Scoring is a pure function of the
// scope list: the same scopes in any order produce the same score, level,
// and reasons.
package risk

import (
	"fmt"
	"sort"
	"strings"
)

// Level buckets a score into an operator-facing severity.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Assessment is the scored outcome for one scope set.
type Assessment struct {
	Level          Level
	Score          int
	Reasons        []string
	CriticalScopes []string
}

// category flags set by matched patterns, used for co-occurrence penalties.
type category uint8

const (
	catAdmin category = 1 << iota
	catWrite
	catDelete
)

type pattern struct {
	match      string
	points     int
	reason     string
	categories category
	critical   bool
}

// Pattern tables are ordered most-specific first; the first match wins per
// scope.
var microsoftPatterns = []pattern{
	{"full_access_as_app", 70, "Full application access to all mailboxes", catAdmin | catWrite, true},
	{"rolemanagement.readwrite", 65, "Role and privilege management", catAdmin | catWrite, true},
	{"application.readwrite", 60, "Application registration management", catAdmin | catWrite, true},
	{"directory.readwrite", 60, "Read and write directory data", catAdmin | catWrite, true},
	{"directory.accessasuser", 55, "Directory access as signed-in user", catAdmin, true},
	{"directory.read", 35, "Read directory data", catAdmin, false},
	{"user.readwrite.all", 50, "Read and write all user profiles", catAdmin | catWrite, true},
	{"user.read.all", 30, "Read all user profiles", catAdmin, false},
	{"group.readwrite", 45, "Group membership management", catWrite, false},
	{"mail.readwrite", 55, "Email read/write access", catWrite, true},
	{"mail.send", 45, "Send mail as user", catWrite, false},
	{"mail.read", 30, "Email read access", 0, false},
	{"mailboxsettings.readwrite", 35, "Mailbox settings management", catWrite, false},
	{"files.readwrite", 45, "Full file read/write access", catWrite, false},
	{"files.read", 25, "File read access", 0, false},
	{"sites.fullcontrol", 60, "Full control of SharePoint sites", catAdmin | catWrite, true},
	{"sites.readwrite", 40, "SharePoint site write access", catWrite, false},
	{"calendars.readwrite", 30, "Calendar read/write access", catWrite, false},
	{"offline_access", 15, "Persistent offline access", 0, false},
}

var googlePatterns = []pattern{
	{"admin.directory.rolemanagement", 65, "Admin role management", catAdmin | catWrite, true},
	{"admin.directory.user.security", 60, "User security token management", catAdmin | catWrite, true},
	{"admin.directory", 55, "Admin directory management", catAdmin | catWrite, true},
	{"cloud-platform", 60, "Full Google Cloud access", catAdmin | catWrite, true},
	{"mail.google.com", 55, "Email read/write access", catWrite, true},
	{"gmail.settings", 45, "Mail settings management", catWrite, false},
	{"gmail.modify", 55, "Email read/write access", catWrite, true},
	{"gmail.send", 40, "Send mail as user", catWrite, false},
	{"gmail.readonly", 30, "Email read access", 0, false},
	{"drive.readonly", 25, "Read Drive contents", 0, false},
	{"drive", 45, "Full Drive access", catWrite, false},
	{"spreadsheets", 20, "Spreadsheet access", catWrite, false},
	{"documents", 20, "Document access", catWrite, false},
	{"contacts", 20, "Contact list access", 0, false},
	{"calendar", 15, "Calendar access", 0, false},
	{"userinfo", 5, "Basic profile information", 0, false},
}

var genericPatterns = []pattern{
	{"superadmin", 60, "Super-administrative access", catAdmin, true},
	{"admin", 50, "Administrative access", catAdmin, true},
	{"manage", 40, "Resource management access", catWrite, false},
	{"delete", 35, "Delete access", catDelete, false},
	{"write", 30, "Write access", catWrite, false},
	{"full", 40, "Full access", catWrite, false},
	{"read", 10, "Read access", 0, false},
}

// Score computes the assessment for a scope set. Input order and duplicate
// scopes do not affect the result.
func Score(scopes []string) Assessment {
	normalized := normalizeScopes(scopes)
	if len(normalized) == 0 {
		return Assessment{Level: LevelLow, Score: 0}
	}

	patterns := tableFor(normalized)

	total := 0
	var cats category
	var reasons []string
	var critical []string
	seenReasons := make(map[string]struct{})

	for _, scope := range normalized {
		lower := strings.ToLower(scope)
		for _, p := range patterns {
			if !strings.Contains(lower, p.match) {
				continue
			}
			total += p.points
			cats |= p.categories
			if _, ok := seenReasons[p.reason]; !ok {
				seenReasons[p.reason] = struct{}{}
				reasons = append(reasons, p.reason)
			}
			if p.critical {
				critical = append(critical, scope)
			}
			break
		}
	}

	if cats&catAdmin != 0 && cats&catDelete != 0 {
		total += 20
		reasons = append(reasons, "Combination of admin and delete permissions")
	}
	if cats&catAdmin != 0 && cats&catWrite != 0 {
		total += 15
		reasons = append(reasons, "Combination of admin and write permissions")
	}

	switch n := len(normalized); {
	case n > 15:
		total += 15
		reasons = append(reasons, fmt.Sprintf("Very large number of permission scopes (%d)", n))
	case n > 8:
		total += 10
		reasons = append(reasons, fmt.Sprintf("Large number of permission scopes (%d)", n))
	case n > 5:
		total += 5
		reasons = append(reasons, fmt.Sprintf("Elevated number of permission scopes (%d)", n))
	}

	if total > 100 {
		total = 100
	}

	return Assessment{
		Level:          levelFor(total),
		Score:          total,
		Reasons:        reasons,
		CriticalScopes: critical,
	}
}

func levelFor(score int) Level {
	switch {
	case score < 25:
		return LevelLow
	case score < 50:
		return LevelMedium
	case score < 75:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// normalizeScopes trims, dedups case-insensitively, and sorts so scoring is
// order-independent.
func normalizeScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// tableFor picks the provider pattern table by majority scope family.
func tableFor(scopes []string) []pattern {
	google, microsoft := 0, 0
	for _, s := range scopes {
		lower := strings.ToLower(s)
		switch {
		case strings.Contains(lower, "googleapis.com/") || strings.Contains(lower, "mail.google.com"):
			google++
		case looksMicrosoft(s):
			microsoft++
		}
	}
	switch {
	case google >= microsoft && google > 0:
		return googlePatterns
	case microsoft > 0:
		return microsoftPatterns
	default:
		return genericPatterns
	}
}

// looksMicrosoft recognizes Graph-style dotted PascalCase scopes such as
// "Mail.ReadWrite.All" plus the handful of flat Graph scope names.
func looksMicrosoft(scope string) bool {
	lower := strings.ToLower(scope)
	if lower == "offline_access" || lower == "full_access_as_app" {
		return true
	}
	if !strings.Contains(scope, ".") {
		return false
	}
	return strings.Contains(lower, ".read") ||
		strings.Contains(lower, ".write") ||
		strings.Contains(lower, ".send") ||
		strings.HasSuffix(lower, ".all") ||
		strings.Contains(lower, ".accessasuser") ||
		strings.Contains(lower, ".fullcontrol")
}
