// Package ssrf validates dynamically constructed provider URLs against
// per-provider hostname allow-lists before any request is issued.
package ssrf

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var (
	ErrSchemeNotAllowed = errors.New("url scheme is not https")
	ErrHostNotAllowed   = errors.New("host is not on the provider allow-list")
)

// Validator is the URL check a provider client runs before every request.
type Validator interface {
	Validate(rawURL string) error
}

// Allowlist holds the hostnames a provider integration may call. Exact
// entries match a single hostname; suffix entries match any subdomain of a
// registrable domain, which multi-tenant IdPs need (tenant.okta.com).
type Allowlist struct {
	exact    map[string]struct{}
	suffixes []string
}

func NewAllowlist(exactHosts []string, domainSuffixes []string) *Allowlist {
	a := &Allowlist{exact: make(map[string]struct{}, len(exactHosts))}
	for _, h := range exactHosts {
		h = normalizeHost(h)
		if h != "" {
			a.exact[h] = struct{}{}
		}
	}
	for _, s := range domainSuffixes {
		s = normalizeHost(s)
		if s != "" {
			a.suffixes = append(a.suffixes, s)
		}
	}
	return a
}

// Validate parses rawURL and rejects it unless the scheme is https and the
// hostname matches the allow-list. IP literals never match.
func (a *Allowlist) Validate(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("%w: %q", ErrSchemeNotAllowed, u.Scheme)
	}

	host := normalizeHost(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrHostNotAllowed)
	}
	if net.ParseIP(host) != nil {
		return fmt.Errorf("%w: ip literal %q", ErrHostNotAllowed, host)
	}

	if _, ok := a.exact[host]; ok {
		return nil
	}
	for _, suffix := range a.suffixes {
		if !matchesSuffix(host, suffix) {
			continue
		}
		// A suffix must cover a registrable domain, not a bare public
		// suffix like "com", or the match is meaningless.
		if _, err := publicsuffix.EffectiveTLDPlusOne(suffix); err != nil {
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrHostNotAllowed, host)
}

func matchesSuffix(host, suffix string) bool {
	if host == suffix {
		return true
	}
	return strings.HasSuffix(host, "."+suffix)
}

func normalizeHost(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	raw = strings.TrimPrefix(raw, "*.")
	return strings.Trim(raw, ".")
}
