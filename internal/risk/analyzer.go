package risk

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = time.Hour
)

// Analyzer memoizes assessments. Scoring is stateless, so identical scope
// sets (any order) share one cached result. Safe for concurrent use.
type Analyzer struct {
	cache *expirable.LRU[string, Assessment]
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{
		cache: expirable.NewLRU[string, Assessment](defaultCacheSize, nil, defaultCacheTTL),
	}
}

func (a *Analyzer) Assess(scopes []string) Assessment {
	key := cacheKey(scopes)
	if cached, ok := a.cache.Get(key); ok {
		return cached
	}
	assessment := Score(scopes)
	a.cache.Add(key, assessment)
	return assessment
}

func cacheKey(scopes []string) string {
	return strings.Join(normalizeScopes(scopes), "\n")
}
