// Package identity generates per-attempt request fingerprints: user
// agent, referer, headers, viewport, proxy, and the paced delay before
// navigation. Fixed identities and zero-delay bursts are the dominant
// blocking signal, so every attempt gets a fresh randomized identity.
package identity

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apthunt/harvester/config"
	"github.com/apthunt/harvester/models"
)

// NavigationContext describes where the next request sits in the
// target's navigation flow. A detail page carries the search results
// URL it was discovered on; search pages leave it empty and get a
// generic search-engine referer.
type NavigationContext struct {
	SearchURL string
}

// ProxyRing hands out proxy endpoints round-robin. Safe for concurrent
// use across workers; rotation bookkeeping is a single atomic cursor.
type ProxyRing struct {
	proxies []string
	cursor  atomic.Uint64
}

// NewProxyRing builds a ring over the configured pool. A nil or empty
// pool yields a ring that always returns "".
func NewProxyRing(proxies []string) *ProxyRing {
	out := make([]string, len(proxies))
	copy(out, proxies)
	return &ProxyRing{proxies: out}
}

// Next returns the next proxy endpoint, or "" when no pool is configured.
func (r *ProxyRing) Next() string {
	if len(r.proxies) == 0 {
		return ""
	}
	n := r.cursor.Add(1) - 1
	return r.proxies[n%uint64(len(r.proxies))]
}

// Size reports the pool size.
func (r *ProxyRing) Size() int { return len(r.proxies) }

// Generator produces request identities. Each worker owns one so that
// identity sequences never cross-contaminate blocking signals; the
// proxy ring may be shared.
type Generator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	agents    []config.WeightedUserAgent
	weightSum int
	referers  []string
	viewports []models.Viewport
	timezones []string
	minDelay  time.Duration
	maxDelay  time.Duration
	proxies   *ProxyRing
}

// NewGenerator builds a generator from configuration. The seed makes
// identity sequences reproducible in tests; production callers pass
// time-derived seeds.
func NewGenerator(cfg *config.Config, pools *config.Pools, proxies *ProxyRing, seed int64) *Generator {
	if pools == nil {
		pools = &config.Pools{}
	}
	sum := 0
	for _, ua := range cfg.UserAgents {
		sum += ua.Weight
	}
	return &Generator{
		rng:       rand.New(rand.NewSource(seed)),
		agents:    cfg.UserAgents,
		weightSum: sum,
		referers:  cfg.Referers,
		viewports: pools.ViewportPool(),
		timezones: pools.TimezonePool(),
		minDelay:  cfg.MinDelay,
		maxDelay:  cfg.MaxDelay,
		proxies:   proxies,
	}
}

// Next generates a fresh identity for one attempt.
func (g *Generator) Next(nav NavigationContext) models.RequestIdentity {
	g.mu.Lock()
	defer g.mu.Unlock()

	ident := models.RequestIdentity{
		UserAgent: g.pickAgent(),
		Referer:   g.pickReferer(nav),
		Delay:     g.pickDelay(),
		Viewport:  pickFrom(g.rng, g.viewports),
		Timezone:  pickFrom(g.rng, g.timezones),
	}
	if g.proxies != nil {
		ident.Proxy = g.proxies.Next()
	}
	ident.Headers = map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
	}
	return ident
}

func (g *Generator) pickAgent() string {
	if g.weightSum <= 0 || len(g.agents) == 0 {
		return ""
	}
	n := g.rng.Intn(g.weightSum)
	for _, ua := range g.agents {
		n -= ua.Weight
		if n < 0 {
			return ua.Agent
		}
	}
	return g.agents[len(g.agents)-1].Agent
}

func (g *Generator) pickReferer(nav NavigationContext) string {
	if nav.SearchURL != "" {
		return nav.SearchURL
	}
	if len(g.referers) == 0 {
		return ""
	}
	return g.referers[g.rng.Intn(len(g.referers))]
}

func (g *Generator) pickDelay() time.Duration {
	window := g.maxDelay - g.minDelay
	if window <= 0 {
		return g.minDelay
	}
	return g.minDelay + time.Duration(g.rng.Int63n(int64(window)))
}

func pickFrom[T any](rng *rand.Rand, pool []T) T {
	var zero T
	if len(pool) == 0 {
		return zero
	}
	return pool[rng.Intn(len(pool))]
}
