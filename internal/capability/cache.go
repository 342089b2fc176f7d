package capability

import (
	"github.com/puzpuzpuz/xsync"

	"github.com/navcom/groupctl/internal/model"
)

// Default cache windows, in seconds.
const (
	DefaultTTL      int64 = 300
	DefaultStaleTTL int64 = 900
)

// Freshness is the lifecycle position of a cached snapshot.
type Freshness string

const (
	Miss    Freshness = "miss"
	Fresh   Freshness = "fresh"
	Expired Freshness = "expired"
	Stale   Freshness = "stale"
)

// Cache holds capability snapshots keyed by relay URL. Safe for concurrent use.
type Cache struct {
	ttl, staleTTL int64
	snapshots     *xsync.MapOf[string, model.CapabilitySnapshot]
}

// NewCache creates a cache. Non-positive windows fall back to the defaults.
func NewCache(ttl, staleTTL int64) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if staleTTL <= 0 {
		staleTTL = DefaultStaleTTL
	}
	return &Cache{ttl: ttl, staleTTL: staleTTL, snapshots: xsync.NewMapOf[model.CapabilitySnapshot]()}
}

// Upsert stores a probe result measured at now.
func (c *Cache) Upsert(url string, r Result, now int64) model.CapabilitySnapshot {
	s := model.CapabilitySnapshot{
		RelayURL:  url,
		CheckedAt: r.CheckedAt,
		ExpiresAt: now + c.ttl,
		StaleAt:   now + c.staleTTL,
		Readiness: r.Readiness,
		Reasons:   append([]string(nil), r.Reasons...),
	}
	c.snapshots.Store(url, s)
	return s
}

// Put stores an already computed snapshot, as loaded from a shared store.
func (c *Cache) Put(s model.CapabilitySnapshot) { c.snapshots.Store(s.RelayURL, s) }

// Get returns the raw snapshot for url.
func (c *Cache) Get(url string) (model.CapabilitySnapshot, bool) { return c.snapshots.Load(url) }

// Freshness classifies the snapshot of url at now.
func (c *Cache) Freshness(url string, now int64) Freshness {
	s, ok := c.snapshots.Load(url)
	switch {
	case !ok:
		return Miss
	case now > s.StaleAt:
		return Stale
	case now > s.ExpiresAt:
		return Expired
	}
	return Fresh
}

// ShouldProbe decides whether trigger warrants a new probe of url.
func (c *Cache) ShouldProbe(t Trigger, url string, now int64) bool {
	f := c.Freshness(url, now)
	switch t {
	case TriggerManual, TriggerCreate, TriggerJoin:
		return true
	case TriggerStartup:
		return f == Miss || f == Stale
	}
	return f == Expired || f == Stale
}

// GetWithFallback returns the snapshot of url; a stale snapshot is returned
// with an added ReasonStaleCache instead of being withheld.
func (c *Cache) GetWithFallback(url string, now int64) (model.CapabilitySnapshot, bool) {
	s, ok := c.snapshots.Load(url)
	if !ok {
		return model.CapabilitySnapshot{}, false
	}
	if now > s.StaleAt {
		s.Reasons = uniq(append(append([]string(nil), s.Reasons...), string(ReasonStaleCache)))
	}
	return s, true
}

// Len returns the number of cached relays.
func (c *Cache) Len() int { return c.snapshots.Size() }
