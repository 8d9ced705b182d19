package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	gatekeep "github.com/jonwraymond/gatekeep"
	"golang.org/x/sync/singleflight"
)

// DecisionPolicy configures the policy decision cache, generalizing Policy
// with a negative-result clamp and a capacity bound.
type DecisionPolicy struct {
	// Policy carries DefaultTTL/MaxTTL/AllowUnsafe as for tool-result caching.
	Policy

	// NegativeTTL caps the TTL applied to denied decisions. Denials are
	// cached for a shorter, separately-clamped window so a policy change
	// that starts allowing something is picked up quickly.
	// Default: 30s.
	NegativeTTL time.Duration

	// MaxEntries bounds the cache size via approximate LRU eviction.
	// Zero means unbounded.
	MaxEntries int
}

// DefaultDecisionPolicy returns sensible defaults: 5 minute positive TTL,
// 1 hour max, 30s negative TTL, 10000 entries.
func DefaultDecisionPolicy() DecisionPolicy {
	return DecisionPolicy{
		Policy:      DefaultPolicy(),
		NegativeTTL: 30 * time.Second,
		MaxEntries:  10000,
	}
}

// DecisionCacheMetrics tracks cache activity for observability.
type DecisionCacheMetrics struct {
	Hits       uint64
	Misses     uint64
	Suppressed uint64 // single-flight callers that rode an in-flight evaluation
	Evictions  uint64
}

type decisionEntry struct {
	decision    gatekeep.Decision
	expiresAt   time.Time
	cachedAt    time.Time
	elem        *list.Element
	fingerprint gatekeep.Fingerprint
}

// Evaluator evaluates a PolicyInput on a cache miss. It is exactly the
// shape authz.PolicyEngine.Evaluate takes; the cache package does not
// import authz to avoid a cycle, so this local alias is used instead.
type Evaluator func(ctx context.Context, input gatekeep.PolicyInput) (gatekeep.Decision, error)

// DecisionCache is a bounded, TTL-keyed, single-flight-deduplicated cache
// of policy decisions, built from MemoryCache's mutex-protected map idiom
// plus an approximate-LRU access list and a singleflight.Group for
// stampede protection, mirroring auth.JWKSKeyProvider's refresh pattern.
type DecisionCache struct {
	mu      sync.Mutex
	entries map[gatekeep.Fingerprint]*decisionEntry
	order   *list.List // front = most recently used

	policy       DecisionPolicy
	fingerprints Fingerprinter
	sf           singleflight.Group

	invalidatedAt time.Time // watermark: entries cached before this are misses

	metrics DecisionCacheMetrics
}

// NewDecisionCache creates a new decision cache.
func NewDecisionCache(policy DecisionPolicy, fp Fingerprinter) *DecisionCache {
	if fp == nil {
		fp = NewDefaultFingerprinter()
	}
	return &DecisionCache{
		entries:      make(map[gatekeep.Fingerprint]*decisionEntry),
		order:        list.New(),
		policy:       policy,
		fingerprints: fp,
	}
}

// Fingerprint exposes the cache's fingerprinter so callers build keys the
// same way the cache does.
func (c *DecisionCache) Fingerprint(input gatekeep.PolicyInput) (gatekeep.Fingerprint, error) {
	return c.fingerprints.Fingerprint(input)
}

// GetOrEvaluate returns the cached Decision for input if present and not
// expired/invalidated, otherwise calls eval exactly once per fingerprint
// even under concurrent callers (singleflight), caches the result with a
// TTL clamped by policy, and returns it.
//
// Miss accounting: every caller that finds an entry via lookup counts as a
// Hit, but only the single-flight winner's failed re-check counts as a
// Miss — concurrent callers racing on the same fingerprint collapse into
// the one eval() call they're waiting on, so they must collapse into the
// one Miss that call represents too (spec §8 scenario 5: N concurrent
// callers against an empty cache yields cache_misses=1, not N).
func (c *DecisionCache) GetOrEvaluate(ctx context.Context, input gatekeep.PolicyInput, eval Evaluator) (gatekeep.Decision, error) {
	fp, err := c.fingerprints.Fingerprint(input)
	if err != nil {
		return gatekeep.Decision{}, err
	}

	if d, ok := c.lookup(fp); ok {
		return d, nil
	}

	v, err, shared := c.sf.Do(string(fp), func() (any, error) {
		// Re-check after winning the single-flight race: another goroutine
		// may have populated the entry while we were waiting to be chosen.
		if d, ok := c.lookup(fp); ok {
			return d, nil
		}
		c.recordMiss()

		decision, err := eval(ctx, input)
		if err != nil {
			return gatekeep.Decision{}, err
		}

		c.store(fp, decision)
		return decision, nil
	})
	if shared {
		c.mu.Lock()
		c.metrics.Suppressed++
		c.mu.Unlock()
	}
	if err != nil {
		return gatekeep.Decision{}, err
	}

	d := v.(gatekeep.Decision)
	d.Cached = false
	return d, nil
}

// recordMiss counts a single cache miss. Called exactly once per
// fingerprint per eval, from inside the single-flight section, never from
// the outer pre-check — see GetOrEvaluate's miss-accounting note.
func (c *DecisionCache) recordMiss() {
	c.mu.Lock()
	c.metrics.Misses++
	c.mu.Unlock()
}

// lookup reports a cache hit or miss for fp, incrementing Hits on a hit.
// It does not count Misses — see GetOrEvaluate's miss-accounting note.
func (c *DecisionCache) lookup(fp gatekeep.Fingerprint) (gatekeep.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fp]
	if !ok {
		return gatekeep.Decision{}, false
	}

	if time.Now().After(entry.expiresAt) || entry.cachedAt.Before(c.invalidatedAt) {
		c.removeLocked(fp, entry)
		return gatekeep.Decision{}, false
	}

	c.order.MoveToFront(entry.elem)
	c.metrics.Hits++

	d := entry.decision
	d.Cached = true
	return d, true
}

func (c *DecisionCache) store(fp gatekeep.Fingerprint, decision gatekeep.Decision) {
	ttl := c.policy.EffectiveTTL(decision.TTL)
	if !decision.Allowed {
		if c.policy.NegativeTTL > 0 && (ttl <= 0 || ttl > c.policy.NegativeTTL) {
			ttl = c.policy.NegativeTTL
		}
	}
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if existing, ok := c.entries[fp]; ok {
		existing.decision = decision
		existing.expiresAt = now.Add(ttl)
		existing.cachedAt = now
		c.order.MoveToFront(existing.elem)
		return
	}

	entry := &decisionEntry{
		decision:    decision,
		expiresAt:   now.Add(ttl),
		cachedAt:    now,
		fingerprint: fp,
	}
	entry.elem = c.order.PushFront(entry)
	c.entries[fp] = entry

	c.evictLocked()
}

// evictLocked drops least-recently-used entries until the cache is within
// MaxEntries. Caller must hold c.mu.
func (c *DecisionCache) evictLocked() {
	if c.policy.MaxEntries <= 0 {
		return
	}
	for len(c.entries) > c.policy.MaxEntries {
		back := c.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*decisionEntry)
		c.removeLocked(entry.fingerprint, entry)
		c.metrics.Evictions++
	}
}

// removeLocked deletes an entry from both the map and the access list.
// Caller must hold c.mu.
func (c *DecisionCache) removeLocked(fp gatekeep.Fingerprint, entry *decisionEntry) {
	c.order.Remove(entry.elem)
	delete(c.entries, fp)
}

// Invalidate removes a single fingerprint from the cache.
func (c *DecisionCache) Invalidate(fp gatekeep.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[fp]; ok {
		c.removeLocked(fp, entry)
	}
}

// InvalidateAll clears the cache and advances the invalidation watermark
// so that every entry stored before this call is treated as a miss. An
// evaluation already in flight stores its result afterwards with a newer
// cachedAt, so that result is served as a hit by subsequent lookups.
func (c *DecisionCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[gatekeep.Fingerprint]*decisionEntry)
	c.order = list.New()
	c.invalidatedAt = time.Now()
}

// Metrics returns a snapshot of cache activity counters.
func (c *DecisionCache) Metrics() DecisionCacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Len returns the current number of cached entries.
func (c *DecisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
