package cache

import (
	"context"
	"strings"
)

// InvokeFunc is the function signature for an adapter invocation that
// CacheMiddleware may short-circuit with a cached result.
type InvokeFunc func(ctx context.Context, capability string, parameters any) ([]byte, error)

// SkipRule determines whether to skip caching for a given capability.
// Returns true if caching should be skipped.
type SkipRule func(capability string, tags []string) bool

// UnsafeTags are tags that indicate a capability has side effects and
// must not be cached. The gateway dispatcher maps "high"/"critical"
// sensitivity tiers onto "unsafe" before calling Execute.
var UnsafeTags = []string{"write", "danger", "unsafe", "mutation", "delete"}

// DefaultSkipRule skips caching for capabilities with unsafe tags.
// Tag matching is case-insensitive.
func DefaultSkipRule(_ string, tags []string) bool {
	for _, tag := range tags {
		tagLower := strings.ToLower(tag)
		for _, unsafe := range UnsafeTags {
			if tagLower == unsafe {
				return true
			}
		}
	}
	return false
}

// CacheMiddleware wraps adapter invocation with result caching, separate
// from and complementary to DecisionCache's authorization-decision cache:
// this caches what an adapter returned, not whether the caller was
// allowed to ask.
type CacheMiddleware struct {
	cache    Cache
	keyer    Keyer
	policy   Policy
	skipRule SkipRule
}

// NewCacheMiddleware creates a new cache middleware.
// If skipRule is nil, DefaultSkipRule is used.
func NewCacheMiddleware(cache Cache, keyer Keyer, policy Policy, skipRule SkipRule) *CacheMiddleware {
	if skipRule == nil {
		skipRule = DefaultSkipRule
	}
	return &CacheMiddleware{
		cache:    cache,
		keyer:    keyer,
		policy:   policy,
		skipRule: skipRule,
	}
}

// Execute runs the invocation with caching.
// On cache hit, returns the cached result without calling invoke.
// On cache miss, calls invoke and caches the result.
// Errors are NOT cached.
func (m *CacheMiddleware) Execute(
	ctx context.Context,
	capability string,
	parameters any,
	tags []string,
	invoke InvokeFunc,
) ([]byte, error) {
	// Check if caching should be skipped
	if !m.policy.AllowUnsafe && m.skipRule(capability, tags) {
		// Skip caching - invoke directly
		return invoke(ctx, capability, parameters)
	}

	// Check if caching is enabled by policy
	if !m.policy.ShouldCache() {
		return invoke(ctx, capability, parameters)
	}

	// Generate cache key
	key, err := m.keyer.Key(capability, parameters)
	if err != nil {
		// Key generation failed - invoke without caching
		return invoke(ctx, capability, parameters)
	}

	// Check cache
	if cached, ok := m.cache.Get(ctx, key); ok {
		return cached, nil
	}

	// Cache miss - invoke
	result, err := invoke(ctx, capability, parameters)
	if err != nil {
		// Don't cache errors
		return result, err
	}

	// Cache the result
	ttl := m.policy.EffectiveTTL(0)
	if ttl > 0 {
		_ = m.cache.Set(ctx, key, result, ttl)
	}

	return result, nil
}
