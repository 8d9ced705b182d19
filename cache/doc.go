// Package cache provides deterministic caching for the gateway's two
// distinct cacheable things: policy decisions (DecisionCache,
// Fingerprinter) and adapter invocation results (CacheMiddleware, Keyer).
// They share the same Cache/Policy/TTL primitives but answer different
// questions — "was this allowed" versus "what did the adapter return" —
// and are wired independently in cmd/gatekeepd.
//
// # Ecosystem Position
//
// CacheMiddleware sits between the gateway dispatcher and an adapter,
// intercepting invocations to avoid redundant backend calls for capabilities
// whose results are safe to reuse:
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                    Adapter Invocation Flow                      │
//	├─────────────────────────────────────────────────────────────────┤
//	│                                                                 │
//	│  dispatcher           cache                adapter             │
//	│   ┌──────┐         ┌─────────┐          ┌─────────┐            │
//	│   │Invoke│────────▶│Middleware│─────────▶│ Invoke  │            │
//	│   │ Req  │         │         │          │         │            │
//	│   └──────┘         │ ┌─────┐ │   miss   └─────────┘            │
//	│       ▲            │ │Keyer│ │              │                   │
//	│       │            │ ├─────┤ │              │                   │
//	│       │            │ │Cache│◀──────────────┘                   │
//	│       │            │ ├─────┤ │   store                         │
//	│       │    hit     │ │Policy│ │                                 │
//	│       └────────────│ └─────┘ │                                 │
//	│                    └─────────┘                                 │
//	│                                                                 │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Core Components
//
//   - [DecisionCache]: single-flight-deduplicated, LRU-bounded cache of
//     policy decisions, keyed by [Fingerprinter]. The authz service's cache.
//   - [Cache]: interface for caching adapter invocation results (Get/Set/Delete)
//   - [MemoryCache]: thread-safe in-memory implementation with TTL support
//   - [RedisCache]: shared-across-replicas implementation over go-redis
//   - [Keyer]: interface for deterministic result-cache key generation
//   - [DefaultKeyer]: SHA-256 based keyer with canonical JSON serialization
//   - [Policy]: configures TTL defaults, maximums, and unsafe-tag handling
//   - [CacheMiddleware]: transparent caching wrapper around adapter invocation
//
// # Quick Start
//
//	// Create cache with policy
//	policy := cache.DefaultPolicy() // 5min TTL, 1hr max
//	memCache := cache.NewMemoryCache(policy)
//	keyer := cache.NewDefaultKeyer()
//
//	// Create middleware
//	mw := cache.NewCacheMiddleware(memCache, keyer, policy, nil)
//
//	// Invoke with caching
//	result, err := mw.Execute(ctx, "github.search", parameters, tags,
//	    func(ctx context.Context, capability string, parameters any) ([]byte, error) {
//	        return adapter.Invoke(ctx, capability, parameters)
//	    })
//
// # Key Generation
//
// The [DefaultKeyer] generates deterministic cache keys using:
//
//	cache:<capability>:<hash>
//
// Where hash is the first 16 hex characters of SHA-256(canonical JSON(parameters)).
// Canonical JSON ensures map keys are sorted for deterministic serialization.
//
// # TTL Policies
//
// The [Policy] type controls caching behavior:
//
//   - DefaultTTL: Applied when no specific TTL is provided
//   - MaxTTL: Upper bound for any TTL (prevents excessive caching)
//   - AllowUnsafe: Whether to cache results for unsafe-tagged capabilities
//
// Preset policies:
//
//   - [DefaultPolicy]: 5 minute default, 1 hour max, unsafe=false
//   - [NoCachePolicy]: Disabled (0 TTL)
//
// # Unsafe Tag Handling
//
// Capabilities with certain tags are never cached because they have side
// effects:
//
//   - write, danger, unsafe, mutation, delete
//
// The gateway dispatcher also maps a Target's "high"/"critical"
// SensitivityTier onto "unsafe" before calling Execute, so
// sensitivity-tier-driven and tag-driven skip rules compose. The
// [DefaultSkipRule] checks for these tags (case-insensitive) and skips
// caching. Override via [NewCacheMiddleware]'s skipRule parameter.
//
// # Thread Safety
//
// All exported types are safe for concurrent use:
//
//   - [MemoryCache]: sync.RWMutex protects all operations
//   - [DefaultKeyer]: Stateless, concurrent-safe
//   - [CacheMiddleware]: Delegates to thread-safe Cache/Keyer
//   - [Policy]: Immutable struct, concurrent-safe
//
// # Error Handling
//
// Sentinel errors (use errors.Is for checking):
//
//   - [ErrNilCache]: Cache is nil
//   - [ErrInvalidKey]: Key is empty, whitespace-only, or contains newlines
//   - [ErrKeyTooLong]: Key exceeds MaxKeyLength (512 characters)
//
// Note: Cache.Get never returns errors - it returns (nil, false) on miss.
// Key validation is performed via [ValidateKey] function.
//
// # Integration
//
//   - gateway: wraps adapter invocation with CacheMiddleware (ResultCache)
//     and authorization with DecisionCache
//   - observe: logs cache hits/misses via the structured logger
//   - resilience: the executor wrapping adapter calls sits inside the
//     cache, so a cache miss still gets breaker/retry/timeout protection
package cache
