// Package health provides the liveness/readiness machinery gatekeepd
// exposes to its orchestrator: Checkers aggregated into the /healthz,
// /readyz, and /v1/health/detailed endpoints cmd/gatekeepd registers on
// startup. cmd/gatekeepd registers a policy_engine checker and a
// MemoryChecker; it registers no checker for the caches or for
// circuit-breaker state.
//
// # Ecosystem Position
//
// health sits between gatekeepd's dependencies and its orchestrator's probes:
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                   gatekeepd Health Architecture                  │
//	├─────────────────────────────────────────────────────────────────┤
//	│                                                                 │
//	│   Kubernetes          health              Dependencies          │
//	│   ┌─────────┐      ┌───────────┐        ┌───────────┐          │
//	│   │Liveness │─────▶│  HTTP     │        │  Policy   │          │
//	│   │ Probe   │      │ Handlers  │        │  Engine   │          │
//	│   ├─────────┤      │           │        ├───────────┤          │
//	│   │Readiness│─────▶│ /healthz  │◀───────│  Decision │          │
//	│   │ Probe   │      │ /readyz   │        │   Cache   │          │
//	│   └─────────┘      │ /health   │        ├───────────┤          │
//	│                    │           │        │  Adapter  │          │
//	│   Load Balancer    │ ┌───────┐ │        │ Circuits  │          │
//	│   ┌─────────┐      │ │Aggreg-│◀┼────────┴───────────┘          │
//	│   │ Health  │─────▶│ │ ator  │ │                                │
//	│   │ Checks  │      │ └───────┘ │                                │
//	│   └─────────┘      └───────────┘                                │
//	│                                                                 │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Status Types
//
// The [Status] type represents component health:
//
//   - [StatusHealthy]: Component is functioning normally
//   - [StatusDegraded]: Component is functioning but with issues
//   - [StatusUnhealthy]: Component is not functioning properly
//
// # Core Components
//
//   - [Checker]: Interface for health checks (Name() + Check())
//   - [CheckerFunc]: Adapter for function-based checkers
//   - [Result]: Health check outcome with status, message, details, duration
//   - [Aggregator]: Combines multiple checkers into composite health
//   - [MemoryChecker]: Built-in checker for memory usage thresholds
//
// # Quick Start
//
//	// Create checkers
//	memCheck := health.NewMemoryChecker(health.MemoryCheckerConfig{
//	    WarningThreshold:  0.80,
//	    CriticalThreshold: 0.95,
//	})
//
//	policyCheck := health.NewCheckerFunc("policy_engine", func(ctx context.Context) health.Result {
//	    if _, err := engine.Evaluate(ctx, probeInput); err != nil {
//	        return health.Unhealthy("policy engine unreachable", err)
//	    }
//	    return health.Healthy("policy engine reachable")
//	})
//
//	// Create aggregator
//	agg := health.NewAggregator()
//	agg.Register("memory", memCheck)
//	agg.Register("policy_engine", policyCheck)
//
//	// Check all components
//	results := agg.CheckAll(ctx)
//	overall := agg.OverallStatus(results)
//
// # HTTP Endpoints
//
// The package provides Kubernetes-compatible HTTP handlers:
//
//   - [LivenessHandler]: Simple /healthz endpoint - always returns 200 if running
//   - [ReadinessHandler]: Runs all checks, returns 503 if any unhealthy
//   - [DetailedHandler]: Returns JSON with full check details
//   - [SingleCheckHandler]: Check a specific component by name
//   - [RegisterHandlers]: Convenience function to register all handlers
//
// Example registration:
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, aggregator)
//	// Registers: /healthz, /readyz, /health
//
// # Aggregation Behavior
//
// The [Aggregator] computes overall status using worst-case logic:
//
//   - If ANY check is Unhealthy → overall Unhealthy
//   - If ANY check is Degraded (and none Unhealthy) → overall Degraded
//   - If ALL checks are Healthy → overall Healthy
//
// Checks can run in parallel (default) or sequentially via [AggregatorConfig].
//
// # Thread Safety
//
// All exported types are safe for concurrent use:
//
//   - [Aggregator]: sync.RWMutex protects registration and check execution
//   - [MemoryChecker]: Stateless, concurrent-safe
//   - [CheckerFunc]: Delegates to user function, ensure your function is safe
//   - [Result]: Immutable after creation
//
// # Error Handling
//
// Sentinel errors (use errors.Is for checking):
//
//   - [ErrCheckFailed]: Generic health check failure
//   - [ErrCheckTimeout]: Check exceeded timeout
//   - [ErrCheckerNotFound]: Named checker not registered
//   - [ErrNoCheckers]: No checkers registered in aggregator
//
// # Integration
//
//   - cmd/gatekeepd: registers a policy_engine CheckerFunc and a
//     MemoryChecker on the Aggregator it mounts at /healthz, /readyz,
//     /v1/health/detailed
//   - resilience: a CircuitBreaker.State() per adapter resource can back a
//     CheckerFunc the same way the policy-engine probe does
//   - observe: log health check results via the structured logger
package health
