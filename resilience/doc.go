// Package resilience provides the reliability patterns the gateway wraps
// around every outbound call to an adapter or policy engine: a provider
// going slow or flaky must not take the whole gatekeepd process down with
// it. The patterns compose through Executor into the single pipeline
// gateway.Dispatcher.Dispatch and cmd/gatekeepd's policy-engine evaluation
// path both run invocations through.
//
// # Ecosystem Position
//
// resilience sits between the dispatcher and the transport/authz layers it
// calls into:
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                  Dispatch → Adapter Invocation                   │
//	├─────────────────────────────────────────────────────────────────┤
//	│                                                                 │
//	│  dispatcher         resilience              transport.Adapter   │
//	│  ┌──────┐         ┌───────────┐           ┌─────────┐           │
//	│  │Invoke│────────▶│ Executor  │──────────▶│ Invoke  │           │
//	│  │ Req  │         │           │           │         │           │
//	│  └──────┘         │ ┌───────┐ │           └─────────┘           │
//	│                   │ │RateLim│ │                                │
//	│                   │ ├───────┤ │                                │
//	│                   │ │Bulkhd │ │                                │
//	│                   │ ├───────┤ │                                │
//	│                   │ │Circuit│ │                                │
//	│                   │ ├───────┤ │                                │
//	│                   │ │ Retry │ │                                │
//	│                   │ ├───────┤ │                                │
//	│                   │ │Timeout│ │                                │
//	│                   │ └───────┘ │                                │
//	│                   └───────────┘                                │
//	│                                                                 │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Resilience Patterns
//
// The package provides five core patterns:
//
//   - [CircuitBreaker]: Stops calling a provider that has crossed MaxFailures
//     until ResetTimeout elapses, then admits up to HalfOpenMaxRequests probes
//     at a time and only closes once SuccessThreshold of them succeed consecutively
//     — one flaky probe does not re-open the gate to a provider that is still
//     failing most of the time.
//
//   - [Retry]: Retries a failed adapter call with exponential/linear/constant
//     backoff and jitter, gated by RetryConfig.RetryIf so only retryable
//     gatekeep.ErrorKinds (transient_error, transport_reset) are retried —
//     a provider_error or permission_denied is never blindly retried.
//
//   - [RateLimiter]: Token-bucket limiting per adapter resource, so one noisy
//     caller's invocation volume can't starve others sharing the same
//     provider.
//
//   - [Bulkhead]: Semaphore-bounded concurrency per adapter, isolating one
//     slow provider's in-flight calls from exhausting the whole process's
//     goroutine/connection budget.
//
//   - [Timeout]: Context deadline applied to a single adapter call, innermost
//     in the Executor chain so it bounds exactly the call it wraps.
//
// # Quick Start
//
//	// Individual pattern usage
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    MaxFailures:      5,
//	    ResetTimeout:     time.Minute,
//	    SuccessThreshold: 2,
//	})
//
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//	    return adapter.Invoke(ctx, capability, parameters)
//	})
//
//	// Composed patterns with Executor, as cmd/gatekeepd wires them around
//	// every dispatcher invocation:
//	executor := resilience.NewExecutor(
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
//	        Rate:  100,
//	        Burst: 10,
//	    })),
//	    resilience.WithCircuitBreaker(cb),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
//	        MaxAttempts:  3,
//	        InitialDelay: 100 * time.Millisecond,
//	    })),
//	    resilience.WithTimeout(5*time.Second),
//	)
//
//	err = executor.Execute(ctx, func(ctx context.Context) error {
//	    return adapter.Invoke(ctx, capability, parameters)
//	})
//
// # Execution Order
//
// When using the Executor, patterns are applied in this order (outermost first):
//
//  1. Rate Limiter - limits request rate
//  2. Bulkhead - limits concurrency
//  3. Circuit Breaker - prevents cascading failures
//  4. Retry - retries on failure
//  5. Timeout - limits execution time (innermost)
//
// # Thread Safety
//
// All exported types are safe for concurrent use after construction:
//
//   - [CircuitBreaker]: Execute() and State() are mutex-protected; Reset() is safe
//   - [Retry]: Execute() is stateless and safe for concurrent use
//   - [RateLimiter]: Allow(), AllowN(), Wait(), Execute() are mutex-protected
//   - [Bulkhead]: Acquire(), Release(), Execute() use channel-based semaphore
//   - [Timeout]: Execute() is stateless and safe for concurrent use
//   - [Executor]: Execute() is safe; all wrapped patterns maintain their guarantees
//
// # Error Handling
//
// Each pattern returns specific sentinel errors (use errors.Is for checking):
//
//   - [ErrCircuitOpen]: Circuit breaker is in open state, rejecting requests
//   - [ErrMaxRetriesExceeded]: Names exhausted retries; Retry itself returns
//     the last attempt's error when attempts run out
//   - [ErrRateLimitExceeded]: Rate limit exceeded and no wait configured
//   - [ErrBulkheadFull]: Bulkhead at maximum concurrency
//   - [ErrTimeout]: Operation exceeded configured timeout
//
// gateway.Dispatcher.Dispatch maps each of these onto a gatekeep.ErrorKind
// (ErrKindAdapterUnavailable, ErrKindTransientError, ...) so a caller sees
// one consistent error taxonomy regardless of which resilience pattern
// tripped.
//
// # Callbacks and Observability
//
// Patterns support callbacks for observability integration:
//
//   - CircuitBreakerConfig.OnStateChange: Called on state transitions
//   - RetryConfig.OnRetry: Called before each retry attempt
//   - CircuitBreakerConfig.IsFailure: Custom failure classification
//   - RetryConfig.RetryIf: Custom retry decision logic
//
// # Integration
//
// resilience is consumed by:
//
//   - gateway: Dispatcher.Config.Executor wraps every adapter Invoke call
//   - authz: a PolicyEngine may be wrapped the same way for policy-service calls
//   - observe: OnStateChange/OnRetry take plain callbacks; cmd/gatekeepd
//     sets neither, so state changes and retries are not logged
//   - health: CircuitBreaker.State() is readable at any time; cmd/gatekeepd
//     registers no health.Checker for circuit state
package resilience
