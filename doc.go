// Package gatekeep implements an authorization and audit gateway for
// AI-tool invocations: it authenticates callers, evaluates and caches
// policy decisions, dispatches to HTTP/SSE, gRPC, or stdio-subprocess
// providers through a shared resilience stack, and records an
// append-only audit trail.
//
// Subpackages:
//
//   - resilience: circuit breaker, retry, timeout, bulkhead, rate limiter
//   - cache: bounded TTL cache and the policy decision cache built on it
//   - auth: credential authentication (JWT, API key, OAuth2 introspection)
//   - authz: policy evaluation, fingerprinting, decision caching
//   - transport: HTTP/SSE, gRPC, and stdio-subprocess adapters
//   - gateway: the HTTP dispatcher tying authz, transport, and audit together
//   - audit: the buffered at-least-once audit event pipeline
//   - config: layered configuration and CLI entrypoint support
//   - observe, health, secret: ambient logging/metrics/health/secret plumbing
package gatekeep
