// Package auth authenticates the calling agent on every request the
// gateway's HTTP server accepts, before the request ever reaches the
// policy engine.
//
// It supports multiple authentication methods (JWT, API key, OAuth2
// introspection) composed by CompositeAuthenticator, plus role-based access
// control (RBAC) for principals whose downstream authorization should be
// grounded in roles rather than (or in addition to) the policy engine's
// PolicyInput.Principal. The package is transport-agnostic: cmd/gatekeepd's
// buildAuthenticator wires it into gateway.Server as HTTP middleware.
package auth
