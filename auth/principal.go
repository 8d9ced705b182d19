package auth

import (
	gatekeep "github.com/jonwraymond/gatekeep"
)

// scopesClaim is the claim key scopes are read from when present, in
// addition to the Permissions slice populated by the OAuth2 introspection
// authenticator. Scopes are distinct from Roles/Permissions in
// the gatekeep.Principal model: they gate coarse action classes like
// "tool:invoke" or "policy:read" rather than RBAC roles.
const scopesClaim = "scope"

// teamsClaim is the claim key team memberships are read from, when present.
const teamsClaim = "teams"

// trustLevelClaim is the claim key a trust-level tag is read from, when present.
const trustLevelClaim = "trust_level"

// ToPrincipal converts an authenticated Identity into the gatekeep.Principal
// shape the authorization service consumes. ipAddress is threaded through
// separately since Identity carries no notion of request source.
func (id *Identity) ToPrincipal(ipAddress string) gatekeep.Principal {
	if id == nil {
		return gatekeep.Principal{ID: "anonymous", TrustLevel: "untrusted", IPAddress: ipAddress}
	}

	p := gatekeep.Principal{
		ID:         id.Principal,
		Roles:      append([]string(nil), id.Roles...),
		Scopes:     extractScopes(id),
		Teams:      stringSliceClaim(id.Claims, teamsClaim),
		IPAddress:  ipAddress,
		TrustLevel: trustLevel(id),
	}
	return p
}

// extractScopes returns Permissions (already scope-shaped; only the OAuth2
// introspection authenticator sets them) unioned with any explicit "scope" claim.
func extractScopes(id *Identity) []string {
	scopes := append([]string(nil), id.Permissions...)
	if claimed := stringSliceClaim(id.Claims, scopesClaim); len(claimed) > 0 {
		seen := make(map[string]bool, len(scopes))
		for _, s := range scopes {
			seen[s] = true
		}
		for _, s := range claimed {
			if !seen[s] {
				scopes = append(scopes, s)
				seen[s] = true
			}
		}
	}
	return scopes
}

// stringSliceClaim extracts a claim that may be encoded as a []any of
// strings or as a single space-delimited string, mirroring the decoding
// auth/oauth2_introspection.go already does for the scopes claim.
func stringSliceClaim(claims map[string]any, key string) []string {
	if claims == nil {
		return nil
	}
	raw, ok := claims[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		out := make([]string, 0, 1)
		start := 0
		for i := 0; i <= len(v); i++ {
			if i == len(v) || v[i] == ' ' {
				if i > start {
					out = append(out, v[start:i])
				}
				start = i + 1
			}
		}
		return out
	default:
		return nil
	}
}

// trustLevel derives a coarse trust tag from the authentication method: a
// credential validated against a live identity provider (JWT w/ JWKS,
// OAuth2 introspection) is "verified"; a static API key is "standard";
// anonymous/unauthenticated callers are "untrusted". Policies consult this
// tag for default deny rules but it is never the sole deciding factor.
func trustLevel(id *Identity) string {
	if id.IsAnonymous() {
		return "untrusted"
	}
	switch id.Method {
	case AuthMethodJWT, AuthMethodOAuth2:
		return "verified"
	case AuthMethodAPIKey, AuthMethodBasic:
		return "standard"
	default:
		return "standard"
	}
}
