// Package secret provides a small, dependency-light secret resolution layer.
//
// It supports:
//   - Strict environment expansion (see ExpandEnvStrict)
//   - Pluggable secret providers (see Provider + Registry)
//   - Resolving secret references in configuration values (see Resolver)
//
// References use the prefix "secretref:":
//   - Full value:  secretref:bws:project/dotenv/key/OPENAI_API_KEY
//   - Inline use:  Bearer secretref:bws:project/dotenv/key/OPENAI_API_KEY
//
// cmd/gatekeepd resolves these references in audit.redis_addr, the JWT
// static keys and the OAuth2 client secret before use. Other config values
// are used as written, and a JWT key or OAuth2 client secret that fails to
// resolve is used as its raw string.
package secret
