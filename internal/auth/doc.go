// Package auth authenticates API callers and turns a bearer token into an
// Identity the coordinator can trust.
//
// Two kinds of token are accepted:
//   - HS256 JWT access tokens issued by this service (claims sub, email, gid)
//   - Fixed development tokens, only when security.dev_tokens is enabled
//
// Development tokens provision their user on first use:
//
//	test-token-12345         -> test@solar.com
//	web-temp-token-<subject> -> webuser@solar.com
//
// Neither form may be enabled on an internet-facing deployment.
package auth
