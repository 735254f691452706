// Package oauth talks to the OAuth2/OIDC provider: it exchanges
// authorization codes and refresh tokens at the token endpoint and builds
// the authorization and end-session redirect URLs.
package oauth
