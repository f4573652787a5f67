// Package oauth runs the authorization-code flow (with PKCE) against the
// federated providers offered on the login page, and revokes provider tokens
// on sign-out.
//
// Providers with an OIDC issuer have their ID token verified through
// go-oidc. Plain OAuth2 providers are resolved through their user-info
// endpoint.
package oauth
