// Package jwt issues and verifies the short-lived access tokens handed to a
// browsing context after sign-in. Tokens carry the subject, session ID, email
// and provider; everything else is resolved from the profile store.
package jwt
