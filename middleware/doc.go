// Package middleware adapts the controller and route policy to net/http.
//
// [BrowsingContext] attaches the caller's controller to the request context,
// [ClientInfo] records the caller address and user agent used by rate limiting
// and audit, and [Guard] enforces a permission on API routes with JSON 401 and
// 403 responses.
//
// Decisions come from guard.Policy over the controller's guard status; this
// package never reads tokens or talks to Redis.
package middleware
