// Package guard implements the route guard: a small state machine over
// unauthenticated, authenticating and authenticated(role), and the path policy
// that turns the current state into allow or redirect decisions.
//
// The machine rejects transitions that are not in its table with
// ErrInvalidTransition and leaves its state untouched. The policy is static
// after construction and safe for concurrent use.
package guard
