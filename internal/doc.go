// Package internal holds private helpers: random session identifiers and the
// opaque refresh-token format.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - cli: cobra command tree for the manpower binary
//   - envconfig: process configuration from .env, YAML and the environment
//   - logging: slog logger construction
//   - rate: Redis-backed fixed-window throttles
package internal
