// Package session provides Redis-backed session records, their compact binary
// encoding, and a Redis pub/sub notifier for session-change events.
//
// # Binary encoding
//
// Records are stored as a version byte followed by length-prefixed strings, the
// refresh-token hash and two big-endian unix timestamps. Unknown versions are rejected.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations), the [Record] model and the
// [Notifier]. It does NOT issue tokens, resolve profiles or decide routes.
//
// # What this package must NOT do
//
//   - Import manpower, backend, or web (no upward imports).
//   - Store plaintext refresh tokens in [Record] fields.
package session
