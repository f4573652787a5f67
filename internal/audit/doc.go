// Package audit implements async event dispatching for authentication and
// provisioning events.
//
// # Components
//
//   - [Sink]: interface for event consumers (JSON writer, slog, no-op).
//   - [Dispatcher]: ordered async relay; counts lost events per type and can
//     flush on demand.
//   - [Event]: structured audit record with timestamp, type, subject, session, provider, IP, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the controller does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import manpower or any sibling internal package.
package audit
