// Package permission provides a 64-bit permission mask, a name-to-bit registry and
// role composition used by the route guard to decide which views a role may reach.
//
// # Architecture boundaries
//
// This package is a pure in-memory data structure with no I/O.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import manpower, guard, or web.
//   - Change bit assignments after the registry is frozen.
package permission
