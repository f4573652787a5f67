// Package manpower is the authentication and session core of the FC Manpower
// employee management application.
//
// A [Controller] holds the session and profile of one browsing context. It is
// built with [New], bootstrapped with [Controller.Initialize] and released with
// [Controller.Teardown]. Session-change notifications arrive on a single
// subscription and are applied by one goroutine; every resolution is tagged with
// a generation so late responses are dropped after a logout or a newer event.
//
// After a sign-in the controller runs post-login provisioning through a
// [Provisioner]: missing profiles are created with the employee role, never
// admin, and an employee record lost to an earlier partial failure is
// re-created on the next login.
//
// Route decisions are delegated to the guard package; the concrete session store
// lives in the backend package.
package manpower
