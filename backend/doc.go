// Package backend is the hosted auth and data service behind the controller.
//
// A [Service] holds the shared dependencies. [Service.Client] returns the view
// of one browsing context, which implements manpower.SessionStore: its tokens
// live in Redis under the client ID, and session changes from any process
// reach it through the Redis notifier.
package backend
