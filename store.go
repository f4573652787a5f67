package manpower

import "context"

// Subscription is a cancellable stream of session-change notifications. Events
// is closed after Close returns.
type Subscription interface {
	Events() <-chan SessionEvent
	Close() error
}

// ProfileStore is the subset of the session store that reads and writes
// profile and employee records.
//
// GetProfile returns an error matching ErrProfileNotFound when no record exists;
// any other error is treated as a lookup failure.
type ProfileStore interface {
	GetProfile(ctx context.Context, subject string) (*Profile, error)
	UpsertProfile(ctx context.Context, p Profile) error
	EmployeeExists(ctx context.Context, subject string) (bool, error)
	UpsertEmployee(ctx context.Context, e EmployeeRecord) error
}

// SessionStore is the hosted auth and data service as seen by one browsing context.
//
// SignInWithPassword returns errors matching ErrInvalidCredentials or
// ErrRateLimited for rejected attempts. SignOut must be a no-op when no session
// is held.
type SessionStore interface {
	ProfileStore

	CurrentSession(ctx context.Context) (*Session, error)
	SubscribeSessionChanges(ctx context.Context) (Subscription, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignInWithProvider(ctx context.Context, provider string) (redirectURL string, err error)
	SignOut(ctx context.Context) error
}

// FederatedSignOuter is implemented by stores that can end the third-party
// session behind a federated login.
type FederatedSignOuter interface {
	FederatedSignOut(ctx context.Context, s *Session) error
}
