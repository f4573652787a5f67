package manpower

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type fakeUser struct {
	password string
	subject  string
	fullName string
}

type fakeSub struct {
	mu     sync.Mutex
	ch     chan SessionEvent
	closed bool
}

func (s *fakeSub) Events() <-chan SessionEvent { return s.ch }

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

func (s *fakeSub) send(ev SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.ch <- ev
	}
}

type fakeStore struct {
	mu        sync.Mutex
	current   *Session
	users     map[string]fakeUser
	profiles  map[string]Profile
	employees map[string]EmployeeRecord
	subs      []*fakeSub
	seq       int

	currentErr       error
	subscribeErr     error
	signInErr        error
	getProfileErr    error
	profileWriteErrs int
	employeeWriteErr int
	signOutErr       error
	publishOnSignIn  bool

	// getProfileGate, when set, is signalled on entry and then waited on.
	getProfileEntered chan struct{}
	getProfileRelease chan struct{}
	signInEntered     chan struct{}
	signInRelease     chan struct{}

	profileWrites  int
	employeeWrites int
	signOuts       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]fakeUser),
		profiles:  make(map[string]Profile),
		employees: make(map[string]EmployeeRecord),
	}
}

func (f *fakeStore) addUser(email, password, subject, fullName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[email] = fakeUser{password: password, subject: subject, fullName: fullName}
}

func (f *fakeStore) addProfile(p Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
}

func (f *fakeStore) newSession(subject, email, provider, fullName string) *Session {
	f.seq++
	now := time.Now().UTC()
	return &Session{
		ID:        fmt.Sprintf("%s-s%d", subject, f.seq),
		Subject:   subject,
		Email:     email,
		Provider:  provider,
		FullName:  fullName,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func (f *fakeStore) publish(ev SessionEvent) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()
	for _, s := range subs {
		s.send(ev)
	}
}

func (f *fakeStore) CurrentSession(context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	return f.current.clone(), nil
}

func (f *fakeStore) SubscribeSessionChanges(context.Context) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	s := &fakeSub{ch: make(chan SessionEvent, 64)}
	f.subs = append(f.subs, s)
	return s, nil
}

func (f *fakeStore) SignInWithPassword(_ context.Context, email, password string) (*Session, error) {
	f.mu.Lock()
	entered, release := f.signInEntered, f.signInRelease
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	f.mu.Lock()
	if f.signInErr != nil {
		err := f.signInErr
		f.mu.Unlock()
		return nil, err
	}
	u, ok := f.users[email]
	if !ok || u.password != password {
		f.mu.Unlock()
		return nil, ErrInvalidCredentials
	}
	s := f.newSession(u.subject, email, ProviderPassword, u.fullName)
	f.current = s
	publish := f.publishOnSignIn
	f.mu.Unlock()

	if publish {
		f.publish(SessionEvent{Kind: EventSignedIn, Session: s.clone()})
	}
	return s.clone(), nil
}

func (f *fakeStore) SignInWithProvider(_ context.Context, provider string) (string, error) {
	switch provider {
	case ProviderGoogle, ProviderFacebook:
		return "https://idp.example/" + provider + "/authorize", nil
	default:
		return "", ErrUnknownProvider
	}
}

func (f *fakeStore) SignOut(context.Context) error {
	f.mu.Lock()
	if f.signOutErr != nil {
		err := f.signOutErr
		f.mu.Unlock()
		return err
	}
	had := f.current != nil
	f.current = nil
	f.signOuts++
	f.mu.Unlock()
	if had {
		f.publish(SessionEvent{Kind: EventSignedOut})
	}
	return nil
}

func (f *fakeStore) signOutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

func (f *fakeStore) hasSession() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current != nil
}

func (f *fakeStore) GetProfile(_ context.Context, subject string) (*Profile, error) {
	f.mu.Lock()
	entered, release := f.getProfileEntered, f.getProfileRelease
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getProfileErr != nil {
		return nil, f.getProfileErr
	}
	p, ok := f.profiles[subject]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}

func (f *fakeStore) UpsertProfile(_ context.Context, p Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileWrites++
	if f.profileWriteErrs > 0 {
		f.profileWriteErrs--
		return errors.New("profiles write failed")
	}
	f.profiles[p.ID] = p
	return nil
}

func (f *fakeStore) EmployeeExists(_ context.Context, subject string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.employees[subject]
	return ok, nil
}

func (f *fakeStore) UpsertEmployee(_ context.Context, e EmployeeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.employeeWrites++
	if f.employeeWriteErr > 0 {
		f.employeeWriteErr--
		return errors.New("employees write failed")
	}
	f.employees[e.ID] = e
	return nil
}

// federatedStore adds a provider sign-out that blocks until its context ends.
type federatedStore struct {
	*fakeStore
	calls chan *Session
}

func (f *federatedStore) FederatedSignOut(ctx context.Context, s *Session) error {
	f.calls <- s
	<-ctx.Done()
	return ctx.Err()
}
