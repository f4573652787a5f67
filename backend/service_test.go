package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/guard"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/internal/rate"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/jwt"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/oauth"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/password"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/records"
)

type memDirectory struct {
	mu         sync.Mutex
	users      map[string]records.User
	identities map[string]string
	profiles   map[string]manpower.Profile
	employees  map[string]manpower.EmployeeRecord
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		users:      map[string]records.User{},
		identities: map[string]string{},
		profiles:   map[string]manpower.Profile{},
		employees:  map[string]manpower.EmployeeRecord{},
	}
}

func (d *memDirectory) GetProfile(_ context.Context, id string) (*manpower.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[id]
	if !ok {
		return nil, records.ErrNotFound
	}
	return &p, nil
}

func (d *memDirectory) UpsertProfile(_ context.Context, p manpower.Profile) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
	return nil
}

func (d *memDirectory) EmployeeExists(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.employees[id]
	return ok, nil
}

func (d *memDirectory) UpsertEmployee(_ context.Context, e manpower.EmployeeRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[e.ID] = e
	return nil
}

func (d *memDirectory) GetUserByEmail(_ context.Context, email string) (records.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return records.User{}, records.ErrNotFound
}

func (d *memDirectory) SetPasswordHash(_ context.Context, userID, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := d.users[userID]
	u.PasswordHash = &hash
	d.users[userID] = u
	return nil
}

func (d *memDirectory) LinkIdentity(_ context.Context, provider, subject, email string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := provider + "/" + subject
	if id, ok := d.identities[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	d.users[id] = records.User{ID: id, Email: email}
	d.identities[key] = id
	return id, nil
}

func (d *memDirectory) RegisterAccount(_ context.Context, email, hash string, e manpower.EmployeeRecord) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.employees {
		if strings.EqualFold(existing.Email, email) {
			return "", records.ErrEmailTaken
		}
	}
	id := uuid.NewString()
	d.users[id] = records.User{ID: id, Email: email, PasswordHash: &hash}
	d.profiles[id] = manpower.Profile{ID: id, FullName: e.FullName, Role: e.Role}
	e.ID = id
	d.employees[id] = e
	return id, nil
}

type serviceFixture struct {
	svc *Service
	dir *memDirectory
	mr  *miniredis.Miniredis
	rdb *redis.Client
}

func newServiceFixture(t *testing.T, providers ...*oauth.Provider) *serviceFixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	tokens, err := jwt.NewManager(jwt.Config{AccessTTL: time.Minute, SigningMethod: jwt.MethodHS256, PrivateKey: []byte(strings.Repeat("s", 32)), Issuer: "manpower"})
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	hasher, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	dir := newMemDirectory()
	limiterCfg := rate.DefaultConfig()
	limiterCfg.MaxLoginAttempts = 3

	svc, err := NewService(Deps{
		Redis:     rdb,
		Directory: dir,
		Tokens:    tokens,
		Hasher:    hasher,
		Limiter:   rate.New(rdb, limiterCfg),
		Providers: oauth.NewRegistry(providers...),
	}, DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &serviceFixture{svc: svc, dir: dir, mr: mr, rdb: rdb}
}

func (f *serviceFixture) register(t *testing.T, email string) string {
	t.Helper()
	id, err := f.svc.Register(context.Background(), RegisterInput{Email: email, Password: "correct-horse", FullName: "Ana Cruz"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return id
}

func TestPasswordSignInLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	uid := f.register(t, "ana@example.com")
	c := f.svc.Client("browser-1")

	sess, err := c.SignInWithPassword(ctx, "ana@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := sess.Validate(); err != nil {
		t.Fatalf("invalid session: %v", err)
	}
	if sess.Subject != uid || sess.Provider != manpower.ProviderPassword || sess.FullName != "Ana Cruz" {
		t.Fatalf("unexpected session %+v", sess)
	}

	cur, err := c.CurrentSession(ctx)
	if err != nil || cur == nil || cur.ID != sess.ID {
		t.Fatalf("current session: %+v %v", cur, err)
	}
	if other, _ := f.svc.Client("browser-2").CurrentSession(ctx); other != nil {
		t.Fatal("another client must not see this session")
	}

	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if cur, _ := c.CurrentSession(ctx); cur != nil {
		t.Fatal("session should be gone after sign out")
	}
	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("second sign out should be a no-op: %v", err)
	}
}

func TestSignInRejectsBadCredentialsAndThrottles(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "ana@example.com")
	c := f.svc.Client("browser-1")

	if _, err := c.SignInWithPassword(ctx, "nobody@example.com", "whatever-pw"); !errors.Is(err, manpower.ErrInvalidCredentials) {
		t.Fatalf("unknown account: expected ErrInvalidCredentials, got %v", err)
	}
	var last error
	for i := 0; i < 4; i++ {
		_, last = c.SignInWithPassword(ctx, "ana@example.com", "wrong-password")
	}
	if !errors.Is(last, manpower.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after repeated failures, got %v", last)
	}
	if _, err := c.SignInWithPassword(ctx, "ana@example.com", "correct-horse"); !errors.Is(err, manpower.ErrRateLimited) {
		t.Fatalf("limit should hold even for the right password, got %v", err)
	}
}

func TestRegisterIgnoresRoleHintAndRejectsDuplicates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id, err := f.svc.Register(ctx, RegisterInput{Email: "boss@example.com", Password: "correct-horse", FullName: "Boss", RoleHint: "admin"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	p, _ := f.dir.GetProfile(ctx, id)
	if p.Role != manpower.RoleEmployee {
		t.Fatalf("self sign-up must create an employee, got %q", p.Role)
	}
	if f.dir.employees[id].Status != manpower.StatusActive {
		t.Fatalf("unexpected employee %+v", f.dir.employees[id])
	}

	if _, err := f.svc.Register(ctx, RegisterInput{Email: "BOSS@example.com", Password: "correct-horse", FullName: "Boss"}); !errors.Is(err, manpower.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if _, err := f.svc.Register(ctx, RegisterInput{Email: "x@example.com", Password: "short", FullName: "X"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateAdminPromotes(t *testing.T) {
	f := newServiceFixture(t)
	id, err := f.svc.CreateAdmin(context.Background(), RegisterInput{Email: "root@example.com", Password: "correct-horse", FullName: "Root"})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if p, _ := f.dir.GetProfile(context.Background(), id); p.Role != manpower.RoleAdmin {
		t.Fatalf("expected admin, got %+v", p)
	}
}

func TestRefreshRotatesAndDetectsReplay(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "ana@example.com")
	c := f.svc.Client("browser-1")

	first, err := c.SignInWithPassword(ctx, "ana@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	stale, _, _ := f.svc.readStorage(ctx, c.ID())

	refreshed, err := c.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.ID != first.ID {
		t.Fatal("refresh keeps the session id")
	}

	if err := f.svc.writeStorage(ctx, c.ID(), stale); err != nil {
		t.Fatalf("restore stale storage: %v", err)
	}
	if _, err := c.Refresh(ctx); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("replayed refresh token should revoke the session, got %v", err)
	}
	if cur, _ := c.CurrentSession(ctx); cur != nil {
		t.Fatal("session should be revoked after replay")
	}
}

func TestCurrentSessionRefreshesExpiredAccess(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "ana@example.com")
	c := f.svc.Client("browser-1")

	if _, err := c.SignInWithPassword(ctx, "ana@example.com", "correct-horse"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	st, _, _ := f.svc.readStorage(ctx, c.ID())
	expired, _ := jwt.NewManager(jwt.Config{AccessTTL: time.Nanosecond, SigningMethod: jwt.MethodHS256, PrivateKey: []byte(strings.Repeat("s", 32)), Issuer: "manpower"})
	st.Access, _, _ = expired.CreateAccess("x", st.SessionID, "", manpower.ProviderPassword, "")
	time.Sleep(2 * time.Millisecond)
	_ = f.svc.writeStorage(ctx, c.ID(), st)

	cur, err := c.CurrentSession(ctx)
	if err != nil || cur == nil {
		t.Fatalf("expected refreshed session, got %+v %v", cur, err)
	}
	if cur.AccessToken == st.Access {
		t.Fatal("access token should have been replaced")
	}
}

func TestRevokeUserSignsOutClients(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	uid := f.register(t, "ana@example.com")
	c := f.svc.Client("browser-1")

	sub, err := c.SubscribeSessionChanges(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := c.SignInWithPassword(ctx, "ana@example.com", "correct-horse"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	expectEvent(t, sub, manpower.EventSignedIn)

	active, err := f.svc.ActiveSessions(ctx, uid)
	if err != nil || len(active) != 1 {
		t.Fatalf("active sessions before revoke: %v %v", active, err)
	}

	n, err := f.svc.RevokeUser(ctx, uid)
	if err != nil || n != 1 {
		t.Fatalf("revoke: %d %v", n, err)
	}
	if active, err = f.svc.ActiveSessions(ctx, uid); err != nil || len(active) != 0 {
		t.Fatalf("active sessions after revoke: %v %v", active, err)
	}
	expectEvent(t, sub, manpower.EventSignedOut)
	if cur, _ := c.CurrentSession(ctx); cur != nil {
		t.Fatal("revoked session must not be current")
	}
}

func TestSubscriptionIgnoresOtherClients(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "ana@example.com")

	sub, err := f.svc.Client("browser-1").SubscribeSessionChanges(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := f.svc.Client("browser-2").SignInWithPassword(ctx, "ana@example.com", "correct-horse"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event for another client: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func expectEvent(t *testing.T, sub manpower.Subscription, kind manpower.SessionEventKind) manpower.SessionEvent {
	t.Helper()
	select {
	case ev := <-sub.Events():
		if ev.Kind != kind {
			t.Fatalf("expected %s, got %s", kind, ev.Kind)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", kind)
	}
	return manpower.SessionEvent{}
}

type fakeIdP struct {
	*httptest.Server
	userInfo map[string]any
	revoked  atomic.Value
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	f := &fakeIdP{userInfo: map[string]any{"id": "fb-1", "name": "Fb User", "email": "fb@example.com"}}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "provider-at", "token_type": "Bearer"})
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(f.userInfo)
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.revoked.Store(r.Form.Get("token"))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeIdP) provider(t *testing.T) *oauth.Provider {
	t.Helper()
	p, err := oauth.NewProvider(context.Background(), oauth.Config{
		Name:        "facebook",
		ClientID:    "cid",
		AuthURL:     f.URL + "/authorize",
		TokenURL:    f.URL + "/token",
		UserInfoURL: f.URL + "/me",
		RevokeURL:   f.URL + "/revoke",
	})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	return p
}

func stateFrom(t *testing.T, consent string) string {
	t.Helper()
	u, err := url.Parse(consent)
	if err != nil {
		t.Fatalf("parse consent url: %v", err)
	}
	return u.Query().Get("state")
}

func TestProviderFlow(t *testing.T) {
	idp := newFakeIdP(t)
	f := newServiceFixture(t, idp.provider(t))
	ctx := context.Background()
	c := f.svc.Client("browser-1")

	if _, err := c.SignInWithProvider(ctx, "github"); !errors.Is(err, manpower.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}

	consent, err := c.SignInWithProvider(ctx, "facebook")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	state := stateFrom(t, consent)

	if _, err := f.svc.Client("browser-2").CompleteProviderSignIn(ctx, state, "code"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("state must be bound to its client, got %v", err)
	}

	consent, _ = c.SignInWithProvider(ctx, "facebook")
	state = stateFrom(t, consent)
	sess, err := c.CompleteProviderSignIn(ctx, state, "code")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if sess.Provider != "facebook" || sess.Email != "fb@example.com" || sess.FullName != "Fb User" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if _, err := c.CompleteProviderSignIn(ctx, state, "code"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("state must be single use, got %v", err)
	}

	if err := c.FederatedSignOut(ctx, sess); err != nil {
		t.Fatalf("federated sign out: %v", err)
	}
	if idp.revoked.Load() != "provider-at" {
		t.Fatalf("provider token not revoked: %v", idp.revoked.Load())
	}
}

func TestProviderWithoutEmailYieldsIncompleteIdentity(t *testing.T) {
	idp := newFakeIdP(t)
	idp.userInfo = map[string]any{"id": "fb-2", "name": "Private"}
	f := newServiceFixture(t, idp.provider(t))
	ctx := context.Background()
	c := f.svc.Client("browser-1")

	ctrl, err := manpower.New().WithStore(c).Build()
	if err != nil {
		t.Fatalf("build controller: %v", err)
	}
	defer ctrl.Teardown()
	if _, err := ctrl.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	consent, err := ctrl.LoginWithProvider(ctx, "facebook")
	if err != nil {
		t.Fatalf("login with provider: %v", err)
	}
	if _, err := c.CompleteProviderSignIn(ctx, stateFrom(t, consent), "code"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	waitFor(t, func() bool {
		var incomplete *manpower.IdentityIncompleteError
		return errors.As(ctrl.LastError(), &incomplete)
	})
	if ctrl.Status().Phase != guard.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %+v", ctrl.Status())
	}
	if len(f.dir.profiles) != 0 {
		t.Fatal("nothing may be provisioned without an email")
	}
}

func TestControllerLoginProvisionsThroughBackend(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	uid, err := f.dir.LinkIdentity(ctx, "seed", "1", "")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	hash, _ := f.svc.hasher.Hash("correct-horse")
	_ = f.dir.SetPasswordHash(ctx, uid, hash)
	f.dir.mu.Lock()
	u := f.dir.users[uid]
	u.Email = "legacy@example.com"
	f.dir.users[uid] = u
	f.dir.mu.Unlock()

	ctrl, err := manpower.New().WithStore(f.svc.Client("browser-1")).Build()
	if err != nil {
		t.Fatalf("build controller: %v", err)
	}
	defer ctrl.Teardown()
	if _, err := ctrl.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	res, err := ctrl.Login(ctx, "legacy@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Profile == nil || res.Profile.Role != manpower.RoleEmployee || res.Profile.FullName != "No Name" {
		t.Fatalf("expected provisioned employee profile, got %+v", res.Profile)
	}
	if res.Landing != guard.PathEmployeeDashboard {
		t.Fatalf("unexpected landing %q", res.Landing)
	}
	if ok, _ := f.dir.EmployeeExists(ctx, uid); !ok {
		t.Fatal("employee row should be provisioned")
	}

	if err := ctrl.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if cur, _ := f.svc.Client("browser-1").CurrentSession(ctx); cur != nil {
		t.Fatal("logout must end the backend session")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
