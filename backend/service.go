package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/internal"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/internal/rate"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/jwt"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/oauth"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/password"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/records"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/session"
)

var (
	ErrSessionExpired = errors.New("session expired")
	ErrInvalidState   = errors.New("oauth state invalid or expired")
	ErrInvalidInput   = errors.New("invalid input")
)

// Directory is the account and profile data the service needs. *records.Store
// implements it. Lookups return records.ErrNotFound for missing rows.
type Directory interface {
	GetProfile(ctx context.Context, id string) (*manpower.Profile, error)
	UpsertProfile(ctx context.Context, p manpower.Profile) error
	EmployeeExists(ctx context.Context, id string) (bool, error)
	UpsertEmployee(ctx context.Context, e manpower.EmployeeRecord) error

	GetUserByEmail(ctx context.Context, email string) (records.User, error)
	SetPasswordHash(ctx context.Context, userID, hash string) error
	LinkIdentity(ctx context.Context, provider, subject, email string) (string, error)
	RegisterAccount(ctx context.Context, email, passwordHash string, e manpower.EmployeeRecord) (string, error)
}

type Config struct {
	Prefix     string
	SessionTTL time.Duration
	StateTTL   time.Duration
	// RefreshSkew is how long before access-token expiry a subscription refreshes.
	RefreshSkew time.Duration
}

func DefaultConfig() Config {
	return Config{
		Prefix:      "mp",
		SessionTTL:  7 * 24 * time.Hour,
		StateTTL:    10 * time.Minute,
		RefreshSkew: 30 * time.Second,
	}
}

// Deps are the collaborators of a Service. Providers may be nil.
type Deps struct {
	Redis     redis.UniversalClient
	Directory Directory
	Tokens    *jwt.Manager
	Hasher    *password.Argon2
	Limiter   *rate.Limiter
	Providers *oauth.Registry
	Logger    *slog.Logger
}

type Service struct {
	rdb       redis.UniversalClient
	dir       Directory
	sessions  *session.Store
	notifier  *session.Notifier
	tokens    *jwt.Manager
	hasher    *password.Argon2
	limiter   *rate.Limiter
	providers *oauth.Registry
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time

	// dummyHash is verified against when an account does not exist.
	dummyHash string
}

func NewService(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Redis == nil:
		return nil, errors.New("backend: redis client required")
	case deps.Directory == nil:
		return nil, errors.New("backend: directory required")
	case deps.Tokens == nil:
		return nil, errors.New("backend: token manager required")
	case deps.Hasher == nil:
		return nil, errors.New("backend: password hasher required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "mp"
	}
	if cfg.SessionTTL <= 0 || cfg.StateTTL <= 0 {
		return nil, errors.New("backend: ttls must be positive")
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Limiter == nil {
		deps.Limiter = rate.New(deps.Redis, rate.Config{Prefix: cfg.Prefix, MaxLoginAttempts: 5, LoginCooldownDuration: 15 * time.Minute})
	}

	dummy, err := deps.Hasher.Hash("placeholder-password")
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}

	return &Service{
		rdb:       deps.Redis,
		dir:       deps.Directory,
		sessions:  session.NewStore(deps.Redis, cfg.Prefix),
		notifier:  session.NewNotifier(deps.Redis, cfg.Prefix),
		tokens:    deps.Tokens,
		hasher:    deps.Hasher,
		limiter:   deps.Limiter,
		providers: deps.Providers,
		logger:    deps.Logger,
		cfg:       cfg,
		now:       time.Now,
		dummyHash: dummy,
	}, nil
}

// Client returns the store view for one browsing context.
func (s *Service) Client(clientID string) *Client {
	return &Client{svc: s, id: clientID}
}

// Providers lists the configured federated providers.
func (s *Service) Providers() []string {
	return s.providers.Names()
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}
	return nil
}

// RegisterInput is the self sign-up form. RoleHint is accepted for form
// compatibility and ignored: self sign-up always creates an employee.
type RegisterInput struct {
	Email         string
	Password      string
	FullName      string
	Department    string
	ContactNumber string
	RoleHint      string
}

// Register creates a password account with its profile and employee rows.
func (s *Service) Register(ctx context.Context, in RegisterInput) (string, error) {
	email := strings.TrimSpace(in.Email)
	name := strings.TrimSpace(in.FullName)
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if name == "" {
		return "", fmt.Errorf("%w: full name", ErrInvalidInput)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if in.RoleHint != "" && in.RoleHint != string(manpower.RoleEmployee) {
		s.logger.Info("ignoring role hint on self sign-up", "role_hint", in.RoleHint)
	}
	rec := manpower.EmployeeRecord{
		FullName:      name,
		Email:         email,
		Role:          manpower.RoleEmployee,
		Department:    optional(in.Department),
		ContactNumber: optional(in.ContactNumber),
		Status:        manpower.StatusActive,
	}

	id, err := s.dir.RegisterAccount(ctx, email, hash, rec)
	if err != nil {
		if errors.Is(err, records.ErrEmailTaken) {
			return "", manpower.ErrEmailTaken
		}
		return "", fmt.Errorf("%w: register: %v", manpower.ErrStoreUnavailable, err)
	}
	s.logger.Info("account registered", "user_id", id)
	return id, nil
}

// CreateAdmin registers an account and promotes it. Only operators reach this.
func (s *Service) CreateAdmin(ctx context.Context, in RegisterInput) (string, error) {
	id, err := s.Register(ctx, in)
	if err != nil {
		return "", err
	}
	if err := s.dir.UpsertProfile(ctx, manpower.Profile{ID: id, FullName: strings.TrimSpace(in.FullName), Role: manpower.RoleAdmin}); err != nil {
		return "", fmt.Errorf("%w: promote: %v", manpower.ErrStoreUnavailable, err)
	}
	return id, nil
}

// RevokeUser ends every session of a user and notifies their clients.
func (s *Service) RevokeUser(ctx context.Context, userID string) (int, error) {
	ids, err := s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}
	for _, sid := range ids {
		s.publish(ctx, session.Event{Kind: session.EventSignedOut, SessionID: sid, UserID: userID})
	}
	return len(ids), nil
}

// ActiveSessions lists the session IDs a user currently holds.
func (s *Service) ActiveSessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.sessions.ActiveSessionIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}
	return ids, nil
}

// issue creates a session record, signs an access token and stores both in
// the client's storage.
func (s *Service) issue(ctx context.Context, clientID, userID, email, provider, name string, providerToken *oauth2.Token) (*manpower.Session, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	refresh, err := internal.EncodeRefreshToken(sid.String(), secret)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &session.Record{
		SessionID:   sid.String(),
		UserID:      userID,
		Email:       email,
		Provider:    provider,
		FullName:    name,
		RefreshHash: internal.HashRefreshSecret(secret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(s.cfg.SessionTTL).Unix(),
	}
	if err := s.sessions.Save(ctx, rec, s.cfg.SessionTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}

	access, exp, err := s.tokens.CreateAccess(userID, rec.SessionID, email, provider, name)
	if err != nil {
		return nil, err
	}
	if err := s.writeStorage(ctx, clientID, storage{Access: access, Refresh: refresh, SessionID: rec.SessionID}); err != nil {
		return nil, err
	}
	if providerToken != nil && providerToken.AccessToken != "" {
		if err := s.rdb.Set(ctx, s.providerTokenKey(rec.SessionID), providerToken.AccessToken, s.cfg.SessionTTL).Err(); err != nil {
			s.logger.Warn("storing provider token failed", "session_id", rec.SessionID, "error", err)
		}
	}

	s.publish(ctx, session.Event{Kind: session.EventSignedIn, ClientID: clientID, SessionID: rec.SessionID, UserID: userID})
	return &manpower.Session{
		ID:          rec.SessionID,
		Subject:     userID,
		Email:       email,
		Provider:    provider,
		FullName:    name,
		IssuedAt:    now,
		ExpiresAt:   exp,
		AccessToken: access,
	}, nil
}

func (s *Service) publish(ctx context.Context, ev session.Event) {
	ev.At = s.now().UTC()
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.logger.Warn("publishing session event failed", "kind", string(ev.Kind), "error", err)
	}
}

func (s *Service) providerTokenKey(sessionID string) string {
	return s.cfg.Prefix + ":ptok:" + sessionID
}

func (s *Service) stateKey(state string) string {
	return s.cfg.Prefix + ":oauth:" + state
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
