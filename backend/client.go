package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/internal"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/internal/rate"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/oauth"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/records"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/session"
)

// Client is the session store of one browsing context.
type Client struct {
	svc *Service
	id  string
}

var (
	_ manpower.SessionStore       = (*Client)(nil)
	_ manpower.FederatedSignOuter = (*Client)(nil)
)

func (c *Client) ID() string { return c.id }

// CurrentSession returns the stored session, refreshing an expired access
// token. It returns nil without error when the client holds no live session.
func (c *Client) CurrentSession(ctx context.Context) (*manpower.Session, error) {
	st, ok, err := c.svc.readStorage(ctx, c.id)
	if err != nil || !ok {
		return nil, err
	}

	claims, err := c.svc.tokens.ParseAccess(st.Access)
	switch {
	case err == nil && claims.SID == st.SessionID:
	case errors.Is(err, gjwt.ErrTokenExpired):
		sess, rerr := c.Refresh(ctx)
		if errors.Is(rerr, ErrSessionExpired) {
			return nil, nil
		}
		return sess, rerr
	default:
		_ = c.svc.clearStorage(ctx, c.id, st.SessionID)
		return nil, nil
	}

	rec, err := c.svc.sessions.Get(ctx, st.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			_ = c.svc.clearStorage(ctx, c.id, st.SessionID)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}

	return &manpower.Session{
		ID:          rec.SessionID,
		Subject:     rec.UserID,
		Email:       rec.Email,
		Provider:    rec.Provider,
		FullName:    rec.FullName,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
		AccessToken: st.Access,
	}, nil
}

// Refresh rotates the refresh secret and issues a new access token. A missing
// or replayed session clears storage and returns ErrSessionExpired.
func (c *Client) Refresh(ctx context.Context) (*manpower.Session, error) {
	st, ok, err := c.svc.readStorage(ctx, c.id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionExpired
	}
	sid, secret, err := internal.DecodeRefreshToken(st.Refresh)
	if err != nil || sid != st.SessionID {
		_ = c.svc.clearStorage(ctx, c.id, st.SessionID)
		return nil, ErrSessionExpired
	}
	if err := c.svc.limiter.CheckRefresh(ctx, sid); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return nil, manpower.ErrRateLimited
		}
		return nil, fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}

	next, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	rec, err := c.svc.sessions.Rotate(ctx, sid, internal.HashRefreshSecret(secret), internal.HashRefreshSecret(next))
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrRefreshHashMismatch):
		_ = c.svc.clearStorage(ctx, c.id, sid)
		c.svc.publish(ctx, session.Event{Kind: session.EventSignedOut, ClientID: c.id, SessionID: sid})
		return nil, ErrSessionExpired
	default:
		return nil, fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}

	refresh, err := internal.EncodeRefreshToken(sid, next)
	if err != nil {
		return nil, err
	}
	access, exp, err := c.svc.tokens.CreateAccess(rec.UserID, sid, rec.Email, rec.Provider, rec.FullName)
	if err != nil {
		return nil, err
	}
	if err := c.svc.writeStorage(ctx, c.id, storage{Access: access, Refresh: refresh, SessionID: sid}); err != nil {
		return nil, err
	}

	c.svc.publish(ctx, session.Event{Kind: session.EventTokenRefreshed, ClientID: c.id, SessionID: sid, UserID: rec.UserID})
	return &manpower.Session{
		ID:          sid,
		Subject:     rec.UserID,
		Email:       rec.Email,
		Provider:    rec.Provider,
		FullName:    rec.FullName,
		IssuedAt:    c.svc.now(),
		ExpiresAt:   exp,
		AccessToken: access,
	}, nil
}

// SignInWithPassword checks credentials and establishes a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, pw string) (*manpower.Session, error) {
	email = strings.TrimSpace(email)
	ip := manpower.ClientIPFromContext(ctx)
	lim := c.svc.limiter

	if err := lim.CheckLogin(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return nil, manpower.ErrRateLimited
		}
		return nil, fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}

	user, err := c.svc.dir.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, records.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}

	hash := c.svc.dummyHash
	if err == nil && user.PasswordHash != nil {
		hash = *user.PasswordHash
	}
	match, verr := c.svc.hasher.Verify(pw, hash)
	if err != nil || user.PasswordHash == nil || verr != nil || !match {
		if ierr := lim.IncrementLogin(ctx, email, ip); errors.Is(ierr, rate.ErrRateLimited) {
			return nil, manpower.ErrRateLimited
		}
		return nil, manpower.ErrInvalidCredentials
	}
	_ = lim.ResetLogin(ctx, email)

	if upgrade, _ := c.svc.hasher.NeedsUpgrade(hash); upgrade {
		if rehashed, err := c.svc.hasher.Hash(pw); err == nil {
			if err := c.svc.dir.SetPasswordHash(ctx, user.ID, rehashed); err != nil {
				c.svc.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
			}
		}
	}

	var name string
	if p, err := c.svc.dir.GetProfile(ctx, user.ID); err == nil {
		name = p.FullName
	}
	return c.svc.issue(ctx, c.id, user.ID, user.Email, manpower.ProviderPassword, name, nil)
}

type oauthState struct {
	Provider string `json:"provider"`
	Verifier string `json:"verifier"`
	ClientID string `json:"client_id"`
}

// SignInWithProvider starts the authorization-code flow and returns the
// provider consent URL.
func (c *Client) SignInWithProvider(ctx context.Context, provider string) (string, error) {
	p, err := c.svc.providers.Get(provider)
	if err != nil {
		return "", fmt.Errorf("%w: %s", manpower.ErrUnknownProvider, provider)
	}

	state, err := internal.NewStateToken()
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()
	payload, err := json.Marshal(oauthState{Provider: p.Name(), Verifier: verifier, ClientID: c.id})
	if err != nil {
		return "", err
	}
	if err := c.svc.rdb.Set(ctx, c.svc.stateKey(state), payload, c.svc.cfg.StateTTL).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}
	return p.AuthCodeURL(state, verifier), nil
}

// CompleteProviderSignIn finishes the flow started by SignInWithProvider. The
// state is single use and bound to this client.
func (c *Client) CompleteProviderSignIn(ctx context.Context, state, code string) (*manpower.Session, error) {
	if state == "" || code == "" {
		return nil, ErrInvalidState
	}
	raw, err := c.svc.rdb.GetDel(ctx, c.svc.stateKey(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}
	var st oauthState
	if err := json.Unmarshal(raw, &st); err != nil || st.ClientID != c.id {
		return nil, ErrInvalidState
	}

	p, err := c.svc.providers.Get(st.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", manpower.ErrUnknownProvider, st.Provider)
	}
	id, tok, err := p.Exchange(ctx, code, st.Verifier)
	if err != nil {
		return nil, err
	}

	email := id.Email
	if !id.EmailVerified {
		email = ""
	}
	userID, err := c.svc.dir.LinkIdentity(ctx, id.Provider, id.Subject, email)
	if err != nil {
		return nil, fmt.Errorf("%w: link identity: %v", manpower.ErrStoreUnavailable, err)
	}
	return c.svc.issue(ctx, c.id, userID, email, id.Provider, id.Name, tok)
}

// SignOut ends the held session. Without one it does nothing.
func (c *Client) SignOut(ctx context.Context) error {
	st, ok, err := c.svc.readStorage(ctx, c.id)
	if err != nil || !ok {
		return err
	}
	if err := c.svc.sessions.Delete(ctx, st.SessionID); err != nil {
		return fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}
	// The provider token outlives the session briefly so a concurrent
	// FederatedSignOut can still revoke it.
	_ = c.svc.rdb.Expire(ctx, c.svc.providerTokenKey(st.SessionID), time.Minute).Err()
	if err := c.svc.clearStorage(ctx, c.id, ""); err != nil {
		return err
	}
	c.svc.publish(ctx, session.Event{Kind: session.EventSignedOut, ClientID: c.id, SessionID: st.SessionID})
	return nil
}

// FederatedSignOut revokes the provider token captured at sign-in.
func (c *Client) FederatedSignOut(ctx context.Context, s *manpower.Session) error {
	if s == nil || s.Provider == manpower.ProviderPassword {
		return nil
	}
	token, err := c.svc.rdb.GetDel(ctx, c.svc.providerTokenKey(s.ID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}
	p, err := c.svc.providers.Get(s.Provider)
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownProvider) {
			return nil
		}
		return err
	}
	return p.Revoke(ctx, token)
}

func (c *Client) GetProfile(ctx context.Context, subject string) (*manpower.Profile, error) {
	p, err := c.svc.dir.GetProfile(ctx, subject)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return nil, manpower.ErrProfileNotFound
		}
		return nil, fmt.Errorf("%w: %v", manpower.ErrStoreUnavailable, err)
	}
	return p, nil
}

func (c *Client) UpsertProfile(ctx context.Context, p manpower.Profile) error {
	return c.svc.dir.UpsertProfile(ctx, p)
}

func (c *Client) EmployeeExists(ctx context.Context, subject string) (bool, error) {
	return c.svc.dir.EmployeeExists(ctx, subject)
}

func (c *Client) UpsertEmployee(ctx context.Context, e manpower.EmployeeRecord) error {
	return c.svc.dir.UpsertEmployee(ctx, e)
}
