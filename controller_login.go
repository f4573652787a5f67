package manpower

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Login signs in with email and password, then provisions the profile. A rejected
// sign-in returns *CredentialError and leaves State untouched.
func (c *Controller) Login(ctx context.Context, email, password string) (LoginResult, error) {
	if c.isClosed() {
		return LoginResult{}, ErrTornDown
	}

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return LoginResult{}, c.credentialFailure(ctx, email, &CredentialError{Message: "Email and password are required."})
	}

	since := c.signOutCount()
	sess, err := c.store.SignInWithPassword(ctx, email, password)
	if err != nil {
		return LoginResult{}, c.credentialFailure(ctx, email, classifySignInError(err))
	}
	if err := sess.Validate(); err != nil {
		return LoginResult{}, c.credentialFailure(ctx, email, &CredentialError{Message: "Unable to sign in right now.", Err: err})
	}
	if c.signOutCount() != since {
		return LoginResult{}, c.abandonLogin(ctx, sess)
	}

	c.inst.Metrics().Inc(MetricLoginSuccess)
	c.inst.emit(ctx, AuditLoginSuccess, sess, true, nil, nil)
	c.setLastError(nil)

	r, committed, started := c.resolveLogin(ctx, sess, since)
	if !started {
		return LoginResult{}, c.abandonLogin(ctx, sess)
	}
	if !committed {
		return LoginResult{}, ErrSuperseded
	}
	if r.identity != nil {
		return LoginResult{Session: sess.clone()}, r.identity
	}

	role := RoleNone
	if r.profile != nil {
		role = r.profile.Role
	}
	return LoginResult{
		Session:  sess.clone(),
		Profile:  r.profile.clone(),
		Landing:  c.policy.Landing(role),
		Degraded: r.degraded,
	}, nil
}

// resolveLogin resolves a fresh sign-in unless a logout landed while the
// credentials were being checked.
func (c *Controller) resolveLogin(ctx context.Context, sess *Session, since uint64) (r resolution, committed, started bool) {
	c.resolveMu.Lock()
	defer c.resolveMu.Unlock()
	gen, ok := c.beginUnlessSignedOut(EventSignedIn, sess, since)
	if !ok {
		return resolution{}, false, false
	}
	r, committed = c.run(ctx, EventSignedIn, sess, gen)
	return r, committed, true
}

// abandonLogin ends a session the store issued after the user had already
// logged out, so the logout wins.
func (c *Controller) abandonLogin(ctx context.Context, sess *Session) error {
	c.inst.Metrics().Inc(MetricStaleDiscarded)
	c.logger.Info("discarding sign-in that completed after logout", "session_id", sess.ID)
	if err := c.store.SignOut(ctx); err != nil {
		c.logger.Warn("session store sign out failed", "session_id", sess.ID, "error", err)
	}
	return ErrSuperseded
}

// LoginWithProvider asks the store for the identity provider's authorization URL.
// State is not changed; the redirect completes through a session notification.
func (c *Controller) LoginWithProvider(ctx context.Context, provider string) (string, error) {
	if c.isClosed() {
		return "", ErrTornDown
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		err := &CredentialError{Message: "Choose a sign-in provider.", Err: ErrUnknownProvider}
		c.setLastError(err)
		return "", err
	}

	redirectURL, err := c.store.SignInWithProvider(ctx, provider)
	if err != nil {
		credErr := &CredentialError{Message: "Unable to reach the sign-in provider.", Err: err}
		if errors.Is(err, ErrUnknownProvider) {
			credErr.Message = "Unsupported sign-in provider."
		}
		c.setLastError(credErr)
		c.logger.Warn("provider sign-in failed", "provider", provider, "error", err)
		return "", credErr
	}

	c.inst.Metrics().Inc(MetricProviderRedirect)
	c.inst.emit(ctx, AuditProviderRedirect, nil, true, nil, map[string]string{"provider": provider})
	return redirectURL, nil
}

// Logout clears local state first, so any in-flight resolution or sign-in is
// discarded, then asks the store to end the session. The store is asked even when
// no session is held locally, since it may hold one the controller never
// resolved. A federated sign-out runs in the background bounded by
// FederatedLogoutTimeout.
func (c *Controller) Logout(ctx context.Context) error {
	if c.isClosed() {
		return ErrTornDown
	}

	prev := c.clear()
	if prev != nil {
		c.inst.Metrics().Inc(MetricLogout)
		c.inst.emit(ctx, AuditLogout, prev, true, nil, nil)
		if fo, ok := c.store.(FederatedSignOuter); ok && prev.Provider != ProviderPassword {
			c.federatedSignOut(ctx, fo, prev)
		}
	}

	if err := c.store.SignOut(ctx); err != nil {
		c.logger.Warn("session store sign out failed", "had_session", prev != nil, "error", err)
		return fmt.Errorf("%w: sign out: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (c *Controller) federatedSignOut(ctx context.Context, fo FederatedSignOuter, s *Session) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FederatedLogoutTimeout)
		defer cancel()
		if err := fo.FederatedSignOut(fctx, s); err != nil {
			c.inst.Metrics().Inc(MetricFederatedLogoutFailure)
			c.logger.Warn("federated sign out failed", "provider", s.Provider, "error", err)
		}
	}()
}

func (c *Controller) credentialFailure(ctx context.Context, email string, err *CredentialError) error {
	if errors.Is(err, ErrRateLimited) {
		c.inst.Metrics().Inc(MetricLoginRateLimited)
	}
	c.inst.Metrics().Inc(MetricLoginFailure)
	c.inst.emit(ctx, AuditLoginFailure, nil, false, err, map[string]string{"email": email})
	c.setLastError(err)
	return err
}

func classifySignInError(err error) *CredentialError {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return &CredentialError{Message: "Invalid login credentials.", Err: err}
	case errors.Is(err, ErrRateLimited):
		return &CredentialError{Message: "Too many login attempts. Please try again later.", Err: err}
	default:
		return &CredentialError{Message: "Unable to sign in right now.", Err: err}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrProfileNotFound)
}

func asIdentityIncomplete(err error) *IdentityIncompleteError {
	var idErr *IdentityIncompleteError
	if errors.As(err, &idErr) {
		return idErr
	}
	return &IdentityIncompleteError{}
}
