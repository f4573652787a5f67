package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	ErrUnknownProvider  = errors.New("unknown oauth provider")
	ErrExchangeFailed   = errors.New("oauth code exchange failed")
	ErrIdentityRejected = errors.New("oauth identity rejected")
	ErrRevokeFailed     = errors.New("oauth token revocation failed")
)

// Identity is what a provider tells us about the account that signed in.
// Email is empty when the provider did not release one.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Config describes one provider. With Issuer set and AuthURL empty, endpoints
// come from OIDC discovery.
type Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Issuer       string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RevokeURL    string
	// RevokeMethod is "POST" (RFC 7009 form) or "DELETE" (token in query).
	RevokeMethod string
	Scopes       []string
	AuthParams   map[string]string
}

// Defaults returns the well-known settings for google and facebook.
func Defaults(name string) Config {
	switch name {
	case "google":
		return Config{
			Name:         "google",
			Issuer:       "https://accounts.google.com",
			RevokeURL:    "https://oauth2.googleapis.com/revoke",
			RevokeMethod: http.MethodPost,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			AuthParams:   map[string]string{"prompt": "select_account"},
		}
	case "facebook":
		return Config{
			Name:         "facebook",
			AuthURL:      "https://www.facebook.com/v19.0/dialog/oauth",
			TokenURL:     "https://graph.facebook.com/v19.0/oauth/access_token",
			UserInfoURL:  "https://graph.facebook.com/me?fields=id,name,email",
			RevokeURL:    "https://graph.facebook.com/me/permissions",
			RevokeMethod: http.MethodDelete,
			Scopes:       []string{"public_profile", "email"},
		}
	default:
		return Config{Name: name}
	}
}

// Merge fills empty fields of c from base.
func (c Config) Merge(base Config) Config {
	pick := func(v, fallback string) string {
		if v != "" {
			return v
		}
		return fallback
	}
	out := c
	out.Name = pick(c.Name, base.Name)
	out.Issuer = pick(c.Issuer, base.Issuer)
	out.AuthURL = pick(c.AuthURL, base.AuthURL)
	out.TokenURL = pick(c.TokenURL, base.TokenURL)
	out.UserInfoURL = pick(c.UserInfoURL, base.UserInfoURL)
	out.RevokeURL = pick(c.RevokeURL, base.RevokeURL)
	out.RevokeMethod = pick(c.RevokeMethod, base.RevokeMethod)
	if len(out.Scopes) == 0 {
		out.Scopes = base.Scopes
	}
	if out.AuthParams == nil {
		out.AuthParams = base.AuthParams
	}
	return out
}

type Provider struct {
	name        string
	oauth       *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	userInfoURL string
	revokeURL   string
	revokeVerb  string
	authOpts    []oauth2.AuthCodeOption
	httpClient  *http.Client
}

type Option func(*Provider)

// WithVerifier replaces the discovered ID-token verifier.
func WithVerifier(v *oidc.IDTokenVerifier) Option {
	return func(p *Provider) { p.verifier = v }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// NewProvider builds a provider, running OIDC discovery when needed.
func NewProvider(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	if cfg.Name == "" || cfg.ClientID == "" {
		return nil, errors.New("oauth provider needs a name and client id")
	}

	p := &Provider{
		name:        cfg.Name,
		userInfoURL: cfg.UserInfoURL,
		revokeURL:   cfg.RevokeURL,
		revokeVerb:  strings.ToUpper(cfg.RevokeMethod),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.revokeVerb == "" {
		p.revokeVerb = http.MethodPost
	}

	endpoint := oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL}
	if cfg.Issuer != "" && cfg.AuthURL == "" {
		discovered, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("oidc discovery for %s: %w", cfg.Name, err)
		}
		endpoint = discovered.Endpoint()
		if p.verifier == nil {
			p.verifier = discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID})
		}
		if p.userInfoURL == "" {
			var claims struct {
				UserInfo string `json:"userinfo_endpoint"`
			}
			if err := discovered.Claims(&claims); err == nil {
				p.userInfoURL = claims.UserInfo
			}
		}
	}
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		return nil, fmt.Errorf("oauth provider %s has no endpoints", cfg.Name)
	}

	p.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       cfg.Scopes,
	}

	keys := make([]string, 0, len(cfg.AuthParams))
	for k := range cfg.AuthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.authOpts = append(p.authOpts, oauth2.SetAuthURLParam(k, cfg.AuthParams[k]))
	}

	return p, nil
}

func (p *Provider) Name() string { return p.name }

// AuthCodeURL returns the consent URL for state, bound to the PKCE verifier.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	opts := append([]oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}, p.authOpts...)
	return p.oauth.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for tokens and resolves the identity.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (Identity, *oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Identity{}, nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" && p.verifier != nil {
		id, err := p.identityFromIDToken(ctx, raw)
		return id, tok, err
	}
	if p.userInfoURL == "" {
		return Identity{}, nil, fmt.Errorf("%w: no id_token and no user-info endpoint", ErrIdentityRejected)
	}
	id, err := p.identityFromUserInfo(ctx, tok)
	return id, tok, err
}

func (p *Provider) identityFromIDToken(ctx context.Context, raw string) (Identity, error) {
	idToken, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrIdentityRejected, err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrIdentityRejected, err)
	}
	return Identity{
		Provider:      p.name,
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}

func (p *Provider) identityFromUserInfo(ctx context.Context, tok *oauth2.Token) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Identity{}, err
	}
	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrIdentityRejected, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("%w: user-info status %d", ErrIdentityRejected, resp.StatusCode)
	}

	var info struct {
		Sub           string `json:"sub"`
		ID            string `json:"id"`
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrIdentityRejected, err)
	}
	subject := info.Sub
	if subject == "" {
		subject = info.ID
	}
	if subject == "" {
		return Identity{}, fmt.Errorf("%w: user-info has no subject", ErrIdentityRejected)
	}
	// Providers without the claim only release confirmed addresses.
	verified := info.Email != ""
	if info.EmailVerified != nil {
		verified = *info.EmailVerified
	}
	return Identity{
		Provider:      p.name,
		Subject:       subject,
		Email:         info.Email,
		EmailVerified: verified,
		Name:          info.Name,
	}, nil
}

// Revoke ends the provider-side grant. Providers without a revocation
// endpoint succeed silently.
func (p *Provider) Revoke(ctx context.Context, token string) error {
	if p.revokeURL == "" || token == "" {
		return nil
	}

	var req *http.Request
	var err error
	switch p.revokeVerb {
	case http.MethodDelete:
		u, perr := url.Parse(p.revokeURL)
		if perr != nil {
			return perr
		}
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodDelete, u.String(), nil)
	default:
		form := url.Values{"token": {token}}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRevokeFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrRevokeFailed, resp.StatusCode)
	}
	return nil
}

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]*Provider
}

func NewRegistry(providers ...*Provider) *Registry {
	r := &Registry{providers: make(map[string]*Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (*Provider, error) {
	if r != nil {
		if p, ok := r.providers[name]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Names returns the provider names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
