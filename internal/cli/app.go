package cli

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/backend"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/internal/envconfig"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/internal/logging"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/internal/rate"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/jwt"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/oauth"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/password"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/records"
)

var errNoDatabase = errors.New("DATABASE_URL is required")

// app holds the process-wide dependencies shared by the commands.
type app struct {
	cfg    envconfig.Config
	logger *slog.Logger
	rdb    *redis.Client
	store  *records.Store
}

func loadApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := envconfig.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errNoDatabase
	}
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		Format:  logging.ParseFormat(cfg.LogFormat),
		Service: "manpower",
	})

	store, err := records.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: store}, nil
}

// connectRedis opens the session store connection. Only commands touching
// sessions need it.
func (a *app) connectRedis(ctx context.Context) error {
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("ping redis: %w", err)
	}
	a.rdb = rdb
	return nil
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	a.store.Close()
}

// accounts builds the auth service over the open stores.
func (a *app) accounts(ctx context.Context) (*backend.Service, error) {
	if a.rdb == nil {
		if err := a.connectRedis(ctx); err != nil {
			return nil, err
		}
	}

	tokens, err := a.tokenManager()
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	limits := rate.DefaultConfig()
	limits.Prefix = a.cfg.KeyPrefix

	providers, err := a.providers(ctx)
	if err != nil {
		return nil, err
	}

	svcCfg := backend.DefaultConfig()
	svcCfg.Prefix = a.cfg.KeyPrefix
	svcCfg.SessionTTL = a.cfg.SessionTTL
	return backend.NewService(backend.Deps{
		Redis:     a.rdb,
		Directory: a.store,
		Tokens:    tokens,
		Hasher:    hasher,
		Limiter:   rate.New(a.rdb, limits),
		Providers: providers,
		Logger:    a.logger.With("component", "accounts"),
	}, svcCfg)
}

// tokenManager signs access tokens with the configured key. Without any
// configured HS256 secret an ephemeral one is generated.
func (a *app) tokenManager() (*jwt.Manager, error) {
	cfg := jwt.Config{
		AccessTTL: a.cfg.AccessTTL,
		Issuer:    a.cfg.JWTIssuer,
		KeyID:     a.cfg.JWTKeyID,
	}

	if jwt.SigningMethod(a.cfg.JWTSigningMethod) == jwt.MethodEd25519 {
		priv, err := os.ReadFile(a.cfg.JWTPrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read JWT_PRIVATE_KEY_FILE: %w", err)
		}
		pub, err := jwt.Ed25519PublicKey(priv)
		if err != nil {
			return nil, err
		}
		cfg.SigningMethod, cfg.PrivateKey, cfg.PublicKey = jwt.MethodEd25519, priv, pub
		if len(a.cfg.JWTVerifyKeyFiles) > 0 {
			cfg.VerifyKeys = map[string][]byte{cfg.KeyID: pub}
			for kid, path := range a.cfg.JWTVerifyKeyFiles {
				key, err := os.ReadFile(path)
				if err != nil {
					return nil, fmt.Errorf("read verify key %s: %w", kid, err)
				}
				cfg.VerifyKeys[kid] = key
			}
		}
		return jwt.NewManager(cfg)
	}

	secret := []byte(a.cfg.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		a.logger.Warn("JWT_SECRET not set; using an ephemeral key, sessions end on restart")
	}
	cfg.SigningMethod, cfg.PrivateKey = jwt.MethodHS256, secret
	return jwt.NewManager(cfg)
}

func (a *app) providers(ctx context.Context) (*oauth.Registry, error) {
	redirect := a.cfg.OAuthRedirectURL
	if redirect == "" {
		redirect = "http://localhost" + a.cfg.Addr() + "/api/auth/callback"
	}

	var list []*oauth.Provider
	for name, p := range a.cfg.OAuth {
		if !p.Enabled() {
			continue
		}
		pc := oauth.Config{
			Name:         name,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  redirect,
			Issuer:       p.Issuer,
			AuthURL:      p.AuthURL,
			TokenURL:     p.TokenURL,
			UserInfoURL:  p.UserInfoURL,
			RevokeURL:    p.RevokeURL,
			Scopes:       p.Scopes,
		}.Merge(oauth.Defaults(name))
		provider, err := oauth.NewProvider(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("oauth provider %s: %w", name, err)
		}
		list = append(list, provider)
		a.logger.Info("oauth provider enabled", "provider", name)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return oauth.NewRegistry(list...), nil
}
