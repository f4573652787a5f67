// Package envconfig loads process configuration for the manpower server.
//
// Sources are applied in order: defaults, an optional YAML file (with ${VAR}
// expansion), then environment variables. A .env file in the working directory
// is loaded into the environment first when present.
package envconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the variable pointing at an optional YAML file.
const ConfigPathEnv = "MANPOWER_CONFIG"

var ErrInvalidConfig = errors.New("invalid configuration")

// Provider configures one federated identity provider. Either Issuer (OIDC
// discovery) or AuthURL+TokenURL must be set.
type Provider struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Issuer       string   `yaml:"issuer,omitempty"`
	AuthURL      string   `yaml:"auth_url,omitempty"`
	TokenURL     string   `yaml:"token_url,omitempty"`
	UserInfoURL  string   `yaml:"userinfo_url,omitempty"`
	RevokeURL    string   `yaml:"revoke_url,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

func (p Provider) Enabled() bool { return p.ClientID != "" }

type Config struct {
	Port    string `yaml:"port"`
	DistDir string `yaml:"dist_dir"`

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	KeyPrefix   string `yaml:"key_prefix"`

	// JWTSigningMethod is hs256 (JWTSecret) or ed25519 (JWTPrivateKeyFile).
	JWTSigningMethod  string `yaml:"jwt_signing_method"`
	JWTSecret         string `yaml:"jwt_secret"`
	JWTPrivateKeyFile string `yaml:"jwt_private_key_file"`
	JWTKeyID          string `yaml:"jwt_key_id"`
	// JWTVerifyKeyFiles maps retired key IDs to public key PEM files so tokens
	// signed before a rotation stay valid until they expire.
	JWTVerifyKeyFiles map[string]string `yaml:"jwt_verify_key_files"`
	JWTIssuer         string            `yaml:"jwt_issuer"`
	AccessTTL         time.Duration     `yaml:"access_ttl"`
	SessionTTL        time.Duration     `yaml:"session_ttl"`

	CookieSecure  bool          `yaml:"cookie_secure"`
	ClientIdleTTL time.Duration `yaml:"client_idle_ttl"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// AuditLog writes controller audit events to the log.
	AuditLog bool `yaml:"audit_log"`
	// Metrics mounts the Prometheus handler at /metrics.
	Metrics bool `yaml:"metrics"`

	OAuthRedirectURL string              `yaml:"oauth_redirect_url"`
	OAuth            map[string]Provider `yaml:"oauth"`
}

// Default matches the original static host: port 3000 serving ./dist.
func Default() Config {
	return Config{
		Port:             "3000",
		DistDir:          "dist",
		RedisURL:         "redis://localhost:6379/0",
		KeyPrefix:        "mp",
		JWTSigningMethod: "hs256",
		JWTIssuer:        "manpower",
		AccessTTL:        15 * time.Minute,
		SessionTTL:       7 * 24 * time.Hour,
		ClientIdleTTL:    30 * time.Minute,
		LogLevel:         "info",
		LogFormat:        "json",
		AuditLog:         true,
		Metrics:          true,
		OAuth:            map[string]Provider{},
	}
}

// Load builds the configuration. path may be empty; MANPOWER_CONFIG is then consulted.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.OAuth == nil {
		cfg.OAuth = map[string]Provider{}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getenv("PORT", cfg.Port)
	cfg.DistDir = getenv("DIST_DIR", cfg.DistDir)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.KeyPrefix = getenv("KEY_PREFIX", cfg.KeyPrefix)
	cfg.JWTSigningMethod = strings.ToLower(getenv("JWT_SIGNING_METHOD", cfg.JWTSigningMethod))
	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTPrivateKeyFile = getenv("JWT_PRIVATE_KEY_FILE", cfg.JWTPrivateKeyFile)
	cfg.JWTKeyID = getenv("JWT_KEY_ID", cfg.JWTKeyID)
	cfg.JWTIssuer = getenv("JWT_ISSUER", cfg.JWTIssuer)
	cfg.AccessTTL = getenvDuration("ACCESS_TTL", cfg.AccessTTL)
	cfg.SessionTTL = getenvDuration("SESSION_TTL", cfg.SessionTTL)
	cfg.ClientIdleTTL = getenvDuration("CLIENT_IDLE_TTL", cfg.ClientIdleTTL)
	cfg.CookieSecure = getenvBool("COOKIE_SECURE", cfg.CookieSecure)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)
	cfg.AuditLog = getenvBool("AUDIT_LOG", cfg.AuditLog)
	cfg.Metrics = getenvBool("METRICS_ENABLED", cfg.Metrics)
	cfg.OAuthRedirectURL = getenv("OAUTH_REDIRECT_URL", cfg.OAuthRedirectURL)

	for _, name := range []string{"google", "facebook"} {
		p := cfg.OAuth[name]
		env := "OAUTH_" + strings.ToUpper(name) + "_"
		p.ClientID = getenv(env+"CLIENT_ID", p.ClientID)
		p.ClientSecret = getenv(env+"CLIENT_SECRET", p.ClientSecret)
		p.Issuer = getenv(env+"ISSUER", p.Issuer)
		p.AuthURL = getenv(env+"AUTH_URL", p.AuthURL)
		p.TokenURL = getenv(env+"TOKEN_URL", p.TokenURL)
		p.UserInfoURL = getenv(env+"USERINFO_URL", p.UserInfoURL)
		p.RevokeURL = getenv(env+"REVOKE_URL", p.RevokeURL)
		if p.Enabled() {
			cfg.OAuth[name] = p
		}
	}
}

// Validate checks values needed by every command. DatabaseURL is checked by
// the commands that open the database.
func (c Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("%w: PORT %q is not a number", ErrInvalidConfig, c.Port)
	}
	if c.DistDir == "" {
		return fmt.Errorf("%w: DIST_DIR is empty", ErrInvalidConfig)
	}
	if c.AccessTTL <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("%w: token lifetimes must be positive", ErrInvalidConfig)
	}
	if c.AccessTTL > c.SessionTTL {
		return fmt.Errorf("%w: ACCESS_TTL exceeds SESSION_TTL", ErrInvalidConfig)
	}
	switch c.JWTSigningMethod {
	case "hs256":
		if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
			return fmt.Errorf("%w: JWT_SECRET must be at least 32 bytes", ErrInvalidConfig)
		}
		if len(c.JWTVerifyKeyFiles) > 0 {
			return fmt.Errorf("%w: jwt_verify_key_files needs JWT_SIGNING_METHOD=ed25519", ErrInvalidConfig)
		}
	case "ed25519":
		if c.JWTPrivateKeyFile == "" {
			return fmt.Errorf("%w: JWT_PRIVATE_KEY_FILE is required for ed25519", ErrInvalidConfig)
		}
		if len(c.JWTVerifyKeyFiles) > 0 && c.JWTKeyID == "" {
			return fmt.Errorf("%w: JWT_KEY_ID is required with jwt_verify_key_files", ErrInvalidConfig)
		}
		if _, clash := c.JWTVerifyKeyFiles[c.JWTKeyID]; clash {
			return fmt.Errorf("%w: jwt_verify_key_files must not contain the current JWT_KEY_ID", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown JWT_SIGNING_METHOD %q", ErrInvalidConfig, c.JWTSigningMethod)
	}
	for name, p := range c.OAuth {
		if !p.Enabled() {
			continue
		}
		if p.Issuer == "" && (p.AuthURL == "" || p.TokenURL == "") {
			return fmt.Errorf("%w: oauth provider %s needs an issuer or auth/token URLs", ErrInvalidConfig, name)
		}
	}
	return nil
}

// Addr is the listen address for Port.
func (c Config) Addr() string { return ":" + c.Port }

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
