// Package config loads portal settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile        = ".env"
	defaultHTTPAddr       = ":8080"
	defaultEnvironment    = "Development"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultSessionIdle    = 30 * time.Minute
	defaultSessionLife    = 12 * time.Hour
	defaultLoginTimeout   = 15 * time.Second
	defaultLocalTokenTTL  = 12 * time.Hour
	defaultCSRFCookieName = "tickerdesk_csrf"

	minSessionHashKey = 32
	minTokenSecret    = 32

	// loginResponseHeadroom is the write budget kept for rendering the timeout page.
	loginResponseHeadroom = 5 * time.Second
)

// Authentication backends.
const (
	BackendLocal    = "local"
	BackendFirebase = "firebase"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Session     SessionConfig
	Auth        AuthConfig
	Redis       RedisConfig
	CSRF        CSRFConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SessionConfig controls the signed session cookie.
type SessionConfig struct {
	HashKey      []byte
	BlockKey     []byte
	CookieSecure bool
	IdleTimeout  time.Duration
	Lifetime     time.Duration
}

// AuthConfig selects and configures the authentication backend.
type AuthConfig struct {
	Backend      string
	LoginTimeout time.Duration
	Firebase     FirebaseConfig
	Local        LocalConfig
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	APIKey          string
	CredentialsFile string
}

// LocalConfig configures the development account file backend.
type LocalConfig struct {
	AccountsFile string
	TokenSecret  []byte
	TokenTTL     time.Duration
}

// RedisConfig enables the shared in-flight submission registry when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CSRFConfig names the double-submit cookie.
type CSRFConfig struct {
	CookieName string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration from defaults, the .env file, the process environment
// and explicit overrides, in increasing order of precedence.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	cfg := Config{
		Environment: stringWithDefault(lookup, "PORTAL_ENVIRONMENT", defaultEnvironment),
		LogLevel:    stringWithDefault(lookup, "LOG_LEVEL", "info"),
		Server: ServerConfig{
			Addr:         stringWithDefault(lookup, "PORTAL_HTTP_ADDR", defaultHTTPAddr),
			ReadTimeout:  durationWithDefault(lookup, "PORTAL_HTTP_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "PORTAL_HTTP_WRITE_TIMEOUT", defaultWriteTimeout),
		},
		Session: SessionConfig{
			HashKey:      []byte(stringWithDefault(lookup, "PORTAL_SESSION_HASH_KEY", "")),
			BlockKey:     []byte(stringWithDefault(lookup, "PORTAL_SESSION_BLOCK_KEY", "")),
			CookieSecure: boolWithDefault(lookup, "PORTAL_SESSION_COOKIE_SECURE", false),
			IdleTimeout:  durationWithDefault(lookup, "PORTAL_SESSION_IDLE_TIMEOUT", defaultSessionIdle),
			Lifetime:     durationWithDefault(lookup, "PORTAL_SESSION_LIFETIME", defaultSessionLife),
		},
		Auth: AuthConfig{
			Backend:      strings.ToLower(stringWithDefault(lookup, "PORTAL_AUTH_BACKEND", BackendLocal)),
			LoginTimeout: durationWithDefault(lookup, "PORTAL_LOGIN_TIMEOUT", defaultLoginTimeout),
			Firebase: FirebaseConfig{
				ProjectID:       stringWithDefault(lookup, "PORTAL_FIREBASE_PROJECT_ID", ""),
				APIKey:          stringWithDefault(lookup, "PORTAL_FIREBASE_API_KEY", ""),
				CredentialsFile: stringWithDefault(lookup, "PORTAL_FIREBASE_CREDENTIALS_FILE", ""),
			},
			Local: LocalConfig{
				AccountsFile: stringWithDefault(lookup, "PORTAL_LOCAL_ACCOUNTS_FILE", ""),
				TokenSecret:  []byte(stringWithDefault(lookup, "PORTAL_LOCAL_TOKEN_SECRET", "")),
				TokenTTL:     durationWithDefault(lookup, "PORTAL_LOCAL_TOKEN_TTL", defaultLocalTokenTTL),
			},
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "PORTAL_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "PORTAL_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "PORTAL_REDIS_DB", 0),
		},
		CSRF: CSRFConfig{
			CookieName: stringWithDefault(lookup, "PORTAL_CSRF_COOKIE_NAME", defaultCSRFCookieName),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var fields []string

	if len(cfg.Session.HashKey) < minSessionHashKey {
		fields = append(fields, "PORTAL_SESSION_HASH_KEY")
	}
	// The session cookie carries the last attempted email, so it must be encrypted.
	switch len(cfg.Session.BlockKey) {
	case 16, 24, 32:
	default:
		fields = append(fields, "PORTAL_SESSION_BLOCK_KEY")
	}
	// The failure page has to be written before the server write deadline.
	if cfg.Auth.LoginTimeout <= 0 || cfg.Auth.LoginTimeout+loginResponseHeadroom > cfg.Server.WriteTimeout {
		fields = append(fields, "PORTAL_LOGIN_TIMEOUT")
	}

	switch cfg.Auth.Backend {
	case BackendLocal:
		if cfg.Auth.Local.AccountsFile == "" {
			fields = append(fields, "PORTAL_LOCAL_ACCOUNTS_FILE")
		}
		if len(cfg.Auth.Local.TokenSecret) < minTokenSecret {
			fields = append(fields, "PORTAL_LOCAL_TOKEN_SECRET")
		}
	case BackendFirebase:
		if cfg.Auth.Firebase.ProjectID == "" {
			fields = append(fields, "PORTAL_FIREBASE_PROJECT_ID")
		}
		if cfg.Auth.Firebase.APIKey == "" {
			fields = append(fields, "PORTAL_FIREBASE_API_KEY")
		}
	default:
		fields = append(fields, "PORTAL_AUTH_BACKEND")
	}

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
