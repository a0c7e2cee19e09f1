package testutil

import (
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"finitefield.org/tickerdesk/internal/portal/httpserver"
	"finitefield.org/tickerdesk/internal/portal/identity"
	appsession "finitefield.org/tickerdesk/internal/portal/session"
	"finitefield.org/tickerdesk/internal/portal/submission"
)

// Test account accepted by the default backend.
const (
	TraderEmail    = "trader@example.com"
	TraderPassword = "correct horse battery"
	TraderName     = "Test Trader"
)

// ServerOption customises the HTTP server configuration for tests.
type ServerOption func(*httpserver.Config)

// WithBackend overrides the authentication backend.
func WithBackend(backend identity.Backend) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Backend = backend
	}
}

// WithSubmissions overrides the in-flight submission registry.
func WithSubmissions(registry submission.Registry) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Submissions = registry
	}
}

// WithLoginTimeout bounds each login dispatch.
func WithLoginTimeout(d time.Duration) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.LoginTimeout = d
	}
}

// WithEnvironment sets the environment label shown in the page chrome.
func WithEnvironment(env string) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Environment = env
	}
}

// NewLocalBackend returns a development backend holding the test trader account.
func NewLocalBackend(t testing.TB) *identity.LocalBackend {
	t.Helper()

	hash, err := identity.HashPassword(TraderPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	backend, err := identity.NewLocalBackend([]identity.Account{{
		UID:          "trader-1",
		Email:        TraderEmail,
		DisplayName:  TraderName,
		PasswordHash: hash,
		Roles:        []string{"trader"},
	}}, []byte("integration-test-secret-integration-test"))
	if err != nil {
		t.Fatalf("local backend: %v", err)
	}
	return backend
}

// NewServer constructs an httptest server running the portal HTTP stack with sensible defaults.
func NewServer(t testing.TB, opts ...ServerOption) *httptest.Server {
	t.Helper()

	sessions, err := appsession.NewManager(appsession.Config{
		CookieName: "test_session",
		HashKey:    []byte("12345678901234567890123456789012"),
		BlockKey:   []byte("abcdefghijklmnopqrstuvwxyzABCDEF"),
	})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}

	cfg := httpserver.Config{
		Address:        ":0",
		Environment:    "Test",
		Sessions:       sessions,
		Submissions:    submission.NewMemoryRegistry(),
		LoginTimeout:   5 * time.Second,
		CSRFCookieName: "test_csrf",
		CSRFHeaderName: "X-CSRF-Token",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Backend == nil {
		cfg.Backend = NewLocalBackend(t)
	}

	srv := httpserver.New(cfg)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

// NewClient returns a cookie-keeping client that does not follow redirects.
func NewClient(t testing.TB) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
