// Package httpserver wires the portal routes, middleware and handlers.
package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	custommw "finitefield.org/tickerdesk/internal/portal/httpserver/middleware"
	"finitefield.org/tickerdesk/internal/portal/identity"
	"finitefield.org/tickerdesk/internal/portal/observability"
	"finitefield.org/tickerdesk/internal/portal/submission"
	"finitefield.org/tickerdesk/public"
)

const (
	signInPath  = "/signin"
	logoutPath  = "/logout"
	landingPath = "/"
)

// Config holds runtime options for the portal HTTP server.
type Config struct {
	Address      string
	Environment  string
	Logger       *zap.Logger
	Backend      identity.Backend
	Sessions     custommw.SessionStore
	Submissions  submission.Registry
	LoginTimeout time.Duration

	CookieSecure   bool
	CSRFCookieName string
	CSRFHeaderName string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New constructs the HTTP server with middleware stack and embedded assets.
func New(cfg Config) *http.Server {
	if cfg.Backend == nil {
		panic("httpserver: authentication backend is required")
	}
	if cfg.Sessions == nil {
		panic("httpserver: session store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	submissions := cfg.Submissions
	if submissions == nil {
		submissions = submission.NewMemoryRegistry()
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(observability.InjectLoggerMiddleware(logger))
	router.Use(observability.TraceMiddleware())
	router.Use(observability.RequestLoggerMiddleware())
	router.Use(chimw.Recoverer)

	staticContent, err := public.StaticFS()
	if err != nil {
		logger.Fatal("embed static", zap.Error(err))
	}
	router.Handle("/public/static/*", http.StripPrefix("/public/static/", http.FileServer(http.FS(staticContent))))
	router.Get("/healthz", healthz)

	handlers := newSigninHandlers(signinOptions{
		Backend:      cfg.Backend,
		Submissions:  submissions,
		LoginTimeout: cfg.LoginTimeout,
		CookieSecure: cfg.CookieSecure,
	})

	mountPortalRoutes(router, handlers, routeOptions{
		Sessions:    cfg.Sessions,
		Environment: cfg.Environment,
		CSRF: custommw.CSRFConfig{
			CookieName: cfg.CSRFCookieName,
			HeaderName: cfg.CSRFHeaderName,
			Secure:     cfg.CookieSecure,
		},
	})

	return &http.Server{
		Addr:         firstNonEmpty(cfg.Address, ":8080"),
		Handler:      router,
		ReadTimeout:  durationOr(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout: durationOr(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  60 * time.Second,
	}
}

type routeOptions struct {
	Sessions    custommw.SessionStore
	Environment string
	CSRF        custommw.CSRFConfig
}

func mountPortalRoutes(router chi.Router, h *signinHandlers, opts routeOptions) {
	router.Group(func(r chi.Router) {
		r.Use(custommw.Session(opts.Sessions))
		r.Use(custommw.Environment(opts.Environment))
		r.Use(custommw.HTMX())
		r.Use(custommw.NoStore())
		r.Use(custommw.CSRF(opts.CSRF))

		r.Get(signInPath, h.SignInForm)
		r.Post(signInPath, h.SignInSubmit)
		r.Post(logoutPath, h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(custommw.Auth(h.backend, signInPath))
			r.Get(landingPath, h.Home)
		})
	})
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
