package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/tickerdesk/internal/portal/identity"
	"finitefield.org/tickerdesk/internal/portal/observability"
	appsession "finitefield.org/tickerdesk/internal/portal/session"
)

// TokenCookieName carries the backend-issued ID token between requests.
const TokenCookieName = "tickerdesk_token"

type authContextKey string

const userContextKey authContextKey = "auth.user"

// TokenVerifier resolves a bearer token into a user.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*identity.User, error)
}

// Auth validates incoming requests and either attaches the user to the context or
// redirects to the sign-in page.
func Auth(verifier TokenVerifier, loginPath string) func(http.Handler) http.Handler {
	if verifier == nil {
		panic("token verifier is required")
	}
	if loginPath == "" {
		loginPath = "/signin"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := observability.FromContext(r.Context())

			user, reason, err := Authenticate(r, verifier)
			if err != nil {
				logger.Info("auth failure", zap.String("reason", reason), zap.Error(err))
				destroySession(r.Context())
				handleUnauthorized(w, r, loginPath, reason)
				return
			}

			if sess, ok := SessionFromContext(r.Context()); ok {
				sess.SetUser(SessionUser(user))
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate verifies the token carried by the request. On failure it returns the
// reason code alongside the error.
func Authenticate(r *http.Request, verifier TokenVerifier) (*identity.User, string, error) {
	token := parseBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = cookieToken(r)
	}
	if token == "" {
		return nil, identity.ReasonMissingToken, identity.ErrUnauthorized
	}

	user, err := verifier.Verify(r.Context(), token)
	if err != nil || user == nil {
		if err == nil {
			err = identity.ErrUnauthorized
		}
		return nil, identity.ReasonOf(err), err
	}
	return user, "", nil
}

// SessionUser converts a verified user into its session representation.
func SessionUser(user *identity.User) *appsession.User {
	if user == nil {
		return nil
	}
	return &appsession.User{
		UID:         user.UID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Roles:       append([]string(nil), user.Roles...),
	}
}

// UserFromContext retrieves the authenticated user if present.
func UserFromContext(ctx context.Context) (*identity.User, bool) {
	user, ok := ctx.Value(userContextKey).(*identity.User)
	return user, ok && user != nil
}

func parseBearerToken(header string) string {
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func cookieToken(r *http.Request) string {
	for _, name := range []string{TokenCookieName, "__session"} {
		c, err := r.Cookie(name)
		if err != nil {
			continue
		}
		if val := strings.TrimSpace(c.Value); val != "" {
			return val
		}
	}
	return ""
}

func handleUnauthorized(w http.ResponseWriter, r *http.Request, loginPath, reason string) {
	if reason == "" {
		reason = identity.ReasonTokenInvalid
	}

	redirectURL := loginPath
	if u, err := url.Parse(loginPath); err == nil {
		q := u.Query()
		if reason != identity.ReasonMissingToken {
			q.Set("reason", reason)
		}
		if r.Method == http.MethodGet && r.URL.Path != "" && r.URL.Path != "/" {
			q.Set("next", r.URL.RequestURI())
		}
		u.RawQuery = q.Encode()
		redirectURL = u.String()
	}

	if IsHTMXRequest(r.Context()) {
		if reason == identity.ReasonTokenExpired {
			w.Header().Set("HX-Refresh", "true")
		} else {
			w.Header().Set("HX-Redirect", redirectURL)
		}
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func destroySession(ctx context.Context) {
	if sess, ok := SessionFromContext(ctx); ok {
		sess.Destroy()
	}
}
