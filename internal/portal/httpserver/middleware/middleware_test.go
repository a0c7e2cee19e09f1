package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/tickerdesk/internal/portal/identity"
)

type stubVerifier struct {
	token string
	user  *identity.User
	err   error
}

func (s *stubVerifier) Verify(_ context.Context, token string) (*identity.User, error) {
	if token != s.token {
		return nil, identity.ErrUnauthorized
	}
	return s.user, s.err
}

func TestAuthMiddleware(t *testing.T) {
	verifier := &stubVerifier{
		token: "valid",
		user:  &identity.User{UID: "user-1", Email: "trader@example.com"},
	}

	handler := HTMX()(Auth(verifier, "/signin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok, "expected user in context")
		require.Equal(t, "user-1", user.UID)
		w.WriteHeader(http.StatusOK)
	})))

	t.Run("missing token redirects", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusFound, rr.Code)
		require.Equal(t, "/signin", rr.Header().Get("Location"))
	})

	t.Run("deep link is preserved as next", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/watchlists?tab=fx", nil))
		require.Equal(t, http.StatusFound, rr.Code)
		loc, err := url.Parse(rr.Header().Get("Location"))
		require.NoError(t, err)
		require.Equal(t, "/signin", loc.Path)
		require.Equal(t, "/watchlists?tab=fx", loc.Query().Get("next"))
	})

	t.Run("htmx unauthorized returns 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("HX-Request", "true")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.Equal(t, "/signin", rr.Header().Get("HX-Redirect"))
	})

	t.Run("valid bearer token passes through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer valid")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("token from cookie passes through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "valid"})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("invalid token carries reason", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "forged"})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusFound, rr.Code)
		require.Equal(t, "/signin?reason=token_invalid", rr.Header().Get("Location"))
	})

	t.Run("expired token triggers refresh header", func(t *testing.T) {
		verifier.err = identity.NewAuthError(identity.ReasonTokenExpired, errors.New("expired"))
		t.Cleanup(func() { verifier.err = nil })

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer valid")
		req.Header.Set("HX-Request", "true")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.Equal(t, "true", rr.Header().Get("HX-Refresh"))
	})
}

func TestParseBearerToken(t *testing.T) {
	require.Equal(t, "abc", parseBearerToken("Bearer abc"))
	require.Equal(t, "abc", parseBearerToken("bearer  abc "))
	require.Empty(t, parseBearerToken("Basic abc"))
	require.Empty(t, parseBearerToken("Bear"))
}

func TestCSRFMiddleware(t *testing.T) {
	mw := CSRF(CSRFConfig{CookieName: "csrf", HeaderName: "X-CSRF-Token"})
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("issues cookie on GET", func(t *testing.T) {
		rr := httptest.NewRecorder()
		mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NotEmpty(t, CSRFTokenFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/signin", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var found *http.Cookie
		for _, c := range rr.Result().Cookies() {
			if c.Name == "csrf" {
				found = c
			}
		}
		require.NotNil(t, found)
		require.NotEmpty(t, found.Value)
		require.Equal(t, http.SameSiteStrictMode, found.SameSite)
	})

	t.Run("rejects unsafe request without token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/signin", nil)
		req.AddCookie(&http.Cookie{Name: "csrf", Value: "token"})
		rr := httptest.NewRecorder()
		mw(ok).ServeHTTP(rr, req)
		require.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("allows unsafe request with matching header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/signin", nil)
		req.AddCookie(&http.Cookie{Name: "csrf", Value: "token"})
		req.Header.Set("X-CSRF-Token", "token")
		rr := httptest.NewRecorder()
		mw(ok).ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("allows form post with matching field", func(t *testing.T) {
		form := url.Values{CSRFFormField: {"token"}, "email": {"a@b.com"}}
		req := httptest.NewRequest(http.MethodPost, "/signin", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.AddCookie(&http.Cookie{Name: "csrf", Value: "token"})
		rr := httptest.NewRecorder()
		mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "a@b.com", r.PostFormValue("email"))
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("rejects mismatched form field", func(t *testing.T) {
		form := url.Values{CSRFFormField: {"other"}}
		req := httptest.NewRequest(http.MethodPost, "/signin", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.AddCookie(&http.Cookie{Name: "csrf", Value: "token"})
		rr := httptest.NewRecorder()
		mw(ok).ServeHTTP(rr, req)
		require.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestHTMXMiddleware(t *testing.T) {
	var info HTMXInfo
	var isHTMX bool
	handler := HTMX()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info = HTMXInfoFromContext(r.Context())
		isHTMX = IsHTMXRequest(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/signin", nil)
	req.Header.Set("HX-Request", "true")
	req.Header.Set("HX-Target", "signin-form")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.True(t, isHTMX)
	require.Equal(t, "signin-form", info.Target)
	require.Equal(t, "HX-Request", rr.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/signin", nil)
	req.Header.Set("HX-Request", "true")
	req.Header.Set("HX-History-Restore-Request", "true")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.False(t, isHTMX, "history restore expects a full page")
}

func TestEnvironmentMiddleware(t *testing.T) {
	var label string
	handler := Environment("  ")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		label = EnvironmentFromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "Development", label)

	require.Equal(t, "Development", EnvironmentFromContext(context.Background()))
	require.True(t, IsProduction("Production"))
	require.False(t, IsProduction("Staging"))
}

func TestNoStoreMiddleware(t *testing.T) {
	handler := NoStore()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, "no-store, max-age=0", rr.Header().Get("Cache-Control"))
	require.Equal(t, "no-cache", rr.Header().Get("Pragma"))
	require.Equal(t, http.StatusOK, rr.Code)
}
