package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/a-h/templ"
	"go.uber.org/zap"

	custommw "finitefield.org/tickerdesk/internal/portal/httpserver/middleware"
	"finitefield.org/tickerdesk/internal/portal/identity"
	"finitefield.org/tickerdesk/internal/portal/observability"
	appsession "finitefield.org/tickerdesk/internal/portal/session"
	"finitefield.org/tickerdesk/internal/portal/signin"
	"finitefield.org/tickerdesk/internal/portal/submission"
	"finitefield.org/tickerdesk/internal/portal/templates/auth"
	"finitefield.org/tickerdesk/internal/portal/templates/home"
)

type signinOptions struct {
	Backend      identity.Backend
	Submissions  submission.Registry
	LoginTimeout time.Duration
	CookieSecure bool
}

type signinHandlers struct {
	backend      identity.Backend
	submissions  submission.Registry
	timeout      time.Duration
	cookieSecure bool
}

func newSigninHandlers(opts signinOptions) *signinHandlers {
	if opts.Backend == nil {
		panic("signin: backend is required")
	}
	if opts.Submissions == nil {
		panic("signin: submission registry is required")
	}
	return &signinHandlers{
		backend:      opts.Backend,
		submissions:  opts.Submissions,
		timeout:      opts.LoginTimeout,
		cookieSecure: opts.CookieSecure,
	}
}

// redirectNavigator records the navigation requested by the sign-in flow so the handler
// can turn it into an HTTP redirect.
type redirectNavigator struct {
	target string
}

func (n *redirectNavigator) Navigate(target string) {
	if n.target == "" {
		n.target = target
	}
}

// SignInForm renders the sign-in page, the loading placeholder, or redirects an already
// authenticated viewer.
func (h *signinHandlers) SignInForm(w http.ResponseWriter, r *http.Request) {
	sess, _ := custommw.SessionFromContext(r.Context())
	target := redirectTarget(r.URL.Query().Get("next"))

	authenticated := h.reconcile(r, sess)
	nav := &redirectNavigator{}
	decision := signin.NewGuard(nav, target).Observe(authenticated, h.status(r.Context(), sess))

	switch {
	case decision.Redirect && nav.target != "":
		h.redirect(w, r, nav.target)
	case decision.ShowPlaceholder:
		render(w, r, auth.LoadingPage(h.pageData(r)), http.StatusOK)
	default:
		data := h.pageData(r)
		if sess != nil {
			data.Email = sess.LastEmail()
		}
		data.Notice = signin.NoticeForQuery(r.URL.Query().Get("status"), r.URL.Query().Get("reason"))
		render(w, r, auth.SignInPage(data), http.StatusOK)
	}
}

// SignInSubmit drives one sign-in attempt from the posted form.
func (h *signinHandlers) SignInSubmit(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())
	sess, _ := custommw.SessionFromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		logger.Info("sign-in form unreadable", zap.Error(err))
		data := h.pageData(r)
		data.Failure = signin.FailureMessage(signin.ReasonBadForm)
		h.renderForm(w, r, data, http.StatusBadRequest)
		return
	}

	email := r.PostFormValue("email")
	next := normalizeNext(r.PostFormValue("next"))
	target := redirectTarget(next)

	if h.reconcile(r, sess) {
		h.redirect(w, r, target)
		return
	}

	data := h.pageData(r)
	data.Email = email
	data.Next = next

	// Held only while Submit runs; the login budget bounds Submit even when the backend
	// ignores cancellation.
	key := ""
	if sess != nil {
		key = sess.ID()
	}
	release, err := h.submissions.Acquire(r.Context(), key)
	if err != nil {
		reason := identity.ReasonUnavailable
		status := http.StatusServiceUnavailable
		if errors.Is(err, submission.ErrInFlight) {
			reason = signin.ReasonInProgress
			status = http.StatusConflict
		} else {
			logger.Error("submission registry unavailable", zap.Error(err))
		}
		data.Failure = signin.FailureMessage(reason)
		h.renderForm(w, r, data, status)
		return
	}

	nav := &redirectNavigator{}
	page := signin.NewPage(h.backend, nav,
		signin.WithLogger(logger),
		signin.WithTimeout(h.timeout),
		signin.WithLanding(target),
	)
	page.SetEmail(email)
	page.SetPassword(r.PostFormValue("password"))

	state, err := page.Submit(r.Context())
	release()
	snap := page.Snapshot()
	data.Email = snap.Email

	switch {
	case errors.Is(err, signin.ErrSubmitInProgress):
		data.Failure = signin.FailureMessage(signin.ReasonInProgress)
		h.renderForm(w, r, data, http.StatusConflict)

	case state == signin.StateIdle:
		data.Errors = snap.Errors
		h.renderForm(w, r, data, http.StatusUnprocessableEntity)

	case state == signin.StateSucceeded:
		outcome := snap.Outcome
		if sess != nil {
			sess.SetUser(custommw.SessionUser(outcome.User))
			sess.SetAuthPhase(string(signin.PhaseSucceeded))
			sess.SetLastEmail(snap.Email)
		}
		h.setTokenCookie(w, r, outcome)
		h.redirect(w, r, nav.target)

	default:
		if sess != nil {
			sess.SetAuthPhase(string(signin.PhaseFor(state)))
			sess.SetLastEmail(snap.Email)
		}
		data.Failure = snap.Failure
		h.renderForm(w, r, data, statusForReason(snap.Reason))
	}
}

// Logout destroys the session and the token cookie.
func (h *signinHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := custommw.SessionFromContext(r.Context()); ok {
		sess.Destroy()
	}
	h.clearTokenCookie(w, r)

	h.redirect(w, r, signInURLWithParams(map[string]string{"status": "signed_out"}))
}

// Home renders the landing page for the authenticated user.
func (h *signinHandlers) Home(w http.ResponseWriter, r *http.Request) {
	user, _ := custommw.UserFromContext(r.Context())
	data := home.PageData{
		CSRFToken:   custommw.CSRFTokenFromContext(r.Context()),
		Environment: custommw.EnvironmentFromContext(r.Context()),
		LogoutPath:  logoutPath,
	}
	if user != nil {
		data.DisplayName = user.DisplayName
		data.Email = user.Email
	}
	render(w, r, home.Page(data), http.StatusOK)
}

// reconcile computes the authentication signal from the token cookie and aligns the
// session with it. A session user without a valid token is cleared.
func (h *signinHandlers) reconcile(r *http.Request, sess *appsession.Session) bool {
	user, reason, err := custommw.Authenticate(r, h.backend)
	if err != nil {
		if sess != nil && sess.User() != nil {
			observability.FromContext(r.Context()).Info("clearing stale session user", zap.String("reason", reason))
			sess.SetUser(nil)
			if signin.ParsePhase(sess.AuthPhase()) == signin.PhaseSucceeded {
				sess.SetAuthPhase(string(signin.PhaseIdle))
			}
		}
		return false
	}
	if sess != nil {
		sess.SetUser(custommw.SessionUser(user))
	}
	return true
}

func (h *signinHandlers) status(ctx context.Context, sess *appsession.Session) signin.Status {
	if sess == nil {
		return signin.Status{Phase: signin.PhaseIdle}
	}
	phase := signin.ParsePhase(sess.AuthPhase())
	if h.submissions.InFlight(ctx, sess.ID()) {
		phase = signin.PhaseLoading
	}
	return signin.Status{
		IsSignedIn: sess.User() != nil,
		Phase:      phase,
	}
}

func (h *signinHandlers) pageData(r *http.Request) auth.SignInPageData {
	return auth.SignInPageData{
		Next:        normalizeNext(r.URL.Query().Get("next")),
		CSRFToken:   custommw.CSRFTokenFromContext(r.Context()),
		Environment: custommw.EnvironmentFromContext(r.Context()),
		SignInPath:  signInPath,
	}
}

func (h *signinHandlers) renderForm(w http.ResponseWriter, r *http.Request, data auth.SignInPageData, status int) {
	if custommw.IsHTMXRequest(r.Context()) {
		render(w, r, auth.SignInForm(data), status)
		return
	}
	render(w, r, auth.SignInPage(data), status)
}

func (h *signinHandlers) redirect(w http.ResponseWriter, r *http.Request, target string) {
	if target == "" {
		target = landingPath
	}
	if custommw.IsHTMXRequest(r.Context()) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	status := http.StatusSeeOther
	if r.Method == http.MethodGet {
		status = http.StatusFound
	}
	http.Redirect(w, r, target, status)
}

func (h *signinHandlers) setTokenCookie(w http.ResponseWriter, r *http.Request, outcome *identity.Outcome) {
	token := ""
	if outcome != nil {
		token = outcome.Token
		if token == "" && outcome.User != nil {
			token = outcome.User.Token
		}
	}
	if strings.TrimSpace(token) == "" {
		h.clearTokenCookie(w, r)
		return
	}
	cookie := &http.Cookie{
		Name:     custommw.TokenCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
	if !outcome.ExpiresAt.IsZero() {
		expiry := outcome.ExpiresAt.UTC()
		cookie.Expires = expiry
		if remaining := time.Until(expiry); remaining > 0 {
			cookie.MaxAge = int(remaining.Round(time.Second).Seconds())
		}
	}
	http.SetCookie(w, cookie)
}

func (h *signinHandlers) clearTokenCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     custommw.TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.cookieSecure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func statusForReason(reason string) int {
	switch reason {
	case identity.ReasonInvalidCredentials, identity.ReasonUserDisabled,
		identity.ReasonTokenInvalid, identity.ReasonTokenExpired, identity.ReasonMissingToken:
		return http.StatusUnauthorized
	case identity.ReasonRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

func render(w http.ResponseWriter, r *http.Request, c templ.Component, status int) {
	templ.Handler(c, templ.WithStatus(status)).ServeHTTP(w, r)
}

func signInURLWithParams(params map[string]string) string {
	q := url.Values{}
	for key, val := range params {
		if strings.TrimSpace(val) != "" {
			q.Set(key, val)
		}
	}
	if len(q) == 0 {
		return signInPath
	}
	return signInPath + "?" + q.Encode()
}
