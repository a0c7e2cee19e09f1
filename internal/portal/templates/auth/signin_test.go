package auth

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/a-h/templ"
	"github.com/stretchr/testify/require"

	"finitefield.org/tickerdesk/internal/portal/validation"
)

func render(t *testing.T, c templ.Component) *goquery.Document {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Render(context.Background(), &buf))
	doc, err := goquery.NewDocumentFromReader(&buf)
	require.NoError(t, err)
	return doc
}

func TestSignInPageRendersForm(t *testing.T) {
	t.Parallel()

	doc := render(t, SignInPage(SignInPageData{
		CSRFToken:   "csrf-123",
		Next:        "/watchlists",
		Environment: "Development",
	}))

	form := doc.Find("form#signin-form")
	require.Equal(t, 1, form.Length())
	require.Equal(t, "/signin", form.AttrOr("action", ""))
	require.Equal(t, "/signin", form.AttrOr("hx-post", ""))
	require.Equal(t, "csrf-123", form.Find("input[name='csrf_token']").AttrOr("value", ""))
	require.Equal(t, "/watchlists", form.Find("input[name='next']").AttrOr("value", ""))
	require.Equal(t, "email", form.Find("input[name='email']").AttrOr("type", ""))
	require.Equal(t, "password", form.Find("input[name='password']").AttrOr("type", ""))

	button := form.Find("button[data-signin-submit]")
	_, disabled := button.Attr("disabled")
	require.False(t, disabled)
	require.Equal(t, "Sign in", strings.TrimSpace(button.Find(".label-idle").Text()))

	require.Equal(t, "/forgot", doc.Find("a[data-link-forgot]").AttrOr("href", ""))
	require.Equal(t, "/signup", doc.Find("a[data-link-signup]").AttrOr("href", ""))
	require.Equal(t, 0, doc.Find("[data-signin-failure]").Length())
	require.Equal(t, 0, doc.Find("[data-field-error]").Length())
}

func TestSignInFormShowsErrorsAndFailure(t *testing.T) {
	t.Parallel()

	doc := render(t, SignInForm(SignInPageData{
		Email: `x"><script>alert(1)</script>`,
		Errors: validation.Errors{
			validation.FieldEmail: "Please enter a valid email address.",
		},
		Failure: "The email address or password is incorrect.",
	}))

	require.Equal(t, 0, doc.Find("script").Length(), "user input must be escaped")
	email := doc.Find("input[name='email']")
	require.Equal(t, `x"><script>alert(1)</script>`, email.AttrOr("value", ""))
	require.Equal(t, "true", email.AttrOr("aria-invalid", ""))
	require.Equal(t, "Please enter a valid email address.", doc.Find("[data-field-error='email']").Text())
	require.Equal(t, 0, doc.Find("[data-field-error='password']").Length())
	require.Equal(t, "The email address or password is incorrect.", strings.TrimSpace(doc.Find("[data-signin-failure]").Text()))

	_, hasValue := doc.Find("input[name='password']").Attr("value")
	require.False(t, hasValue, "password must never be echoed")
}

func TestSignInFormSubmittingDisablesButton(t *testing.T) {
	t.Parallel()

	doc := render(t, SignInForm(SignInPageData{Submitting: true}))
	button := doc.Find("button[data-signin-submit]")
	_, disabled := button.Attr("disabled")
	require.True(t, disabled)
	require.Equal(t, "Loading...", strings.TrimSpace(button.Text()))
}

func TestLoadingPageHidesForm(t *testing.T) {
	t.Parallel()

	doc := render(t, LoadingPage(SignInPageData{Environment: "Staging"}))
	require.Equal(t, 0, doc.Find("form").Length())
	require.Equal(t, 1, doc.Find("[data-signin-placeholder]").Length())
	require.Equal(t, "2", doc.Find("meta[http-equiv='refresh']").AttrOr("content", ""))
}
